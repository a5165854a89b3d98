package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	// FilePath enables a rotated JSON log file when set.
	FilePath string
	// Production switches the console encoder to JSON.
	Production bool
	Verbose    bool
}

// New builds the process logger: console output plus an optional
// rotated JSON file.
func New(opts Options) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "message"
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	jsonEncoder := zapcore.NewJSONEncoder(encoderConfig)

	consoleLevel := zap.InfoLevel
	if opts.Verbose {
		consoleLevel = zap.DebugLevel
	}
	var consoleEncoder zapcore.Encoder
	if opts.Production {
		consoleEncoder = jsonEncoder
	} else {
		consoleEncoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), consoleLevel),
	}

	if path := strings.TrimSpace(opts.FilePath); path != "" {
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(rotator), zap.InfoLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
