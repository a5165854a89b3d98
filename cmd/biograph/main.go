package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"biograph/internal/app"
	"biograph/internal/config"
	"biograph/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "biograph",
	Short: "BioGraph analysis session orchestrator",
	Long: `biograph drives drug-candidate analysis sessions against a BioGraph
analysis service: single-molecule scans, automated batch discovery and
uploaded libraries, with a local history and a result assistant.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger = logging.New(logging.Options{
			FilePath:   cfg.LogFile,
			Production: cfg.Production(),
			Verbose:    verbose,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "biograph.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd, scanCmd, historyCmd, settingsCmd)
}

// withApp builds the application for one command and tears it down after.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close app", zap.Error(err))
		}
	}()
	return fn(a)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
