package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"biograph/internal/kvstore"
)

// Assistant backends.
const (
	AssistantRemote = "remote"
	AssistantGemini = "gemini"
)

type Config struct {
	Env          string          `yaml:"env"`
	Port         string          `yaml:"port"`
	LogFile      string          `yaml:"log_file"`
	PollInterval time.Duration   `yaml:"poll_interval"`
	API          APIConfig       `yaml:"api"`
	Store        StoreConfig     `yaml:"store"`
	Assistant    AssistantConfig `yaml:"assistant"`
}

type APIConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type StoreConfig struct {
	Backend    string   `yaml:"backend"`
	Dir        string   `yaml:"dir"`
	DSN        string   `yaml:"dsn"`
	CacheItems int      `yaml:"cache_items"`
	S3         S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type AssistantConfig struct {
	// Provider is "remote" (the analysis service's chat endpoint) or "gemini".
	Provider string  `yaml:"provider"`
	APIKey   string  `yaml:"-"`
	Model    string  `yaml:"model"`
	RPS      float64 `yaml:"rps"`
}

func defaultConfig() *Config {
	return &Config{
		Env:          "local",
		Port:         ":8080",
		PollInterval: 500 * time.Millisecond,
		API: APIConfig{
			URL:     "http://127.0.0.1:8000",
			Timeout: 5 * time.Minute,
		},
		Store: StoreConfig{
			Backend:    kvstore.BackendFile,
			Dir:        ".biograph",
			CacheItems: 16,
			S3: S3Config{
				Region: "us-east-1",
				Bucket: "biograph",
			},
		},
		Assistant: AssistantConfig{
			Provider: AssistantRemote,
			Model:    "gemini-2.5-flash",
			RPS:      1,
		},
	}
}

// Load reads the optional YAML file at path, then applies .env and process
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = firstNonEmpty(env("APP_ENV"), cfg.Env)
	if port := env("PORT"); port != "" {
		cfg.Port = port
	}
	if !strings.HasPrefix(cfg.Port, ":") && !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	cfg.LogFile = firstNonEmpty(env("BIOGRAPH_LOG_FILE"), cfg.LogFile)
	cfg.PollInterval = envDuration("BIOGRAPH_POLL_INTERVAL", cfg.PollInterval)

	cfg.API.URL = strings.TrimRight(firstNonEmpty(env("BIOGRAPH_API_URL"), cfg.API.URL), "/")
	cfg.API.Timeout = envDuration("BIOGRAPH_HTTP_TIMEOUT", cfg.API.Timeout)

	cfg.Store.Backend = strings.ToLower(firstNonEmpty(env("BIOGRAPH_STORE"), cfg.Store.Backend))
	cfg.Store.Dir = firstNonEmpty(env("BIOGRAPH_DATA_DIR"), cfg.Store.Dir)
	cfg.Store.DSN = firstNonEmpty(env("BIOGRAPH_PG_DSN"), env("DATABASE_URL"), cfg.Store.DSN)
	cfg.Store.CacheItems = envInt("BIOGRAPH_STORE_CACHE", cfg.Store.CacheItems)
	cfg.Store.S3.Endpoint = firstNonEmpty(env("BIOGRAPH_S3_ENDPOINT"), cfg.Store.S3.Endpoint)
	cfg.Store.S3.Region = firstNonEmpty(env("BIOGRAPH_S3_REGION"), cfg.Store.S3.Region)
	cfg.Store.S3.AccessKey = firstNonEmpty(env("BIOGRAPH_S3_ACCESS_KEY"), env("MINIO_ROOT_USER"), cfg.Store.S3.AccessKey)
	cfg.Store.S3.SecretKey = firstNonEmpty(env("BIOGRAPH_S3_SECRET_KEY"), env("MINIO_ROOT_PASSWORD"), cfg.Store.S3.SecretKey)
	cfg.Store.S3.Bucket = firstNonEmpty(env("BIOGRAPH_S3_BUCKET"), cfg.Store.S3.Bucket)
	cfg.Store.S3.UseSSL = envBool("BIOGRAPH_S3_USE_SSL", cfg.Store.S3.UseSSL)

	cfg.Assistant.Provider = strings.ToLower(firstNonEmpty(env("BIOGRAPH_ASSISTANT"), cfg.Assistant.Provider))
	cfg.Assistant.APIKey = firstNonEmpty(env("GEMINI_API_KEY"), env("GOOGLE_API_KEY"), cfg.Assistant.APIKey)
	cfg.Assistant.Model = firstNonEmpty(env("BIOGRAPH_GEMINI_MODEL"), cfg.Assistant.Model)
	cfg.Assistant.RPS = envFloat("BIOGRAPH_ASSISTANT_RPS", cfg.Assistant.RPS)
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case kvstore.BackendFile, kvstore.BackendPostgres, kvstore.BackendS3, kvstore.BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Assistant.Provider {
	case AssistantRemote:
	case AssistantGemini:
		if c.Assistant.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini assistant")
		}
	default:
		return fmt.Errorf("unknown assistant provider %q", c.Assistant.Provider)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	return nil
}

// Production reports whether APP_ENV names a deployed environment.
func (c *Config) Production() bool {
	switch strings.ToLower(c.Env) {
	case "prod", "production":
		return true
	}
	return false
}

// KV converts the store section into kvstore options.
func (c StoreConfig) KV() kvstore.Config {
	return kvstore.Config{
		Backend:    c.Backend,
		Dir:        c.Dir,
		DSN:        c.DSN,
		CacheItems: c.CacheItems,
		S3: kvstore.S3Config{
			Endpoint:  c.S3.Endpoint,
			Region:    c.S3.Region,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey,
			Bucket:    c.S3.Bucket,
			Prefix:    c.S3.Prefix,
			UseSSL:    c.S3.UseSSL,
		},
	}
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func envDuration(key string, def time.Duration) time.Duration {
	raw := env(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(env(key))
	if err != nil {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(env(key), 64)
	if err != nil {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(env(key))
	if err != nil {
		return def
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
