package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	TargetDir    string `envconfig:"TARGET_DIR" required:"true"`
	ManifestPath string `envconfig:"MANIFEST_PATH" required:"true"`
	SummaryDir   string `envconfig:"SUMMARY_DIR"`
	DBPath       string `envconfig:"DB_PATH" default:"batches.db"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"INFO"`

	// UpdateInterval of 0 runs a single batch and exits.
	UpdateInterval time.Duration `envconfig:"UPDATE_INTERVAL" default:"0"`
	WebhookURL     string        `envconfig:"WEBHOOK_URL"`

	MaxParallel    int `envconfig:"MAX_PARALLEL" default:"3"`
	CallsPerMinute int `envconfig:"CALLS_PER_MINUTE" default:"60"`

	ChunkSize      int               `envconfig:"CHUNK_SIZE" default:"32768"`
	RequestTimeout time.Duration     `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	UserAgent      string            `envconfig:"USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"`
	ExtraHeaders   map[string]string `envconfig:"EXTRA_HEADERS"`

	RetryAttempts     int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryInitialDelay time.Duration `envconfig:"RETRY_INITIAL_DELAY" default:"1s"`
	RetryMaxDelay     time.Duration `envconfig:"RETRY_MAX_DELAY" default:"10s"`

	CleanupEnabled bool          `envconfig:"CLEANUP_ENABLED" default:"true"`
	StaleAfter     time.Duration `envconfig:"STALE_AFTER" default:"24h"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"batch_downloader"`
		Exporter     string `split_words:"true" default:"prometheus"`
		OtlpEndpoint string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9091"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
// A .env file in the working directory, when present, is loaded first.
func LoadConfig() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.SummaryDir == "" {
		cfg.SummaryDir = cfg.TargetDir
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
