package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ----------------------------
	// Storage
	// ----------------------------
	DatabaseDriver string `envconfig:"DATABASE_DRIVER" default:"postgres"`
	DatabaseURL    string `envconfig:"DATABASE_URL" required:"true"`

	// ----------------------------
	// Recipient spool
	// ----------------------------
	SpoolDir string `envconfig:"SPOOL_DIR" default:"./spool"`

	// ----------------------------
	// Orchestration
	// ----------------------------
	WorkersPerJob      int      `envconfig:"WORKERS_PER_JOB" default:"5"`
	MaxSendRetries     int      `envconfig:"MAX_SEND_RETRIES" default:"3"`
	RetryFailureCodes  []string `envconfig:"RETRY_FAILURE_CODES" default:""`
	StaleWorkerAgeDays int      `envconfig:"STALE_WORKER_AGE_DAYS" default:"5"`
	QueueCapacity      int      `envconfig:"QUEUE_CAPACITY" default:"1024"`
	RateLimit          int      `envconfig:"RATE_LIMIT" default:"10"`

	// ----------------------------
	// Notifications
	// ----------------------------
	JobDetailsURL string `envconfig:"JOB_DETAILS_URL" default:""`

	// ----------------------------
	// SMTP defaults (per-recipient SMTP_JSON overrides these)
	// ----------------------------
	SMTPHost     string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"25"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"8080"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects option values the orchestration core cannot run with.
func (c *Config) Validate() error {
	if c.WorkersPerJob < 1 {
		return fmt.Errorf("WORKERS_PER_JOB must be at least 1, got %d", c.WorkersPerJob)
	}
	if c.MaxSendRetries < 0 {
		return fmt.Errorf("MAX_SEND_RETRIES must not be negative, got %d", c.MaxSendRetries)
	}
	if c.StaleWorkerAgeDays < 0 {
		return fmt.Errorf("STALE_WORKER_AGE_DAYS must not be negative, got %d", c.StaleWorkerAgeDays)
	}
	if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite3" {
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite3, got %q", c.DatabaseDriver)
	}
	if info, err := os.Stat(c.SpoolDir); err != nil || !info.IsDir() {
		return fmt.Errorf("SPOOL_DIR %q is not a readable directory", c.SpoolDir)
	}
	return nil
}
