package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	return &Config{
		DatabaseDriver: "sqlite3",
		DatabaseURL:    "massmail.db",
		SpoolDir:       t.TempDir(),
		WorkersPerJob:  5,
		MaxSendRetries: 3,
		QueueCapacity:  64,
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig(t).Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.WorkersPerJob = 0 }},
		{"negative retries", func(c *Config) { c.MaxSendRetries = -1 }},
		{"negative stale age", func(c *Config) { c.StaleWorkerAgeDays = -1 }},
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "mysql" }},
		{"missing spool dir", func(c *Config) { c.SpoolDir = "/definitely/not/here" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	spool := t.TempDir()
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	t.Setenv("DATABASE_URL", "massmail.db")
	t.Setenv("SPOOL_DIR", spool)
	t.Setenv("WORKERS_PER_JOB", "7")
	t.Setenv("RETRY_FAILURE_CODES", "421,450,451")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.DatabaseDriver)
	assert.Equal(t, spool, cfg.SpoolDir)
	assert.Equal(t, 7, cfg.WorkersPerJob)
	assert.Equal(t, []string{"421", "450", "451"}, cfg.RetryFailureCodes)
	assert.Equal(t, 3, cfg.MaxSendRetries, "default applies")
}
