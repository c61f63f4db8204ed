package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	LogLevel         string        `env:"TRIGGERCUT_LOG_LEVEL"         envDefault:"info"`
	FFmpeg           string        `env:"TRIGGERCUT_FFMPEG"            envDefault:"ffmpeg"`
	FFprobe          string        `env:"TRIGGERCUT_FFPROBE"           envDefault:"ffprobe"`
	TranscodeTimeout time.Duration `env:"TRIGGERCUT_TRANSCODE_TIMEOUT" envDefault:"10m"`
	Workers          int           `env:"TRIGGERCUT_WORKERS"           envDefault:"0"`
	Threshold        float64       `env:"TRIGGERCUT_THRESHOLD"         envDefault:"0.8"`
	MetricsAddr      string        `env:"TRIGGERCUT_METRICS_ADDR"`
	DatabaseURL      string        `env:"TRIGGERCUT_DB_URL"`

	Postgres Postgres
}

// Postgres holds the discrete connection settings used when no URL is given.
type Postgres struct {
	Host     string `env:"POSTGRES_HOST"`
	User     string `env:"POSTGRES_USER"`
	Password string `env:"POSTGRES_PASSWORD"`
	DB       string `env:"POSTGRES_DB"`
	Port     string `env:"POSTGRES_PORT" envDefault:"5432"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("TRIGGERCUT_THRESHOLD must be between 0.0 and 1.0, got %f", c.Threshold)
	}
	if c.Workers < 0 {
		return fmt.Errorf("TRIGGERCUT_WORKERS must be >= 0, got %d", c.Workers)
	}
	if c.TranscodeTimeout <= 0 {
		return fmt.Errorf("TRIGGERCUT_TRANSCODE_TIMEOUT must be positive, got %s", c.TranscodeTimeout)
	}
	return nil
}

// DatabaseConnString returns the configured URL, or one built from the
// POSTGRES_* variables. Empty means persistence is disabled.
func (c *Config) DatabaseConnString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.Postgres.Host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", c.Postgres.User, c.Postgres.Password, c.Postgres.Host, c.Postgres.Port, c.Postgres.DB)
}
