package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ServerURL      string        `env:"SERVER_URL" envDefault:"http://127.0.0.1:5000"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`
	PreviewRowCap  int           `env:"PREVIEW_ROW_CAP" envDefault:"100"`

	AutoAdvanceOnTrainSuccess bool `env:"AUTO_ADVANCE_ON_TRAIN_SUCCESS" envDefault:"true"`

	// ModelCatalog is a yaml file replacing the built in model catalog.
	ModelCatalog string `env:"MODEL_CATALOG"`

	GallerySource  string `env:"GALLERY_SOURCE" envDefault:"images"`
	GalleryWorkers int    `env:"GALLERY_WORKERS" envDefault:"4"`

	ConsolePort      int      `env:"CONSOLE_PORT" envDefault:"3001"`
	Root             string   `env:"ROOT" envDefault:"./forecastica"`
	SessionCacheSize int      `env:"SESSION_CACHE_SIZE" envDefault:"128"`
	AllowedOrigins   []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid SERVER_URL '%s': must be an absolute http(s) url", c.ServerURL)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("invalid REQUEST_TIMEOUT %v: must be positive", c.RequestTimeout)
	}

	if c.PreviewRowCap <= 0 {
		slog.Warn("invalid PREVIEW_ROW_CAP, using default", "value", c.PreviewRowCap, "default", 100)
		c.PreviewRowCap = 100
	}

	if c.GalleryWorkers <= 0 {
		c.GalleryWorkers = 1
	}

	if c.SessionCacheSize <= 0 {
		return fmt.Errorf("invalid SESSION_CACHE_SIZE %d: must be positive", c.SessionCacheSize)
	}

	return nil
}
