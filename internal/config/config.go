package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	RadarrURL    string `env:"RADARR_URL,required,notEmpty"`
	RadarrAPIKey string `env:"RADARR_API_KEY,required,notEmpty"`

	Port    int    `env:"PORT"     envDefault:"8000"`
	DBPath  string `env:"DB_PATH"  envDefault:"radarss.sqlite"`
	FeedDir string `env:"FEED_DIR" envDefault:"feeds"`

	RefreshFrequency time.Duration `env:"REFRESH_FREQUENCY" envDefault:"30m"`
	CacheTTL         time.Duration `env:"CACHE_TTL"         envDefault:"15m"`

	CalendarDaysAhead   int  `env:"CALENDAR_DAYS_AHEAD"   envDefault:"90"`
	CalendarUnmonitored bool `env:"CALENDAR_UNMONITORED"  envDefault:"true"`
	QueuePageSize       int  `env:"QUEUE_PAGE_SIZE"       envDefault:"100"`
	QueueIncludeUnknown bool `env:"QUEUE_INCLUDE_UNKNOWN" envDefault:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.RadarrURL = strings.TrimRight(strings.TrimSpace(cfg.RadarrURL), "/")
	cfg.RadarrAPIKey = strings.TrimSpace(cfg.RadarrAPIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.RadarrURL)
	if err != nil {
		return fmt.Errorf("parse RADARR_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("RADARR_URL must use http or https, got %q", c.RadarrURL)
	}
	if u.Host == "" {
		return fmt.Errorf("RADARR_URL has no host: %q", c.RadarrURL)
	}

	if c.RefreshFrequency <= 0 {
		return errors.New("REFRESH_FREQUENCY must be positive")
	}
	if c.CacheTTL <= 0 {
		return errors.New("CACHE_TTL must be positive")
	}
	if c.CalendarDaysAhead <= 0 {
		return errors.New("CALENDAR_DAYS_AHEAD must be positive")
	}
	if c.QueuePageSize <= 0 {
		return errors.New("QUEUE_PAGE_SIZE must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}

	return nil
}
