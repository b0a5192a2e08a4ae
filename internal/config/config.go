// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pricewatchbd/crawler/internal/controller"
	"github.com/pricewatchbd/crawler/internal/scheduler"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	DB       DBConfig       `mapstructure:"db"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlConfig governs the per-run crawl scope.
type CrawlConfig struct {
	Site      string `mapstructure:"site"`
	SeedURL   string `mapstructure:"seed_url"`
	OutputDir string `mapstructure:"output_dir"`
	ItemLimit int    `mapstructure:"item_limit"`
	Workers   int    `mapstructure:"workers"`
}

// ThrottleConfig tunes the per-host adaptive delay.
type ThrottleConfig struct {
	TargetConcurrency float64 `mapstructure:"target_concurrency"`
	StartDelayMs      int     `mapstructure:"start_delay_ms"`
	DelayFloorMs      int     `mapstructure:"delay_floor_ms"`
	DelayCeilingMs    int     `mapstructure:"delay_ceiling_ms"`
}

// HTTPConfig configures the fetch layer.
type HTTPConfig struct {
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	MaxRetries      int    `mapstructure:"max_retries"`
	MaxConcurrency  int    `mapstructure:"max_concurrency"`
	PerHostMax      int    `mapstructure:"per_host_max"`
	MaxConnsPerHost int    `mapstructure:"max_conns_per_host"`
	UserAgent       string `mapstructure:"user_agent"`
	RotateAgents    bool   `mapstructure:"rotate_agents"`
}

// DBConfig controls the optional Postgres product store.
type DBConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.site", "startech")
	v.SetDefault("crawl.output_dir", "output")
	v.SetDefault("crawl.item_limit", 0)
	v.SetDefault("crawl.workers", 4)
	v.SetDefault("throttle.target_concurrency", 4.0)
	v.SetDefault("throttle.start_delay_ms", 1000)
	v.SetDefault("throttle.delay_floor_ms", 0)
	v.SetDefault("throttle.delay_ceiling_ms", 60000)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.max_concurrency", 16)
	v.SetDefault("http.per_host_max", 8)
	v.SetDefault("http.max_conns_per_host", 8)
	v.SetDefault("http.rotate_agents", true)
	v.SetDefault("db.enabled", false)
	v.SetDefault("db.table", "products")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.Site == "" {
		return fmt.Errorf("crawl.site must be set")
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.Crawl.ItemLimit < 0 {
		return fmt.Errorf("crawl.item_limit must be >= 0")
	}
	if c.Throttle.TargetConcurrency <= 0 {
		return fmt.Errorf("throttle.target_concurrency must be > 0")
	}
	if c.Throttle.DelayCeilingMs < c.Throttle.DelayFloorMs {
		return fmt.Errorf("throttle.delay_ceiling_ms must be >= throttle.delay_floor_ms")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.DB.Enabled && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db is enabled")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the status server is enabled")
	}
	return nil
}

// SchedulerConfig maps the throttle and HTTP knobs onto scheduler pacing.
func (c Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		MaxConcurrency:     c.HTTP.MaxConcurrency,
		PerHostConcurrency: c.HTTP.PerHostMax,
		TargetConcurrency:  c.Throttle.TargetConcurrency,
		StartDelay:         time.Duration(c.Throttle.StartDelayMs) * time.Millisecond,
		DelayFloor:         time.Duration(c.Throttle.DelayFloorMs) * time.Millisecond,
		DelayCeiling:       time.Duration(c.Throttle.DelayCeilingMs) * time.Millisecond,
		MaxRetries:         c.HTTP.MaxRetries,
	}
}

// FetcherConfig maps the HTTP knobs onto the colly fetch layer.
func (c Config) FetcherConfig() scheduler.CollyConfig {
	var agents []string
	if c.HTTP.RotateAgents {
		agents = scheduler.DefaultUserAgents
	}
	return scheduler.CollyConfig{
		UserAgent:       c.HTTP.UserAgent,
		RotateAgents:    agents,
		RequestTimeout:  time.Duration(c.HTTP.TimeoutSeconds) * time.Second,
		MaxConnsPerHost: c.HTTP.MaxConnsPerHost,
	}
}

// ControllerConfig maps the crawl scope onto the controller.
func (c Config) ControllerConfig() controller.Config {
	return controller.Config{
		Site:      c.Crawl.Site,
		SeedURL:   c.Crawl.SeedURL,
		OutputDir: c.Crawl.OutputDir,
		ItemLimit: c.Crawl.ItemLimit,
		Workers:   c.Crawl.Workers,
	}
}
