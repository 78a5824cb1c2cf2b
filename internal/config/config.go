// Package config loads and validates monitor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Discord   DiscordConfig   `mapstructure:"discord"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// CrawlerConfig governs the browser crawl pipeline.
type CrawlerConfig struct {
	AuthStatePath      string `mapstructure:"auth_state_path"`
	NavTimeoutSeconds  int    `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs      int    `mapstructure:"settle_delay_ms"`
	PageDelayMs        int    `mapstructure:"page_delay_ms"`
	RateLimitBackoffMs int    `mapstructure:"rate_limit_backoff_ms"`
	CorrectTimes       bool   `mapstructure:"correct_times"`
	MaxHistoryPages    int    `mapstructure:"max_history_pages"`
}

// DiscordConfig holds the webhook sink and its rate limits.
type DiscordConfig struct {
	WebhookURL         string  `mapstructure:"webhook_url"`
	RequestsPerSecond  float64 `mapstructure:"requests_per_second"`
	RequestsPerMinute  int     `mapstructure:"requests_per_minute"`
	BurstSize          int     `mapstructure:"burst_size"`
	SendTimeoutSeconds int     `mapstructure:"send_timeout_seconds"`
}

// SchedulerConfig tunes the periodic check driver.
type SchedulerConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	TickSeconds      int  `mapstructure:"tick_seconds"`
	SummaryTimeoutMs int  `mapstructure:"summary_timeout_ms"`
}

// LoggingConfig toggles zap development features and DB log persistence.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	Persist     bool `mapstructure:"persist"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NGAMON")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.auth_state_path", "data/storage_state.json")
	v.SetDefault("crawler.nav_timeout_seconds", 30)
	v.SetDefault("crawler.settle_delay_ms", 2000)
	v.SetDefault("crawler.page_delay_ms", 2000)
	v.SetDefault("crawler.rate_limit_backoff_ms", 10000)
	v.SetDefault("crawler.correct_times", true)
	v.SetDefault("crawler.max_history_pages", 50)
	v.SetDefault("discord.requests_per_second", 0.5)
	v.SetDefault("discord.requests_per_minute", 30)
	v.SetDefault("discord.burst_size", 2)
	v.SetDefault("discord.send_timeout_seconds", 30)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick_seconds", 30)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.persist", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.AuthStatePath == "" {
		return fmt.Errorf("crawler.auth_state_path must be set")
	}
	if c.Crawler.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.nav_timeout_seconds must be > 0")
	}
	if c.Crawler.MaxHistoryPages <= 0 {
		return fmt.Errorf("crawler.max_history_pages must be > 0")
	}
	if c.Discord.RequestsPerSecond <= 0 || c.Discord.RequestsPerMinute <= 0 {
		return fmt.Errorf("discord rate limits must be > 0")
	}
	if c.Scheduler.Enabled && c.Scheduler.TickSeconds <= 0 {
		return fmt.Errorf("scheduler.tick_seconds must be > 0 when the scheduler is enabled")
	}
	return nil
}

// NavTimeout converts the configured crawl timeout into a duration.
func (c CrawlerConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// SendTimeout is the per-notification limiter wait as a duration.
func (c DiscordConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// Tick converts the scheduler cadence into a duration.
func (c SchedulerConfig) Tick() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}
