// Package config provides configuration management for the alert monitor.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Monitor       MonitorConfig      `mapstructure:"monitor"`
	Feed          FeedConfig         `mapstructure:"feed"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Server        ServerConfig       `mapstructure:"server"`
	Store         StoreConfig        `mapstructure:"store"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Alerts        []AlertConfig      `mapstructure:"alerts"`
}

// MonitorConfig holds polling configuration.
type MonitorConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	Kinds        []string      `mapstructure:"kinds"`
}

// FeedConfig holds market data endpoint configuration.
type FeedConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	StocksPath   string `mapstructure:"stocks_path"`
	CurrencyPath string `mapstructure:"currency_path"`
	UserAgent    string `mapstructure:"user_agent"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // all, alerts_only
	Terminal TerminalConfig `mapstructure:"terminal"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Email    EmailConfig    `mapstructure:"email"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// TerminalConfig holds terminal notification configuration.
type TerminalConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Bell    bool `mapstructure:"bell"`
	Color   bool `mapstructure:"color"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// EmailConfig holds email notification configuration.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// KafkaConfig holds the trigger event topic configuration.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ServerConfig holds the HTTP control API configuration.
type ServerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Addr           string        `mapstructure:"addr"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec"`
	Burst          int           `mapstructure:"burst"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// JWTSecret enables bearer token auth on /api/v1 when set.
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StoreConfig holds the trigger journal configuration.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// AlertConfig is an alert armed at startup. Threshold stays a string so it
// goes through the same validation as user input.
type AlertConfig struct {
	Kind      string `mapstructure:"kind"`
	ID        string `mapstructure:"id"`
	Threshold string `mapstructure:"threshold"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/stockalert"
	}
	return filepath.Join(home, ".config", "stockalert")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := newViper(configDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("creating config template: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	// Secrets may live in a .env file next to config.toml. Variables
	// already set in the environment win.
	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}
	applyEnvOverrides(cfg)
	applyDerivedDefaults(cfg, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	v := newViper("")
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	applyDerivedDefaults(cfg, DefaultConfigDir())
	return cfg
}

func newViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}

	v.SetDefault("monitor.interval", 300*time.Second)
	v.SetDefault("monitor.fetch_timeout", 10*time.Second)
	v.SetDefault("monitor.kinds", []string{"stock", "currency"})

	v.SetDefault("feed.base_url", "http://localhost:8000")
	v.SetDefault("feed.stocks_path", "/stocks")
	v.SetDefault("feed.currency_path", "/currency")
	v.SetDefault("feed.user_agent", "StockAlert/1.0")

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.level", "all")
	v.SetDefault("notifications.terminal.enabled", true)
	v.SetDefault("notifications.terminal.bell", true)
	v.SetDefault("notifications.terminal.color", true)
	v.SetDefault("notifications.email.smtp_port", 587)
	v.SetDefault("notifications.kafka.topic", "stockalert.triggers")
	v.SetDefault("notifications.kafka.write_timeout", 5*time.Second)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", "127.0.0.1:8090")
	v.SetDefault("server.requests_per_sec", 20.0)
	v.SetDefault("server.burst", 50)
	v.SetDefault("server.request_timeout", 15*time.Second)

	v.SetDefault("store.enabled", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", false)
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)

	return v
}

func applyDerivedDefaults(cfg *Config, configDir string) {
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(configDir, "history.db")
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = filepath.Join(configDir, "logs", "stockalert.log")
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STOCKALERT_FEED_URL"); v != "" {
		cfg.Feed.BaseURL = v
	}
	if v := os.Getenv("STOCKALERT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.Interval = d
		}
	}
	if v := os.Getenv("STOCKALERT_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("STOCKALERT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Notifications.Email.Password = v
	}
	if v := os.Getenv("STOCKALERT_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Notifications.Kafka.Brokers = strings.Split(v, ",")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if c.Monitor.FetchTimeout <= 0 {
		return fmt.Errorf("monitor.fetch_timeout must be positive")
	}
	for _, k := range c.Monitor.Kinds {
		if !validKind(k) {
			return fmt.Errorf("monitor.kinds: unknown kind %q", k)
		}
	}
	if c.Feed.BaseURL == "" {
		return fmt.Errorf("feed.base_url is required")
	}

	switch c.Notifications.Level {
	case "", "all", "alerts_only":
	default:
		return fmt.Errorf("invalid notification level: %s (must be 'all' or 'alerts_only')", c.Notifications.Level)
	}

	if k := c.Notifications.Kafka; k.Enabled && (len(k.Brokers) == 0 || k.Topic == "") {
		return fmt.Errorf("notifications.kafka needs brokers and a topic")
	}

	if c.Server.Enabled {
		if c.Server.Addr == "" {
			return fmt.Errorf("server.addr is required when the server is enabled")
		}
		if c.Server.RequestsPerSec <= 0 || c.Server.Burst <= 0 {
			return fmt.Errorf("server rate limit must be positive")
		}
	}

	for i, a := range c.Alerts {
		if !validKind(a.Kind) {
			return fmt.Errorf("alerts[%d]: unknown kind %q", i, a.Kind)
		}
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("alerts[%d]: id is required", i)
		}
	}

	return nil
}

func validKind(k string) bool {
	switch strings.ToLower(k) {
	case "stock", "stocks", "currency", "currencies":
		return true
	}
	return false
}
