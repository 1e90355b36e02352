// Package config defines the bot configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by environment variables.
type Config struct {
	Binance  BinanceConfig  `toml:"binance"`
	Agent    AgentConfig    `toml:"agent"`
	Trading  TradingConfig  `toml:"trading"`
	Account  AccountConfig  `toml:"account"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Log      LogConfig      `toml:"log"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BinanceConfig holds USDⓈ-M futures credentials and endpoints. The secret
// comes either in plain text or from an encrypted file.
type BinanceConfig struct {
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	Testnet             bool     `toml:"testnet"`
	BaseURL             string   `toml:"base_url"`
	StreamURL           string   `toml:"stream_url"`
	MarginAsset         string   `toml:"margin_asset"`
	RecvWindow          duration `toml:"recv_window"`
}

// AgentConfig configures the LLM decision provider.
type AgentConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Model   string   `toml:"model"`
	Timeout duration `toml:"timeout"`
	// CallsPerMinute caps provider calls across processes through Redis.
	// Zero disables the cap.
	CallsPerMinute int `toml:"calls_per_minute"`
}

// TradingConfig holds the cycle parameters.
type TradingConfig struct {
	Symbols           []string `toml:"symbols"`
	Interval          duration `toml:"interval"`
	KlineInterval     string   `toml:"kline_interval"`
	KlineLimit        int      `toml:"kline_limit"`
	Leverage          int      `toml:"leverage"`
	MinAmount         float64  `toml:"min_amount"`
	MaxAmount         float64  `toml:"max_amount"`
	MaxPosition       float64  `toml:"max_position"`
	PortfolioStrategy string   `toml:"portfolio_strategy"`
	AnalysisFailure   string   `toml:"analysis_failure"`
	CycleTimeout      duration `toml:"cycle_timeout"`
	// DataDir holds the JSONL journals and performance.json.
	DataDir string `toml:"data_dir"`
}

// AccountConfig tunes the account stream session.
type AccountConfig struct {
	FirstPushWait     duration `toml:"first_push_wait"`
	KeepaliveInterval duration `toml:"keepalive_interval"`
	BackoffBase       duration `toml:"backoff_base"`
	BackoffMax        duration `toml:"backoff_max"`
	RestartPause      duration `toml:"restart_pause"`
}

// PostgresConfig holds the optional trade database.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the optional Redis connection.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds the optional archive bucket.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	ArchiveAfter   duration `toml:"archive_after"`
}

// ServerConfig holds the status API settings.
type ServerConfig struct {
	Enabled    bool     `toml:"enabled"`
	Port       int      `toml:"port"`
	APIKey     string   `toml:"api_key"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
	Tag               string   `toml:"tag"`
}

// LogConfig controls the optional rotating log file.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// duration decodes TOML strings like "15m" into a time.Duration.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration, matching config.example.toml.
func Defaults() Config {
	return Config{
		Binance: BinanceConfig{
			MarginAsset: "USDT",
			RecvWindow:  duration{5 * time.Second},
		},
		Agent: AgentConfig{
			BaseURL: "https://api.deepseek.com",
			Model:   "deepseek-chat",
			Timeout: duration{60 * time.Second},
		},
		Trading: TradingConfig{
			Symbols:           []string{"BTCUSDT"},
			Interval:          duration{15 * time.Minute},
			KlineInterval:     "15m",
			KlineLimit:        100,
			Leverage:          10,
			MinAmount:         0.001,
			MaxAmount:         0.01,
			MaxPosition:       0.05,
			PortfolioStrategy: "balanced",
			AnalysisFailure:   "abort",
			DataDir:           "logs",
		},
		Account: AccountConfig{
			FirstPushWait:     duration{3 * time.Second},
			KeepaliveInterval: duration{30 * time.Minute},
			BackoffBase:       duration{5 * time.Second},
			BackoffMax:        duration{60 * time.Second},
			RestartPause:      duration{time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "perpbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			StreamMaxLen: 1000,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "perpbot-archive",
			ForcePathStyle: true,
			ArchiveAfter:   duration{30 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:    true,
			Port:       8080,
			RateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "trade_failed", "cycle_failed", "startup"},
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

var (
	validModes           = []string{"trade", "monitor"}
	validLogLevels       = []string{"debug", "info", "warn", "error"}
	validStrategies      = []string{"balanced", "aggressive", "conservative"}
	validFailurePolicies = []string{"abort", "exclude"}
	validKlineIntervals  = []string{"1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d"}
)

// Validate checks the configuration and reports every problem in one error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !slices.Contains(validModes, strings.ToLower(c.Mode)) {
		add("unknown mode %q (valid: %s)", c.Mode, strings.Join(validModes, ", "))
	}
	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		add("unknown log_level %q (valid: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Binance.APIKey == "" {
		add("binance: api_key is required")
	}
	if c.Binance.APISecret == "" && c.Binance.EncryptedSecretPath == "" {
		add("binance: api_secret or encrypted_secret_path is required")
	}
	if c.Binance.EncryptedSecretPath != "" && c.Binance.SecretPassword == "" {
		add("binance: secret_password is required with encrypted_secret_path")
	}
	if c.Binance.MarginAsset == "" {
		add("binance: margin_asset must not be empty")
	}

	if c.IsTrade() {
		c.validateTrading(add)
	}

	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			add("postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
		}
		if c.Postgres.Database == "" {
			add("postgres: database must not be empty")
		}
	}
	if c.Postgres.Enabled && c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		add("postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
		if !c.Postgres.Enabled {
			add("s3: archiving requires postgres.enabled")
		}
		if c.S3.ArchiveAfter.Duration <= 0 {
			add("s3: archive_after must be > 0")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit > 0 {
			if !c.Redis.Enabled {
				add("server: rate_limit requires redis.enabled")
			}
			if c.Server.RateWindow.Duration <= 0 {
				add("server: rate_window must be > 0")
			}
		}
	}
	if c.Agent.CallsPerMinute > 0 && !c.Redis.Enabled {
		add("agent: calls_per_minute requires redis.enabled")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) validateTrading(add func(string, ...any)) {
	t := c.Trading
	if c.Agent.APIKey == "" {
		add("agent: api_key is required for mode trade")
	}
	if len(t.Symbols) == 0 {
		add("trading: symbols must not be empty")
	}
	for _, s := range t.Symbols {
		if s != strings.ToUpper(s) || strings.TrimSpace(s) == "" {
			add("trading: symbol %q must be upper case", s)
		}
	}
	if t.Interval.Duration < time.Minute {
		add("trading: interval must be >= 1m, got %s", t.Interval.Duration)
	}
	if !slices.Contains(validKlineIntervals, t.KlineInterval) {
		add("trading: unknown kline_interval %q", t.KlineInterval)
	}
	if t.KlineLimit < 20 || t.KlineLimit > 1500 {
		add("trading: kline_limit must be 20-1500, got %d", t.KlineLimit)
	}
	if t.Leverage < 1 || t.Leverage > 125 {
		add("trading: leverage must be 1-125, got %d", t.Leverage)
	}
	if t.MinAmount <= 0 {
		add("trading: min_amount must be > 0")
	}
	if t.MaxAmount < t.MinAmount {
		add("trading: max_amount must be >= min_amount")
	}
	if t.MaxPosition < 0 {
		add("trading: max_position must be >= 0")
	}
	if !slices.Contains(validStrategies, t.PortfolioStrategy) {
		add("trading: unknown portfolio_strategy %q (valid: %s)", t.PortfolioStrategy, strings.Join(validStrategies, ", "))
	}
	if !slices.Contains(validFailurePolicies, t.AnalysisFailure) {
		add("trading: unknown analysis_failure %q (valid: %s)", t.AnalysisFailure, strings.Join(validFailurePolicies, ", "))
	}
	if t.CycleTimeout.Duration < 0 {
		add("trading: cycle_timeout must be >= 0")
	}
}

// IsTrade reports whether the bot places orders.
func (c *Config) IsTrade() bool {
	return strings.EqualFold(c.Mode, "trade")
}
