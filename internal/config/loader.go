package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (skipped when path is empty) over the
// defaults, loads .env if present, then applies environment overrides. The
// result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env is normal.
	_ = godotenv.Load()

	applyLegacyEnv(&cfg)
	applyEnvOverrides(&cfg)
	normalise(&cfg)

	return &cfg, nil
}

// applyLegacyEnv honours the variable names of the single-symbol bot this
// one replaces. PERPBOT_* variables win over these.
func applyLegacyEnv(cfg *Config) {
	setStr(&cfg.Binance.APIKey, "BINANCE_API_KEY")
	setStr(&cfg.Binance.APISecret, "BINANCE_SECRET")
	setStr(&cfg.Agent.APIKey, "DEEPSEEK_API_KEY")
	if v, ok := os.LookupEnv("BINANCE_TESTNET"); ok {
		cfg.Binance.Testnet = v == "true"
	}
	setStringSlice(&cfg.Trading.Symbols, "TRADE_SYMBOL")
	setStringSlice(&cfg.Trading.Symbols, "TRADE_SYMBOLS")
	setInt(&cfg.Trading.Leverage, "LEVERAGE")

	// TRADE_INTERVAL is a kline interval that also sets the cycle period.
	if v := os.Getenv("TRADE_INTERVAL"); v != "" {
		cfg.Trading.KlineInterval = v
		if d, ok := klineDuration(v); ok {
			cfg.Trading.Interval.Duration = d
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	// Binance
	setStr(&cfg.Binance.APIKey, "PERPBOT_BINANCE_API_KEY")
	setStr(&cfg.Binance.APISecret, "PERPBOT_BINANCE_API_SECRET")
	setStr(&cfg.Binance.EncryptedSecretPath, "PERPBOT_BINANCE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Binance.SecretPassword, "PERPBOT_BINANCE_SECRET_PASSWORD")
	setBool(&cfg.Binance.Testnet, "PERPBOT_BINANCE_TESTNET")
	setStr(&cfg.Binance.BaseURL, "PERPBOT_BINANCE_BASE_URL")
	setStr(&cfg.Binance.StreamURL, "PERPBOT_BINANCE_STREAM_URL")
	setStr(&cfg.Binance.MarginAsset, "PERPBOT_BINANCE_MARGIN_ASSET")

	// Agent
	setStr(&cfg.Agent.BaseURL, "PERPBOT_AGENT_BASE_URL")
	setStr(&cfg.Agent.APIKey, "PERPBOT_AGENT_API_KEY")
	setStr(&cfg.Agent.Model, "PERPBOT_AGENT_MODEL")
	setDuration(&cfg.Agent.Timeout, "PERPBOT_AGENT_TIMEOUT")
	setInt(&cfg.Agent.CallsPerMinute, "PERPBOT_AGENT_CALLS_PER_MINUTE")

	// Trading
	setStringSlice(&cfg.Trading.Symbols, "PERPBOT_TRADING_SYMBOLS")
	setDuration(&cfg.Trading.Interval, "PERPBOT_TRADING_INTERVAL")
	setStr(&cfg.Trading.KlineInterval, "PERPBOT_TRADING_KLINE_INTERVAL")
	setInt(&cfg.Trading.KlineLimit, "PERPBOT_TRADING_KLINE_LIMIT")
	setInt(&cfg.Trading.Leverage, "PERPBOT_TRADING_LEVERAGE")
	setFloat64(&cfg.Trading.MinAmount, "PERPBOT_TRADING_MIN_AMOUNT")
	setFloat64(&cfg.Trading.MaxAmount, "PERPBOT_TRADING_MAX_AMOUNT")
	setFloat64(&cfg.Trading.MaxPosition, "PERPBOT_TRADING_MAX_POSITION")
	setStr(&cfg.Trading.PortfolioStrategy, "PERPBOT_TRADING_PORTFOLIO_STRATEGY")
	setStr(&cfg.Trading.AnalysisFailure, "PERPBOT_TRADING_ANALYSIS_FAILURE")
	setDuration(&cfg.Trading.CycleTimeout, "PERPBOT_TRADING_CYCLE_TIMEOUT")
	setStr(&cfg.Trading.DataDir, "PERPBOT_TRADING_DATA_DIR")

	// Postgres
	setBool(&cfg.Postgres.Enabled, "PERPBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PERPBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PERPBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PERPBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PERPBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PERPBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PERPBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PERPBOT_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "PERPBOT_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setBool(&cfg.Redis.Enabled, "PERPBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PERPBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PERPBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PERPBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "PERPBOT_REDIS_TLS_ENABLED")

	// S3
	setBool(&cfg.S3.Enabled, "PERPBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PERPBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PERPBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PERPBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PERPBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PERPBOT_S3_SECRET_KEY")
	setDuration(&cfg.S3.ArchiveAfter, "PERPBOT_S3_ARCHIVE_AFTER")

	// Server
	setBool(&cfg.Server.Enabled, "PERPBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PERPBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "PERPBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PERPBOT_SERVER_RATE_LIMIT")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "PERPBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PERPBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PERPBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PERPBOT_NOTIFY_EVENTS")
	setStr(&cfg.Notify.Tag, "PERPBOT_NOTIFY_TAG")

	// Log
	setStr(&cfg.Log.File, "PERPBOT_LOG_FILE")

	setStr(&cfg.Mode, "PERPBOT_MODE")
	setStr(&cfg.LogLevel, "PERPBOT_LOG_LEVEL")
}

func normalise(cfg *Config) {
	for i, s := range cfg.Trading.Symbols {
		cfg.Trading.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
}

// klineDuration converts a kline interval such as "15m" or "1h" to its
// length.
func klineDuration(interval string) (time.Duration, bool) {
	if strings.HasSuffix(interval, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(interval, "d"))
		if err != nil || n <= 0 {
			return 0, false
		}
		return time.Duration(n) * 24 * time.Hour, true
	}
	d, err := time.ParseDuration(interval)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// Each helper only touches dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
