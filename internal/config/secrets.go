package config

import "slices"

const redacted = "***"

// RedactedConfig returns a copy of cfg with every secret replaced by "***",
// safe to log.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Binance.APIKey)
	redact(&out.Binance.APISecret)
	redact(&out.Binance.SecretPassword)
	redact(&out.Agent.APIKey)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Trading.Symbols = slices.Clone(cfg.Trading.Symbols)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
