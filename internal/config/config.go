package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// Config is loaded once at startup and passed by pointer to every component
// that needs it.
type Config struct {
	DatabaseDSN         string `env:"DATABASE_DSN,required=true"`
	DatabaseMaxConns    int    `env:"DATABASE_MAX_CONNS,default=25"`
	RedisURL            string `env:"REDIS_URL,required=true"`
	RabbitMQURL         string `env:"RABBITMQ_URL"`
	PostmarkServerToken string `env:"POSTMARK_SERVER_TOKEN,required=true"`
	PostmarkAPIURL      string `env:"POSTMARK_API_URL,default=https://api.postmarkapp.com"`
	WebhookSecret       string `env:"WEBHOOK_SECRET,required=true"`
	AdminToken          string `env:"ADMIN_TOKEN,required=true"`
	ResendForHeader     string `env:"RESEND_FOR_HEADER,default=X-Mailtrack-Resend-For"`
	MessageIDDomain     string `env:"MESSAGE_ID_DOMAIN,default=mailtrack.local"`
	PurgeAfterDays      int    `env:"PURGE_AFTER_DAYS,default=90"`
	PurgeIntervalHours  int    `env:"PURGE_INTERVAL_HOURS,default=24"`
	LockTTLMillis       int    `env:"LOCK_TTL_MS,default=5000"`
	ResendConcurrency   int    `env:"RESEND_CONCURRENCY,default=2"`
	APIPort             int    `env:"API_PORT,default=8080"`
	LogLevel            string `env:"LOG_LEVEL,default=info"`
	LogFormat           string `env:"LOG_FORMAT,default=json"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(strings.TrimSpace(c.WebhookSecret)) < 16 {
		return fmt.Errorf("WEBHOOK_SECRET must be at least 16 characters")
	}
	if strings.TrimSpace(c.ResendForHeader) == "" {
		return fmt.Errorf("RESEND_FOR_HEADER must not be empty")
	}
	if c.PurgeAfterDays < 1 {
		return fmt.Errorf("PURGE_AFTER_DAYS must be >= 1")
	}
	return nil
}

// AsyncResendEnabled reports whether operator resends can go through the
// broker.
func (c *Config) AsyncResendEnabled() bool {
	return strings.TrimSpace(c.RabbitMQURL) != ""
}

func (c *Config) PurgeRetention() time.Duration {
	return time.Duration(c.PurgeAfterDays) * 24 * time.Hour
}

func (c *Config) PurgeInterval() time.Duration {
	if c.PurgeIntervalHours <= 0 {
		return 0
	}
	return time.Duration(c.PurgeIntervalHours) * time.Hour
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMillis) * time.Millisecond
}
