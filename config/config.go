// Package config loads server configuration from environment variables
// using go-envconfig. Every knob has a development-friendly default except
// JWT_SECRET, which the server refuses to start without.
package config

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port     string `env:"PORT,       default=8080"`
	Env      string `env:"ENV,        default=development"`
	DBPath   string `env:"DB_PATH,    default=billing.db"`
	LogLevel string `env:"LOG_LEVEL,  default=info"`

	JWT    JWTConfig
	SMTP   SMTPConfig
	Report ReportConfig
}

type JWTConfig struct {
	Secret     string        `env:"JWT_SECRET"`
	AccessTTL  time.Duration `env:"JWT_ACCESS_TTL,  default=1h"`
	RefreshTTL time.Duration `env:"JWT_REFRESH_TTL, default=720h"`
}

type SMTPConfig struct {
	// Addr is host:port of the SMTP relay. Empty disables real delivery;
	// reports are then logged instead of mailed.
	Addr     string `env:"SMTP_ADDR"`
	From     string `env:"SMTP_FROM,     default=billing@study-on.local"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
}

type ReportConfig struct {
	// AnalyticsEmail receives the monthly sales report.
	AnalyticsEmail string `env:"REPORT_ANALYTICS_EMAIL, default=analytics@study-on.local"`
	// ExpiryNoticeLead is how far ahead of rental expiry reminders go out.
	ExpiryNoticeLead time.Duration `env:"REPORT_EXPIRY_LEAD, default=48h"`
	// SchedulerEnabled turns the background report scheduler on or off.
	SchedulerEnabled bool `env:"REPORT_SCHEDULER_ENABLED, default=true"`
}

// Load reads configuration from the environment.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, err
	}
	if cfg.JWT.Secret == "" {
		return nil, errors.New("config: JWT_SECRET is required")
	}
	return &cfg, nil
}
