// Package config loads service configuration from the environment (and an
// optional .env file) so main stays lean.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the settings shared by every binary in the repository.
type Config struct {
	ServiceName         string `mapstructure:"SERVICE_NAME"`
	Environment         string `mapstructure:"ENVIRONMENT"`
	LogLevel            string `mapstructure:"LOG_LEVEL"`
	Port                string `mapstructure:"PORT"`
	DatabaseURL         string `mapstructure:"DATABASE_URL"`
	BankServiceURL      string `mapstructure:"BANK_SERVICE_URL"`
	GuaranteeServiceURL string `mapstructure:"GUARANTEE_SERVICE_URL"`
	AMQPURL             string `mapstructure:"AMQP_URL"`
	EventExchange       string `mapstructure:"EVENT_EXCHANGE"`
	OTLPEndpoint        string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	SweepSchedule       string `mapstructure:"SWEEP_SCHEDULE"`

	RateLimitPerMinute int `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	RateLimitBurst     int `mapstructure:"RATE_LIMIT_BURST"`

	Rules RulesConfig `mapstructure:",squash"`
}

// RulesConfig carries the tunable bounds of the guarantee business rules.
type RulesConfig struct {
	MinAmount            int64 `mapstructure:"RULES_MIN_AMOUNT"`
	MaxAmount            int64 `mapstructure:"RULES_MAX_AMOUNT"`
	MinExpiryDays        int   `mapstructure:"RULES_MIN_EXPIRY_DAYS"`
	NearExpiryDays       int   `mapstructure:"RULES_NEAR_EXPIRY_DAYS"`
	MaxFileSize          int64 `mapstructure:"RULES_MAX_FILE_SIZE"`
	MinTitleLength       int   `mapstructure:"RULES_MIN_TITLE_LENGTH"`
	MinRenewalNoticeDays int   `mapstructure:"RULES_MIN_RENEWAL_NOTICE_DAYS"`
	MaxRenewalNoticeDays int   `mapstructure:"RULES_MAX_RENEWAL_NOTICE_DAYS"`
}

var keys = []string{
	"SERVICE_NAME", "ENVIRONMENT", "LOG_LEVEL", "PORT", "DATABASE_URL",
	"BANK_SERVICE_URL", "GUARANTEE_SERVICE_URL", "AMQP_URL", "EVENT_EXCHANGE",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "SWEEP_SCHEDULE",
	"RATE_LIMIT_PER_MINUTE", "RATE_LIMIT_BURST",
	"RULES_MIN_AMOUNT", "RULES_MAX_AMOUNT", "RULES_MIN_EXPIRY_DAYS",
	"RULES_NEAR_EXPIRY_DAYS", "RULES_MAX_FILE_SIZE", "RULES_MIN_TITLE_LENGTH",
	"RULES_MIN_RENEWAL_NOTICE_DAYS", "RULES_MAX_RENEWAL_NOTICE_DAYS",
}

// Load reads configuration for the named service. defaultPort is used when
// PORT is not set.
func Load(serviceName, defaultPort string) (*Config, error) {
	// a missing .env file is the normal case outside local development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetDefault("SERVICE_NAME", serviceName)
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("BANK_SERVICE_URL", "http://localhost:8081")
	v.SetDefault("GUARANTEE_SERVICE_URL", "http://localhost:8082")
	v.SetDefault("AMQP_URL", "")
	v.SetDefault("EVENT_EXCHANGE", "guarantee_events")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("SWEEP_SCHEDULE", "0 */6 * * *") // every six hours
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 120)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("RULES_MIN_AMOUNT", 1000)
	v.SetDefault("RULES_MAX_AMOUNT", 100_000_000)
	v.SetDefault("RULES_MIN_EXPIRY_DAYS", 30)
	v.SetDefault("RULES_NEAR_EXPIRY_DAYS", 30)
	v.SetDefault("RULES_MAX_FILE_SIZE", 10*1024*1024)
	v.SetDefault("RULES_MIN_TITLE_LENGTH", 5)
	v.SetDefault("RULES_MIN_RENEWAL_NOTICE_DAYS", 7)
	v.SetDefault("RULES_MAX_RENEWAL_NOTICE_DAYS", 365)
	v.AutomaticEnv()

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no service can run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Port == "" {
		problems = append(problems, "PORT must be set")
	}
	if c.RateLimitPerMinute <= 0 {
		problems = append(problems, "RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.RateLimitBurst <= 0 {
		problems = append(problems, "RATE_LIMIT_BURST must be positive")
	}
	r := c.Rules
	if r.MinAmount <= 0 || r.MaxAmount < r.MinAmount {
		problems = append(problems, "RULES_MIN_AMOUNT must be positive and not above RULES_MAX_AMOUNT")
	}
	if r.MinExpiryDays < 0 || r.NearExpiryDays <= 0 {
		problems = append(problems, "RULES_MIN_EXPIRY_DAYS and RULES_NEAR_EXPIRY_DAYS must be non-negative and positive")
	}
	if r.MinRenewalNoticeDays <= 0 || r.MaxRenewalNoticeDays < r.MinRenewalNoticeDays {
		problems = append(problems, "renewal notice bounds are inconsistent")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// IsProduction reports whether the service runs in a production environment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
