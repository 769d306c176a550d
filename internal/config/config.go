// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN; empty until DB is wired.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the Redis address for login/reset rate limiting (e.g. localhost:6379).
	// Empty disables the Redis-backed limiter.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the optional Redis AUTH password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	// SessionTTLNormal..SessionTTLCritical are session lifetimes per security
	// level, as time.Duration strings. Higher risk must get a shorter TTL;
	// Load rejects tables that violate that ordering.
	SessionTTLNormal   string `mapstructure:"SESSION_TTL_NORMAL"`
	SessionTTLElevated string `mapstructure:"SESSION_TTL_ELEVATED"`
	SessionTTLHighRisk string `mapstructure:"SESSION_TTL_HIGH_RISK"`
	SessionTTLCritical string `mapstructure:"SESSION_TTL_CRITICAL"`

	// RiskThresholdElevated..Critical are the score cut-offs for the security
	// levels. Must be strictly increasing.
	RiskThresholdElevated int `mapstructure:"RISK_THRESHOLD_ELEVATED"`
	RiskThresholdHighRisk int `mapstructure:"RISK_THRESHOLD_HIGH_RISK"`
	RiskThresholdCritical int `mapstructure:"RISK_THRESHOLD_CRITICAL"`

	// SuspiciousHourStart/End bound the local-time window (hours, 0-23) that
	// adds risk. Default 02:00-06:00.
	SuspiciousHourStart int `mapstructure:"SUSPICIOUS_HOUR_START"`
	SuspiciousHourEnd   int `mapstructure:"SUSPICIOUS_HOUR_END"`

	// TrustedCountries is a comma-separated list of ISO country codes that add
	// no location risk.
	TrustedCountries string `mapstructure:"TRUSTED_COUNTRIES"`
	// HighRiskCountries is a comma-separated list of ISO country codes that
	// add the high-risk-country weight.
	HighRiskCountries string `mapstructure:"HIGH_RISK_COUNTRIES"`

	// MaxConcurrentSessions is the per-user live session count above which the
	// risk engine adds the concurrent-sessions weight.
	MaxConcurrentSessions int `mapstructure:"MAX_CONCURRENT_SESSIONS"`

	// LoginMaxAttempts is the consecutive-failure count that locks an account.
	LoginMaxAttempts int `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	// LoginLockoutDuration is how long a locked account stays locked (e.g. "15m").
	LoginLockoutDuration string `mapstructure:"LOGIN_LOCKOUT_DURATION"`

	// RateLimitMaxAttempts is the per-key request budget within RateLimitWindow.
	RateLimitMaxAttempts int `mapstructure:"RATE_LIMIT_MAX_ATTEMPTS"`
	// RateLimitWindow is the fixed rate-limit window (e.g. "1m").
	RateLimitWindow string `mapstructure:"RATE_LIMIT_WINDOW"`

	// ResetTokenTTL is the lifetime of password-reset tokens (e.g. "1h").
	ResetTokenTTL string `mapstructure:"RESET_TOKEN_TTL"`

	// BcryptCost is the bcrypt cost factor (4-31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// ValidateTimeout bounds hot-path session validation and authorization
	// checks. Must stay sub-second.
	ValidateTimeout string `mapstructure:"VALIDATE_TIMEOUT"`
	// AuditTimeout bounds best-effort background audit writes.
	AuditTimeout string `mapstructure:"AUDIT_TIMEOUT"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap log level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("SESSION_TTL_NORMAL", "720h")   // 30d
	v.SetDefault("SESSION_TTL_ELEVATED", "168h") // 7d
	v.SetDefault("SESSION_TTL_HIGH_RISK", "24h")
	v.SetDefault("SESSION_TTL_CRITICAL", "4h")
	v.SetDefault("RISK_THRESHOLD_ELEVATED", 30)
	v.SetDefault("RISK_THRESHOLD_HIGH_RISK", 60)
	v.SetDefault("RISK_THRESHOLD_CRITICAL", 80)
	v.SetDefault("SUSPICIOUS_HOUR_START", 2)
	v.SetDefault("SUSPICIOUS_HOUR_END", 6)
	v.SetDefault("TRUSTED_COUNTRIES", "US,CA,GB,DE,FR,NL,AU,JP")
	v.SetDefault("HIGH_RISK_COUNTRIES", "")
	v.SetDefault("MAX_CONCURRENT_SESSIONS", 5)
	v.SetDefault("LOGIN_MAX_ATTEMPTS", 5)
	v.SetDefault("LOGIN_LOCKOUT_DURATION", "15m")
	v.SetDefault("RATE_LIMIT_MAX_ATTEMPTS", 10)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")
	v.SetDefault("RESET_TOKEN_TTL", "1h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("VALIDATE_TIMEOUT", "500ms")
	v.SetDefault("AUDIT_TIMEOUT", "5s")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if !(cfg.RiskThresholdElevated < cfg.RiskThresholdHighRisk && cfg.RiskThresholdHighRisk < cfg.RiskThresholdCritical) {
		return nil, errors.New("config: risk thresholds must be strictly increasing (elevated < high_risk < critical)")
	}
	if cfg.RiskThresholdElevated < 0 || cfg.RiskThresholdCritical > 100 {
		return nil, errors.New("config: risk thresholds must be within 0-100")
	}

	if cfg.SuspiciousHourStart < 0 || cfg.SuspiciousHourStart > 23 || cfg.SuspiciousHourEnd < 0 || cfg.SuspiciousHourEnd > 23 {
		return nil, errors.New("config: suspicious hours must be within 0-23")
	}

	ttls := []struct {
		name string
		val  string
	}{
		{"SESSION_TTL_NORMAL", cfg.SessionTTLNormal},
		{"SESSION_TTL_ELEVATED", cfg.SessionTTLElevated},
		{"SESSION_TTL_HIGH_RISK", cfg.SessionTTLHighRisk},
		{"SESSION_TTL_CRITICAL", cfg.SessionTTLCritical},
	}
	parsed := make([]time.Duration, len(ttls))
	for i, t := range ttls {
		d, err := time.ParseDuration(t.val)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("config: %s must be a positive duration, got %q", t.name, t.val)
		}
		parsed[i] = d
	}
	// Shorter TTL for higher risk is a hard requirement, not a default.
	if !(parsed[3] < parsed[2] && parsed[2] < parsed[1] && parsed[1] < parsed[0]) {
		return nil, errors.New("config: session TTLs must strictly decrease from normal to critical")
	}

	return &cfg, nil
}

// TTLNormal returns the parsed normal-level session TTL. Returns 720h if unset or invalid.
func (c *Config) TTLNormal() time.Duration { return c.duration(c.SessionTTLNormal, 720*time.Hour) }

// TTLElevated returns the parsed elevated-level session TTL. Returns 168h if unset or invalid.
func (c *Config) TTLElevated() time.Duration {
	return c.duration(c.SessionTTLElevated, 168*time.Hour)
}

// TTLHighRisk returns the parsed high_risk-level session TTL. Returns 24h if unset or invalid.
func (c *Config) TTLHighRisk() time.Duration { return c.duration(c.SessionTTLHighRisk, 24*time.Hour) }

// TTLCritical returns the parsed critical-level session TTL. Returns 4h if unset or invalid.
func (c *Config) TTLCritical() time.Duration { return c.duration(c.SessionTTLCritical, 4*time.Hour) }

// LockoutDuration returns the parsed account lockout duration. Returns 15m if unset or invalid.
func (c *Config) LockoutDuration() time.Duration {
	return c.duration(c.LoginLockoutDuration, 15*time.Minute)
}

// RateWindow returns the parsed rate-limit window. Returns 1m if unset or invalid.
func (c *Config) RateWindow() time.Duration { return c.duration(c.RateLimitWindow, time.Minute) }

// ResetTTL returns the parsed password-reset token TTL. Returns 1h if unset or invalid.
func (c *Config) ResetTTL() time.Duration { return c.duration(c.ResetTokenTTL, time.Hour) }

// ValidateDeadline returns the parsed hot-path validation timeout. Returns 500ms if unset or invalid.
func (c *Config) ValidateDeadline() time.Duration {
	return c.duration(c.ValidateTimeout, 500*time.Millisecond)
}

// AuditDeadline returns the parsed audit write timeout. Returns 5s if unset or invalid.
func (c *Config) AuditDeadline() time.Duration { return c.duration(c.AuditTimeout, 5*time.Second) }

func (c *Config) duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// TrustedCountryList returns the trusted country codes from the comma-separated config, upper-cased.
func (c *Config) TrustedCountryList() []string { return splitList(c.TrustedCountries) }

// HighRiskCountryList returns the high-risk country codes from the comma-separated config, upper-cased.
func (c *Config) HighRiskCountryList() []string { return splitList(c.HighRiskCountries) }

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.ToUpper(strings.TrimSpace(p)); t != "" {
			out = append(out, t)
		}
	}
	return out
}
