// Package config loads the server settings from environment variables.
// Every setting has a default suitable for local development; Validate
// rejects the development defaults that must not reach production.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	devJWTSecret    = "change-me-in-production" // #nosec G101 -- intentional dev default
	minSecretLength = 32
)

// Config holds the server settings.
type Config struct {
	Environment           string
	Port                  string
	DatabasePath          string
	JWTSecret             string
	IdentityTokenDuration time.Duration
	RateLimitPerMinute    int
	PulseRatePerSecond    int
	CORSAllowedOrigins    []string
	TrustedProxies        []string
	CatalogURL            string
	YouTubeAPIKey         string
	SentryDSN             string
	SentryEnvironment     string
	MetricsEnabled        bool

	// loadErrs lists variables that were set but could not be parsed.
	loadErrs []error
}

// Load reads the environment. Unparseable values fall back to their default
// and are reported by Validate.
func Load() *Config {
	var l loader
	env := strings.ToLower(l.getEnv("ENVIRONMENT", EnvDevelopment))
	cfg := &Config{
		Environment:           env,
		Port:                  l.getEnv("PORT", "8080"),
		DatabasePath:          l.getEnv("DATABASE_PATH", "./tunr.db"),
		JWTSecret:             l.getEnv("JWT_SECRET", devJWTSecret),
		IdentityTokenDuration: l.getDurationEnv("IDENTITY_TOKEN_DURATION", 30*24*time.Hour),
		RateLimitPerMinute:    l.getIntEnv("RATE_LIMIT_PER_MINUTE", 30),
		PulseRatePerSecond:    l.getIntEnv("PULSE_RATE_PER_SECOND", 10),
		CORSAllowedOrigins:    l.getListEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		TrustedProxies:        l.getListEnv("TRUSTED_PROXIES", nil),
		CatalogURL:            l.getEnv("CATALOG_URL", ""),
		YouTubeAPIKey:         l.getEnv("YOUTUBE_API_KEY", ""),
		SentryDSN:             l.getEnv("SENTRY_DSN", ""),
		SentryEnvironment:     l.getEnv("SENTRY_ENVIRONMENT", env),
		MetricsEnabled:        l.getBoolEnv("METRICS_ENABLED", true),
	}
	cfg.loadErrs = l.errs
	return cfg
}

// Validate reports unparseable variables and settings that cannot work.
// In production the development JWT secret and short secrets are refused.
func (c *Config) Validate() error {
	errs := append([]error(nil), c.loadErrs...)

	if port, err := strconv.Atoi(c.Port); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("PORT: %q is not a valid port", c.Port))
	}
	if c.IdentityTokenDuration <= 0 {
		errs = append(errs, errors.New("IDENTITY_TOKEN_DURATION must be positive"))
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE must be positive"))
	}
	if c.PulseRatePerSecond <= 0 {
		errs = append(errs, errors.New("PULSE_RATE_PER_SECOND must be positive"))
	}
	if c.Environment == EnvProduction {
		switch {
		case c.JWTSecret == devJWTSecret:
			errs = append(errs, errors.New("JWT_SECRET must be set in production"))
		case len(c.JWTSecret) < minSecretLength:
			errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes in production", minSecretLength))
		}
	}
	return errors.Join(errs...)
}

// loader reads typed variables and collects the ones it could not parse.
type loader struct {
	errs []error
}

func (l *loader) getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func (l *loader) getIntEnv(key string, defaultValue int) int {
	value := l.getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not an integer", key, value))
		return defaultValue
	}
	return n
}

func (l *loader) getBoolEnv(key string, defaultValue bool) bool {
	value := l.getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not a boolean", key, value))
		return defaultValue
	}
	return b
}

func (l *loader) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := l.getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not a duration", key, value))
		return defaultValue
	}
	return d
}

// getListEnv splits a comma-separated variable, dropping empty items.
func (l *loader) getListEnv(key string, defaultValue []string) []string {
	value := l.getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
