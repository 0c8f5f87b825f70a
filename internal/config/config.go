// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Secrets
	CookieSecret       string `env:"COOKIE_SECRET,required"`
	CustomerJWTSecret  string `env:"CUSTOMER_JWT_SECRET,required"`
	StoreWebhookSecret string `env:"STORE_WEBHOOK_SECRET,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Rate limiting for the mark-shown and coupon endpoints (per client IP)
	RateLimitEnabled     bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitMax         int           `env:"RATE_LIMIT_MAX" envDefault:"5"`
	RateLimitWindow      time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"3600s"`
	RateLimitBypassLocal bool          `env:"RATE_LIMIT_BYPASS_LOCAL" envDefault:"true"`

	// Honour X-Forwarded-For / X-Real-IP. Enable only behind a trusted proxy.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Issuance lock held while a coupon is created for one identity
	IssueLockTTL time.Duration `env:"ISSUE_LOCK_TTL" envDefault:"10s"`

	// Settings read-through cache
	SettingsCacheTTL time.Duration `env:"SETTINGS_CACHE_TTL" envDefault:"5m"`

	// Store webhook replay window
	WebhookMaxSkew time.Duration `env:"WEBHOOK_MAX_SKEW" envDefault:"5m"`

	// Event worker
	EventWorkerEnabled   bool          `env:"EVENT_WORKER_ENABLED" envDefault:"true"`
	EventWorkerBatchSize int64         `env:"EVENT_WORKER_BATCH_SIZE" envDefault:"50"`
	EventWorkerBlock     time.Duration `env:"EVENT_WORKER_BLOCK" envDefault:"2s"`
	EventMaxRetries      int           `env:"EVENT_MAX_RETRIES" envDefault:"5"`

	// CORS configuration
	// Comma-separated list of storefront origins (e.g., "https://shop.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 64KB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"65536"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// SecureCookies reports whether cookies must carry the Secure attribute.
func (c *Config) SecureCookies() bool {
	return !c.IsDevelopment()
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate checks values that struct tags cannot express.
func (c *Config) Validate() error {
	if len(c.CookieSecret) < 32 {
		return fmt.Errorf("COOKIE_SECRET must be at least 32 bytes")
	}
	if c.RateLimitMax < 1 {
		return fmt.Errorf("RATE_LIMIT_MAX must be positive")
	}
	if c.RateLimitWindow < time.Second {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be at least 1s")
	}
	return nil
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
