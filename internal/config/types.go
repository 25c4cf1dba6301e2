package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TestModeKey is the literal AUTH_ROOT_KEY value that disables every payment
// gate. It is intended for local development and the test suite only.
const TestModeKey = "test-mode"

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Auth           AuthConfig           `yaml:"auth"`
	Payments       PaymentsConfig       `yaml:"payments"`
	Storage        StorageConfig        `yaml:"storage"`
	Recovery       RecoveryConfig       `yaml:"recovery"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	BaseURL            string   `yaml:"base_url"` // Public origin, used for the CSRF Origin check
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics (empty disables protection)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// AuthConfig holds the L402 root key and per-operation prices in satoshis.
type AuthConfig struct {
	RootKey         string `yaml:"root_key"`
	PriceSats       int64  `yaml:"price_sats"`        // Premium reads: analytics, reputation
	SubmitPriceSats int64  `yaml:"submit_price_sats"` // Listing creation
	ReviewPriceSats int64  `yaml:"review_price_sats"` // Rating creation
	BulkPriceSats   int64  `yaml:"bulk_price_sats"`   // Bulk export
}

// TestMode reports whether the root key is the literal test-mode bypass.
func (a AuthConfig) TestMode() bool {
	return a.RootKey == TestModeKey
}

// PaymentsConfig holds the Lightning payments backend connection settings.
type PaymentsConfig struct {
	URL     string   `yaml:"url"`     // Base URL of the payments backend
	APIKey  string   `yaml:"api_key"` // X-Api-Key header value
	Timeout Duration `yaml:"timeout"` // Per-request timeout
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Backend      string             `yaml:"backend"`       // "memory" or "postgres"
	PostgresURL  string             `yaml:"postgres_url"`  // PostgreSQL connection string
	PostgresPool PostgresPoolConfig `yaml:"postgres_pool"` // PostgreSQL connection pool settings
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// RecoveryConfig holds domain recovery protocol settings.
type RecoveryConfig struct {
	ChallengeTTL  Duration `yaml:"challenge_ttl"`  // Lifetime of an issued challenge (default: 30m)
	VerifyTimeout Duration `yaml:"verify_timeout"` // Total timeout for the well-known fetch (default: 10s)
}

// RateLimitConfig holds the per-IP, per-operation rate limits.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	SubmitPerHour          int `yaml:"submit_per_hour"`           // POST /services
	EditPerHour            int `yaml:"edit_per_hour"`             // PATCH /services/{slug}
	DeletePerHour          int `yaml:"delete_per_hour"`           // DELETE /services/{slug}
	RecoverPerHour         int `yaml:"recover_per_hour"`          // recover generate/verify
	ReviewPerHour          int `yaml:"review_per_hour"`           // POST ratings
	SearchPerSecond        int `yaml:"search_per_second"`         // HTML search
	SearchAPIPerMinute     int `yaml:"search_api_per_minute"`     // GET /search
	PaymentStatusPerMinute int `yaml:"payment_status_per_minute"` // GET /payment-status/{hash}
}

// CircuitBreakerConfig holds circuit breaker configuration for the payments backend.
type CircuitBreakerConfig struct {
	Enabled  bool                 `yaml:"enabled"`
	Payments BreakerServiceConfig `yaml:"payments"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
