package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration. The names
// match the deployment contract: AUTH_ROOT_KEY, PAYMENT_URL, PAYMENT_KEY,
// BASE_URL and the per-operation AUTH_*_PRICE_SATS values.
func (c *Config) applyEnvOverrides() {
	// Server config
	if port := os.Getenv("APP_PORT"); port != "" {
		c.Server.Address = ":" + port
	}
	setIfEnv(&c.Server.Address, "SERVER_ADDRESS")
	setIfEnv(&c.Server.BaseURL, "BASE_URL")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "ADMIN_METRICS_API_KEY")

	// Logging config
	setIfEnv(&c.Logging.Level, "LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "ENVIRONMENT")

	// Auth config
	setIfEnv(&c.Auth.RootKey, "AUTH_ROOT_KEY")
	setInt64IfEnv(&c.Auth.PriceSats, "AUTH_PRICE_SATS")
	setInt64IfEnv(&c.Auth.SubmitPriceSats, "AUTH_SUBMIT_PRICE_SATS")
	setInt64IfEnv(&c.Auth.ReviewPriceSats, "AUTH_REVIEW_PRICE_SATS")
	setInt64IfEnv(&c.Auth.BulkPriceSats, "AUTH_BULK_PRICE_SATS")

	// Payments backend config
	setIfEnv(&c.Payments.URL, "PAYMENT_URL")
	setIfEnv(&c.Payments.APIKey, "PAYMENT_KEY")
	setDurationIfEnv(&c.Payments.Timeout, "PAYMENT_TIMEOUT")

	// Storage config
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		c.Storage.Backend = "postgres"
		c.Storage.PostgresURL = dbURL
	}
	setIfEnv(&c.Storage.Backend, "STORAGE_BACKEND")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setInt64IfEnv sets an int64 pointer from an environment variable.
// Unparseable values are ignored so a typo never silently zeroes a price.
func setInt64IfEnv(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}
