package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// finalize validates the assembled configuration. It is called once by Load
// after file parsing and env overrides.
func (c *Config) finalize() error {
	if strings.TrimSpace(c.Auth.RootKey) == "" {
		return errors.New("config: AUTH_ROOT_KEY must be set (use \"test-mode\" to disable payment gates locally)")
	}

	if c.Auth.PriceSats < 0 || c.Auth.SubmitPriceSats < 0 ||
		c.Auth.ReviewPriceSats < 0 || c.Auth.BulkPriceSats < 0 {
		return errors.New("config: prices must be non-negative")
	}

	if c.Server.BaseURL != "" {
		parsed, err := url.Parse(c.Server.BaseURL)
		if err != nil || parsed.Host == "" {
			return fmt.Errorf("config: invalid base_url %q", c.Server.BaseURL)
		}
	}

	if !c.Auth.TestMode() && c.Payments.URL == "" {
		return errors.New("config: PAYMENT_URL must be set when payments are enabled")
	}

	switch c.Storage.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	if c.Storage.Backend == "postgres" && c.Storage.PostgresURL == "" {
		return errors.New("config: postgres backend requires DATABASE_URL")
	}

	return nil
}

// BaseHost returns the host (with port, if any) of the configured base URL.
// Mutating requests with an Origin header are only accepted from this host.
func (c *Config) BaseHost() string {
	parsed, err := url.Parse(c.Server.BaseURL)
	if err != nil {
		return ""
	}
	return parsed.Host
}
