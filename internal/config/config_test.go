package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// withTestKey sets the minimum environment for Load to succeed.
func withTestKey(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_ROOT_KEY", "test-mode")
}

func TestLoadDefaults(t *testing.T) {
	withTestKey(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Address != ":8000" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Auth.PriceSats != 100 || cfg.Auth.SubmitPriceSats != 1000 ||
		cfg.Auth.ReviewPriceSats != 10 || cfg.Auth.BulkPriceSats != 1000 {
		t.Errorf("unexpected default prices: %+v", cfg.Auth)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	if cfg.Recovery.ChallengeTTL.Duration != 30*time.Minute {
		t.Errorf("challenge TTL = %v", cfg.Recovery.ChallengeTTL.Duration)
	}
	if cfg.Recovery.VerifyTimeout.Duration != 10*time.Second {
		t.Errorf("verify timeout = %v", cfg.Recovery.VerifyTimeout.Duration)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.SubmitPerHour != 20 {
		t.Errorf("unexpected rate limits: %+v", cfg.RateLimit)
	}
	if !cfg.Auth.TestMode() {
		t.Error("test-mode key must report TestMode")
	}
}

func TestLoadRefusesEmptyRootKey(t *testing.T) {
	t.Setenv("AUTH_ROOT_KEY", "")

	if _, err := Load(""); err == nil {
		t.Fatal("empty AUTH_ROOT_KEY must refuse startup")
	}
}

func TestLoadRequiresPaymentURLOutsideTestMode(t *testing.T) {
	t.Setenv("AUTH_ROOT_KEY", "a-real-production-key")
	t.Setenv("PAYMENT_URL", "")

	if _, err := Load(""); err == nil {
		t.Fatal("real key without PAYMENT_URL must refuse startup")
	}

	t.Setenv("PAYMENT_URL", "https://lnbits.example")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with PAYMENT_URL: %v", err)
	}
	if cfg.Auth.TestMode() {
		t.Error("real key must not report TestMode")
	}
}

func TestEnvOverrides(t *testing.T) {
	withTestKey(t)
	t.Setenv("APP_PORT", "9001")
	t.Setenv("BASE_URL", "https://directory.example.net")
	t.Setenv("AUTH_SUBMIT_PRICE_SATS", "2500")
	t.Setenv("DATABASE_URL", "postgres://user:pass@db/satring")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9001" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Auth.SubmitPriceSats != 2500 {
		t.Errorf("submit price = %d", cfg.Auth.SubmitPriceSats)
	}
	if cfg.Storage.Backend != "postgres" || cfg.Storage.PostgresURL == "" {
		t.Errorf("DATABASE_URL must select postgres: %+v", cfg.Storage)
	}
	if cfg.BaseHost() != "directory.example.net" {
		t.Errorf("BaseHost = %q", cfg.BaseHost())
	}
}

func TestLoadYAMLFile(t *testing.T) {
	withTestKey(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  address: ":7777"
auth:
  price_sats: 42
recovery:
  challenge_ttl: 10m
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":7777" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Auth.PriceSats != 42 {
		t.Errorf("price = %d", cfg.Auth.PriceSats)
	}
	if cfg.Recovery.ChallengeTTL.Duration != 10*time.Minute {
		t.Errorf("challenge TTL = %v", cfg.Recovery.ChallengeTTL.Duration)
	}
}

func TestLoadRejectsNegativePrice(t *testing.T) {
	withTestKey(t)
	t.Setenv("AUTH_PRICE_SATS", "-5")

	if _, err := Load(""); err == nil {
		t.Fatal("negative price must refuse startup")
	}
}
