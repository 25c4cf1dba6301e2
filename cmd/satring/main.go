package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/satring/server/internal/circuitbreaker"
	"github.com/satring/server/internal/config"
	"github.com/satring/server/internal/httpserver"
	"github.com/satring/server/internal/l402"
	"github.com/satring/server/internal/lifecycle"
	"github.com/satring/server/internal/lightning"
	"github.com/satring/server/internal/logger"
	"github.com/satring/server/internal/metrics"
	"github.com/satring/server/internal/ratelimit"
	"github.com/satring/server/internal/recovery"
	"github.com/satring/server/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger config may be part of what failed, so use a bare logger.
		boot := logger.New(logger.Config{Level: "info", Format: "console"})
		boot.Fatal().Err(err).Msg("configuration invalid")
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "satring",
		Environment: cfg.Logging.Environment,
	})

	if cfg.Auth.TestMode() {
		log.Warn().Msg("AUTH_ROOT_KEY is the test-mode literal: every payment gate is disabled")
	}

	resources := lifecycle.NewManager()
	defer func() {
		if err := resources.Close(); err != nil {
			log.Error().Err(err).Msg("shutdown cleanup failed")
		}
	}()

	var store storage.Store
	switch cfg.Storage.Backend {
	case "postgres":
		pgStore, err := storage.NewPostgresStore(cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres store init failed")
		}
		store = pgStore
		log.Info().Msg("storage backend: postgres")
	default:
		store = storage.NewMemoryStore()
		log.Warn().Msg("storage backend: memory, state will not survive restart")
	}
	resources.Register("store", store)

	metricsCollector := metrics.New(nil)

	var breaker *circuitbreaker.Manager
	if cfg.CircuitBreaker.Enabled {
		breaker = circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)
	}

	backendClient := lightning.NewHTTPClient(cfg.Payments, breaker, metricsCollector)
	invoices := lightning.NewSettlementCache(backendClient, 2*time.Second)
	guard := l402.NewGuard(cfg.Auth.RootKey, cfg.Auth.TestMode(), invoices, storageLedger{store}, metricsCollector)
	verifier := recovery.New(store, cfg.Recovery, metricsCollector)
	limits := ratelimit.New(cfg.RateLimit, metricsCollector)

	server := httpserver.New(cfg, store, invoices, guard, verifier, limits, metricsCollector, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", cfg.Server.Address).
			Str("base_url", cfg.Server.BaseURL).
			Msg("satring directory server listening")
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// storageLedger adapts the store to the guard's consumed-payments interface.
type storageLedger struct {
	store storage.Store
}

func (l storageLedger) Admit(ctx context.Context, paymentHash string) (bool, error) {
	return l.store.AdmitPayment(ctx, paymentHash)
}
