// cmd/server is the process entrypoint for the credit core: it wires
// together the store, pricing config, Credit Manager, and reconciler, then
// serves /health, /ready, and /metrics. Grounded on cmd/api/main.go's
// lifecycle — signal handling, graceful shutdown, createHTTPServer — but
// does not stand up a gRPC (or any) server for the priced operations
// themselves: transport framing is left to whatever embeds the Facade, so
// the only thing this binary exposes over the network is its own liveness.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kelpejol/creditcore/internal/config"
	"github.com/kelpejol/creditcore/internal/credit"
	"github.com/kelpejol/creditcore/internal/ledger"
	"github.com/kelpejol/creditcore/internal/logging"
	"github.com/kelpejol/creditcore/internal/oracle"
	"github.com/kelpejol/creditcore/internal/pricing"
	"github.com/kelpejol/creditcore/internal/reconcile"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.Environment, "creditcore-server")
	logger.Info().
		Str("environment", cfg.Environment).
		Str("httpPort", cfg.HTTPPort).
		Str("databaseUrl", cfg.DatabaseURL).
		Msg("starting creditcore server")

	store, err := ledger.NewStoreFromURL(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize ledger store")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     50,
		MinIdleConns: 10,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable, rate oracle will rely on its in-process cache only")
	}
	pingCancel()

	pricingCfg := pricing.DefaultConfig()
	pricingCfg.ConversionRate = cfg.CreditsConversionRate

	rateOracle := oracle.NewCachedRateOracle(oracle.StaticRateOracle{Rate: 1.0 / pricingCfg.ConversionRate}, redisClient, logger)
	confirmOracle := oracle.NoopConfirmationOracle{}

	manager := credit.NewManager(store, pricingCfg, rateOracle, cfg.Network, logger)

	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := manager.Initialize(initCtx, pricing.DefaultOperationCosts()); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize credit manager")
	}
	initCancel()

	reconcileCtx, reconcileCancel := context.WithCancel(context.Background())
	defer reconcileCancel()
	if err := manager.StartReconciler(reconcileCtx, reconcile.Config{
		Interval:        cfg.ReconcileInterval,
		MaxPendingAge:   cfg.MaxPendingAge,
		ServerAccountID: cfg.ServerAccountID,
		Network:         cfg.Network,
	}, confirmOracle); err != nil {
		logger.Fatal().Err(err).Msg("failed to start reconciler")
	}
	logger.Info().Msg("reconciler started")

	httpServer := createHTTPServer(cfg.HTTPPort, store, logger)
	go func() {
		logger.Info().Str("port", cfg.HTTPPort).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received, starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown failed")
	}
	logger.Info().Msg("http server stopped")

	reconcileCancel()
	if err := manager.Close(); err != nil {
		logger.Error().Err(err).Msg("error closing credit manager")
	}
	logger.Info().Msg("shutdown complete")
}

func createHTTPServer(port string, store ledger.Store, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if _, err := store.GetBalance(ctx, "__readiness_probe__"); err != nil {
			logger.Warn().Err(err).Msg("readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
