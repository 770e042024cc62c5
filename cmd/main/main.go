package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"vape-recon/internal/config"
	"vape-recon/internal/metrics"
	"vape-recon/internal/reconcile/service"
	"vape-recon/internal/storage"
	serverhttp "vape-recon/server/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config")
	}
	logger := config.SetupLogger(cfg)

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("policy")
	}
	norm, err := service.NewNormalizer(policy)
	if err != nil {
		logger.Fatal().Err(err).Msg("normalizer")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.StoreOptions(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("store")
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	rec := metrics.New(nil)
	reconciler := service.NewReconciler(store, norm, cfg.Match, cfg.DefaultCompany, logger, service.WithObserver(rec))

	r := serverhttp.NewRouter(cfg, serverhttp.Deps{Batcher: reconciler, Store: store, Metrics: rec}, logger)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info().Str("addr", cfg.Addr()).Str("db", cfg.DBDriver).Msg("server starting")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	logger.Info().Msg("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("bye")
}
