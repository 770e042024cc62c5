package serverhttp

import (
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"vape-recon/internal/config"
	"vape-recon/internal/metrics"
	"vape-recon/internal/middleware"
	recHnd "vape-recon/internal/reconcile/handler"
	"vape-recon/internal/storage"
	"vape-recon/server/http/handlers"
)

// Deps: то, что нужно роутеру от остального сервиса.
type Deps struct {
	Batcher recHnd.Batcher
	Store   *storage.SQLStore
	Metrics *metrics.Recorder
}

func NewRouter(cfg config.Config, d Deps, logger zerolog.Logger) *chi.Mux {
	if d.Metrics == nil {
		d.Metrics = metrics.New(nil)
	}
	r := chi.NewRouter()

	// порядок важен: recover -> requestID -> logging -> cors
	r.Use(middleware.Recover(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(logger, d.Metrics))
	r.Use(middleware.CORS(cfg.AllowOrigins))

	// health-check и метрики
	r.Get("/health", handlers.Health(d.Store))
	r.Handle("/metrics", d.Metrics.Handler())

	// основной эндпоинт; лимит тела только здесь
	r.With(middleware.LimitBytes(int64(cfg.MaxUploadMB)<<20)).
		Post("/reconcile", recHnd.Reconcile(d.Batcher, cfg.MaxUploadMB, logger))

	r.Get("/products/{id}/history", recHnd.History(d.Store, logger))
	r.Get("/reviews", recHnd.Reviews(d.Store, logger))

	return r
}
