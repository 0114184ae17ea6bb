package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maraichr/eomat/internal/api/handler"
	apimw "github.com/maraichr/eomat/internal/api/middleware"
	"github.com/maraichr/eomat/internal/artifact"
	"github.com/maraichr/eomat/internal/discovery"
	"github.com/maraichr/eomat/internal/download"
	"github.com/maraichr/eomat/internal/engine"
	"github.com/maraichr/eomat/internal/ledger"
)

// RouterDeps holds the components the admin API drives.
type RouterDeps struct {
	Ledger    *ledger.Ledger
	Engine    *engine.Engine
	Downloads *download.Downloader
	Discovery *discovery.Discoverer
	Artifacts artifact.Store
	Readiness []handler.Check
}

func NewRouter(logger *slog.Logger, deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(apimw.Logger(logger))
	r.Use(chimw.Recoverer)

	health := handler.NewHealthHandler(deps.Readiness...)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		cat := handler.NewCatalogHandler(deps.Ledger.Catalog())
		sources := handler.NewSourceHandler(logger, deps.Ledger, deps.Downloads, deps.Discovery)
		products := handler.NewProductHandler(logger, deps.Ledger, deps.Engine, deps.Artifacts)
		ops := handler.NewOpsHandler(logger, deps.Engine)

		r.Get("/groups", cat.Groups)
		r.Post("/groups/{group}/discover", sources.Discover)
		r.Get("/pipelines", cat.Pipelines)

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", sources.List)
			r.Post("/", sources.Register)
			r.Route("/{sourceID}", func(r chi.Router) {
				r.Get("/", sources.Get)
				r.Delete("/", sources.Delete)
				r.Post("/download", sources.Download)
				r.Post("/revoke", sources.Revoke)
			})
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", products.List)
			r.Route("/{productID}", func(r chi.Router) {
				r.Get("/", products.Get)
				r.Delete("/", products.Delete)
				r.Get("/completeness", products.Completeness)
				r.Get("/artifact", products.Artifact)
				r.Post("/retry", products.Retry)
				r.Post("/ignore", products.Ignore)
			})
		})

		r.Post("/sweep", ops.Sweep)
		r.Post("/reconcile", ops.Reconcile)
	})

	return r
}
