// Package api serves hotspot and analytics queries over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/hotspots/internal/hotspot"
	"github.com/sells-group/hotspots/internal/source"
)

// HotspotService computes hotspot rows. *hotspot.Engine satisfies it.
type HotspotService interface {
	Clusters(ctx context.Context, params hotspot.Params) ([]hotspot.Cluster, error)
	Grid(ctx context.Context, params hotspot.Params) ([]hotspot.GridCell, error)
}

// Options configures the router.
type Options struct {
	// RequestTimeout bounds every request. Zero disables the deadline.
	RequestTimeout time.Duration

	// RateLimit is the sustained request rate for the whole process.
	// Zero disables throttling.
	RateLimit float64
	RateBurst int

	AllowedOrigins []string

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// Handler holds the dependencies of the HTTP endpoints.
type Handler struct {
	hotspots  HotspotService
	analytics source.Analytics
}

// NewRouter builds the chi router with the full middleware stack.
func NewRouter(hotspots HotspotService, analytics source.Analytics, opts Options) http.Handler {
	h := &Handler{hotspots: hotspots, analytics: analytics}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader, "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/", h.index)
	r.Get("/health", h.health)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(opts.RateLimit, opts.RateBurst))
		r.Use(timeout(opts.RequestTimeout))

		r.Route("/api/hotspots", func(r chi.Router) {
			r.Get("/", h.clusters)
			r.Get("/dbscan", h.clusters)
			r.Get("/grid", h.grid)
		})
		r.Route("/api/analytics", func(r chi.Router) {
			r.Get("/top-types", h.topTypes)
			r.Get("/date-range", h.dateRange)
			r.Get("/type-location-coverage", h.coverage)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})

	return r
}

var endpoints = []string{
	"/health",
	"/metrics",
	"/api/hotspots",
	"/api/hotspots/dbscan",
	"/api/hotspots/grid",
	"/api/analytics/top-types",
	"/api/analytics/date-range",
	"/api/analytics/type-location-coverage",
}
