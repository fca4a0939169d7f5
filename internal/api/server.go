package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Server serves the rating API.
type Server struct {
	router *chi.Mux
	server *http.Server
	config domain.ServerConfig
}

// NewServer wires the handlers behind CORS, recovery, tracing, logging and
// compression. Everything but the probes requires a tenant.
func NewServer(cfg domain.ServerConfig, scorer *scoring.Scorer, criteria *rules.Engine, repo domain.Repository, cache domain.Cache, queue Queue, version string) *Server {
	handler := NewHandler(scorer, criteria, repo, cache, queue, version)
	if cfg.MaxUploadMB > 0 {
		handler.maxUploadBytes = int64(cfg.MaxUploadMB) << 20
	}
	handler.uploadsPerMinute = cfg.UploadsPerMinute

	router := chi.NewRouter()
	router.Use(
		cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", TenantIDHeader, RequestIDHeader, TraceIDHeader},
			ExposedHeaders: []string{RequestIDHeader, TraceIDHeader, "Content-Disposition"},
			MaxAge:         int((24 * time.Hour).Seconds()),
		}),
		RecoverMiddleware,
		TracingMiddleware,
		LoggingMiddleware,
		middleware.RealIP,
		middleware.Compress(5),
	)

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/rate", handler.Rate)
		r.Get("/policy", handler.GetPolicy)

		r.Route("/batches", func(r chi.Router) {
			r.Post("/", handler.CreateBatch)
			r.Get("/", handler.ListBatches)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handler.GetBatch)
				r.Get("/status", handler.GetStatusView)
				r.Get("/ratings", handler.GetRatingView)
				r.Get("/download", handler.Download)
			})
		})

		r.Route("/criteria", func(r chi.Router) {
			r.Get("/", handler.ListCriteria)
			r.Post("/", handler.CreateCriterion)
			r.Post("/reload", handler.ReloadCriteria)
		})
	})

	return &Server{
		router: router,
		config: cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the routes to httptest.
func (s *Server) Router() *chi.Mux {
	return s.router
}
