// Package server exposes the cart over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"erp/ecommerce/cart-service/internal/action"
	"erp/ecommerce/cart-service/internal/catalog"
	"erp/ecommerce/cart-service/internal/logging"
	"erp/ecommerce/cart-service/internal/metrics"
)

type Options struct {
	Actions *action.Actions
	// Catalog is optional; without it /api/cart/view serves captured fields.
	Catalog     *catalog.Client
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Module      string
	ServiceName string
	// StoreMode is reported by /healthz.
	StoreMode   string
	CORSOrigins []string
}

type Server struct {
	actions     *action.Actions
	catalog     *catalog.Client
	metrics     *metrics.Metrics
	logger      *zap.Logger
	module      string
	serviceName string
	storeMode   string
	corsOrigins []string
}

func New(opts Options) *Server {
	s := &Server{
		actions:     opts.Actions,
		catalog:     opts.Catalog,
		metrics:     opts.Metrics,
		logger:      logging.OrNop(opts.Logger),
		module:      opts.Module,
		serviceName: opts.ServiceName,
		storeMode:   opts.StoreMode,
		corsOrigins: opts.CORSOrigins,
	}
	if s.module == "" {
		s.module = "ERP-eCommerce"
	}
	if s.serviceName == "" {
		s.serviceName = "cart-service"
	}
	return s
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(withServerDefaults)
	r.Use(s.observe)
	r.Use(s.recoverJSON)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})

	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Get("/api/cart", s.getCart)
	r.Post("/api/cart", s.postCart)
	r.Get("/api/cart/view", s.viewCart)
	return r
}

// HTTPServer wraps Handler with the service's connection limits.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}
