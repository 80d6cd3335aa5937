/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. slog:       Structured request logging
  4. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/state       Derived allocation state
  /api/items/*     Redemption actions and item list replacement
  /api/staging/*   Staged item edits
  /api/seed        Demo dataset (dev only)
  /metrics         Prometheus
  /healthz         Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cli/serve.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Log))
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.GetState)

		r.Route("/items", func(r chi.Router) {
			r.Put("/", h.SaveItems)
			r.Post("/{type}/redeem", h.Redeem)
			r.Post("/{type}/defeat", h.AdmitDefeat)
			r.Post("/{type}/defeat/undo", h.UndoAdmitDefeat)
		})

		r.Route("/staging", func(r chi.Router) {
			r.Get("/", h.GetStaged)
			r.Post("/edit", h.StageEdit)
			r.Post("/remove", h.StageRemove)
			r.Post("/commit", h.CommitStaged)
			r.Post("/discard", h.DiscardStaged)
		})

		r.Post("/seed", h.LoadSeed)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

// requestLogger logs every request with method, path, status and latency.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
