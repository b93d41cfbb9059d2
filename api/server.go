/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  unique ID per request for tracing
  2. RealIP:     client address behind proxies
  3. Logger:     structured request log (slog)
  4. Recoverer:  panic recovery (500 instead of crash)
  5. CORS:       cross-origin requests for the back office
  6. Authenticate (under /api only): bearer token to ledger.Reviewer

ROUTE GROUPS:
  /healthz            Liveness and store reachability, no auth
  /api/users/*        Account requests
  /api/products/*     Listing, trading and payment requests
  /api/compliance/*   Review queue
  /api/notifications  Notification feed

SEE ALSO:
  - handlers.go: handler implementations
  - auth.go: token verification
  - cmd/server/main.go: server startup
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the transport settings of NewRouter.
type RouterConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, v verifier, health Pinger, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}))

	r.Get("/healthz", healthz(health))

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(v))

		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)
			r.Patch("/{id}", h.UpdateUser)
			r.Post("/{id}/deactivate", h.DeactivateUser)
			r.Delete("/{id}", h.DeleteUser)
		})

		r.Route("/products", func(r chi.Router) {
			r.Post("/", h.CreateProduct)
			r.Post("/{id}/deactivate", h.DeactivateProduct)
			r.Post("/{id}/buy", h.Buy)
			r.Post("/{id}/sell", h.Sell)
			r.Post("/{id}/payments", h.Pay)
		})

		r.Route("/compliance", func(r chi.Router) {
			r.Get("/", h.ListCompliance)
			r.Get("/filters", h.ComplianceFilters)
			r.Post("/{id}/approve", h.Approve)
			r.Post("/{id}/reject", h.Reject)
		})

		r.Get("/notifications", h.ListNotifications)
	})

	return r
}

func healthz(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// requestLogger logs one line per request with its chi request ID.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
