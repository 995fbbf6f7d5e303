/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request log (level by status)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus count + duration per route pattern
  5. CORS:       Cross-origin requests for frontend
  6. Actor:      /api only; resolves X-Actor-ID into a leave.Actor
  7. Rate limit: /api only; per actor token bucket (429)

ROUTE GROUPS:
  /api/balances/*   Balance reads
  /api/admin/*      Balance assignment
  /api/requests/*   Request workflow
  /api/me/*         Caller's capabilities
  /metrics          Prometheus
  /healthz          Liveness

AUTHENTICATION:
  The actor header is trusted. Authentication belongs to a gateway in
  front of this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// ActorHeader carries the caller's user id.
const ActorHeader = "X-Actor-ID"

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(h.resolveActor)
		if h.Limiter != nil {
			r.Use(h.Limiter.Middleware)
		}

		r.Route("/balances/{user}", func(r chi.Router) {
			r.Get("/", h.GetBalances)
			r.Get("/{leaveType}/{year}", h.GetBalance)
			r.Get("/{leaveType}/{year}/history", h.GetBalanceHistory)
		})

		r.Post("/admin/balances", h.AssignBalance)

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.SubmitRequest)
			r.Get("/", h.ListRequests)
			r.Get("/{id}", h.GetRequest)
			r.Post("/{id}/supervisor-approve", h.SupervisorApprove)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/reject", h.RejectRequest)
			r.Post("/{id}/start", h.StartLeave)
			r.Post("/{id}/complete", h.CompleteLeave)
		})

		r.Get("/me/capabilities", h.GetCapabilities)
		r.Get("/overlap", h.CheckOverlap)
	})

	return r
}

// =============================================================================
// ACTOR MIDDLEWARE
// =============================================================================

type actorKey struct{}

func withActor(ctx context.Context, a leave.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// actorFrom returns the resolved actor. Routes behind resolveActor always
// have one.
func actorFrom(ctx context.Context) leave.Actor {
	a, _ := ctx.Value(actorKey{}).(leave.Actor)
	return a
}

func (h *Handler) resolveActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(ActorHeader)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+ActorHeader+" header", nil)
			return
		}

		actor, err := h.Directory.Resolve(r.Context(), leave.UserID(id))
		if err != nil {
			if leave.IsNotFound(err) {
				writeError(w, http.StatusUnauthorized, "Unknown actor", err)
				return
			}
			h.writeDomainError(w, "Failed to resolve actor", err)
			return
		}

		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

// =============================================================================
// REQUEST LOGGING
// =============================================================================

// requestLogger logs one line per request: Info below 400, Warn for 4xx,
// Error for 5xx.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("actor_id", r.Header.Get(ActorHeader)),
			}
			switch {
			case status >= 500:
				logger.Error("http request", fields...)
			case status >= 400:
				logger.Warn("http request", fields...)
			default:
				logger.Info("http request", fields...)
			}
		})
	}
}
