// Package server exposes the service over HTTP. Routes, middleware, and the
// response envelope live here; all behavior belongs to the services.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"org-security-engine/internal/audit"
	"org-security-engine/internal/authz"
	identityservice "org-security-engine/internal/identity/service"
	"org-security-engine/internal/metrics"
	organizationdomain "org-security-engine/internal/organization/domain"
	sessionservice "org-security-engine/internal/session/service"
)

// Pinger reports storage liveness for the health endpoint, e.g. *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// OrgStore resolves organizations for existence checks on org-scoped routes.
type OrgStore interface {
	GetByID(ctx context.Context, id string) (*organizationdomain.Org, error)
}

// AttemptLimiter reports the attempts left in a source's login window.
type AttemptLimiter interface {
	Remaining(ctx context.Context, key string) (int64, error)
}

// Deps holds the services the HTTP layer dispatches to.
type Deps struct {
	Auth     *identityservice.AuthService
	Sessions *sessionservice.Manager
	Audit    *audit.Logger
	Guard    *authz.Guard
	Orgs     OrgStore
	Metrics  *metrics.Metrics
	Log      *zap.Logger
	// DB is pinged by /healthz. Nil skips the check.
	DB Pinger
	// Limiter feeds the rate limit response headers on throttled logins. Nil
	// omits them.
	Limiter AttemptLimiter
	// RequestTimeout bounds every request; zero means 15s.
	RequestTimeout time.Duration
	// ValidateTimeout bounds token validation and permission checks; zero
	// means 500ms.
	ValidateTimeout time.Duration
}

// NewRouter builds the service's HTTP routes.
func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 15 * time.Second
	}
	if d.ValidateTimeout <= 0 {
		d.ValidateTimeout = 500 * time.Millisecond
	}
	h := &handlers{deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(d.RequestTimeout))
	if d.Metrics != nil {
		r.Use(recordMetrics(d.Metrics))
	}

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", h.login)
		r.Post("/password-reset/request", h.requestPasswordReset)
		r.Post("/password-reset/confirm", h.confirmPasswordReset)

		// Validation and permission checks answer within the short budget.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(d.ValidateTimeout))
			r.Get("/sessions/validate", h.validate)
			r.Post("/sessions/{token}/revoke", h.revoke)
			r.Get("/users/{id}/sessions", h.listSessions)
			r.Post("/users/{id}/sessions/revoke-all", h.revokeAll)
			r.Get("/users/{id}/audit", h.userAudit)
			r.Get("/orgs/{id}/audit", h.orgAudit)
		})
	})
	return r
}
