// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the service exports.
type Metrics struct {
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	LoginAttempts    *prometheus.CounterVec
	SessionsCreated  *prometheus.CounterVec
	SessionsRevoked  prometheus.Counter
	SessionsSwept    prometheus.Counter
	ValidateDuration prometheus.Histogram
	RiskScore        prometheus.Histogram
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// production; a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route pattern, and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "login_attempts_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		SessionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sessions_created_total",
			Help: "Sessions issued by security level.",
		}, []string{"security_level"}),
		SessionsRevoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "sessions_revoked_total",
			Help: "Sessions revoked through any path.",
		}),
		SessionsSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "sessions_swept_total",
			Help: "Expired sessions flagged by the sweeper.",
		}),
		ValidateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "session_validate_duration_seconds",
			Help:    "Session validation latency.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		RiskScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "risk_score",
			Help:    "Risk scores assigned at session creation.",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
	}
}
