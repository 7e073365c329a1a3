// Package metrics exposes login activity to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frahmantamala/payment-dashboard/internal/auth"
)

// Collector counts login steps and their latency.
type Collector struct {
	attempts *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_auth_attempts_total",
			Help: "Resolved login steps by step and result.",
		}, []string{"step", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dashboard_auth_backend_latency_seconds",
			Help:    "Latency of users API calls made by login steps.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
	}

	reg.MustRegister(c.attempts, c.latency)
	return c
}

// RecordAttempt implements auth.AttemptRecorder.
func (c *Collector) RecordAttempt(_ context.Context, rec auth.AttemptRecord) {
	result := "success"
	if rec.Reason != auth.ReasonNone {
		result = string(rec.Reason)
	}
	c.attempts.WithLabelValues(string(rec.Step), result).Inc()
	if rec.Duration > 0 {
		c.latency.WithLabelValues(string(rec.Step)).Observe(rec.Duration.Seconds())
	}
}

// RegisterSessionGauge exposes the number of live dashboard sessions.
func RegisterSessionGauge(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dashboard_sessions_active",
		Help: "Browser sessions with a login machine in memory.",
	}, func() float64 { return float64(count()) }))
}

// Handler returns the Prometheus scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ auth.AttemptRecorder = (*Collector)(nil)
