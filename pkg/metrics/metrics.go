// Package metrics holds the Prometheus collectors shared by the datasync
// packages. Collectors register once on the default registry at init and are
// served by promhttp on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TokenRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datasync_token_requests_total",
		Help: "Token endpoint calls by connector, grant type and outcome",
	}, []string{"connector", "grant", "outcome"})

	ListingAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datasync_listing_attempts_total",
		Help: "Remote folder listing attempts by lister kind and outcome (ok, unauthorized, error)",
	}, []string{"kind", "outcome"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "datasync_provider_latency_seconds",
		Help:    "Latency of outbound provider calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"call"})

	FlowsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datasync_authorization_flows_started_total",
		Help: "Authorization URLs handed out per connector",
	}, []string{"connector"})
)

// ObserveSince records the time elapsed since start for call.
func ObserveSince(call string, start time.Time) {
	ProviderLatency.WithLabelValues(call).Observe(time.Since(start).Seconds())
}

// Outcome maps an error to a short label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
