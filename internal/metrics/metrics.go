// Package metrics exposes Prometheus counters for session operations and
// social login negotiations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the session store and the negotiator report into.
type Recorder interface {
	RecordSessionOperation(operation, result string)
	RecordNegotiation(provider, outcome string, duration time.Duration)
}

// Collector is the Prometheus backed Recorder.
type Collector struct {
	sessionOps          *prometheus.CounterVec
	negotiations        *prometheus.CounterVec
	negotiationDuration *prometheus.HistogramVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lqauth_session_operations_total",
			Help: "Session store operations by operation and result",
		}, []string{"operation", "result"}),
		negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lqauth_social_negotiations_total",
			Help: "Social login negotiations by provider and outcome",
		}, []string{"provider", "outcome"}),
		negotiationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lqauth_social_negotiation_duration_seconds",
			Help:    "Time from opening the authorization window to the terminal event",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{"provider"}),
	}

	reg.MustRegister(c.sessionOps, c.negotiations, c.negotiationDuration)
	return c
}

func (c *Collector) RecordSessionOperation(operation, result string) {
	c.sessionOps.WithLabelValues(operation, result).Inc()
}

func (c *Collector) RecordNegotiation(provider, outcome string, duration time.Duration) {
	c.negotiations.WithLabelValues(provider, outcome).Inc()
	c.negotiationDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordSessionOperation(string, string)           {}
func (Nop) RecordNegotiation(string, string, time.Duration) {}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
