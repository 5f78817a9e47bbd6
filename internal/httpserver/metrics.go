package httpserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// Stats is a snapshot of the server's connection counters
type Stats struct {
	Connections int64
	Matched     int64
	Fallbacks   int64
	Failures    int64
}

type counters struct {
	connections atomic.Int64
	matched     atomic.Int64
	fallbacks   atomic.Int64
	failures    atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Connections: c.connections.Load(),
		Matched:     c.matched.Load(),
		Fallbacks:   c.fallbacks.Load(),
		Failures:    c.failures.Load(),
	}
}

// Metrics exports dispatcher activity to Prometheus
type Metrics struct {
	connections *prometheus.CounterVec
	routes      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics creates the dispatcher collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haws",
			Name:      "connections_total",
			Help:      "Connections handled, by outcome.",
		}, []string{"outcome"}),
		routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haws",
			Name:      "route_requests_total",
			Help:      "Requests dispatched, by route path.",
		}, []string{"route"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "haws",
			Name:      "handler_duration_seconds",
			Help:      "Time spent in route handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(m.connections, m.routes, m.duration)
	return m
}

func (m *Metrics) observeRoute(route string, d time.Duration) {
	if m == nil {
		return
	}
	m.routes.WithLabelValues(route).Inc()
	m.duration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) observeConn(outcome string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(outcome).Inc()
}
