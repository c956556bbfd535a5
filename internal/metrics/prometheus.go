// Package metrics provides Prometheus metrics for monitoring.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics holds all Prometheus metrics
type PrometheusMetrics struct {
	// Session metrics
	PacketsSent    prometheus.Counter
	CoverPackets   prometheus.Counter
	DegradedSends  prometheus.Counter
	PayloadBytes   prometheus.Counter
	PacketDuration prometheus.Histogram

	// Circuit metrics
	CircuitsBuilt   prometheus.Counter
	CircuitsExpired prometheus.Counter
	ActiveCircuits  prometheus.Gauge
	CircuitHops     prometheus.Histogram

	// Routing metrics
	RoutingDecisions prometheus.Counter

	// Relay metrics
	PacketsForwarded  prometheus.Counter
	PacketsDelivered  prometheus.Counter
	PacketsDropped    prometheus.Counter
	ActiveConnections prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits prometheus.Counter

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates and registers all metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	m := &PrometheusMetrics{
		registry: registry,

		PacketsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "taior",
				Name:      "packets_sent_total",
				Help:      "Total number of real packets built",
			},
		),

		CoverPackets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "taior",
				Name:      "cover_packets_total",
				Help:      "Total number of cover packets generated",
			},
		),

		DegradedSends: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "taior",
				Name:      "degraded_sends_total",
				Help:      "Sends that fell back to single-layer encryption",
			},
		),

		PayloadBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "taior",
				Name:      "payload_bytes_total",
				Help:      "Total payload bytes accepted for sending",
			},
		),

		PacketDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "taior",
				Name:      "packet_build_duration_seconds",
				Help:      "Time spent building one packet end to end",
				Buckets:   prometheus.DefBuckets,
			},
		),

		CircuitsBuilt: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "taior",
				Name:      "circuits_built_total",
				Help:      "Total number of circuits built",
			},
		),

		CircuitsExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "taior",
				Name:      "circuits_expired_total",
				Help:      "Total number of circuits dropped after TTL",
			},
		),

		ActiveCircuits: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "taior",
				Name:      "active_circuits",
				Help:      "Number of live circuits",
			},
		),

		CircuitHops: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "taior",
				Name:      "circuit_hops",
				Help:      "Hop count distribution of built circuits",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
		),

		RoutingDecisions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "taior",
				Name:      "routing_decisions_total",
				Help:      "Total number of next-hop decisions",
			},
		),

		PacketsForwarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "taior",
				Name:      "packets_forwarded_total",
				Help:      "Packets forwarded to a next hop",
			},
		),

		PacketsDelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "taior",
				Name:      "packets_delivered_total",
				Help:      "Packets delivered locally at the final hop",
			},
		),

		PacketsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "taior",
				Name:      "packets_dropped_total",
				Help:      "Packets dropped as invalid",
			},
		),

		ActiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "taior",
				Name:      "active_connections",
				Help:      "Number of active relay client connections",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taior",
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type"},
		),

		RateLimitHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "taior",
				Name:      "rate_limit_hits_total",
				Help:      "Total number of rate limit hits",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.PacketsSent,
		m.CoverPackets,
		m.DegradedSends,
		m.PayloadBytes,
		m.PacketDuration,
		m.CircuitsBuilt,
		m.CircuitsExpired,
		m.ActiveCircuits,
		m.CircuitHops,
		m.RoutingDecisions,
		m.PacketsForwarded,
		m.PacketsDelivered,
		m.PacketsDropped,
		m.ActiveConnections,
		m.ErrorsTotal,
		m.RateLimitHits,
	)

	// Register default Go metrics
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns the HTTP handler for the metrics endpoint
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordError records an error by type
func (m *PrometheusMetrics) RecordError(errorType string) {
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
