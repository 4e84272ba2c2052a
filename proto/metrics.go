package proto

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts protocol traffic on the server side.
type Metrics struct {
	requests    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	latency     prometheus.Histogram
	connections prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irminsule_requests_total",
			Help: "Requests handled, by opcode",
		}, []string{"op"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irminsule_request_errors_total",
			Help: "Requests that failed, by opcode",
		}, []string{"op"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "irminsule_request_duration_seconds",
			Help:    "Request handling latency",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "irminsule_connections",
			Help: "Open protocol connections",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.errors, m.latency, m.connections)
	}
	return m
}

func (m *Metrics) request(op byte) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(OpName(op)).Inc()
}

func (m *Metrics) errored(op byte) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(OpName(op)).Inc()
}

func (m *Metrics) observe(seconds float64) {
	if m == nil {
		return
	}
	m.latency.Observe(seconds)
}

func (m *Metrics) connOpen() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) connClose() {
	if m == nil {
		return
	}
	m.connections.Dec()
}
