// Package metrics exposes Prometheus collectors for the socket multiplexer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the interceptor's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	SettledTotal     *prometheus.CounterVec
	PendingRequests  prometheus.Gauge
	MessagesTotal    *prometheus.CounterVec
	MalformedTotal   prometheus.Counter
	ConnectionEvents *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to expose them on /metrics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mini_socket_requests_total",
				Help: "Server-bound messages written, by whether a reply was awaited",
			},
			[]string{"kind"},
		),
		SettledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mini_socket_requests_settled_total",
				Help: "Awaited requests settled, by outcome",
			},
			[]string{"outcome"},
		),
		PendingRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mini_socket_pending_requests",
				Help: "Requests waiting for a reply",
			},
		),
		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mini_socket_messages_total",
				Help: "Frames by direction",
			},
			[]string{"direction"},
		),
		MalformedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mini_socket_malformed_messages_total",
				Help: "Inbound frames dropped because they failed to decode",
			},
		),
		ConnectionEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mini_socket_connection_events_total",
				Help: "Connection lifecycle events",
			},
			[]string{"event"},
		),
	}
}

func (m *Metrics) RecordRequest(awaited bool) {
	if m == nil {
		return
	}
	kind := "fire"
	if awaited {
		kind = "awaited"
	}
	m.RequestsTotal.WithLabelValues(kind).Inc()
	m.MessagesTotal.WithLabelValues("out").Inc()
}

func (m *Metrics) RecordSettled(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SettledTotal.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(n))
}

func (m *Metrics) RecordInbound() {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues("in").Inc()
}

func (m *Metrics) RecordMalformed() {
	if m == nil {
		return
	}
	m.MalformedTotal.Inc()
}

func (m *Metrics) RecordConnectionEvent(event string) {
	if m == nil {
		return
	}
	m.ConnectionEvents.WithLabelValues(event).Inc()
}
