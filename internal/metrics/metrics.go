// Package metrics exposes Prometheus collectors for the protocol engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signer"

var connectionStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

type Metrics struct {
	registry *prometheus.Registry

	Frames          *prometheus.CounterVec
	RelayMessages   *prometheus.CounterVec
	Events          *prometheus.CounterVec
	DroppedEvents   *prometheus.CounterVec
	DecodeFailures  *prometheus.CounterVec
	SignerRequests  *prometheus.CounterVec
	Reconnects      *prometheus.CounterVec
	InvoiceUpdates  *prometheus.CounterVec
	PendingRequests *prometheus.GaugeVec
	ConnectionState *prometheus.GaugeVec
	OutboxSize      prometheus.Gauge
}

// New builds collectors on a private registry, plus Go and process
// collectors when withRuntime is set.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_total",
			Help: "Inbound transport fragments by framing result.",
		}, []string{"result"}),
		RelayMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "relay_messages_total",
			Help: "Complete relay protocol messages by type.",
		}, []string{"type"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_total",
			Help: "Accepted inbound events by route.",
		}, []string{"route"}),
		DroppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dropped_events_total",
			Help: "Inbound events dropped before routing.",
		}, []string{"reason"}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "decode_failures_total",
			Help: "Envelope decode failures by reason.",
		}, []string{"reason"}),
		SignerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signer_requests_total",
			Help: "Remote-signer requests by method and decision.",
		}, []string{"method", "decision"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnects_total",
			Help: "Reconnect requests by reason and whether they were accepted.",
		}, []string{"reason", "accepted"}),
		InvoiceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "invoice_updates_total",
			Help: "Invoice record transitions by status.",
		}, []string{"status"}),
		PendingRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_requests",
			Help: "Outstanding correlated requests by kind.",
		}, []string{"kind"}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connection_state",
			Help: "1 for the current relay connection state.",
		}, []string{"state"}),
		OutboxSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "outbox_size",
			Help: "Messages waiting for the relay to come back.",
		}),
	}
	m.registry.MustRegister(
		m.Frames, m.RelayMessages, m.Events, m.DroppedEvents, m.DecodeFailures,
		m.SignerRequests, m.Reconnects, m.InvoiceUpdates, m.PendingRequests,
		m.ConnectionState, m.OutboxSize,
	)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m.SetConnectionState("disconnected")
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SetConnectionState(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) ObserveReconnect(reason string, accepted bool) {
	label := "false"
	if accepted {
		label = "true"
	}
	m.Reconnects.WithLabelValues(reason, label).Inc()
}

// SetPending replaces the pending gauge with counts, zeroing kinds not present.
func (m *Metrics) SetPending(counts map[string]int) {
	m.PendingRequests.Reset()
	for kind, n := range counts {
		m.PendingRequests.WithLabelValues(kind).Set(float64(n))
	}
}
