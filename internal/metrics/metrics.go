// Package metrics exports signaling counters and registry gauges to
// Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons for frames the transport could not deliver.
const (
	DropReasonQueueFull   = "queue_full"
	DropReasonClosed      = "closed"
	DropReasonRateLimited = "rate_limited"
)

const namespace = "signaling"

// Metrics owns the signaling collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	reg prometheus.Registerer

	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	errorsSent       *prometheus.CounterVec
	events           *prometheus.CounterVec
	droppedFrames    *prometheus.CounterVec
	malformedFrames  prometheus.Counter
}

// New registers the collectors with reg. Registering twice with the same
// registry panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,

		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound signaling messages accepted by the engine, by type.",
		}, []string{"type"}),

		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound signaling messages, by type.",
		}, []string{"type"}),

		errorsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_sent_total",
			Help:      "Protocol error messages sent to clients, by code.",
		}, []string{"code"}),

		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Engine lifecycle events, by name.",
		}, []string{"event"}),

		droppedFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_dropped_frames_total",
			Help:      "WebSocket frames that were not delivered, by reason.",
		}, []string{"reason"}),

		malformedFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_malformed_frames_total",
			Help:      "Inbound WebSocket frames rejected before reaching the engine.",
		}),
	}
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.droppedFrames.WithLabelValues(reason).Inc()
}

func (m *Metrics) FrameMalformed() {
	if m == nil {
		return
	}
	m.malformedFrames.Inc()
}
