package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/engine"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/events"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/protocol"
)

// Observe feeds m from e's events and exposes e's registry sizes as gauges.
// Call it once per engine, before the engine starts serving.
func (m *Metrics) Observe(e *engine.Engine) {
	if m == nil {
		return
	}
	factory := promauto.With(m.reg)

	gauge := func(name, help string, read func(engine.Stats) int) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(e.Stats())) })
	}
	gauge("connections", "Open signaling connections.", func(s engine.Stats) int { return s.Connections })
	gauge("users", "Identified users.", func(s engine.Stats) int { return s.Users })
	gauge("sessions", "Open sessions.", func(s engine.Stats) int { return s.Sessions })

	for _, name := range events.All {
		counter := m.events.WithLabelValues(string(name))
		e.On(name, events.Notify(func(*events.Context) { counter.Inc() }))
	}
	e.On(events.MessageReceived, events.Notify(func(c *events.Context) {
		m.messagesReceived.WithLabelValues(string(c.Message.Type)).Inc()
	}))
	e.On(events.MessageSent, events.Notify(func(c *events.Context) {
		m.messagesSent.WithLabelValues(string(c.Message.Type)).Inc()
		if c.Message.Type == protocol.TypeError {
			m.errorsSent.WithLabelValues(string(c.Message.Code)).Inc()
		}
	}))
}

// Handler serves the exposition of g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
