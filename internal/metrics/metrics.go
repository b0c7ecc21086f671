package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wirerelay"

// Metrics holds the relay's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessionsOnline prometheus.Gauge
	messagesRouted *prometheus.CounterVec
	readReceipts   prometheus.Counter
	typing         *prometheus.CounterVec
	presenceEvents *prometheus.CounterVec
	eventsDropped  prometheus.Counter
	storeErrors    *prometheus.CounterVec
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		sessionsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_online",
			Help:      "Number of identities bound to a live connection.",
		}),
		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Messages routed, by outcome (delivered, stored, failed).",
		}, []string{"outcome"}),
		readReceipts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_receipts_total",
			Help:      "Messages marked as read.",
		}),
		typing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "typing_total",
			Help:      "Typing signals, by outcome (relayed, dropped).",
		}, []string{"outcome"}),
		presenceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_events_total",
			Help:      "Presence transitions announced, by state.",
		}, []string{"state"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Outbound events dropped because a client was slow or gone.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Store operation failures, by operation.",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.sessionsOnline,
		m.messagesRouted,
		m.readReceipts,
		m.typing,
		m.presenceEvents,
		m.eventsDropped,
		m.storeErrors,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetSessionsOnline records the current number of bound identities.
func (m *Metrics) SetSessionsOnline(n int) {
	if m != nil {
		m.sessionsOnline.Set(float64(n))
	}
}

func (m *Metrics) MessageRouted(outcome string) {
	if m != nil {
		m.messagesRouted.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ReadReceipt() {
	if m != nil {
		m.readReceipts.Inc()
	}
}

func (m *Metrics) Typing(relayed bool) {
	if m == nil {
		return
	}
	outcome := "dropped"
	if relayed {
		outcome = "relayed"
	}
	m.typing.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Presence(online bool) {
	if m == nil {
		return
	}
	state := "offline"
	if online {
		state = "online"
	}
	m.presenceEvents.WithLabelValues(state).Inc()
}

func (m *Metrics) EventDropped() {
	if m != nil {
		m.eventsDropped.Inc()
	}
}

func (m *Metrics) StoreError(op string) {
	if m != nil {
		m.storeErrors.WithLabelValues(op).Inc()
	}
}
