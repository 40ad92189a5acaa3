package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "huddle"

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can be constructed without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	RoomsActive      prometheus.Gauge
	MembersConnected prometheus.Gauge
	Matches          *prometheus.CounterVec
	Relayed          *prometheus.CounterVec
	Dropped          *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
}

// NewMetrics creates and registers all collectors on a fresh registry.
//
// Postcondition: Returns Metrics whose Handler exposes every collector plus Go runtime metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Number of live rooms in the session registry.",
		}),
		MembersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "members_connected",
			Help:      "Number of connected members.",
		}),
		Matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Matchmaking outcomes by result (created, joined).",
		}, []string{"result"}),
		Relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_events_total",
			Help:      "Events delivered to member outboxes, by event name.",
		}, []string{"event"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Events not delivered, by reason.",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Commands waiting for the dispatcher.",
		}),
	}
	reg.MustRegister(
		m.RoomsActive,
		m.MembersConnected,
		m.Matches,
		m.Relayed,
		m.Dropped,
		m.QueueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns the HTTP exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetRooms records the live room count.
func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.RoomsActive.Set(float64(n))
}

// SetMembers records the connected member count.
func (m *Metrics) SetMembers(n int) {
	if m == nil {
		return
	}
	m.MembersConnected.Set(float64(n))
}

// Match counts one matchmaking outcome.
func (m *Metrics) Match(created bool) {
	if m == nil {
		return
	}
	result := "joined"
	if created {
		result = "created"
	}
	m.Matches.WithLabelValues(result).Inc()
}

// Delivered counts one event pushed to a member outbox.
func (m *Metrics) Delivered(event string) {
	if m == nil {
		return
	}
	m.Relayed.WithLabelValues(event).Inc()
}

// Drop counts one undelivered event.
func (m *Metrics) Drop(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

// SetQueueDepth records the dispatcher backlog.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
