package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/engine"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/link"
)

const namespace = "balance"

// Metrics holds the orchestrator's collectors on a private registry. It
// satisfies telemetry.RouterMetrics and backend.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	samplesRouted   *prometheus.CounterVec
	samplesRejected *prometheus.CounterVec
	protocolErrors  *prometheus.CounterVec
	engineEvents    *prometheus.CounterVec
	linkState       *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		samplesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "samples_routed_total",
			Help:      "CoP samples accepted and routed, per device.",
		}, []string{"device"}),
		samplesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "samples_rejected_total",
			Help:      "CoP samples dropped for non-finite values, per device.",
		}, []string{"device"}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "protocol_errors_total",
			Help:      "Malformed messages received, per link.",
		}, []string{"link"}),
		engineEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Exercise engine events, per kind.",
		}, []string{"kind"}),
		linkState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "state",
			Help:      "Peer link state: 0 disconnected, 1 connecting, 2 connected.",
		}, []string{"link"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.samplesRouted,
		m.samplesRejected,
		m.protocolErrors,
		m.engineEvents,
		m.linkState,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SampleRouted(deviceID string) {
	m.samplesRouted.WithLabelValues(deviceID).Inc()
}

func (m *Metrics) SampleRejected(deviceID string) {
	m.samplesRejected.WithLabelValues(deviceID).Inc()
}

func (m *Metrics) ProtocolError(link string) {
	m.protocolErrors.WithLabelValues(link).Inc()
}

// EventSource is implemented by *engine.Engine
type EventSource interface {
	ListenToEvents(callback func(engine.Event)) func()
}

// WatchEngine counts every event from src until the returned func is called
func (m *Metrics) WatchEngine(src EventSource) func() {
	return src.ListenToEvents(func(ev engine.Event) {
		m.engineEvents.WithLabelValues(ev.Kind.String()).Inc()
	})
}

// WatchLink tracks l's state until the returned func is called
func (m *Metrics) WatchLink(l *link.Link) func() {
	gauge := m.linkState.WithLabelValues(l.Name())
	gauge.Set(float64(l.State()))
	return l.ListenToState(func(s link.State) {
		gauge.Set(float64(s))
	})
}
