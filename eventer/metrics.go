package eventer

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "tcp_audit"
	metricsSubsystem = "probe"
)

type metrics struct {
	reg        prometheus.Registerer
	registered []prometheus.Collector

	events            prometheus.Counter
	deserialiseErrors prometheus.Counter
	dropped           prometheus.Counter
}

// newMetrics creates the eventer's counters and registers them on reg
// unless it is nil.
func newMetrics(reg prometheus.Registerer, backend string) (*metrics, error) {
	labels := prometheus.Labels{"backend": backend}

	m := &metrics{
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "events_total",
			Help:        "TCP state-change events delivered to the consumer.",
			ConstLabels: labels,
		}),
		deserialiseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "deserialise_errors_total",
			Help:        "Records that could not be turned into events.",
			ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "dropped_events_total",
			Help:        "Records lost to full capture buffers.",
			ConstLabels: labels,
		}),
	}

	if reg == nil {
		return m, nil
	}

	m.reg = reg
	for _, c := range []prometheus.Collector{m.events, m.deserialiseErrors, m.dropped} {
		if err := reg.Register(c); err != nil {
			m.unregister()
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
		m.registered = append(m.registered, c)
	}

	return m, nil
}

// unregister removes whatever newMetrics registered. Only collectors this
// eventer registered are touched, never ones that clashed with them.
func (m *metrics) unregister() {
	for _, c := range m.registered {
		m.reg.Unregister(c)
	}
	m.registered = nil
}

func (m *metrics) eventDelivered()        { m.events.Inc() }
func (m *metrics) deserialiseFailed()     { m.deserialiseErrors.Inc() }
func (m *metrics) eventsDropped(n uint64) { m.dropped.Add(float64(n)) }
