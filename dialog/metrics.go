package dialog

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains Prometheus metrics about dialog tracking: how many
// messages were stored or discarded, and how many dialogs are live.
type Metrics struct {
	Ingested    prometheus.Counter
	Discarded   *prometheus.CounterVec
	Created     prometheus.Counter
	Live        prometheus.Gauge
	Transitions *prometheus.CounterVec
}

// NewMetrics creates, but does not register, the store metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		Ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dialog_msgs_ingested_total",
			Help: "SIP messages stored in a dialog",
		}),
		Discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dialog_msgs_discarded_total",
			Help: "SIP messages discarded, by reason",
		}, []string{"reason"}),
		Created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dialog_calls_created_total",
			Help: "Dialogs created",
		}),
		Live: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dialog_calls",
			Help: "Dialogs currently held in the store",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dialog_call_state_transitions_total",
			Help: "Call state changes, by new state",
		}, []string{"state"}),
	}

	// zero fill so every reason shows up before it first happens.
	for _, r := range reasons {
		m.Discarded.WithLabelValues(r.label)
	}
	return m
}

// List the collectors so they can be registered with a prometheus.Registry.
func (m Metrics) List() []prometheus.Collector {
	return []prometheus.Collector{
		m.Ingested,
		m.Discarded,
		m.Created,
		m.Live,
		m.Transitions,
	}
}
