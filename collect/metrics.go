package collect

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains Prometheus metrics about event publishing, including the
// current filter and how many events have been rejected and published.
type Metrics struct {
	Filter    *prometheus.GaugeVec
	Rejected  prometheus.Counter
	Published prometheus.Counter
	Failed    prometheus.Counter
	Dropped   prometheus.Counter
}

// NewMetrics creates a newly initialized Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Filter: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "events_filter_info",
			Help: "Constant, labeled with the publish filter setting",
		}, []string{"publish_filter"}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "events_rejected_total",
			Help: "Number of call state changes rejected by the publish filter",
		}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Number of call state changes published",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "events_publish_failed_total",
			Help: "Number of call state changes the broker did not take",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Number of call state changes dropped due to a full queue",
		}),
	}
}

// List the items contained with a metrics so they can be exposed via a
// prometheus.Registry.
func (m Metrics) List() []prometheus.Collector {
	return []prometheus.Collector{
		m.Filter,
		m.Rejected,
		m.Published,
		m.Failed,
		m.Dropped,
	}
}
