package extract

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for packet decoding and SIP extraction.
type Metrics struct {
	Incoming   prometheus.Counter
	Invalid    prometheus.Counter
	Fragments  prometheus.Counter
	ShortFrags prometheus.Counter
	BadDefrag  prometheus.Counter
	Defrag     prometheus.Counter

	Seen       *prometheus.CounterVec
	Incomplete *prometheus.CounterVec
	Discarded  *prometheus.CounterVec
	Captured   *prometheus.CounterVec
}

// NewMetrics creates, but does not register, the extraction metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		Incoming: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packets_incoming_total",
			Help: "incoming packets after bpf filtering",
		}),
		Invalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packets_invalid_total",
			Help: "packets with invalid transport or network layers",
		}),
		Fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packets_fragment_total",
			Help: "ipv4 fragments held for reassembly",
		}),
		ShortFrags: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packets_short_fragment_total",
			Help: "ipv4 fragments under the minimum length",
		}),
		BadDefrag: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packets_defragment_failed_total",
			Help: "ipv4 reassembly failures",
		}),
		Defrag: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packets_defragmented_total",
			Help: "ipv4 packets reassembled from fragments",
		}),
		Seen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segments_seen_total",
			Help: "transport segments and datagrams examined",
		}, []string{"transport"}),
		Incomplete: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sip_incomplete_total",
			Help: "times a stream waited for the rest of a SIP message",
		}, []string{"transport"}),
		Discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sip_not_framed_total",
			Help: "datagrams or stream bytes that were not SIP",
		}, []string{"transport"}),
		Captured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sip_extracted_total",
			Help: "SIP messages extracted",
		}, []string{"transport"}),
	}

	for _, s := range []string{"udp", "tcp"} {
		m.Seen.WithLabelValues(s)
		m.Incomplete.WithLabelValues(s)
		m.Discarded.WithLabelValues(s)
		m.Captured.WithLabelValues(s)
	}
	return m
}

// List returns each metric, for adding to a prometheus.Registry.
func (m Metrics) List() []prometheus.Collector {
	return []prometheus.Collector{
		m.Incoming,
		m.Invalid,
		m.Fragments,
		m.ShortFrags,
		m.BadDefrag,
		m.Defrag,
		m.Seen,
		m.Incomplete,
		m.Discarded,
		m.Captured,
	}
}
