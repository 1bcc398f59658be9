package source

import (
	"github.com/google/gopacket/pcap"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records what a source captures from and, for live captures, the
// libpcap packet counters.
type Metrics struct {
	Info     *prometheus.GaugeVec
	Received prometheus.GaugeFunc
	Dropped  prometheus.GaugeFunc
}

// newMetrics creates Metrics reading counters with stats.  Offline and closed
// handles have no counters and report zero.
func newMetrics(stats func() (*pcap.Stats, error)) *Metrics {
	stat := func(pick func(*pcap.Stats) int) func() float64 {
		return func() float64 {
			s, err := stats()
			if err != nil {
				return 0
			}
			return float64(pick(s))
		}
	}
	return &Metrics{
		Info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "packets_source_info",
			Help: "Constant, labeled with capture source, mode and BPF filter",
		}, []string{"source", "mode", "bpf_filter"}),
		Received: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "packets_pcap_received",
			Help: "Packets received by libpcap on a live interface",
		}, stat(func(s *pcap.Stats) int { return s.PacketsReceived })),
		Dropped: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "packets_pcap_dropped",
			Help: "Packets dropped by the kernel or interface on a live capture",
		}, stat(func(s *pcap.Stats) int { return s.PacketsDropped + s.PacketsIfDropped })),
	}
}

// List the items contained with a Metrics so that they can be exposed via a
// prometheus.Registry
func (m Metrics) List() []prometheus.Collector {
	return []prometheus.Collector{
		m.Info,
		m.Received,
		m.Dropped,
	}
}
