// Package source opens packet sources for capture: a live interface or a
// pcap file, both through libpcap with a BPF filter.  Captured packets can
// also be saved to a pcap file as they pass by.
package source

import (
	"fmt"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/prometheus/client_golang/prometheus"
)

type constError string

func (e constError) Error() string { return string(e) }

const (
	// snapLen is large enough for any SIP message over UDP.
	snapLen = 65535

	errClosed = constError("source is closed")
)

// ClosableSource wraps a pcap.Handle and gopacket.PacketSource together into
// one unit which can deliver packets via Packets() and expose a Close() method
// to cleanly shut down.
type ClosableSource struct {
	handle  *pcap.Handle
	source  *gopacket.PacketSource
	metrics *Metrics
	closed  atomic.Bool
}

// Packets returns a channel of gopacket.Packets from the pcap source.  It's
// closed at the end of a file, or once the source is closed.
func (c *ClosableSource) Packets() chan gopacket.Packet {
	return c.source.Packets()
}

// LinkType is the link layer of the captured packets.
func (c *ClosableSource) LinkType() layers.LinkType {
	return c.handle.LinkType()
}

// Close stops the pcap handle which should in turn close the source.Packets()
// channel.
func (c *ClosableSource) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.handle.Close()
	}
}

func (c *ClosableSource) stats() (*pcap.Stats, error) {
	if c.closed.Load() {
		return nil, errClosed
	}
	return c.handle.Stats()
}

// Metrics returns a slice of prometheus.Collector items
// for exposing the interface and filter options via Prometheus.
func (c *ClosableSource) Metrics() []prometheus.Collector { return c.metrics.List() }

// NewPCAP creates a ClosableSource with pcap configured for live capture with
// the appropriate filter.
func NewPCAP(iface string, filter string) (*ClosableSource, error) {
	handle, err := pcap.OpenLive(iface, snapLen, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("opening capture interface %v: %w", iface, err)
	}
	return newSource(handle, iface, "live", filter)
}

// NewOffline creates a ClosableSource reading a pcap file, delivering only
// packets matching filter.
func NewOffline(path string, filter string) (*ClosableSource, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("opening capture file %v: %w", path, err)
	}
	return newSource(handle, path, "offline", filter)
}

func newSource(handle *pcap.Handle, name, mode, filter string) (*ClosableSource, error) {
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("setting BPF filter to %v: %w", filter, err)
		}
	}

	src := &ClosableSource{
		source: gopacket.NewPacketSource(handle, handle.LinkType()),
		handle: handle,
	}
	src.metrics = newMetrics(src.stats)
	src.metrics.Info.WithLabelValues(name, mode, filter).Set(1)
	return src, nil
}
