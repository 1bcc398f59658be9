// Package extract turns captured packets into SIP payloads: IPv4 fragments
// are reassembled, TCP streams are reassembled and split into messages, and
// UDP datagrams carrying SIP are passed on whole.
package extract

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/ip4defrag"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/tcpassembly"
	"github.com/nextcaller/sip-dialogs/sipsplitter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	flushInterval = time.Second * 60
	// maxAge is how long unfinished fragments and TCP segments are kept.
	maxAge = time.Minute * 2
)

var errIncomplete = errors.New("incomplete ipv4 packet")

// Payload is one SIP message as seen on the wire.
type Payload struct {
	Time      time.Time
	Src       netip.AddrPort
	Dst       netip.AddrPort
	Transport string
	Data      string
}

// Handler receives every extracted payload.  It may be called concurrently
// from several TCP stream goroutines.
type Handler func(Payload) error

// Defragmenter is the part of gopacket/ip4defrag used for reassembly.
type Defragmenter interface {
	DiscardOlderThan(time.Time) int
	DefragIPv4(*layers.IPv4) (*layers.IPv4, error)
}

// Extracter converts incoming packets into SIP payloads.
type Extracter struct {
	metrics   *Metrics
	defragger Defragmenter
	flush     time.Duration
}

// NewExtracter creates an Extracter reassembling fragments with defragger,
// or a fresh ip4defrag.IPv4Defragmenter if it's nil.
func NewExtracter(defragger Defragmenter) *Extracter {
	if defragger == nil {
		defragger = ip4defrag.NewIPv4Defragmenter()
	}
	return &Extracter{
		defragger: defragger,
		flush:     flushInterval,
		metrics:   NewMetrics(),
	}
}

// Metrics returns a slice of prometheus.Collector objects that can be
// registered to expose extraction metrics.
func (e *Extracter) Metrics() []prometheus.Collector { return e.metrics.List() }

// check if an ipv4 packet is a fragment
func someAssemblyRequired(ip4 *layers.IPv4) bool {
	return ip4.Flags&layers.IPv4DontFragment == 0 &&
		(ip4.Flags&layers.IPv4MoreFragments != 0 || ip4.FragOffset != 0)
}

// reassembleIPv4 feeds a fragment to the defragmenter, returning the whole
// packet once every fragment has arrived.
func (e *Extracter) reassembleIPv4(ip4 *layers.IPv4) (*layers.IPv4, error) {
	if ip4.Length < 28 && ip4.FragOffset > 0 {
		e.metrics.ShortFrags.Inc()
	}

	whole, err := e.defragger.DefragIPv4(ip4)
	if err != nil {
		return nil, fmt.Errorf("defragmenter failed: %w", err)
	} else if whole == nil {
		return nil, errIncomplete
	}
	return whole, nil
}

// Extract consumes packets until ctx is canceled or the channel is closed,
// calling handle for every SIP message found.  Undecodable, incomplete or
// non-SIP packets are skipped; they only show in metrics and debug logs.
// Before returning, pending TCP data is flushed and every stream has
// delivered its last message.
func (e *Extracter) Extract(ctx context.Context, packets <-chan gopacket.Packet, handle Handler) {
	log := zerolog.Ctx(ctx).With().Str("component", "extract").Logger()
	ticker := time.NewTicker(e.flush)
	defer ticker.Stop()

	factory := newStreamFactory(log, e.metrics, handle)
	assembler := tcpassembly.NewAssembler(tcpassembly.NewStreamPool(factory))
	defer func() {
		flushed := assembler.FlushAll()
		log.Debug().Int("flushed", flushed).Msg("flushing tcp assembly")
		factory.wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case packet, ok := <-packets:
			if packet == nil || !ok {
				return
			}
			e.packet(log, packet, assembler, handle)
		case <-ticker.C:
			when := time.Now().Add(-maxAge)
			assembler.FlushOlderThan(when)
			e.defragger.DiscardOlderThan(when)
		}
	}
}

func (e *Extracter) packet(log zerolog.Logger, packet gopacket.Packet, assembler *tcpassembly.Assembler, handle Handler) {
	e.metrics.Incoming.Inc()
	ts := packet.Metadata().Timestamp

	// gopacket's own SIP decoding fails on partial TCP segments; only an
	// error that leaves no transport layer makes the packet useless.
	if errlayer := packet.ErrorLayer(); errlayer != nil && packet.TransportLayer() == nil {
		e.metrics.Invalid.Inc()
		log.Debug().Err(errlayer.Error()).Msg("undecodable packet")
		return
	}

	var netFlow gopacket.Flow
	transport := packet.TransportLayer()
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		netFlow = ip.NetworkFlow()
		if someAssemblyRequired(ip) {
			whole, err := e.reassembleIPv4(ip)
			switch {
			case err == nil:
				e.metrics.Defrag.Inc()
			case errors.Is(err, errIncomplete):
				e.metrics.Fragments.Inc()
				log.Debug().Msg("incomplete ipv4 fragment, continuing")
				return
			default:
				e.metrics.BadDefrag.Inc()
				log.Debug().Err(err).Msg("reassembling ipv4 packet")
				return
			}
			rebuilt := gopacket.NewPacket(whole.Payload, whole.Protocol.LayerType(), gopacket.Default)
			transport = rebuilt.TransportLayer()
		}
	case *layers.IPv6:
		netFlow = ip.NetworkFlow()
	default:
		e.metrics.Invalid.Inc()
		log.Debug().Msg("packet has no ip layer")
		return
	}

	switch tl := transport.(type) {
	case *layers.TCP:
		e.metrics.Seen.WithLabelValues("tcp").Inc()
		assembler.AssembleWithTimestamp(netFlow, tl, ts)

	case *layers.UDP:
		e.metrics.Seen.WithLabelValues("udp").Inc()
		if !sipsplitter.LooksLikeSIP(tl.Payload) {
			e.metrics.Discarded.WithLabelValues("udp").Inc()
			return
		}
		src, dst := endpoints(netFlow, tl.TransportFlow())
		e.metrics.Captured.WithLabelValues("udp").Inc()
		err := handle(Payload{Time: ts, Src: src, Dst: dst, Transport: "udp", Data: string(tl.Payload)})
		if err != nil {
			log.Debug().Err(err).Msg("udp sip payload not taken")
		}

	case nil:
		// ICMP and the like.
		e.metrics.Invalid.Inc()
		log.Debug().Msg("no transport layer, adjust the BPF filter")

	default:
		e.metrics.Seen.WithLabelValues("unknown").Inc()
		e.metrics.Discarded.WithLabelValues("unknown").Inc()
	}
}

// endpoints converts gopacket flows into address and port pairs.
func endpoints(netFlow, transportFlow gopacket.Flow) (netip.AddrPort, netip.AddrPort) {
	src, dst := netFlow.Endpoints()
	sport, dport := transportFlow.Endpoints()
	return netip.AddrPortFrom(addr(src), port(sport)), netip.AddrPortFrom(addr(dst), port(dport))
}

func addr(e gopacket.Endpoint) netip.Addr {
	a, _ := netip.AddrFromSlice(e.Raw())
	return a.Unmap()
}

func port(e gopacket.Endpoint) uint16 {
	if raw := e.Raw(); len(raw) == 2 {
		return binary.BigEndian.Uint16(raw)
	}
	return 0
}
