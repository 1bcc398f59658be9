package extract

import (
	"context"
	"net"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/matryer/is"
	"github.com/nextcaller/sip-dialogs/testhelpers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

var (
	uac  = netip.MustParseAddrPort("192.168.1.10:5060")
	uas  = netip.MustParseAddrPort("192.168.1.20:5060")
	uac6 = netip.MustParseAddrPort("[2001:db8::10]:5060")
	uas6 = netip.MustParseAddrPort("[2001:db8::20]:5060")
	ts   = time.Date(2021, 3, 4, 10, 0, 0, 0, time.UTC)

	macA = net.HardwareAddr{0x00, 0x16, 0x3e, 0x00, 0x00, 0x01}
	macB = net.HardwareAddr{0x00, 0x16, 0x3e, 0x00, 0x00, 0x02}
)

func sip(lines ...string) string { return strings.Join(lines, "\r\n") + "\r\n" }

var (
	inviteMsg = sip(
		"INVITE sip:bob@example.com SIP/2.0",
		"Via: SIP/2.0/UDP 192.168.1.10:5060;branch=z9hG4bK1",
		"From: <sip:alice@example.com>;tag=1",
		"To: <sip:bob@example.com>",
		"Call-ID: extract-1@192.168.1.10",
		"CSeq: 1 INVITE",
		"Content-Length: 0",
		"",
	)
	byeMsg = sip(
		"BYE sip:bob@example.com SIP/2.0",
		"Via: SIP/2.0/TCP 192.168.1.10:5060;branch=z9hG4bK2",
		"From: <sip:alice@example.com>;tag=1",
		"To: <sip:bob@example.com>;tag=2",
		"Call-ID: extract-1@192.168.1.10",
		"CSeq: 2 BYE",
		"Content-Length: 0",
		"",
	)
)

func serialize(is *is.I, ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	is.NoErr(gopacket.SerializeLayers(buf, opts, ls...)) // packet serializes
	return buf.Bytes()
}

func decode(data []byte, when time.Time) gopacket.Packet {
	p := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	md := p.Metadata()
	md.Timestamp = when
	md.CaptureLength = len(data)
	md.Length = len(data)
	return p
}

func ethernet(t layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: t}
}

func ipv4(src, dst netip.AddrPort, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Id:       4242,
		Protocol: proto,
		SrcIP:    net.IP(src.Addr().AsSlice()),
		DstIP:    net.IP(dst.Addr().AsSlice()),
	}
}

func udpPacket(is *is.I, src, dst netip.AddrPort, payload string, when time.Time) gopacket.Packet {
	ip := ipv4(src, dst, layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(src.Port()), DstPort: layers.UDPPort(dst.Port())}
	is.NoErr(udp.SetNetworkLayerForChecksum(ip))
	return decode(serialize(is, ethernet(layers.EthernetTypeIPv4), ip, udp, gopacket.Payload(payload)), when)
}

func udp6Packet(is *is.I, src, dst netip.AddrPort, payload string, when time.Time) gopacket.Packet {
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      net.IP(src.Addr().AsSlice()),
		DstIP:      net.IP(dst.Addr().AsSlice()),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(src.Port()), DstPort: layers.UDPPort(dst.Port())}
	is.NoErr(udp.SetNetworkLayerForChecksum(ip))
	return decode(serialize(is, ethernet(layers.EthernetTypeIPv6), ip, udp, gopacket.Payload(payload)), when)
}

// udpFragments builds a UDP datagram carrying payload, split in two IPv4
// fragments at offset split (a multiple of 8).
func udpFragments(is *is.I, src, dst netip.AddrPort, payload string, split int, when time.Time) []gopacket.Packet {
	ip := ipv4(src, dst, layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(src.Port()), DstPort: layers.UDPPort(dst.Port())}
	is.NoErr(udp.SetNetworkLayerForChecksum(ip))
	segment := serialize(is, udp, gopacket.Payload(payload))

	first := ipv4(src, dst, layers.IPProtocolUDP)
	first.Flags = layers.IPv4MoreFragments
	last := ipv4(src, dst, layers.IPProtocolUDP)
	last.FragOffset = uint16(split / 8)

	return []gopacket.Packet{
		decode(serialize(is, ethernet(layers.EthernetTypeIPv4), first, gopacket.Payload(segment[:split])), when),
		decode(serialize(is, ethernet(layers.EthernetTypeIPv4), last, gopacket.Payload(segment[split:])), when),
	}
}

func tcpPacket(is *is.I, src, dst netip.AddrPort, seq uint32, syn, fin bool, payload string, when time.Time) gopacket.Packet {
	ip := ipv4(src, dst, layers.IPProtocolTCP)
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(src.Port()),
		DstPort: layers.TCPPort(dst.Port()),
		Seq:     seq,
		SYN:     syn,
		FIN:     fin,
		ACK:     !syn,
		Window:  65535,
	}
	is.NoErr(tcp.SetNetworkLayerForChecksum(ip))
	return decode(serialize(is, ethernet(layers.EthernetTypeIPv4), ip, tcp, gopacket.Payload(payload)), when)
}

func icmpPacket(is *is.I, src, dst netip.AddrPort) gopacket.Packet {
	ip := ipv4(src, dst, layers.IPProtocolICMPv4)
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: 1, Seq: 1}
	return decode(serialize(is, ethernet(layers.EthernetTypeIPv4), ip, icmp), ts)
}

type collected struct {
	sync.Mutex
	payloads []Payload
}

func (c *collected) handle(p Payload) error {
	c.Lock()
	defer c.Unlock()
	c.payloads = append(c.payloads, p)
	return nil
}

// run feeds packets through a fresh Extracter and returns what it extracted.
func run(t *testing.T, packets ...gopacket.Packet) ([]Payload, *Extracter) {
	t.Helper()
	buf := testhelpers.NewLogBuf()
	ctx := zerolog.New(buf).Level(zerolog.DebugLevel).WithContext(context.Background())

	ext := NewExtracter(nil)
	ch := make(chan gopacket.Packet, len(packets))
	for _, p := range packets {
		ch <- p
	}
	close(ch)

	c := &collected{}
	done := make(chan bool)
	go func() {
		ext.Extract(ctx, ch, c.handle)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for extraction")
	}

	c.Lock()
	defer c.Unlock()
	return c.payloads, ext
}

func TestUDP(t *testing.T) {
	is := is.New(t)
	payloads, ext := run(t, udpPacket(is, uac, uas, inviteMsg, ts))

	is.Equal(len(payloads), 1)
	p := payloads[0]
	is.Equal(p.Data, inviteMsg)
	is.Equal(p.Src, uac)
	is.Equal(p.Dst, uas)
	is.Equal(p.Transport, "udp")
	is.True(p.Time.Equal(ts))
	is.Equal(testutil.ToFloat64(ext.metrics.Incoming), 1.0)
	is.Equal(testutil.ToFloat64(ext.metrics.Captured.WithLabelValues("udp")), 1.0)
}

func TestUDPOtherPort(t *testing.T) {
	is := is.New(t)
	src := netip.MustParseAddrPort("192.168.1.10:15060")
	payloads, _ := run(t, udpPacket(is, src, uas, inviteMsg, ts))
	is.Equal(len(payloads), 1) // sip is recognized by content, not port
	is.Equal(payloads[0].Src, src)
}

func TestIPv6(t *testing.T) {
	is := is.New(t)
	payloads, _ := run(t, udp6Packet(is, uac6, uas6, inviteMsg, ts))
	is.Equal(len(payloads), 1)
	is.Equal(payloads[0].Src, uac6)
	is.Equal(payloads[0].Dst, uas6)
}

func TestFragmented(t *testing.T) {
	is := is.New(t)
	big := strings.Replace(inviteMsg, "CSeq: 1 INVITE", "CSeq: 1 INVITE\r\nX-Padding: "+strings.Repeat("p", 900), 1)
	frags := udpFragments(is, uac, uas, big, 512, ts)

	payloads, ext := run(t, frags...)
	is.Equal(len(payloads), 1)
	is.Equal(payloads[0].Data, big)
	is.Equal(payloads[0].Src, uac)
	is.Equal(testutil.ToFloat64(ext.metrics.Fragments), 1.0)
	is.Equal(testutil.ToFloat64(ext.metrics.Defrag), 1.0)

	payloads, ext = run(t, frags[0])
	is.Equal(len(payloads), 0) // missing the last fragment
	is.Equal(testutil.ToFloat64(ext.metrics.Fragments), 1.0)
	is.Equal(testutil.ToFloat64(ext.metrics.Defrag), 0.0)
}

func TestTCPStream(t *testing.T) {
	is := is.New(t)
	stream := inviteMsg + byeMsg
	cut := 40 // first segment ends mid start line

	seq := uint32(1000)
	packets := []gopacket.Packet{
		tcpPacket(is, uac, uas, seq, true, false, "", ts),
		tcpPacket(is, uac, uas, seq+1, false, false, stream[:cut], ts.Add(time.Millisecond)),
		tcpPacket(is, uac, uas, seq+1+uint32(cut), false, false, stream[cut:], ts.Add(time.Second)),
		tcpPacket(is, uac, uas, seq+1+uint32(len(stream)), false, true, "", ts.Add(time.Second*2)),
	}

	payloads, ext := run(t, packets...)
	is.Equal(len(payloads), 2)
	sort.Slice(payloads, func(i, j int) bool { return payloads[i].Data > payloads[j].Data })
	is.Equal(payloads[0].Data, inviteMsg)
	is.Equal(payloads[1].Data, byeMsg)
	for _, p := range payloads {
		is.Equal(p.Transport, "tcp")
		is.Equal(p.Src, uac)
		is.Equal(p.Dst, uas)
		is.True(!p.Time.Before(ts))
	}
	is.Equal(testutil.ToFloat64(ext.metrics.Seen.WithLabelValues("tcp")), 4.0)
	is.Equal(testutil.ToFloat64(ext.metrics.Captured.WithLabelValues("tcp")), 2.0)
}

func TestNotSIP(t *testing.T) {
	is := is.New(t)
	other := netip.MustParseAddrPort("192.168.1.1:9999")
	payloads, ext := run(t,
		udpPacket(is, uac, other, "\x12\x34\x01\x00 not sip", ts),
		icmpPacket(is, uac, uas),
	)
	is.Equal(len(payloads), 0)
	is.Equal(testutil.ToFloat64(ext.metrics.Incoming), 2.0)
	is.Equal(testutil.ToFloat64(ext.metrics.Discarded.WithLabelValues("udp")), 1.0)
	is.Equal(testutil.ToFloat64(ext.metrics.Invalid), 1.0) // icmp has no transport layer
	is.Equal(len(ext.Metrics()), 10)
}

func TestCancel(t *testing.T) {
	is := is.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	ext := NewExtracter(nil)
	ch := make(chan gopacket.Packet)

	done := make(chan bool)
	go func() {
		ext.Extract(ctx, ch, func(Payload) error { return nil })
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		is.Fail() // Extract did not stop on cancel
	}
}
