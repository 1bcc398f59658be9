package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/matryer/is"
)

func sipMsg(first, callid, cseq string) string {
	return strings.Join([]string{
		first,
		"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bK776",
		"From: <sip:alice@example.com>;tag=a",
		"To: <sip:bob@example.com>",
		"Call-ID: " + callid,
		"CSeq: " + cseq,
		"Content-Length: 0",
		"",
	}, "\r\n") + "\r\n"
}

// writeCapture saves one UDP packet per payload to a new pcap file.
func writeCapture(is *is.I, dir string, payloads ...string) string {
	path := filepath.Join(dir, "in.pcap")
	f, err := os.Create(path)
	is.NoErr(err)
	defer f.Close()
	w := pcapgo.NewWriter(f)
	is.NoErr(w.WriteFileHeader(65535, layers.LinkTypeEthernet))

	ts := time.Date(2021, 3, 4, 10, 0, 0, 0, time.UTC)
	for i, payload := range payloads {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 0x16, 0x3e, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0, 0x16, 0x3e, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
			SrcIP: net.IPv4(10, 0, 0, 1).To4(),
			DstIP: net.IPv4(10, 0, 0, 2).To4(),
		}
		udp := &layers.UDP{SrcPort: 5060, DstPort: 5060}
		is.NoErr(udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		is.NoErr(gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
		data := buf.Bytes()
		is.NoErr(w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Second),
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
	return path
}

func TestRunOffline(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	in := writeCapture(is, dir,
		sipMsg("INVITE sip:bob@example.com SIP/2.0", "call-1", "1 INVITE"),
		sipMsg("SIP/2.0 200 OK", "call-1", "1 INVITE"),
		sipMsg("OPTIONS sip:bob@example.com SIP/2.0", "ping-1", "1 OPTIONS"),
	)
	out := filepath.Join(dir, "out.pcap")

	var stdout, stderr bytes.Buffer
	err := run([]string{"sip-dialogs", "-input", in, "-output", out, "-calls", "-report", "flows"}, &stdout, &stderr)
	is.NoErr(err)

	report := stdout.String()
	is.True(strings.Contains(report, "1/1 calls"))      // OPTIONS not a call
	is.True(strings.Contains(report, "Call 1 call-1")) // flow header
	is.True(strings.Contains(report, "200 OK"))
	is.True(!strings.Contains(report, "ping-1"))
	is.True(strings.Contains(stderr.String(), "capture finished"))

	f, err := os.Open(out)
	is.NoErr(err)
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	is.NoErr(err)
	saved := 0
	for {
		if _, _, err := r.ReadPacketData(); err != nil {
			break
		}
		saved++
	}
	is.Equal(saved, 3) // every packet saved, stored or not
}

func TestRunBadFilters(t *testing.T) {
	in := writeCapture(is.New(t), t.TempDir())
	for name, args := range map[string][]string{
		"ignore":  {"-ignore", "(nope"},
		"display": {"-display-filter", "(status)"},
		"publish": {"-publish-filter", "(unknown-filter)"},
		"match":   {"["},
	} {
		args := args
		t.Run(name, func(t *testing.T) {
			is := is.New(t)
			argv := append([]string{"sip-dialogs", "-input", in, "-report", "none"}, args...)
			is.True(run(argv, &bytes.Buffer{}, &bytes.Buffer{}) != nil)
		})
	}
}
