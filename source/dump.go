package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Dumper saves packets in pcap format.  It's safe for concurrent use.
type Dumper struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer

	written prometheus.Counter
}

// NewDumper writes a pcap file header for linkType to w and returns a
// Dumper appending packets after it.
func NewDumper(w io.Writer, linkType layers.LinkType) (*Dumper, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, linkType); err != nil {
		return nil, fmt.Errorf("writing pcap header: %w", err)
	}
	d := &Dumper{
		w: pw,
		written: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packets_dumped_total",
			Help: "packets saved to the output pcap file",
		}),
	}
	if c, ok := w.(io.Closer); ok {
		d.closer = c
	}
	return d, nil
}

// CreateDumper creates (or truncates) the pcap file at path.
func CreateDumper(path string, linkType layers.LinkType) (*Dumper, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating pcap output: %w", err)
	}
	d, err := NewDumper(f, linkType)
	if err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

// Write saves one packet.
func (d *Dumper) Write(p gopacket.Packet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.w.WritePacket(p.Metadata().CaptureInfo, p.Data()); err != nil {
		return fmt.Errorf("writing packet: %w", err)
	}
	d.written.Inc()
	return nil
}

// Close closes the underlying file, if the Dumper was given one.
func (d *Dumper) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// Metrics returns the dump metrics for registration.
func (d *Dumper) Metrics() []prometheus.Collector { return []prometheus.Collector{d.written} }

// Tee saves every packet from in with d and passes it on through the
// returned channel, which is closed when in is, or when ctx is canceled.
func Tee(ctx context.Context, in <-chan gopacket.Packet, d *Dumper) <-chan gopacket.Packet {
	log := zerolog.Ctx(ctx)
	out := make(chan gopacket.Packet)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-in:
				if !ok {
					return
				}
				if err := d.Write(p); err != nil {
					log.Err(err).Msg("saving packet")
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
