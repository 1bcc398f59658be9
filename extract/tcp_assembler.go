package extract

import (
	"bufio"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/tcpassembly"
	"github.com/google/gopacket/tcpassembly/tcpreader"
	"github.com/nextcaller/sip-dialogs/sipsplitter"
	"github.com/rs/zerolog"
)

/*
  - a single SIP message may be spread across multiple TCP segments.
  - TCP connections between SIP agents may be long lived, and carry
    messages of many dialogs.
  - a SIP message does not have to start on a segment boundary.
  - only Content-Length says where a message ends.
*/

// sipStreamFactory is used by a tcpassembly.StreamPool to create a SIP
// extraction stream for each new TCP flow direction.
type sipStreamFactory struct {
	handle  Handler
	metrics *Metrics
	log     zerolog.Logger
	trace   *sipsplitter.Trace
	wg      sync.WaitGroup
}

func newStreamFactory(log zerolog.Logger, metrics *Metrics, handle Handler) *sipStreamFactory {
	return &sipStreamFactory{
		metrics: metrics,
		log:     log,
		handle:  handle,
		trace: &sipsplitter.Trace{
			Discard: func(reason string, d []byte) {
				log.Debug().Str("reason", reason).Int("bytes", len(d)).Msg("invalid SIP bytes discarded")
				metrics.Discarded.WithLabelValues("tcp").Inc()
			},
			Waiting: func(stage string) {
				metrics.Incomplete.WithLabelValues("tcp").Inc()
			},
		},
	}
}

// New starts a goroutine scanning the new flow's bytes for SIP messages.
func (f *sipStreamFactory) New(netFlow, transport gopacket.Flow) tcpassembly.Stream {
	src, dst := endpoints(netFlow, transport)
	s := &sipStream{ReaderStream: tcpreader.NewReaderStream()}
	log := f.log.With().Str("flow", src.String()+"->"+dst.String()).Logger()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.scan(s, Payload{Src: src, Dst: dst, Transport: "tcp"}, log)
	}()
	return s
}

// wait blocks until every stream has been fully scanned.
func (f *sipStreamFactory) wait() { f.wg.Wait() }

func (f *sipStreamFactory) scan(s *sipStream, p Payload, log zerolog.Logger) {
	splitter := &sipsplitter.Splitter{Trace: f.trace}
	sc := bufio.NewScanner(s)
	sc.Buffer(make([]byte, 4096), sipsplitter.DefaultMaxSize)
	sc.Split(splitter.SplitSIP)

	for sc.Scan() {
		p.Time = s.seen()
		p.Data = sc.Text()
		f.metrics.Captured.WithLabelValues("tcp").Inc()
		if err := f.handle(p); err != nil {
			log.Debug().Err(err).Msg("tcp sip payload not taken")
		}
	}
	if err := sc.Err(); err != nil {
		log.Err(err).Msg("failed to fully scan tcp stream")
	}
	// the assembler blocks until every byte is read.
	tcpreader.DiscardBytesToEOF(s)
}

// sipStream is a tcpreader.ReaderStream remembering when the data it's
// handing out was captured.
type sipStream struct {
	tcpreader.ReaderStream

	mu   sync.Mutex
	last time.Time
}

// Reassembled records the capture time of the segments before queueing them
// for reading.
func (s *sipStream) Reassembled(rs []tcpassembly.Reassembly) {
	if len(rs) > 0 {
		s.mu.Lock()
		s.last = rs[0].Seen
		s.mu.Unlock()
	}
	s.ReaderStream.Reassembled(rs)
}

func (s *sipStream) seen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
