package dialog

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/nextcaller/sip-dialogs/attr"
	"github.com/nextcaller/sip-dialogs/headers"
)

// Message is one captured SIP message.  Its payload, capture details and
// attributes never change once it's stored, so reading them needs no
// locking.  Its place in a call is guarded by the store.
type Message struct {
	store *Store

	payload  string
	ts       time.Time
	src, dst netip.AddrPort
	request  bool
	cseq     int
	sdp      bool
	attrs    attr.Set

	// guarded by store.mu
	call *Call
	pos  int
}

// Payload is the raw SIP text as captured.
func (m *Message) Payload() string { return m.payload }

// Timestamp is the capture time.
func (m *Message) Timestamp() time.Time { return m.ts }

// Src is the sending endpoint.
func (m *Message) Src() netip.AddrPort { return m.src }

// Dst is the receiving endpoint.
func (m *Message) Dst() netip.AddrPort { return m.dst }

// IsRequest reports a request rather than a response.
func (m *Message) IsRequest() bool { return m.request }

// CSeq is the numeric part of the CSeq header, 0 if absent.
func (m *Message) CSeq() int { return m.cseq }

// HasSDP reports an application/sdp body.
func (m *Message) HasSDP() bool { return m.sdp }

// Attr returns the named attribute, or "" if the message doesn't have it.
func (m *Message) Attr(k attr.Kind) string { return m.attrs.Get(k) }

// Attrs returns a copy of all attributes present on the message.
func (m *Message) Attrs() *attr.Set { return m.attrs.Clone() }

// Call returns the call holding the message, nil once it's removed.
func (m *Message) Call() *Call {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return m.call
}

// IsRetrans reports whether an earlier message of the same call carried
// exactly the same payload.
func (m *Message) IsRetrans() bool {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if m.call == nil {
		return false
	}
	for i := m.pos - 1; i >= 0; i-- {
		if m.call.msgs[i].payload == m.payload {
			return true
		}
	}
	return false
}

// Header is the one line summary "date time src -> dst".  Endpoints are
// shown by hostname when the store resolves and displays hosts.
func (m *Message) Header() string {
	src, dst := headers.Endpoint(m.src), headers.Endpoint(m.dst)
	if m.store.cfg.LookupHostnames && m.store.cfg.DisplayHost {
		src = m.hostEndpoint(m.src)
		dst = m.hostEndpoint(m.dst)
	}
	return fmt.Sprintf("%s %s %s -> %s", m.attrs.Get(attr.Date), m.attrs.Get(attr.Time), src, dst)
}

func (m *Message) hostEndpoint(ap netip.AddrPort) string {
	return fmt.Sprintf("%s:%d", m.store.resolver.Hostname(ap.Addr()), ap.Port())
}

// newMessage builds an unattached message from the parse result, filling in
// the capture derived attributes.
func (s *Store) newMessage(p *headers.Parsed, payload string, ts time.Time, src, dst netip.AddrPort) *Message {
	m := &Message{
		store:   s,
		payload: payload,
		ts:      ts,
		src:     src,
		dst:     dst,
		request: p.Request,
		cseq:    p.CSeq,
		sdp:     p.SDP,
		attrs:   *p.Attrs.Clone(),
	}

	m.attrs.Set(attr.Src, headers.Endpoint(src))
	m.attrs.Set(attr.Dst, headers.Endpoint(dst))
	if s.cfg.LookupHostnames {
		m.attrs.Set(attr.SrcHost, s.resolver.HostEndpoint(src))
		m.attrs.Set(attr.DstHost, s.resolver.HostEndpoint(dst))
	} else {
		m.attrs.Set(attr.SrcHost, headers.Endpoint(src))
		m.attrs.Set(attr.DstHost, headers.Endpoint(dst))
	}
	m.attrs.Set(attr.Date, headers.Date(ts))
	m.attrs.Set(attr.Time, headers.Time(ts))
	return m
}
