package dialog

import (
	"errors"
	"net/netip"
	"strings"
	"time"

	"github.com/nextcaller/sip-dialogs/attr"
	"github.com/nextcaller/sip-dialogs/headers"
)

// dialogStarters are the requests able to open a dialog when incomplete
// dialogs are ignored.
var dialogStarters = []string{
	"INVITE", "REGISTER", "SUBSCRIBE", "OPTIONS",
	"PUBLISH", "MESSAGE", "NOTIFY",
}

// Ingest parses a captured SIP payload and stores it in the dialog named by
// its Call-ID, creating that dialog if it's new and the store's policy
// admits it.  On success it returns the stored message; otherwise the
// payload is discarded and the error, matching ErrDiscarded, says why.
func (s *Store) Ingest(payload string, ts time.Time, src, dst netip.AddrPort) (*Message, error) {
	callid := headers.CallID(payload)
	if callid == "" {
		return nil, s.discarded(ErrNoCallID, "")
	}
	parsed, err := headers.Parse(payload)
	if err != nil {
		return nil, s.discarded(ErrParseFailed, callid)
	}

	m := s.newMessage(parsed, payload, ts, src, dst)
	m.attrs.Set(attr.CallID, callid)

	s.mu.Lock()
	call, ok := s.index[callid]
	if !ok {
		if err := s.admitLocked(m); err != nil {
			s.mu.Unlock()
			return nil, s.discarded(err, callid)
		}
		call = s.createLocked(callid)
	}
	call.appendLocked(m)
	from, to := call.updateStateLocked(m)
	s.mu.Unlock()

	s.metrics.Ingested.Inc()
	if !ok {
		s.metrics.Created.Inc()
		s.log.Debug().Str("callid", callid).Int("index", call.index).Msg("new dialog")
	}
	if from != to {
		s.metrics.Transitions.WithLabelValues(to.String()).Inc()
		s.log.Debug().
			Str("callid", callid).
			Stringer("from", from).
			Stringer("to", to).
			Msg("call state changed")
		if s.events != nil {
			s.events(Event{Call: call, Message: m, From: from, To: to})
		}
	}
	return m, nil
}

// admitLocked applies the policy for the first message of a new dialog.
func (s *Store) admitLocked(m *Message) error {
	if !s.match.Match(m.payload) {
		return ErrFilteredOut
	}

	method := m.attrs.Get(attr.Method)
	if s.cfg.IgnoreIncomplete && !oneOf(method, dialogStarters) {
		return ErrIncompleteDialog
	}
	if s.cfg.CallsOnly && !strings.EqualFold(method, "INVITE") {
		return ErrNotACallStart
	}
	if s.cfg.Ignore != nil && s.cfg.Ignore(m) {
		return ErrIgnored
	}
	if s.fullLocked() {
		return ErrLimitReached
	}
	return nil
}

func (s *Store) createLocked(callid string) *Call {
	s.seq++
	c := newCall(s, callid, s.seq)
	c.elem = s.calls.PushBack(c)
	s.index[callid] = c
	s.metrics.Live.Set(float64(s.calls.Len()))
	return c
}

func (s *Store) discarded(err error, callid string) error {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			s.metrics.Discarded.WithLabelValues(r.label).Inc()
			break
		}
	}
	s.log.Debug().Err(err).Str("callid", callid).Msg("discarding message")
	return err
}

func oneOf(method string, set []string) bool {
	for _, want := range set {
		if strings.EqualFold(method, want) {
			return true
		}
	}
	return false
}
