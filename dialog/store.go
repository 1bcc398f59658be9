// Package dialog correlates captured SIP messages into dialogs by Call-ID
// and tracks the state of the calls among them.
//
// A Store owns every Call and Message.  Messages enter through Ingest, which
// either appends them to the dialog sharing their Call-ID or, subject to the
// store's admission policy, starts a new dialog.  The store may be used from
// any number of goroutines; typically one capture goroutine ingests while
// others walk the calls to display or publish them.
package dialog

import (
	"container/list"
	"sync"

	"github.com/nextcaller/sip-dialogs/attr"
	"github.com/nextcaller/sip-dialogs/filters"
	"github.com/nextcaller/sip-dialogs/headers"
	"github.com/nextcaller/sip-dialogs/match"
	"github.com/rs/zerolog"
)

// Config is the admission and display policy of a Store.
type Config struct {
	// Limit caps the number of dialogs held; 0 means no limit.  Once
	// reached, new dialogs are refused but existing ones still grow.
	Limit int
	// CallsOnly only starts dialogs on an INVITE.
	CallsOnly bool
	// IgnoreIncomplete only starts dialogs on a request able to open one.
	IgnoreIncomplete bool
	// LookupHostnames resolves endpoint addresses for the host attributes.
	LookupHostnames bool
	// DisplayHost uses resolved names in message summary lines.
	DisplayHost bool
	// Ignore, if set, keeps any message it matches from starting a dialog.
	Ignore filters.Filter
}

// CallFilter decides whether a call is shown by filtered traversal.
type CallFilter func(c *Call) bool

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger used for discards and state changes.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithResolver sets the hostname resolver used when LookupHostnames is on.
func WithResolver(r *headers.Resolver) Option {
	return func(s *Store) { s.resolver = r }
}

// WithEvents delivers every call state change to fn.  fn runs on the
// ingesting goroutine, after the store lock is released.
func WithEvents(fn func(Event)) Option {
	return func(s *Store) { s.events = fn }
}

// WithMetrics sets the metrics the store updates, allowing them to be
// registered before the store exists.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store holds every tracked dialog.
type Store struct {
	cfg      Config
	log      zerolog.Logger
	resolver *headers.Resolver
	events   func(Event)
	metrics  *Metrics

	mu         sync.Mutex
	calls      *list.List
	index      map[string]*Call
	seq        int
	match      *match.Expression
	callFilter CallFilter
	epoch      int
}

// NewStore returns an empty store with the given policy.
func NewStore(cfg Config, opts ...Option) *Store {
	if cfg.Limit < 0 {
		cfg.Limit = 0
	}
	s := &Store{
		cfg:   cfg,
		log:   zerolog.Nop(),
		calls: list.New(),
		index: make(map[string]*Call, cfg.Limit),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.resolver == nil && cfg.LookupHostnames {
		s.resolver = headers.NewResolver()
	}
	return s
}

// Config returns the policy the store was created with.
func (s *Store) Config() Config { return s.cfg }

// Metrics returns the store's metrics.
func (s *Store) Metrics() *Metrics { return s.metrics }

// ConfigureMatch compiles the expression the first message of every new
// dialog must match.  An empty expr accepts everything.  On error the
// previous expression stays in effect.
func (s *Store) ConfigureMatch(expr string, icase, invert bool) error {
	re, err := match.Compile(expr, icase, invert)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.match = re
	s.mu.Unlock()
	return nil
}

// Count is the number of dialogs held.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls.Len()
}

// Full reports whether the store holds as many dialogs as its limit allows.
func (s *Store) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullLocked()
}

func (s *Store) fullLocked() bool {
	return s.cfg.Limit > 0 && s.calls.Len() >= s.cfg.Limit
}

// Find returns the dialog with the given Call-ID, or nil.
func (s *Store) Find(callid string) *Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index[callid]
}

// Calls returns a snapshot of every dialog in creation order.
func (s *Store) Calls() []*Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Call, 0, s.calls.Len())
	for e := s.calls.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Call))
	}
	return out
}

// First returns the oldest dialog, or nil.
func (s *Store) First() *Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return value(s.calls.Front())
}

// Last returns the newest dialog, or nil.
func (s *Store) Last() *Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return value(s.calls.Back())
}

// Next returns the dialog created after c, or the first one if c is nil.
// It returns nil at the end, or if c was removed.
func (s *Store) Next(c *Call) *Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == nil {
		return value(s.calls.Front())
	}
	if c.elem == nil {
		return nil
	}
	return value(c.elem.Next())
}

// Prev returns the dialog created before c, or the last one if c is nil.
// It returns nil at the start, or if c was removed.
func (s *Store) Prev(c *Call) *Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == nil {
		return value(s.calls.Back())
	}
	if c.elem == nil {
		return nil
	}
	return value(c.elem.Prev())
}

func value(e *list.Element) *Call {
	if e == nil {
		return nil
	}
	return e.Value.(*Call)
}

// SetCallFilter installs the display filter used by NextFiltered and
// PrevFiltered, forgetting every cached result.  nil shows every call.
func (s *Store) SetCallFilter(f CallFilter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callFilter = f
	s.epoch++
	for e := s.calls.Front(); e != nil; e = e.Next() {
		e.Value.(*Call).filtered = filterUnknown
	}
}

// MessageFilter turns a message filter into a call filter that passes a
// call when any of its messages pass.
func MessageFilter(f filters.Filter) CallFilter {
	return func(c *Call) bool {
		for _, m := range c.Messages() {
			if f(m) {
				return true
			}
		}
		return false
	}
}

// NextFiltered is Next, skipping calls rejected by the display filter.
func (s *Store) NextFiltered(c *Call) *Call {
	for c = s.Next(c); c != nil; c = s.Next(c) {
		if s.shown(c) {
			return c
		}
	}
	return nil
}

// PrevFiltered is Prev, skipping calls rejected by the display filter.
func (s *Store) PrevFiltered(c *Call) *Call {
	for c = s.Prev(c); c != nil; c = s.Prev(c) {
		if s.shown(c) {
			return c
		}
	}
	return nil
}

// shown evaluates the display filter for c, at most once per filter and
// message set.  The filter runs without the lock held.
func (s *Store) shown(c *Call) bool {
	s.mu.Lock()
	f, cached, epoch := s.callFilter, c.filtered, s.epoch
	s.mu.Unlock()

	if f == nil {
		return true
	}
	if cached != filterUnknown {
		return cached == filterPass
	}

	ok := f(c)
	s.mu.Lock()
	if s.epoch == epoch {
		c.filtered = filterReject
		if ok {
			c.filtered = filterPass
		}
	}
	s.mu.Unlock()
	return ok
}

// NextMessage returns the message of c following m, or the first one if m
// is nil.
func (s *Store) NextMessage(c *Call, m *Message) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m == nil {
		if len(c.msgs) == 0 {
			return nil
		}
		return c.msgs[0]
	}
	if m.call != c || m.pos+1 >= len(c.msgs) {
		return nil
	}
	return c.msgs[m.pos+1]
}

// PrevMessage returns the message of c before m; nil if m is nil or first.
func (s *Store) PrevMessage(c *Call, m *Message) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m == nil || m.call != c || m.pos == 0 {
		return nil
	}
	return c.msgs[m.pos-1]
}

// IsRetrans reports whether an earlier message of m's call carried exactly
// the same payload.
func (s *Store) IsRetrans(m *Message) bool { return m.IsRetrans() }

// Xcall returns the dialog c is linked with through an X-Call-ID header:
// the dialog named by c's X-Call-ID, or else a dialog whose X-Call-ID names
// c.  It returns nil when there's none.
func (s *Store) Xcall(c *Call) *Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if x := c.attrLocked(attr.XCallID); x != "" {
		return s.index[x]
	}
	for e := s.calls.Front(); e != nil; e = e.Next() {
		other := e.Value.(*Call)
		if other != c && other.attrLocked(attr.XCallID) == c.id {
			return other
		}
	}
	return nil
}

// RemoveCall drops c and all its messages from the store.  Removing a call
// twice is harmless.
func (s *Store) RemoveCall(c *Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.elem == nil {
		return
	}
	s.calls.Remove(c.elem)
	delete(s.index, c.id)
	c.detachLocked()
	s.metrics.Live.Set(float64(s.calls.Len()))
}

// RemoveMessage drops m from its call.  The call stays, even when emptied.
func (s *Store) RemoveMessage(m *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.call == nil {
		return
	}
	m.call.removeLocked(m)
}

// Clear drops every dialog and restarts display numbering.  The match
// expression, display filter and policy are kept.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for e := s.calls.Front(); e != nil; e = e.Next() {
		e.Value.(*Call).detachLocked()
	}
	s.calls.Init()
	s.index = make(map[string]*Call, s.cfg.Limit)
	s.seq = 0
	s.metrics.Live.Set(0)
	s.log.Debug().Msg("cleared all dialogs")
}
