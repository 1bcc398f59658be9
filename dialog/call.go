package dialog

import (
	"container/list"
	"strconv"

	"github.com/nextcaller/sip-dialogs/attr"
)

// filterResult caches the outcome of the display filter for a call.
type filterResult int

const (
	filterUnknown filterResult = iota
	filterPass
	filterReject
)

// Call is a SIP dialog: every message sharing one Call-ID, in arrival
// order.  All of its mutable state is guarded by its store's lock.
type Call struct {
	store *Store
	id    string
	index int

	// guarded by store.mu
	elem     *list.Element
	msgs     []*Message
	attrs    attr.Set
	state    State
	cstart   *Message
	filtered filterResult
}

func newCall(s *Store, id string, index int) *Call {
	c := &Call{
		store: s,
		id:    id,
		index: index,
	}
	c.attrs.Set(attr.CallIndex, strconv.Itoa(index))
	c.attrs.Set(attr.MsgCount, "0")
	return c
}

// ID is the Call-ID shared by the call's messages.
func (c *Call) ID() string { return c.id }

// Index is the display number given to the call when it was created.
func (c *Call) Index() int { return c.index }

// State is the current call state.
func (c *Call) State() State {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.state
}

// MessageCount is the number of messages currently held.
func (c *Call) MessageCount() int {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return len(c.msgs)
}

// Messages returns a snapshot of the call's messages in arrival order.
func (c *Call) Messages() []*Message {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	out := make([]*Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Attr returns a call attribute.  Index, message count, state and the
// durations belong to the call itself; anything else is taken from the
// call's first message.
func (c *Call) Attr(k attr.Kind) string {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.attrLocked(k)
}

func (c *Call) attrLocked(k attr.Kind) string {
	switch k {
	case attr.CallIndex, attr.MsgCount, attr.CallState, attr.ConvDur, attr.TotalDur:
		return c.attrs.Get(k)
	}
	if len(c.msgs) == 0 {
		return ""
	}
	return c.msgs[0].attrs.Get(k)
}

// Removed reports whether the call was removed from its store.
func (c *Call) Removed() bool {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.elem == nil
}

// appendLocked adds m to the end of the call.
func (c *Call) appendLocked(m *Message) {
	m.call = c
	m.pos = len(c.msgs)
	c.msgs = append(c.msgs, m)
	c.attrs.Set(attr.MsgCount, strconv.Itoa(len(c.msgs)))
	// a new message may change what the display filter thinks of the call.
	c.filtered = filterUnknown
}

// removeLocked takes m out of the call, renumbering the rest.
func (c *Call) removeLocked(m *Message) {
	i := m.pos
	copy(c.msgs[i:], c.msgs[i+1:])
	c.msgs[len(c.msgs)-1] = nil
	c.msgs = c.msgs[:len(c.msgs)-1]
	for ; i < len(c.msgs); i++ {
		c.msgs[i].pos = i
	}
	m.call = nil
	if c.cstart == m {
		c.cstart = nil
	}
	c.attrs.Set(attr.MsgCount, strconv.Itoa(len(c.msgs)))
	c.filtered = filterUnknown
}

// detachLocked severs the call from its store and its messages from it.
func (c *Call) detachLocked() {
	for _, m := range c.msgs {
		m.call = nil
	}
	c.msgs = nil
	c.cstart = nil
	c.elem = nil
}

// updateStateLocked runs the call state machine for a newly appended
// message, returning the state before and after.
func (c *Call) updateStateLocked(m *Message) (State, State) {
	from := c.state
	method := m.attrs.Get(attr.Method)
	if method == "" || len(c.msgs) == 0 {
		return from, from
	}

	next, effect := Transition(from, method)
	switch effect {
	case EffectConvStart:
		c.cstart = m
	case EffectTotalDuration:
		c.attrs.Set(attr.TotalDur, Duration(c.msgs[0].ts, m.ts))
	case EffectConvDuration:
		if c.cstart != nil {
			c.attrs.Set(attr.ConvDur, Duration(c.cstart.ts, m.ts))
		}
	}

	c.state = next
	if next != StateNone {
		c.attrs.Set(attr.CallState, next.String())
	}
	return from, next
}
