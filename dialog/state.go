package dialog

import (
	"fmt"
	"strings"
	"time"
)

// State is where a call (INVITE dialog) is in its life.  Dialogs that never
// saw an INVITE stay in StateNone.
type State int

// Call states.
const (
	StateNone State = iota
	StateCallSetup
	StateInCall
	StateCompleted
	StateCancelled
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateCallSetup:
		return "CALL SETUP"
	case StateInCall:
		return "IN CALL"
	case StateCompleted:
		return "COMPLETED"
	case StateCancelled:
		return "CANCELLED"
	case StateRejected:
		return "REJECTED"
	}
	return ""
}

// Effect is the bookkeeping a transition asks of the call.
type Effect int

// Transition side effects.
const (
	// EffectNone changes nothing but the state.
	EffectNone Effect = iota
	// EffectConvStart records the message as the start of the conversation.
	EffectConvStart
	// EffectTotalDuration sets the total duration, first message to now.
	EffectTotalDuration
	// EffectConvDuration sets the conversation duration, conversation start
	// to now.
	EffectConvDuration
)

// Transition returns the state a call moves to when a message with the
// given method (a request method, or a response status line such as
// "200 OK") arrives while it is in state cur, and the side effect to apply.
func Transition(cur State, method string) (State, Effect) {
	switch cur {
	case StateCallSetup:
		switch {
		case strings.HasPrefix(method, "200"):
			return StateInCall, EffectConvStart
		case strings.EqualFold(method, "CANCEL"):
			return StateCancelled, EffectTotalDuration
		case isFailure(method):
			return StateRejected, EffectTotalDuration
		}
	case StateInCall:
		if strings.EqualFold(method, "BYE") {
			return StateCompleted, EffectConvDuration
		}
	}

	// initial INVITE, or a new setup after an auth challenge or a finished
	// call.  A re-INVITE inside a call doesn't restart setup.
	if strings.EqualFold(method, "INVITE") && cur != StateInCall {
		return StateCallSetup, EffectNone
	}
	return cur, EffectTotalDuration
}

// isFailure reports a 4xx, 5xx or 6xx final response.
func isFailure(method string) bool {
	return method != "" && (method[0] == '4' || method[0] == '5' || method[0] == '6')
}

// Duration renders the whole seconds elapsed between two capture times as
// m:ss, right aligned in seven characters.
func Duration(start, end time.Time) string {
	secs := end.Unix() - start.Unix()
	return fmt.Sprintf("%7s", fmt.Sprintf("%d:%02d", secs/60, secs%60))
}

// Event reports a call state change.  It's delivered after the store lock
// is released, so handlers may freely use the store.
type Event struct {
	Call    *Call
	Message *Message
	From    State
	To      State
}
