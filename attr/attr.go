// Package attr enumerates the named attributes carried by SIP messages and
// dialogs, and provides the small ordered map used to store them.
package attr

import "strings"

// Kind identifies one attribute of a message or a call.
type Kind int

// The attribute kinds.  The zero value is not a valid kind.
const (
	CallIndex Kind = iota + 1
	SIPFrom
	SIPFromUser
	SIPTo
	SIPToUser
	Src
	SrcHost
	Dst
	DstHost
	CallID
	XCallID
	Date
	Time
	Method
	MsgCount
	CallState
	ConvDur
	TotalDur
	SDPAddress
	SDPPort

	sentinel
)

// MaxLen bounds the length of every extracted attribute value.
const MaxLen = 255

type meta struct {
	name  string
	title string
	desc  string
	width int
}

var kinds = map[Kind]meta{
	CallIndex:   {"index", "Idx", "Call Index", 4},
	SIPFrom:     {"sipfrom", "SIP From", "SIP From header", 25},
	SIPFromUser: {"sipfromuser", "SIP From User", "SIP From user", 20},
	SIPTo:       {"sipto", "SIP To", "SIP To header", 25},
	SIPToUser:   {"siptouser", "SIP To User", "SIP To user", 20},
	Src:         {"src", "Source", "Source address:port", 22},
	SrcHost:     {"srchost", "Source", "Source host:port", 16},
	Dst:         {"dst", "Destination", "Destination address:port", 22},
	DstHost:     {"dsthost", "Destination", "Destination host:port", 16},
	CallID:      {"callid", "Call-ID", "Call-ID header", 50},
	XCallID:     {"xcallid", "X-Call-ID", "X-Call-ID or X-CID header", 50},
	Date:        {"date", "Date", "Date of the first message", 10},
	Time:        {"time", "Time", "Time of the first message", 15},
	Method:      {"method", "Method", "Method or response code", 10},
	MsgCount:    {"msgcnt", "Msgs", "Message count", 5},
	CallState:   {"state", "State", "Call state", 12},
	ConvDur:     {"convdur", "ConvDur", "Conversation duration", 7},
	TotalDur:    {"totaldur", "TotalDur", "Total call duration", 8},
	SDPAddress:  {"sdpaddress", "SDP Addr", "SDP connection address", 22},
	SDPPort:     {"sdpport", "SDP Port", "SDP media port", 6},
}

// All returns every valid kind in declaration order.
func All() []Kind {
	all := make([]Kind, 0, int(sentinel)-1)
	for k := CallIndex; k < sentinel; k++ {
		all = append(all, k)
	}
	return all
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool { return k >= CallIndex && k < sentinel }

// Name is the stable lower case identifier of the kind, as used in the
// column configuration file.
func (k Kind) Name() string { return kinds[k].name }

// Title is a short column heading.
func (k Kind) Title() string { return kinds[k].title }

// Description is a human readable explanation of the attribute.
func (k Kind) Description() string { return kinds[k].desc }

// Width is the preferred display width of a column holding the attribute.
func (k Kind) Width() int { return kinds[k].width }

func (k Kind) String() string {
	if !k.Valid() {
		return "unknown"
	}
	return k.Name()
}

// ByName returns the kind with the given name, ignoring case.
func ByName(name string) (Kind, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, m := range kinds {
		if m.name == name {
			return k, true
		}
	}
	return 0, false
}
