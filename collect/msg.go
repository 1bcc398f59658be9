package collect

import (
	"strings"
	"time"

	"github.com/nextcaller/sip-dialogs/attr"
	"github.com/nextcaller/sip-dialogs/dialog"
)

// Msg is the JSON envelope published for a call state change.  SIPData, the
// message that caused the change, will be base64 encoded.
type Msg struct {
	ID       string    `json:"id"`
	Index    int       `json:"index"`
	State    string    `json:"state"`
	Previous string    `json:"previous,omitempty"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to,omitempty"`
	Src      string    `json:"src"`
	Dst      string    `json:"dst"`
	Messages int       `json:"messages"`
	ConvDur  string    `json:"conv_duration,omitempty"`
	TotalDur string    `json:"total_duration,omitempty"`
	XCallID  string    `json:"xcallid,omitempty"`
	Time     time.Time `json:"time"`
	SIPData  []byte    `json:"sip"`
}

// NewMsg snapshots the call of a state change event.
func NewMsg(e dialog.Event) *Msg {
	c, m := e.Call, e.Message
	return &Msg{
		ID:       c.ID(),
		Index:    c.Index(),
		State:    e.To.String(),
		Previous: e.From.String(),
		From:     c.Attr(attr.SIPFrom),
		To:       c.Attr(attr.SIPTo),
		Src:      m.Attr(attr.Src),
		Dst:      m.Attr(attr.Dst),
		Messages: c.MessageCount(),
		ConvDur:  strings.TrimSpace(c.Attr(attr.ConvDur)),
		TotalDur: strings.TrimSpace(c.Attr(attr.TotalDur)),
		XCallID:  c.Attr(attr.XCallID),
		Time:     m.Timestamp().UTC(),
		SIPData:  []byte(m.Payload()),
	}
}
