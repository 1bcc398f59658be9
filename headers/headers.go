// Package headers extracts the handful of SIP header and SDP values needed to
// correlate messages into dialogs.
//
// Parsing is deliberately forgiving: the payload is processed one line at a
// time, and a line that doesn't look like anything interesting is skipped.
// It never attempts to validate a message against the SIP grammar, which
// makes it usable on truncated or otherwise mangled captures.  Every value
// extracted is bounded to attr.MaxLen bytes.
package headers

import (
	"strconv"
	"strings"

	"github.com/nextcaller/sip-dialogs/attr"
)

type constError string

func (e constError) Error() string { return string(e) }

const (
	// ErrEmptyPayload is the only failure of Parse: there was nothing to
	// parse at all.
	ErrEmptyPayload = constError("empty payload")
)

// Parsed is the best-effort result of scanning a SIP payload.
type Parsed struct {
	Attrs   attr.Set
	Request bool
	CSeq    int
	SDP     bool
}

// Parse scans payload line by line and extracts message attributes.
//
// Recognized lines, checked in order; the first pattern that matches a line
// consumes it:
//	X-Call-ID: / X-CID:           XCallID, up to whitespace or @
//	SIP/2.0 <code> <reason>       response, Method (first one only)
//	CSeq: <n> <method>            request, Method (if still unset), CSeq
//	From: <uri>                   SIPFromUser, then SIPFrom
//	To: <uri>                     SIPToUser, then SIPTo
//	Content-Type: application/sdp SDP bearing message
//	c=<net> <type> <addr>         SDPAddress
//	m=<media> <port> ...          SDPPort
func Parse(payload string) (*Parsed, error) {
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	p := &Parsed{}
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		p.parseLine(line)
	}
	return p, nil
}

func (p *Parsed) parseLine(line string) {
	for _, h := range []string{"X-Call-ID", "X-CID"} {
		if v, ok := cutHeader(line, h); ok {
			if id := upTo(v, "@ \t"); id != "" {
				p.Attrs.Set(attr.XCallID, id)
				return
			}
		}
	}

	if strings.HasPrefix(line, "SIP/2.0 ") {
		if status := upTo(strings.TrimLeft(line[len("SIP/2.0 "):], " \t"), "\t"); status != "" {
			if _, ok := p.Attrs.Lookup(attr.Method); !ok {
				p.Request = false
				p.Attrs.Set(attr.Method, status)
			}
			return
		}
	}

	if v, ok := cutHeader(line, "CSeq"); ok {
		if n, method, ok := splitCSeq(v); ok {
			if _, set := p.Attrs.Lookup(attr.Method); !set && method != "" {
				p.Request = true
				p.Attrs.Set(attr.Method, method)
			}
			p.CSeq = n
			return
		}
	}

	if v, ok := cutHeader(line, "From"); ok {
		if p.parseAddress(v, attr.SIPFromUser, attr.SIPFrom) {
			return
		}
	}
	if v, ok := cutHeader(line, "To"); ok {
		if p.parseAddress(v, attr.SIPToUser, attr.SIPTo) {
			return
		}
	}

	if v, ok := cutHeader(line, "Content-Type"); ok {
		if hasPrefixFold(v, "application/sdp") {
			p.SDP = true
			return
		}
	}

	if strings.HasPrefix(line, "c=") {
		if f := strings.Fields(line[2:]); len(f) >= 3 {
			p.Attrs.Set(attr.SDPAddress, f[2])
			return
		}
	}
	if strings.HasPrefix(line, "m=") {
		if f := strings.Fields(line[2:]); len(f) >= 2 {
			p.Attrs.Set(attr.SDPPort, f[1])
		}
	}
}

// parseAddress handles From/To values such as `"Bob" <sip:bob@b.com>;tag=x`.
// The user part (before @) is stored first, then the URI without its scheme,
// so a later write of the URI wins if both end up in the same attribute.
// Returns whether the line was consumed.
func (p *Parsed) parseAddress(v string, user, uri attr.Kind) bool {
	colon := strings.IndexByte(v, ':')
	if colon <= 0 {
		return false
	}
	rest := v[colon+1:]

	if at := strings.IndexByte(rest, '@'); at > 0 {
		if tail := upTo(rest[at+1:], "\t"); tail != "" {
			p.Attrs.Set(user, rest[:at])
		}
	}
	if u := upTo(rest, "\t>;"); u != "" {
		p.Attrs.Set(uri, u)
	}
	return true
}

// splitCSeq parses `<number> <method>`; the method may be missing.
func splitCSeq(v string) (int, string, bool) {
	f := strings.Fields(v)
	if len(f) == 0 {
		return 0, "", false
	}
	n, err := strconv.Atoi(f[0])
	if err != nil {
		return 0, "", false
	}
	method := ""
	if len(f) > 1 {
		method = strings.Join(f[1:], " ")
	}
	return n, method, true
}

// cutHeader returns the value of line if it's the named header, with
// leading whitespace removed.  Header names match case-insensitively.
func cutHeader(line, name string) (string, bool) {
	if len(line) <= len(name) || line[len(name)] != ':' || !strings.EqualFold(line[:len(name)], name) {
		return "", false
	}
	return strings.TrimLeft(line[len(name)+1:], " \t"), true
}

// upTo returns s up to the first byte found in stop.
func upTo(s, stop string) string {
	if i := strings.IndexAny(s, stop); i >= 0 {
		return s[:i]
	}
	return s
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
