package headers

import (
	"strings"

	"github.com/nextcaller/sip-dialogs/attr"
)

// compact maps long header names to their RFC 3261 compact forms.
var compact = map[string]string{
	"call-id":        "i",
	"contact":        "m",
	"content-length": "l",
	"content-type":   "c",
	"from":           "f",
	"subject":        "s",
	"supported":      "k",
	"to":             "t",
	"via":            "v",
}

// CallID returns the dialog identity of a payload: the value of its first
// Call-ID (or compact i) header, up to the first @.  It returns "" when the
// payload has no usable Call-ID.
func CallID(payload string) string {
	v, ok := first(payload, "Call-ID")
	if !ok {
		return ""
	}
	id := strings.TrimSpace(upTo(v, "@\r\n"))
	if len(id) > attr.MaxLen {
		id = id[:attr.MaxLen]
	}
	return id
}

// Values returns every value of the named header in the header section of
// payload, matching long or compact names case-insensitively.
func Values(payload, name string) []string {
	var out []string
	eachHeader(payload, name, func(v string) bool {
		out = append(out, v)
		return true
	})
	return out
}

// Body returns everything after the empty line ending the header section.
func Body(payload string) string {
	if i := strings.Index(payload, "\r\n\r\n"); i >= 0 {
		return payload[i+4:]
	}
	if i := strings.Index(payload, "\n\n"); i >= 0 {
		return payload[i+2:]
	}
	return ""
}

func first(payload, name string) (string, bool) {
	var found string
	ok := false
	eachHeader(payload, name, func(v string) bool {
		found, ok = v, true
		return false
	})
	return found, ok
}

// eachHeader calls fn with each value of the named header until fn returns
// false.  The start line is skipped and scanning stops at the end of the
// headers.
func eachHeader(payload, name string, fn func(string) bool) {
	short := compact[strings.ToLower(name)]
	lines := strings.Split(payload, "\n")
	for i, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			if i == 0 {
				continue
			}
			return
		}
		v, ok := cutHeaderSpaced(line, name)
		if !ok && short != "" {
			v, ok = cutHeaderSpaced(line, short)
		}
		if ok && !fn(strings.TrimRight(v, " \t")) {
			return
		}
	}
}

// cutHeaderSpaced is cutHeader allowing whitespace before the colon, which
// the grammar permits and some user agents emit.
func cutHeaderSpaced(line, name string) (string, bool) {
	if len(line) <= len(name) || !strings.EqualFold(line[:len(name)], name) {
		return "", false
	}
	rest := strings.TrimLeft(line[len(name):], " \t")
	if !strings.HasPrefix(rest, ":") {
		return "", false
	}
	return strings.TrimLeft(rest[1:], " \t"), true
}
