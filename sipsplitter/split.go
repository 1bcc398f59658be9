// Package sipsplitter cuts a reassembled SIP over TCP byte stream into
// individual messages, for use as a bufio.SplitFunc.
package sipsplitter

import (
	"bytes"
	"strconv"
)

type constError string

func (e constError) Error() string { return string(e) }

const (
	// ErrBadContentLength indicates a SIP message without a Content-Length
	// header, or one that was unparsable as a non-negative integer.
	ErrBadContentLength = constError("invalid Content-Length")
	// ErrTooLarge indicates more than MaxSize bytes were buffered without
	// finding the end of a message.
	ErrTooLarge = constError("message exceeds maximum size")
)

// DefaultMaxSize is the MaxSize used by a zero Splitter, matching the
// default bufio.Scanner buffer.
const DefaultMaxSize = 64 * 1024

// Stages at which splitting waits for more bytes, reported to Trace.Waiting.
const (
	WaitStartLine = "start line"
	WaitHeaders   = "headers"
	WaitBody      = "body"
)

var (
	crlf     = []byte("\r\n")
	crlfcrlf = []byte("\r\n\r\n")
)

// Trace holds hooks run at points of interest while splitting.  Any hook may
// be nil.
type Trace struct {
	// Discard receives bytes dropped while resynchronizing, with the reason.
	Discard func(reason string, b []byte)
	// Waiting is called with the stage that needs more bytes.
	Waiting func(stage string)
	// Complete receives every whole message found; the same bytes are the
	// scanner token.
	Complete func(msg []byte)
}

// Splitter provides SplitSIP for using bufio.Scanner to extract individual
// SIP messages from a stream.  Its zero value is usable and discards
// anything it can't frame.
type Splitter struct {
	Trace *Trace
	// ExitOnError stops the scan on an unframeable message rather than
	// resynchronizing past it.
	ExitOnError bool
	// MaxSize bounds a single message, headers and body; 0 means
	// DefaultMaxSize.  The scanner's own buffer must be at least as large.
	MaxSize int

	// length of the buffer last seen, so hooks don't rerun at EOF.
	last int
}

func (s *Splitter) discard(reason string, b []byte) {
	if s.Trace != nil && s.Trace.Discard != nil {
		s.Trace.Discard(reason, b)
	}
}

func (s *Splitter) waiting(stage string) {
	if s.Trace != nil && s.Trace.Waiting != nil {
		s.Trace.Waiting(stage)
	}
}

func (s *Splitter) maxSize() int {
	if s.MaxSize > 0 {
		return s.MaxSize
	}
	return DefaultMaxSize
}

// SplitSIP is a bufio.SplitFunc returning one SIP message per token.
func (s *Splitter) SplitSIP(b []byte, atEOF bool) (int, []byte, error) {
	if atEOF && (len(b) == 0 || len(b) == s.last) {
		return 0, nil, nil
	}
	s.last = len(b)

	// bufio.Scanner stops at EOF after any call that advances without a
	// token, so at EOF keep resynchronizing until a message or the end.
	total := 0
	for {
		adv, tok, err := s.frame(b[total:])
		if !atEOF || tok != nil || err != nil || adv == 0 {
			return total + adv, tok, err
		}
		total += adv
		if total >= len(b) {
			return total, nil, nil
		}
	}
}

// frame finds the first message in b, or says how much to skip or that
// more bytes are needed.
func (s *Splitter) frame(b []byte) (int, []byte, error) {
	start, lineEnd := findStartLine(b)
	switch {
	case start > 0:
		s.discard("junk before start line", b[:start])
		return start, nil, nil
	case start < 0:
		return s.wait(b, WaitStartLine)
	}

	hdrEnd := bytes.Index(b, crlfcrlf)
	if hdrEnd == -1 {
		return s.wait(b, WaitHeaders)
	}
	hdrEnd += len(crlfcrlf)

	clen := contentLength(b[lineEnd:hdrEnd])
	if clen < 0 {
		if s.ExitOnError {
			return len(b), nil, ErrBadContentLength
		}
		// drop the headers; the orphaned body is junk on the next call.
		s.discard(ErrBadContentLength.Error(), b[:hdrEnd])
		return hdrEnd, nil, nil
	}

	end := hdrEnd + clen
	if end > s.maxSize() {
		if s.ExitOnError {
			return len(b), nil, ErrTooLarge
		}
		s.discard(ErrTooLarge.Error(), b[:hdrEnd])
		return hdrEnd, nil, nil
	}
	if end > len(b) {
		return s.wait(b, WaitBody)
	}

	if s.Trace != nil && s.Trace.Complete != nil {
		s.Trace.Complete(b[:end])
	}
	return end, b[:end], nil
}

// wait asks for more bytes, unless so many are buffered already that no
// message could still be framed.
func (s *Splitter) wait(b []byte, stage string) (int, []byte, error) {
	if len(b) >= s.maxSize() {
		if s.ExitOnError {
			return len(b), nil, ErrTooLarge
		}
		s.discard(ErrTooLarge.Error(), b)
		return len(b), nil, nil
	}
	s.waiting(stage)
	return 0, nil, nil
}

// contentLength finds the Content-Length (or compact l) header in a CRLF
// terminated header block, returning -1 when it's missing or not a number.
//   Content-Length  =  ( "Content-Length" / "l" ) HCOLON 1*DIGIT
func contentLength(hdrs []byte) int {
	for len(hdrs) > 0 {
		eol := bytes.Index(hdrs, crlf)
		if eol == -1 {
			break
		}
		line := hdrs[:eol]
		hdrs = hdrs[eol+len(crlf):]

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		name := bytes.TrimRight(line[:colon], " \t")
		if !bytes.EqualFold(name, []byte("Content-Length")) && !bytes.EqualFold(name, []byte("l")) {
			continue
		}
		n, err := strconv.Atoi(string(bytes.Trim(line[colon+1:], " \t")))
		if err != nil || n < 0 {
			return -1
		}
		return n
	}
	return -1
}

// findStartLine returns the offset of the first line that looks like a SIP
// request or status line, and the offset just past its CRLF; -1, -1 if the
// buffer holds no such complete line.  The check is only good enough to
// resynchronize after junk, not a validation of the line.
func findStartLine(b []byte) (int, int) {
	for start := 0; start < len(b); {
		eol := bytes.Index(b[start:], crlf)
		if eol == -1 {
			return -1, -1
		}
		end := start + eol + len(crlf)
		line := b[start:end]
		if isRequest(line) || isResponse(line) {
			return start, end
		}
		start = end
	}
	return -1, -1
}

// methods are the SIP request methods, most common first.
var methods = [][]byte{
	[]byte("INVITE"),
	[]byte("ACK"),
	[]byte("BYE"),
	[]byte("OPTIONS"),
	[]byte("REGISTER"),
	[]byte("CANCEL"),
	[]byte("PRACK"),
	[]byte("UPDATE"),
	[]byte("INFO"),
	[]byte("SUBSCRIBE"),
	[]byte("NOTIFY"),
	[]byte("PUBLISH"),
	[]byte("MESSAGE"),
	[]byte("REFER"),
}

//	Request-Line = Method SP Request-URI SP SIP-Version CRLF
func isRequest(line []byte) bool {
	// shortest is `ACK x SIP/2.0\r\n`
	if len(line) < 15 {
		return false
	}
	f := bytes.Fields(line)
	if len(f) != 3 || !bytes.HasPrefix(f[2], []byte("SIP/")) {
		return false
	}
	for _, m := range methods {
		if bytes.Equal(f[0], m) {
			return true
		}
	}
	return false
}

//	Status-Line = SIP-Version SP Status-Code SP Reason-Phrase CRLF
func isResponse(line []byte) bool {
	if len(line) < 14 || !bytes.HasPrefix(line, []byte("SIP/")) {
		return false
	}
	f := bytes.Fields(line)
	if len(f) < 3 || len(f[1]) != 3 {
		return false
	}
	_, err := strconv.Atoi(string(f[1]))
	return err == nil
}

// LooksLikeSIP reports whether b begins with a SIP request or status line.
func LooksLikeSIP(b []byte) bool {
	eol := bytes.Index(b, crlf)
	if eol == -1 {
		return false
	}
	line := b[:eol+len(crlf)]
	return isRequest(line) || isResponse(line)
}
