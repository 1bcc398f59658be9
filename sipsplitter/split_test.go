package sipsplitter

import (
	"bufio"
	"errors"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/matryer/is"
)

type captured struct {
	discards []string
	reasons  []string
	waits    []string
	messages []string
}

func (c *captured) trace() *Trace {
	return &Trace{
		Discard: func(reason string, b []byte) {
			c.reasons = append(c.reasons, reason)
			c.discards = append(c.discards, string(b))
		},
		Waiting:  func(stage string) { c.waits = append(c.waits, stage) },
		Complete: func(b []byte) { c.messages = append(c.messages, string(b)) },
	}
}

// scan runs the splitter over stream, returning the tokens and error.  It
// fails the test if the scanner doesn't finish promptly.
func scan(t *testing.T, sp *Splitter, stream string) ([]string, error) {
	t.Helper()
	scanner := bufio.NewScanner(strings.NewReader(stream))
	scanner.Split(sp.SplitSIP)

	var tokens []string
	done := make(chan bool, 1)
	go func() {
		for scanner.Scan() {
			tokens = append(tokens, scanner.Text())
		}
		done <- true
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream scan")
	}
	return tokens, scanner.Err()
}

const (
	okResponse = "SIP/2.0 200 OK\r\nCall-ID: abc@10.0.0.1\r\nContent-Length: 0\r\n\r\n"
	invite     = "INVITE sip:bob@example.com SIP/2.0\r\nCall-ID: abc@10.0.0.1\r\nContent-Type: application/sdp\r\nContent-Length: 5\r\n\r\nv=0\r\n"
	bye        = "BYE sip:bob@example.com SIP/2.0\r\nCall-ID: abc@10.0.0.1\r\nl: 0\r\n\r\n"
	noLength   = "INFO sip:bob@example.com SIP/2.0\r\nCall-ID: abc@10.0.0.1\r\n\r\n"
)

func TestSplit(t *testing.T) {
	testCases := map[string]struct {
		stream   string
		messages []string
		discards []string
		reason   string
	}{
		"empty stream": {
			stream: "",
		},
		"random junk": {
			stream: "\x00\x01\x02 not sip at all",
		},
		"junk lines": {
			stream: "GET / HTTP/1.1\r\nHost: example.com\r\n",
		},
		"bad status line": {
			stream: "SIP/2.0 2x0 OK\r\nContent-Length: 0\r\n\r\n",
		},
		"bad request line": {
			stream: "INVITED sip:bob@example.com SIP/2.0\r\nContent-Length: 0\r\n\r\n",
		},
		"complete response": {
			stream:   okResponse,
			messages: []string{okResponse},
		},
		"complete with body": {
			stream:   invite,
			messages: []string{invite},
		},
		"compact content length": {
			stream:   bye,
			messages: []string{bye},
		},
		"lowercase content length": {
			stream:   strings.Replace(invite, "Content-Length", "content-length", 1),
			messages: []string{strings.Replace(invite, "Content-Length", "content-length", 1)},
		},
		"back to back": {
			stream:   invite + okResponse + bye,
			messages: []string{invite, okResponse, bye},
		},
		"junk then sip": {
			stream:   "garbage\r\nmore garbage\r\n" + okResponse,
			messages: []string{okResponse},
			discards: []string{"garbage\r\nmore garbage\r\n"},
			reason:   "junk before start line",
		},
		"missing content length, resync": {
			stream:   noLength + okResponse,
			messages: []string{okResponse},
			discards: []string{noLength},
			reason:   ErrBadContentLength.Error(),
		},
		"non numeric content length": {
			stream:   strings.Replace(okResponse, "Content-Length: 0", "Content-Length: zero", 1),
			discards: []string{strings.Replace(okResponse, "Content-Length: 0", "Content-Length: zero", 1)},
			reason:   ErrBadContentLength.Error(),
		},
		"incomplete headers": {
			stream: "SIP/2.0 200 OK\r\nCall-ID: abc@10.0.0.1\r\n",
		},
		"incomplete body": {
			stream: strings.TrimSuffix(invite, "v=0\r\n"),
		},
		"two complete, then incomplete": {
			stream:   okResponse + bye + "BYE sip:bob@example.com SIP/2.0\r\n",
			messages: []string{okResponse, bye},
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			is := is.New(t)
			c := &captured{}
			tokens, err := scan(t, &Splitter{Trace: c.trace()}, tc.stream)
			is.NoErr(err)
			is.Equal(tokens, tc.messages)     // tokens
			is.Equal(c.messages, tc.messages) // complete hook sees every token
			is.Equal(c.discards, tc.discards) // discarded bytes
			for _, r := range c.reasons {
				is.Equal(r, tc.reason)
			}
		})
	}
}

func TestWaitingStages(t *testing.T) {
	testCases := map[string]struct {
		stream string
		stage  string
	}{
		"start line": {"SIP/2.0 200", WaitStartLine},
		"headers":    {"SIP/2.0 200 OK\r\nCall-ID: abc\r\n", WaitHeaders},
		"body":       {strings.TrimSuffix(invite, "\r\n"), WaitBody},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			is := is.New(t)
			c := &captured{}
			tokens, err := scan(t, &Splitter{Trace: c.trace()}, tc.stream)
			is.NoErr(err)
			is.Equal(len(tokens), 0)
			is.True(len(c.waits) > 0)
			is.Equal(c.waits[len(c.waits)-1], tc.stage)
		})
	}
}

func TestResyncAtEOF(t *testing.T) {
	tests := map[string]string{
		"junk":      "garbage\r\n" + okResponse,
		"too large": "MESSAGE sip:bob@example.com SIP/2.0\r\nContent-Length: 1000\r\n\r\n" + strings.Repeat("x", 998) + "\r\n" + okResponse,
		"no length": noLength + "v=0\r\n" + bye,
	}

	for name, stream := range tests {
		stream := stream
		t.Run(name, func(t *testing.T) {
			is := is.New(t)
			// the whole stream arrives together with EOF
			scanner := bufio.NewScanner(iotest.DataErrReader(strings.NewReader(stream)))
			scanner.Split((&Splitter{MaxSize: 256}).SplitSIP)

			var tokens []string
			for scanner.Scan() {
				tokens = append(tokens, scanner.Text())
			}
			is.NoErr(scanner.Err())
			is.Equal(len(tokens), 1) // last message framed after discarding
			is.True(strings.HasSuffix(stream, tokens[0]))
		})
	}
}

func TestMaxSize(t *testing.T) {
	is := is.New(t)
	huge := "MESSAGE sip:bob@example.com SIP/2.0\r\nContent-Length: 1000\r\n\r\n" + strings.Repeat("x", 998) + "\r\n"

	c := &captured{}
	tokens, err := scan(t, &Splitter{Trace: c.trace(), MaxSize: 256}, huge+okResponse)
	is.NoErr(err)
	is.Equal(tokens, []string{okResponse}) // resynchronized past the oversize message
	is.Equal(c.reasons[0], ErrTooLarge.Error())

	c = &captured{}
	tokens, err = scan(t, &Splitter{Trace: c.trace(), MaxSize: 64}, strings.Repeat("junk ", 100))
	is.NoErr(err)
	is.Equal(len(tokens), 0)
	is.Equal(c.reasons, []string{ErrTooLarge.Error()}) // buffer overflow discarded
}

func TestExitOnError(t *testing.T) {
	testCases := map[string]struct {
		stream string
		maxLen int
		err    error
	}{
		"bad content length": {"INVITE foo@bar SIP/2.0\r\nContent-Length: a\r\n\r\n", 0, ErrBadContentLength},
		"too large":          {"INVITE foo@bar SIP/2.0\r\nContent-Length: 500\r\n\r\n", 100, ErrTooLarge},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			is := is.New(t)
			_, err := scan(t, &Splitter{ExitOnError: true, MaxSize: tc.maxLen}, tc.stream)
			is.True(errors.Is(err, tc.err))
		})
	}
}

func BenchmarkFindStartLine(b *testing.B) {
	data := []byte("blahlblah blah\r\nnSIP/2.0 200 OK\r\nINVITE foo@bar SIP/2.0\r\nMore-HEADERs: blah\r\nContent-Length: 1\r\n\r\n1\r\n")
	for i := 0; i < b.N; i++ {
		if start, end := findStartLine(data); start <= 0 || end <= 0 {
			b.Fatal("start line not found")
		}
	}
}

func TestLooksLikeSIP(t *testing.T) {
	is := is.New(t)
	is.True(LooksLikeSIP([]byte(invite)))
	is.True(LooksLikeSIP([]byte(okResponse)))
	is.True(!LooksLikeSIP([]byte("SIP/2.0 200 OK")))     // no line ending
	is.True(!LooksLikeSIP([]byte("garbage\r\n" + bye))) // must be first
	is.True(!LooksLikeSIP(nil))
}
