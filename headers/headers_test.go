package headers

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/nextcaller/sip-dialogs/attr"
)

func sip(lines ...string) string { return strings.Join(lines, "\r\n") + "\r\n" }

var invite = sip(
	"INVITE sip:bob@biloxi.com SIP/2.0",
	"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds",
	"Max-Forwards: 70",
	`To: Bob <sip:bob@biloxi.com>`,
	`From: "Alice" <sip:alice@atlanta.com>;tag=1928301774`,
	"Call-ID: a84b4c76e66710@pc33.atlanta.com",
	"X-Call-ID: 9876@b2bua.example.com",
	"CSeq: 314159 INVITE",
	"Contact: <sip:alice@pc33.atlanta.com>",
	"Content-Type: application/sdp",
	"Content-Length: 142",
	"",
	"v=0",
	"o=alice 2890844526 2890844526 IN IP4 pc33.atlanta.com",
	"c=IN IP4 192.0.2.101",
	"m=audio 49172 RTP/AVP 0",
)

var ringing = sip(
	"SIP/2.0 180 Ringing",
	"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds",
	"To: Bob <sip:bob@biloxi.com>;tag=a6c85cf",
	"From: Alice <sip:alice@atlanta.com>;tag=1928301774",
	"i: a84b4c76e66710@pc33.atlanta.com",
	"CSeq: 314159 INVITE",
	"Content-Length: 0",
	"",
)

func TestParse(t *testing.T) {
	testCases := map[string]struct {
		payload string
		request bool
		cseq    int
		sdp     bool
		attrs   map[attr.Kind]string
	}{
		"invite request": {
			invite, true, 314159, true,
			map[attr.Kind]string{
				attr.Method:      "INVITE",
				attr.XCallID:     "9876",
				attr.SIPFrom:     "alice@atlanta.com",
				attr.SIPFromUser: "alice",
				attr.SIPTo:       "bob@biloxi.com",
				attr.SIPToUser:   "bob",
				attr.SDPAddress:  "192.0.2.101",
				attr.SDPPort:     "49172",
			},
		},
		"provisional response": {
			ringing, false, 314159, false,
			map[attr.Kind]string{
				attr.Method:  "180 Ringing",
				attr.SIPTo:   "bob@biloxi.com",
				attr.XCallID: "",
			},
		},
		"status line is authoritative": {
			sip("SIP/2.0 486 Busy Here", "CSeq: 2 INVITE", "", "SIP/2.0 200 OK"), false, 2, false,
			map[attr.Kind]string{attr.Method: "486 Busy Here"},
		},
		"x-cid short form": {
			sip("OPTIONS sip:a SIP/2.0", "X-CID: zzz", "CSeq: 1 OPTIONS"), true, 1, false,
			map[attr.Kind]string{attr.XCallID: "zzz", attr.Method: "OPTIONS"},
		},
		"from without user part": {
			sip("REGISTER sip:r SIP/2.0", "From: <sip:atlanta.com>", "CSeq: 7 REGISTER"), true, 7, false,
			map[attr.Kind]string{attr.SIPFrom: "atlanta.com", attr.SIPFromUser: ""},
		},
		"lf only line endings": {
			"MESSAGE sip:x SIP/2.0\nCSeq: 3 MESSAGE\nContent-Type: APPLICATION/SDP\n", true, 3, true,
			map[attr.Kind]string{attr.Method: "MESSAGE"},
		},
		"junk lines skipped": {
			sip("garbage", "CSeq: notanumber BYE", "c=IN", "m=audio"), false, 0, false,
			map[attr.Kind]string{attr.Method: "", attr.SDPAddress: "", attr.SDPPort: ""},
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			is := is.New(t)
			p, err := Parse(tc.payload)
			is.NoErr(err)
			is.Equal(p.Request, tc.request) // request flag
			is.Equal(p.CSeq, tc.cseq)       // cseq number
			is.Equal(p.SDP, tc.sdp)         // sdp bearing
			for k, v := range tc.attrs {
				if got := p.Attrs.Get(k); got != v {
					t.Errorf("%v: got %q, expected %q", k, got, v)
				}
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	is := is.New(t)
	_, err := Parse("")
	is.True(errors.Is(err, ErrEmptyPayload))
}

func TestParseBounded(t *testing.T) {
	is := is.New(t)
	long := strings.Repeat("x", 4096)
	p, err := Parse(sip("SIP/2.0 200 "+long, "From: <sip:"+long+"@a>"))
	is.NoErr(err)
	is.Equal(len(p.Attrs.Get(attr.Method)), attr.MaxLen)
	is.Equal(len(p.Attrs.Get(attr.SIPFromUser)), attr.MaxLen)
}

func TestCallID(t *testing.T) {
	testCases := map[string]struct {
		payload  string
		expected string
	}{
		"long form":      {invite, "a84b4c76e66710"},
		"compact form":   {ringing, "a84b4c76e66710"},
		"no host part":   {sip("BYE sip:a SIP/2.0", "call-id:   abc123  "), "abc123"},
		"missing":        {sip("BYE sip:a SIP/2.0", "CSeq: 1 BYE"), ""},
		"empty":          {sip("BYE sip:a SIP/2.0", "Call-ID: @host"), ""},
		"first wins":     {sip("BYE sip:a SIP/2.0", "Call-ID: one@a", "Call-ID: two@b"), "one"},
		"body ignored":   {sip("BYE sip:a SIP/2.0", "CSeq: 1 BYE", "", "Call-ID: body@x"), ""},
		"x-call-id only": {sip("BYE sip:a SIP/2.0", "X-Call-ID: nope"), ""},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			is := is.New(t)
			is.Equal(CallID(tc.payload), tc.expected)
		})
	}
}

func TestValuesAndBody(t *testing.T) {
	is := is.New(t)

	is.Equal(Values(invite, "via"), []string{"SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds"})
	is.Equal(Values(ringing, "Call-ID"), []string{"a84b4c76e66710@pc33.atlanta.com"}) // compact name
	is.Equal(len(Values(invite, "Not-There")), 0)
	is.True(strings.HasPrefix(Body(invite), "v=0"))
	is.Equal(Body(ringing), "")
}

func TestDisplayStrings(t *testing.T) {
	is := is.New(t)

	ts := time.Date(2015, 3, 7, 9, 4, 5, 123456000, time.UTC)
	is.Equal(Date(ts), "2015/03/07")
	is.Equal(Time(ts), "09:04:05.123456")
	is.Equal(Endpoint(netip.MustParseAddrPort("10.0.0.1:5060")), "10.0.0.1:5060")
	is.Equal(Endpoint(netip.MustParseAddrPort("[::ffff:10.0.0.1]:5061")), "10.0.0.1:5061")
}

func TestResolver(t *testing.T) {
	is := is.New(t)

	calls := 0
	r := NewResolverFunc(func(_ context.Context, addr string) ([]string, error) {
		calls++
		switch addr {
		case "10.0.0.1":
			return []string{"sbc.voice-provider.example.com."}, nil
		default:
			return nil, errors.New("no such host")
		}
	})

	is.Equal(r.Hostname(netip.MustParseAddr("10.0.0.1")), "sbc.voice-provider.example.com")
	is.Equal(r.Hostname(netip.MustParseAddr("10.0.0.1")), "sbc.voice-provider.example.com")
	is.Equal(calls, 1) // answers are cached

	is.Equal(r.HostEndpoint(netip.MustParseAddrPort("10.0.0.1:5060")), "sbc.voice-provi:5060")
	is.Equal(r.HostEndpoint(netip.MustParseAddrPort("10.0.0.2:5060")), "10.0.0.2:5060") // failure falls back
	r.Hostname(netip.MustParseAddr("10.0.0.2"))
	is.Equal(calls, 2) // failures are cached too
}
