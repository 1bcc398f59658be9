package filters

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/nextcaller/sip-dialogs/attr"
)

// Message is the view of a captured SIP message that filters evaluate.
type Message interface {
	// Payload is the raw message text.
	Payload() string
	// IsRequest reports whether the message is a request.
	IsRequest() bool
	// Attr returns a parsed attribute of the message.
	Attr(attr.Kind) string
}

// Filter is a function which decides if a SIP message should pass or fail.
type Filter func(msg Message) bool

type builder func([]sexp) (Filter, error)

var (
	builders     map[string]builder
	buildersOnce sync.Once
)

// Builders can't be a package level var literal, because some of them
// recurse back into compileSexp and initialization would loop.
func initBuilders() {
	builders = map[string]builder{
		"request":   filterRequest,
		"response":  filterResponse,
		"methods":   filterMethods,
		"status":    filterStatus,
		"hasheader": filterHasHeader,
		"to":        filterTo,
		"from":      filterFrom,
		"callid":    filterCallID,
		"header":    filterHeader,
		"body":      filterBody,
		"message":   filterMessage,
		"not":       filterNot,
		"any":       filterAny,
		"all":       filterAll,
	}
}

// Compile a source in sexp format into an invokable Filter.  An empty source
// compiles to a Filter that passes everything.
func Compile(source string) (Filter, error) {
	buildersOnce.Do(initBuilders)

	source = strings.TrimSpace(source)
	if source == "" {
		return Pass, nil
	}

	s, err := parseSexp(source)
	if err != nil {
		return nil, fmt.Errorf("filter parsing error: %w", err)
	}
	return compileSexp(s)
}

// MustCompile is like Compile but panics on error.  Meant for tests and
// constant filters.
func MustCompile(source string) Filter {
	f, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return f
}

// compile a function with possible argument list into a filter.  Some filter
// funcs recurse back to compileSexp in the case of embedded filters.
func compileSexp(s sexp) (Filter, error) {
	var args []sexp
	f := ""

	switch v := s.i.(type) {
	case string:
		f = v
	case list:
		if len(v) < 1 {
			return nil, fmt.Errorf("expression [%v]: %w", v, ErrEmptyExpression)
		}
		var ok bool
		f, ok = v[0].i.(string)
		if !ok {
			return nil, fmt.Errorf("expression [%v] must start with a func name, not %v: %w", s, v[0], ErrExpressionType)
		}
		args = v[1:]
	default:
		return nil, fmt.Errorf("expression [%v] must start with func name: %w", s, ErrExpressionType)
	}

	if b, ok := builders[strings.ToLower(f)]; ok {
		return b(args)
	}
	return nil, fmt.Errorf("%v: %w", f, ErrUnknownFunc)
}

// regexpString converts an sexp holding a single quoted string into a
// compiled regexp.
func regexpString(a sexp) (*regexp.Regexp, error) {
	s, ok := a.i.(qString)
	if !ok {
		return nil, ErrNeedString
	}
	re, err := regexp.Compile(string(s))
	if err != nil {
		return nil, fmt.Errorf("compiling regexp: %w: %v", ErrBadRegexp, err)
	}
	return re, nil
}

// Pass is a Filter that accepts every message.
func Pass(Message) bool { return true }
