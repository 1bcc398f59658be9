package filters

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gopacket/layers"
	"github.com/nextcaller/sip-dialogs/attr"
	"github.com/nextcaller/sip-dialogs/headers"
)

// cseqMethod returns the method named by the message's CSeq header, which
// for responses is the method of the request they answer.
func cseqMethod(msg Message) string {
	for _, v := range headers.Values(msg.Payload(), "CSeq") {
		if f := strings.Fields(v); len(f) > 1 {
			return f[1]
		}
	}
	if msg.IsRequest() {
		return msg.Attr(attr.Method)
	}
	return ""
}

// statusCode returns the numeric response code of a response, or 0.
func statusCode(msg Message) int {
	if msg.IsRequest() {
		return 0
	}
	f := strings.Fields(msg.Attr(attr.Method))
	if len(f) == 0 {
		return 0
	}
	n, _ := strconv.Atoi(f[0])
	return n
}

func filterRequest(args []sexp) (Filter, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("request takes no args, got %v: %w", args, ErrWrongArgCount)
	}
	return func(msg Message) bool {
		return msg.IsRequest()
	}, nil
}

func filterResponse(args []sexp) (Filter, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("response takes no args, got %v: %w", args, ErrWrongArgCount)
	}
	return func(msg Message) bool {
		return !msg.IsRequest()
	}, nil
}

// true if the CSeq method of the message is one of the arguments, so a
// response matches the method of its request.
func filterMethods(args []sexp) (Filter, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("methods needs 1 or more args: %w", ErrWrongArgCount)
	}
	methods := make([]string, len(args))
	for i, a := range args {
		s := ""
		switch v := a.i.(type) {
		case qString:
			s = string(v)
		case string:
			s = v
		default:
			return nil, fmt.Errorf("arg type %v: %w", i, ErrMethodsType)
		}
		m, err := layers.GetSIPMethod(strings.ToUpper(s))
		if err != nil {
			return nil, fmt.Errorf("bad argument (#%v), %v %w: %v", i, s, ErrMethodsType, err)
		}
		methods[i] = m.String()
	}

	return func(msg Message) bool {
		got := cseqMethod(msg)
		for _, m := range methods {
			if strings.EqualFold(got, m) {
				return true
			}
		}
		return false
	}, nil
}

// true if the message is a response with one of the status codes given.
func filterStatus(args []sexp) (Filter, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("status needs 1 or more args: %w", ErrWrongArgCount)
	}
	codes := make([]int, len(args))
	for i, a := range args {
		n, ok := a.i.(int)
		if !ok {
			return nil, fmt.Errorf("%v: %w", a, ErrNeedInt)
		}
		codes[i] = n
	}

	return func(msg Message) bool {
		code := statusCode(msg)
		if code == 0 {
			return false
		}
		for _, c := range codes {
			if code == c {
				return true
			}
		}
		return false
	}, nil
}

func filterHasHeader(args []sexp) (Filter, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("hasheader got [%v]: %w", args, ErrWrongArgCount)
	}
	h, ok := args[0].i.(qString)
	if !ok {
		return nil, fmt.Errorf("hasheader: %w", ErrNeedString)
	}
	field := string(h)
	return func(msg Message) bool {
		return len(headers.Values(msg.Payload(), field)) > 0
	}, nil
}

// true if any instance of the named header matches the regexp.
func filterHeader(args []sexp) (Filter, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("header got [%v]: %w", args, ErrWrongArgCount)
	}
	h, ok := args[0].i.(qString)
	if !ok {
		return nil, fmt.Errorf("header first argument must be a quoted string: %w", ErrNeedString)
	}
	re, err := regexpString(args[1])
	if err != nil {
		return nil, fmt.Errorf("compiling header regexp: %w", err)
	}
	field := string(h)
	return func(msg Message) bool {
		for _, v := range headers.Values(msg.Payload(), field) {
			if re.MatchString(v) {
				return true
			}
		}
		return false
	}, nil
}

func headerShorthand(name, field string, args []sexp) (Filter, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s: %w", name, ErrWrongArgCount)
	}
	re, err := regexpString(args[0])
	if err != nil {
		return nil, fmt.Errorf("compiling %s regexp: %w", name, err)
	}
	return func(msg Message) bool {
		for _, v := range headers.Values(msg.Payload(), field) {
			if re.MatchString(v) {
				return true
			}
		}
		return false
	}, nil
}

func filterTo(args []sexp) (Filter, error)   { return headerShorthand("to", "To", args) }
func filterFrom(args []sexp) (Filter, error) { return headerShorthand("from", "From", args) }

// true if the dialog identity of the message (Call-ID up to @) matches.
func filterCallID(args []sexp) (Filter, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("callid: %w", ErrWrongArgCount)
	}
	re, err := regexpString(args[0])
	if err != nil {
		return nil, fmt.Errorf("compiling callid regexp: %w", err)
	}
	return func(msg Message) bool {
		return re.MatchString(headers.CallID(msg.Payload()))
	}, nil
}

func filterMessage(args []sexp) (Filter, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("message %v: %w", args, ErrWrongArgCount)
	}
	re, err := regexpString(args[0])
	if err != nil {
		return nil, fmt.Errorf("compiling regexp %v in message: %w", args[0].i, err)
	}
	return func(msg Message) bool {
		return re.MatchString(msg.Payload())
	}, nil
}

func filterBody(args []sexp) (Filter, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("body [%v]: %w", args, ErrWrongArgCount)
	}
	re, err := regexpString(args[0])
	if err != nil {
		return nil, fmt.Errorf("compiling regexp %v in body: %w", args[0].i, err)
	}
	return func(msg Message) bool {
		return re.MatchString(headers.Body(msg.Payload()))
	}, nil
}

func filterNot(args []sexp) (Filter, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("not [%v]: %w", args, ErrWrongArgCount)
	}
	f, err := compileSexp(args[0])
	if err != nil {
		return nil, fmt.Errorf("compiling not filter: %w", err)
	}
	return func(msg Message) bool {
		return !f(msg)
	}, nil
}

// any and all share their argument checking.
func compileArgs(name string, args []sexp) ([]Filter, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("%v got [%v]: %w", name, args, ErrWrongArgCount)
	}
	filters := make([]Filter, 0, len(args))
	for i, a := range args {
		f, err := compileSexp(a)
		if err != nil {
			return nil, fmt.Errorf("compiling %v filter, arg %d [%v]: %w", name, i+1, a, err)
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func filterAny(args []sexp) (Filter, error) {
	filters, err := compileArgs("any", args)
	if err != nil {
		return nil, err
	}
	return func(msg Message) bool {
		for _, f := range filters {
			if f(msg) {
				return true
			}
		}
		return false
	}, nil
}

func filterAll(args []sexp) (Filter, error) {
	filters, err := compileArgs("all", args)
	if err != nil {
		return nil, err
	}
	return func(msg Message) bool {
		for _, f := range filters {
			if !f(msg) {
				return false
			}
		}
		return true
	}, nil
}
