// Package match implements the match expression that decides whether a new
// dialog is worth tracking: a regular expression run against the raw payload
// of the dialog's first message.
package match

import (
	"fmt"
	"regexp"
)

type constError string

func (e constError) Error() string { return string(e) }

const (
	// ErrInvalidExpression indicates the expression failed to compile.
	ErrInvalidExpression = constError("invalid match expression")
)

// Expression is a compiled match expression.  A nil *Expression matches
// every payload.  It's immutable once compiled and safe for concurrent use.
type Expression struct {
	source string
	re     *regexp.Regexp
	icase  bool
	invert bool
}

// Compile builds an Expression from source.  An empty source compiles to
// nil, which matches everything.  With icase set the expression ignores
// case; with invert set Match reports the opposite of the raw result.
func Compile(source string, icase, invert bool) (*Expression, error) {
	if source == "" {
		return nil, nil
	}
	src := source
	if icase {
		src = "(?i)" + src
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidExpression, source, err)
	}
	return &Expression{source: source, re: re, icase: icase, invert: invert}, nil
}

// MustCompile is like Compile but panics if the expression is invalid.
func MustCompile(source string, icase, invert bool) *Expression {
	e, err := Compile(source, icase, invert)
	if err != nil {
		panic(err)
	}
	return e
}

// Match reports whether payload passes the expression.
func (e *Expression) Match(payload string) bool {
	if e == nil {
		return true
	}
	return e.re.MatchString(payload) != e.invert
}

// String returns the expression source as given to Compile.
func (e *Expression) String() string {
	if e == nil {
		return ""
	}
	return e.source
}

// Inverted reports whether the expression was compiled with invert set.
func (e *Expression) Inverted() bool { return e != nil && e.invert }

// CaseInsensitive reports whether the expression ignores case.
func (e *Expression) CaseInsensitive() bool { return e != nil && e.icase }
