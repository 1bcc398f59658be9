package filters

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// sexp holds one parsed s-expression node. The dynamic type of i is string
// (a bare word), qString, int, or list.
type sexp struct {
	i interface{}
}
type qString string
type list []sexp

func (s sexp) String() string {
	return fmt.Sprintf("%v", s.i)
}

func (q qString) String() string {
	return strconv.Quote(string(q))
}

func (l list) String() string {
	parts := make([]string, len(l))
	for i, s := range l {
		parts[i] = s.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// token kinds produced by the lexer.
type tokKind int

const (
	tokEOF tokKind = iota
	tokOpen
	tokClose
	tokAtom
)

type token struct {
	kind tokKind
	val  interface{}
}

type lexer struct {
	src string
	pos int
}

// next returns the following token.  Quoted strings run from one " to the
// next, with no escape character.  Other atoms end at a paren, a quote or
// white space; an atom that parses with strconv.Atoi is an int.
func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF}, nil
	}
	switch c := l.src[l.pos]; c {
	case '(':
		l.pos++
		return token{kind: tokOpen}, nil
	case ')':
		l.pos++
		return token{kind: tokClose}, nil
	case '"':
		end := strings.IndexByte(l.src[l.pos+1:], '"')
		if end < 0 {
			return token{}, ErrMismatchedQuote
		}
		q := qString(l.src[l.pos+1 : l.pos+1+end])
		l.pos += end + 2
		return token{kind: tokAtom, val: q}, nil
	}
	start := l.pos
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '(' || c == ')' || c == '"' || unicode.IsSpace(rune(c)) {
			break
		}
		l.pos++
	}
	word := l.src[start:l.pos]
	if n, err := strconv.Atoi(word); err == nil {
		return token{kind: tokAtom, val: n}, nil
	}
	return token{kind: tokAtom, val: word}, nil
}

// parseSexp parses exactly one s-expression from s.  Unmatched parens or
// quotes are errors, as is any text left over after the expression.  An
// empty list is a valid s-expression.
func parseSexp(s string) (sexp, error) {
	l := &lexer{src: s}
	x, err := parseNode(l)
	if err != nil {
		return sexp{}, err
	}
	save := l.pos
	rest, err := l.next()
	if err != nil {
		return sexp{}, err
	}
	if rest.kind != tokEOF {
		return x, fmt.Errorf("left over text [%v]: %w", strings.TrimSpace(l.src[save:]), ErrExtraTokens)
	}
	return x, nil
}

func parseNode(l *lexer) (sexp, error) {
	tok, err := l.next()
	if err != nil {
		return sexp{}, err
	}
	switch tok.kind {
	case tokEOF:
		return sexp{}, ErrEmptyExpression
	case tokClose:
		return sexp{}, fmt.Errorf("unmatched ): %w", ErrMismatchedParen)
	case tokAtom:
		return sexp{tok.val}, nil
	}

	// tokOpen: collect elements until the matching close.
	items := list{}
	for {
		save := l.pos
		tok, err := l.next()
		if err != nil {
			return sexp{}, err
		}
		switch tok.kind {
		case tokEOF:
			return sexp{}, fmt.Errorf("unmatched (: %w", ErrMismatchedParen)
		case tokClose:
			return sexp{items}, nil
		}
		l.pos = save
		item, err := parseNode(l)
		if err != nil {
			return sexp{}, err
		}
		items = append(items, item)
	}
}
