package filters

type constError string

func (e constError) Error() string { return string(e) }

// Compile errors.  Each error returned by Compile wraps exactly one of these.
const (
	ErrMismatchedParen = constError("unmatched parens")
	ErrMismatchedQuote = constError("unmatched quote")
	// ErrNeedInt indicates status got a non-integer argument.
	ErrNeedInt = constError("not an integer")
	// ErrNeedString indicates a function wanted a quoted string argument.
	ErrNeedString = constError("not a string")
	// ErrMethodsType indicates methods received something that isn't a SIP
	// method name.
	ErrMethodsType = constError("methods takes a list of sip method names")
	// ErrWrongArgCount indicates a function received too few or too many
	// args.
	ErrWrongArgCount = constError("wrong number of args")
	// ErrExtraTokens indicates extra text after a function; use any/all to
	// chain several.
	ErrExtraTokens = constError("unexpected token")
	ErrUnknownFunc = constError("unknown filter function")
	// ErrEmptyExpression indicates an empty (sub-)expression.
	ErrEmptyExpression = constError("empty expression")
	// ErrExpressionType indicates an expression started with an int, quoted
	// string, or anything other than a function name.
	ErrExpressionType = constError("invalid expression initial type")
	// ErrBadRegexp indicates a regexp argument failed regexp.Compile.
	ErrBadRegexp = constError("unable to compile regexp")
)
