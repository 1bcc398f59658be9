package dialog

// discard is the reason Ingest dropped a message.  Every discard matches
// ErrDiscarded with errors.Is.
type discard string

func (d discard) Error() string { return string(d) }

func (d discard) Is(target error) bool { return target == ErrDiscarded }

type constError string

func (e constError) Error() string { return string(e) }

const (
	// ErrDiscarded is matched by every reason Ingest can drop a message for.
	// Discards are final; nothing is retried.
	ErrDiscarded = constError("message discarded")

	// ErrNoCallID indicates the payload had no usable Call-ID header.
	ErrNoCallID = discard("no call-id")
	// ErrParseFailed indicates the payload could not be parsed at all.
	ErrParseFailed = discard("unparsable payload")
	// ErrFilteredOut indicates the first message of a new dialog did not pass
	// the match expression.
	ErrFilteredOut = discard("filtered out by match expression")
	// ErrIncompleteDialog indicates the first message of a new dialog is not
	// one of the requests able to start a dialog.
	ErrIncompleteDialog = discard("incomplete dialog")
	// ErrNotACallStart indicates the first message of a new dialog is not an
	// INVITE while only calls are tracked.
	ErrNotACallStart = discard("not a call start")
	// ErrIgnored indicates the first message of a new dialog matched the
	// configured ignore rule.
	ErrIgnored = discard("ignored by rule")
	// ErrLimitReached indicates the store already holds its configured
	// number of dialogs.
	ErrLimitReached = discard("dialog limit reached")
)

// reasons lists every discard with its metrics label.
var reasons = []struct {
	err   discard
	label string
}{
	{ErrNoCallID, "no_callid"},
	{ErrParseFailed, "parse_failed"},
	{ErrFilteredOut, "filtered_out"},
	{ErrIncompleteDialog, "incomplete"},
	{ErrNotACallStart, "not_a_call"},
	{ErrIgnored, "ignored"},
	{ErrLimitReached, "limit"},
}
