/*
Package filters implements a SIP message matching filter s-expression DSL.

Compiled filters are used in two places: as the ignore rule that keeps
unwanted messages from ever starting a dialog, and as the display filter
that hides dialogs none of whose messages match.  A Filter evaluates any
value satisfying Message, which the dialog package's messages do.

The empty string compiles to a Filter that matches every message.

Selection functions:
	request		is a SIP request
	response		is a SIP response
	(status n ...)	is a response with one of the numeric status codes
	(methods s ...)	CSeq method is one of the listed SIP methods
	(hasheader s)	has a header with the given name
	(header s re)	has the given header with a value matching re
	(to re)		the To header matches re
	(from re)		the From header matches re
	(callid re)		the Call-ID, up to the @, matches re
	(body re)		the body matches re
	(message re)	the whole raw message matches re

Logic functions:
	(all f ...)	each given filter is true
	(any f ...)	at least one given filter is true
	(not f)	the given filter's result is negated

Strings and regular expressions are "double quoted" with no escapes; numbers
are bare integers; function and method names are bare words.  Header names
match case-insensitively and across long and compact forms ("Call-ID" and
"i", "From" and "f", ...).  Method names are case-insensitive and must be
methods gopacket knows about.  Compile returns an error if any part of the
expression can't be interpreted or a regular expression fails to compile;
see 'go doc regexp/syntax' for the accepted syntax.

Examples

	(not (methods options register))

Ignore keepalives and registrations, so that only real dialogs are tracked.

	(all response (status 486 603))

A display filter showing only dialogs that got a busy or decline answer.

	(any (to "alice@.*provider.com") (hasheader "x-call-id"))

Dialogs to alice at any provider.com host, or dialogs linked through a B2BUA.
*/
package filters
