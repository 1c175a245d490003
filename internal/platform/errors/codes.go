// Package errors provides structured error handling for rollcall services.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unclassified failure.
	CodeUnknown Code = "UNKNOWN"

	// Roll pipeline errors
	CodeRollMalformedExpression Code = "ROLL_MALFORMED_EXPRESSION"
	CodeRollTimeout             Code = "ROLL_TIMEOUT"
	CodeRollAmbiguousQuoting    Code = "ROLL_AMBIGUOUS_QUOTING"
	CodeRollQuoteMistake        Code = "ROLL_QUOTE_MISTAKE"
	CodeRollControlSignal       Code = "ROLL_CONTROL_SIGNAL"
	CodeRollIdentityUnresolved  Code = "ROLL_IDENTITY_UNRESOLVED"
	CodeRollCompositionFailed   Code = "ROLL_COMPOSITION_FAILED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// Internal reports whether the code denotes a programmer or infrastructure
// condition: it is logged in full and never explained in public channels.
func (c Code) Internal() bool {
	switch c {
	case CodeUnknown, CodeRollAmbiguousQuoting, CodeRollCompositionFailed:
		return true
	default:
		return false
	}
}

// AuthorAttributable reports whether the failure is explained to the author
// in a private message regardless of the debug marker.
func (c Code) AuthorAttributable() bool {
	return c == CodeRollIdentityUnresolved
}
