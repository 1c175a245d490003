package dice

import (
	"errors"
	"fmt"
)

// ErrMalformed indicates the expression could not be parsed or evaluated.
var ErrMalformed = errors.New("malformed expression")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// LiteralError reports a literal that failed to parse: an unterminated
// label quote or an integer outside the representable range.
type LiteralError struct {
	Literal string
	Reason  string
}

func (e *LiteralError) Error() string {
	return fmt.Sprintf("invalid literal %q: %s", e.Literal, e.Reason)
}

// ControlSignal is raised when a macro asks for a custom message instead of
// a numeric result.
type ControlSignal struct {
	Message string
}

func (e *ControlSignal) Error() string {
	return e.Message
}
