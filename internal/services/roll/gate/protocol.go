package gate

import (
	"errors"

	"github.com/louisbranch/rollcall/internal/services/roll/dice"
)

// Request is what the gate writes to a worker's stdin.
type Request struct {
	Text string `json:"text"`
}

// Response is what a worker writes to stdout.
type Response struct {
	Result *dice.Result `json:"result,omitempty"`
	Error  *WireError   `json:"error,omitempty"`
}

// Error kinds carried across the worker boundary.
const (
	KindMalformed = "malformed"
	KindLiteral   = "literal"
	KindControl   = "control"
	KindInternal  = "internal"
)

// WireError is an evaluator error in transportable form.
type WireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Literal string `json:"literal,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// EncodeError converts an evaluator error into its wire form.
func EncodeError(err error) *WireError {
	if err == nil {
		return nil
	}
	var literal *dice.LiteralError
	if errors.As(err, &literal) {
		return &WireError{Kind: KindLiteral, Message: err.Error(), Literal: literal.Literal, Reason: literal.Reason}
	}
	var signal *dice.ControlSignal
	if errors.As(err, &signal) {
		return &WireError{Kind: KindControl, Message: signal.Message}
	}
	if errors.Is(err, dice.ErrMalformed) {
		return &WireError{Kind: KindMalformed, Message: err.Error()}
	}
	return &WireError{Kind: KindInternal, Message: err.Error()}
}

// Err rebuilds the evaluator error so callers can classify it with
// errors.Is and errors.As as if it had been raised in process.
func (w *WireError) Err() error {
	if w == nil {
		return nil
	}
	switch w.Kind {
	case KindLiteral:
		return &dice.LiteralError{Literal: w.Literal, Reason: w.Reason}
	case KindControl:
		return &dice.ControlSignal{Message: w.Message}
	case KindMalformed:
		return &remoteError{message: w.Message, cause: dice.ErrMalformed}
	default:
		return &remoteError{message: w.Message}
	}
}

type remoteError struct {
	message string
	cause   error
}

func (e *remoteError) Error() string {
	return e.message
}

func (e *remoteError) Unwrap() error {
	return e.cause
}
