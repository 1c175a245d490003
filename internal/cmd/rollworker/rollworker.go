// Package rollworker runs one isolated evaluation over stdin and stdout.
package rollworker

import (
	"io"

	"github.com/louisbranch/rollcall/internal/services/roll/dice"
	"github.com/louisbranch/rollcall/internal/services/roll/gate"
)

// Run reads one evaluation request from r and writes the response to w.
func Run(r io.Reader, w io.Writer) error {
	return gate.Serve(r, w, dice.Evaluate)
}
