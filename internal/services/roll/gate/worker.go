package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Serve is the worker side of isolated evaluation: it reads one Request
// from r, evaluates it and writes one Response to w. The parent process
// enforces the budget by killing the worker.
func Serve(r io.Reader, w io.Writer, evaluate EvaluateFunc) error {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	var resp Response
	result, err := safeEvaluate(context.Background(), evaluate, req.Text)
	if err != nil {
		resp.Error = EncodeError(err)
	} else {
		resp.Result = &result
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return nil
}
