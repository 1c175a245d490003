// Package gate runs roll evaluations under a hard time budget.
//
// In trusted mode the evaluator runs on a goroutine under the budget's
// context and must return once that context is done. In isolated mode every
// evaluation runs in a separate worker process that is killed when it
// overruns.
package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/louisbranch/rollcall/internal/platform/timeouts"
	"github.com/louisbranch/rollcall/internal/services/roll/dice"
	"golang.org/x/sync/semaphore"
)

// Mode selects how evaluations are executed.
type Mode string

const (
	ModeTrusted  Mode = "trusted"
	ModeIsolated Mode = "isolated"
)

// ErrTimeout indicates the evaluation exceeded its budget.
var ErrTimeout = errors.New("evaluation timed out")

// EvaluateFunc evaluates one resolved expression. It must stop promptly
// once ctx is done.
type EvaluateFunc func(ctx context.Context, text string) (dice.Result, error)

// Config configures a Gate.
type Config struct {
	Mode    Mode
	Timeout time.Duration

	// WorkerPath is the worker binary used in isolated mode, started with
	// WorkerArgs and the current environment plus WorkerEnv.
	WorkerPath string
	WorkerArgs []string
	WorkerEnv  []string
	MaxWorkers int
}

// Gate submits expressions to the evaluator.
type Gate struct {
	cfg      Config
	evaluate EvaluateFunc
	workers  *semaphore.Weighted
}

// ParseMode validates a configured mode name.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeTrusted:
		return ModeTrusted, nil
	case ModeIsolated:
		return ModeIsolated, nil
	default:
		return "", fmt.Errorf("unknown evaluation mode %q", value)
	}
}

// New creates a gate. evaluate is used in trusted mode.
func New(cfg Config, evaluate EvaluateFunc) (*Gate, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeTrusted
	}
	switch cfg.Mode {
	case ModeTrusted:
		if evaluate == nil {
			return nil, errors.New("evaluator is required in trusted mode")
		}
		if cfg.Timeout <= 0 {
			cfg.Timeout = timeouts.TrustedEvaluation
		}
	case ModeIsolated:
		if strings.TrimSpace(cfg.WorkerPath) == "" {
			return nil, errors.New("worker path is required in isolated mode")
		}
		if cfg.Timeout <= 0 {
			cfg.Timeout = timeouts.IsolatedEvaluation
		}
	default:
		return nil, fmt.Errorf("unknown evaluation mode %q", cfg.Mode)
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	return &Gate{
		cfg:      cfg,
		evaluate: evaluate,
		workers:  semaphore.NewWeighted(int64(cfg.MaxWorkers)),
	}, nil
}

// Mode reports the configured mode.
func (g *Gate) Mode() Mode {
	return g.cfg.Mode
}

// Evaluate evaluates text within the configured budget. It returns
// ErrTimeout when the budget is exceeded and evaluator errors unchanged.
func (g *Gate) Evaluate(ctx context.Context, text string) (dice.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	var (
		result dice.Result
		err    error
	)
	if g.cfg.Mode == ModeIsolated {
		result, err = g.isolated(ctx, text)
	} else {
		result, err = g.trusted(ctx, text)
	}
	evaluationSeconds.WithLabelValues(string(g.cfg.Mode), outcomeLabel(err)).Observe(time.Since(start).Seconds())
	return result, err
}

type outcome struct {
	result dice.Result
	err    error
}

func (g *Gate) trusted(ctx context.Context, text string) (dice.Result, error) {
	done := make(chan outcome, 1)
	go func() {
		result, err := safeEvaluate(ctx, g.evaluate, text)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		interrupted.Inc()
		log.Printf("roll: interrupted evaluation text=%q", text)
		return dice.Result{}, budgetError(ctx)
	}
}

func (g *Gate) isolated(ctx context.Context, text string) (dice.Result, error) {
	if err := g.workers.Acquire(ctx, 1); err != nil {
		return dice.Result{}, budgetError(ctx)
	}
	defer g.workers.Release(1)

	payload, err := json.Marshal(Request{Text: text})
	if err != nil {
		return dice.Result{}, fmt.Errorf("encode worker request: %w", err)
	}

	cmd := exec.CommandContext(ctx, g.cfg.WorkerPath, g.cfg.WorkerArgs...)
	cmd.Env = append(os.Environ(), g.cfg.WorkerEnv...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = timeouts.WorkerKillGrace

	runErr := cmd.Run()
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			workerKills.Inc()
			log.Printf("roll: killed evaluation worker text=%q", text)
		}
		return dice.Result{}, budgetError(ctx)
	}
	if runErr != nil {
		return dice.Result{}, fmt.Errorf("evaluation worker failed: %w: %s", runErr, strings.TrimSpace(stderr.String()))
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return dice.Result{}, fmt.Errorf("decode worker response: %w", err)
	}
	if resp.Error != nil {
		return dice.Result{}, resp.Error.Err()
	}
	if resp.Result == nil {
		return dice.Result{}, errors.New("worker returned neither result nor error")
	}
	return *resp.Result, nil
}

// budgetError maps an expired context to ErrTimeout; cancellation by the
// caller is returned as is.
func budgetError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

func safeEvaluate(ctx context.Context, evaluate EvaluateFunc, text string) (result dice.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()
	return evaluate(ctx, text)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
