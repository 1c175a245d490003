package dice

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/louisbranch/rollcall/internal/random"
)

// MaxRepeat bounds the count of an "N x expr" repetition.
const MaxRepeat = 100

// MaxDicePerEvaluation bounds the dice rolled by one evaluation, counting
// every repetition and every roll made from a macro.
const MaxDicePerEvaluation = 1000000

// Evaluate parses and rolls text with a fresh random seed. It stops with
// the context's error once ctx is done.
func Evaluate(ctx context.Context, text string) (Result, error) {
	seed, err := random.NewSeed()
	if err != nil {
		return Result{}, err
	}
	return EvaluateSeeded(ctx, text, seed)
}

// EvaluateSeeded parses and rolls text. The same seed and text always
// produce the same result.
func EvaluateSeeded(ctx context.Context, text string, seed int64) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, malformed("empty expression")
	}
	tokens, err := lex(text)
	if err != nil {
		return Result{}, err
	}
	program, err := parseProgram(text, tokens)
	if err != nil {
		return Result{}, err
	}

	ev := &evaluation{ctx: ctx, rng: rand.New(rand.NewSource(seed))}
	var last Result
	for _, stmt := range program {
		res, err := ev.statement(stmt)
		if err != nil {
			return Result{}, err
		}
		last = res
	}
	last.Log = ev.log
	return last, nil
}

type evaluation struct {
	ctx context.Context
	rng *rand.Rand
	log []Result

	// rolled counts the dice rolled so far.
	rolled int

	// label names the log entries of the statement being evaluated.
	label string

	// single holds the last dice term rolled, for single-term statements.
	single *DieRoll
	terms  int
}

func (ev *evaluation) statement(stmt statement) (Result, error) {
	ev.label = stmt.label
	ev.single = nil
	ev.terms = 0

	name := stmt.label
	if name == "" {
		name = strings.TrimSpace(stmt.source)
	}
	res := Result{Name: name}

	if stmt.repeat > 0 {
		totals := make([]string, 0, stmt.repeat)
		for i := 0; i < stmt.repeat; i++ {
			if err := ev.ctx.Err(); err != nil {
				return Result{}, err
			}
			total, _, err := ev.body(stmt)
			if err != nil {
				return Result{}, err
			}
			res.Total += total
			totals = append(totals, strconv.Itoa(total))
		}
		res.Verbose = strings.Join(totals, ", ") + " = " + strconv.Itoa(res.Total)
		return res, nil
	}

	total, rendered, err := ev.body(stmt)
	if err != nil {
		return Result{}, err
	}
	res.Total = total
	res.Verbose = rendered
	if value := strconv.Itoa(total); rendered != value {
		res.Verbose = rendered + " = " + value
	}

	if _, isTerm := stmt.expr.(diceTerm); isTerm && ev.terms == 1 && ev.single != nil {
		res.Faces = ev.single.Spec.Sides
		res.Count = ev.single.Spec.Count
		res.Selectors = ev.single.Spec.Selectors
		res.Reroll = ev.single.Spec.Reroll
		res.Rolls = ev.single.Results
	}
	return res, nil
}

func (ev *evaluation) body(stmt statement) (int, string, error) {
	if stmt.macro != "" {
		total, err := ev.runMacro(stmt.macro)
		if err != nil {
			return 0, "", err
		}
		return total, strconv.Itoa(total), nil
	}
	return stmt.expr.eval(ev)
}

// nested evaluates a bare expression on behalf of a macro, sharing the
// generator and log of the enclosing evaluation.
func (ev *evaluation) nested(text string) (int, error) {
	tokens, err := lex(text)
	if err != nil {
		return 0, err
	}
	for _, tok := range tokens {
		if tok.kind == tokMacro {
			return 0, malformed("macros cannot nest")
		}
	}
	expr, err := parseExpression(text, tokens)
	if err != nil {
		return 0, err
	}
	total, _, err := expr.eval(ev)
	return total, err
}

func (n number) eval(*evaluation) (int, string, error) {
	return n.value, strconv.Itoa(n.value), nil
}

func (n negate) eval(ev *evaluation) (int, string, error) {
	v, s, err := n.x.eval(ev)
	if err != nil {
		return 0, "", err
	}
	return -v, "-" + s, nil
}

func (g group) eval(ev *evaluation) (int, string, error) {
	v, s, err := g.x.eval(ev)
	if err != nil {
		return 0, "", err
	}
	return v, "(" + s + ")", nil
}

func (b binary) eval(ev *evaluation) (int, string, error) {
	l, ls, err := b.left.eval(ev)
	if err != nil {
		return 0, "", err
	}
	r, rs, err := b.right.eval(ev)
	if err != nil {
		return 0, "", err
	}
	var v int
	switch b.op {
	case '+':
		v = l + r
	case '-':
		v = l - r
	case '*':
		v = l * r
	case '/':
		if r == 0 {
			return 0, "", malformed("division by zero")
		}
		v = l / r
	default:
		return 0, "", fmt.Errorf("unknown operator %q", b.op)
	}
	return v, ls + string(b.op) + rs, nil
}

func (d diceTerm) eval(ev *evaluation) (int, string, error) {
	if err := ev.ctx.Err(); err != nil {
		return 0, "", err
	}
	if d.spec.Count > 0 {
		ev.rolled += d.spec.Count
	}
	if ev.rolled > MaxDicePerEvaluation {
		return 0, "", malformed("%s: %v", d.source, ErrTooManyDice)
	}
	roll, err := RollDice(ev.rng, d.spec)
	if err != nil {
		if errors.Is(err, ErrInvalidDiceSpec) || errors.Is(err, ErrTooManyDice) || errors.Is(err, ErrInvalidSelector) {
			return 0, "", malformed("%s: %v", d.source, err)
		}
		return 0, "", err
	}
	ev.terms++
	ev.single = &roll

	name := ev.label
	if name == "" {
		name = d.source
	}
	faces := formatFaces(roll.Results)
	ev.log = append(ev.log, Result{
		Name:    name,
		Verbose: faces + " = " + strconv.Itoa(roll.Total),
		Total:   roll.Total,
	})
	return roll.Total, "[" + faces + "]", nil
}
