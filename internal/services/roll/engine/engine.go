// Package engine runs a roll request through preparation, resolution,
// evaluation, recording and reply composition, and turns every failure into
// feedback for the author.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	apperrors "github.com/louisbranch/rollcall/internal/platform/errors"
	"github.com/louisbranch/rollcall/internal/platform/timeouts"
	"github.com/louisbranch/rollcall/internal/services/roll/dice"
	"github.com/louisbranch/rollcall/internal/services/roll/gate"
	"github.com/louisbranch/rollcall/internal/services/roll/history"
	"github.com/louisbranch/rollcall/internal/services/roll/reply"
	"github.com/louisbranch/rollcall/internal/services/roll/resolve"
	"github.com/louisbranch/rollcall/internal/services/roll/stats"
	"github.com/louisbranch/rollcall/internal/services/roll/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Reactions the engine answers failures with.
const (
	ReactionMalformed = "🤔"
	ReactionTimeout   = "⏱️"
	ReactionQuote     = "🙃"
	ReactionConfused  = "😕"
	ReactionApology   = "🙇"
)

const debugErrorPrefix = "Error with roll:\n"

var tracer = otel.Tracer("github.com/louisbranch/rollcall/internal/services/roll/engine")

// MessageRef identifies a message on the chat platform.
type MessageRef string

// Sink delivers the engine's output to the chat platform.
type Sink interface {
	// Send posts a public message in the request's channel.
	Send(ctx context.Context, text string) (MessageRef, error)
	// React adds a reaction to a message.
	React(ctx context.Context, ref MessageRef, symbol string) error
	// Whisper sends a private message to author.
	Whisper(ctx context.Context, author, text string) error
}

// Resolver substitutes names in a prepared request.
type Resolver interface {
	ResolveRequest(ctx context.Context, req resolve.Request, author string, state *storage.UserState) (resolve.Resolution, error)
}

// Evaluator evaluates a resolved expression under a time budget.
type Evaluator interface {
	Evaluate(ctx context.Context, text string) (dice.Result, error)
}

// Request is one roll request from a chat message.
type Request struct {
	Raw     string
	Author  string
	Mention string

	// Message is the request's own message, the target of failure reactions.
	Message MessageRef
}

// Result is a completed roll.
type Result struct {
	Text       string
	Resolution resolve.Resolution
	Roll       dice.Result
	Reply      MessageRef
	Reactions  []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithExpectedRange replaces the statistics used for reply annotations.
func WithExpectedRange(fn reply.RangeFunc) Option {
	return func(e *Engine) {
		e.expected = fn
	}
}

// WithObserver registers a callback invoked on every state transition.
func WithObserver(fn func(State)) Option {
	return func(e *Engine) {
		e.observe = fn
	}
}

// Engine orchestrates roll requests.
type Engine struct {
	resolver  Resolver
	evaluator Evaluator
	history   *history.Store
	expected  reply.RangeFunc
	observe   func(State)
}

// New creates an engine.
func New(resolver Resolver, evaluator Evaluator, hist *history.Store, opts ...Option) *Engine {
	if hist == nil {
		hist = history.New(history.DefaultBound)
	}
	e := &Engine{
		resolver:  resolver,
		evaluator: evaluator,
		history:   hist,
		expected:  stats.ExpectedRange,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// History returns the store successful rolls are recorded in.
func (e *Engine) History() *history.Store {
	return e.history
}

// Roll handles one request. state is the author's persisted state; the
// engine may update it in memory and the caller persists it.
//
// A nil result and nil error mean the request was empty. A non-nil error
// means the request failed; the author has already been answered with a
// reaction or a message, and the error's code tells how.
func (e *Engine) Roll(ctx context.Context, req Request, state *storage.UserState, sink Sink) (*Result, error) {
	ctx, span := tracer.Start(ctx, "engine.Roll", trace.WithAttributes(
		attribute.String("author", req.Author),
	))
	defer span.End()

	if req.Mention == "" {
		req.Mention = req.Author
	}
	r := &run{e: e, req: req, sink: sink}
	result, err := r.roll(ctx, state)
	switch {
	case err != nil:
		r.enter(StateErrored)
		code := apperrors.CodeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		rollOutcomes.WithLabelValues(strings.ToLower(string(code))).Inc()
	case result == nil:
		r.enter(StateDone)
		rollOutcomes.WithLabelValues(outcomeNoop).Inc()
	default:
		r.enter(StateDone)
		span.SetAttributes(attribute.Int("total", result.Roll.Total))
	}
	return result, err
}

type run struct {
	e    *Engine
	req  Request
	sink Sink

	debug bool
}

func (r *run) enter(s State) {
	if r.e.observe != nil {
		r.e.observe(s)
	}
}

func (r *run) step(ctx context.Context, s State) (context.Context, trace.Span) {
	r.enter(s)
	return tracer.Start(ctx, "engine."+s.String())
}

func (r *run) roll(ctx context.Context, state *storage.UserState) (*Result, error) {
	prepared, ok := r.prepare(ctx)
	if !ok {
		return nil, nil
	}
	r.debug = prepared.Debug

	resolution, err := r.resolve(ctx, prepared, state)
	if err != nil {
		return nil, err
	}

	rolled, err := r.evaluate(ctx, resolution)
	if err != nil {
		return nil, err
	}

	r.record(ctx, prepared, rolled)
	result := &Result{Text: prepared.Text, Resolution: resolution, Roll: rolled}
	r.compose(ctx, result)
	return result, nil
}

func (r *run) prepare(ctx context.Context) (resolve.Request, bool) {
	_, span := r.step(ctx, StatePreparing)
	defer span.End()

	prepared := resolve.Prepare(r.req.Raw)
	if text, ok := r.e.history.Expand(r.req.Author, prepared.Text); ok {
		span.SetAttributes(attribute.Bool("repeat", true))
		prepared.Text = text
	}
	return prepared, prepared.Text != ""
}

func (r *run) resolve(ctx context.Context, prepared resolve.Request, state *storage.UserState) (resolve.Resolution, error) {
	ctx, span := r.step(ctx, StateResolving)
	defer span.End()

	resolution, err := r.e.resolver.ResolveRequest(ctx, prepared, r.req.Author, state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		var domainErr *apperrors.Error
		if !errors.As(err, &domainErr) {
			domainErr = apperrors.Wrap(apperrors.CodeUnknown, err.Error(), err)
		}
		r.fail(ctx, prepared.Text, domainErr)
		return resolve.Resolution{}, domainErr
	}
	if resolution.Debug && len(resolution.Trace) > 0 {
		for _, chunk := range reply.SplitLines(resolution.Trace) {
			r.whisper(ctx, chunk)
		}
	}
	return resolution, nil
}

func (r *run) evaluate(ctx context.Context, resolution resolve.Resolution) (dice.Result, error) {
	ctx, span := r.step(ctx, StateEvaluating)
	defer span.End()
	span.SetAttributes(attribute.String("expression", resolution.Text))

	rolled, err := r.e.evaluator.Evaluate(ctx, resolution.Text)
	if err != nil {
		domainErr := Classify(err, resolution.Text)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domainErr.Code))
		r.fail(ctx, resolution.Text, domainErr)
		return dice.Result{}, domainErr
	}
	return rolled, nil
}

func (r *run) record(ctx context.Context, prepared resolve.Request, rolled dice.Result) {
	_, span := r.step(ctx, StateRecording)
	defer span.End()

	r.e.history.Append(r.req.Author, history.Entry{
		Text:    prepared.Text,
		Comment: prepared.Comment,
		Result:  rolled,
	})
}

func (r *run) compose(ctx context.Context, result *Result) {
	ctx, span := r.step(ctx, StateComposing)
	defer span.End()

	text, err := composeReply(r.req.Mention, result.Resolution.Comment, result.Resolution.Text, result.Roll)
	if err == nil {
		result.Reply, err = r.sink.Send(ctx, text)
	}
	if err != nil {
		log.Printf("roll: compose reply failed author=%q text=%q: %v", r.req.Author, result.Resolution.Text, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "compose failed")
		rollOutcomes.WithLabelValues(outcomeComposeFail).Inc()
		r.react(ctx, r.req.Message, ReactionApology)
		return
	}
	rollOutcomes.WithLabelValues(outcomeRolled).Inc()

	result.Reactions = annotate(ctx, result.Roll, r.e.expected)
	for _, symbol := range result.Reactions {
		r.react(ctx, result.Reply, symbol)
	}
}

// fail answers the author according to the error's code.
func (r *run) fail(ctx context.Context, text string, err *apperrors.Error) {
	switch err.Code {
	case apperrors.CodeRollTimeout:
		r.react(ctx, r.req.Message, ReactionTimeout)
	case apperrors.CodeRollMalformedExpression:
		if r.debug {
			r.whisperChunks(ctx, debugErrorPrefix, err.Message)
			return
		}
		r.react(ctx, r.req.Message, ReactionMalformed)
	case apperrors.CodeRollQuoteMistake:
		r.react(ctx, r.req.Message, ReactionQuote)
	case apperrors.CodeRollControlSignal:
		if _, sendErr := r.sink.Send(ctx, r.req.Mention+" "+err.Message); sendErr != nil {
			log.Printf("roll: send control message failed author=%q: %v", r.req.Author, sendErr)
			r.react(ctx, r.req.Message, ReactionApology)
		}
	case apperrors.CodeRollIdentityUnresolved:
		r.whisper(ctx, reply.Clamp(err.Message))
	default:
		log.Printf("roll: %s author=%q text=%q: %v", err.Code, r.req.Author, text, err)
		if r.debug && err.Code == apperrors.CodeUnknown {
			r.whisperChunks(ctx, debugErrorPrefix, err.Message)
			return
		}
		r.react(ctx, r.req.Message, ReactionConfused)
	}
}

func (r *run) react(ctx context.Context, ref MessageRef, symbol string) {
	if err := r.sink.React(ctx, ref, symbol); err != nil {
		log.Printf("roll: react %s failed author=%q: %v", symbol, r.req.Author, err)
	}
}

func (r *run) whisper(ctx context.Context, text string) {
	if err := r.sink.Whisper(ctx, r.req.Author, text); err != nil {
		log.Printf("roll: whisper failed author=%q: %v", r.req.Author, err)
	}
}

// whisperChunks sends body in full, fenced and split across as many
// whispers as it needs.
func (r *run) whisperChunks(ctx context.Context, prefix, body string) {
	for _, chunk := range reply.Chunk(prefix, body) {
		r.whisper(ctx, chunk)
	}
}

// Classify maps an evaluation error to the roll error taxonomy. text is the
// expression that was evaluated; a literal error is only the author's
// mistake when the expression contains quotes.
func Classify(err error, text string) *apperrors.Error {
	var (
		literal *dice.LiteralError
		control *dice.ControlSignal
	)
	switch {
	case errors.Is(err, gate.ErrTimeout):
		return apperrors.Wrap(apperrors.CodeRollTimeout, "evaluation timed out", err)
	case errors.As(err, &control):
		return apperrors.Wrap(apperrors.CodeRollControlSignal, control.Message, err)
	case errors.As(err, &literal):
		if strings.ContainsAny(text, `"'`) {
			return apperrors.Wrap(apperrors.CodeRollQuoteMistake, err.Error(), err)
		}
		return apperrors.Wrap(apperrors.CodeRollAmbiguousQuoting, err.Error(), err)
	case errors.Is(err, dice.ErrMalformed):
		return apperrors.Wrap(apperrors.CodeRollMalformedExpression, err.Error(), err)
	default:
		return apperrors.Wrap(apperrors.CodeUnknown, err.Error(), err)
	}
}

func composeReply(mention, comment, text string, rolled dice.Result) (msg string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = apperrors.New(apperrors.CodeRollCompositionFailed, fmt.Sprintf("compose panicked: %v", p))
		}
	}()
	return reply.Compose(mention, comment, text, rolled), nil
}

// annotate never holds the reply back longer than timeouts.Annotation.
func annotate(ctx context.Context, rolled dice.Result, expected reply.RangeFunc) (reactions []string) {
	ctx, cancel := context.WithTimeout(ctx, timeouts.Annotation)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			log.Printf("roll: annotate panicked: %v", p)
			reactions = nil
		}
	}()
	return reply.Annotate(ctx, rolled, expected)
}
