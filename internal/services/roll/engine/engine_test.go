package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	apperrors "github.com/louisbranch/rollcall/internal/platform/errors"
	"github.com/louisbranch/rollcall/internal/services/roll/dice"
	"github.com/louisbranch/rollcall/internal/services/roll/gate"
	"github.com/louisbranch/rollcall/internal/services/roll/history"
	"github.com/louisbranch/rollcall/internal/services/roll/reply"
	"github.com/louisbranch/rollcall/internal/services/roll/resolve"
	"github.com/louisbranch/rollcall/internal/services/roll/storage"
)

type reaction struct {
	ref    MessageRef
	symbol string
}

type fakeSink struct {
	sent      []string
	reactions []reaction
	whispers  []string
	sendErr   error
}

func (s *fakeSink) Send(_ context.Context, text string) (MessageRef, error) {
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.sent = append(s.sent, text)
	return MessageRef(fmt.Sprintf("reply-%d", len(s.sent))), nil
}

func (s *fakeSink) React(_ context.Context, ref MessageRef, symbol string) error {
	s.reactions = append(s.reactions, reaction{ref: ref, symbol: symbol})
	return nil
}

func (s *fakeSink) Whisper(_ context.Context, _ string, text string) error {
	s.whispers = append(s.whispers, text)
	return nil
}

func (s *fakeSink) reactedWith(ref MessageRef) []string {
	var out []string
	for _, r := range s.reactions {
		if r.ref == ref {
			out = append(out, r.symbol)
		}
	}
	return out
}

type evaluatorFunc func(ctx context.Context, text string) (dice.Result, error)

func (f evaluatorFunc) Evaluate(ctx context.Context, text string) (dice.Result, error) {
	return f(ctx, text)
}

type fakeStats map[string]map[string]string

func (f fakeStats) StatsFor(_ context.Context, handle string) (map[string]string, error) {
	return f[handle], nil
}

func noRange(context.Context, []int, int, int, int) (float64, float64, error) {
	return 0, 0, errors.New("no statistics in tests")
}

func newEngine(t *testing.T, evaluator Evaluator, opts ...Option) *Engine {
	t.Helper()
	hist := history.New(history.DefaultBound)
	resolver := resolve.New(fakeStats{}, hist)
	opts = append([]Option{WithExpectedRange(noRange)}, opts...)
	return New(resolver, evaluator, hist, opts...)
}

func trustedGate(t *testing.T, timeout time.Duration, evaluate gate.EvaluateFunc) *gate.Gate {
	t.Helper()
	g, err := gate.New(gate.Config{Mode: gate.ModeTrusted, Timeout: timeout}, evaluate)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	return g
}

func request(raw string) Request {
	return Request{Raw: raw, Author: "alice", Mention: "@alice", Message: "msg-1"}
}

func TestRollRecordsAndReplies(t *testing.T) {
	e := newEngine(t, trustedGate(t, time.Second, dice.Evaluate))
	sink := &fakeSink{}

	res, err := e.Roll(context.Background(), request("1d20"), storage.NewUserState("alice"), sink)
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if res == nil {
		t.Fatal("expected a result")
	}
	if res.Roll.Total < 1 || res.Roll.Total > 20 {
		t.Fatalf("total = %d, want 1..20", res.Roll.Total)
	}
	entries := e.History().Last("alice")
	if len(entries) != 1 || entries[0].Text != "1d20" {
		t.Fatalf("history = %+v, want one 1d20 entry", entries)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(sink.sent))
	}
	if !strings.HasPrefix(sink.sent[0], "@alice") || !strings.Contains(sink.sent[0], "`1d20`") {
		t.Fatalf("reply = %q, want mention and expression", sink.sent[0])
	}
	if res.Reply != "reply-1" {
		t.Fatalf("reply ref = %q, want %q", res.Reply, "reply-1")
	}
}

func TestRollUsesDefines(t *testing.T) {
	var evaluated string
	e := newEngine(t, evaluatorFunc(func(_ context.Context, text string) (dice.Result, error) {
		evaluated = text
		return dice.Result{Name: text, Verbose: "7", Total: 7}, nil
	}))
	state := storage.NewUserState("alice")
	state.Defines["STR"] = "5"

	res, err := e.Roll(context.Background(), request("STR+2 # strength check"), state, &fakeSink{})
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if evaluated != "5+2" {
		t.Fatalf("evaluated = %q, want %q", evaluated, "5+2")
	}
	if res.Resolution.Comment != "strength check" {
		t.Fatalf("comment = %q, want %q", res.Resolution.Comment, "strength check")
	}
	entries := e.History().Last("alice")
	if entries[0].Text != "STR+2" || entries[0].Comment != "strength check" {
		t.Fatalf("entry = %+v, want unresolved text and separate comment", entries[0])
	}
}

func TestRollRepeatSyntax(t *testing.T) {
	var evaluated []string
	e := newEngine(t, evaluatorFunc(func(_ context.Context, text string) (dice.Result, error) {
		evaluated = append(evaluated, text)
		return dice.Result{Name: text, Verbose: "1", Total: 1}, nil
	}))
	ctx := context.Background()
	for _, raw := range []string{"1d6", "1d8", "++"} {
		if _, err := e.Roll(ctx, request(raw), storage.NewUserState("alice"), &fakeSink{}); err != nil {
			t.Fatalf("roll %q: %v", raw, err)
		}
	}
	if got := evaluated[2]; got != "1d6" {
		t.Fatalf("repeat evaluated %q, want %q", got, "1d6")
	}
}

func TestRollEmptyRequestIsNoop(t *testing.T) {
	e := newEngine(t, evaluatorFunc(func(context.Context, string) (dice.Result, error) {
		t.Fatal("evaluator should not be called")
		return dice.Result{}, nil
	}))
	sink := &fakeSink{}

	for _, raw := range []string{"", "  ", "# only a comment", "+"} {
		res, err := e.Roll(context.Background(), request(raw), storage.NewUserState("alice"), sink)
		if res != nil || err != nil {
			t.Fatalf("Roll(%q) = %v, %v, want nil, nil", raw, res, err)
		}
	}
	if len(sink.sent)+len(sink.reactions)+len(sink.whispers) != 0 {
		t.Fatal("expected no output for empty requests")
	}
}

func TestRollMalformedReactsOnce(t *testing.T) {
	e := newEngine(t, trustedGate(t, time.Second, dice.Evaluate))
	sink := &fakeSink{}

	res, err := e.Roll(context.Background(), request("hello there"), storage.NewUserState("alice"), sink)
	if res != nil {
		t.Fatal("expected no result")
	}
	if apperrors.CodeOf(err) != apperrors.CodeRollMalformedExpression {
		t.Fatalf("code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeRollMalformedExpression)
	}
	if got := sink.reactedWith("msg-1"); len(got) != 1 || got[0] != ReactionMalformed {
		t.Fatalf("reactions = %v, want [%s]", got, ReactionMalformed)
	}
	if len(sink.sent) != 0 || len(sink.whispers) != 0 {
		t.Fatal("expected no text output")
	}
	if len(e.History().Last("alice")) != 0 {
		t.Fatal("failed roll was recorded")
	}
}

func TestRollMalformedDebugWhispers(t *testing.T) {
	e := newEngine(t, trustedGate(t, time.Second, dice.Evaluate))
	sink := &fakeSink{}

	_, err := e.Roll(context.Background(), request("?hello"), storage.NewUserState("alice"), sink)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(sink.reactions) != 0 {
		t.Fatalf("reactions = %v, want none", sink.reactions)
	}
	last := sink.whispers[len(sink.whispers)-1]
	if !strings.HasPrefix(last, debugErrorPrefix) || !strings.Contains(last, "hello") {
		t.Fatalf("whisper = %q, want evaluator message", last)
	}
	if len(sink.whispers) < 2 {
		t.Fatal("expected the resolution trace before the error")
	}
}

func TestRollDebugErrorIsWhisperedInFull(t *testing.T) {
	detail := strings.Repeat("x", 3*reply.Ceiling)
	e := newEngine(t, evaluatorFunc(func(context.Context, string) (dice.Result, error) {
		return dice.Result{}, errors.New(detail)
	}))
	sink := &fakeSink{}

	if _, err := e.Roll(context.Background(), request("?1d6"), storage.NewUserState("alice"), sink); err == nil {
		t.Fatal("expected error")
	}
	var chunks []string
	for _, w := range sink.whispers {
		if len(chunks) > 0 || strings.HasPrefix(w, debugErrorPrefix) {
			chunks = append(chunks, w)
		}
	}
	if len(chunks) < 2 {
		t.Fatalf("error chunks = %d, want several", len(chunks))
	}
	var got int
	for _, chunk := range chunks {
		if n := len([]rune(chunk)); n > reply.Ceiling {
			t.Fatalf("chunk length = %d, want at most %d", n, reply.Ceiling)
		}
		got += strings.Count(chunk, "x")
	}
	if got != len(detail) {
		t.Fatalf("error characters whispered = %d, want %d", got, len(detail))
	}
	if len(sink.reactions) != 0 {
		t.Fatalf("reactions = %v, want none", sink.reactions)
	}
}

func TestRollTimeoutReacts(t *testing.T) {
	slow := func(ctx context.Context, text string) (dice.Result, error) {
		<-ctx.Done()
		return dice.Result{}, ctx.Err()
	}
	e := newEngine(t, trustedGate(t, 20*time.Millisecond, slow))
	sink := &fakeSink{}

	_, err := e.Roll(context.Background(), request("1d6"), storage.NewUserState("alice"), sink)
	if !errors.Is(err, apperrors.New(apperrors.CodeRollTimeout, "")) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if got := sink.reactedWith("msg-1"); len(got) != 1 || got[0] != ReactionTimeout {
		t.Fatalf("reactions = %v, want [%s]", got, ReactionTimeout)
	}
	if len(sink.sent) != 0 {
		t.Fatal("timeout must not send text")
	}
	if len(e.History().Last("alice")) != 0 {
		t.Fatal("timed out roll was recorded")
	}
}

func TestRollUnresolvedForeignReferenceIsMalformed(t *testing.T) {
	e := newEngine(t, trustedGate(t, time.Second, dice.Evaluate))
	sink := &fakeSink{}

	_, err := e.Roll(context.Background(), request("<@bob>.str + 1"), storage.NewUserState("alice"), sink)
	if apperrors.CodeOf(err) != apperrors.CodeRollMalformedExpression {
		t.Fatalf("code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeRollMalformedExpression)
	}
	if got := sink.reactedWith("msg-1"); len(got) != 1 || got[0] != ReactionMalformed {
		t.Fatalf("reactions = %v, want [%s]", got, ReactionMalformed)
	}
}

func TestRollControlSignalIsSentWithMention(t *testing.T) {
	e := newEngine(t, trustedGate(t, time.Second, dice.Evaluate))
	sink := &fakeSink{}

	_, err := e.Roll(context.Background(), request(`{ say("no luck today") }`), storage.NewUserState("alice"), sink)
	if apperrors.CodeOf(err) != apperrors.CodeRollControlSignal {
		t.Fatalf("code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeRollControlSignal)
	}
	if len(sink.sent) != 1 || sink.sent[0] != "@alice no luck today" {
		t.Fatalf("sent = %q, want control message", sink.sent)
	}
}

func TestRollLiteralErrors(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		code     apperrors.Code
		reaction string
	}{
		{name: "quote mistake", raw: `"attack 1d20`, code: apperrors.CodeRollQuoteMistake, reaction: ReactionQuote},
		{name: "no quotes", raw: "99999999999999999999999d6", code: apperrors.CodeRollAmbiguousQuoting, reaction: ReactionConfused},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(t, trustedGate(t, time.Second, dice.Evaluate))
			sink := &fakeSink{}
			_, err := e.Roll(context.Background(), request(tc.raw), storage.NewUserState("alice"), sink)
			if apperrors.CodeOf(err) != tc.code {
				t.Fatalf("code = %s, want %s", apperrors.CodeOf(err), tc.code)
			}
			if got := sink.reactedWith("msg-1"); len(got) != 1 || got[0] != tc.reaction {
				t.Fatalf("reactions = %v, want [%s]", got, tc.reaction)
			}
		})
	}
}

func TestRollUnclassifiedFailure(t *testing.T) {
	failing := evaluatorFunc(func(context.Context, string) (dice.Result, error) {
		return dice.Result{}, errors.New("worker crashed")
	})

	t.Run("public", func(t *testing.T) {
		sink := &fakeSink{}
		_, err := newEngine(t, failing).Roll(context.Background(), request("1d6"), storage.NewUserState("alice"), sink)
		if apperrors.CodeOf(err) != apperrors.CodeUnknown {
			t.Fatalf("code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeUnknown)
		}
		if got := sink.reactedWith("msg-1"); len(got) != 1 || got[0] != ReactionConfused {
			t.Fatalf("reactions = %v, want [%s]", got, ReactionConfused)
		}
		if len(sink.whispers) != 0 {
			t.Fatal("expected no private message without debug")
		}
	})

	t.Run("debug", func(t *testing.T) {
		sink := &fakeSink{}
		_, _ = newEngine(t, failing).Roll(context.Background(), request("?1d6"), storage.NewUserState("alice"), sink)
		if len(sink.reactions) != 0 {
			t.Fatalf("reactions = %v, want none", sink.reactions)
		}
		last := sink.whispers[len(sink.whispers)-1]
		if !strings.Contains(last, "worker crashed") {
			t.Fatalf("whisper = %q, want failure message", last)
		}
	})
}

type failingResolver struct {
	err error
}

func (f failingResolver) ResolveRequest(context.Context, resolve.Request, string, *storage.UserState) (resolve.Resolution, error) {
	return resolve.Resolution{}, f.err
}

func TestRollIdentityFailureIsPrivate(t *testing.T) {
	identity := apperrors.New(apperrors.CodeRollIdentityUnresolved, "Your linked character is not confirmed.")
	e := New(failingResolver{err: identity}, evaluatorFunc(func(context.Context, string) (dice.Result, error) {
		t.Fatal("evaluator should not be called")
		return dice.Result{}, nil
	}), nil)
	sink := &fakeSink{}

	_, err := e.Roll(context.Background(), request("STR"), storage.NewUserState("alice"), sink)
	if apperrors.CodeOf(err) != apperrors.CodeRollIdentityUnresolved {
		t.Fatalf("code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeRollIdentityUnresolved)
	}
	if len(sink.whispers) != 1 || sink.whispers[0] != identity.Message {
		t.Fatalf("whispers = %q, want identity message", sink.whispers)
	}
	if len(sink.sent) != 0 || len(sink.reactions) != 0 {
		t.Fatal("identity failures must stay private")
	}
}

func TestRollCompositionFailureApologises(t *testing.T) {
	e := newEngine(t, trustedGate(t, time.Second, dice.Evaluate))
	sink := &fakeSink{sendErr: errors.New("channel gone")}

	res, err := e.Roll(context.Background(), request("1d6"), storage.NewUserState("alice"), sink)
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if res == nil {
		t.Fatal("expected the result despite the failed reply")
	}
	if got := sink.reactedWith("msg-1"); len(got) != 1 || got[0] != ReactionApology {
		t.Fatalf("reactions = %v, want [%s]", got, ReactionApology)
	}
	if len(e.History().Last("alice")) != 1 {
		t.Fatal("successful evaluation must be recorded")
	}
}

func TestRollAnnotationIsBounded(t *testing.T) {
	e := newEngine(t, evaluatorFunc(func(context.Context, string) (dice.Result, error) {
		return dice.Result{
			Name: "1@100000d10", Verbose: "10", Total: 10,
			Faces: 10, Count: 100000, Selectors: []int{1}, Rolls: []int{10},
		}, nil
	}), WithExpectedRange(func(ctx context.Context, _ []int, _, _, _ int) (float64, float64, error) {
		<-ctx.Done()
		return 0, 0, ctx.Err()
	}))
	sink := &fakeSink{}

	start := time.Now()
	res, err := e.Roll(context.Background(), request("1@100000d10"), storage.NewUserState("alice"), sink)
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("roll took %s", elapsed)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sink.sent))
	}
	if strings.Join(res.Reactions, " ") != reply.ReactionMaximum {
		t.Fatalf("reactions = %v, want only %s", res.Reactions, reply.ReactionMaximum)
	}
}

func TestRollAnnotatesReply(t *testing.T) {
	e := newEngine(t, evaluatorFunc(func(context.Context, string) (dice.Result, error) {
		return dice.Result{
			Name: "1@d6", Verbose: "6", Total: 6,
			Faces: 6, Count: 1, Selectors: []int{1}, Rolls: []int{6},
		}, nil
	}), WithExpectedRange(func(context.Context, []int, int, int, int) (float64, float64, error) {
		return 3.5, 1.7, nil
	}))
	sink := &fakeSink{}

	res, err := e.Roll(context.Background(), request("1@d6"), storage.NewUserState("alice"), sink)
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	want := []string{"💥", "🤯"}
	if strings.Join(res.Reactions, " ") != strings.Join(want, " ") {
		t.Fatalf("reactions = %v, want %v", res.Reactions, want)
	}
	if got := sink.reactedWith(res.Reply); len(got) != 2 {
		t.Fatalf("reply reactions = %v, want 2", got)
	}
}

func TestRollStateTransitions(t *testing.T) {
	var states []string
	e := newEngine(t, trustedGate(t, time.Second, dice.Evaluate), WithObserver(func(s State) {
		states = append(states, s.String())
	}))

	if _, err := e.Roll(context.Background(), request("1d4"), storage.NewUserState("alice"), &fakeSink{}); err != nil {
		t.Fatalf("roll: %v", err)
	}
	want := "preparing resolving evaluating recording composing done"
	if got := strings.Join(states, " "); got != want {
		t.Fatalf("states = %q, want %q", got, want)
	}

	states = nil
	_, _ = e.Roll(context.Background(), request("nope"), storage.NewUserState("alice"), &fakeSink{})
	want = "preparing resolving evaluating errored"
	if got := strings.Join(states, " "); got != want {
		t.Fatalf("states = %q, want %q", got, want)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		text string
		want apperrors.Code
	}{
		{name: "timeout", err: gate.ErrTimeout, want: apperrors.CodeRollTimeout},
		{name: "malformed", err: fmt.Errorf("%w: bad", dice.ErrMalformed), want: apperrors.CodeRollMalformedExpression},
		{name: "control", err: &dice.ControlSignal{Message: "hi"}, want: apperrors.CodeRollControlSignal},
		{name: "quoted literal", err: &dice.LiteralError{Literal: `"x`}, text: `"x 1d6`, want: apperrors.CodeRollQuoteMistake},
		{name: "bare literal", err: &dice.LiteralError{Literal: "9"}, text: "9", want: apperrors.CodeRollAmbiguousQuoting},
		{name: "other", err: errors.New("boom"), want: apperrors.CodeUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err, tc.text).Code; got != tc.want {
				t.Fatalf("code = %s, want %s", got, tc.want)
			}
		})
	}
}
