package dice

import (
	"errors"

	"github.com/Shopify/go-lua"
)

// runMacro executes a Lua chunk in a state that only carries the base,
// string, table and math libraries plus two helpers:
//
//	roll(expr) rolls a dice expression and returns its total
//	say(text)  stops the evaluation and replies with text instead
//
// The chunk must return a number. It is interrupted once the evaluation
// context is done.
func (ev *evaluation) runMacro(source string) (int, error) {
	state := lua.NewState()
	openSandbox(state)
	lua.SetDebugHook(state, func(state *lua.State, _ lua.Debug) {
		if err := ev.ctx.Err(); err != nil {
			lua.Errorf(state, "macro interrupted: %s", err.Error())
		}
	}, lua.MaskCount, macroHookInstructions)

	var signal *ControlSignal
	var rollErr error
	state.Register("roll", func(state *lua.State) int {
		expr := lua.CheckString(state, 1)
		total, err := ev.nested(expr)
		if err != nil {
			rollErr = err
			lua.Errorf(state, "roll %q failed", expr)
			return 0
		}
		state.PushInteger(total)
		return 1
	})
	state.Register("say", func(state *lua.State) int {
		signal = &ControlSignal{Message: lua.CheckString(state, 1)}
		lua.Errorf(state, "say")
		return 0
	})

	if err := lua.LoadString(state, source); err != nil {
		return 0, malformed("macro: %v", err)
	}
	if err := state.ProtectedCall(0, 1, 0); err != nil {
		switch {
		case ev.ctx.Err() != nil:
			return 0, ev.ctx.Err()
		case signal != nil:
			return 0, signal
		case rollErr != nil:
			var literal *LiteralError
			if errors.As(rollErr, &literal) {
				return 0, rollErr
			}
			return 0, malformed("macro: %v", rollErr)
		default:
			return 0, malformed("macro: %v", err)
		}
	}

	total, ok := state.ToInteger(-1)
	if !ok || state.TypeOf(-1) != lua.TypeNumber {
		state.Pop(1)
		return 0, malformed("macro must return a number")
	}
	state.Pop(1)
	return total, nil
}

// macroHookInstructions is how many Lua instructions run between checks of
// the evaluation context.
const macroHookInstructions = 1000

var sandboxLibraries = []lua.RegistryFunction{
	{Name: "_G", Function: lua.BaseOpen},
	{Name: "string", Function: lua.StringOpen},
	{Name: "table", Function: lua.TableOpen},
	{Name: "math", Function: lua.MathOpen},
}

var sandboxRemoved = []string{"dofile", "loadfile", "load", "require"}

// string.rep allocates its whole result in a single instruction.
var sandboxRemovedString = []string{"rep"}

func openSandbox(state *lua.State) {
	for _, lib := range sandboxLibraries {
		lua.Require(state, lib.Name, lib.Function, true)
		state.Pop(1)
	}
	for _, name := range sandboxRemoved {
		state.PushNil()
		state.SetGlobal(name)
	}
	state.Global("string")
	for _, name := range sandboxRemovedString {
		state.PushNil()
		state.SetField(-2, name)
	}
	state.Pop(1)
}
