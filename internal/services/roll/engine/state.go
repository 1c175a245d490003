package engine

// State is a step of the roll pipeline.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateResolving
	StateEvaluating
	StateRecording
	StateComposing
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateResolving:
		return "resolving"
	case StateEvaluating:
		return "evaluating"
	case StateRecording:
		return "recording"
	case StateComposing:
		return "composing"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}
