package pipeline

import "fmt"

// State of the bundle lifecycle
type State int

const (
	StateNoArtifact State = iota
	StateGenerating
	StateReady
	StateRefining
)

func (s State) String() string {
	switch s {
	case StateNoArtifact:
		return "no_artifact"
	case StateGenerating:
		return "generating"
	case StateReady:
		return "ready"
	case StateRefining:
		return "refining"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists every allowed move. Ready -> Generating regenerates from the conversation.
var transitions = map[State][]State{
	StateNoArtifact: {StateGenerating},
	StateGenerating: {StateReady, StateNoArtifact},
	StateReady:      {StateRefining, StateGenerating},
	StateRefining:   {StateReady},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
