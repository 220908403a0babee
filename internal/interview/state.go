package interview

// State is the lifecycle position of one interview session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateCreating      State = "creating"
	StateActive        State = "active"
	StateEnding        State = "ending"
	StateEnded         State = "ended"
	StateFailed        State = "failed"
)

// transitions lists the legal moves out of every state.
var transitions = map[State][]State{
	StateUninitialized: {StateCreating},
	StateCreating:      {StateActive, StateFailed},
	StateActive:        {StateEnding},
	StateEnding:        {StateEnded},
	StateFailed:        {StateCreating},
	StateEnded:         {}, // Terminal state
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// HoldsConversation reports whether a vendor conversation may be live in s.
func (s State) HoldsConversation() bool {
	return s == StateActive || s == StateEnding
}
