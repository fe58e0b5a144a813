package core

// State is the single observable session state of a meeting attempt.
// Rejected, Full and Error are terminal: recovery requires a fresh attempt.
type State int

const (
	StateUnknown State = iota
	StateReady
	StateJoining
	StateJoined
	StateRejected
	StateFull
	StateError
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateRejected:
		return "rejected"
	case StateFull:
		return "full"
	case StateError:
		return "error"
	default:
		return "undefined"
	}
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateFull || s == StateError
}
