package repair

// State is a state of the repair loop's finite-state machine:
//
//	Diagnosing -> Applying -> Validating -> Succeeded
//	     ^            |            |
//	     |            v            v
//	     +--------- Refining <-----+
//	                  |
//	                  v
//	          Exhausted | Cancelled
type State int

const (
	// StateDiagnosing asks the oracle for a patch.
	StateDiagnosing State = iota
	// StateApplying hands the proposed patch to the applier.
	StateApplying
	// StateValidating runs the validator against the patched project.
	StateValidating
	// StateRefining decides whether another iteration may run.
	StateRefining
	// StateSucceeded is terminal: the last attempt passed validation.
	StateSucceeded
	// StateExhausted is terminal: the iteration bound was consumed.
	StateExhausted
	// StateCancelled is terminal: the run context was cancelled.
	StateCancelled
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateDiagnosing:
		return "diagnosing"
	case StateApplying:
		return "applying"
	case StateValidating:
		return "validating"
	case StateRefining:
		return "refining"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the loop stops in this state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateExhausted || s == StateCancelled
}
