package injector

import "fmt"

// State is a step in a target process's injection lifecycle.
type State int

const (
	StateCreated State = iota
	StateSuspended
	StateEntryReached
	StateInjected
	StateResumed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSuspended:
		return "suspended"
	case StateEntryReached:
		return "entry-reached"
	case StateInjected:
		return "injected"
	case StateResumed:
		return "resumed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateResumed || s == StateFailed
}

// next is the single forward step from each non-terminal state. Failed is
// reachable from every non-terminal state and is handled separately.
var next = map[State]State{
	StateCreated:      StateSuspended,
	StateSuspended:    StateEntryReached,
	StateEntryReached: StateInjected,
	StateInjected:     StateResumed,
}

// Lifecycle tracks the state of one target process. The zero value is in
// StateCreated.
type Lifecycle struct {
	state State
}

// State returns the current state.
func (l *Lifecycle) State() State {
	return l.state
}

// Advance moves to the given state, rejecting steps the lifecycle does not
// allow.
func (l *Lifecycle) Advance(to State) error {
	if l.state.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, l.state)
	}
	if to == StateFailed {
		l.state = to
		return nil
	}
	if allowed, ok := next[l.state]; ok && allowed == to {
		l.state = to
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, to)
}

// Fail moves to StateFailed unless the lifecycle already ended.
func (l *Lifecycle) Fail() {
	if !l.state.Terminal() {
		l.state = StateFailed
	}
}
