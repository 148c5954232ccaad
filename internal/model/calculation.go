package model

import "time"

// Calculation state constants.
const (
	StateStarted     = "STARTED"
	StateCalculating = "CALCULATING"
	StateCompleted   = "COMPLETED"
	StateFailed      = "FAILED"
	StateCancelled   = "CANCELLED"
)

// validTransitions maps each state to the set of states it may transition to.
// COMPLETED, FAILED and CANCELLED are absorbing: they have no outgoing edges.
// CALCULATING→CALCULATING is allowed so that repeated progress updates are
// ordinary transitions rather than special cases.
var validTransitions = map[string]map[string]bool{
	StateStarted: {
		StateCalculating: true,
		StateCompleted:   true,
		StateFailed:      true,
		StateCancelled:   true,
	},
	StateCalculating: {
		StateCalculating: true,
		StateCompleted:   true,
		StateFailed:      true,
		StateCancelled:   true,
	},
}

// ValidTransition reports whether transitioning from one state to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether a state is terminal (no further transitions).
func Terminal(state string) bool {
	return state == StateCompleted || state == StateFailed || state == StateCancelled
}

// Calculation is the registry's view of one calculation job. Progress and
// Phase are unset until the first progress event arrives; CompletedAt is set
// on the terminal transition.
type Calculation struct {
	ID          string     `json:"calculationId"`
	State       string     `json:"status"`
	Progress    *int       `json:"progressPercentage,omitempty"`
	Phase       string     `json:"currentPhase,omitempty"`
	CreatedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Active reports whether the calculation is still running.
func (c *Calculation) Active() bool {
	return c.State == StateStarted || c.State == StateCalculating
}
