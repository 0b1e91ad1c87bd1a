package visualization

import "time"

// State of a single visualization request.
type State string

const (
	StatePrompting  State = "PROMPTING"
	StateGenerating State = "GENERATING"
	StateSuccess    State = "SUCCESS"
	StateFallback   State = "FALLBACK"
	StateStoring    State = "STORING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// validNext - allowed transitions; FAILED is only reachable from STORING
var validNext = map[State][]State{
	StatePrompting:  {StateGenerating},
	StateGenerating: {StateSuccess, StateFallback},
	StateSuccess:    {StateStoring},
	StateFallback:   {StateStoring},
	StateStoring:    {StateDone, StateFailed},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal - DONE or FAILED
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Transition is one step of a request, reported to observers.
type Transition struct {
	OrderID string    `json:"orderId"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	At      time.Time `json:"at"`
}

// Observer receives every transition. Implementations must not block.
type Observer interface {
	OnTransition(Transition)
}
