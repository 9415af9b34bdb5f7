package pipeline

// State is a node of the per-request retry state machine.
type State string

const (
	StateAttempting                 State = "Attempting"
	StateSucceeded                  State = "Succeeded"
	StateRetryingWithModifiedPrompt State = "RetryingWithModifiedPrompt"
	StateExhausted                  State = "Exhausted"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateExhausted
}

var allowedTransitions = map[State][]State{
	StateAttempting:                 {StateSucceeded, StateRetryingWithModifiedPrompt, StateExhausted},
	StateRetryingWithModifiedPrompt: {StateAttempting, StateExhausted},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition records one edge taken by a request.
type Transition struct {
	From    State  `json:"from"`
	To      State  `json:"to"`
	Attempt int    `json:"attempt"`
	Reason  string `json:"reason,omitempty"`
}

// machine tracks the current state of one request. It is owned by a single
// goroutine and needs no locking.
type machine struct {
	state State
	log   []Transition
}

func newMachine() *machine {
	return &machine{state: StateAttempting}
}

func (m *machine) move(to State, attempt int, reason string) {
	if !CanTransition(m.state, to) {
		panic("pipeline: illegal transition " + string(m.state) + " -> " + string(to))
	}
	m.log = append(m.log, Transition{From: m.state, To: to, Attempt: attempt, Reason: reason})
	m.state = to
}
