package generation

import "fmt"

// State is a step of the answer state machine.
type State string

const (
	StateIdle              State = "idle"
	StateAwaitingRetrieval State = "awaiting_retrieval"
	StateRetrieved         State = "retrieved"
	StateAnswering         State = "answering"
	StateDone              State = "done"
	StateError             State = "error"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// transitions lists the allowed successors of every non-terminal state.
// Answering is reachable only from retrieved, so no answer precedes retrieval.
// Retrieved goes straight to done when the evidence is empty.
var transitions = map[State][]State{
	StateIdle:              {StateAwaitingRetrieval},
	StateAwaitingRetrieval: {StateRetrieved},
	StateRetrieved:         {StateAnswering, StateDone},
	StateAnswering:         {StateAwaitingRetrieval, StateDone},
}

// CanTransition reports whether from may move to to.
// Every non-terminal state may move to StateError.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateError {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Observer is notified of every state change.
type Observer func(from, to State)

// machine tracks one answer's progress through the states.
type machine struct {
	state    State
	history  []State
	observer Observer
}

func newMachine(observer Observer) *machine {
	return &machine{state: StateIdle, history: []State{StateIdle}, observer: observer}
}

func (m *machine) advance(to State) error {
	if !CanTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	from := m.state
	m.state = to
	m.history = append(m.history, to)
	if m.observer != nil {
		m.observer(from, to)
	}
	return nil
}

// fail moves to StateError and returns err unchanged.
func (m *machine) fail(err error) error {
	if !m.state.Terminal() {
		_ = m.advance(StateError)
	}
	return err
}

func (m *machine) states() []State {
	return append([]State(nil), m.history...)
}
