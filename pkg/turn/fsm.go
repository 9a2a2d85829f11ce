package turn

import (
	"sync"
	"time"
)

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes session state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// ListenerFunc adapts a function to StateListener.
type ListenerFunc func(event StateChange)

func (f ListenerFunc) OnStateChange(event StateChange) { f(event) }

var validTransitions = map[State][]State{
	StateIdle:      {StateListening},
	StateListening: {StateThinking, StateIdle},
	StateThinking:  {StateSpeaking, StateListening, StateIdle},
	StateSpeaking:  {StateListening, StateIdle},
}

// Machine is the voice session state machine. It validates transitions and
// notifies listeners after each change.
type Machine struct {
	mu        sync.RWMutex
	current   State
	enteredAt time.Time
	now       func() time.Time
	listeners []StateListener
}

func NewMachine() *Machine {
	return &Machine{current: StateIdle, now: time.Now, enteredAt: time.Now()}
}

// SetClock overrides the time source used for timestamps.
func (m *Machine) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	m.mu.Lock()
	m.now = now
	m.enteredAt = now()
	m.mu.Unlock()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since reports how long the machine has been in its current state.
func (m *Machine) Since() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now().Sub(m.enteredAt)
}

// CanTransition reports whether moving from the current state to the given one is allowed.
func (m *Machine) CanTransition(to State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return transitionValid(m.current, to)
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation. Listeners run on the
// calling goroutine after the lock is released.
func (m *Machine) Transition(to State, reason string) error {
	m.mu.Lock()
	if !transitionValid(m.current, to) {
		from := m.current
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	from := m.current
	m.current = to
	m.enteredAt = m.now()
	event := StateChange{
		FromState: from,
		ToState:   to,
		Timestamp: m.enteredAt,
		Reason:    reason,
	}
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStateChange(event)
	}
	return nil
}

// Settle moves to the resting state for the given capture flag when the
// machine is not awaiting an answer. It is a no-op when already there.
func (m *Machine) Settle(listening bool, reason string) error {
	cur := m.State()
	if cur == StateThinking || cur == StateSpeaking {
		return nil
	}
	target := Target(listening)
	if cur == target {
		return nil
	}
	return m.Transition(target, reason)
}

// AddListener registers a listener for state change events.
func (m *Machine) AddListener(listener StateListener) {
	if listener == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
