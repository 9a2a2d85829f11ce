package turn

import (
	"errors"
	"testing"
	"time"
)

type recordingListener struct {
	events []StateChange
}

func (r *recordingListener) OnStateChange(event StateChange) {
	r.events = append(r.events, event)
}

func TestMachineAnswerCycle(t *testing.T) {
	m := NewMachine()
	rec := &recordingListener{}
	m.AddListener(rec)

	steps := []State{StateListening, StateThinking, StateSpeaking, StateListening, StateIdle}
	for _, s := range steps {
		if err := m.Transition(s, "test"); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if len(rec.events) != len(steps) {
		t.Fatalf("expected %d events, got %d", len(steps), len(rec.events))
	}
	if rec.events[1].FromState != StateListening || rec.events[1].ToState != StateThinking {
		t.Fatalf("unexpected event %+v", rec.events[1])
	}
	if m.State() != StateIdle {
		t.Fatalf("expected IDLE, got %s", m.State())
	}
}

func TestMachineRejectsInvalidTransition(t *testing.T) {
	m := NewMachine()
	err := m.Transition(StateThinking, "skip listening")
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.From != StateIdle || invalid.To != StateThinking {
		t.Fatalf("unexpected error fields %+v", invalid)
	}
	if m.State() != StateIdle {
		t.Fatalf("state changed on invalid transition")
	}
}

func TestMachineSettle(t *testing.T) {
	m := NewMachine()
	if err := m.Settle(true, "start"); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if m.State() != StateListening {
		t.Fatalf("expected LISTENING, got %s", m.State())
	}
	if err := m.Settle(true, "again"); err != nil {
		t.Fatalf("repeat settle: %v", err)
	}
	_ = m.Transition(StateThinking, "query")
	if err := m.Settle(false, "stop"); err != nil {
		t.Fatalf("settle while thinking: %v", err)
	}
	if m.State() != StateThinking {
		t.Fatalf("settle must not leave THINKING, got %s", m.State())
	}
}

func TestMachineSince(t *testing.T) {
	now := time.Unix(0, 0)
	m := NewMachine()
	m.SetClock(func() time.Time { return now })
	_ = m.Transition(StateListening, "start")
	now = now.Add(3 * time.Second)
	if got := m.Since(); got != 3*time.Second {
		t.Fatalf("expected 3s in state, got %v", got)
	}
}

func TestListenerFunc(t *testing.T) {
	m := NewMachine()
	var got State
	m.AddListener(ListenerFunc(func(e StateChange) { got = e.ToState }))
	_ = m.Transition(StateListening, "start")
	if got != StateListening {
		t.Fatalf("listener func not called")
	}
}
