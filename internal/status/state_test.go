package status

import (
	"testing"

	"github.com/matheus3301/chatsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Connecting},
		{Idle, Stopped},
		{Connecting, Live},
		{Connecting, Reconnecting},
		{Connecting, Error},
		{Live, Reconnecting},
		{Live, Stopped},
		{Reconnecting, Connecting},
		{Error, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Live); err == nil {
		t.Error("Transition(IDLE -> LIVE) should fail")
	}
}

func TestStoppedIsTerminal(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Live)
	if err := m.Transition(Stopped); err != nil {
		t.Fatal(err)
	}
	for _, to := range []State{Idle, Connecting, Live, Reconnecting, Error} {
		if err := m.Transition(to); err == nil {
			t.Errorf("Transition(STOPPED -> %s) should fail", to)
		}
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindConnStatus {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindConnStatus)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Idle || change.To != Connecting {
		t.Errorf("change = %v -> %v, want IDLE -> CONNECTING", change.From, change.To)
	}
}

// TestDisconnectReconnectCycle verifies the redial loop:
// LIVE → RECONNECTING → CONNECTING → LIVE
func TestDisconnectReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Live)

	steps := []State{Reconnecting, Connecting, Live}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Live {
		t.Errorf("current = %s, want %s", m.Current(), Live)
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:         {},
		Connecting:   {Connecting},
		Live:         {Connecting, Live},
		Reconnecting: {Connecting, Live, Reconnecting},
		Error:        {Connecting, Error},
		Stopped:      {Stopped},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
