package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State represents the push-channel connection state.
type State string

const (
	Idle         State = "IDLE"
	Connecting   State = "CONNECTING"
	Live         State = "LIVE"
	Reconnecting State = "RECONNECTING"
	Stopped      State = "STOPPED"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:         {Connecting, Stopped, Error},
	Connecting:   {Live, Reconnecting, Stopped, Error},
	Live:         {Reconnecting, Stopped, Error},
	Reconnecting: {Connecting, Stopped, Error},
	Error:        {Connecting, Stopped},
	Stopped:      {},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindConnStatus, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
