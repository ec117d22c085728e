package store

import (
	"slices"

	"github.com/matheus3301/chatsync/internal/bus"
)

// Store is the canonical in-memory session state: the chat collection, the
// active chat pointer and the active chat's message list.
//
// Store has no locking. It must only be touched from the session loop.
type Store struct {
	bus *bus.Bus

	chats    []*Chat
	chatByID map[string]*Chat
	activeID string

	messages []*Message
	msgByID  map[string]*Message

	loading   bool
	sending   bool
	lastError string
}

// New creates an empty store publishing change notifications on b.
func New(b *bus.Bus) *Store {
	return &Store{
		bus:      b,
		chatByID: make(map[string]*Chat),
		msgByID:  make(map[string]*Message),
	}
}

// Snapshot returns a deep copy of the current state. Chats are ordered by
// last message time, newest first.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Chats:     s.Chats(),
		Messages:  s.Messages(),
		Loading:   s.loading,
		Sending:   s.sending,
		LastError: s.lastError,
	}
	slices.SortStableFunc(snap.Chats, func(a, b Chat) int {
		return b.LastMessageTime.Compare(a.LastMessageTime)
	})
	if c, ok := s.Active(); ok {
		snap.Active = &c
	}
	return snap
}

// SetLoading records whether a message fetch for the active chat is in flight.
func (s *Store) SetLoading(v bool) {
	if s.loading == v {
		return
	}
	s.loading = v
	s.bus.Emit(bus.KindActive, nil)
}

// SetSending records whether a send is in flight.
func (s *Store) SetSending(v bool) {
	if s.sending == v {
		return
	}
	s.sending = v
	s.bus.Emit(bus.KindActive, nil)
}

// SetError records the session-level error message. An empty msg clears it.
func (s *Store) SetError(msg string) {
	if s.lastError == msg {
		return
	}
	s.lastError = msg
	s.bus.Emit(bus.KindSessionError, msg)
}

// LastError returns the recorded session-level error message.
func (s *Store) LastError() string {
	return s.lastError
}

// maxStatus returns the further advanced of a and b.
func maxStatus(a, b Status) Status {
	if b.Rank() > a.Rank() {
		return b.Normalize()
	}
	return a.Normalize()
}
