package bus

import "time"

// Event kinds published by the sync engine and session.
const (
	KindChats        = "store.chats"
	KindActive       = "store.active"
	KindMessages     = "store.messages"
	KindTyping       = "store.typing"
	KindSessionError = "session.error"
	KindConnStatus   = "conn.status_changed"
	KindResynced     = "sync.resynced"
)

// Event is a notification published on the bus. Payload is optional and
// never a live reference into the store.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
