package store

import "time"

// Status is the delivery state of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// TombstoneText replaces the content of a message deleted for everyone.
const TombstoneText = "This message was deleted"

// Rank orders statuses; unknown values rank as sent.
func (s Status) Rank() int {
	switch s {
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	default:
		return 0
	}
}

// Normalize maps empty or unknown statuses to StatusSent.
func (s Status) Normalize() Status {
	switch s {
	case StatusDelivered, StatusRead:
		return s
	default:
		return StatusSent
	}
}

// Peer is the other participant's snapshot as seen from a chat.
type Peer struct {
	ID       string
	Name     string
	Phone    string
	IsOnline bool
	LastSeen time.Time
}

// Chat is a two-party conversation.
type Chat struct {
	ChatID          string
	User            Peer
	LastMessage     string
	LastMessageTime time.Time
	UnreadCount     int
}

// Message is a single chat message.
type Message struct {
	ID                   string
	ChatID               string
	Sender               string
	Content              string
	Type                 string
	CreatedAt            time.Time
	Status               Status
	IsEdited             bool
	IsDeletedForEveryone bool
}

// MessagePatch carries the fields to merge into an existing message.
// Nil fields are left untouched.
type MessagePatch struct {
	Content              *string
	Status               *Status
	IsEdited             *bool
	IsDeletedForEveryone *bool
}

// Contact is an entry of the user's contact list.
type Contact struct {
	ID    string
	Name  string
	Phone string
}

// Snapshot is a consistent copy of the store for readers.
type Snapshot struct {
	Chats     []Chat
	Active    *Chat
	Messages  []Message
	Loading   bool
	Sending   bool
	LastError string
}
