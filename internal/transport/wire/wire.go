// Package wire holds the JSON shapes exchanged with the chat backend and
// converts them to store types.
package wire

import (
	"time"

	"github.com/matheus3301/chatsync/internal/store"
)

// Peer is the other participant of a chat.
type Peer struct {
	ID       string     `json:"_id"`
	Name     string     `json:"name"`
	Phone    string     `json:"phone"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// Chat is one entry of the chat list.
type Chat struct {
	ChatID          string     `json:"chatId"`
	User            Peer       `json:"user"`
	LastMessage     string     `json:"lastMessage"`
	LastMessageTime *time.Time `json:"lastMessageTime,omitempty"`
	UnreadCount     int        `json:"unreadCount"`
}

// Message is a chat message.
type Message struct {
	ID                   string     `json:"_id"`
	ChatID               string     `json:"chatId"`
	Sender               string     `json:"sender"`
	Content              string     `json:"content"`
	Type                 string     `json:"type,omitempty"`
	CreatedAt            *time.Time `json:"createdAt,omitempty"`
	Status               string     `json:"status,omitempty"`
	IsEdited             bool       `json:"isEdited"`
	IsDeletedForEveryone bool       `json:"isDeletedForEveryone"`
}

// Contact is an address book entry.
type Contact struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func ref(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Store converts p.
func (p Peer) Store() store.Peer {
	return store.Peer{
		ID:       p.ID,
		Name:     p.Name,
		Phone:    p.Phone,
		IsOnline: p.IsOnline,
		LastSeen: deref(p.LastSeen),
	}
}

// Store converts c.
func (c Chat) Store() store.Chat {
	unread := c.UnreadCount
	if unread < 0 {
		unread = 0
	}
	return store.Chat{
		ChatID:          c.ChatID,
		User:            c.User.Store(),
		LastMessage:     c.LastMessage,
		LastMessageTime: deref(c.LastMessageTime),
		UnreadCount:     unread,
	}
}

// Store converts m. Unknown statuses become sent.
func (m Message) Store() store.Message {
	return store.Message{
		ID:                   m.ID,
		ChatID:               m.ChatID,
		Sender:               m.Sender,
		Content:              m.Content,
		Type:                 m.Type,
		CreatedAt:            deref(m.CreatedAt),
		Status:               store.Status(m.Status).Normalize(),
		IsEdited:             m.IsEdited,
		IsDeletedForEveryone: m.IsDeletedForEveryone,
	}
}

// Store converts c.
func (c Contact) Store() store.Contact {
	return store.Contact{ID: c.ID, Name: c.Name, Phone: c.Phone}
}

// FromChat converts a store chat to its wire shape.
func FromChat(c store.Chat) Chat {
	return Chat{
		ChatID: c.ChatID,
		User: Peer{
			ID:       c.User.ID,
			Name:     c.User.Name,
			Phone:    c.User.Phone,
			IsOnline: c.User.IsOnline,
			LastSeen: ref(c.User.LastSeen),
		},
		LastMessage:     c.LastMessage,
		LastMessageTime: ref(c.LastMessageTime),
		UnreadCount:     c.UnreadCount,
	}
}

// FromMessage converts a store message to its wire shape.
func FromMessage(m store.Message) Message {
	return Message{
		ID:                   m.ID,
		ChatID:               m.ChatID,
		Sender:               m.Sender,
		Content:              m.Content,
		Type:                 m.Type,
		CreatedAt:            ref(m.CreatedAt),
		Status:               string(m.Status.Normalize()),
		IsEdited:             m.IsEdited,
		IsDeletedForEveryone: m.IsDeletedForEveryone,
	}
}

// FromContact converts a store contact to its wire shape.
func FromContact(c store.Contact) Contact {
	return Contact{ID: c.ID, Name: c.Name, Phone: c.Phone}
}

// ChatsResponse is the body of the chat list fetch.
type ChatsResponse struct {
	Chats []Chat `json:"chats"`
}

// MessagesResponse is the body of the message list fetch.
type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

// MessageResponse wraps a single message result.
type MessageResponse struct {
	Message *Message `json:"message"`
}

// ChatResponse wraps a single chat result.
type ChatResponse struct {
	Chat *Chat `json:"chat"`
}

// ContactsResponse is the body of the contacts fetch.
type ContactsResponse struct {
	Contacts []Contact `json:"contacts"`
}

// ErrorResponse is the body of a rejected request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SendBody is the body of the send route.
type SendBody struct {
	ReceiverPhone string `json:"receiverPhone"`
	Content       string `json:"content"`
	Type          string `json:"type"`
}

// EditBody is the body of the edit route.
type EditBody struct {
	MessageID     string `json:"messageId"`
	NewContent    string `json:"newContent"`
	IsLastMessage bool   `json:"isLastMessage"`
}

// CreateChatBody is the body of the create route.
type CreateChatBody struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	IsNewContact bool   `json:"isNewContact"`
}

// MessageRef identifies a message in delete routes and acknowledgements.
type MessageRef struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId,omitempty"`
}

// ChatRef identifies a chat in outbound emissions.
type ChatRef struct {
	ChatID string `json:"chatId"`
}
