package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
)

// ErrMalformed is returned for payloads missing required identifiers.
var ErrMalformed = errors.New("malformed event")

// UserStatus is the user-status payload.
type UserStatus struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// Typing is the user-typing and user-typing-stop payload.
type Typing struct {
	UserID string `json:"userId"`
	ChatID string `json:"chatId"`
}

// Deleted is the message-deleted-for-everyone payload.
type Deleted struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

// Updated is the message-updated payload.
type Updated struct {
	MessageID     string `json:"messageId"`
	ChatID        string `json:"chatId"`
	NewContent    string `json:"newContent"`
	IsEdited      bool   `json:"isEdited"`
	IsLastMessage bool   `json:"isLastMessage"`
}

// Delivered is the inbound message_delivered payload.
type Delivered struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	Status    string `json:"status,omitempty"`
}

// Read is the messages_read payload.
type Read struct {
	ChatID string `json:"chatId"`
	ReadBy string `json:"readBy"`
}

func decode(event string, data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%s: empty payload: %w", event, ErrMalformed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", event, err)
	}
	return nil
}

func require(event string, fields ...string) error {
	for _, f := range fields {
		if f == "" {
			return fmt.Errorf("%s: missing identifier: %w", event, ErrMalformed)
		}
	}
	return nil
}

// DecodeReceiveMessage accepts either a bare message or {"message": {...}}.
func DecodeReceiveMessage(data json.RawMessage) (store.Message, error) {
	const event = "receive-message"
	var wrapped struct {
		Message *Message `json:"message"`
	}
	if err := decode(event, data, &wrapped); err != nil {
		return store.Message{}, err
	}
	m := wrapped.Message
	if m == nil {
		m = &Message{}
		if err := decode(event, data, m); err != nil {
			return store.Message{}, err
		}
	}
	if err := require(event, m.ID, m.ChatID); err != nil {
		return store.Message{}, err
	}
	return m.Store(), nil
}

// DecodeUserStatus decodes a user-status payload.
func DecodeUserStatus(data json.RawMessage) (UserStatus, error) {
	var v UserStatus
	if err := decode("user-status", data, &v); err != nil {
		return v, err
	}
	return v, require("user-status", v.UserID)
}

// DecodeTyping decodes a user-typing or user-typing-stop payload.
func DecodeTyping(event string, data json.RawMessage) (Typing, error) {
	var v Typing
	if err := decode(event, data, &v); err != nil {
		return v, err
	}
	return v, require(event, v.UserID, v.ChatID)
}

// DecodeDeleted decodes a message-deleted-for-everyone payload.
func DecodeDeleted(data json.RawMessage) (Deleted, error) {
	var v Deleted
	if err := decode("message-deleted-for-everyone", data, &v); err != nil {
		return v, err
	}
	return v, require("message-deleted-for-everyone", v.MessageID)
}

// DecodeUpdated decodes a message-updated payload.
func DecodeUpdated(data json.RawMessage) (Updated, error) {
	var v Updated
	if err := decode("message-updated", data, &v); err != nil {
		return v, err
	}
	return v, require("message-updated", v.MessageID)
}

// DecodeDelivered decodes an inbound message_delivered payload.
func DecodeDelivered(data json.RawMessage) (Delivered, error) {
	var v Delivered
	if err := decode("message_delivered", data, &v); err != nil {
		return v, err
	}
	return v, require("message_delivered", v.MessageID)
}

// DecodeRead decodes a messages_read payload.
func DecodeRead(data json.RawMessage) (Read, error) {
	var v Read
	if err := decode("messages_read", data, &v); err != nil {
		return v, err
	}
	return v, require("messages_read", v.ChatID, v.ReadBy)
}
