package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/transport/wire"
	"google.golang.org/protobuf/types/known/structpb"
)

// StatusReply is the GetStatus result.
type StatusReply struct {
	Profile  string `json:"profile"`
	UserID   string `json:"userId"`
	Status   string `json:"status"`
	UptimeMS int64  `json:"uptimeMs"`
}

// SnapshotReply is the GetSnapshot result.
type SnapshotReply struct {
	Status       string              `json:"status"`
	Chats        []wire.Chat         `json:"chats"`
	ActiveChatID string              `json:"activeChatId,omitempty"`
	Messages     []wire.Message      `json:"messages"`
	Typing       map[string][]string `json:"typing,omitempty"`
	Loading      bool                `json:"loading"`
	Sending      bool                `json:"sending"`
	LastError    string              `json:"lastError,omitempty"`
}

// ChatArgs names a chat.
type ChatArgs struct {
	ChatID string `json:"chatId"`
}

// MessageArgs names a message.
type MessageArgs struct {
	MessageID string `json:"messageId"`
}

// SendArgs is the SendMessage input.
type SendArgs struct {
	ChatID        string `json:"chatId,omitempty"`
	ReceiverPhone string `json:"receiverPhone,omitempty"`
	Content       string `json:"content"`
	Type          string `json:"type,omitempty"`
}

// EditArgs is the EditMessage input.
type EditArgs struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// CreateChatArgs is the CreateChat input.
type CreateChatArgs struct {
	Name         string `json:"name,omitempty"`
	Phone        string `json:"phone"`
	IsNewContact bool   `json:"isNewContact,omitempty"`
}

// ContactsReply is the FetchContacts result.
type ContactsReply struct {
	Contacts []wire.Contact `json:"contacts"`
}

// MarkAllReadReply lists the chats a read acknowledgement went out for.
type MarkAllReadReply struct {
	ChatIDs []string `json:"chatIds"`
}

// WatchArgs filters WatchEvents by kind prefix. Empty means everything.
type WatchArgs struct {
	Namespace string `json:"namespace,omitempty"`
}

// EventReply is one WatchEvents message.
type EventReply struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

func snapshotReply(v session.View) SnapshotReply {
	out := SnapshotReply{
		Status:    string(v.Status),
		Chats:     make([]wire.Chat, 0, len(v.Chats)),
		Messages:  make([]wire.Message, 0, len(v.Messages)),
		Typing:    v.Typing,
		Loading:   v.Loading,
		Sending:   v.Sending,
		LastError: v.LastError,
	}
	for _, c := range v.Chats {
		out.Chats = append(out.Chats, wire.FromChat(c))
	}
	for _, m := range v.Messages {
		out.Messages = append(out.Messages, wire.FromMessage(m))
	}
	if v.Active != nil {
		out.ActiveChatID = v.Active.ChatID
	}
	return out
}

// Encode converts v to a Struct through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return s, nil
}

// Decode fills v from a Struct through its JSON form.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
