// Package transport declares the collaborators the sync core talks to: a
// request/response client and a bidirectional push channel.
package transport

import (
	"context"
	"encoding/json"

	"github.com/matheus3301/chatsync/internal/store"
)

// Inbound push events.
const (
	EventReceiveMessage     = "receive-message"
	EventUserStatus         = "user-status"
	EventUserTyping         = "user-typing"
	EventUserTypingStop     = "user-typing-stop"
	EventDeletedForEveryone = "message-deleted-for-everyone"
	EventMessageUpdated     = "message-updated"
	EventMessageDelivered   = "message_delivered"
	EventMessagesRead       = "messages_read"
)

// Outbound push emissions.
const (
	EmitJoinChat     = "join-chat"
	EmitTypingStart  = "typing-start"
	EmitTypingStop   = "typing-stop"
	EmitDeliveredAck = "message_delivered"
	EmitMarkReadAck  = "mark_messages_read"
)

// InboundEvents lists every push event the sync engine handles.
var InboundEvents = []string{
	EventReceiveMessage,
	EventUserStatus,
	EventUserTyping,
	EventUserTypingStop,
	EventDeletedForEveryone,
	EventMessageUpdated,
	EventMessageDelivered,
	EventMessagesRead,
}

// Handler receives the raw data of one push event.
type Handler func(data json.RawMessage)

// PushChannel is the event socket shared by the whole session.
type PushChannel interface {
	// Connect dials the channel and keeps it alive until Close.
	Connect(ctx context.Context) error
	Close() error
	Emit(event string, payload any) error
	// On registers h for event. The returned func detaches it.
	On(event string, h Handler) (off func())
	OnConnect(fn func()) (off func())
	OnDisconnect(fn func(err error)) (off func())
}

// SendRequest is the input of RequestClient.SendMessage.
type SendRequest struct {
	ReceiverPhone string
	Content       string
	Type          string
}

// EditRequest is the input of RequestClient.EditMessage.
type EditRequest struct {
	MessageID     string
	NewContent    string
	IsLastMessage bool
}

// CreateChatRequest is the input of RequestClient.CreateChat.
type CreateChatRequest struct {
	Name         string
	Phone        string
	IsNewContact bool
}

// RequestClient performs request/response operations against the chat backend.
type RequestClient interface {
	FetchChats(ctx context.Context) ([]store.Chat, error)
	FetchMessages(ctx context.Context, chatID string) ([]store.Message, error)
	SendMessage(ctx context.Context, req SendRequest) (store.Message, error)
	EditMessage(ctx context.Context, req EditRequest) (store.Message, error)
	CreateChat(ctx context.Context, req CreateChatRequest) (store.Chat, error)
	FetchContacts(ctx context.Context) ([]store.Contact, error)
	DeleteForMe(ctx context.Context, messageID string) error
	DeleteForEveryone(ctx context.Context, messageID string) error
	ClearChat(ctx context.Context, chatID string) error
}

// Emitter is the outbound half of a PushChannel.
type Emitter interface {
	Emit(event string, payload any) error
}
