// Package sync reconciles push-channel events into the session store.
package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/receipt"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/transport/wire"
	"go.uber.org/zap"
)

// DefaultSeenLimit bounds how many received message ids are remembered.
const DefaultSeenLimit = 4096

// Source is where the engine attaches its handlers.
type Source interface {
	On(event string, h transport.Handler) (off func())
}

// Config wires an Engine to the session.
type Config struct {
	Store       *store.Store
	Typing      *presence.Tracker
	Receipts    *receipt.Tracker
	LocalUserID string
	// Post runs f on the session loop. Handlers are always posted.
	Post func(f func())
	// Refresh re-fetches the chat list. Called from the loop.
	Refresh   func()
	Logger    *zap.Logger
	SeenLimit int
}

// Engine applies inbound push events to the store in arrival order.
// Handle must only run on the session loop.
type Engine struct {
	store    *store.Store
	typing   *presence.Tracker
	receipts *receipt.Tracker
	me       string
	post     func(func())
	refresh  func()
	logger   *zap.Logger
	seen     *seenSet
	offs     []func()
}

// NewEngine creates an engine from cfg.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		store:    cfg.Store,
		typing:   cfg.Typing,
		receipts: cfg.Receipts,
		me:       cfg.LocalUserID,
		post:     cfg.Post,
		refresh:  cfg.Refresh,
		logger:   cfg.Logger,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.post == nil {
		e.post = func(f func()) { f() }
	}
	if e.refresh == nil {
		e.refresh = func() {}
	}
	limit := cfg.SeenLimit
	if limit <= 0 {
		limit = DefaultSeenLimit
	}
	e.seen = newSeenSet(limit)
	return e
}

// Start attaches a handler for every inbound event to src.
func (e *Engine) Start(src Source) {
	for _, event := range transport.InboundEvents {
		event := event // per-iteration copy; go directive predates Go 1.22 loopvar semantics
		off := src.On(event, func(data json.RawMessage) {
			e.post(func() { e.Handle(event, data) })
		})
		e.offs = append(e.offs, off)
	}
	e.logger.Debug("sync engine attached", zap.Int("handlers", len(e.offs)))
}

// Stop detaches every handler attached by Start.
func (e *Engine) Stop() {
	for _, off := range e.offs {
		off()
	}
	e.offs = nil
}

// Handle applies one event. Malformed or unmatched events are ignored.
func (e *Engine) Handle(event string, data json.RawMessage) {
	var err error
	switch event {
	case transport.EventReceiveMessage:
		err = e.receiveMessage(data)
	case transport.EventUserStatus:
		err = e.userStatus(data)
	case transport.EventUserTyping, transport.EventUserTypingStop:
		err = e.userTyping(event, data)
	case transport.EventDeletedForEveryone:
		err = e.deletedForEveryone(data)
	case transport.EventMessageUpdated:
		err = e.messageUpdated(data)
	case transport.EventMessageDelivered:
		err = e.messageDelivered(data)
	case transport.EventMessagesRead:
		err = e.messagesRead(data)
	default:
		e.logger.Debug("unhandled push event", zap.String("event", event))
		return
	}
	if err != nil {
		e.logger.Debug("ignoring push event", zap.String("event", event), zap.Error(err))
	}
}

func (e *Engine) receiveMessage(data json.RawMessage) error {
	m, err := wire.DecodeReceiveMessage(data)
	if err != nil {
		return err
	}
	if !e.seen.Add(m.ID) {
		return nil
	}
	at := m.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, known := e.store.Chat(m.ChatID)

	if m.Sender != "" && m.Sender == e.me {
		if !known {
			e.refresh()
			return nil
		}
		e.store.AppendMessage(m)
		e.store.PatchPreview(m.ChatID, m.Content, &at)
		return nil
	}

	e.receipts.AckDelivered(m)
	if !known {
		e.logger.Debug("message for unknown chat, refreshing", zap.String("chat_id", m.ChatID))
		e.refresh()
		return nil
	}
	if e.store.IsActive(m.ChatID) {
		e.receipts.AckRead(m.ChatID)
		e.store.AppendMessage(m)
	} else {
		e.store.IncrementUnread(m.ChatID)
	}
	e.store.PatchPreview(m.ChatID, m.Content, &at)
	e.typing.Remove(m.ChatID, m.Sender)
	return nil
}

func (e *Engine) userStatus(data json.RawMessage) error {
	v, err := wire.DecodeUserStatus(data)
	if err != nil {
		return err
	}
	var lastSeen time.Time
	if v.LastSeen != nil {
		lastSeen = *v.LastSeen
	}
	e.typing.ApplyStatus(v.UserID, v.IsOnline, lastSeen)
	return nil
}

func (e *Engine) userTyping(event string, data json.RawMessage) error {
	v, err := wire.DecodeTyping(event, data)
	if err != nil {
		return err
	}
	if v.UserID == e.me {
		return nil
	}
	if _, ok := e.store.Chat(v.ChatID); !ok {
		return fmt.Errorf("typing for unknown chat %q", v.ChatID)
	}
	if event == transport.EventUserTyping {
		e.typing.Add(v.ChatID, v.UserID)
	} else {
		e.typing.Remove(v.ChatID, v.UserID)
	}
	return nil
}

func (e *Engine) deletedForEveryone(data json.RawMessage) error {
	v, err := wire.DecodeDeleted(data)
	if err != nil {
		return err
	}
	if _, ok := e.store.Message(v.MessageID); !ok {
		return nil
	}
	tombstone, deleted := store.TombstoneText, true
	e.store.PatchMessage(v.MessageID, store.MessagePatch{
		Content:              &tombstone,
		IsDeletedForEveryone: &deleted,
	})
	return nil
}

func (e *Engine) messageUpdated(data json.RawMessage) error {
	v, err := wire.DecodeUpdated(data)
	if err != nil {
		return err
	}
	chatID := v.ChatID
	if m, ok := e.store.Message(v.MessageID); ok {
		if m.IsDeletedForEveryone {
			return nil
		}
		edited := true
		e.store.PatchMessage(v.MessageID, store.MessagePatch{
			Content:  &v.NewContent,
			IsEdited: &edited,
		})
		if chatID == "" {
			chatID = m.ChatID
		}
	}
	if v.IsLastMessage && chatID != "" {
		e.store.PatchPreview(chatID, v.NewContent, nil)
	}
	return nil
}

func (e *Engine) messageDelivered(data json.RawMessage) error {
	v, err := wire.DecodeDelivered(data)
	if err != nil {
		return err
	}
	e.receipts.ApplyDelivered(v.MessageID)
	return nil
}

func (e *Engine) messagesRead(data json.RawMessage) error {
	v, err := wire.DecodeRead(data)
	if err != nil {
		return err
	}
	e.receipts.ApplyRead(v.ChatID, v.ReadBy, e.me)
	return nil
}
