// Package receipt tracks message delivery state and sends the delivery and
// read acknowledgements the peer's client waits for.
package receipt

import (
	"slices"

	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/transport/wire"
	"go.uber.org/zap"
)

// validTransitions defines allowed status moves. read implies delivered.
var validTransitions = map[store.Status][]store.Status{
	store.StatusSent:      {store.StatusDelivered, store.StatusRead},
	store.StatusDelivered: {store.StatusRead},
	store.StatusRead:      {},
}

// CanAdvance reports whether a message in status from may move to to.
func CanAdvance(from, to store.Status) bool {
	return slices.Contains(validTransitions[from.Normalize()], to)
}

// Tracker applies receipt events to the store and emits acknowledgements.
// Like the store it is only used from the session loop.
type Tracker struct {
	store  *store.Store
	push   transport.Emitter
	logger *zap.Logger
}

// NewTracker creates a tracker writing to st and emitting on push.
func NewTracker(st *store.Store, push transport.Emitter, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: st, push: push, logger: logger}
}

// AckDelivered tells the sender that m reached this client.
func (t *Tracker) AckDelivered(m store.Message) {
	t.emit(transport.EmitDeliveredAck, wire.MessageRef{MessageID: m.ID, ChatID: m.ChatID})
}

// AckRead tells the peer that everything in chatID has been seen.
func (t *Tracker) AckRead(chatID string) {
	t.emit(transport.EmitMarkReadAck, wire.ChatRef{ChatID: chatID})
}

// ApplyDelivered advances an active-list message to delivered. A read
// message stays read. Reports whether the message changed.
func (t *Tracker) ApplyDelivered(messageID string) bool {
	m, ok := t.store.Message(messageID)
	if !ok {
		t.logger.Debug("delivery for message outside active list", zap.String("message_id", messageID))
		return false
	}
	if !CanAdvance(m.Status, store.StatusDelivered) {
		return false
	}
	delivered := store.StatusDelivered
	return t.store.PatchMessage(messageID, store.MessagePatch{Status: &delivered})
}

// ApplyRead handles a peer read event: when chatID is the active chat and
// readBy is its peer, every outgoing message there becomes read. Two-party
// chats only. Returns how many messages changed.
func (t *Tracker) ApplyRead(chatID, readBy, localUserID string) int {
	active, ok := t.store.Active()
	if !ok || active.ChatID != chatID {
		return 0
	}
	if readBy == "" || readBy != active.User.ID {
		t.logger.Debug("read event not from active peer",
			zap.String("chat_id", chatID),
			zap.String("read_by", readBy),
		)
		return 0
	}
	return t.store.MarkOutgoingRead(localUserID)
}

// MarkAllRead emits a read acknowledgement for every chat with unread
// messages, then zeroes all counts. Returns the acknowledged chat ids.
func (t *Tracker) MarkAllRead() []string {
	var ids []string
	for _, c := range t.store.Chats() {
		if c.UnreadCount > 0 {
			t.AckRead(c.ChatID)
			ids = append(ids, c.ChatID)
		}
	}
	t.store.ZeroAllUnread()
	return ids
}

func (t *Tracker) emit(event string, payload any) {
	if t.push == nil {
		return
	}
	if err := t.push.Emit(event, payload); err != nil {
		t.logger.Warn("acknowledgement not sent", zap.String("event", event), zap.Error(err))
	}
}
