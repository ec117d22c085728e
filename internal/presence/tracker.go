// Package presence tracks who is typing where, patches peer online state and
// debounces the local user's own typing signal.
package presence

import (
	"slices"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/transport/wire"
	"go.uber.org/zap"
)

// DefaultQuiet is how long the composer must stay idle before typing-stop.
const DefaultQuiet = time.Second

// Timer is the part of *time.Timer the tracker needs.
type Timer interface {
	Stop() bool
}

// Clock schedules the typing-stop timer.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config configures a Tracker.
type Config struct {
	Store  *store.Store
	Bus    *bus.Bus
	Push   transport.Emitter
	Logger *zap.Logger
	// Post runs f on the session loop. Timer callbacks go through it.
	Post  func(f func())
	Quiet time.Duration
	Clock Clock
}

// Tracker owns the typing sets. It is only used from the session loop.
type Tracker struct {
	store  *store.Store
	bus    *bus.Bus
	push   transport.Emitter
	logger *zap.Logger
	post   func(func())
	quiet  time.Duration
	clock  Clock

	typing map[string][]string

	pendingChat string
	timer       Timer
	gen         uint64
}

// NewTracker creates a tracker from cfg.
func NewTracker(cfg Config) *Tracker {
	t := &Tracker{
		store:  cfg.Store,
		bus:    cfg.Bus,
		push:   cfg.Push,
		logger: cfg.Logger,
		post:   cfg.Post,
		quiet:  cfg.Quiet,
		clock:  cfg.Clock,
		typing: make(map[string][]string),
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	if t.quiet <= 0 {
		t.quiet = DefaultQuiet
	}
	if t.clock == nil {
		t.clock = realClock{}
	}
	if t.post == nil {
		t.post = func(f func()) { f() }
	}
	return t
}

// Add marks userID as typing in chatID. Reports whether the set changed.
func (t *Tracker) Add(chatID, userID string) bool {
	if slices.Contains(t.typing[chatID], userID) {
		return false
	}
	t.typing[chatID] = append(t.typing[chatID], userID)
	t.bus.Emit(bus.KindTyping, chatID)
	return true
}

// Remove drops userID from chatID's set, deleting the entry once empty.
func (t *Tracker) Remove(chatID, userID string) bool {
	users, ok := t.typing[chatID]
	if !ok {
		return false
	}
	i := slices.Index(users, userID)
	if i < 0 {
		return false
	}
	users = slices.Delete(users, i, i+1)
	if len(users) == 0 {
		delete(t.typing, chatID)
	} else {
		t.typing[chatID] = users
	}
	t.bus.Emit(bus.KindTyping, chatID)
	return true
}

// ClearChat drops chatID's whole typing set.
func (t *Tracker) ClearChat(chatID string) {
	if _, ok := t.typing[chatID]; !ok {
		return
	}
	delete(t.typing, chatID)
	t.bus.Emit(bus.KindTyping, chatID)
}

// Typing returns the users typing in chatID.
func (t *Tracker) Typing(chatID string) []string {
	return slices.Clone(t.typing[chatID])
}

// All returns a copy of every non-empty typing set.
func (t *Tracker) All() map[string][]string {
	out := make(map[string][]string, len(t.typing))
	for chatID, users := range t.typing {
		out[chatID] = slices.Clone(users)
	}
	return out
}

// ApplyStatus patches userID's online state in every chat referencing it.
func (t *Tracker) ApplyStatus(userID string, online bool, lastSeen time.Time) int {
	return t.store.PatchPeerPresence(userID, online, lastSeen)
}

// Keystroke reports a composer change in chatID: typing-start goes out and
// the single typing-stop timer is rescheduled.
func (t *Tracker) Keystroke(chatID string) {
	if t.pendingChat != "" && t.pendingChat != chatID {
		t.StopTyping()
	}
	t.emit(transport.EmitTypingStart, chatID)

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.pendingChat = chatID
	t.timer = t.clock.AfterFunc(t.quiet, func() {
		t.post(func() { t.expire(gen) })
	})
}

// StopTyping cancels the pending timer and sends typing-stop right away.
// No-op when the user is not typing.
func (t *Tracker) StopTyping() {
	if t.pendingChat == "" {
		return
	}
	chatID := t.pendingChat
	t.cancel()
	t.emit(transport.EmitTypingStop, chatID)
}

// Pending returns the chat with a live typing-stop timer, or "".
func (t *Tracker) Pending() string {
	return t.pendingChat
}

// Close cancels the timer without emitting.
func (t *Tracker) Close() {
	t.cancel()
}

func (t *Tracker) cancel() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = nil
	t.pendingChat = ""
	t.gen++
}

func (t *Tracker) expire(gen uint64) {
	if gen != t.gen || t.pendingChat == "" {
		return
	}
	chatID := t.pendingChat
	t.timer = nil
	t.pendingChat = ""
	t.emit(transport.EmitTypingStop, chatID)
}

func (t *Tracker) emit(event, chatID string) {
	if t.push == nil {
		return
	}
	if err := t.push.Emit(event, wire.ChatRef{ChatID: chatID}); err != nil {
		t.logger.Debug("typing signal not sent", zap.String("event", event), zap.Error(err))
	}
}
