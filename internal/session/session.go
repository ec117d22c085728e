// Package session is the sync core's public surface. A Session owns the store
// and every tracker, runs all state mutations on one loop goroutine and
// exposes the local operations a UI or control client drives.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/receipt"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/transport/wire"
	"go.uber.org/zap"
)

const (
	defaultMessageType = "text"
	loopQueue          = 256
)

var nonDigits = regexp.MustCompile(`\D`)

// Options configures a Session.
type Options struct {
	LocalUserID string
	TypingQuiet time.Duration
	Clock       presence.Clock
	Logger      *zap.Logger
	Bus         *bus.Bus
	Status      *status.Machine
}

// View is what readers see: the store snapshot plus transient state.
type View struct {
	store.Snapshot
	Typing map[string][]string
	Status status.State
}

// SendInput is the input of SendMessage. ChatID defaults to the active chat
// and ReceiverPhone to that chat's peer.
type SendInput struct {
	ChatID        string `validate:"required"`
	ReceiverPhone string `validate:"required"`
	Content       string `validate:"required,max=4096"`
	Type          string
}

// CreateChatInput is the input of CreateChat.
type CreateChatInput struct {
	Name         string `validate:"required_if=IsNewContact true"`
	Phone        string `validate:"required,len=10,numeric"`
	IsNewContact bool
}

type editInput struct {
	MessageID string `validate:"required"`
	Content   string `validate:"required,max=4096"`
}

// Session binds the store to a push channel and a request client.
type Session struct {
	push     transport.PushChannel
	requests transport.RequestClient
	bus      *bus.Bus
	machine  *status.Machine
	logger   *zap.Logger
	validate *validator.Validate
	me       string

	loop     *Loop
	store    *store.Store
	typing   *presence.Tracker
	receipts *receipt.Tracker
	engine   *intsync.Engine

	// Owned by the loop.
	fetchSeq uint64
	connects int
	offs     []func()

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   atomic.Bool
	closeOnce sync.Once
}

// New creates a session. Nothing is attached or dialed until Start.
func New(push transport.PushChannel, requests transport.RequestClient, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := opts.Bus
	if b == nil {
		b = bus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		push:     push,
		requests: requests,
		bus:      b,
		machine:  opts.Status,
		logger:   logger,
		validate: newValidator(),
		me:       opts.LocalUserID,
		loop:     NewLoop(loopQueue),
		store:    store.New(b),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.typing = presence.NewTracker(presence.Config{
		Store:  s.store,
		Bus:    b,
		Push:   push,
		Logger: logger.Named("presence"),
		Post:   s.post,
		Quiet:  opts.TypingQuiet,
		Clock:  opts.Clock,
	})
	s.receipts = receipt.NewTracker(s.store, push, logger.Named("receipt"))
	s.engine = intsync.NewEngine(intsync.Config{
		Store:       s.store,
		Typing:      s.typing,
		Receipts:    s.receipts,
		LocalUserID: opts.LocalUserID,
		Post:        s.post,
		Refresh:     s.refresh,
		Logger:      logger.Named("sync"),
	})
	return s
}

// Bus returns the bus store changes are published on.
func (s *Session) Bus() *bus.Bus {
	return s.bus
}

// LocalUserID returns the id of the signed-in user.
func (s *Session) LocalUserID() string {
	return s.me
}

// Status returns the push channel connection state.
func (s *Session) Status() status.State {
	if s.machine == nil {
		return status.Idle
	}
	return s.machine.Current()
}

// Start runs the loop, attaches every push handler, connects the push
// channel and loads the chat list. A failed chat fetch is recorded as the
// session error but does not fail Start.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session already started")
	}
	go s.loop.Run()

	err := s.loop.Do(ctx, func() {
		s.engine.Start(s.push)
		s.offs = append(s.offs,
			s.push.OnConnect(func() { s.post(s.handleConnect) }),
			s.push.OnDisconnect(func(err error) {
				s.post(func() { s.handleDisconnect(err) })
			}),
		)
	})
	if err != nil {
		return fmt.Errorf("attach handlers: %w", err)
	}

	if err := s.push.Connect(ctx); err != nil {
		return fmt.Errorf("connect push channel: %w", err)
	}
	if err := s.FetchChats(ctx); err != nil {
		s.logger.Warn("initial chat fetch failed", zap.Error(err))
	}
	s.logger.Info("session started", zap.String("user_id", s.me))
	return nil
}

// Close detaches every handler, stops the typing timer, closes the push
// channel and the bus. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		detach := func() {
			s.engine.Stop()
			for _, off := range s.offs {
				off()
			}
			s.offs = nil
			s.typing.Close()
		}
		if s.started.Load() {
			if derr := s.loop.Do(context.Background(), detach); derr != nil {
				s.logger.Warn("detach on loop failed", zap.Error(derr))
			}
		} else {
			detach()
		}
		s.cancel()
		if s.push != nil {
			err = s.push.Close()
		}
		s.loop.Stop()
		if s.started.Load() {
			s.loop.Wait()
		}
		s.wg.Wait()
		s.bus.Close()
		s.logger.Info("session closed")
	})
	return err
}

// Snapshot returns the current view.
func (s *Session) Snapshot(ctx context.Context) (View, error) {
	var v View
	err := s.loop.Do(ctx, func() {
		v = View{
			Snapshot: s.store.Snapshot(),
			Typing:   s.typing.All(),
			Status:   s.Status(),
		}
	})
	return v, err
}

// FetchChats reloads the chat list. The response replaces the collection.
func (s *Session) FetchChats(ctx context.Context) error {
	chats, err := s.requests.FetchChats(ctx)
	return s.settle(ctx, "fetch chats", err, func() {
		s.store.LoadChats(chats)
	})
}

// SelectChat focuses chatID and loads its messages. A fetch that resolves
// after another chat was selected is discarded.
func (s *Session) SelectChat(ctx context.Context, chatID string) error {
	var (
		seq     uint64
		missing bool
	)
	err := s.loop.Do(ctx, func() {
		c, ok := s.store.Chat(chatID)
		if !ok {
			missing = true
			return
		}
		s.typing.StopTyping()
		prev := s.store.SetActive(c)
		if prev != "" {
			s.typing.ClearChat(prev)
		}
		s.typing.ClearChat(chatID)
		s.emit(transport.EmitJoinChat, wire.ChatRef{ChatID: chatID})
		s.receipts.AckRead(chatID)
		s.fetchSeq++
		seq = s.fetchSeq
		s.store.SetLoading(true)
	})
	if err != nil {
		return err
	}
	if missing {
		return s.reject(ctx, fmt.Errorf("select chat %s: %w", chatID, ErrUnknownChat))
	}
	return s.fetchMessages(ctx, chatID, seq)
}

func (s *Session) fetchMessages(ctx context.Context, chatID string, seq uint64) error {
	msgs, err := s.requests.FetchMessages(ctx, chatID)
	if err != nil {
		msg := transport.UserMessage(err)
		_ = s.loop.Do(ctx, func() {
			if seq != s.fetchSeq {
				return
			}
			s.store.SetLoading(false)
			s.store.SetError(msg)
		})
		s.logger.Warn("request failed", zap.String("op", "fetch messages"), zap.String("chat_id", chatID), zap.Error(err))
		return fmt.Errorf("fetch messages: %w", err)
	}
	return s.loop.Do(ctx, func() {
		if seq != s.fetchSeq || !s.store.IsActive(chatID) {
			s.logger.Debug("discarding stale message fetch", zap.String("chat_id", chatID))
			return
		}
		s.store.SetLoading(false)
		s.store.SetError("")
		s.store.ReplaceMessages(chatID, msgs)
	})
}

// ClearActiveChat unfocuses the active chat.
func (s *Session) ClearActiveChat(ctx context.Context) error {
	return s.loop.Do(ctx, func() {
		s.typing.StopTyping()
		if prev := s.store.ClearActive(); prev != "" {
			s.typing.ClearChat(prev)
		}
		s.fetchSeq++
	})
}

// SendMessage sends content to a chat and merges the returned message.
func (s *Session) SendMessage(ctx context.Context, in SendInput) (store.Message, error) {
	in.Content = strings.TrimSpace(in.Content)
	if in.Type == "" {
		in.Type = defaultMessageType
	}
	if err := s.loop.Do(ctx, func() {
		if in.ChatID == "" {
			in.ChatID = s.store.ActiveID()
		}
		if c, ok := s.store.Chat(in.ChatID); ok && in.ReceiverPhone == "" {
			in.ReceiverPhone = c.User.Phone
		}
	}); err != nil {
		return store.Message{}, err
	}
	if err := check(s.validate, in); err != nil {
		return store.Message{}, s.reject(ctx, err)
	}

	s.post(func() { s.store.SetSending(true) })
	defer s.post(func() { s.store.SetSending(false) })

	msg, err := s.requests.SendMessage(ctx, transport.SendRequest{
		ReceiverPhone: in.ReceiverPhone,
		Content:       in.Content,
		Type:          in.Type,
	})
	err = s.settle(ctx, "send message", err, func() {
		s.applyOwnMessage(msg)
	})
	return msg, err
}

func (s *Session) applyOwnMessage(m store.Message) {
	if _, ok := s.store.Chat(m.ChatID); !ok {
		s.refresh()
		return
	}
	s.store.MergeMessage(m)
	at := m.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	s.store.PatchPreview(m.ChatID, m.Content, &at)
}

// EditMessage replaces a message's content. The chat preview follows only
// when the message is the chat's newest.
func (s *Session) EditMessage(ctx context.Context, messageID, content string) (store.Message, error) {
	in := editInput{MessageID: messageID, Content: strings.TrimSpace(content)}
	if err := check(s.validate, in); err != nil {
		return store.Message{}, s.reject(ctx, err)
	}
	var isLast bool
	if err := s.loop.Do(ctx, func() { isLast = s.store.IsLastMessage(messageID) }); err != nil {
		return store.Message{}, err
	}

	msg, err := s.requests.EditMessage(ctx, transport.EditRequest{
		MessageID:     messageID,
		NewContent:    in.Content,
		IsLastMessage: isLast,
	})
	err = s.settle(ctx, "edit message", err, func() {
		if cur, ok := s.store.Message(messageID); ok && cur.IsDeletedForEveryone {
			return
		}
		text, edited := msg.Content, true
		if text == "" {
			text = in.Content
		}
		s.store.PatchMessage(messageID, store.MessagePatch{Content: &text, IsEdited: &edited})
		if isLast && s.store.IsLastMessage(messageID) {
			chatID := msg.ChatID
			if chatID == "" {
				chatID = s.store.ActiveID()
			}
			s.store.PatchPreview(chatID, text, nil)
		}
	})
	return msg, err
}

// DeleteForMe removes a message from the local list only.
func (s *Session) DeleteForMe(ctx context.Context, messageID string) error {
	if messageID == "" {
		return s.reject(ctx, &ValidationError{Field: "MessageID", Reason: "is required"})
	}
	err := s.requests.DeleteForMe(ctx, messageID)
	return s.settle(ctx, "delete message for me", err, func() {
		s.store.RemoveLocal(messageID)
	})
}

// DeleteForEveryone tombstones a message in place.
func (s *Session) DeleteForEveryone(ctx context.Context, messageID string) error {
	if messageID == "" {
		return s.reject(ctx, &ValidationError{Field: "MessageID", Reason: "is required"})
	}
	err := s.requests.DeleteForEveryone(ctx, messageID)
	return s.settle(ctx, "delete message for everyone", err, func() {
		m, ok := s.store.Message(messageID)
		if !ok {
			return
		}
		isLast := s.store.IsLastMessage(messageID)
		tombstone, deleted := store.TombstoneText, true
		s.store.PatchMessage(messageID, store.MessagePatch{Content: &tombstone, IsDeletedForEveryone: &deleted})
		if isLast {
			s.store.PatchPreview(m.ChatID, tombstone, nil)
		}
	})
}

// ClearChat deletes a chat's history on the backend and empties the list.
func (s *Session) ClearChat(ctx context.Context, chatID string) error {
	if chatID == "" {
		return s.reject(ctx, &ValidationError{Field: "ChatID", Reason: "is required"})
	}
	err := s.requests.ClearChat(ctx, chatID)
	return s.settle(ctx, "clear chat", err, func() {
		s.store.ClearMessages(chatID)
	})
}

// NormalizePhone keeps the last ten digits of raw.
func NormalizePhone(raw string) string {
	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}

// CreateChat starts a chat with a phone number, optionally saving a contact.
func (s *Session) CreateChat(ctx context.Context, in CreateChatInput) (store.Chat, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = NormalizePhone(in.Phone)
	if err := check(s.validate, in); err != nil {
		return store.Chat{}, s.reject(ctx, err)
	}
	chat, err := s.requests.CreateChat(ctx, transport.CreateChatRequest{
		Name:         in.Name,
		Phone:        in.Phone,
		IsNewContact: in.IsNewContact,
	})
	err = s.settle(ctx, "create chat", err, func() {
		chat = s.store.UpsertChat(chat)
	})
	return chat, err
}

// FetchContacts returns the user's contact list.
func (s *Session) FetchContacts(ctx context.Context) ([]store.Contact, error) {
	contacts, err := s.requests.FetchContacts(ctx)
	if err := s.settle(ctx, "fetch contacts", err, func() {}); err != nil {
		return nil, err
	}
	return contacts, nil
}

// MarkAllRead acknowledges every chat with unread messages and zeroes all
// counts. Returns the acknowledged chat ids.
func (s *Session) MarkAllRead(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.loop.Do(ctx, func() { ids = s.receipts.MarkAllRead() })
	return ids, err
}

// ComposerChanged reports a local edit of the active chat's composer.
func (s *Session) ComposerChanged(ctx context.Context) error {
	var active bool
	err := s.loop.Do(ctx, func() {
		chatID := s.store.ActiveID()
		if chatID == "" {
			return
		}
		active = true
		s.typing.Keystroke(chatID)
	})
	if err != nil {
		return err
	}
	if !active {
		return ErrNoActiveChat
	}
	return nil
}

func (s *Session) handleConnect() {
	s.connects++
	if s.connects == 1 {
		return
	}
	s.logger.Info("push channel reconnected, resyncing", zap.Int("connects", s.connects))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.resync(s.ctx)
	}()
}

func (s *Session) handleDisconnect(err error) {
	s.logger.Info("push channel disconnected", zap.Error(err))
}

// resync reloads chats and the active chat's messages after a reconnect,
// since push events missed while disconnected are not replayed.
func (s *Session) resync(ctx context.Context) {
	if err := s.FetchChats(ctx); err != nil {
		s.logger.Warn("resync chat fetch failed", zap.Error(err))
	}
	var (
		chatID string
		seq    uint64
	)
	err := s.loop.Do(ctx, func() {
		chatID = s.store.ActiveID()
		if chatID == "" {
			return
		}
		s.emit(transport.EmitJoinChat, wire.ChatRef{ChatID: chatID})
		s.fetchSeq++
		seq = s.fetchSeq
	})
	if err != nil {
		return
	}
	if chatID != "" {
		if err := s.fetchMessages(ctx, chatID, seq); err != nil {
			s.logger.Warn("resync message fetch failed", zap.Error(err))
		}
	}
	s.bus.Emit(bus.KindResynced, chatID)
}

// refresh re-fetches the chat list in the background. Called on the loop.
func (s *Session) refresh() {
	if s.ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.FetchChats(s.ctx); err != nil {
			s.logger.Debug("background chat refresh failed", zap.Error(err))
		}
	}()
}

// settle records the outcome of a request: on failure the session error is
// set and the wrapped error returned, on success apply runs on the loop.
func (s *Session) settle(ctx context.Context, op string, err error, apply func()) error {
	if err != nil {
		msg := transport.UserMessage(err)
		_ = s.loop.Do(ctx, func() { s.store.SetError(msg) })
		s.logger.Warn("request failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.loop.Do(ctx, func() {
		s.store.SetError("")
		apply()
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// reject records a local failure that never reached the backend.
func (s *Session) reject(ctx context.Context, err error) error {
	msg := err.Error()
	_ = s.loop.Do(ctx, func() { s.store.SetError(msg) })
	return err
}

func (s *Session) post(f func()) {
	if !s.loop.Post(f) {
		s.logger.Debug("loop closed, dropping task")
	}
}

func (s *Session) emit(event string, payload any) {
	if err := s.push.Emit(event, payload); err != nil {
		s.logger.Warn("push emit failed", zap.String("event", event), zap.Error(err))
	}
}
