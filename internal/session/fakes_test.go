package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
)

type frame struct {
	event   string
	payload any
}

// fakePush is an in-memory transport.PushChannel.
type fakePush struct {
	mu           sync.Mutex
	next         int
	handlers     map[string]map[int]transport.Handler
	onConnect    map[int]func()
	onDisconnect map[int]func(error)
	frames       []frame
	connects     int
	closed       bool
	connectErr   error
}

func newFakePush() *fakePush {
	return &fakePush{
		handlers:     make(map[string]map[int]transport.Handler),
		onConnect:    make(map[int]func()),
		onDisconnect: make(map[int]func(error)),
	}
}

func (p *fakePush) Connect(context.Context) error {
	p.mu.Lock()
	if p.connectErr != nil {
		p.mu.Unlock()
		return p.connectErr
	}
	p.connects++
	p.mu.Unlock()
	p.fireConnect()
	return nil
}

func (p *fakePush) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePush) Emit(event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame{event, payload})
	return nil
}

func (p *fakePush) On(event string, h transport.Handler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	if p.handlers[event] == nil {
		p.handlers[event] = make(map[int]transport.Handler)
	}
	p.handlers[event][id] = h
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers[event], id)
	}
}

func (p *fakePush) OnConnect(fn func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.onConnect[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.onConnect, id)
	}
}

func (p *fakePush) OnDisconnect(fn func(error)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.onDisconnect[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.onDisconnect, id)
	}
}

func (p *fakePush) fireConnect() {
	p.mu.Lock()
	var fns []func()
	for _, fn := range p.onConnect {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (p *fakePush) deliver(event, data string) {
	p.mu.Lock()
	var hs []transport.Handler
	for _, h := range p.handlers[event] {
		hs = append(hs, h)
	}
	p.mu.Unlock()
	for _, h := range hs {
		h(json.RawMessage(data))
	}
}

func (p *fakePush) attached() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.onConnect) + len(p.onDisconnect)
	for _, hs := range p.handlers {
		n += len(hs)
	}
	return n
}

func (p *fakePush) count(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, f := range p.frames {
		if f.event == event {
			n++
		}
	}
	return n
}

// fakeRequests is an in-memory transport.RequestClient. FetchMessages for a
// chat listed in gates blocks until the gate is closed.
type fakeRequests struct {
	mu       sync.Mutex
	chats    []store.Chat
	messages map[string][]store.Message
	gates    map[string]chan struct{}
	started  chan string
	errs     map[string]error
	calls    map[string]int
	seq      int
}

func newFakeRequests(chats ...store.Chat) *fakeRequests {
	return &fakeRequests{
		chats:    chats,
		messages: make(map[string][]store.Message),
		gates:    make(map[string]chan struct{}),
		started:  make(chan string, 8),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (r *fakeRequests) enter(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[op]++
	return r.errs[op]
}

func (r *fakeRequests) called(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *fakeRequests) FetchChats(context.Context) ([]store.Chat, error) {
	if err := r.enter("chats"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Chat(nil), r.chats...), nil
}

func (r *fakeRequests) FetchMessages(ctx context.Context, chatID string) ([]store.Message, error) {
	if err := r.enter("messages"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	gate := r.gates[chatID]
	msgs := append([]store.Message(nil), r.messages[chatID]...)
	r.mu.Unlock()
	r.started <- chatID
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return msgs, nil
}

func (r *fakeRequests) SendMessage(_ context.Context, req transport.SendRequest) (store.Message, error) {
	if err := r.enter("send"); err != nil {
		return store.Message{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	m := store.Message{
		ID:        fmt.Sprintf("s%d", r.seq),
		Sender:    "me",
		Content:   req.Content,
		Type:      req.Type,
		CreatedAt: time.Now(),
		Status:    store.StatusSent,
	}
	for _, c := range r.chats {
		if c.User.Phone == req.ReceiverPhone {
			m.ChatID = c.ChatID
		}
	}
	return m, nil
}

func (r *fakeRequests) EditMessage(_ context.Context, req transport.EditRequest) (store.Message, error) {
	if err := r.enter("edit"); err != nil {
		return store.Message{}, err
	}
	return store.Message{ID: req.MessageID, ChatID: "C1", Content: req.NewContent, IsEdited: true}, nil
}

func (r *fakeRequests) CreateChat(_ context.Context, req transport.CreateChatRequest) (store.Chat, error) {
	if err := r.enter("create"); err != nil {
		return store.Chat{}, err
	}
	return store.Chat{ChatID: "new-" + req.Phone, User: store.Peer{ID: "u-" + req.Phone, Name: req.Name, Phone: req.Phone}}, nil
}

func (r *fakeRequests) FetchContacts(context.Context) ([]store.Contact, error) {
	if err := r.enter("contacts"); err != nil {
		return nil, err
	}
	return []store.Contact{{ID: "ana", Name: "Ana", Phone: "5550000002"}}, nil
}

func (r *fakeRequests) DeleteForMe(context.Context, string) error {
	return r.enter("delete-me")
}

func (r *fakeRequests) DeleteForEveryone(context.Context, string) error {
	return r.enter("delete-all")
}

func (r *fakeRequests) ClearChat(context.Context, string) error {
	return r.enter("clear")
}

type fakeTimer struct {
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	live := !t.stopped && !t.fired
	t.stopped = true
	return live
}

// fakeClock fires timers only when advanced. It is driven from the loop
// and the test goroutine, so it locks.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

var _ presence.Clock = (*fakeClock)(nil)

func (c *fakeClock) AfterFunc(d time.Duration, f func()) presence.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return &lockedTimer{mu: &c.mu, t: t}
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

type lockedTimer struct {
	mu *sync.Mutex
	t  *fakeTimer
}

func (l *lockedTimer) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.t.Stop()
}
