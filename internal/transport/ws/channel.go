// Package ws implements transport.PushChannel over a gorilla/websocket
// connection carrying {"event": name, "data": payload} JSON frames.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// ErrNotConnected is returned by Emit while no connection is up.
var ErrNotConnected = errors.New("push channel not connected")

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("push channel closed")

// Frame is the envelope of every push message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type entry[T any] struct {
	id int
	fn T
}

// Channel is a reconnecting push channel. Handlers survive reconnects.
type Channel struct {
	url            string
	token          string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	machine        *status.Machine
	logger         *zap.Logger

	mu           sync.Mutex
	nextID       int
	handlers     map[string][]entry[transport.Handler]
	onConnect    []entry[func()]
	onDisconnect []entry[func(error)]
	conn         *websocket.Conn
	started      bool
	closed       bool
	cancel       context.CancelFunc

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// Option customizes a Channel.
type Option func(*Channel)

// WithReconnectDelay sets the fixed wait between redials.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Channel) { c.reconnectDelay = d }
}

// WithStatus reports lifecycle transitions to m.
func WithStatus(m *status.Machine) Option {
	return func(c *Channel) { c.machine = m }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// New creates a channel for rawURL authenticating with token.
func New(rawURL, token string, logger *zap.Logger, opts ...Option) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Channel{
		url:            rawURL,
		token:          token,
		reconnectDelay: 2 * time.Second,
		dialer:         websocket.DefaultDialer,
		logger:         logger,
		handlers:       make(map[string][]entry[transport.Handler]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ transport.PushChannel = (*Channel)(nil)

// Connect dials once using ctx and, on success, keeps the connection alive
// in the background until Close, redialing after each drop.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	c.transition(status.Connecting)
	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		c.transition(status.Error)
		return fmt.Errorf("connect push channel: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return ErrClosed
	}
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(runCtx, conn)
	return nil
}

// Close tears the connection down and stops redialing. Registered handlers
// are left in place; callers detach them with their off funcs.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	c.wg.Wait()
	c.transition(status.Stopped)
	return nil
}

// Emit sends one frame.
func (c *Channel) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	buf, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, buf); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// On registers h for event.
func (c *Channel) On(event string, h transport.Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.id()
	c.handlers[event] = append(c.handlers[event], entry[transport.Handler]{id: id, fn: h})
	return c.offFunc(func() {
		c.handlers[event] = without(c.handlers[event], id)
		if len(c.handlers[event]) == 0 {
			delete(c.handlers, event)
		}
	})
}

// OnConnect registers fn to run each time a connection comes up, before any
// frame of that connection is dispatched.
func (c *Channel) OnConnect(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.id()
	c.onConnect = append(c.onConnect, entry[func()]{id: id, fn: fn})
	return c.offFunc(func() { c.onConnect = without(c.onConnect, id) })
}

// OnDisconnect registers fn to run each time an established connection drops.
func (c *Channel) OnDisconnect(fn func(error)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.id()
	c.onDisconnect = append(c.onDisconnect, entry[func(error)]{id: id, fn: fn})
	return c.offFunc(func() { c.onDisconnect = without(c.onDisconnect, id) })
}

// Handlers reports how many event handlers are attached.
func (c *Channel) Handlers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, hs := range c.handlers {
		n += len(hs)
	}
	return n + len(c.onConnect) + len(c.onDisconnect)
}

func (c *Channel) id() int {
	c.nextID++
	return c.nextID
}

func (c *Channel) offFunc(remove func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			remove()
		})
	}
}

func without[T any](list []entry[T], id int) []entry[T] {
	out := list[:0:0]
	for _, e := range list {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}

func (c *Channel) transition(to status.State) {
	if c.machine == nil {
		return
	}
	if err := c.machine.Transition(to); err != nil {
		c.logger.Debug("status transition skipped", zap.Error(err))
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("parse push url: %w", err)
	}
	header := http.Header{}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial: %w", transport.ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

func (c *Channel) run(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		err := c.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("push channel dropped", zap.Error(err))
		c.fireDisconnect(err)
		c.transition(status.Reconnecting)

		conn = c.redial(ctx)
		if conn == nil {
			return
		}
	}
}

func (c *Channel) redial(ctx context.Context) *websocket.Conn {
	timer := time.NewTimer(c.reconnectDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		c.transition(status.Connecting)
		conn, err := c.dial(ctx)
		if err == nil {
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("push channel redial failed", zap.Error(err), zap.Duration("retry_in", c.reconnectDelay))
		c.transition(status.Reconnecting)
		timer.Reset(c.reconnectDelay)
	}
}

// serve owns one connection until it fails.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	c.transition(status.Live)
	c.fireConnect()

	stop := make(chan struct{})
	defer close(stop)
	go c.ping(conn, stop)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil || f.Event == "" {
			c.logger.Debug("ignoring malformed frame", zap.ByteString("frame", msg))
			continue
		}
		c.dispatch(f)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Channel) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Channel) dispatch(f Frame) {
	c.mu.Lock()
	hs := append([]entry[transport.Handler](nil), c.handlers[f.Event]...)
	c.mu.Unlock()
	if len(hs) == 0 {
		c.logger.Debug("no handler for event", zap.String("event", f.Event))
		return
	}
	for _, h := range hs {
		h.fn(f.Data)
	}
}

func (c *Channel) fireConnect() {
	c.mu.Lock()
	fns := append([]entry[func()](nil), c.onConnect...)
	c.mu.Unlock()
	for _, e := range fns {
		e.fn()
	}
}

func (c *Channel) fireDisconnect(err error) {
	c.mu.Lock()
	fns := append([]entry[func(error)](nil), c.onDisconnect...)
	c.mu.Unlock()
	for _, e := range fns {
		e.fn(err)
	}
}
