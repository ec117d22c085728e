// Package fakeserver is an in-process chat backend speaking the same REST
// routes and push frames as the real one. Tests mount it on httptest.
package fakeserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport/wire"
)

// Secret signs the tokens handed out by AddUser.
const Secret = "fakeserver-secret"

// Frame is the push envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Received is a frame a client sent to the server.
type Received struct {
	UserID string
	Event  string
	Data   json.RawMessage
}

// User is a registered account.
type User struct {
	ID       string
	Name     string
	Phone    string
	Online   bool
	LastSeen time.Time
}

type contact struct {
	userID string
	name   string
}

type chat struct {
	id       string
	members  [2]string
	messages []*wire.Message
	hidden   map[string]map[string]bool
	unread   map[string]int
}

func (c *chat) peerOf(userID string) string {
	if c.members[0] == userID {
		return c.members[1]
	}
	return c.members[0]
}

func (c *chat) has(userID string) bool {
	return c.members[0] == userID || c.members[1] == userID
}

func (c *chat) visible(userID string) []*wire.Message {
	var out []*wire.Message
	for _, m := range c.messages {
		if !c.hidden[userID][m.ID] {
			out = append(out, m)
		}
	}
	return out
}

type failure struct {
	code int
	msg  string
}

// Server is the fake backend.
type Server struct {
	mu       sync.Mutex
	seq      int
	users    map[string]*User
	byPhone  map[string]string
	contacts map[string][]contact
	chats    map[string]*chat
	order    []string
	clients  map[string]map[*client]struct{}
	received []Received
	hits     map[string]int
	failures map[string]failure
	now      func() time.Time

	engine *gin.Engine
}

// New builds an empty backend.
func New() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		users:    make(map[string]*User),
		byPhone:  make(map[string]string),
		contacts: make(map[string][]contact),
		chats:    make(map[string]*chat),
		clients:  make(map[string]map[*client]struct{}),
		hits:     make(map[string]int),
		failures: make(map[string]failure),
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}

	r := gin.New()
	r.Use(gin.Recovery())
	api := r.Group("/api", s.authenticate, s.injectFailures)
	api.GET("/chats", s.listChats)
	api.GET("/chats/contacts", s.listContacts)
	api.GET("/chats/:chatId/messages", s.listMessages)
	api.POST("/chats/send", s.sendMessage)
	api.PUT("/chats/edit-message", s.editMessage)
	api.POST("/chats/create", s.createChat)
	api.PUT("/chats/delete-for-me", s.deleteForMe)
	api.PUT("/chats/delete-for-everyone", s.deleteForEveryone)
	api.DELETE("/chats/:chatId/clear", s.clearChat)
	r.GET("/ws", s.authenticate, s.serveWS)
	s.engine = r
	return s
}

// Handler returns the HTTP handler to mount.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s%d", prefix, s.seq)
}

// AddUser registers an account and returns its id and bearer token.
func (s *Server) AddUser(name, phone string) (string, string) {
	s.mu.Lock()
	id := s.nextID("u")
	s.users[id] = &User{ID: id, Name: name, Phone: phone}
	s.byPhone[phone] = id
	s.mu.Unlock()

	tok, err := auth.Sign(Secret, id, time.Hour)
	if err != nil {
		panic(err)
	}
	return id, tok
}

// Chat returns the id of the chat between a and b, creating it if needed.
func (s *Server) Chat(a, b string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureChat(a, b).id
}

func (s *Server) ensureChat(a, b string) *chat {
	for _, id := range s.order {
		c := s.chats[id]
		if c.has(a) && c.has(b) {
			return c
		}
	}
	c := &chat{
		id:      s.nextID("c"),
		members: [2]string{a, b},
		hidden:  map[string]map[string]bool{a: {}, b: {}},
		unread:  map[string]int{},
	}
	s.chats[c.id] = c
	s.order = append(s.order, c.id)
	return c
}

// Post stores a message from sender in chatID and pushes receive-message to
// the other member, exactly as the send route does.
func (s *Server) Post(chatID, sender, content string) wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chats[chatID]
	return *s.post(c, sender, content, "text")
}

func (s *Server) post(c *chat, sender, content, typ string) *wire.Message {
	now := s.now()
	m := &wire.Message{
		ID:        s.nextID("m"),
		ChatID:    c.id,
		Sender:    sender,
		Content:   content,
		Type:      typ,
		CreatedAt: &now,
		Status:    string(store.StatusSent),
	}
	c.messages = append(c.messages, m)
	peer := c.peerOf(sender)
	c.unread[peer]++
	s.pushLocked(peer, "receive-message", m)
	return m
}

// Push sends a frame to every socket of userID.
func (s *Server) Push(userID, event string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushLocked(userID, event, data)
}

func (s *Server) pushLocked(userID, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	buf, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		panic(err)
	}
	for cl := range s.clients[userID] {
		select {
		case cl.send <- buf:
		default:
		}
	}
}

// Message returns a copy of a stored message.
func (s *Server) Message(id string) (wire.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chats {
		for _, m := range c.messages {
			if m.ID == id {
				return *m, true
			}
		}
	}
	return wire.Message{}, false
}

// Received returns the frames clients have sent.
func (s *Server) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.received...)
}

// ReceivedEvents returns the frames of one event name.
func (s *Server) ReceivedEvents(event string) []Received {
	var out []Received
	for _, r := range s.Received() {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out
}

// Connections reports how many sockets userID has open.
func (s *Server) Connections(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients[userID])
}

// Drop closes every socket of userID without notice.
func (s *Server) Drop(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cl := range s.clients[userID] {
		_ = cl.conn.Close()
	}
}

// Close closes every open socket.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range s.clients {
		for cl := range set {
			_ = cl.conn.Close()
		}
	}
}

// Hits reports how many times a route ("GET /api/chats") was called.
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

// FailNext makes the next call of route answer code with msg.
func (s *Server) FailNext(route string, code int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = failure{code: code, msg: msg}
}

func abort(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, wire.ErrorResponse{Success: false, Message: msg})
}

func (s *Server) authenticate(c *gin.Context) {
	token := c.Query("token")
	if h := c.GetHeader("Authorization"); token == "" && strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		abort(c, http.StatusUnauthorized, "Not authorized, no token")
		return
	}
	uid, err := auth.Verify(Secret, token)
	if err != nil {
		abort(c, http.StatusUnauthorized, "Not authorized, token failed")
		return
	}
	s.mu.Lock()
	_, ok := s.users[uid]
	s.mu.Unlock()
	if !ok {
		abort(c, http.StatusUnauthorized, "User not found")
		return
	}
	c.Set("uid", uid)
	c.Next()
}

func (s *Server) injectFailures(c *gin.Context) {
	route := c.Request.Method + " " + c.FullPath()
	s.mu.Lock()
	s.hits[route]++
	f, ok := s.failures[route]
	delete(s.failures, route)
	s.mu.Unlock()
	if ok {
		abort(c, f.code, f.msg)
		return
	}
	c.Next()
}

func uid(c *gin.Context) string {
	return c.GetString("uid")
}
