package fakeserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

func (s *Server) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	cl := &client{userID: uid(c), conn: conn, send: make(chan []byte, 256)}
	s.register(cl)
	go s.writePump(cl)
	go s.readPump(cl)
}

func (s *Server) peersLocked(userID string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, ch := range s.chats {
		if ch.has(userID) {
			out[ch.peerOf(userID)] = struct{}{}
		}
	}
	return out
}

func (s *Server) broadcastPresenceLocked(u *User) {
	ev := wire.UserStatus{UserID: u.ID, IsOnline: u.Online}
	if !u.LastSeen.IsZero() {
		seen := u.LastSeen
		ev.LastSeen = &seen
	}
	for peer := range s.peersLocked(u.ID) {
		s.pushLocked(peer, "user-status", ev)
	}
}

func (s *Server) register(cl *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[cl.userID] == nil {
		s.clients[cl.userID] = make(map[*client]struct{})
	}
	s.clients[cl.userID][cl] = struct{}{}
	if u := s.users[cl.userID]; !u.Online {
		u.Online = true
		s.broadcastPresenceLocked(u)
	}
}

func (s *Server) unregister(cl *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.clients[cl.userID]
	if !ok {
		return
	}
	if _, ok := set[cl]; !ok {
		return
	}
	delete(set, cl)
	close(cl.send)
	if len(set) == 0 {
		delete(s.clients, cl.userID)
		u := s.users[cl.userID]
		u.Online = false
		u.LastSeen = s.now()
		s.broadcastPresenceLocked(u)
	}
}

func (s *Server) readPump(cl *client) {
	defer func() {
		s.unregister(cl)
		_ = cl.conn.Close()
	}()
	cl.conn.SetReadLimit(maxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			continue
		}
		s.handleFrame(cl.userID, f)
	}
}

func (s *Server) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleFrame(me string, f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, Received{UserID: me, Event: f.Event, Data: f.Data})

	var ref struct {
		ChatID    string `json:"chatId"`
		MessageID string `json:"messageId"`
	}
	_ = json.Unmarshal(f.Data, &ref)

	switch f.Event {
	case "typing-start", "typing-stop":
		ch, ok := s.chats[ref.ChatID]
		if !ok || !ch.has(me) {
			return
		}
		event := "user-typing"
		if f.Event == "typing-stop" {
			event = "user-typing-stop"
		}
		s.pushLocked(ch.peerOf(me), event, wire.Typing{UserID: me, ChatID: ch.id})

	case "message_delivered":
		ch, m := s.findMessage(ref.MessageID)
		if m == nil || m.Sender == me || !ch.has(me) {
			return
		}
		if store.Status(m.Status).Rank() < store.StatusDelivered.Rank() {
			m.Status = string(store.StatusDelivered)
		}
		s.pushLocked(m.Sender, "message_delivered", wire.Delivered{
			MessageID: m.ID,
			ChatID:    ch.id,
			Status:    string(store.StatusDelivered),
		})

	case "mark_messages_read":
		ch, ok := s.chats[ref.ChatID]
		if !ok || !ch.has(me) {
			return
		}
		for _, m := range ch.messages {
			if m.Sender != me {
				m.Status = string(store.StatusRead)
			}
		}
		ch.unread[me] = 0
		s.pushLocked(ch.peerOf(me), "messages_read", wire.Read{ChatID: ch.id, ReadBy: me})
	}
}
