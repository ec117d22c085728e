package fakeserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport/wire"
)

func (s *Server) chatView(c *chat, viewer string) wire.Chat {
	p := s.users[c.peerOf(viewer)]
	view := wire.Chat{
		ChatID: c.id,
		User: wire.Peer{
			ID:       p.ID,
			Name:     p.Name,
			Phone:    p.Phone,
			IsOnline: p.Online,
		},
		UnreadCount: c.unread[viewer],
	}
	if !p.LastSeen.IsZero() {
		seen := p.LastSeen
		view.User.LastSeen = &seen
	}
	if msgs := c.visible(viewer); len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		view.LastMessage = last.Content
		view.LastMessageTime = last.CreatedAt
	}
	return view
}

func (s *Server) listChats(c *gin.Context) {
	me := uid(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []wire.Chat{}
	for _, id := range s.order {
		ch := s.chats[id]
		if ch.has(me) {
			out = append(out, s.chatView(ch, me))
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chats": out})
}

func (s *Server) listMessages(c *gin.Context) {
	me := uid(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.chats[c.Param("chatId")]
	if !ok || !ch.has(me) {
		abort(c, http.StatusNotFound, "Chat not found")
		return
	}
	out := []wire.Message{}
	for _, m := range ch.visible(me) {
		out = append(out, *m)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": out})
}

func (s *Server) listContacts(c *gin.Context) {
	me := uid(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []wire.Contact{}
	for _, ct := range s.contacts[me] {
		u := s.users[ct.userID]
		out = append(out, wire.Contact{ID: u.ID, Name: ct.name, Phone: u.Phone})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "contacts": out})
}

func (s *Server) sendMessage(c *gin.Context) {
	me := uid(c)
	var body wire.SendBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Content == "" || body.ReceiverPhone == "" {
		abort(c, http.StatusBadRequest, "receiverPhone and content are required")
		return
	}
	if body.Type == "" {
		body.Type = "text"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	peer, ok := s.byPhone[body.ReceiverPhone]
	if !ok {
		abort(c, http.StatusNotFound, "Receiver not found")
		return
	}
	m := s.post(s.ensureChat(me, peer), me, body.Content, body.Type)
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": m})
}

func (s *Server) findMessage(id string) (*chat, *wire.Message) {
	for _, ch := range s.chats {
		for _, m := range ch.messages {
			if m.ID == id {
				return ch, m
			}
		}
	}
	return nil, nil
}

func (s *Server) editMessage(c *gin.Context) {
	me := uid(c)
	var body wire.EditBody
	if err := c.ShouldBindJSON(&body); err != nil || body.MessageID == "" || body.NewContent == "" {
		abort(c, http.StatusBadRequest, "messageId and newContent are required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, m := s.findMessage(body.MessageID)
	if m == nil {
		abort(c, http.StatusNotFound, "Message not found")
		return
	}
	if m.Sender != me {
		abort(c, http.StatusForbidden, "You can only edit your own messages")
		return
	}
	if m.IsDeletedForEveryone {
		abort(c, http.StatusBadRequest, "Message was deleted")
		return
	}
	m.Content = body.NewContent
	m.IsEdited = true
	s.pushLocked(ch.peerOf(me), "message-updated", wire.Updated{
		MessageID:     m.ID,
		ChatID:        ch.id,
		NewContent:    m.Content,
		IsEdited:      true,
		IsLastMessage: body.IsLastMessage,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "message": m})
}

func (s *Server) createChat(c *gin.Context) {
	me := uid(c)
	var body wire.CreateChatBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Phone == "" {
		abort(c, http.StatusBadRequest, "phone is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	peer, ok := s.byPhone[body.Phone]
	if !ok {
		abort(c, http.StatusNotFound, "User not found")
		return
	}
	if peer == me {
		abort(c, http.StatusBadRequest, "Cannot create a chat with yourself")
		return
	}
	if body.Name != "" {
		s.contacts[me] = append(s.contacts[me], contact{userID: peer, name: body.Name})
	}
	ch := s.ensureChat(me, peer)
	c.JSON(http.StatusCreated, gin.H{"success": true, "chat": s.chatView(ch, me)})
}

func (s *Server) deleteForMe(c *gin.Context) {
	me := uid(c)
	var body wire.MessageRef
	if err := c.ShouldBindJSON(&body); err != nil || body.MessageID == "" {
		abort(c, http.StatusBadRequest, "messageId is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, m := s.findMessage(body.MessageID)
	if m == nil || !ch.has(me) {
		abort(c, http.StatusNotFound, "Message not found")
		return
	}
	ch.hidden[me][m.ID] = true
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) deleteForEveryone(c *gin.Context) {
	me := uid(c)
	var body wire.MessageRef
	if err := c.ShouldBindJSON(&body); err != nil || body.MessageID == "" {
		abort(c, http.StatusBadRequest, "messageId is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, m := s.findMessage(body.MessageID)
	if m == nil {
		abort(c, http.StatusNotFound, "Message not found")
		return
	}
	if m.Sender != me {
		abort(c, http.StatusForbidden, "You can only delete your own messages")
		return
	}
	m.IsDeletedForEveryone = true
	m.Content = store.TombstoneText
	s.pushLocked(ch.peerOf(me), "message-deleted-for-everyone", wire.Deleted{MessageID: m.ID, ChatID: ch.id})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) clearChat(c *gin.Context) {
	me := uid(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.chats[c.Param("chatId")]
	if !ok || !ch.has(me) {
		abort(c, http.StatusNotFound, "Chat not found")
		return
	}
	for _, m := range ch.messages {
		ch.hidden[me][m.ID] = true
	}
	ch.unread[me] = 0
	c.JSON(http.StatusOK, gin.H{"success": true})
}
