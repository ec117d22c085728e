package store

import (
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

// LoadChats replaces the chat collection wholesale with a fetched snapshot.
// The snapshot's unread counts win over locally accrued ones, except for the
// active chat, which always stays at zero. An active chat missing from the
// snapshot is kept so the pointer never dangles.
func (s *Store) LoadChats(chats []Chat) {
	var active *Chat
	if s.activeID != "" {
		active = s.chatByID[s.activeID]
	}

	s.chats = make([]*Chat, 0, len(chats))
	s.chatByID = make(map[string]*Chat, len(chats))
	for i := range chats {
		if chats[i].ChatID == "" {
			continue
		}
		if existing, dup := s.chatByID[chats[i].ChatID]; dup {
			*existing = chats[i]
			continue
		}
		c := chats[i]
		s.chats = append(s.chats, &c)
		s.chatByID[c.ChatID] = &c
	}

	if active != nil {
		if c, ok := s.chatByID[active.ChatID]; ok {
			c.UnreadCount = 0
		} else {
			active.UnreadCount = 0
			s.chats = append(s.chats, active)
			s.chatByID[active.ChatID] = active
		}
	}
	s.bus.Emit(bus.KindChats, len(s.chats))
}

// UpsertChat inserts c at the head of the collection, or patches the peer and
// preview of an existing entry with the same id. Returns the stored copy.
func (s *Store) UpsertChat(c Chat) Chat {
	if existing, ok := s.chatByID[c.ChatID]; ok {
		existing.User = c.User
		if !c.LastMessageTime.IsZero() || c.LastMessage != "" {
			existing.LastMessage = c.LastMessage
			existing.LastMessageTime = c.LastMessageTime
		}
		s.bus.Emit(bus.KindChats, c.ChatID)
		return *existing
	}
	if c.ChatID == s.activeID {
		c.UnreadCount = 0
	}
	stored := c
	s.chats = append([]*Chat{&stored}, s.chats...)
	s.chatByID[c.ChatID] = &stored
	s.bus.Emit(bus.KindChats, c.ChatID)
	return stored
}

// Chat returns a copy of the chat with the given id.
func (s *Store) Chat(chatID string) (Chat, bool) {
	c, ok := s.chatByID[chatID]
	if !ok {
		return Chat{}, false
	}
	return *c, true
}

// Chats returns copies of every chat in collection order.
func (s *Store) Chats() []Chat {
	out := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, *c)
	}
	return out
}

// ActiveID returns the focused chat id, or "" when none is focused.
func (s *Store) ActiveID() string {
	return s.activeID
}

// Active returns a copy of the focused chat.
func (s *Store) Active() (Chat, bool) {
	if s.activeID == "" {
		return Chat{}, false
	}
	return s.Chat(s.activeID)
}

// IsActive reports whether chatID is the focused chat.
func (s *Store) IsActive(chatID string) bool {
	return chatID != "" && chatID == s.activeID
}

// SetActive focuses c, adding it to the collection when unknown, resets its
// unread count and empties the message list until the fetch resolves.
// Returns the previously focused chat id.
func (s *Store) SetActive(c Chat) string {
	prev := s.activeID
	if _, ok := s.chatByID[c.ChatID]; !ok {
		s.UpsertChat(c)
	}
	s.activeID = c.ChatID
	s.chatByID[c.ChatID].UnreadCount = 0
	if prev != c.ChatID {
		s.resetMessages()
	}
	s.bus.Emit(bus.KindActive, c.ChatID)
	return prev
}

// ClearActive unsets the active chat pointer and its message list.
// Returns the previously focused chat id.
func (s *Store) ClearActive() string {
	prev := s.activeID
	if prev == "" {
		return ""
	}
	s.activeID = ""
	s.resetMessages()
	s.loading = false
	s.bus.Emit(bus.KindActive, "")
	return prev
}

// PatchPreview updates the chat's last message text. When at is nil the
// preview timestamp is left unchanged.
func (s *Store) PatchPreview(chatID, text string, at *time.Time) bool {
	c, ok := s.chatByID[chatID]
	if !ok {
		return false
	}
	c.LastMessage = text
	if at != nil {
		c.LastMessageTime = *at
	}
	s.bus.Emit(bus.KindChats, chatID)
	return true
}

// IncrementUnread adds one to an inactive chat's unread count. The active
// chat is never incremented.
func (s *Store) IncrementUnread(chatID string) bool {
	c, ok := s.chatByID[chatID]
	if !ok || chatID == s.activeID {
		return false
	}
	c.UnreadCount++
	s.bus.Emit(bus.KindChats, chatID)
	return true
}

// ResetUnread zeroes one chat's unread count.
func (s *Store) ResetUnread(chatID string) {
	c, ok := s.chatByID[chatID]
	if !ok || c.UnreadCount == 0 {
		return
	}
	c.UnreadCount = 0
	s.bus.Emit(bus.KindChats, chatID)
}

// ZeroAllUnread zeroes every unread count and returns, in collection order,
// the ids of chats whose count was above zero.
func (s *Store) ZeroAllUnread() []string {
	var ids []string
	for _, c := range s.chats {
		if c.UnreadCount > 0 {
			ids = append(ids, c.ChatID)
			c.UnreadCount = 0
		}
	}
	if len(ids) > 0 {
		s.bus.Emit(bus.KindChats, ids)
	}
	return ids
}

// PatchPeerPresence updates online state and last seen of userID in every
// chat referencing that user. Returns how many chats changed.
func (s *Store) PatchPeerPresence(userID string, online bool, lastSeen time.Time) int {
	if userID == "" {
		return 0
	}
	n := 0
	for _, c := range s.chats {
		if c.User.ID != userID {
			continue
		}
		c.User.IsOnline = online
		if !lastSeen.IsZero() {
			c.User.LastSeen = lastSeen
		}
		n++
	}
	if n > 0 {
		s.bus.Emit(bus.KindChats, userID)
	}
	return n
}
