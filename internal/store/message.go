package store

import "github.com/matheus3301/chatsync/internal/bus"

// AppendMessage appends m to the active message list. It is a no-op when a
// message with the same id is already present or when m belongs to another
// chat. Reports whether the list changed.
func (s *Store) AppendMessage(m Message) bool {
	if m.ID == "" || !s.IsActive(m.ChatID) {
		return false
	}
	if _, dup := s.msgByID[m.ID]; dup {
		return false
	}
	m.Status = m.Status.Normalize()
	s.messages = append(s.messages, &m)
	s.msgByID[m.ID] = &m
	s.bus.Emit(bus.KindMessages, m.ID)
	return true
}

// MergeMessage folds an authoritative copy of a message (an RPC result) into
// the active list: appended when absent, otherwise content flags are taken
// from m and status only moves forward.
func (s *Store) MergeMessage(m Message) bool {
	existing, ok := s.msgByID[m.ID]
	if !ok {
		return s.AppendMessage(m)
	}
	existing.Content = m.Content
	existing.IsEdited = existing.IsEdited || m.IsEdited
	existing.IsDeletedForEveryone = existing.IsDeletedForEveryone || m.IsDeletedForEveryone
	if existing.IsDeletedForEveryone {
		existing.Content = TombstoneText
	}
	existing.Status = maxStatus(existing.Status, m.Status)
	s.bus.Emit(bus.KindMessages, m.ID)
	return true
}

// ReplaceMessages installs a fetched message list for chatID. The fetch is
// the base; messages that landed locally while it was in flight and are
// missing from it are kept after it, and status never regresses for ids
// present in both. Returns false without touching anything when chatID is
// not the active chat.
func (s *Store) ReplaceMessages(chatID string, fetched []Message) bool {
	if !s.IsActive(chatID) {
		return false
	}
	prev := s.messages
	prevByID := s.msgByID

	s.messages = make([]*Message, 0, len(fetched)+len(prev))
	s.msgByID = make(map[string]*Message, len(fetched)+len(prev))
	for i := range fetched {
		m := fetched[i]
		if m.ID == "" || m.ChatID != chatID {
			continue
		}
		if _, dup := s.msgByID[m.ID]; dup {
			continue
		}
		m.Status = m.Status.Normalize()
		if old, ok := prevByID[m.ID]; ok {
			m.Status = maxStatus(old.Status, m.Status)
			if old.IsEdited && !m.IsEdited {
				m.Content = old.Content
				m.IsEdited = true
			}
			if old.IsDeletedForEveryone {
				m.IsDeletedForEveryone = true
				m.Content = TombstoneText
			}
		}
		s.messages = append(s.messages, &m)
		s.msgByID[m.ID] = &m
	}
	for _, old := range prev {
		if _, ok := s.msgByID[old.ID]; ok || old.ChatID != chatID {
			continue
		}
		s.messages = append(s.messages, old)
		s.msgByID[old.ID] = old
	}
	s.bus.Emit(bus.KindMessages, chatID)
	return true
}

// PatchMessage merges patch into the active-list message with the given id.
// Status moves forward only and a tombstone is final: once deleted for
// everyone, content and the edited flag no longer change. No-op when the id
// is not in the active list.
func (s *Store) PatchMessage(id string, patch MessagePatch) bool {
	m, ok := s.msgByID[id]
	if !ok {
		return false
	}
	if !m.IsDeletedForEveryone {
		if patch.Content != nil {
			m.Content = *patch.Content
		}
		if patch.IsEdited != nil {
			m.IsEdited = *patch.IsEdited
		}
		if patch.IsDeletedForEveryone != nil && *patch.IsDeletedForEveryone {
			m.IsDeletedForEveryone = true
			m.Content = TombstoneText
		}
	}
	if patch.Status != nil {
		m.Status = maxStatus(m.Status, *patch.Status)
	}
	s.bus.Emit(bus.KindMessages, id)
	return true
}

// RemoveLocal drops a message from the active list only.
func (s *Store) RemoveLocal(id string) bool {
	if _, ok := s.msgByID[id]; !ok {
		return false
	}
	delete(s.msgByID, id)
	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	s.bus.Emit(bus.KindMessages, id)
	return true
}

// ClearMessages empties the message list when chatID is the active chat.
func (s *Store) ClearMessages(chatID string) bool {
	if !s.IsActive(chatID) {
		return false
	}
	s.resetMessages()
	s.bus.Emit(bus.KindMessages, chatID)
	return true
}

// Message returns a copy of an active-list message.
func (s *Store) Message(id string) (Message, bool) {
	m, ok := s.msgByID[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Messages returns copies of the active list in arrival order.
func (s *Store) Messages() []Message {
	out := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, *m)
	}
	return out
}

// IsLastMessage reports whether id is the newest entry of the active list.
func (s *Store) IsLastMessage(id string) bool {
	n := len(s.messages)
	return n > 0 && s.messages[n-1].ID == id
}

// MarkOutgoingRead advances every message in the active list authored by
// localUserID to read. Returns how many messages changed.
func (s *Store) MarkOutgoingRead(localUserID string) int {
	n := 0
	for _, m := range s.messages {
		if m.Sender != localUserID || m.Status == StatusRead {
			continue
		}
		m.Status = StatusRead
		n++
	}
	if n > 0 {
		s.bus.Emit(bus.KindMessages, s.activeID)
	}
	return n
}

func (s *Store) resetMessages() {
	s.messages = nil
	s.msgByID = make(map[string]*Message)
}
