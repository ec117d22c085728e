package store

import (
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

func testStore(t *testing.T, chats ...Chat) *Store {
	t.Helper()
	s := New(bus.New())
	s.LoadChats(chats)
	return s
}

func ptr[T any](v T) *T { return &v }

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestLoadChatsIsAuthoritative(t *testing.T) {
	s := testStore(t, Chat{ChatID: "c1", UnreadCount: 2}, Chat{ChatID: "c2"})
	s.IncrementUnread("c2")
	s.IncrementUnread("c2")

	s.LoadChats([]Chat{{ChatID: "c1", UnreadCount: 5}, {ChatID: "c2", UnreadCount: 1}})

	c2, _ := s.Chat("c2")
	if c2.UnreadCount != 1 {
		t.Errorf("c2 unread = %d, want 1 (snapshot wins)", c2.UnreadCount)
	}
	c1, _ := s.Chat("c1")
	if c1.UnreadCount != 5 {
		t.Errorf("c1 unread = %d, want 5", c1.UnreadCount)
	}
}

func TestLoadChatsKeepsActiveAtZero(t *testing.T) {
	s := testStore(t, Chat{ChatID: "c1"})
	s.SetActive(Chat{ChatID: "c1"})

	s.LoadChats([]Chat{{ChatID: "c1", UnreadCount: 4}, {ChatID: "c2"}})

	c1, _ := s.Chat("c1")
	if c1.UnreadCount != 0 {
		t.Errorf("active chat unread = %d, want 0", c1.UnreadCount)
	}

	// An active chat the snapshot no longer lists stays reachable.
	s.LoadChats([]Chat{{ChatID: "c2"}})
	if _, ok := s.Active(); !ok {
		t.Fatal("active chat dropped by snapshot")
	}
}

func TestSetActiveResetsUnreadAndMessages(t *testing.T) {
	s := testStore(t, Chat{ChatID: "c1", UnreadCount: 3}, Chat{ChatID: "c2"})
	s.SetActive(Chat{ChatID: "c1"})
	s.AppendMessage(Message{ID: "m1", ChatID: "c1"})

	c1, _ := s.Chat("c1")
	if c1.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", c1.UnreadCount)
	}

	if prev := s.SetActive(Chat{ChatID: "c2"}); prev != "c1" {
		t.Errorf("prev = %q, want c1", prev)
	}
	if n := len(s.Messages()); n != 0 {
		t.Errorf("messages after switch = %d, want 0", n)
	}
}

func TestSetActiveUnknownChatIsAdded(t *testing.T) {
	s := testStore(t)
	s.SetActive(Chat{ChatID: "new", User: Peer{ID: "u9"}})
	if _, ok := s.Chat("new"); !ok {
		t.Fatal("selected chat not added to collection")
	}
}

func TestIncrementUnreadSkipsActiveAndUnknown(t *testing.T) {
	s := testStore(t, Chat{ChatID: "c1"}, Chat{ChatID: "c2"})
	s.SetActive(Chat{ChatID: "c1"})

	if s.IncrementUnread("c1") {
		t.Error("active chat should not be incremented")
	}
	if s.IncrementUnread("nope") {
		t.Error("unknown chat should not be incremented")
	}
	if !s.IncrementUnread("c2") {
		t.Error("inactive chat should be incremented")
	}
	c2, _ := s.Chat("c2")
	if c2.UnreadCount != 1 {
		t.Errorf("c2 unread = %d, want 1", c2.UnreadCount)
	}
}

func TestZeroAllUnread(t *testing.T) {
	s := testStore(t, Chat{ChatID: "c1", UnreadCount: 3}, Chat{ChatID: "c2"}, Chat{ChatID: "c3", UnreadCount: 1})

	got := s.ZeroAllUnread()
	if len(got) != 2 || got[0] != "c1" || got[1] != "c3" {
		t.Errorf("zeroed = %v, want [c1 c3]", got)
	}
	for _, c := range s.Chats() {
		if c.UnreadCount != 0 {
			t.Errorf("%s unread = %d, want 0", c.ChatID, c.UnreadCount)
		}
	}
}

func TestAppendMessageIdempotent(t *testing.T) {
	s := testStore(t, Chat{ChatID: "c1"})
	s.SetActive(Chat{ChatID: "c1"})

	for i := 0; i < 3; i++ {
		s.AppendMessage(Message{ID: "m1", ChatID: "c1", Content: "hi"})
	}
	s.AppendMessage(Message{ID: "m2", ChatID: "c1"})

	got := ids(s.Messages())
	if len(got) != 2 || got[0] != "m1" || got[1] != "m2" {
		t.Errorf("messages = %v, want [m1 m2]", got)
	}
}

func TestAppendMessageOtherChatIgnored(t *testing.T) {
	s := testStore(t, Chat{ChatID: "c1"}, Chat{ChatID: "c2"})
	s.SetActive(Chat{ChatID: "c1"})

	if s.AppendMessage(Message{ID: "m1", ChatID: "c2"}) {
		t.Error("message for an inactive chat should not be appended")
	}
}

func TestPatchMessageStatusNeverRegresses(t *testing.T) {
	s := testStore(t, Chat{ChatID: "c1"})
	s.SetActive(Chat{ChatID: "c1"})
	s.AppendMessage(Message{ID: "m1", ChatID: "c1"})

	steps := []struct {
		apply Status
		want  Status
	}{
		{StatusDelivered, StatusDelivered},
		{StatusSent, StatusDelivered},
		{StatusRead, StatusRead},
		{StatusDelivered, StatusRead},
	}
	for _, st := range steps {
		s.PatchMessage("m1", MessagePatch{Status: ptr(st.apply)})
		m, _ := s.Message("m1")
		if m.Status != st.want {
			t.Errorf("after %s status = %s, want %s", st.apply, m.Status, st.want)
		}
	}

	if s.PatchMessage("missing", MessagePatch{Content: ptr("x")}) {
		t.Error("patching an absent id should be a no-op")
	}
}

func TestRemoveLocalKeepsOrder(t *testing.T) {
	s := testStore(t, Chat{ChatID: "c1"})
	s.SetActive(Chat{ChatID: "c1"})
	for _, id := range []string{"m1", "m2", "m3"} {
		s.AppendMessage(Message{ID: id, ChatID: "c1"})
	}

	s.RemoveLocal("m2")

	got := ids(s.Messages())
	if len(got) != 2 || got[0] != "m1" || got[1] != "m3" {
		t.Errorf("messages = %v, want [m1 m3]", got)
	}
	// Removed ids can arrive again.
	if !s.AppendMessage(Message{ID: "m2", ChatID: "c1"}) {
		t.Error("re-append after local delete should succeed")
	}
}

func TestReplaceMessagesMergesInFlightArrivals(t *testing.T) {
	s := testStore(t, Chat{ChatID: "c1"})
	s.SetActive(Chat{ChatID: "c1"})
	s.AppendMessage(Message{ID: "live", ChatID: "c1"})
	s.AppendMessage(Message{ID: "m1", ChatID: "c1", Status: StatusRead})

	ok := s.ReplaceMessages("c1", []Message{
		{ID: "m0", ChatID: "c1"},
		{ID: "m1", ChatID: "c1", Status: StatusDelivered},
		{ID: "m1", ChatID: "c1"},
	})
	if !ok {
		t.Fatal("ReplaceMessages for active chat returned false")
	}

	got := ids(s.Messages())
	want := []string{"m0", "m1", "live"}
	if len(got) != len(want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("messages = %v, want %v", got, want)
		}
	}
	m1, _ := s.Message("m1")
	if m1.Status != StatusRead {
		t.Errorf("m1 status = %s, want read (no regression)", m1.Status)
	}
}

func TestReplaceMessagesStaleChatDiscarded(t *testing.T) {
	s := testStore(t, Chat{ChatID: "a"}, Chat{ChatID: "b"})
	s.SetActive(Chat{ChatID: "b"})

	if s.ReplaceMessages("a", []Message{{ID: "x", ChatID: "a"}}) {
		t.Error("result for inactive chat should be discarded")
	}
	if n := len(s.Messages()); n != 0 {
		t.Errorf("messages = %d, want 0", n)
	}
}

func TestMergeMessageKeepsTombstone(t *testing.T) {
	s := testStore(t, Chat{ChatID: "c1"})
	s.SetActive(Chat{ChatID: "c1"})
	s.AppendMessage(Message{ID: "m1", ChatID: "c1", Content: "hello"})
	s.PatchMessage("m1", MessagePatch{Content: ptr(TombstoneText), IsDeletedForEveryone: ptr(true)})

	s.MergeMessage(Message{ID: "m1", ChatID: "c1", Content: "hello"})

	m, _ := s.Message("m1")
	if !m.IsDeletedForEveryone || m.Content != TombstoneText {
		t.Errorf("got %+v, want tombstone preserved", m)
	}
}

func TestPatchMessageTombstoneIsFinal(t *testing.T) {
	s := testStore(t, Chat{ChatID: "c1"})
	s.SetActive(Chat{ChatID: "c1"})
	s.AppendMessage(Message{ID: "m1", ChatID: "c1", Content: "hello"})
	s.PatchMessage("m1", MessagePatch{IsDeletedForEveryone: ptr(true)})

	s.PatchMessage("m1", MessagePatch{Content: ptr("edited"), IsEdited: ptr(true), Status: ptr(StatusRead)})

	m, _ := s.Message("m1")
	if !m.IsDeletedForEveryone || m.Content != TombstoneText || m.IsEdited {
		t.Errorf("got %+v, want tombstone unchanged", m)
	}
	if m.Status != StatusRead {
		t.Errorf("status = %s, want read", m.Status)
	}
}

func TestReplaceMessagesKeepsLocalEdit(t *testing.T) {
	tests := []struct {
		name        string
		fetched     Message
		wantContent string
	}{
		{"fetch predates edit", Message{ID: "m1", ChatID: "c1", Content: "old"}, "new"},
		{"fetch carries edit", Message{ID: "m1", ChatID: "c1", Content: "newer", IsEdited: true}, "newer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testStore(t, Chat{ChatID: "c1"})
			s.SetActive(Chat{ChatID: "c1"})
			s.AppendMessage(Message{ID: "m1", ChatID: "c1", Content: "old"})
			s.PatchMessage("m1", MessagePatch{Content: ptr("new"), IsEdited: ptr(true)})

			s.ReplaceMessages("c1", []Message{tt.fetched})

			m, _ := s.Message("m1")
			if m.Content != tt.wantContent || !m.IsEdited {
				t.Errorf("got content=%q edited=%v, want %q edited", m.Content, m.IsEdited, tt.wantContent)
			}
		})
	}
}

func TestPatchPeerPresence(t *testing.T) {
	seen := time.UnixMilli(5000)
	s := testStore(t,
		Chat{ChatID: "c1", User: Peer{ID: "u1"}},
		Chat{ChatID: "c2", User: Peer{ID: "u2"}},
	)
	s.SetActive(Chat{ChatID: "c1"})

	if n := s.PatchPeerPresence("u1", false, seen); n != 1 {
		t.Errorf("patched = %d, want 1", n)
	}
	active, _ := s.Active()
	if active.User.IsOnline || !active.User.LastSeen.Equal(seen) {
		t.Errorf("active header = %+v, want offline, last seen %v", active.User, seen)
	}
}

func TestPatchPreviewWithoutTimestamp(t *testing.T) {
	at := time.UnixMilli(1000)
	s := testStore(t, Chat{ChatID: "c1", LastMessage: "old", LastMessageTime: at})

	s.PatchPreview("c1", "new", nil)

	c, _ := s.Chat("c1")
	if c.LastMessage != "new" || !c.LastMessageTime.Equal(at) {
		t.Errorf("got %q at %v, want new at %v", c.LastMessage, c.LastMessageTime, at)
	}
}

func TestSnapshotOrdersByLastMessageTime(t *testing.T) {
	s := testStore(t,
		Chat{ChatID: "old", LastMessageTime: time.UnixMilli(1)},
		Chat{ChatID: "new", LastMessageTime: time.UnixMilli(3)},
		Chat{ChatID: "mid", LastMessageTime: time.UnixMilli(2)},
	)
	snap := s.Snapshot()
	if snap.Chats[0].ChatID != "new" || snap.Chats[2].ChatID != "old" {
		t.Errorf("order = %s,%s,%s", snap.Chats[0].ChatID, snap.Chats[1].ChatID, snap.Chats[2].ChatID)
	}
	if snap.Active != nil {
		t.Error("no chat is active")
	}
}

func TestMutationsPublish(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("store.messages", 10)
	defer unsub()

	s := New(b)
	s.SetActive(Chat{ChatID: "c1"})
	s.AppendMessage(Message{ID: "m1", ChatID: "c1"})

	select {
	case evt := <-ch:
		if evt.Payload != "m1" {
			t.Errorf("payload = %v, want m1", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for store.messages")
	}
}
