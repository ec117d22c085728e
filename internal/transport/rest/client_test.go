package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matheus3301/chatsync/internal/fakeserver"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
)

type fixture struct {
	srv    *fakeserver.Server
	client *Client
	me     string
	peer   string
	chatID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := fakeserver.New()
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	me, token := srv.AddUser("Me", "5550000001")
	peer, _ := srv.AddUser("Ana", "5550000002")
	return &fixture{
		srv:    srv,
		client: New(hs.URL+"/api", token, nil),
		me:     me,
		peer:   peer,
		chatID: srv.Chat(me, peer),
	}
}

func TestFetchChatsAndMessages(t *testing.T) {
	f := newFixture(t)
	f.srv.Post(f.chatID, f.peer, "hello")
	ctx := context.Background()

	chats, err := f.client.FetchChats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 {
		t.Fatalf("chats = %d, want 1", len(chats))
	}
	c := chats[0]
	if c.ChatID != f.chatID || c.User.ID != f.peer || c.LastMessage != "hello" || c.UnreadCount != 1 {
		t.Errorf("chat = %+v", c)
	}

	msgs, err := f.client.FetchMessages(ctx, f.chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Sender != f.peer || msgs[0].Status != store.StatusSent {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestSendEditAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.client.SendMessage(ctx, transport.SendRequest{ReceiverPhone: "5550000002", Content: "hi", Type: "text"})
	if err != nil {
		t.Fatal(err)
	}
	if m.ID == "" || m.ChatID != f.chatID || m.Sender != f.me {
		t.Fatalf("sent = %+v", m)
	}

	edited, err := f.client.EditMessage(ctx, transport.EditRequest{MessageID: m.ID, NewContent: "hi there", IsLastMessage: true})
	if err != nil {
		t.Fatal(err)
	}
	if edited.Content != "hi there" || !edited.IsEdited {
		t.Errorf("edited = %+v", edited)
	}

	if err := f.client.DeleteForEveryone(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	stored, _ := f.srv.Message(m.ID)
	if !stored.IsDeletedForEveryone || stored.Content != store.TombstoneText {
		t.Errorf("stored = %+v, want tombstone", stored)
	}

	if err := f.client.DeleteForMe(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	msgs, err := f.client.FetchMessages(ctx, f.chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages after delete for me = %d, want 0", len(msgs))
	}
}

func TestCreateChatAndContacts(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser("Bo", "5550000003")
	ctx := context.Background()

	c, err := f.client.CreateChat(ctx, transport.CreateChatRequest{Name: "Bo", Phone: "5550000003", IsNewContact: true})
	if err != nil {
		t.Fatal(err)
	}
	if c.ChatID == "" || c.User.Phone != "5550000003" {
		t.Errorf("chat = %+v", c)
	}

	contacts, err := f.client.FetchContacts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 || contacts[0].Name != "Bo" {
		t.Errorf("contacts = %+v", contacts)
	}
}

func TestClearChat(t *testing.T) {
	f := newFixture(t)
	f.srv.Post(f.chatID, f.peer, "one")
	f.srv.Post(f.chatID, f.peer, "two")
	ctx := context.Background()

	if err := f.client.ClearChat(ctx, f.chatID); err != nil {
		t.Fatal(err)
	}
	msgs, err := f.client.FetchMessages(ctx, f.chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages = %d, want 0", len(msgs))
	}
}

func TestRequestErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.SendMessage(ctx, transport.SendRequest{ReceiverPhone: "0000000000", Content: "x", Type: "text"})
	var re *transport.RequestError
	if !errors.As(err, &re) {
		t.Fatalf("err = %T %v, want RequestError", err, err)
	}
	if re.StatusCode != http.StatusNotFound || re.Message != "Receiver not found" {
		t.Errorf("RequestError = %+v", re)
	}

	f.srv.FailNext("GET /api/chats", http.StatusServiceUnavailable, "maintenance")
	if _, err := f.client.FetchChats(ctx); transport.UserMessage(err) != "maintenance" {
		t.Errorf("err = %v, want maintenance", err)
	}
	if _, err := f.client.FetchChats(ctx); err != nil {
		t.Errorf("failure should only apply once: %v", err)
	}
}

func TestUnauthorized(t *testing.T) {
	f := newFixture(t)
	bad := New(f.client.baseURL, "garbage", nil)
	_, err := bad.FetchChats(context.Background())
	if !errors.Is(err, transport.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestRequestIDHeader(t *testing.T) {
	var got []string
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("X-Request-ID"))
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{"chats":[]}`))
	}))
	defer hs.Close()

	c := New(hs.URL, "tok", nil)
	for i := 0; i < 2; i++ {
		if _, err := c.FetchChats(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(got) != 2 || got[0] == "" || got[0] == got[1] {
		t.Errorf("request ids = %v, want two distinct ids", got)
	}
}
