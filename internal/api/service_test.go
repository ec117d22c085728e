package api

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/fakeserver"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/transport/rest"
	"github.com/matheus3301/chatsync/internal/transport/ws"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type env struct {
	srv    *fakeserver.Server
	client *Client
	me     string
	peer   string
	chatID string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	srv := fakeserver.New()
	hs := httptest.NewServer(srv.Handler())
	me, token := srv.AddUser("Me", "5550000001")
	peer, _ := srv.AddUser("Ana", "5550000002")
	chatID := srv.Chat(me, peer)

	b := bus.New()
	machine := status.NewMachine(b)
	push := ws.New("ws"+strings.TrimPrefix(hs.URL, "http")+"/ws", token, nil, ws.WithStatus(machine))
	sess := session.New(push, rest.New(hs.URL+"/api", token, nil), session.Options{
		LocalUserID: me,
		Bus:         b,
		Status:      machine,
	})
	if err := sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	RegisterControlServer(gs, NewControlService("test", sess, nil))
	go func() { _ = gs.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		gs.Stop()
		_ = sess.Close()
		srv.Close()
		hs.Close()
	})
	return &env{srv: srv, client: NewClient(conn), me: me, peer: peer, chatID: chatID}
}

func code(err error) codes.Code {
	return grpcstatus.Code(err)
}

func TestControlRoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	st, err := e.client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Profile != "test" || st.UserID != e.me {
		t.Errorf("status = %+v", st)
	}

	snap, err := e.client.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Chats) != 1 || snap.Chats[0].ChatID != e.chatID {
		t.Fatalf("chats = %+v", snap.Chats)
	}

	if err := e.client.SelectChat(ctx, e.chatID); err != nil {
		t.Fatal(err)
	}
	sent, err := e.client.SendMessage(ctx, SendArgs{Content: "hi there"})
	if err != nil {
		t.Fatal(err)
	}
	if sent["content"] != "hi there" {
		t.Errorf("sent = %v", sent)
	}

	snap, err = e.client.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.ActiveChatID != e.chatID || len(snap.Messages) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	id, _ := sent["_id"].(string)
	if _, ok := e.srv.Message(id); !ok {
		t.Errorf("backend has no message %q", id)
	}

	edited, err := e.client.EditMessage(ctx, id, "hi again")
	if err != nil {
		t.Fatal(err)
	}
	if edited["content"] != "hi again" || edited["isEdited"] != true {
		t.Errorf("edited = %v", edited)
	}

	if err := e.client.DeleteForEveryone(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := e.client.ClearActiveChat(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestControlErrorCodes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if err := e.client.ComposerChanged(ctx); code(err) != codes.FailedPrecondition {
		t.Errorf("composer without chat = %v", err)
	}
	if err := e.client.SelectChat(ctx, "missing"); code(err) != codes.NotFound {
		t.Errorf("select missing = %v", err)
	}
	if _, err := e.client.CreateChat(ctx, CreateChatArgs{Phone: "12"}); code(err) != codes.InvalidArgument {
		t.Errorf("short phone = %v", err)
	}

	e.srv.FailNext("GET /api/chats", 503, "maintenance")
	if err := e.client.RefreshChats(ctx); code(err) != codes.Unavailable {
		t.Errorf("refresh during outage = %v", err)
	}
	snap, err := e.client.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.LastError != "maintenance" {
		t.Errorf("last error = %q", snap.LastError)
	}
}

func TestCreateChatAndContacts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.srv.AddUser("Zoe", "5550000009")

	chat, err := e.client.CreateChat(ctx, CreateChatArgs{Name: "Zoe", Phone: "(555) 000-0009", IsNewContact: true})
	if err != nil {
		t.Fatal(err)
	}
	if chat["chatId"] == "" {
		t.Errorf("chat = %v", chat)
	}

	contacts, err := e.client.FetchContacts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts.Contacts) == 0 {
		t.Error("expected the new contact")
	}

	read, err := e.client.MarkAllRead(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if read.ChatIDs == nil {
		t.Error("chat ids should be an empty list, not null")
	}
}

func TestWatchEvents(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan EventReply, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- e.client.Watch(ctx, bus.KindChats, func(evt EventReply) error {
			got <- evt
			return nil
		})
	}()

	deadline := time.After(4 * time.Second)
	for {
		e.srv.Post(e.chatID, e.peer, "ping")
		select {
		case evt := <-got:
			if evt.Kind != bus.KindChats || evt.ID == "" {
				t.Errorf("event = %+v", evt)
			}
			cancel()
			if err := <-errc; err != nil && code(err) != codes.Canceled && !errors.Is(err, context.Canceled) {
				t.Errorf("watch ended with %v", err)
			}
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}
