package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client talks to a daemon's Control service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, args, out any) error {
	var in proto.Message = &emptypb.Empty{}
	if args != nil {
		s, err := Encode(args)
		if err != nil {
			return err
		}
		in = s
	}
	var resp proto.Message = &emptypb.Empty{}
	if out != nil {
		resp = new(structpb.Struct)
	}
	if err := c.conn.Invoke(ctx, fullMethod(method), in, resp); err != nil {
		return err
	}
	if out != nil {
		return Decode(resp.(*structpb.Struct), out)
	}
	return nil
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (StatusReply, error) {
	var out StatusReply
	err := c.invoke(ctx, "GetStatus", nil, &out)
	return out, err
}

// Snapshot returns the session view.
func (c *Client) Snapshot(ctx context.Context) (SnapshotReply, error) {
	var out SnapshotReply
	err := c.invoke(ctx, "GetSnapshot", nil, &out)
	return out, err
}

// RefreshChats reloads the chat list.
func (c *Client) RefreshChats(ctx context.Context) error {
	return c.invoke(ctx, "RefreshChats", nil, nil)
}

// SelectChat focuses a chat.
func (c *Client) SelectChat(ctx context.Context, chatID string) error {
	return c.invoke(ctx, "SelectChat", ChatArgs{ChatID: chatID}, nil)
}

// ClearActiveChat unfocuses the active chat.
func (c *Client) ClearActiveChat(ctx context.Context) error {
	return c.invoke(ctx, "ClearActiveChat", nil, nil)
}

// SendMessage sends a message.
func (c *Client) SendMessage(ctx context.Context, args SendArgs) (map[string]any, error) {
	var out map[string]any
	err := c.invoke(ctx, "SendMessage", args, &out)
	return out, err
}

// EditMessage edits a message.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) (map[string]any, error) {
	var out map[string]any
	err := c.invoke(ctx, "EditMessage", EditArgs{MessageID: messageID, Content: content}, &out)
	return out, err
}

// DeleteForMe removes a message locally.
func (c *Client) DeleteForMe(ctx context.Context, messageID string) error {
	return c.invoke(ctx, "DeleteForMe", MessageArgs{MessageID: messageID}, nil)
}

// DeleteForEveryone tombstones a message for both parties.
func (c *Client) DeleteForEveryone(ctx context.Context, messageID string) error {
	return c.invoke(ctx, "DeleteForEveryone", MessageArgs{MessageID: messageID}, nil)
}

// ClearChat empties a chat's history.
func (c *Client) ClearChat(ctx context.Context, chatID string) error {
	return c.invoke(ctx, "ClearChat", ChatArgs{ChatID: chatID}, nil)
}

// CreateChat starts a chat.
func (c *Client) CreateChat(ctx context.Context, args CreateChatArgs) (map[string]any, error) {
	var out map[string]any
	err := c.invoke(ctx, "CreateChat", args, &out)
	return out, err
}

// FetchContacts lists contacts.
func (c *Client) FetchContacts(ctx context.Context) (ContactsReply, error) {
	var out ContactsReply
	err := c.invoke(ctx, "FetchContacts", nil, &out)
	return out, err
}

// MarkAllRead acknowledges every unread chat.
func (c *Client) MarkAllRead(ctx context.Context) (MarkAllReadReply, error) {
	var out MarkAllReadReply
	err := c.invoke(ctx, "MarkAllRead", nil, &out)
	return out, err
}

// ComposerChanged signals typing in the active chat.
func (c *Client) ComposerChanged(ctx context.Context) error {
	return c.invoke(ctx, "ComposerChanged", nil, nil)
}

// Watch streams events under namespace to fn until ctx ends, fn returns an
// error or the daemon closes the stream.
func (c *Client) Watch(ctx context.Context, namespace string, fn func(EventReply) error) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("WatchEvents"))
	if err != nil {
		return fmt.Errorf("open watch: %w", err)
	}
	in, err := Encode(WatchArgs{Namespace: namespace})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return fmt.Errorf("send watch args: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close send: %w", err)
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var evt EventReply
		if err := Decode(msg, &evt); err != nil {
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
