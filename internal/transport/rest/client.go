// Package rest implements transport.RequestClient over the backend's JSON HTTP API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/transport/wire"
	"go.uber.org/zap"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 8 << 20

// Client talks to the chat backend's REST routes.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	logger  *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a client for baseURL (for example http://localhost:5000/api)
// authenticating with a bearer token.
func New(baseURL, token string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: 15 * time.Second,
		http:    http.DefaultClient,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ transport.RequestClient = (*Client)(nil)

// FetchChats lists the user's chats.
func (c *Client) FetchChats(ctx context.Context) ([]store.Chat, error) {
	var resp wire.ChatsResponse
	if err := c.do(ctx, http.MethodGet, "/chats", nil, &resp); err != nil {
		return nil, err
	}
	chats := make([]store.Chat, 0, len(resp.Chats))
	for _, ch := range resp.Chats {
		chats = append(chats, ch.Store())
	}
	return chats, nil
}

// FetchMessages lists the messages of one chat.
func (c *Client) FetchMessages(ctx context.Context, chatID string) ([]store.Message, error) {
	var resp wire.MessagesResponse
	path := "/chats/" + url.PathEscape(chatID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	msgs := make([]store.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		sm := m.Store()
		if sm.ChatID == "" {
			sm.ChatID = chatID
		}
		msgs = append(msgs, sm)
	}
	return msgs, nil
}

// SendMessage sends content to the owner of receiverPhone.
func (c *Client) SendMessage(ctx context.Context, req transport.SendRequest) (store.Message, error) {
	body := wire.SendBody{ReceiverPhone: req.ReceiverPhone, Content: req.Content, Type: req.Type}
	return c.message(ctx, http.MethodPost, "/chats/send", body)
}

// EditMessage replaces the content of one of the user's messages.
func (c *Client) EditMessage(ctx context.Context, req transport.EditRequest) (store.Message, error) {
	body := wire.EditBody{MessageID: req.MessageID, NewContent: req.NewContent, IsLastMessage: req.IsLastMessage}
	return c.message(ctx, http.MethodPut, "/chats/edit-message", body)
}

// CreateChat opens a chat with the owner of a phone number.
func (c *Client) CreateChat(ctx context.Context, req transport.CreateChatRequest) (store.Chat, error) {
	var resp wire.ChatResponse
	body := wire.CreateChatBody{Name: req.Name, Phone: req.Phone, IsNewContact: req.IsNewContact}
	if err := c.do(ctx, http.MethodPost, "/chats/create", body, &resp); err != nil {
		return store.Chat{}, err
	}
	if resp.Chat == nil || resp.Chat.ChatID == "" {
		return store.Chat{}, &transport.RequestError{Op: "POST /chats/create", StatusCode: http.StatusOK, Message: "response has no chat"}
	}
	return resp.Chat.Store(), nil
}

// FetchContacts lists the user's contacts.
func (c *Client) FetchContacts(ctx context.Context) ([]store.Contact, error) {
	var resp wire.ContactsResponse
	if err := c.do(ctx, http.MethodGet, "/chats/contacts", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]store.Contact, 0, len(resp.Contacts))
	for _, ct := range resp.Contacts {
		out = append(out, ct.Store())
	}
	return out, nil
}

// DeleteForMe hides a message for the local user only.
func (c *Client) DeleteForMe(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodPut, "/chats/delete-for-me", wire.MessageRef{MessageID: messageID}, nil)
}

// DeleteForEveryone replaces a message with a tombstone for both parties.
func (c *Client) DeleteForEveryone(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodPut, "/chats/delete-for-everyone", wire.MessageRef{MessageID: messageID}, nil)
}

// ClearChat empties a chat's history.
func (c *Client) ClearChat(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodDelete, "/chats/"+url.PathEscape(chatID)+"/clear", nil, nil)
}

func (c *Client) message(ctx context.Context, method, path string, body any) (store.Message, error) {
	var resp wire.MessageResponse
	if err := c.do(ctx, method, path, body, &resp); err != nil {
		return store.Message{}, err
	}
	if resp.Message == nil || resp.Message.ID == "" {
		return store.Message{}, &transport.RequestError{Op: method + " " + path, StatusCode: http.StatusOK, Message: "response has no message"}
	}
	return resp.Message.Store(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return &transport.RequestError{Op: op, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &transport.RequestError{Op: op, StatusCode: resp.StatusCode, Message: "read body: " + err.Error()}
	}
	c.logger.Debug("request done",
		zap.String("op", op),
		zap.String("request_id", reqID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e wire.ErrorResponse
		_ = json.Unmarshal(raw, &e)
		return &transport.RequestError{Op: op, StatusCode: resp.StatusCode, Message: e.Message}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
