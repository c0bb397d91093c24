// Package rest is the client for the platform's chat REST endpoints: room
// list, message history, sends and read receipts. The hub carries push
// events; everything request/response shaped goes through here.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FYLA-Organization/fylachat/internal/store"
)

// SendRequest describes an outgoing message.
type SendRequest struct {
	ReceiverID     string `json:"receiverId"`
	Content        string `json:"content"`
	AttachmentURL  string `json:"attachmentUrl,omitempty"`
	AttachmentType string `json:"attachmentType,omitempty"`
	AttachmentSize int64  `json:"attachmentSize,omitempty"`
	AttachmentName string `json:"attachmentName,omitempty"`
}

// Client is the REST collaborator consumed by the engine.
type Client interface {
	SetToken(token string)
	FetchRooms(ctx context.Context) ([]store.Room, error)
	FetchHistory(ctx context.Context, peerID string) ([]*store.Message, error)
	SendMessage(ctx context.Context, req SendRequest) (*store.Message, error)
	MarkRead(ctx context.Context, messageID string) error
	MarkAllRead(ctx context.Context, peerID string) error
	FetchUnreadCount(ctx context.Context) (int, error)
}

// messageDTO is the wire shape of a message; timestamps are ISO-8601.
type messageDTO struct {
	ID             string    `json:"id"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	IsRead         bool      `json:"isRead"`
	Status         string    `json:"status"`
	AttachmentURL  string    `json:"attachmentUrl,omitempty"`
	AttachmentType string    `json:"attachmentType,omitempty"`
	AttachmentSize int64     `json:"attachmentSize,omitempty"`
	AttachmentName string    `json:"attachmentName,omitempty"`
}

func (d *messageDTO) toStore() *store.Message {
	status := d.Status
	if status == "" {
		status = store.StatusSent
	}
	return &store.Message{
		ID:             d.ID,
		SenderID:       d.SenderID,
		ReceiverID:     d.ReceiverID,
		Content:        d.Content,
		Status:         status,
		IsRead:         d.IsRead,
		Timestamp:      d.Timestamp.UnixMilli(),
		AttachmentURL:  d.AttachmentURL,
		AttachmentType: d.AttachmentType,
		AttachmentSize: d.AttachmentSize,
		AttachmentName: d.AttachmentName,
	}
}

type roomDTO struct {
	PeerID        string `json:"peerId"`
	PeerName      string `json:"peerName"`
	PeerAvatarURL string `json:"peerAvatarUrl,omitempty"`
	LastMessage   *struct {
		ID        string    `json:"id"`
		Content   string    `json:"content"`
		SenderID  string    `json:"senderId"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"lastMessage,omitempty"`
	UnreadCount int `json:"unreadCount"`
}

func (d *roomDTO) toStore() store.Room {
	r := store.Room{
		PeerID:        d.PeerID,
		PeerName:      d.PeerName,
		PeerAvatarURL: d.PeerAvatarURL,
		UnreadCount:   d.UnreadCount,
	}
	if d.LastMessage != nil {
		r.LastMessageID = d.LastMessage.ID
		r.LastMessageContent = d.LastMessage.Content
		r.LastMessageSenderID = d.LastMessage.SenderID
		r.LastMessageAt = d.LastMessage.Timestamp.UnixMilli()
	}
	return r
}

// HTTPClient talks JSON over HTTP with a bearer token.
type HTTPClient struct {
	base   string
	http   *http.Client
	logger *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewHTTPClient creates a client for the given API base URL.
func NewHTTPClient(base string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		base:   base,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// SetToken binds the auth token used on subsequent requests.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// FetchRooms returns the full conversation room list.
func (c *HTTPClient) FetchRooms(ctx context.Context) ([]store.Room, error) {
	var dtos []roomDTO
	if err := c.do(ctx, http.MethodGet, "/api/chat/rooms", nil, &dtos); err != nil {
		return nil, fmt.Errorf("fetch rooms: %w", err)
	}
	rooms := make([]store.Room, len(dtos))
	for i := range dtos {
		rooms[i] = dtos[i].toStore()
	}
	return rooms, nil
}

// FetchHistory returns the message history with a peer.
func (c *HTTPClient) FetchHistory(ctx context.Context, peerID string) ([]*store.Message, error) {
	var dtos []messageDTO
	path := "/api/chat/messages/" + url.PathEscape(peerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &dtos); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	msgs := make([]*store.Message, len(dtos))
	for i := range dtos {
		msgs[i] = dtos[i].toStore()
	}
	return msgs, nil
}

// SendMessage posts a message and returns the server-confirmed record.
func (c *HTTPClient) SendMessage(ctx context.Context, req SendRequest) (*store.Message, error) {
	var dto messageDTO
	if err := c.do(ctx, http.MethodPost, "/api/chat/messages", req, &dto); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return dto.toStore(), nil
}

// MarkRead reports a single message as read.
func (c *HTTPClient) MarkRead(ctx context.Context, messageID string) error {
	path := "/api/chat/messages/" + url.PathEscape(messageID) + "/read"
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// MarkAllRead reports every message from a peer as read.
func (c *HTTPClient) MarkAllRead(ctx context.Context, peerID string) error {
	path := "/api/chat/rooms/" + url.PathEscape(peerID) + "/read"
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

// FetchUnreadCount returns the global unread count.
func (c *HTTPClient) FetchUnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chat/unread-count", nil, &out); err != nil {
		return 0, fmt.Errorf("fetch unread count: %w", err)
	}
	return out.Count, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
