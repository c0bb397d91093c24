// Package hub abstracts the persistent bidirectional channel to the chat
// hub. The engine consumes the Channel interface only; WSChannel is the
// websocket reference implementation.
package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/FYLA-Organization/fylachat/internal/store"
)

// Push event names delivered by the hub.
const (
	EvtReceiveMessage    = "ReceiveMessage"
	EvtUserTyping        = "UserTyping"
	EvtUserStoppedTyping = "UserStoppedTyping"
	EvtMessageDelivered  = "MessageDelivered"
	EvtMessageRead       = "MessageRead"
	EvtMessagesRead      = "MessagesRead"
)

// Remote methods invoked on the hub.
const (
	MethodSendTyping = "SendTyping"
	MethodStopTyping = "StopTyping"
)

// Handler receives the raw payload of a single push event.
type Handler func(payload json.RawMessage)

// Channel is a persistent bidirectional connection to the chat hub. The
// transport is expected to attempt low-level reconnects on its own but gives
// no message-level guarantees; everything above that is the engine's job.
type Channel interface {
	// Start opens the connection using the given auth token.
	Start(ctx context.Context, token string) error
	// Stop closes the connection.
	Stop(ctx context.Context) error
	// Invoke calls a named remote method.
	Invoke(ctx context.Context, method string, args ...any) error
	// On registers a handler for a named push event and returns a disposer.
	On(event string, h Handler) func()
	// OnDisconnect registers a handler invoked when an established
	// connection is lost. Returns a disposer.
	OnDisconnect(h func(err error)) func()
}

// MessagePayload is the wire shape of a pushed chat message. Timestamps are
// ISO-8601 on the wire and unix milliseconds in the store.
type MessagePayload struct {
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

// ToStoreMessage converts the wire payload to a store message.
func (p *MessagePayload) ToStoreMessage() *store.Message {
	status := p.Status
	if status == "" {
		status = store.StatusSent
	}
	return &store.Message{
		ID:             p.ID,
		SenderID:       p.SenderID,
		ReceiverID:     p.ReceiverID,
		Content:        p.Content,
		Status:         status,
		IsRead:         p.IsRead,
		Timestamp:      p.Timestamp.UnixMilli(),
		AttachmentURL:  p.AttachmentURL,
		AttachmentType: p.AttachmentType,
		AttachmentSize: p.AttachmentSize,
		AttachmentName: p.AttachmentName,
	}
}

// Receipt is the payload of MessageDelivered and MessageRead events.
type Receipt struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// BulkReceipt is the payload of the MessagesRead event.
type BulkReceipt struct {
	MessageIDs []string `json:"messageIds"`
	UserID     string   `json:"userId"`
}

// TypingSignal is the payload of UserTyping and UserStoppedTyping events.
type TypingSignal struct {
	UserID string `json:"userId"`
}
