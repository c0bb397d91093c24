package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message delivery statuses. A message only ever moves forward through
// sent -> delivered -> read.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// TempIDPrefix marks locally-generated ids of optimistic messages that have
// not been confirmed by the server yet.
const TempIDPrefix = "temp_"

// Message is a chat message in the session store. Timestamps are unix
// milliseconds. Seq is the stable arrival-order position; reconciliation
// replaces a row in place without changing it.
type Message struct {
	Seq            int64
	ID             string
	SenderID       string
	ReceiverID     string
	Content        string
	Status         string
	IsRead         bool
	Timestamp      int64
	DeliveredAt    int64
	ReadAt         int64
	AttachmentURL  string
	AttachmentType string
	AttachmentSize int64
	AttachmentName string
}

// IsTemp reports whether the message still carries a temporary local id.
func (m *Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Room is a 1:1 conversation summary keyed by the peer's user id.
type Room struct {
	PeerID              string
	PeerName            string
	PeerAvatarURL       string
	LastMessageID       string
	LastMessageContent  string
	LastMessageSenderID string
	LastMessageAt       int64
	UnreadCount         int
}

// NewTempID generates a temporary message id: temp_<unixms>_<random>.
func NewTempID() string {
	return fmt.Sprintf("%s%d_%s", TempIDPrefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}
