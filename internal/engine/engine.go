// Package engine is the facade the UI layer talks to. It composes the
// connection manager, session store, reconciler, room aggregator and typing
// coordinator behind a handful of methods.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/FYLA-Organization/fylachat/internal/bus"
	"github.com/FYLA-Organization/fylachat/internal/conn"
	"github.com/FYLA-Organization/fylachat/internal/rest"
	"github.com/FYLA-Organization/fylachat/internal/rooms"
	"github.com/FYLA-Organization/fylachat/internal/store"
	chatsync "github.com/FYLA-Organization/fylachat/internal/sync"
	"github.com/FYLA-Organization/fylachat/internal/typing"
)

// ErrSessionEnded reports that a send resolved after Disconnect cleared the
// session it belonged to. The result was discarded along with the session.
var ErrSessionEnded = errors.New("session ended before send resolved")

// Connector is the connection collaborator. Satisfied by conn.Manager.
type Connector interface {
	Connect(ctx context.Context, token string) error
	Disconnect(ctx context.Context) error
	State() conn.State
	Session() uint64
}

// Engine exposes the chat operations.
type Engine struct {
	db          *store.DB
	bus         *bus.Bus
	conn        Connector
	rest        rest.Client
	sync        *chatsync.Engine
	rooms       *rooms.Aggregator
	typing      *typing.Coordinator
	localUserID string
	logger      *zap.Logger
}

// New creates the engine facade.
func New(db *store.DB, b *bus.Bus, connector Connector, restClient rest.Client, syncEngine *chatsync.Engine, aggregator *rooms.Aggregator, coordinator *typing.Coordinator, localUserID string, logger *zap.Logger) *Engine {
	return &Engine{
		db:          db,
		bus:         b,
		conn:        connector,
		rest:        restClient,
		sync:        syncEngine,
		rooms:       aggregator,
		typing:      coordinator,
		localUserID: localUserID,
		logger:      logger,
	}
}

// Connect binds the token to the REST client and brings the hub connection
// up. Connection failures degrade to background retry, so this only errors on
// misuse.
func (e *Engine) Connect(ctx context.Context, token string) error {
	e.rest.SetToken(token)
	return e.conn.Connect(ctx, token)
}

// Disconnect tears the connection down and clears session state.
func (e *Engine) Disconnect(ctx context.Context) error {
	return e.conn.Disconnect(ctx)
}

// SendMessage appends an optimistic row immediately and resolves it against
// the send response. The optimistic row keeps its position: confirmation
// replaces it in place, failure deletes it. A response that lands after
// Disconnect cleared the session is discarded and ErrSessionEnded returned;
// a transport blip with automatic reconnect does not invalidate the send.
func (e *Engine) SendMessage(ctx context.Context, req rest.SendRequest) (*store.Message, error) {
	temp := &store.Message{
		ID:             store.NewTempID(),
		SenderID:       e.localUserID,
		ReceiverID:     req.ReceiverID,
		Content:        req.Content,
		Status:         store.StatusSent,
		Timestamp:      time.Now().UnixMilli(),
		AttachmentURL:  req.AttachmentURL,
		AttachmentType: req.AttachmentType,
		AttachmentSize: req.AttachmentSize,
		AttachmentName: req.AttachmentName,
	}
	if err := e.db.AppendMessage(temp); err != nil {
		return nil, fmt.Errorf("append optimistic message: %w", err)
	}
	e.rooms.OnNewMessage(temp)
	e.bus.Emit("message.upserted", temp.ID)
	e.typing.Reset(ctx, req.ReceiverID)

	session := e.conn.Session()
	confirmed, err := e.rest.SendMessage(ctx, req)
	if e.conn.Session() != session {
		e.logger.Debug("send resolved after session ended, dropping result", zap.String("temp_id", temp.ID))
		return nil, ErrSessionEnded
	}
	if err != nil {
		if derr := e.db.DeleteMessage(temp.ID); derr != nil {
			e.logger.Error("failed to roll back optimistic message", zap.Error(derr), zap.String("temp_id", temp.ID))
		}
		e.rooms.RefreshSnapshot(req.ReceiverID)
		e.bus.Emit("message.send_failed", temp.ID)
		return nil, fmt.Errorf("send message: %w", err)
	}

	if confirmed.Status != store.StatusRead {
		confirmed.Status = store.StatusDelivered
		confirmed.DeliveredAt = time.Now().UnixMilli()
	}
	// The reconciler resolves the confirmation against the optimistic row,
	// or against the hub echo if that arrived first.
	if err := e.sync.Ingest(confirmed); err != nil {
		return nil, fmt.Errorf("reconcile confirmation: %w", err)
	}
	final, err := e.db.GetMessage(confirmed.ID)
	if err != nil {
		return nil, err
	}
	return final, nil
}

// LoadMessages fetches a conversation's history, runs it through the
// reconciler and returns the stored projection.
func (e *Engine) LoadMessages(ctx context.Context, peerID string) ([]store.Message, error) {
	history, err := e.rest.FetchHistory(ctx, peerID)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	if err := e.sync.IngestHistory(history); err != nil {
		return nil, err
	}
	return e.db.Conversation(e.localUserID, peerID)
}

// LoadChatRooms refreshes the room list from the server and returns it.
func (e *Engine) LoadChatRooms(ctx context.Context) ([]store.Room, error) {
	if err := e.rooms.LoadRooms(ctx); err != nil {
		return nil, err
	}
	return e.db.ListRooms()
}

// MarkAsRead marks an incoming message read locally and notifies the server.
// The local mutation sticks even when the server call fails; the receipt is
// retried implicitly the next time the room syncs.
func (e *Engine) MarkAsRead(ctx context.Context, messageID string) error {
	m, err := e.db.GetMessage(messageID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("unknown message %s", messageID)
	}
	if m.SenderID == e.localUserID {
		return nil
	}
	if !m.IsRead {
		if err := e.db.SetLocalRead(messageID); err != nil {
			return fmt.Errorf("mark read locally: %w", err)
		}
		e.rooms.OnMessageRead(m.SenderID)
		e.bus.Emit("message.upserted", messageID)
	}
	if err := e.rest.MarkRead(ctx, messageID); err != nil {
		e.logger.Warn("read receipt failed", zap.Error(err), zap.String("msg_id", messageID))
	}
	return nil
}

// MarkRoomAsRead marks every unread incoming message of a conversation read.
func (e *Engine) MarkRoomAsRead(ctx context.Context, peerID string) error {
	msgs, err := e.db.Conversation(e.localUserID, peerID)
	if err != nil {
		return err
	}
	changed := false
	for i := range msgs {
		m := &msgs[i]
		if m.SenderID != peerID || m.IsRead {
			continue
		}
		if err := e.db.SetLocalRead(m.ID); err != nil {
			return fmt.Errorf("mark read locally: %w", err)
		}
		e.rooms.OnMessageRead(peerID)
		changed = true
	}
	if changed {
		e.bus.Emit("room.updated", peerID)
	}
	if err := e.rest.MarkAllRead(ctx, peerID); err != nil {
		e.logger.Warn("bulk read receipt failed", zap.Error(err), zap.String("peer_id", peerID))
	}
	return nil
}

// Messages returns the stored conversation with a peer in arrival order.
func (e *Engine) Messages(peerID string) ([]store.Message, error) {
	return e.db.Conversation(e.localUserID, peerID)
}

// Rooms returns the stored room list.
func (e *Engine) Rooms() ([]store.Room, error) {
	return e.db.ListRooms()
}

// UnreadCount returns the total unread count across rooms.
func (e *Engine) UnreadCount() int {
	return e.rooms.UnreadTotal()
}

// IsConnected reports whether the hub connection is up.
func (e *Engine) IsConnected() bool {
	return e.conn.State() == conn.Connected
}

// ConnectionState returns the current connection state.
func (e *Engine) ConnectionState() conn.State {
	return e.conn.State()
}
