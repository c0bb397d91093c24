// Package sync reconciles server-pushed messages with the optimistic local
// state in the session store.
package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/FYLA-Organization/fylachat/internal/bus"
	"github.com/FYLA-Organization/fylachat/internal/hub"
	"github.com/FYLA-Organization/fylachat/internal/rooms"
	"github.com/FYLA-Organization/fylachat/internal/store"
)

// ReceiptSink applies delivery and read receipts. Satisfied by
// status.Tracker.
type ReceiptSink interface {
	OnDelivered(messageID, byUserID string)
	OnRead(messageID, byUserID string)
	OnBulkRead(messageIDs []string, byUserID string)
}

// Engine ingests messages idempotently: a push event processed twice, or a
// hub echo racing the REST send response, always ends as a single store row
// in its original position with its unread count bumped once. Messages and
// receipts share one consumer goroutine, so a receipt pushed right after its
// message is applied after the message is ingested, in arrival order.
type Engine struct {
	db           *store.DB
	bus          *bus.Bus
	rooms        *rooms.Aggregator
	receipts     ReceiptSink
	logger       *zap.Logger
	echoWindowMs int64
	cancel       context.CancelFunc
}

// NewEngine creates a sync engine. echoWindowMs bounds the timestamp distance
// for structural echo matching.
func NewEngine(db *store.DB, b *bus.Bus, aggregator *rooms.Aggregator, receipts ReceiptSink, echoWindowMs int64, logger *zap.Logger) *Engine {
	return &Engine{
		db:           db,
		bus:          b,
		rooms:        aggregator,
		receipts:     receipts,
		logger:       logger,
		echoWindowMs: echoWindowMs,
	}
}

// Start subscribes to the hub event stream on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("hub.", 512)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.dispatch(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) dispatch(evt bus.Event) {
	switch evt.Kind {
	case "hub.message":
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		if err := e.Ingest(msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	case "hub.delivered":
		if r, ok := evt.Payload.(hub.Receipt); ok {
			e.receipts.OnDelivered(r.MessageID, r.UserID)
		}
	case "hub.read":
		if r, ok := evt.Payload.(hub.Receipt); ok {
			e.receipts.OnRead(r.MessageID, r.UserID)
		}
	case "hub.bulk_read":
		if r, ok := evt.Payload.(hub.BulkReceipt); ok {
			e.receipts.OnBulkRead(r.MessageIDs, r.UserID)
		}
	}
}

// Ingest reconciles one live pushed message into the store and updates the
// room aggregate. Only a genuinely new message moves the unread count; a
// matched duplicate or echo just refreshes the room snapshot.
func (e *Engine) Ingest(msg *store.Message) error {
	appended, err := e.reconcile(msg)
	if err != nil {
		return err
	}
	if appended {
		e.rooms.OnNewMessage(msg)
	} else {
		e.rooms.OnMessageReplaced(msg)
	}
	e.bus.Emit("message.upserted", msg.ID)
	return nil
}

// IngestHistory reconciles a REST history page through the same matching
// rules as live push, so a history row and a live echo of the same message
// cannot duplicate. Room unread counts are left alone: the room list load
// carries the server's authoritative counts.
func (e *Engine) IngestHistory(msgs []*store.Message) error {
	for _, m := range msgs {
		if _, err := e.reconcile(m); err != nil {
			return fmt.Errorf("history message %s: %w", m.ID, err)
		}
	}
	if len(msgs) > 0 {
		e.bus.Emit("message.upserted", "")
	}
	return nil
}

// reconcile writes msg into the store and reports whether it was appended as
// a new row, as opposed to replacing an existing one.
func (e *Engine) reconcile(msg *store.Message) (bool, error) {
	existing, err := e.db.GetMessage(msg.ID)
	if err != nil {
		return false, fmt.Errorf("lookup by id: %w", err)
	}
	if existing == nil {
		candidate, err := e.db.FindEchoCandidate(msg.SenderID, msg.ReceiverID, msg.Content, msg.Timestamp, e.echoWindowMs)
		if err != nil {
			return false, fmt.Errorf("echo lookup: %w", err)
		}
		if candidate != nil && matchesEcho(candidate, msg, e.echoWindowMs) {
			existing = candidate
		}
	}

	if existing != nil {
		mergeStatus(existing, msg)
		if err := e.db.ReplaceMessage(existing.Seq, msg); err != nil {
			return false, fmt.Errorf("replace message: %w", err)
		}
		return false, nil
	}
	if err := e.db.AppendMessage(msg); err != nil {
		return false, fmt.Errorf("append message: %w", err)
	}
	return true, nil
}
