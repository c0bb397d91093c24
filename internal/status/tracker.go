// Package status tracks the per-message delivery lifecycle.
package status

import (
	"time"

	"go.uber.org/zap"

	"github.com/FYLA-Organization/fylachat/internal/bus"
	"github.com/FYLA-Organization/fylachat/internal/store"
)

// statusRank orders the sent -> delivered -> read lifecycle. Transitions
// never go backwards: a delivery receipt arriving after a read receipt is
// stale and dropped.
var statusRank = map[string]int{
	store.StatusSent:      0,
	store.StatusDelivered: 1,
	store.StatusRead:      2,
}

// Change is the payload of message.status_changed events.
type Change struct {
	MessageIDs []string
	Status     string
	ByUserID   string
}

// Tracker applies delivery and read receipts to the store. It does not
// consume the bus itself: the reconciler's ordered consumer feeds it, so a
// receipt arriving right behind its message is applied after the message is
// ingested. Receipts referencing unknown messages are ignored; they may
// belong to a since-cleared session.
type Tracker struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewTracker creates a status tracker.
func NewTracker(db *store.DB, b *bus.Bus, logger *zap.Logger) *Tracker {
	return &Tracker{db: db, bus: b, logger: logger}
}

// OnDelivered records a delivery receipt. Never errors: a missing message or
// a stale receipt is logged and skipped.
func (t *Tracker) OnDelivered(messageID, byUserID string) {
	t.apply(messageID, byUserID, store.StatusDelivered)
}

// OnRead records a read receipt. A read may arrive without a preceding
// delivery receipt (bulk reads on the peer's side); it is applied directly.
func (t *Tracker) OnRead(messageID, byUserID string) {
	t.apply(messageID, byUserID, store.StatusRead)
}

// OnBulkRead applies a read receipt to every id in one store pass and emits
// a single change event, so downstream consumers recompute once.
func (t *Tracker) OnBulkRead(messageIDs []string, byUserID string) {
	changed, err := t.db.BulkMarkRead(messageIDs, time.Now().UnixMilli())
	if err != nil {
		t.logger.Error("bulk read failed", zap.Error(err), zap.Int("ids", len(messageIDs)))
		return
	}
	if changed == 0 {
		return
	}
	t.bus.Emit("message.status_changed", Change{
		MessageIDs: messageIDs,
		Status:     store.StatusRead,
		ByUserID:   byUserID,
	})
}

func (t *Tracker) apply(messageID, byUserID, status string) {
	m, err := t.db.GetMessage(messageID)
	if err != nil {
		t.logger.Error("receipt lookup failed", zap.Error(err), zap.String("msg_id", messageID))
		return
	}
	if m == nil {
		t.logger.Debug("receipt for unknown message", zap.String("msg_id", messageID), zap.String("status", status))
		return
	}
	if statusRank[m.Status] >= statusRank[status] {
		t.logger.Debug("stale receipt dropped",
			zap.String("msg_id", messageID), zap.String("have", m.Status), zap.String("got", status))
		return
	}

	now := time.Now().UnixMilli()
	if status == store.StatusRead {
		err = t.db.MarkRead(messageID, now)
	} else {
		err = t.db.MarkDelivered(messageID, now)
	}
	if err != nil {
		t.logger.Error("receipt apply failed", zap.Error(err), zap.String("msg_id", messageID))
		return
	}
	t.bus.Emit("message.status_changed", Change{
		MessageIDs: []string{messageID},
		Status:     status,
		ByUserID:   byUserID,
	})
}
