// Package rooms derives conversation-level summaries (last message, unread
// counts) from the message flow and keeps the global unread counter.
package rooms

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/FYLA-Organization/fylachat/internal/bus"
	"github.com/FYLA-Organization/fylachat/internal/rest"
	"github.com/FYLA-Organization/fylachat/internal/store"
)

// Aggregator maintains the room table and a cached global unread counter.
// The counter is seeded once from REST on connect; afterwards it only moves
// incrementally, to avoid read-after-write races with the server.
type Aggregator struct {
	db          *store.DB
	rest        rest.Client
	bus         *bus.Bus
	logger      *zap.Logger
	localUserID string

	mu     sync.Mutex
	unread int
	dirty  bool
}

// NewAggregator creates a room aggregator for the given local user.
func NewAggregator(db *store.DB, restClient rest.Client, b *bus.Bus, localUserID string, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		db:          db,
		rest:        restClient,
		bus:         b,
		logger:      logger,
		localUserID: localUserID,
		dirty:       true,
	}
}

// LoadRooms wholesale-replaces the room list from the REST collaborator.
func (a *Aggregator) LoadRooms(ctx context.Context) error {
	rooms, err := a.rest.FetchRooms(ctx)
	if err != nil {
		return err
	}
	if err := a.db.ReplaceRooms(rooms); err != nil {
		return err
	}
	a.invalidate()
	a.bus.Emit("room.updated", "")
	return nil
}

// SeedUnread fetches the global unread count once. Run after connect, before
// incremental updates start mattering.
func (a *Aggregator) SeedUnread(ctx context.Context) error {
	n, err := a.rest.FetchUnreadCount(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.unread = n
	a.dirty = false
	a.mu.Unlock()
	return nil
}

// OnNewMessage updates the room for a freshly reconciled live message. A
// message from a peer bumps that room's unread count and the global counter;
// the local user's own echo only refreshes the last-message snapshot.
func (a *Aggregator) OnNewMessage(m *store.Message) {
	fromPeer := m.SenderID != a.localUserID
	peerID := m.SenderID
	if !fromPeer {
		peerID = m.ReceiverID
	}
	if err := a.db.UpsertRoomLastMessage(peerID, m, fromPeer); err != nil {
		a.logger.Warn("room update failed", zap.Error(err), zap.String("peer", peerID))
		return
	}
	if fromPeer {
		a.invalidate()
	}
	a.bus.Emit("room.updated", peerID)
}

// OnMessageReplaced refreshes the room snapshot after reconciliation rewrote
// an existing row. Unread counts are untouched: the message was already
// counted when it first arrived.
func (a *Aggregator) OnMessageReplaced(m *store.Message) {
	peerID := m.SenderID
	if peerID == a.localUserID {
		peerID = m.ReceiverID
	}
	a.RefreshSnapshot(peerID)
}

// RefreshSnapshot rewrites a room's last-message snapshot from the stored
// conversation tail, clearing it when nothing remains. Used after a rollback
// deletes the message the snapshot pointed at.
func (a *Aggregator) RefreshSnapshot(peerID string) {
	tail, err := a.db.LastConversationMessage(a.localUserID, peerID)
	if err != nil {
		a.logger.Warn("snapshot refresh failed", zap.Error(err), zap.String("peer", peerID))
		return
	}
	if tail == nil {
		err = a.db.ClearRoomLastMessage(peerID)
	} else {
		err = a.db.UpsertRoomLastMessage(peerID, tail, false)
	}
	if err != nil {
		a.logger.Warn("snapshot refresh failed", zap.Error(err), zap.String("peer", peerID))
		return
	}
	a.bus.Emit("room.updated", peerID)
}

// OnMessageRead decrements a room's unread count by one, floored at zero.
func (a *Aggregator) OnMessageRead(peerID string) {
	if err := a.db.DecrementUnread(peerID); err != nil {
		a.logger.Warn("unread decrement failed", zap.Error(err), zap.String("peer", peerID))
		return
	}
	a.invalidate()
	a.bus.Emit("room.updated", peerID)
}

// UnreadTotal returns the global unread count, recomputing from the room
// table when an unread-touching mutation invalidated the cache.
func (a *Aggregator) UnreadTotal() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.dirty {
		return a.unread
	}
	n, err := a.db.SumUnread()
	if err != nil {
		a.logger.Warn("unread sum failed", zap.Error(err))
		return a.unread
	}
	a.unread = n
	a.dirty = false
	return n
}

// Reset drops the cached counter. Called on disconnect alongside the store
// clear.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.unread = 0
	a.dirty = true
	a.mu.Unlock()
}

func (a *Aggregator) invalidate() {
	a.mu.Lock()
	a.dirty = true
	a.mu.Unlock()
}
