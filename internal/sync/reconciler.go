package sync

import "github.com/FYLA-Organization/fylachat/internal/store"

// statusRank orders delivery statuses. A message never moves backwards.
var statusRank = map[string]int{
	store.StatusSent:      0,
	store.StatusDelivered: 1,
	store.StatusRead:      2,
}

// matchesEcho reports whether existing is the local counterpart of incoming:
// same id, or the same sender, receiver and content with timestamps within
// windowMs of each other. The structural half exists because the hub may echo
// a sent message back before the send response resolves, at which point the
// local copy still carries its temporary id. This is the highest-risk
// correctness surface in the engine; keep it here, named and tested.
func matchesEcho(existing, incoming *store.Message, windowMs int64) bool {
	if existing.ID == incoming.ID {
		return true
	}
	if existing.SenderID != incoming.SenderID ||
		existing.ReceiverID != incoming.ReceiverID ||
		existing.Content != incoming.Content {
		return false
	}
	delta := existing.Timestamp - incoming.Timestamp
	if delta < 0 {
		delta = -delta
	}
	return delta < windowMs
}

// mergeStatus folds the existing row's delivery progress into incoming so an
// in-place replacement can never regress a status. Reprocessing a stale echo
// after a read receipt must keep the message read.
func mergeStatus(existing, incoming *store.Message) {
	if statusRank[existing.Status] > statusRank[incoming.Status] {
		incoming.Status = existing.Status
	}
	if existing.IsRead {
		incoming.IsRead = true
	}
	if incoming.DeliveredAt == 0 {
		incoming.DeliveredAt = existing.DeliveredAt
	}
	if incoming.ReadAt == 0 {
		incoming.ReadAt = existing.ReadAt
	}
}
