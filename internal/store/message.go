package store

import "database/sql"

const messageColumns = `seq, id, sender_id, receiver_id, content, status, is_read,
	timestamp_ms, delivered_at_ms, read_at_ms,
	attachment_url, attachment_type, attachment_size, attachment_name`

// AppendMessage inserts a message at the tail of the store. The assigned
// arrival-order position is written back into m.Seq.
func (db *DB) AppendMessage(m *Message) error {
	res, err := db.Exec(`
		INSERT INTO messages (id, sender_id, receiver_id, content, status, is_read,
			timestamp_ms, delivered_at_ms, read_at_ms,
			attachment_url, attachment_type, attachment_size, attachment_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SenderID, m.ReceiverID, m.Content, m.Status, m.IsRead,
		m.Timestamp, m.DeliveredAt, m.ReadAt,
		m.AttachmentURL, m.AttachmentType, m.AttachmentSize, m.AttachmentName)
	if err != nil {
		return err
	}
	m.Seq, err = res.LastInsertId()
	return err
}

// ReplaceMessage overwrites the row at the given position with m, keeping the
// position itself. This is how reconciliation swaps a temporary optimistic
// message for its server-confirmed counterpart without moving it.
func (db *DB) ReplaceMessage(seq int64, m *Message) error {
	_, err := db.Exec(`
		UPDATE messages SET id = ?, sender_id = ?, receiver_id = ?, content = ?,
			status = ?, is_read = ?, timestamp_ms = ?, delivered_at_ms = ?, read_at_ms = ?,
			attachment_url = ?, attachment_type = ?, attachment_size = ?, attachment_name = ?
		WHERE seq = ?`,
		m.ID, m.SenderID, m.ReceiverID, m.Content,
		m.Status, m.IsRead, m.Timestamp, m.DeliveredAt, m.ReadAt,
		m.AttachmentURL, m.AttachmentType, m.AttachmentSize, m.AttachmentName,
		seq)
	if err == nil {
		m.Seq = seq
	}
	return err
}

// DeleteMessage removes a message by id. Used only for rolling back a failed
// optimistic send.
func (db *DB) DeleteMessage(id string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

// GetMessage returns the message with the given id, or nil if absent.
func (db *DB) GetMessage(id string) (*Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// FindEchoCandidate returns the earliest stored message structurally matching
// an incoming server message: same sender, receiver and content, with a
// timestamp within windowMs of aroundMs. Returns nil if none matches.
func (db *DB) FindEchoCandidate(senderID, receiverID, content string, aroundMs, windowMs int64) (*Message, error) {
	row := db.QueryRow(`
		SELECT `+messageColumns+` FROM messages
		WHERE sender_id = ? AND receiver_id = ? AND content = ?
			AND ABS(timestamp_ms - ?) < ?
		ORDER BY seq ASC LIMIT 1`,
		senderID, receiverID, content, aroundMs, windowMs)
	return scanMessage(row)
}

// Conversation returns all messages exchanged between the local user and the
// peer, in arrival order. The store never re-sorts by timestamp.
func (db *DB) Conversation(localID, peerID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY seq ASC`,
		localID, peerID, peerID, localID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := scanMessageInto(rows, &m); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LastConversationMessage returns the message at the tail of a conversation,
// or nil if none remain.
func (db *DB) LastConversationMessage(localID, peerID string) (*Message, error) {
	row := db.QueryRow(`
		SELECT `+messageColumns+` FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY seq DESC LIMIT 1`,
		localID, peerID, peerID, localID)
	return scanMessage(row)
}

// MarkDelivered records a delivery receipt for a message.
func (db *DB) MarkDelivered(id string, atMs int64) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ?, delivered_at_ms = ? WHERE id = ?`,
		StatusDelivered, atMs, id)
	return err
}

// MarkRead records a read receipt for a message.
func (db *DB) MarkRead(id string, atMs int64) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ?, is_read = 1, read_at_ms = ? WHERE id = ?`,
		StatusRead, atMs, id)
	return err
}

// BulkMarkRead applies a read receipt to every given id in a single
// transaction, skipping messages already read. Returns how many rows changed.
func (db *DB) BulkMarkRead(ids []string, atMs int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	changed := 0
	for _, id := range ids {
		res, err := tx.Exec(`
			UPDATE messages SET status = ?, is_read = 1, read_at_ms = ?
			WHERE id = ? AND status != ?`,
			StatusRead, atMs, id, StatusRead)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			changed++
		}
	}
	return changed, tx.Commit()
}

// SetLocalRead flags a message as read locally without touching its delivery
// status. Used when the local user views an incoming message.
func (db *DB) SetLocalRead(id string) error {
	_, err := db.Exec(`UPDATE messages SET is_read = 1 WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row *sql.Row) (*Message, error) {
	var m Message
	err := scanMessageInto(row, &m)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMessageInto(r rowScanner, m *Message) error {
	return r.Scan(&m.Seq, &m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Status, &m.IsRead,
		&m.Timestamp, &m.DeliveredAt, &m.ReadAt,
		&m.AttachmentURL, &m.AttachmentType, &m.AttachmentSize, &m.AttachmentName)
}
