package store

import "database/sql"

// ReplaceRooms wholesale-replaces the room list. Room loading never merges
// incrementally; the server list is authoritative.
func (db *DB) ReplaceRooms(rooms []Room) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM rooms`); err != nil {
		return err
	}
	for _, r := range rooms {
		if _, err := tx.Exec(`
			INSERT INTO rooms (peer_id, peer_name, peer_avatar_url,
				last_message_id, last_message_content, last_message_sender_id,
				last_message_at_ms, unread_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.PeerID, r.PeerName, r.PeerAvatarURL,
			r.LastMessageID, r.LastMessageContent, r.LastMessageSenderID,
			r.LastMessageAt, r.UnreadCount); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListRooms returns rooms sorted by last message time descending.
func (db *DB) ListRooms() ([]Room, error) {
	rows, err := db.Query(`
		SELECT peer_id, peer_name, peer_avatar_url,
			last_message_id, last_message_content, last_message_sender_id,
			last_message_at_ms, unread_count
		FROM rooms ORDER BY last_message_at_ms DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rooms []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.PeerID, &r.PeerName, &r.PeerAvatarURL,
			&r.LastMessageID, &r.LastMessageContent, &r.LastMessageSenderID,
			&r.LastMessageAt, &r.UnreadCount); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// GetRoom returns a single room by peer id, or nil if absent.
func (db *DB) GetRoom(peerID string) (*Room, error) {
	var r Room
	err := db.QueryRow(`
		SELECT peer_id, peer_name, peer_avatar_url,
			last_message_id, last_message_content, last_message_sender_id,
			last_message_at_ms, unread_count
		FROM rooms WHERE peer_id = ?`, peerID).
		Scan(&r.PeerID, &r.PeerName, &r.PeerAvatarURL,
			&r.LastMessageID, &r.LastMessageContent, &r.LastMessageSenderID,
			&r.LastMessageAt, &r.UnreadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertRoomLastMessage refreshes a room's last-message snapshot from m,
// creating the room if this is the first message exchanged with the peer.
// When incrementUnread is set the room's unread count grows by one.
func (db *DB) UpsertRoomLastMessage(peerID string, m *Message, incrementUnread bool) error {
	inc := 0
	if incrementUnread {
		inc = 1
	}
	_, err := db.Exec(`
		INSERT INTO rooms (peer_id, last_message_id, last_message_content,
			last_message_sender_id, last_message_at_ms, unread_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			last_message_id = excluded.last_message_id,
			last_message_content = excluded.last_message_content,
			last_message_sender_id = excluded.last_message_sender_id,
			last_message_at_ms = excluded.last_message_at_ms,
			unread_count = rooms.unread_count + ?`,
		peerID, m.ID, m.Content, m.SenderID, m.Timestamp, inc, inc)
	return err
}

// ClearRoomLastMessage blanks a room's last-message snapshot. Used when the
// message it pointed at was rolled back and no other message remains.
func (db *DB) ClearRoomLastMessage(peerID string) error {
	_, err := db.Exec(`
		UPDATE rooms SET last_message_id = '', last_message_content = '',
			last_message_sender_id = '', last_message_at_ms = 0
		WHERE peer_id = ?`, peerID)
	return err
}

// DecrementUnread lowers a room's unread count by one, floored at zero.
func (db *DB) DecrementUnread(peerID string) error {
	_, err := db.Exec(`
		UPDATE rooms SET unread_count = MAX(unread_count - 1, 0) WHERE peer_id = ?`,
		peerID)
	return err
}

// SumUnread returns the total unread count across all rooms.
func (db *DB) SumUnread() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COALESCE(SUM(unread_count), 0) FROM rooms`).Scan(&n)
	return n, err
}
