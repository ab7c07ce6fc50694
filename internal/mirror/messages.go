package mirror

import "time"

// UpsertMessage inserts a mirrored message, updating content and timing on
// conflict so re-extraction of the same message corrects it in place.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (message_id, conversation_id, sender, content, raw_time, timestamp, degraded_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			content = excluded.content,
			raw_time = excluded.raw_time,
			timestamp = excluded.timestamp,
			degraded_time = excluded.degraded_time`,
		m.MessageID, m.ConversationID, m.Sender, m.Content, m.RawTime,
		m.Timestamp, boolToInt(m.DegradedTime), now)
	return err
}

// ListMessages returns a conversation's mirrored messages in timestamp
// order, oldest first.
func (db *DB) ListMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT id, message_id, conversation_id, sender, content, raw_time, timestamp, degraded_time
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, id ASC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		var m Message
		var degraded int
		if err := rows.Scan(&m.ID, &m.MessageID, &m.ConversationID, &m.Sender,
			&m.Content, &m.RawTime, &m.Timestamp, &degraded); err != nil {
			return nil, err
		}
		m.DegradedTime = degraded != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteAllMessages empties the mirrored messages table.
func (db *DB) DeleteAllMessages() error {
	_, err := db.Exec(`DELETE FROM messages`)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
