package mirror

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a mirrored conversation. Empty
// incoming fields never clobber mirrored values: the mirror only grows
// more complete.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (conversation_id, user_name, phone_number, last_message, last_message_at, ad_info, ad_image_url, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			user_name = CASE WHEN excluded.user_name != '' THEN excluded.user_name ELSE conversations.user_name END,
			phone_number = CASE WHEN excluded.phone_number != '' THEN excluded.phone_number ELSE conversations.phone_number END,
			last_message = CASE WHEN excluded.last_message != '' THEN excluded.last_message ELSE conversations.last_message END,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			ad_info = CASE WHEN excluded.ad_info != '' THEN excluded.ad_info ELSE conversations.ad_info END,
			ad_image_url = CASE WHEN excluded.ad_image_url != '' THEN excluded.ad_image_url ELSE conversations.ad_image_url END,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.ConversationID, c.UserName, c.PhoneNumber, c.LastMessage, c.LastMessageAt,
		c.AdInfo, c.AdImageURL, c.UnreadCount, now)
	return err
}

// ListConversations returns conversations sorted by last message time
// descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT conversation_id, user_name, phone_number, last_message, last_message_at, ad_info, ad_image_url, unread_count
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ConversationID, &c.UserName, &c.PhoneNumber, &c.LastMessage,
			&c.LastMessageAt, &c.AdInfo, &c.AdImageURL, &c.UnreadCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation returns a single mirrored conversation, nil when absent.
func (db *DB) GetConversation(conversationID string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT conversation_id, user_name, phone_number, last_message, last_message_at, ad_info, ad_image_url, unread_count
		FROM conversations
		WHERE conversation_id = ?`, conversationID).
		Scan(&c.ConversationID, &c.UserName, &c.PhoneNumber, &c.LastMessage,
			&c.LastMessageAt, &c.AdInfo, &c.AdImageURL, &c.UnreadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteAllConversations empties the mirrored conversations table.
func (db *DB) DeleteAllConversations() error {
	_, err := db.Exec(`DELETE FROM conversations`)
	return err
}
