package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ConversationRecord is the backend's conversation row, keyed by the
// marketplace's stable conversation identifier.
type ConversationRecord struct {
	ID              string `json:"id,omitempty"`
	ConversationID  string `json:"conversation_id"`
	UserName        string `json:"user_name,omitempty"`
	PhoneNumber     string `json:"phone_number,omitempty"`
	LastMessage     string `json:"last_message,omitempty"`
	LastMessageDate string `json:"last_message_date,omitempty"`
	AdInfo          string `json:"ad_info,omitempty"`
	AdImageURL      string `json:"ad_image_url,omitempty"`
	UnreadCount     int    `json:"unread_count,omitempty"`
}

// MessageRecord is one synced chat message, keyed by the derived message id.
type MessageRecord struct {
	ID             string `json:"id,omitempty"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Sender         string `json:"sender"`
	Content        string `json:"content"`
	RawTime        string `json:"raw_time,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
	DegradedTime   bool   `json:"degraded_time,omitempty"`
}

// Store wraps the generic client with the two tables this daemon owns.
type Store struct {
	client    *Client
	convTable string
	msgTable  string
}

// NewStore creates a typed store over the given tables.
func NewStore(client *Client, conversationsTable, messagesTable string) *Store {
	return &Store{
		client:    client,
		convTable: conversationsTable,
		msgTable:  messagesTable,
	}
}

// Client returns the underlying generic client.
func (s *Store) Client() *Client { return s.client }

// ConversationsTable returns the conversations table name.
func (s *Store) ConversationsTable() string { return s.convTable }

// FindConversation returns the record for a conversation id, or nil when
// the backend has none yet.
func (s *Store) FindConversation(ctx context.Context, conversationID string) (*ConversationRecord, error) {
	var rec ConversationRecord
	found, err := s.client.FindOne(ctx, s.convTable,
		fmt.Sprintf("conversation_id='%s'", conversationID), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// CreateConversation inserts a new conversation record.
func (s *Store) CreateConversation(ctx context.Context, rec *ConversationRecord) (*ConversationRecord, error) {
	var stored ConversationRecord
	if err := s.client.Create(ctx, s.convTable, rec, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// UpdateConversation patches only the given fields of an existing record.
func (s *Store) UpdateConversation(ctx context.Context, recordID string, fields map[string]any) error {
	return s.client.Update(ctx, s.convTable, recordID, fields)
}

// UpsertMessage stores a message, idempotent by the derived message id.
func (s *Store) UpsertMessage(ctx context.Context, rec *MessageRecord) error {
	var existing MessageRecord
	found, err := s.client.FindOne(ctx, s.msgTable,
		fmt.Sprintf("message_id='%s'", rec.MessageID), &existing)
	if err != nil {
		return err
	}
	if found {
		return s.client.Update(ctx, s.msgTable, existing.ID, map[string]any{
			"content":   rec.Content,
			"timestamp": rec.Timestamp,
		})
	}
	return s.client.Create(ctx, s.msgTable, rec, nil)
}

// DeleteAll wipes both tables: every message record, then every
// conversation record. A non-404 failure of the message sweep does NOT
// stop the conversation sweep — both run, and a combined error is
// returned. There is no rollback; a partial failure leaves the store
// inconsistent and the caller only gets the error.
func (s *Store) DeleteAll(ctx context.Context) error {
	msgErr := s.deleteTable(ctx, s.msgTable)
	if msgErr != nil && IsNotFound(msgErr) {
		msgErr = nil
	}
	convErr := s.deleteTable(ctx, s.convTable)
	if convErr != nil && IsNotFound(convErr) {
		convErr = nil
	}
	return errors.Join(msgErr, convErr)
}

func (s *Store) deleteTable(ctx context.Context, table string) error {
	items, err := s.client.List(ctx, table, "")
	if err != nil {
		return fmt.Errorf("list %s: %w", table, err)
	}
	var ids []string
	for _, raw := range items {
		var rec struct {
			ID string `json:"id"`
		}
		if err := decode(raw, &rec); err != nil {
			continue
		}
		ids = append(ids, rec.ID)
	}
	for _, id := range ids {
		if err := s.client.Delete(ctx, table, id); err != nil {
			return fmt.Errorf("delete %s/%s: %w", table, id, err)
		}
	}
	return nil
}

// FormatTime renders a timestamp the way the backend expects, empty for the
// zero value so unavailable stays unavailable.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
