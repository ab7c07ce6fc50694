package mirror

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirror.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestUpsertConversationInsertAndGet(t *testing.T) {
	db := testDB(t)

	c := &Conversation{
		ConversationID: "c-101",
		UserName:       "Maria Silva",
		PhoneNumber:    "912345678",
		LastMessage:    "Olá, ainda está disponível?",
		LastMessageAt:  1700000000000,
		AdInfo:         "Bicicleta de estrada",
		UnreadCount:    2,
	}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := db.GetConversation("c-101")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected conversation, got nil")
	}
	if got.UserName != "Maria Silva" || got.PhoneNumber != "912345678" || got.UnreadCount != 2 {
		t.Fatalf("unexpected conversation: %+v", got)
	}
}

func TestUpsertConversationEmptyFieldsDoNotClobber(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{
		ConversationID: "c-101",
		UserName:       "Maria Silva",
		PhoneNumber:    "912345678",
		LastMessage:    "primeira",
		LastMessageAt:  100,
	}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// A later snapshot may not carry the phone number.
	if err := db.UpsertConversation(&Conversation{
		ConversationID: "c-101",
		UserName:       "Maria Silva",
		LastMessage:    "segunda",
		LastMessageAt:  200,
	}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := db.GetConversation("c-101")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PhoneNumber != "912345678" {
		t.Fatalf("phone clobbered, got %q", got.PhoneNumber)
	}
	if got.LastMessage != "segunda" {
		t.Fatalf("last message not updated, got %q", got.LastMessage)
	}
	if got.LastMessageAt != 200 {
		t.Fatalf("last message time not advanced, got %d", got.LastMessageAt)
	}
}

func TestGetConversationMissing(t *testing.T) {
	db := testDB(t)
	got, err := db.GetConversation("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestListConversationsOrder(t *testing.T) {
	db := testDB(t)

	for _, c := range []Conversation{
		{ConversationID: "c-1", UserName: "A", LastMessageAt: 100},
		{ConversationID: "c-2", UserName: "B", LastMessageAt: 300},
		{ConversationID: "c-3", UserName: "C", LastMessageAt: 200},
	} {
		c := c
		if err := db.UpsertConversation(&c); err != nil {
			t.Fatalf("upsert %s: %v", c.ConversationID, err)
		}
	}

	got, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(got))
	}
	if got[0].ConversationID != "c-2" || got[1].ConversationID != "c-3" || got[2].ConversationID != "c-1" {
		t.Fatalf("unexpected order: %s %s %s", got[0].ConversationID, got[1].ConversationID, got[2].ConversationID)
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := &Message{
		MessageID:      "c-101-0-deadbeef-1700000000000",
		ConversationID: "c-101",
		Sender:         "client",
		Content:        "Olá",
		RawTime:        "22:38",
		Timestamp:      1700000000000,
	}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	m.Content = "Olá!"
	if err := db.UpsertMessage(m); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := db.ListMessages("c-101", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].Content != "Olá!" {
		t.Fatalf("content not updated, got %q", got[0].Content)
	}
}

func TestListMessagesOrder(t *testing.T) {
	db := testDB(t)

	for i, ts := range []int64{300, 100, 200} {
		if err := db.UpsertMessage(&Message{
			MessageID:      []string{"m-a", "m-b", "m-c"}[i],
			ConversationID: "c-101",
			Sender:         "agent",
			Content:        "x",
			Timestamp:      ts,
		}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := db.ListMessages("c-101", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].Timestamp != 100 || got[1].Timestamp != 200 || got[2].Timestamp != 300 {
		t.Fatalf("unexpected order: %d %d %d", got[0].Timestamp, got[1].Timestamp, got[2].Timestamp)
	}
}

func TestDeleteAll(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ConversationID: "c-1"}); err != nil {
		t.Fatalf("upsert conversation: %v", err)
	}
	if err := db.UpsertMessage(&Message{MessageID: "m-1", ConversationID: "c-1", Sender: "client"}); err != nil {
		t.Fatalf("upsert message: %v", err)
	}

	if err := db.DeleteAllMessages(); err != nil {
		t.Fatalf("delete messages: %v", err)
	}
	if err := db.DeleteAllConversations(); err != nil {
		t.Fatalf("delete conversations: %v", err)
	}

	convs, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(convs) != 0 {
		t.Fatalf("expected no conversations, got %d", len(convs))
	}
	msgs, err := db.ListMessages("c-1", 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
}
