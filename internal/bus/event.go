package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds used across the daemon. Subscribers filter by namespace
// prefix, so "page." matches every page event and so on.
const (
	// KindConversationChanged fires when the visible conversation identity
	// changes. Payload: ConversationChange.
	KindConversationChanged = "page.conversation_changed"
	// KindChatOpened fires when an open chat is detected. Payload: identity (string).
	KindChatOpened = "page.chat_opened"
	// KindChatClosed fires when the view returns to the list. Payload: identity (string).
	KindChatClosed = "page.chat_closed"

	// KindConversationSynced fires after a confirmed backend write.
	// Payload: SyncResult.
	KindConversationSynced = "sync.conversation_synced"
	// KindMessagesSynced fires after a chat's messages are upserted.
	// Payload: SyncResult.
	KindMessagesSynced = "sync.messages_synced"
	// KindSyncFailed fires when a backend write fails. Payload: SyncResult.
	KindSyncFailed = "sync.write_failed"

	// KindQueueScheduled fires when the walker schedules an unread open.
	// Payload: QueueSchedule.
	KindQueueScheduled = "queue.scheduled"
	// KindQueueOpened fires when the walker opens a conversation.
	// Payload: conversation id (string).
	KindQueueOpened = "queue.opened"

	// KindStatusChanged fires on daemon state transitions.
	// Payload: status.Change.
	KindStatusChanged = "daemon.status_changed"

	// KindLogEntry carries a broadcast log line. Payload: logging.Entry.
	KindLogEntry = "log.entry"
)

// ConversationChange is the payload for KindConversationChanged.
type ConversationChange struct {
	Previous string
	New      string
}

// SyncResult is the payload for sync.* events.
type SyncResult struct {
	ConversationID string
	Fields         []string
	Messages       int
	Err            string
}

// QueueSchedule is the payload for KindQueueScheduled.
type QueueSchedule struct {
	ConversationID string
	Delay          time.Duration
}
