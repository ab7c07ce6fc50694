package mirror

// Conversation is the locally mirrored view of a synced conversation.
type Conversation struct {
	ConversationID string `json:"conversation_id"`
	UserName       string `json:"user_name"`
	PhoneNumber    string `json:"phone_number"`
	LastMessage    string `json:"last_message"`
	LastMessageAt  int64  `json:"last_message_at"`
	AdInfo         string `json:"ad_info"`
	AdImageURL     string `json:"ad_image_url"`
	UnreadCount    int    `json:"unread_count"`
}

// Message is a locally mirrored chat message.
type Message struct {
	ID             int64  `json:"id"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Sender         string `json:"sender"`
	Content        string `json:"content"`
	RawTime        string `json:"raw_time"`
	Timestamp      int64  `json:"timestamp"`
	DegradedTime   bool   `json:"degraded_time"`
}
