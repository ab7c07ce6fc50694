package extract

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jpvalente/adsync/internal/page"
	"go.uber.org/zap"
)

// Sender distinguishes the two parties of a conversation.
type Sender string

const (
	SenderClient Sender = "client"
	SenderAgent  Sender = "agent"
)

// ChatMessage is one extracted message bubble, ready for upsert. Created
// once per observed message per extraction pass and never updated in
// place; duplicate suppression happens at the store by natural key.
type ChatMessage struct {
	MessageID      string
	ConversationID string
	Sender         Sender
	Content        string
	RawTime        string
	Timestamp      time.Time
	// DegradedTime marks that the raw time did not parse and extraction
	// time was used as a last resort.
	DegradedTime bool
}

// BuildMessages converts the open chat's message nodes into ChatMessages.
// The message id folds in conversation, position, a content fingerprint and
// the extraction instant so repeated scans never collide.
func BuildMessages(conversationID string, nodes []page.MessageNode, now time.Time, logger *zap.Logger) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(nodes))
	for _, n := range nodes {
		sender := SenderClient
		if !n.Incoming {
			sender = SenderAgent
		}
		ts, ok := ParseLocalTime(n.RawTime, now)
		degraded := false
		if !ok {
			// Last resort for individual messages only; persisted
			// conversation fields never get this fallback.
			ts = now
			degraded = true
			if logger != nil {
				logger.Warn("message time unparseable, using extraction time",
					zap.String("conversation", conversationID),
					zap.String("raw_time", n.RawTime),
					zap.Int("position", n.Position))
			}
		}
		msgs = append(msgs, ChatMessage{
			MessageID:      messageID(conversationID, n.Position, n.Content, now),
			ConversationID: conversationID,
			Sender:         sender,
			Content:        n.Content,
			RawTime:        n.RawTime,
			Timestamp:      ts,
			DegradedTime:   degraded,
		})
	}
	return msgs
}

func messageID(conversationID string, position int, content string, now time.Time) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(content))
	return fmt.Sprintf("%s-%d-%08x-%d", conversationID, position, h.Sum32(), now.UnixMilli())
}
