package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jpvalente/adsync/internal/backend"
	"github.com/jpvalente/adsync/internal/bus"
	"github.com/jpvalente/adsync/internal/extract"
	"github.com/jpvalente/adsync/internal/mirror"
	"github.com/jpvalente/adsync/internal/page"
)

// Backend is the slice of the backend store the coordinator writes through.
type Backend interface {
	FindConversation(ctx context.Context, conversationID string) (*backend.ConversationRecord, error)
	CreateConversation(ctx context.Context, rec *backend.ConversationRecord) (*backend.ConversationRecord, error)
	UpdateConversation(ctx context.Context, recordID string, fields map[string]any) error
	UpsertMessage(ctx context.Context, rec *backend.MessageRecord) error
}

// Mirror receives confirmed writes for local read access. Nil disables
// mirroring.
type Mirror interface {
	UpsertConversation(c *mirror.Conversation) error
	UpsertMessage(m *mirror.Message) error
}

// Config bounds the coordinator's timing.
type Config struct {
	// SettleDelay is how long the page gets to finish rendering after a
	// conversation change before extraction starts.
	SettleDelay time.Duration
	// ChatDwell is how long a chat must stay open before its full message
	// history is scanned.
	ChatDwell time.Duration
	Attempt   extract.AttemptConfig
}

// Coordinator turns conversation-change events into backend writes. It runs
// one change at a time: extraction clicks around in the live page, and two
// concurrent attempts would fight over the same disclosure panel.
type Coordinator struct {
	drv     extract.Driver
	bus     *bus.Bus
	store   Backend
	mirror  Mirror
	cache   *Cache
	cfg     Config
	logger  *zap.Logger
	nowFunc func() time.Time
}

// New creates a coordinator. mirror may be nil.
func New(drv extract.Driver, b *bus.Bus, store Backend, mir Mirror, cache *Cache, cfg Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewCache()
	}
	return &Coordinator{
		drv:     drv,
		bus:     b,
		store:   store,
		mirror:  mir,
		cache:   cache,
		cfg:     cfg,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Cache exposes the sync cache, for reset after a backend wipe.
func (c *Coordinator) Cache() *Cache { return c.cache }

// Run subscribes to conversation changes and processes them until the
// context ends.
func (c *Coordinator) Run(ctx context.Context) {
	events, cancel := c.bus.Subscribe(bus.KindConversationChanged, 16)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			change, ok := evt.Payload.(bus.ConversationChange)
			if !ok {
				continue
			}
			c.handleChange(ctx, change.New)
		}
	}
}

// handleChange runs one full sync pass for the conversation that just became
// visible. Every step re-validates the page identity: the user keeps using
// the messenger while the daemon works, and a late result must never be
// attributed to whatever conversation happens to be open now.
func (c *Coordinator) handleChange(ctx context.Context, identity string) {
	if identity == "" {
		return
	}
	if !sleep(ctx, c.cfg.SettleDelay) {
		return
	}

	doc, err := c.drv.Snapshot(ctx)
	if err != nil {
		c.logger.Warn("sync snapshot failed", zap.Error(err))
		return
	}
	if got := page.HeaderIdentity(doc); got != identity {
		c.logger.Info("sync pass skipped, conversation moved on",
			zap.String("target", identity), zap.String("current", got))
		return
	}

	item := findItem(doc, identity)
	if item == nil {
		c.logger.Warn("open conversation not present in list, no id to sync under",
			zap.String("identity", identity))
		return
	}

	now := c.nowFunc()
	candidate := CachedFields{LastMessage: item.LastPreview}
	if ts, ok := extract.ParseLocalTime(item.LastRawTime, now); ok {
		candidate.LastMessageDate = backend.FormatTime(ts)
	}
	candidate.PhoneNumber = c.extractPhone(ctx, identity, item)

	fields, err := c.writeConversation(ctx, identity, item, candidate)
	result := bus.SyncResult{ConversationID: item.ConversationID, Fields: fields}
	if err != nil {
		result.Err = err.Error()
		c.logger.Error("conversation sync failed",
			zap.String("conversation", item.ConversationID), zap.Error(err))
		c.bus.Publish(bus.Event{Kind: bus.KindSyncFailed, Timestamp: c.nowFunc(), Payload: result})
	} else if len(fields) > 0 {
		c.bus.Publish(bus.Event{Kind: bus.KindConversationSynced, Timestamp: c.nowFunc(), Payload: result})
	}

	c.syncMessages(ctx, identity, item.ConversationID)
}

// extractPhone resolves the conversation's phone number, cheapest source
// first: the list row sometimes carries it outright, otherwise the header's
// disclosure panel has to be opened.
func (c *Coordinator) extractPhone(ctx context.Context, identity string, item *page.ConversationItem) string {
	if storage, ok := extract.CleanPhone(item.RawPhoneText); ok {
		return storage
	}
	if cached := c.cache.Get(item.ConversationID); cached.PhoneNumber != "" {
		return cached.PhoneNumber
	}

	attempt := extract.NewAttempt(c.drv, c.cfg.Attempt, identity, c.logger)
	phone, err := attempt.Run(ctx)
	if err != nil {
		c.logger.Warn("phone attempt failed",
			zap.String("conversation", item.ConversationID), zap.Error(err))
		return ""
	}
	if phone == nil {
		return ""
	}
	c.logger.Info("phone extracted",
		zap.String("conversation", item.ConversationID), zap.String("display", phone.Display))
	return phone.Storage
}

// writeConversation creates or patches the backend record, writing only
// fields the cache says have changed, and commits the cache only after the
// backend confirmed. Returns the names of the written fields.
func (c *Coordinator) writeConversation(ctx context.Context, identity string, item *page.ConversationItem, candidate CachedFields) ([]string, error) {
	diff := c.cache.Diff(item.ConversationID, candidate)

	rec, err := c.store.FindConversation(ctx, item.ConversationID)
	if err != nil {
		return nil, err
	}

	var fields []string
	if rec == nil {
		created := &backend.ConversationRecord{
			ConversationID:  item.ConversationID,
			UserName:        identity,
			PhoneNumber:     candidate.PhoneNumber,
			LastMessage:     candidate.LastMessage,
			LastMessageDate: candidate.LastMessageDate,
			AdInfo:          item.AdInfo,
			AdImageURL:      item.AdImageURL,
			UnreadCount:     item.UnreadCount,
		}
		if _, err := c.store.CreateConversation(ctx, created); err != nil {
			return nil, err
		}
		fields = []string{"conversation_id", "user_name", "phone_number", "last_message", "last_message_date"}
	} else {
		if len(diff) == 0 {
			c.logger.Debug("conversation unchanged, no write",
				zap.String("conversation", item.ConversationID))
			return nil, nil
		}
		if err := c.store.UpdateConversation(ctx, rec.ID, diff); err != nil {
			return nil, err
		}
		for name := range diff {
			fields = append(fields, name)
		}
	}

	c.cache.Commit(item.ConversationID, candidate)
	c.mirrorConversation(identity, item, candidate)
	return fields, nil
}

func (c *Coordinator) mirrorConversation(identity string, item *page.ConversationItem, candidate CachedFields) {
	if c.mirror == nil {
		return
	}
	var lastAt int64
	if candidate.LastMessageDate != "" {
		if t, err := time.Parse(time.RFC3339, candidate.LastMessageDate); err == nil {
			lastAt = t.UnixMilli()
		}
	}
	err := c.mirror.UpsertConversation(&mirror.Conversation{
		ConversationID: item.ConversationID,
		UserName:       identity,
		PhoneNumber:    candidate.PhoneNumber,
		LastMessage:    candidate.LastMessage,
		LastMessageAt:  lastAt,
		AdInfo:         item.AdInfo,
		AdImageURL:     item.AdImageURL,
		UnreadCount:    item.UnreadCount,
	})
	if err != nil {
		c.logger.Warn("mirror conversation write failed",
			zap.String("conversation", item.ConversationID), zap.Error(err))
	}
}

// syncMessages scans the open chat's full history after the dwell period,
// re-validating that the same conversation is still open.
func (c *Coordinator) syncMessages(ctx context.Context, identity, conversationID string) {
	if !sleep(ctx, c.cfg.ChatDwell) {
		return
	}

	doc, err := c.drv.Snapshot(ctx)
	if err != nil {
		c.logger.Warn("message scan snapshot failed", zap.Error(err))
		return
	}
	if got := page.HeaderIdentity(doc); got != identity {
		c.logger.Info("message scan skipped, conversation moved on",
			zap.String("target", identity), zap.String("current", got))
		return
	}

	nodes := page.OpenChatMessages(doc)
	if len(nodes) == 0 {
		return
	}
	msgs := extract.BuildMessages(conversationID, nodes, c.nowFunc(), c.logger)

	stored := 0
	var lastErr error
	for i := range msgs {
		m := &msgs[i]
		rec := &backend.MessageRecord{
			MessageID:      m.MessageID,
			ConversationID: m.ConversationID,
			Sender:         string(m.Sender),
			Content:        m.Content,
			RawTime:        m.RawTime,
			Timestamp:      backend.FormatTime(m.Timestamp),
			DegradedTime:   m.DegradedTime,
		}
		if err := c.store.UpsertMessage(ctx, rec); err != nil {
			lastErr = err
			c.logger.Error("message upsert failed",
				zap.String("message", m.MessageID), zap.Error(err))
			continue
		}
		stored++
		if c.mirror != nil {
			if err := c.mirror.UpsertMessage(&mirror.Message{
				MessageID:      m.MessageID,
				ConversationID: m.ConversationID,
				Sender:         string(m.Sender),
				Content:        m.Content,
				RawTime:        m.RawTime,
				Timestamp:      m.Timestamp.UnixMilli(),
				DegradedTime:   m.DegradedTime,
			}); err != nil {
				c.logger.Warn("mirror message write failed",
					zap.String("message", m.MessageID), zap.Error(err))
			}
		}
	}

	result := bus.SyncResult{ConversationID: conversationID, Messages: stored}
	kind := bus.KindMessagesSynced
	if lastErr != nil {
		result.Err = lastErr.Error()
		kind = bus.KindSyncFailed
	}
	c.bus.Publish(bus.Event{Kind: kind, Timestamp: c.nowFunc(), Payload: result})
}

// findItem matches the open conversation's header identity back to its list
// row, the only place the stable conversation id appears.
func findItem(doc *page.Document, identity string) *page.ConversationItem {
	for _, item := range page.ConversationItems(doc) {
		if item.UserName == identity {
			item := item
			return &item
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
