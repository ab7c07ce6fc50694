package queue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jpvalente/adsync/internal/bus"
	"github.com/jpvalente/adsync/internal/page"
)

// Driver is the slice of page.Driver the walker needs.
type Driver interface {
	Snapshot(ctx context.Context) (*page.Document, error)
	Click(ctx context.Context, selector string) error
}

// Config bounds the walker's pacing.
type Config struct {
	// ScanInterval is how often the list is scanned while no chat is open.
	ScanInterval time.Duration
	// MinOpenDelay and MaxOpenDelay bound the randomized wait before the
	// walker opens a scheduled conversation. The jitter keeps the open
	// pattern from looking mechanical.
	MinOpenDelay time.Duration
	MaxOpenDelay time.Duration
}

// Walker drains unread conversations one at a time. It only acts while no
// chat is open, schedules at most one open at a time, and never reopens a
// conversation it already processed in this run.
type Walker struct {
	drv    Driver
	bus    *bus.Bus
	cfg    Config
	logger *zap.Logger

	// delayFn produces the randomized open delay; swapped in tests.
	delayFn func() time.Duration

	mu        sync.Mutex
	processed map[string]bool
	busy      bool
	chatOpen  bool
}

// New creates a walker.
func New(drv Driver, b *bus.Bus, cfg Config, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Walker{
		drv:       drv,
		bus:       b,
		cfg:       cfg,
		logger:    logger,
		processed: make(map[string]bool),
	}
	w.delayFn = w.randomDelay
	return w
}

// Run scans on the interval and re-scans when a chat closes, until the
// context ends.
func (w *Walker) Run(ctx context.Context) {
	events, cancel := w.bus.Subscribe("page.chat_", 16)
	defer cancel()

	ticker := time.NewTicker(w.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			w.mu.Lock()
			w.chatOpen = evt.Kind == bus.KindChatOpened
			w.mu.Unlock()
			if evt.Kind == bus.KindChatClosed {
				w.scan(ctx)
			}
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

// Reset forgets which conversations were already processed. Used after a
// backend wipe so everything gets walked again.
func (w *Walker) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.processed = make(map[string]bool)
}

// scan picks the next unread conversation and schedules its open. At most
// one open is in flight; a scan while one is pending does nothing.
func (w *Walker) scan(ctx context.Context) {
	w.mu.Lock()
	if w.busy || w.chatOpen {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	doc, err := w.drv.Snapshot(ctx)
	if err != nil {
		w.logger.Warn("walker snapshot failed", zap.Error(err))
		return
	}
	if page.IsChatOpen(doc) {
		w.mu.Lock()
		w.chatOpen = true
		w.mu.Unlock()
		return
	}

	var next *page.ConversationItem
	for _, item := range page.ConversationItems(doc) {
		if item.UnreadCount == 0 || item.ConversationID == "" {
			continue
		}
		w.mu.Lock()
		seen := w.processed[item.ConversationID]
		w.mu.Unlock()
		if !seen {
			item := item
			next = &item
			break
		}
	}
	if next == nil {
		return
	}

	w.mu.Lock()
	if w.busy {
		w.mu.Unlock()
		return
	}
	w.busy = true
	w.mu.Unlock()

	delay := w.delayFn()
	w.logger.Info("unread conversation scheduled",
		zap.String("conversation", next.ConversationID),
		zap.Int("unread", next.UnreadCount),
		zap.Duration("delay", delay))
	w.bus.Publish(bus.Event{
		Kind:      bus.KindQueueScheduled,
		Timestamp: time.Now(),
		Payload:   bus.QueueSchedule{ConversationID: next.ConversationID, Delay: delay},
	})

	go w.openAfter(ctx, next.ConversationID, delay)
}

// openAfter waits the human-looking delay and opens the conversation,
// unless a chat opened in the meantime.
func (w *Walker) openAfter(ctx context.Context, conversationID string, delay time.Duration) {
	defer func() {
		w.mu.Lock()
		w.busy = false
		w.mu.Unlock()
	}()

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return
	}

	w.mu.Lock()
	open := w.chatOpen
	w.mu.Unlock()
	if open {
		// The user beat us to it; the next scan reschedules.
		return
	}

	selector := fmt.Sprintf(`[data-conversation-id=%q]`, conversationID)
	if err := w.drv.Click(ctx, selector); err != nil {
		w.logger.Warn("failed to open conversation",
			zap.String("conversation", conversationID), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.processed[conversationID] = true
	w.mu.Unlock()

	w.logger.Info("unread conversation opened", zap.String("conversation", conversationID))
	w.bus.Publish(bus.Event{
		Kind:      bus.KindQueueOpened,
		Timestamp: time.Now(),
		Payload:   conversationID,
	})
}

func (w *Walker) randomDelay() time.Duration {
	min, max := w.cfg.MinOpenDelay, w.cfg.MaxOpenDelay
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
