package detect

import (
	"sync"
	"time"

	"github.com/jpvalente/adsync/internal/bus"
	"github.com/jpvalente/adsync/internal/page"
	"go.uber.org/zap"
)

// Detector watches page snapshots and decides "the visible conversation
// changed". Identity is the header's display name — the only signal stable
// enough to key on, with the known consequence that two conversations
// sharing a display name are indistinguishable here.
//
// Bursts of intermediate snapshots during a UI transition are coalesced
// through a trailing debounce so one user action produces one change event.
type Detector struct {
	bus      *bus.Bus
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	lastSeen string
	pending  string
	chatOpen bool
	timer    *time.Timer
}

// New creates a detector publishing on the given bus.
func New(b *bus.Bus, debounce time.Duration, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		bus:      b,
		debounce: debounce,
		logger:   logger,
	}
}

// HandleSnapshot is registered on the page watcher. It must stay cheap:
// snapshots arrive at page re-render frequency.
func (d *Detector) HandleSnapshot(doc *page.Document) {
	identity := page.HeaderIdentity(doc)
	open := identity != ""

	d.mu.Lock()
	defer d.mu.Unlock()

	if open != d.chatOpen {
		d.chatOpen = open
		kind := bus.KindChatOpened
		payload := identity
		if !open {
			kind = bus.KindChatClosed
			payload = d.lastSeen
		}
		d.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
	}

	if identity == d.lastSeen {
		// The page settled back on the current conversation; any
		// transient identity that flashed by mid-render must not fire.
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
			d.pending = ""
		}
		return
	}
	if identity == "" {
		// Chat closed with a change still pending: the conversation it
		// announced is no longer on screen.
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
			d.pending = ""
		}
		return
	}
	if identity == d.pending && d.timer != nil {
		return
	}

	d.pending = identity
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, d.fire)
}

// fire runs on the debounce timer goroutine.
func (d *Detector) fire() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == "" || d.pending == d.lastSeen {
		return
	}
	change := bus.ConversationChange{Previous: d.lastSeen, New: d.pending}
	d.lastSeen = d.pending
	d.pending = ""
	d.timer = nil

	d.logger.Info("conversation changed",
		zap.String("previous", change.Previous), zap.String("new", change.New))
	d.bus.Publish(bus.Event{
		Kind:      bus.KindConversationChanged,
		Timestamp: time.Now(),
		Payload:   change,
	})
}

// Current returns the last settled identity.
func (d *Detector) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}

// Stop cancels any pending debounce timer.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
