package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jpvalente/adsync/internal/bus"
	"github.com/jpvalente/adsync/internal/page"
)

type fakeDriver struct {
	mu     sync.Mutex
	html   string
	seq    uint64
	clicks []string
}

func (d *fakeDriver) Snapshot(_ context.Context) (*page.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	return page.ParseDocument(d.html, d.seq)
}

func (d *fakeDriver) Click(_ context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicks = append(d.clicks, selector)
	return nil
}

func (d *fakeDriver) clicked() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.clicks...)
}

func listHTML(unread ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><ul>`)
	for _, id := range unread {
		fmt.Fprintf(&b, `<li data-testid="conversation-item" data-conversation-id=%q>
<span data-testid="user-name">User %s</span>
<span data-testid="unread-badge">1</span>
</li>`, id, id)
	}
	b.WriteString(`<li data-testid="conversation-item" data-conversation-id="c-read">
<span data-testid="user-name">Read User</span>
</li></ul></body></html>`)
	return b.String()
}

func testWalker(drv Driver, b *bus.Bus, delay time.Duration) *Walker {
	w := New(drv, b, Config{
		ScanInterval: time.Hour,
		MinOpenDelay: time.Hour,
		MaxOpenDelay: 2 * time.Hour,
	}, nil)
	w.delayFn = func() time.Duration { return delay }
	return w
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestWalkerSchedulesSingleFlight(t *testing.T) {
	drv := &fakeDriver{html: listHTML("c-1", "c-2", "c-3")}
	b := bus.New()
	events, cancel := b.Subscribe("queue.", 16)
	defer cancel()

	w := testWalker(drv, b, 30*time.Millisecond)
	ctx := context.Background()
	w.scan(ctx)
	w.scan(ctx)
	w.scan(ctx)

	evt := waitEvent(t, events, bus.KindQueueScheduled)
	sched := evt.Payload.(bus.QueueSchedule)
	if sched.ConversationID != "c-1" {
		t.Errorf("scheduled %s, want c-1", sched.ConversationID)
	}

	// Only one open may be pending despite three unread rows and three scans.
	select {
	case extra := <-events:
		if extra.Kind == bus.KindQueueScheduled {
			t.Fatalf("second schedule while one pending: %+v", extra.Payload)
		}
	case <-time.After(10 * time.Millisecond):
	}

	waitEvent(t, events, bus.KindQueueOpened)
	clicks := drv.clicked()
	if len(clicks) != 1 {
		t.Fatalf("clicks = %v, want one open", clicks)
	}
	if !strings.Contains(clicks[0], "c-1") {
		t.Errorf("click selector = %q", clicks[0])
	}
}

func TestWalkerNeverReopensProcessed(t *testing.T) {
	drv := &fakeDriver{html: listHTML("c-1", "c-2")}
	b := bus.New()
	events, cancel := b.Subscribe("queue.", 16)
	defer cancel()

	w := testWalker(drv, b, time.Millisecond)
	ctx := context.Background()

	w.scan(ctx)
	waitEvent(t, events, bus.KindQueueOpened)

	w.scan(ctx)
	evt := waitEvent(t, events, bus.KindQueueScheduled)
	if got := evt.Payload.(bus.QueueSchedule).ConversationID; got != "c-2" {
		t.Errorf("second schedule = %s, want c-2", got)
	}
	waitEvent(t, events, bus.KindQueueOpened)

	// Everything unread was processed; further scans stay quiet.
	w.scan(ctx)
	select {
	case extra := <-events:
		t.Fatalf("unexpected event after queue drained: %s", extra.Kind)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestWalkerIdleWhileChatOpen(t *testing.T) {
	open := strings.Replace(listHTML("c-1"), "</body>",
		`<header data-testid="chat-top-bar" data-conversation-id="c-9"><h2>Open Chat</h2></header></body>`, 1)
	drv := &fakeDriver{html: open}
	b := bus.New()
	events, cancel := b.Subscribe("queue.", 16)
	defer cancel()

	w := testWalker(drv, b, time.Millisecond)
	w.scan(context.Background())

	select {
	case evt := <-events:
		t.Fatalf("scheduled while a chat is open: %s", evt.Kind)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestWalkerAbortsWhenChatOpensDuringDelay(t *testing.T) {
	drv := &fakeDriver{html: listHTML("c-1")}
	b := bus.New()
	events, cancel := b.Subscribe("queue.", 16)
	defer cancel()

	w := testWalker(drv, b, 50*time.Millisecond)
	w.scan(context.Background())
	waitEvent(t, events, bus.KindQueueScheduled)

	// The user opens a chat while the walker waits out its delay.
	w.mu.Lock()
	w.chatOpen = true
	w.mu.Unlock()

	select {
	case evt := <-events:
		if evt.Kind == bus.KindQueueOpened {
			t.Fatal("walker opened a conversation over the user's chat")
		}
	case <-time.After(100 * time.Millisecond):
	}
	if got := drv.clicked(); len(got) != 0 {
		t.Fatalf("clicks = %v, want none", got)
	}
}

func TestWalkerResetAllowsReprocessing(t *testing.T) {
	drv := &fakeDriver{html: listHTML("c-1")}
	b := bus.New()
	events, cancel := b.Subscribe("queue.", 16)
	defer cancel()

	w := testWalker(drv, b, time.Millisecond)
	ctx := context.Background()

	w.scan(ctx)
	waitEvent(t, events, bus.KindQueueOpened)

	w.Reset()
	w.scan(ctx)
	evt := waitEvent(t, events, bus.KindQueueScheduled)
	if got := evt.Payload.(bus.QueueSchedule).ConversationID; got != "c-1" {
		t.Errorf("schedule after reset = %s, want c-1", got)
	}
}

func TestWalkerRunReactsToChatClosed(t *testing.T) {
	drv := &fakeDriver{html: listHTML("c-1")}
	b := bus.New()
	events, cancel := b.Subscribe("queue.", 16)
	defer cancel()

	w := testWalker(drv, b, time.Millisecond)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Publish(bus.Event{Kind: bus.KindChatClosed, Timestamp: time.Now(), Payload: "Old Chat"})

	waitEvent(t, events, bus.KindQueueOpened)

	stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}
