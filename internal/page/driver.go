package page

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Driver abstracts the live browser page. The production implementation is
// ChromeDriver; tests script their own.
type Driver interface {
	// Snapshot captures and parses the current page HTML.
	Snapshot(ctx context.Context) (*Document, error)
	// Click dispatches a primary activation on the element at selector.
	Click(ctx context.Context, selector string) error
	// Eval runs JavaScript in the page, decoding the result into out when
	// out is non-nil.
	Eval(ctx context.Context, js string, out any) error
	// Navigate loads the given URL in the attached tab.
	Navigate(ctx context.Context, url string) error
}

// Watcher drives the snapshot loop: one goroutine captures the page on a
// fixed interval and hands each Document to the registered handlers in
// order. Handlers run on the watcher goroutine, so they must stay small —
// this is the single event thread everything else hangs off.
type Watcher struct {
	drv      Driver
	interval time.Duration
	logger   *zap.Logger
	handlers []func(*Document)
	cancel   context.CancelFunc
}

// NewWatcher creates a watcher polling the driver at the given interval.
func NewWatcher(drv Driver, interval time.Duration, logger *zap.Logger) *Watcher {
	return &Watcher{
		drv:      drv,
		interval: interval,
		logger:   logger,
	}
}

// OnSnapshot registers a handler. Must be called before Start.
func (w *Watcher) OnSnapshot(fn func(*Document)) {
	w.handlers = append(w.handlers, fn)
}

// Start begins the snapshot loop.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
}

// Stop stops the loop.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Watcher) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			doc, err := w.drv.Snapshot(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.Warn("snapshot failed", zap.Error(err))
				continue
			}
			for _, fn := range w.handlers {
				fn(doc)
			}
		case <-ctx.Done():
			return
		}
	}
}
