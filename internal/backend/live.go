package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LiveCollection is the one subscribe-with-polling-fallback abstraction for
// a backend table: it tries the SSE change feed and, while that is down,
// polls the full record list on a degraded cadence. Even with a healthy
// feed a nominal-cadence poll reconciles missed events. Parameterized by
// table name and reconciliation handler so every consumer shares this
// implementation instead of growing its own.
type LiveCollection struct {
	client   *Client
	table    string
	nominal  time.Duration
	degraded time.Duration
	logger   *zap.Logger

	// OnRecords receives the full record list on every poll.
	OnRecords func(ctx context.Context, items []json.RawMessage)
	// OnChange receives a single changed record from the SSE feed.
	OnChange func(ctx context.Context, item json.RawMessage)

	cancel context.CancelFunc
	live   chan bool
}

// NewLiveCollection creates a live view over one table.
func NewLiveCollection(client *Client, table string, nominal, degraded time.Duration, logger *zap.Logger) *LiveCollection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveCollection{
		client:   client,
		table:    table,
		nominal:  nominal,
		degraded: degraded,
		logger:   logger,
		live:     make(chan bool, 1),
	}
}

// Start launches the feed and polling goroutines.
func (lc *LiveCollection) Start(ctx context.Context) {
	ctx, lc.cancel = context.WithCancel(ctx)
	go lc.feedLoop(ctx)
	go lc.pollLoop(ctx)
}

// Stop stops both loops.
func (lc *LiveCollection) Stop() {
	if lc.cancel != nil {
		lc.cancel()
	}
}

// feedLoop keeps an SSE subscription open, reconnecting with a flat delay.
func (lc *LiveCollection) feedLoop(ctx context.Context) {
	for {
		if err := lc.consumeFeed(ctx); err != nil && ctx.Err() == nil {
			lc.logger.Warn("realtime feed unavailable, polling degraded",
				zap.String("table", lc.table), zap.Error(err))
		}
		lc.setLive(false)
		select {
		case <-time.After(lc.degraded):
		case <-ctx.Done():
			return
		}
	}
}

func (lc *LiveCollection) consumeFeed(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lc.client.RealtimeURL(lc.table), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if tok := lc.client.Token(); tok != "" {
		req.Header.Set("Authorization", tok)
	}

	// The stream outlives the default request timeout.
	httpClient := &http.Client{}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}

	lc.setLive(true)
	lc.logger.Info("realtime feed connected", zap.String("table", lc.table))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || lc.OnChange == nil {
			continue
		}
		lc.OnChange(ctx, json.RawMessage(payload))
	}
	return scanner.Err()
}

// pollLoop reconciles with full lists: nominal cadence while the feed is
// live, degraded cadence while it is not.
func (lc *LiveCollection) pollLoop(ctx context.Context) {
	isLive := false
	lc.poll(ctx)
	for {
		interval := lc.degraded
		if isLive {
			interval = lc.nominal
		}
		select {
		case isLive = <-lc.live:
		case <-time.After(interval):
			lc.poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (lc *LiveCollection) poll(ctx context.Context) {
	if lc.OnRecords == nil {
		return
	}
	items, err := lc.client.List(ctx, lc.table, "")
	if err != nil {
		if ctx.Err() == nil {
			lc.logger.Warn("poll failed", zap.String("table", lc.table), zap.Error(err))
		}
		return
	}
	lc.OnRecords(ctx, items)
}

func (lc *LiveCollection) setLive(v bool) {
	select {
	case lc.live <- v:
	default:
	}
}
