package logging

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jpvalente/adsync/internal/bus"
	"go.uber.org/zap/zapcore"
)

// Entry is one broadcast log line.
type Entry struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Broadcast retains the last N log entries in memory and republishes each on
// the bus, so viewer surfaces opened after emission still see recent lines.
// Entries are transient: nothing is persisted beyond the ring.
type Broadcast struct {
	mu      sync.Mutex
	entries []Entry
	next    uint64
	cap     int
	bus     *bus.Bus
}

// NewBroadcast creates a broadcast buffer retaining at most capacity entries.
func NewBroadcast(b *bus.Bus, capacity int) *Broadcast {
	if capacity <= 0 {
		capacity = 500
	}
	return &Broadcast{
		cap: capacity,
		bus: b,
	}
}

// Append records an entry, assigns it a sequence number, and publishes it.
func (b *Broadcast) Append(level, message string, at time.Time) Entry {
	b.mu.Lock()
	b.next++
	e := Entry{Seq: b.next, Time: at, Level: level, Message: message}
	b.entries = append(b.entries, e)
	if len(b.entries) > b.cap {
		b.entries = b.entries[len(b.entries)-b.cap:]
	}
	b.mu.Unlock()

	if b.bus != nil {
		b.bus.Publish(bus.Event{Kind: bus.KindLogEntry, Timestamp: at, Payload: e})
	}
	return e
}

// Since returns all retained entries with Seq > after, oldest first.
func (b *Broadcast) Since(after uint64) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Entry
	for _, e := range b.entries {
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out
}

// Core returns a zapcore.Core that feeds this buffer.
func (b *Broadcast) Core(enab zapcore.LevelEnabler) zapcore.Core {
	return &broadcastCore{buf: b, LevelEnabler: enab}
}

type broadcastCore struct {
	zapcore.LevelEnabler
	buf    *Broadcast
	fields []zapcore.Field
}

func (c *broadcastCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(clone.fields[:len(clone.fields):len(clone.fields)], fields...)
	return &clone
}

func (c *broadcastCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *broadcastCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	msg := ent.Message
	// Render fields compactly; the feed is for eyeballs, not parsing.
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		if k == "session" || k == "pid" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		msg += " " + k + "=" + stringify(enc.Fields[k])
	}
	c.buf.Append(ent.Level.String(), msg, ent.Time)
	return nil
}

func (c *broadcastCore) Sync() error { return nil }

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case error:
		return s.Error()
	default:
		return fmt.Sprint(v)
	}
}
