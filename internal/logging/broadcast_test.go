package logging

import (
	"testing"
	"time"

	"github.com/jpvalente/adsync/internal/bus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestBroadcastRetainsAndSequences(t *testing.T) {
	buf := NewBroadcast(nil, 3)

	for _, msg := range []string{"a", "b", "c", "d"} {
		buf.Append("info", msg, time.Now())
	}

	got := buf.Since(0)
	if len(got) != 3 {
		t.Fatalf("retained %d entries, want 3", len(got))
	}
	// "a" fell off the ring; seqs keep counting.
	if got[0].Message != "b" || got[0].Seq != 2 {
		t.Errorf("oldest = %q seq %d, want b seq 2", got[0].Message, got[0].Seq)
	}
	if got[2].Message != "d" || got[2].Seq != 4 {
		t.Errorf("newest = %q seq %d, want d seq 4", got[2].Message, got[2].Seq)
	}
}

func TestBroadcastSince(t *testing.T) {
	buf := NewBroadcast(nil, 10)
	buf.Append("info", "one", time.Now())
	buf.Append("info", "two", time.Now())

	got := buf.Since(1)
	if len(got) != 1 || got[0].Message != "two" {
		t.Errorf("Since(1) = %v, want [two]", got)
	}
	if len(buf.Since(2)) != 0 {
		t.Error("Since(latest) should be empty")
	}
}

func TestBroadcastPublishesOnBus(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("log.", 10)
	defer unsub()

	buf := NewBroadcast(b, 10)
	buf.Append("warn", "careful", time.Now())

	select {
	case evt := <-ch:
		e, ok := evt.Payload.(Entry)
		if !ok || e.Message != "careful" || e.Level != "warn" {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for log event")
	}
}

func TestBroadcastCoreCapturesZapFields(t *testing.T) {
	buf := NewBroadcast(nil, 10)
	logger := zap.New(buf.Core(zapcore.InfoLevel))

	logger.Info("synced", zap.String("conversation", "Maria"))

	got := buf.Since(0)
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	if got[0].Message != "synced conversation=Maria" {
		t.Errorf("message = %q", got[0].Message)
	}
}

func TestBroadcastCoreLevelFilter(t *testing.T) {
	buf := NewBroadcast(nil, 10)
	logger := zap.New(buf.Core(zapcore.WarnLevel))

	logger.Info("quiet")
	logger.Warn("loud")

	got := buf.Since(0)
	if len(got) != 1 || got[0].Message != "loud" {
		t.Errorf("entries = %v, want only loud", got)
	}
}
