package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestLiveCollectionPollingFallback(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/realtime" {
			// Feed unavailable: force the degraded polling path.
			http.Error(w, "no realtime", http.StatusNotFound)
			return
		}
		polls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"page": 1, "perPage": 200, "totalItems": 1,
			"items": []map[string]any{{"id": "rec1", "conversation_id": "c-1"}},
		})
	}))
	defer srv.Close()

	client := New(srv.URL, "", nil)
	lc := NewLiveCollection(client, "conversations", time.Hour, 10*time.Millisecond, nil)

	var records atomic.Int32
	lc.OnRecords = func(_ context.Context, items []json.RawMessage) {
		if len(items) == 1 {
			records.Add(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lc.Start(ctx)
	defer lc.Stop()

	deadline := time.After(2 * time.Second)
	for records.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("got %d reconciliations, want >= 2 (degraded polling)", records.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestLiveCollectionFeedDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/realtime" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"page": 1, "perPage": 200, "totalItems": 0, "items": []any{},
			})
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"id\":\"rec1\",\"conversation_id\":\"c-9\"}\n\n"))
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := New(srv.URL, "", nil)
	lc := NewLiveCollection(client, "conversations", time.Hour, time.Hour, nil)

	got := make(chan string, 1)
	lc.OnChange = func(_ context.Context, item json.RawMessage) {
		var rec struct {
			ConversationID string `json:"conversation_id"`
		}
		_ = json.Unmarshal(item, &rec)
		select {
		case got <- rec.ConversationID:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lc.Start(ctx)
	defer lc.Stop()

	select {
	case id := <-got:
		if id != "c-9" {
			t.Errorf("changed record = %q, want c-9", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for feed delivery")
	}
}
