package syncer

import "testing"

func TestCacheDiffEmptyCache(t *testing.T) {
	c := NewCache()
	diff := c.Diff("c-1", CachedFields{
		PhoneNumber:     "912345678",
		LastMessage:     "Olá",
		LastMessageDate: "2026-09-01T22:38:00Z",
	})
	if len(diff) != 3 {
		t.Fatalf("diff = %v, want all three fields", diff)
	}
}

func TestCacheDiffAfterCommit(t *testing.T) {
	c := NewCache()
	fields := CachedFields{
		PhoneNumber:     "912345678",
		LastMessage:     "Olá",
		LastMessageDate: "2026-09-01T22:38:00Z",
	}
	c.Commit("c-1", fields)

	if diff := c.Diff("c-1", fields); len(diff) != 0 {
		t.Fatalf("diff after commit = %v, want empty", diff)
	}

	fields.LastMessage = "Sim, está!"
	diff := c.Diff("c-1", fields)
	if len(diff) != 1 {
		t.Fatalf("diff = %v, want only last_message", diff)
	}
	if diff["last_message"] != "Sim, está!" {
		t.Fatalf("diff = %v", diff)
	}
}

func TestCacheEmptyValuesNeverDiff(t *testing.T) {
	c := NewCache()
	c.Commit("c-1", CachedFields{PhoneNumber: "912345678"})

	// A pass that failed to extract the phone must not diff it to empty.
	diff := c.Diff("c-1", CachedFields{LastMessage: "nova"})
	if _, ok := diff["phone_number"]; ok {
		t.Fatalf("empty phone diffed as a change: %v", diff)
	}
}

func TestCacheCommitKeepsOlderValues(t *testing.T) {
	c := NewCache()
	c.Commit("c-1", CachedFields{PhoneNumber: "912345678"})
	c.Commit("c-1", CachedFields{LastMessage: "nova"})

	got := c.Get("c-1")
	if got.PhoneNumber != "912345678" || got.LastMessage != "nova" {
		t.Fatalf("entry = %+v", got)
	}
}

func TestCacheReset(t *testing.T) {
	c := NewCache()
	c.Commit("c-1", CachedFields{PhoneNumber: "912345678"})
	c.Reset()
	if got := c.Get("c-1"); got.PhoneNumber != "" {
		t.Fatalf("entry survived reset: %+v", got)
	}
}
