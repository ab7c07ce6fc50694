package syncer

import "sync"

// CachedFields holds the last values confirmed written to the backend for
// one conversation. Only the fields that churn are tracked; the rest are
// cheap enough to re-send.
type CachedFields struct {
	PhoneNumber     string
	LastMessage     string
	LastMessageDate string
}

// Cache remembers what the backend already has, so a rescan of an unchanged
// conversation produces zero writes. Entries are committed only after the
// backend confirmed the write: a failed write leaves the cache untouched and
// the next pass retries the same diff.
type Cache struct {
	mu      sync.Mutex
	entries map[string]CachedFields
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]CachedFields)}
}

// Diff returns the subset of candidate fields that differ from the cached
// values, as a backend patch. Empty candidate values are never diffed in:
// absence of a field on this pass does not mean it changed to empty.
func (c *Cache) Diff(conversationID string, candidate CachedFields) map[string]any {
	c.mu.Lock()
	cached := c.entries[conversationID]
	c.mu.Unlock()

	fields := make(map[string]any)
	if candidate.PhoneNumber != "" && candidate.PhoneNumber != cached.PhoneNumber {
		fields["phone_number"] = candidate.PhoneNumber
	}
	if candidate.LastMessage != "" && candidate.LastMessage != cached.LastMessage {
		fields["last_message"] = candidate.LastMessage
	}
	if candidate.LastMessageDate != "" && candidate.LastMessageDate != cached.LastMessageDate {
		fields["last_message_date"] = candidate.LastMessageDate
	}
	return fields
}

// Commit records a confirmed write. Only non-empty values overwrite the
// cached entry.
func (c *Cache) Commit(conversationID string, written CachedFields) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached := c.entries[conversationID]
	if written.PhoneNumber != "" {
		cached.PhoneNumber = written.PhoneNumber
	}
	if written.LastMessage != "" {
		cached.LastMessage = written.LastMessage
	}
	if written.LastMessageDate != "" {
		cached.LastMessageDate = written.LastMessageDate
	}
	c.entries[conversationID] = cached
}

// Get returns the cached entry for a conversation.
func (c *Cache) Get(conversationID string) CachedFields {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[conversationID]
}

// Reset empties the cache, forcing full re-sync on the next pass. Used after
// a backend wipe.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]CachedFields)
}
