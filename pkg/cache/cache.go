// Package cache provides the two-tier HTTP response cache used for GitHub
// API reads: an in-process map for the current session and a persisted tier
// on disk that survives restarts, kept current with ETag revalidation.
package cache

import (
	"encoding/json"
	"sync"
	"time"
)

// Entry is one cached response body and its validator.
type Entry struct {
	StoredAt        time.Time       `json:"stored_at"`         // when the body was last replaced
	LastValidatedAt time.Time       `json:"last_validated_at"` // when the server last confirmed it
	Key             string          `json:"key"`
	ETag            string          `json:"etag,omitempty"`
	Body            json.RawMessage `json:"body"`
}

// Memory is the in-process tier. Concurrent writes to one key are
// last-writer-wins.
type Memory struct {
	entries map[string]Entry
	mu      sync.RWMutex
}

// NewMemory creates an empty in-process tier.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

// Get returns the entry stored under key.
func (m *Memory) Get(key string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok
}

// Set stores e under key.
func (m *Memory) Set(key string, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
}

// Clear drops every entry.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry)
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
