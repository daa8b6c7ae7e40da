package testutil

import (
	"sync"
	"time"
)

// MockTimeProvider is a settable clock. It satisfies cache.Clock.
type MockTimeProvider struct {
	current time.Time
	mu      sync.Mutex
}

// NewMockTimeProvider creates a new MockTimeProvider with the given current time.
func NewMockTimeProvider(now time.Time) *MockTimeProvider {
	return &MockTimeProvider{current: now}
}

// Now returns the configured current time.
func (m *MockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Advance advances the mock time by the given duration.
func (m *MockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}

// Set moves the clock to t.
func (m *MockTimeProvider) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}
