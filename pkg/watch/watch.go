// Package watch subscribes to real-time pull request events over the
// sprinkler WebSocket service and turns them into refresh triggers.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/sprinkler/pkg/client"
)

const (
	eventDedupWindow   = 5 * time.Second  // Time window for deduplicating events
	eventMapMaxSize    = 1000             // Maximum entries in event dedup map
	eventMapCleanupAge = 1 * time.Hour    // Age threshold for cleaning up old entries
	reconnectBackoff   = 30 * time.Second // Initial backoff between reconnection attempts
	maxReconnectDelay  = 5 * time.Minute
	maxReconnects      = 20
)

// TokenFunc returns the current GitHub token.
type TokenFunc func(ctx context.Context) (string, error)

// Monitor watches pull request events and signals when a refresh is due.
// Bursts of events collapse into a single pending trigger.
type Monitor struct {
	mu           sync.RWMutex
	lastEventMap map[string]time.Time
	token        TokenFunc
	relevant     func(url string) bool
	now          func() time.Time
	connect      func(ctx context.Context) error
	trigger      chan string
	serverURL    string
	orgs         map[string]bool
	isConnected  bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithOrgs restricts triggers to events for pull requests in these orgs.
func WithOrgs(orgs ...string) Option {
	return func(m *Monitor) {
		for _, o := range orgs {
			m.orgs[strings.ToLower(o)] = true
		}
	}
}

// WithFilter sets a predicate deciding whether an event URL warrants a refresh,
// for example whether the pull request is currently listed.
func WithFilter(f func(url string) bool) Option {
	return func(m *Monitor) { m.relevant = f }
}

// WithServerURL overrides the sprinkler endpoint.
func WithServerURL(u string) Option {
	return func(m *Monitor) { m.serverURL = u }
}

// New creates a Monitor. Call Run to connect.
func New(token TokenFunc, opts ...Option) *Monitor {
	m := &Monitor{
		token:        token,
		now:          time.Now,
		trigger:      make(chan string, 1),
		lastEventMap: make(map[string]time.Time),
		orgs:         make(map[string]bool),
		serverURL:    "wss://" + client.DefaultServerAddress + "/ws",
	}
	m.connect = m.connectWebSocket
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Triggers delivers the URL of a changed pull request whenever a refresh is
// due. At most one trigger is pending at a time.
func (m *Monitor) Triggers() <-chan string {
	return m.trigger
}

// Connected reports whether the WebSocket is currently up.
func (m *Monitor) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isConnected
}

// Run keeps the subscription alive until ctx is cancelled. The sprinkler
// client reconnects on its own; Run restarts it with backoff when it gives up.
func (m *Monitor) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Connection manager panic", "component", "watch", "panic", r)
		}
	}()

	attempts := 0
	for {
		err := m.connect(ctx)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			slog.Debug("Watch stopped", "component", "watch")
			return
		}
		backoff := 5 * time.Second
		if err != nil {
			attempts++
			if attempts >= maxReconnects {
				slog.Error("Max reconnection attempts reached, live updates disabled", "component", "watch", "attempts", attempts)
				return
			}
			backoff = min(reconnectBackoff*time.Duration(attempts), maxReconnectDelay)
			slog.Warn("WebSocket client gave up, will restart after backoff",
				"component", "watch", "attempt", attempts, "backoff", backoff, "error", err)
		} else {
			attempts = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (m *Monitor) connectWebSocket(ctx context.Context) error {
	config := client.Config{
		ServerURL:    m.serverURL,
		Organization: "*",
		TokenProvider: func() (string, error) {
			token, err := m.token(ctx)
			if err != nil {
				return "", fmt.Errorf("failed to get token: %w", err)
			}
			return token, nil
		},
		EventTypes:     []string{"pull_request"},
		UserEventsOnly: true,
		Verbose:        false,
		NoReconnect:    false,
		OnConnect: func() {
			m.setConnected(true)
			slog.Info("WebSocket connected", "component", "watch")
		},
		OnDisconnect: func(err error) {
			m.setConnected(false)
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("WebSocket disconnected", "component", "watch", "error", err)
			}
		},
		OnEvent: m.handleEvent,
	}

	wsClient, err := client.New(config)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	start := time.Now()
	if err := wsClient.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("WebSocket client stopped with error", "component", "watch",
			"uptime", time.Since(start).Round(time.Second), "error", err)
		return err
	}
	return nil
}

func (m *Monitor) setConnected(v bool) {
	m.mu.Lock()
	m.isConnected = v
	m.mu.Unlock()
}

// handleEvent filters, dedupes and forwards one event.
func (m *Monitor) handleEvent(event client.Event) {
	if event.Type != "pull_request" || event.URL == "" {
		return
	}

	org, ok := orgFromURL(event.URL)
	if !ok {
		slog.Debug("Ignoring event with unexpected URL", "component", "watch", "url", event.URL)
		return
	}
	if len(m.orgs) > 0 && !m.orgs[strings.ToLower(org)] {
		return
	}
	if m.relevant != nil && !m.relevant(event.URL) {
		return
	}

	m.mu.Lock()
	now := m.now()
	if last, seen := m.lastEventMap[event.URL]; seen && now.Sub(last) < eventDedupWindow {
		m.mu.Unlock()
		return
	}
	m.lastEventMap[event.URL] = now
	if len(m.lastEventMap) > eventMapMaxSize {
		cutoff := now.Add(-eventMapCleanupAge)
		for url, ts := range m.lastEventMap {
			if ts.Before(cutoff) {
				delete(m.lastEventMap, url)
			}
		}
	}
	m.mu.Unlock()

	slog.Debug("PR event received", "component", "watch", "url", event.URL)
	select {
	case m.trigger <- event.URL:
	default:
		// a refresh is already pending
	}
}

// orgFromURL extracts the owner from https://github.com/org/repo/pull/123.
func orgFromURL(url string) (string, bool) {
	parts := strings.Split(url, "/")
	const minParts = 5
	if len(parts) < minParts || parts[2] != "github.com" || parts[3] == "" {
		return "", false
	}
	return parts[3], true
}
