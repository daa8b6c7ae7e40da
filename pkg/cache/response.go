package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultFreshFor is how long a memory entry is served without asking the server.
	DefaultFreshFor = 60 * time.Second
	// DefaultRetention is how long persisted entries are kept after they were stored.
	DefaultRetention = 7 * 24 * time.Hour
)

// HitType indicates where a result came from.
type HitType string

// Result sources.
const (
	HitMemory      HitType = "memory"      // fresh in-process entry, no request made
	HitRevalidated HitType = "revalidated" // server answered 304 Not Modified
	HitNetwork     HitType = "network"     // new body from the server
	HitStale       HitType = "stale"       // request failed, persisted entry served
)

// Result is a response body served by GetOrFetch.
type Result struct {
	Err    error // the failure that forced a stale result
	Body   []byte
	Source HitType
	Stale  bool
}

// FetchError reports a request that failed with no cached copy to fall back on.
type FetchError struct {
	Err    error
	Key    string
	Status int
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("fetch %s: status %d: %v", e.Key, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
	default:
		return fmt.Sprintf("fetch %s: status %d", e.Key, e.Status)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

var errTruncated = errors.New("response body truncated or malformed")

// Option configures a ResponseCache.
type Option func(*ResponseCache)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(rc *ResponseCache) { rc.clock = c }
}

// WithFreshFor sets how long memory entries are served without revalidation.
func WithFreshFor(d time.Duration) Option {
	return func(rc *ResponseCache) { rc.freshFor = d }
}

// WithRetention sets the age after which persisted entries are evicted.
func WithRetention(d time.Duration) Option {
	return func(rc *ResponseCache) { rc.retention = d }
}

// ResponseCache serves API responses from memory, then from a conditional
// request revalidated against the persisted tier, falling back to the
// persisted body when the request fails.
type ResponseCache struct {
	clock     Clock
	mem       *Memory
	store     Persistence
	group     singleflight.Group
	freshFor  time.Duration
	retention time.Duration
}

// New creates a ResponseCache over store and evicts persisted entries older
// than the retention horizon before returning.
func New(store Persistence, opts ...Option) *ResponseCache {
	rc := &ResponseCache{
		clock:     realClock{},
		mem:       NewMemory(),
		store:     store,
		freshFor:  DefaultFreshFor,
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(rc)
	}
	if n, err := rc.Evict(); err != nil {
		slog.Warn("Failed to evict old cache entries", "component", "cache", "error", err)
	} else if n > 0 {
		slog.Info("Evicted old cache entries", "component", "cache", "removed", n)
	}
	return rc
}

// GetOrFetch returns the body for key.
//
// Unless bypassMemory is set, a memory entry validated within the freshness
// window is returned without a request. Otherwise fetch is called with the
// persisted ETag: 304 refreshes the validation time only, a complete 200
// replaces the entry in both tiers, and any other outcome returns the
// persisted body marked Stale, or a *FetchError when nothing is cached.
// Truncated or malformed bodies are never stored.
func (c *ResponseCache) GetOrFetch(ctx context.Context, key string, fetch Fetcher, bypassMemory bool) (Result, error) {
	if !bypassMemory {
		if e, ok := c.mem.Get(key); ok && c.clock.Now().Sub(e.LastValidatedAt) < c.freshFor {
			slog.Debug("Memory cache hit", "component", "cache", "key", key)
			return Result{Body: e.Body, Source: HitMemory}, nil
		}
	}

	// The shared fetch runs under the first caller's context. Callers within
	// one refresh share its deadline, so a later caller is never cut short
	// by an earlier one's. A canceled fetch is not stored, so the next call
	// retries.
	v, err, shared := c.group.Do(key, func() (any, error) {
		return c.revalidate(ctx, key, fetch)
	})
	if shared {
		slog.Debug("Shared in-flight request", "component", "cache", "key", key)
	}
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil //nolint:forcetypeassert // revalidate only returns Result
}

func (c *ResponseCache) revalidate(ctx context.Context, key string, fetch Fetcher) (Result, error) {
	cached, haveCached := c.store.Read(key)
	if !haveCached {
		cached, haveCached = c.mem.Get(key)
	}
	etag := ""
	if haveCached {
		etag = cached.ETag
	}

	resp, err := fetch(ctx, etag)
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	now := c.clock.Now()

	if err == nil {
		switch {
		case resp.Status == http.StatusNotModified && haveCached:
			cached.LastValidatedAt = now
			c.put(key, cached)
			slog.Debug("Cache revalidated", "component", "cache", "key", key)
			return Result{Body: cached.Body, Source: HitRevalidated}, nil

		case resp.Status == http.StatusOK && !resp.Truncated && json.Valid(resp.Body):
			e := Entry{
				Key:             key,
				ETag:            resp.ETag,
				Body:            resp.Body,
				StoredAt:        now,
				LastValidatedAt: now,
			}
			c.put(key, e)
			return Result{Body: e.Body, Source: HitNetwork}, nil

		case resp.Status == http.StatusOK:
			err = errTruncated
		default:
			err = fmt.Errorf("unexpected status %d", resp.Status)
		}
	}

	fe := &FetchError{Key: key, Err: err}
	if resp != nil {
		fe.Status = resp.Status
	}
	if haveCached {
		slog.Warn("Serving stale cache entry", "component", "cache", "key", key,
			"stored_at", cached.StoredAt, "error", fe)
		return Result{Body: cached.Body, Source: HitStale, Stale: true, Err: fe}, nil
	}
	return Result{}, fe
}

func (c *ResponseCache) put(key string, e Entry) {
	c.mem.Set(key, e)
	if err := c.store.Write(key, e); err != nil {
		slog.Warn("Failed to persist cache entry", "component", "cache", "key", key, "error", err)
	}
}

// Evict removes persisted entries stored before the retention horizon and
// returns how many were removed.
func (c *ResponseCache) Evict() (int, error) {
	entries, err := c.store.List()
	if err != nil {
		return 0, err
	}
	cutoff := c.clock.Now().Add(-c.retention)
	removed := 0
	for _, e := range entries {
		if !e.StoredAt.Before(cutoff) {
			continue
		}
		if err := c.store.Remove(e.Key); err != nil {
			slog.Debug("Failed to evict cache entry", "component", "cache", "key", e.Key, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Clear drops both tiers.
func (c *ResponseCache) Clear() error {
	c.mem.Clear()
	return c.store.RemoveAll()
}
