// Package github is a small GitHub REST client for the reads pr-bro needs:
// issue search, pull request details, reviews and changed files. Every read
// goes through the response cache as a conditional GET.
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/sync/singleflight"

	"github.com/codeGROOVE-dev/pr-bro/pkg/cache"
)

// DefaultBaseURL is the public GitHub REST endpoint.
const DefaultBaseURL = "https://api.github.com"

// Retry constants. Delays stay short so a retried request still fits inside
// one refresh.
const (
	maxRetryAttempts  = 3
	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 4 * time.Second
)

// AuthError reports that GitHub rejected the credential.
type AuthError struct {
	Message string
	Status  int
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github authentication failed (status %d)", e.Status)
	}
	return fmt.Sprintf("github authentication failed (status %d): %s", e.Status, e.Message)
}

// statusError is a retryable HTTP status.
type statusError struct {
	status int
	reason string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, e.reason)
}

// permanentError stops retries.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

// Client handles all GitHub API interactions.
type Client struct {
	httpClient HTTPDoer
	tokens     TokenSource
	cache      *cache.ResponseCache
	baseURL    string
	loginErrAt time.Time
	loginErr   error
	login      string
	loginGroup singleflight.Group
	loginMu    sync.Mutex
	rateLimit  atomic.Int64
	retryDelay time.Duration
}

// Config holds configuration for creating a new GitHub client.
type Config struct {
	HTTPClient  HTTPDoer // defaults to an *http.Client with HTTPTimeout
	Tokens      TokenSource
	Cache       *cache.ResponseCache
	BaseURL     string // defaults to DefaultBaseURL
	HTTPTimeout time.Duration
	RetryDelay  time.Duration // first backoff delay; defaults to 500ms
}

// New creates a new GitHub API client.
func New(cfg Config) (*Client, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("github client needs a token source")
	}
	if cfg.Cache == nil {
		return nil, errors.New("github client needs a response cache")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = initialRetryDelay
	}
	c := &Client{
		httpClient: httpClient,
		tokens:     cfg.Tokens,
		cache:      cfg.Cache,
		baseURL:    base,
		retryDelay: delay,
	}
	c.rateLimit.Store(-1)
	return c, nil
}

// RateLimitRemaining returns the last X-RateLimit-Remaining value seen, or
// -1 before any response carried one.
func (c *Client) RateLimitRemaining() int {
	return int(c.rateLimit.Load())
}

// drainAndCloseBody drains and closes an HTTP response body to prevent resource leaks.
func drainAndCloseBody(body io.ReadCloser) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		slog.Debug("Failed to drain response body", "component", "http", "error", err)
	}
	if err := body.Close(); err != nil {
		slog.Debug("Failed to close response body", "component", "http", "error", err)
	}
}

// sanitizeURLForLogging drops the query string, which may carry search terms.
func sanitizeURLForLogging(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[invalid url]"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

// Fetcher returns a cache.Fetcher performing a conditional GET of apiURL.
func (c *Client) Fetcher(apiURL string) cache.Fetcher {
	return func(ctx context.Context, etag string) (*cache.Response, error) {
		return c.conditionalGet(ctx, apiURL, etag)
	}
}

func (c *Client) conditionalGet(ctx context.Context, apiURL, etag string) (*cache.Response, error) {
	sanitizedURL := sanitizeURLForLogging(apiURL)
	slog.Debug("HTTP request", "component", "http", "method", http.MethodGet, "url", sanitizedURL, "conditional", etag != "")

	var out *cache.Response
	err := c.retryWithBackoff(ctx, "GET "+sanitizedURL, func() error {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return permanent(fmt.Errorf("get token: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, http.NoBody)
		if err != nil {
			return permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer drainAndCloseBody(resp.Body)

		c.recordRateLimit(resp.Header)

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // message is informational
			return permanent(&AuthError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))})
		case resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
			slog.Warn("Rate limited - will retry with backoff", "component", "http", "url", sanitizedURL, "status", resp.StatusCode)
			return &statusError{status: resp.StatusCode, reason: "rate limited"}
		case resp.StatusCode >= http.StatusInternalServerError && resp.StatusCode < 600:
			slog.Warn("Server error - will retry with backoff", "component", "http", "url", sanitizedURL, "status", resp.StatusCode)
			return &statusError{status: resp.StatusCode, reason: "server error"}
		case resp.StatusCode != http.StatusOK:
			out = &cache.Response{Status: resp.StatusCode}
			return nil
		}

		body, truncated, err := readBody(resp)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		out = &cache.Response{
			Status:    resp.StatusCode,
			ETag:      resp.Header.Get("ETag"),
			Body:      body,
			Truncated: truncated,
		}
		return nil
	})
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return &cache.Response{Status: se.status}, nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return nil, pe.err
		}
		return nil, err
	}

	slog.Debug("HTTP response", "component", "http", "url", sanitizedURL, "status", out.Status, "bytes", len(out.Body))
	return out, nil
}

// readBody reads the full body and reports whether it was cut short.
func readBody(resp *http.Response) (body []byte, truncated bool, err error) {
	body, err = io.ReadAll(resp.Body)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return body, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	if resp.ContentLength >= 0 && int64(len(body)) != resp.ContentLength {
		return body, true, nil
	}
	return body, false, nil
}

func (c *Client) recordRateLimit(h http.Header) {
	v := h.Get("X-RateLimit-Remaining")
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	c.rateLimit.Store(int64(n))
	if n < 100 {
		slog.Warn("GitHub rate limit running low", "component", "http", "remaining", n)
	}
}

// retryWithBackoff executes a function with exponential backoff using the codeGROOVE retry library.
func (c *Client) retryWithBackoff(ctx context.Context, operation string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(uint(maxRetryAttempts)),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(c.retryDelay/4+1),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("Retry attempt", "component", "retry", "operation", operation, "attempt", n+1, "max_attempts", maxRetryAttempts, "error", err)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
	)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return true
	}
	var pe *permanentError
	if errors.As(err, &pe) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "EOF")
}

// get reads apiURL through the response cache. A stale result is returned
// with stale set; authentication failures are always returned as errors.
func (c *Client) get(ctx context.Context, apiURL string, bypassMemory bool) (body []byte, stale bool, err error) {
	res, err := c.cache.GetOrFetch(ctx, apiURL, c.Fetcher(apiURL), bypassMemory)
	if err != nil {
		return nil, false, err
	}
	if res.Stale {
		var ae *AuthError
		if errors.As(res.Err, &ae) {
			return nil, false, ae
		}
	}
	return res.Body, res.Stale, nil
}
