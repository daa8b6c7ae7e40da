// Package fetch runs one refresh: every query is searched in parallel, each
// pull request is enriched with reviews and optional per-file sizes, and the
// merged set is scored and ranked.
package fetch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/codeGROOVE-dev/pr-bro/pkg/config"
	"github.com/codeGROOVE-dev/pr-bro/pkg/github"
	"github.com/codeGROOVE-dev/pr-bro/pkg/scoring"
	"github.com/codeGROOVE-dev/pr-bro/pkg/types"
)

// Defaults.
const (
	DefaultTimeout           = 20 * time.Second
	DefaultPerPRTimeout      = 10 * time.Second
	DefaultEnrichConcurrency = 8
)

// ErrAllQueriesFailed is returned when no query produced results.
var ErrAllQueriesFailed = errors.New("all queries failed; check your network connection and GitHub token")

// API is the subset of the GitHub client a refresh needs.
type API interface {
	SearchPullRequests(ctx context.Context, query string, bypassMemory bool) (*github.SearchResult, error)
	PullRequestDetails(ctx context.Context, repo string, number int, bypassMemory bool) (*github.Details, error)
	Reviews(ctx context.Context, repo string, number int, bypassMemory bool) (*github.ReviewSummary, error)
	Files(ctx context.Context, repo string, number int, bypassMemory bool) ([]types.FileDiff, error)
	RateLimitRemaining() int
}

// Reauthenticator replaces a rejected credential.
type Reauthenticator interface {
	Refresh(ctx context.Context) (string, error)
}

// ReauthFunc adapts a function to Reauthenticator.
type ReauthFunc func(ctx context.Context) (string, error)

// Refresh calls f.
func (f ReauthFunc) Refresh(ctx context.Context) (string, error) { return f(ctx) }

// Request describes one refresh.
type Request struct {
	Queries []config.Query
	// Manual refreshes bypass the in-process cache tier.
	Manual bool
}

// Item is one ranked pull request.
type Item struct {
	Breakdown scoring.Breakdown
	PR        types.PullRequest
	Score     float64
}

// Result is the outcome of a refresh.
type Result struct {
	FetchedAt          time.Time
	Items              []Item
	Warnings           []string
	RateLimitRemaining int // -1 when unknown
	// Partial is set when at least one query contributed nothing.
	Partial bool
	// TimedOut is set when the refresh deadline cut work short.
	TimedOut bool
}

// Split separates snoozed pull requests, keeping rank order in both lists.
func (r *Result) Split(snoozed func(url string) bool) (active, held []Item) {
	for _, it := range r.Items {
		if snoozed(it.PR.URL) {
			held = append(held, it)
		} else {
			active = append(active, it)
		}
	}
	return active, held
}

// Orchestrator performs refreshes against an API.
type Orchestrator struct {
	api          API
	now          func() time.Time
	timeout      time.Duration
	perPRTimeout time.Duration
	concurrency  int64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout bounds a whole refresh.
func WithTimeout(d time.Duration) Option { return func(o *Orchestrator) { o.timeout = d } }

// WithPerPRTimeout bounds the enrichment of a single pull request.
func WithPerPRTimeout(d time.Duration) Option { return func(o *Orchestrator) { o.perPRTimeout = d } }

// WithEnrichConcurrency bounds concurrent enrichment requests across all queries.
func WithEnrichConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = int64(max(n, 1)) }
}

// WithClock sets the time source used for scoring.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// New creates an Orchestrator.
func New(api API, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:          api,
		now:          time.Now,
		timeout:      DefaultTimeout,
		perPRTimeout: DefaultPerPRTimeout,
		concurrency:  DefaultEnrichConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// queryResult is what one query task hands back. Each task owns its slot.
type queryResult struct {
	err   error
	prs   []types.PullRequest
	done  bool
	stale bool
}

// Refresh searches every query, enriches and scores the results. Failed
// queries become warnings; an authentication failure aborts the refresh with
// a *github.AuthError. When the deadline passes, whatever finished is
// returned with TimedOut set.
func (o *Orchestrator) Refresh(ctx context.Context, req Request) (*Result, error) {
	start := o.now()
	rctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	results := make([]queryResult, len(req.Queries))
	sem := semaphore.NewWeighted(o.concurrency)
	g, gctx := errgroup.WithContext(rctx)

	for i := range req.Queries {
		q := &req.Queries[i]
		g.Go(func() error {
			prs, stale, err := o.runQuery(gctx, sem, q, i, req.Manual)
			if isAuth(err) {
				return err
			}
			results[i] = queryResult{prs: prs, err: err, done: err == nil, stale: stale}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		FetchedAt:          start,
		RateLimitRemaining: o.api.RateLimitRemaining(),
		TimedOut:           errors.Is(rctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil,
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	succeeded := 0
	var errs []error
	for i, qr := range results {
		name := req.Queries[i].Name
		if !qr.done {
			res.Partial = true
			msg := fmt.Sprintf("query %q failed: %v", name, qr.err)
			if errors.Is(qr.err, context.DeadlineExceeded) {
				msg = fmt.Sprintf("query %q timed out", name)
			}
			res.Warnings = append(res.Warnings, msg)
			errs = append(errs, fmt.Errorf("%s: %w", name, qr.err))
			continue
		}
		succeeded++
		if qr.stale {
			res.Warnings = append(res.Warnings, fmt.Sprintf("query %q: GitHub unreachable, showing cached results", name))
		}
	}
	if succeeded == 0 && len(req.Queries) > 0 && !res.TimedOut {
		return nil, fmt.Errorf("%w: %w", ErrAllQueriesFailed, errors.Join(errs...))
	}

	res.Items = o.rank(req.Queries, results)
	slog.Info("Refresh complete", "component", "fetch", "items", len(res.Items), "queries", len(req.Queries),
		"warnings", len(res.Warnings), "timed_out", res.TimedOut, "elapsed", o.now().Sub(start))
	return res, nil
}

// runQuery searches q and enriches every result. Enrichment problems never
// fail the query; authentication failures do.
func (o *Orchestrator) runQuery(ctx context.Context, sem *semaphore.Weighted, q *config.Query, index int, manual bool) (prs []types.PullRequest, stale bool, err error) {
	sr, err := o.api.SearchPullRequests(ctx, q.Search, manual)
	if err != nil {
		slog.Warn("Query failed", "component", "fetch", "query", q.Name, "error", err)
		return nil, false, err
	}
	slog.Debug("Query returned", "component", "fetch", "query", q.Name, "count", len(sr.PullRequests), "stale", sr.Stale)

	prs = slices.Clone(sr.PullRequests)
	g, gctx := errgroup.WithContext(ctx)
	for i := range prs {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				// Deadline hit while queued; fall back to aggregate size.
				prs[i].ChangedLines = prs[i].AggregateSize()
				return nil
			}
			defer sem.Release(1)
			return o.enrich(gctx, &prs[i], &q.Policy, manual)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	for i := range prs {
		prs[i].SourceQuery = q.Name
		prs[i].SourceQueryIndex = index
	}
	return prs, sr.Stale, nil
}

// enrich fills size, review and file data. Only an authentication failure is
// returned; anything else degrades to what the search result already has.
func (o *Orchestrator) enrich(ctx context.Context, pr *types.PullRequest, policy *scoring.Policy, manual bool) error {
	ctx, cancel := context.WithTimeout(ctx, o.perPRTimeout)
	defer cancel()

	log := slog.With("component", "fetch", "pr", pr.ShortRef())

	if d, err := o.api.PullRequestDetails(ctx, pr.Repository, pr.Number, manual); err != nil {
		if isAuth(err) {
			return err
		}
		log.Debug("Details unavailable", "error", err)
	} else {
		pr.Additions, pr.Deletions, pr.Draft = d.Additions, d.Deletions, d.Draft
	}
	pr.ChangedLines = pr.AggregateSize()

	if rs, err := o.api.Reviews(ctx, pr.Repository, pr.Number, manual); err != nil {
		if isAuth(err) {
			return err
		}
		log.Debug("Reviews unavailable", "error", err)
	} else {
		pr.Approvals, pr.ReviewedByMe = rs.Approvals, rs.ReviewedByMe
	}

	if !policy.ExcludesFiles() {
		return nil
	}
	files, err := o.api.Files(ctx, pr.Repository, pr.Number, manual)
	if err != nil {
		if isAuth(err) {
			return err
		}
		log.Debug("File list unavailable, using aggregate size", "error", err)
		return nil
	}
	pr.FileDiffs = files
	pr.ChangedLines = scoring.NetChangedLines(files, policy.Size.Exclude)
	return nil
}

func isAuth(err error) bool {
	var ae *github.AuthError
	return errors.As(err, &ae)
}

// rank dedupes by URL with the first declared query winning, scores each pull
// request with its owning query's policy and sorts by score. Ties keep query
// order, then fetch order.
func (o *Orchestrator) rank(queries []config.Query, results []queryResult) []Item {
	now := o.now()
	seen := make(map[string]bool)
	var items []Item
	for qi, qr := range results {
		if !qr.done {
			continue
		}
		policy := &queries[qi].Policy
		for i := range qr.prs {
			pr := qr.prs[i]
			if seen[pr.URL] {
				continue
			}
			seen[pr.URL] = true
			score, bd := scoring.Score(&pr, policy, now)
			items = append(items, Item{PR: pr, Score: score, Breakdown: bd})
		}
	}
	slices.SortStableFunc(items, func(a, b Item) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return items
}

// RefreshWithReauth runs Refresh and, when GitHub rejects the credential,
// asks reauth for a new one and tries once more.
func (o *Orchestrator) RefreshWithReauth(ctx context.Context, req Request, reauth Reauthenticator) (*Result, error) {
	res, err := o.Refresh(ctx, req)
	if err == nil || !isAuth(err) || reauth == nil {
		return res, err
	}
	slog.Warn("GitHub rejected the token; re-authenticating", "component", "fetch", "error", err)
	if _, rerr := reauth.Refresh(ctx); rerr != nil {
		return nil, fmt.Errorf("%w (re-authentication failed: %w)", err, rerr)
	}
	if f, ok := o.api.(interface{ ForgetUser() }); ok {
		f.ForgetUser()
	}
	return o.Refresh(ctx, req)
}
