package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/pr-bro/pkg/types"
)

// PR-related constants.
const (
	perPageLimit = 100 // GitHub API per_page limit
	maxFilePages = 30  // GitHub lists at most 3000 files per pull request

	loginRetryAfter = 30 * time.Second
)

// SearchResult is one page of issue search results.
type SearchResult struct {
	PullRequests []types.PullRequest
	Total        int
	Stale        bool // served from the persisted cache after a failed request
}

// SearchURL returns the issue search URL for query.
func (c *Client) SearchURL(query string) string {
	v := url.Values{}
	v.Set("q", query)
	v.Set("per_page", fmt.Sprint(perPageLimit))
	return c.baseURL + "/search/issues?" + v.Encode()
}

type searchItem struct {
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	PullRequest   *struct{} `json:"pull_request"`
	Title         string    `json:"title"`
	HTMLURL       string    `json:"html_url"`
	RepositoryURL string    `json:"repository_url"`
	User          struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Number int  `json:"number"`
	Draft  bool `json:"draft"`
}

// SearchPullRequests runs an issue search and returns the pull requests in
// result order. Issues that are not pull requests are skipped.
func (c *Client) SearchPullRequests(ctx context.Context, query string, bypassMemory bool) (*SearchResult, error) {
	slog.Info("Searching pull requests", "component", "api", "query", query)
	body, stale, err := c.get(ctx, c.SearchURL(query), bypassMemory)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	var data struct {
		Items      []searchItem `json:"items"`
		TotalCount int          `json:"total_count"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}

	res := &SearchResult{Total: data.TotalCount, Stale: stale}
	for i := range data.Items {
		it := &data.Items[i]
		if it.PullRequest == nil {
			continue
		}
		pr := types.PullRequest{
			Number:     it.Number,
			Title:      it.Title,
			URL:        it.HTMLURL,
			Repository: repoFromURLs(it.RepositoryURL, it.HTMLURL),
			Author:     it.User.Login,
			CreatedAt:  it.CreatedAt,
			UpdatedAt:  it.UpdatedAt,
			Draft:      it.Draft,
		}
		for _, l := range it.Labels {
			pr.Labels = append(pr.Labels, l.Name)
		}
		res.PullRequests = append(res.PullRequests, pr)
	}
	if data.TotalCount > len(data.Items) {
		slog.Debug("Search results truncated to first page", "component", "api", "query", query, "total", data.TotalCount)
	}
	return res, nil
}

// repoFromURLs extracts "owner/repo" from the API repository URL, falling
// back to the HTML URL ("https://github.com/owner/repo/pull/1").
func repoFromURLs(repositoryURL, htmlURL string) string {
	if _, after, ok := strings.Cut(repositoryURL, "/repos/"); ok {
		parts := strings.Split(after, "/")
		if len(parts) >= 2 {
			return parts[0] + "/" + parts[1]
		}
	}
	if u, err := url.Parse(htmlURL); err == nil {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) >= 2 {
			return parts[0] + "/" + parts[1]
		}
	}
	return "unknown/unknown"
}

// Details holds the pull request fields the search API omits.
type Details struct {
	Additions    int
	Deletions    int
	ChangedFiles int
	Draft        bool
}

// PullRequestDetails fetches additions, deletions and draft state.
func (c *Client) PullRequestDetails(ctx context.Context, repo string, number int, bypassMemory bool) (*Details, error) {
	apiURL := fmt.Sprintf("%s/repos/%s/pulls/%d", c.baseURL, repo, number)
	body, _, err := c.get(ctx, apiURL, bypassMemory)
	if err != nil {
		return nil, fmt.Errorf("pull request %s#%d: %w", repo, number, err)
	}
	var data struct {
		Additions    int  `json:"additions"`
		Deletions    int  `json:"deletions"`
		ChangedFiles int  `json:"changed_files"`
		Draft        bool `json:"draft"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decode pull request: %w", err)
	}
	return &Details{Additions: data.Additions, Deletions: data.Deletions, ChangedFiles: data.ChangedFiles, Draft: data.Draft}, nil
}

// ReviewSummary counts approvals and whether the current user has reviewed.
type ReviewSummary struct {
	Approvals    int
	ReviewedByMe bool
}

// Reviews summarizes the review list. Each reviewer's latest approving or
// change-requesting review decides whether they count as an approval.
func (c *Client) Reviews(ctx context.Context, repo string, number int, bypassMemory bool) (*ReviewSummary, error) {
	me, err := c.CurrentUser(ctx)
	if err != nil {
		var ae *AuthError
		if errors.As(err, &ae) || ctx.Err() != nil {
			return nil, err
		}
		// Approvals do not depend on who we are.
		slog.Debug("Summarizing reviews without current user", "component", "api", "repo", repo, "pr", number, "error", err)
		me = ""
	}

	apiURL := fmt.Sprintf("%s/repos/%s/pulls/%d/reviews?per_page=%d", c.baseURL, repo, number, perPageLimit)
	body, _, err := c.get(ctx, apiURL, bypassMemory)
	if err != nil {
		return nil, fmt.Errorf("reviews %s#%d: %w", repo, number, err)
	}
	var reviews []review
	if err := json.Unmarshal(body, &reviews); err != nil {
		return nil, fmt.Errorf("decode reviews: %w", err)
	}
	return summarizeReviews(reviews, me), nil
}

type review struct {
	User struct {
		Login string `json:"login"`
	} `json:"user"`
	State string `json:"state"`
}

func summarizeReviews(reviews []review, me string) *ReviewSummary {
	sum := &ReviewSummary{}
	latest := make(map[string]string)
	for _, r := range reviews {
		login := r.User.Login
		if me != "" && strings.EqualFold(login, me) {
			sum.ReviewedByMe = true
		}
		switch r.State {
		case "APPROVED", "CHANGES_REQUESTED", "DISMISSED":
			latest[login] = r.State
		}
	}
	for _, state := range latest {
		if state == "APPROVED" {
			sum.Approvals++
		}
	}
	return sum
}

// Files lists the changed files of a pull request, following pagination.
func (c *Client) Files(ctx context.Context, repo string, number int, bypassMemory bool) ([]types.FileDiff, error) {
	var all []types.FileDiff
	for page := 1; page <= maxFilePages; page++ {
		apiURL := fmt.Sprintf("%s/repos/%s/pulls/%d/files?per_page=%d&page=%d", c.baseURL, repo, number, perPageLimit, page)
		body, _, err := c.get(ctx, apiURL, bypassMemory)
		if err != nil {
			return nil, fmt.Errorf("files %s#%d page %d: %w", repo, number, page, err)
		}
		var files []struct {
			Filename  string `json:"filename"`
			Additions int    `json:"additions"`
			Deletions int    `json:"deletions"`
		}
		if err := json.Unmarshal(body, &files); err != nil {
			return nil, fmt.Errorf("decode files: %w", err)
		}
		for _, f := range files {
			all = append(all, types.FileDiff{Path: f.Filename, Additions: f.Additions, Deletions: f.Deletions})
		}
		if len(files) < perPageLimit {
			return all, nil
		}
	}
	slog.Debug("File listing hit page limit", "component", "api", "repo", repo, "pr", number, "files", len(all))
	return all, nil
}

// CurrentUser returns the login of the authenticated user. The first
// successful lookup is remembered for the life of the client. A failed lookup
// is remembered for loginRetryAfter so every pull request in a refresh does
// not repeat it. Concurrent callers share one request.
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	c.loginMu.Lock()
	if c.login != "" {
		login := c.login
		c.loginMu.Unlock()
		return login, nil
	}
	if c.loginErr != nil && time.Since(c.loginErrAt) < loginRetryAfter {
		err := c.loginErr
		c.loginMu.Unlock()
		return "", err
	}
	c.loginMu.Unlock()

	v, err, _ := c.loginGroup.Do("login", func() (any, error) {
		login, err := c.fetchLogin(ctx)
		c.loginMu.Lock()
		defer c.loginMu.Unlock()
		switch {
		case err == nil:
			c.login, c.loginErr = login, nil
		case ctx.Err() == nil:
			c.loginErr, c.loginErrAt = err, time.Now()
		}
		return login, err
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) fetchLogin(ctx context.Context) (string, error) {
	body, _, err := c.get(ctx, c.baseURL+"/user", false)
	if err != nil {
		return "", fmt.Errorf("current user: %w", err)
	}
	var u struct {
		Login string `json:"login"`
	}
	if err := json.Unmarshal(body, &u); err != nil {
		return "", fmt.Errorf("decode user: %w", err)
	}
	if u.Login == "" {
		return "", errors.New("current user: empty login")
	}
	return u.Login, nil
}

// ForgetUser drops the remembered login, e.g. after switching credentials.
func (c *Client) ForgetUser() {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	c.login, c.loginErr = "", nil
}
