// Package testutil provides mock implementations and testing utilities for pr-bro.
package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// PRFixture describes a pull request served by FakeGitHub.
type PRFixture struct {
	CreatedAt time.Time
	Repo      string // owner/repo
	Title     string
	Author    string
	Labels    []string
	Files     []FileFixture
	Reviews   []ReviewFixture
	Number    int
	Additions int
	Deletions int
	Draft     bool
}

// FileFixture is one changed file.
type FileFixture struct {
	Path      string
	Additions int
	Deletions int
}

// ReviewFixture is one submitted review.
type ReviewFixture struct {
	Login string
	State string
}

// URL returns the html_url of the pull request.
func (p *PRFixture) URL() string {
	return fmt.Sprintf("https://github.com/%s/pull/%d", p.Repo, p.Number)
}

// FakeGitHub is a programmable GitHub REST server covering the endpoints
// pr-bro reads. Responses carry content ETags and honor If-None-Match.
type FakeGitHub struct {
	Server   *httptest.Server
	searches map[string][]string // query -> PR keys
	prs      map[string]*PRFixture
	status   map[string]int
	delays   map[string]time.Duration
	hits     map[string]int
	login    string
	mu       sync.Mutex
}

// NewFakeGitHub starts a server. Close it with t.Cleanup(f.Close).
func NewFakeGitHub(login string) *FakeGitHub {
	f := &FakeGitHub{
		searches: make(map[string][]string),
		prs:      make(map[string]*PRFixture),
		status:   make(map[string]int),
		delays:   make(map[string]time.Duration),
		hits:     make(map[string]int),
		login:    login,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", f.handleUser)
	mux.HandleFunc("GET /search/issues", f.handleSearch)
	mux.HandleFunc("GET /repos/{owner}/{repo}/pulls/{number}", f.handlePull)
	mux.HandleFunc("GET /repos/{owner}/{repo}/pulls/{number}/reviews", f.handleReviews)
	mux.HandleFunc("GET /repos/{owner}/{repo}/pulls/{number}/files", f.handleFiles)
	f.Server = httptest.NewServer(f.wrap(mux))
	return f
}

// URL is the API base URL.
func (f *FakeGitHub) URL() string { return f.Server.URL }

// Close shuts the server down.
func (f *FakeGitHub) Close() { f.Server.Close() }

// AddPR registers a pull request and makes query return it, in call order.
func (f *FakeGitHub) AddPR(query string, pr PRFixture) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := prKey(pr.Repo, pr.Number)
	if _, ok := f.prs[key]; !ok {
		p := pr
		f.prs[key] = &p
	}
	f.searches[query] = append(f.searches[query], key)
}

// FailPath makes every request whose path equals path answer status.
// A zero status clears the failure.
func (f *FakeGitHub) FailPath(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == 0 {
		delete(f.status, path)
		return
	}
	f.status[path] = status
}

// DelayPath holds requests for path until d passes or the client gives up.
func (f *FakeGitHub) DelayPath(path string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[path] = d
}

// Hits returns how many requests reached path, including 304s and failures.
func (f *FakeGitHub) Hits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

// SearchPath is the request path for issue searches.
const SearchPath = "/search/issues"

// PullPath returns the details path for a pull request.
func PullPath(repo string, number int) string {
	return fmt.Sprintf("/repos/%s/pulls/%d", repo, number)
}

func prKey(repo string, number int) string {
	return repo + "#" + strconv.Itoa(number)
}

func (f *FakeGitHub) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.hits[r.URL.Path]++
		status := f.status[r.URL.Path]
		delay := f.delays[r.URL.Path]
		f.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if r.Header.Get("Authorization") == "" {
			http.Error(w, `{"message":"Requires authentication"}`, http.StatusUnauthorized)
			return
		}
		if status != 0 {
			w.Header().Set("X-RateLimit-Remaining", "4999")
			http.Error(w, `{"message":"failure"}`, status)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", "4999")
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes v with a content ETag, answering 304 when it matches.
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sum := sha256.Sum256(body)
	etag := `"` + hex.EncodeToString(sum[:8]) + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body) //nolint:errcheck // client may have gone away
}

func (f *FakeGitHub) handleUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, map[string]any{"login": f.login})
}

func (f *FakeGitHub) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	f.mu.Lock()
	keys, ok := f.searches[q]
	items := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		pr := f.prs[k]
		labels := make([]map[string]any, 0, len(pr.Labels))
		for _, l := range pr.Labels {
			labels = append(labels, map[string]any{"name": l})
		}
		items = append(items, map[string]any{
			"number":         pr.Number,
			"title":          pr.Title,
			"html_url":       pr.URL(),
			"repository_url": "https://api.github.com/repos/" + pr.Repo,
			"user":           map[string]any{"login": pr.Author},
			"labels":         labels,
			"draft":          pr.Draft,
			"created_at":     pr.CreatedAt.UTC().Format(time.RFC3339),
			"updated_at":     pr.CreatedAt.UTC().Format(time.RFC3339),
			"pull_request":   map[string]any{"url": "https://api.github.com" + PullPath(pr.Repo, pr.Number)},
		})
	}
	f.mu.Unlock()
	if !ok {
		http.Error(w, `{"message":"Validation Failed"}`, http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, r, map[string]any{"total_count": len(items), "items": items})
}

func (f *FakeGitHub) lookup(r *http.Request) (*PRFixture, bool) {
	n, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		return nil, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.prs[prKey(r.PathValue("owner")+"/"+r.PathValue("repo"), n)]
	return pr, ok
}

func (f *FakeGitHub) handlePull(w http.ResponseWriter, r *http.Request) {
	pr, ok := f.lookup(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, r, map[string]any{
		"number":        pr.Number,
		"additions":     pr.Additions,
		"deletions":     pr.Deletions,
		"changed_files": len(pr.Files),
		"draft":         pr.Draft,
	})
}

func (f *FakeGitHub) handleReviews(w http.ResponseWriter, r *http.Request) {
	pr, ok := f.lookup(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	out := make([]map[string]any, 0, len(pr.Reviews))
	for _, rv := range pr.Reviews {
		out = append(out, map[string]any{"user": map[string]any{"login": rv.Login}, "state": rv.State})
	}
	writeJSON(w, r, out)
}

func (f *FakeGitHub) handleFiles(w http.ResponseWriter, r *http.Request) {
	pr, ok := f.lookup(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	perPage, err := strconv.Atoi(r.URL.Query().Get("per_page"))
	if err != nil || perPage <= 0 {
		perPage = 30
	}
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page <= 0 {
		page = 1
	}
	start := min((page-1)*perPage, len(pr.Files))
	end := min(start+perPage, len(pr.Files))
	out := make([]map[string]any, 0, end-start)
	for _, fl := range pr.Files[start:end] {
		out = append(out, map[string]any{"filename": fl.Path, "additions": fl.Additions, "deletions": fl.Deletions})
	}
	writeJSON(w, r, out)
}
