package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/pr-bro/pkg/cache"
	"github.com/codeGROOVE-dev/pr-bro/pkg/internal/testutil"
	"github.com/codeGROOVE-dev/pr-bro/pkg/types"
)

var created = time.Date(2025, 2, 27, 9, 0, 0, 0, time.UTC)

func newFakeClient(t *testing.T, fake *testutil.FakeGitHub) *Client {
	t.Helper()
	store, err := cache.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err := New(Config{
		Tokens:     StaticToken("test-token"),
		Cache:      cache.New(store),
		BaseURL:    fake.URL(),
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func newFake(t *testing.T) *testutil.FakeGitHub {
	t.Helper()
	f := testutil.NewFakeGitHub("me")
	t.Cleanup(f.Close)
	return f
}

func TestSearchPullRequests(t *testing.T) {
	fake := newFake(t)
	fake.AddPR("is:pr review-requested:@me", testutil.PRFixture{
		Repo: "acme/api", Number: 12, Title: "Add retries", Author: "alice",
		Labels: []string{"Urgent", "backend"}, CreatedAt: created,
	})
	fake.AddPR("is:pr review-requested:@me", testutil.PRFixture{
		Repo: "acme/web", Number: 7, Title: "Fix layout", Author: "bob", Draft: true, CreatedAt: created,
	})
	c := newFakeClient(t, fake)

	res, err := c.SearchPullRequests(context.Background(), "is:pr review-requested:@me", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []types.PullRequest{
		{
			Number: 12, Title: "Add retries", Author: "alice", Repository: "acme/api",
			URL: "https://github.com/acme/api/pull/12", Labels: []string{"Urgent", "backend"},
			CreatedAt: created, UpdatedAt: created,
		},
		{
			Number: 7, Title: "Fix layout", Author: "bob", Repository: "acme/web",
			URL: "https://github.com/acme/web/pull/7", Draft: true,
			CreatedAt: created, UpdatedAt: created,
		},
	}
	if diff := cmp.Diff(want, res.PullRequests); diff != "" {
		t.Errorf("SearchPullRequests mismatch (-want +got):\n%s", diff)
	}
	if res.Total != 2 || res.Stale {
		t.Errorf("Total = %d, Stale = %v", res.Total, res.Stale)
	}
}

func TestSearchPullRequests_SkipsIssues(t *testing.T) {
	doer := testutil.NewMockHTTPDoer()
	c, _ := newTestClient(t, doer)
	body := `{"total_count":2,"items":[
		{"number":1,"title":"an issue","html_url":"https://github.com/o/r/issues/1"},
		{"number":2,"title":"a pr","html_url":"https://github.com/o/r/pull/2","pull_request":{}}
	]}`
	doer.SetJSON(c.SearchURL("q"), 200, body, "")

	res, err := c.SearchPullRequests(context.Background(), "q", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.PullRequests) != 1 || res.PullRequests[0].Number != 2 {
		t.Fatalf("expected only the pull request, got %+v", res.PullRequests)
	}
	if res.PullRequests[0].Repository != "o/r" {
		t.Errorf("Repository = %q, want o/r", res.PullRequests[0].Repository)
	}
}

func TestSearchPullRequests_Failure(t *testing.T) {
	fake := newFake(t)
	c := newFakeClient(t, fake)
	// The fake rejects unknown queries with 422.
	if _, err := c.SearchPullRequests(context.Background(), "is:pr nonsense", false); err == nil {
		t.Fatal("expected error")
	}
}

func TestPullRequestDetails(t *testing.T) {
	fake := newFake(t)
	fake.AddPR("q", testutil.PRFixture{Repo: "acme/api", Number: 3, Additions: 120, Deletions: 30, Draft: true})
	c := newFakeClient(t, fake)

	got, err := c.PullRequestDetails(context.Background(), "acme/api", 3, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &Details{Additions: 120, Deletions: 30, Draft: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PullRequestDetails mismatch (-want +got):\n%s", diff)
	}
}

func TestReviews(t *testing.T) {
	fake := newFake(t)
	fake.AddPR("q", testutil.PRFixture{Repo: "acme/api", Number: 3, Reviews: []testutil.ReviewFixture{
		{Login: "alice", State: "APPROVED"},
		{Login: "bob", State: "APPROVED"},
		{Login: "bob", State: "CHANGES_REQUESTED"},
		{Login: "Me", State: "COMMENTED"},
		{Login: "carol", State: "COMMENTED"},
	}})
	c := newFakeClient(t, fake)

	got, err := c.Reviews(context.Background(), "acme/api", 3, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &ReviewSummary{Approvals: 1, ReviewedByMe: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Reviews mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarizeReviews(t *testing.T) {
	rv := func(login, state string) review {
		var r review
		r.User.Login = login
		r.State = state
		return r
	}
	tests := []struct {
		want    *ReviewSummary
		name    string
		me      string
		reviews []review
	}{
		{name: "none", want: &ReviewSummary{}},
		{
			name:    "comment after approval keeps approval",
			reviews: []review{rv("a", "APPROVED"), rv("a", "COMMENTED")},
			want:    &ReviewSummary{Approvals: 1},
		},
		{
			name:    "dismissed approval",
			reviews: []review{rv("a", "APPROVED"), rv("a", "DISMISSED")},
			want:    &ReviewSummary{},
		},
		{
			name:    "re-approval counts once",
			reviews: []review{rv("a", "APPROVED"), rv("a", "CHANGES_REQUESTED"), rv("a", "APPROVED"), rv("b", "APPROVED")},
			want:    &ReviewSummary{Approvals: 2},
		},
		{
			name:    "my pending review",
			me:      "me",
			reviews: []review{rv("me", "PENDING")},
			want:    &ReviewSummary{ReviewedByMe: true},
		},
		{
			name:    "unknown user never matches",
			reviews: []review{rv("me", "APPROVED")},
			want:    &ReviewSummary{Approvals: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := summarizeReviews(tt.reviews, tt.me)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("summarizeReviews mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFiles_Pagination(t *testing.T) {
	fake := newFake(t)
	files := make([]testutil.FileFixture, 250)
	for i := range files {
		files[i] = testutil.FileFixture{Path: fmt.Sprintf("f%03d.go", i), Additions: 1, Deletions: 1}
	}
	fake.AddPR("q", testutil.PRFixture{Repo: "acme/api", Number: 9, Files: files})
	c := newFakeClient(t, fake)

	got, err := c.Files(context.Background(), "acme/api", 9, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 250 {
		t.Fatalf("got %d files, want 250", len(got))
	}
	if got[0].Path != "f000.go" || got[249].Path != "f249.go" {
		t.Errorf("unexpected order: first %q last %q", got[0].Path, got[249].Path)
	}
	if hits := fake.Hits(testutil.PullPath("acme/api", 9) + "/files"); hits != 3 {
		t.Errorf("file pages requested = %d, want 3", hits)
	}
}

func TestFiles_ExactPageBoundary(t *testing.T) {
	fake := newFake(t)
	files := make([]testutil.FileFixture, perPageLimit)
	for i := range files {
		files[i] = testutil.FileFixture{Path: fmt.Sprintf("f%d", i)}
	}
	fake.AddPR("q", testutil.PRFixture{Repo: "acme/api", Number: 1, Files: files})
	c := newFakeClient(t, fake)

	got, err := c.Files(context.Background(), "acme/api", 1, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != perPageLimit {
		t.Errorf("got %d files, want %d", len(got), perPageLimit)
	}
}

func TestCurrentUser_Remembered(t *testing.T) {
	fake := newFake(t)
	c := newFakeClient(t, fake)
	ctx := context.Background()

	for range 2 {
		login, err := c.CurrentUser(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if login != "me" {
			t.Errorf("login = %q, want me", login)
		}
	}
	if hits := fake.Hits("/user"); hits != 1 {
		t.Errorf("/user requested %d times, want 1", hits)
	}

	c.ForgetUser()
	if _, err := c.CurrentUser(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits := fake.Hits("/user"); hits != 1 {
		t.Errorf("a forgotten login should be served by the memory cache, got %d hits", hits)
	}
}

func TestCurrentUser_FailureRemembered(t *testing.T) {
	fake := newFake(t)
	fake.FailPath("/user", http.StatusNotFound)
	c := newFakeClient(t, fake)
	ctx := context.Background()

	for range 3 {
		if _, err := c.CurrentUser(ctx); err == nil {
			t.Fatal("expected error")
		}
	}
	if hits := fake.Hits("/user"); hits != 1 {
		t.Errorf("/user requested %d times, want 1", hits)
	}
}

func TestReviews_WithoutCurrentUser(t *testing.T) {
	fake := newFake(t)
	fake.AddPR("q", testutil.PRFixture{Repo: "acme/api", Number: 3, Reviews: []testutil.ReviewFixture{
		{Login: "bob", State: "APPROVED"},
		{Login: "me", State: "APPROVED"},
	}})
	fake.FailPath("/user", http.StatusNotFound)
	c := newFakeClient(t, fake)

	got, err := c.Reviews(context.Background(), "acme/api", 3, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &ReviewSummary{Approvals: 2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Reviews mismatch (-want +got):\n%s", diff)
	}
}

func TestReviews_AuthFailureOnUser(t *testing.T) {
	fake := newFake(t)
	fake.AddPR("q", testutil.PRFixture{Repo: "acme/api", Number: 3})
	fake.FailPath("/user", http.StatusUnauthorized)
	c := newFakeClient(t, fake)

	_, err := c.Reviews(context.Background(), "acme/api", 3, false)
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestRepoFromURLs(t *testing.T) {
	tests := []struct {
		repoURL string
		htmlURL string
		want    string
	}{
		{"https://api.github.com/repos/acme/api", "", "acme/api"},
		{"", "https://github.com/acme/web/pull/4", "acme/web"},
		{"", "", "unknown/unknown"},
	}
	for _, tt := range tests {
		if got := repoFromURLs(tt.repoURL, tt.htmlURL); got != tt.want {
			t.Errorf("repoFromURLs(%q, %q) = %q, want %q", tt.repoURL, tt.htmlURL, got, tt.want)
		}
	}
}
