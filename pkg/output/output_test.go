package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/pr-bro/pkg/effect"
	"github.com/codeGROOVE-dev/pr-bro/pkg/fetch"
	"github.com/codeGROOVE-dev/pr-bro/pkg/scoring"
	"github.com/codeGROOVE-dev/pr-bro/pkg/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFormatAge(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want string
	}{
		{30 * time.Second, "now"},
		{42 * time.Minute, "42m"},
		{5*time.Hour + 59*time.Minute, "5h"},
		{3*24*time.Hour + time.Hour, "3d"},
		{15 * 24 * time.Hour, "2w"},
	}
	for _, tt := range tests {
		if got := FormatAge(tt.age); got != tt.want {
			t.Errorf("FormatAge(%v) = %q, want %q", tt.age, got, tt.want)
		}
	}
}

func TestFormatScore(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0, "0"},
		{87.4, "87"},
		{999, "999"},
		{1000, "1k"},
		{1500, "1.5k"},
		{25000, "25k"},
		{2_000_000, "2M"},
		{3_240_000, "3.2M"},
	}
	for _, tt := range tests {
		if got := FormatScore(tt.score); got != tt.want {
			t.Errorf("FormatScore(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func sampleItem() fetch.Item {
	return fetch.Item{
		PR: types.PullRequest{
			Number:       123,
			Title:        "Fix login bug",
			Author:       "octocat",
			Repository:   "owner/repo",
			URL:          "https://github.com/owner/repo/pull/123",
			CreatedAt:    testNow.Add(-5 * time.Hour),
			Additions:    50,
			Deletions:    10,
			ChangedLines: 60,
			Approvals:    1,
			Labels:       []string{"urgent"},
			SourceQuery:  "Review requested",
			Draft:        true,
		},
		Score: 210,
		Breakdown: scoring.Breakdown{
			Base: 100,
			Steps: []scoring.Step{
				{Factor: scoring.FactorAge, Detail: "+1 per 1h for 5h", Op: effect.Add, Magnitude: 5, Before: 100, After: 105},
				{Factor: scoring.FactorSize, Detail: "60 lines in <100: x2", Op: effect.Multiply, Magnitude: 2, Before: 105, After: 210},
			},
			Final: 210,
		},
	}
}

func TestExplain(t *testing.T) {
	it := sampleItem()
	got := Explain(&it, testNow)
	for _, want := range []string{
		"owner/repo#123: Fix login bug",
		"Author: @octocat | Age: 5h | Size: +50/-10 (60 counted) [DRAFT]",
		"Labels: urgent",
		"https://github.com/owner/repo/pull/123",
		"+5",
		"x2",
		"105 -> 210",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Explain() missing %q:\n%s", want, got)
		}
	}
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	last := strings.Fields(lines[len(lines)-1])
	if diff := cmp.Diff([]string{"score", "210"}, last); diff != "" {
		t.Errorf("last line mismatch (-want +got):\n%s", diff)
	}
}

func TestTable(t *testing.T) {
	if got := Table(nil, testNow, ASCII); got != "No pull requests found.\n" {
		t.Errorf("empty table = %q", got)
	}

	a := sampleItem()
	b := sampleItem()
	b.PR.Number, b.PR.Title, b.PR.Draft, b.Score = 9, "Second", false, 1500
	got := Table([]fetch.Item{b, a}, testNow, ASCII)
	for _, want := range []string{"owner/repo#9", "1.5k", "[draft] Fix login bug", "octocat", "5h"} {
		if !strings.Contains(got, want) {
			t.Errorf("Table() missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "owner/repo#9") > strings.Index(got, "owner/repo#123") {
		t.Error("rows should keep the given order")
	}

	md := Table([]fetch.Item{a}, testNow, Markdown)
	if !strings.HasPrefix(md, "|") {
		t.Errorf("markdown table should start with a pipe:\n%s", md)
	}
}

func TestWriteJSON(t *testing.T) {
	a := sampleItem()
	held := sampleItem()
	held.PR.URL = "https://github.com/owner/repo/pull/5"
	res := &fetch.Result{FetchedAt: testNow, RateLimitRemaining: 4999, Warnings: []string{"query \"x\" timed out"}}

	var buf bytes.Buffer
	err := WriteJSON(&buf, res, []fetch.Item{a}, []fetch.Item{held}, func(string) string { return "2d left" })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var doc jsonResult
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Items) != 1 || len(doc.Snoozed) != 1 {
		t.Fatalf("got %d items and %d snoozed", len(doc.Items), len(doc.Snoozed))
	}
	if doc.Items[0].SnoozedUntil != "" {
		t.Error("active items carry no snooze note")
	}
	if doc.Snoozed[0].SnoozedUntil != "2d left" {
		t.Errorf("snooze note = %q", doc.Snoozed[0].SnoozedUntil)
	}
	want := []jsonStep{
		{Factor: "age", Op: "add 5", Detail: "+1 per 1h for 5h", Before: 100, After: 105},
		{Factor: "size", Op: "multiply 2", Detail: "60 lines in <100: x2", Before: 105, After: 210},
	}
	if diff := cmp.Diff(want, doc.Items[0].Steps); diff != "" {
		t.Errorf("breakdown mismatch (-want +got):\n%s", diff)
	}
	if doc.RateLimitRemaining != 4999 {
		t.Errorf("rate limit = %d", doc.RateLimitRemaining)
	}
}

func TestSummary(t *testing.T) {
	res := &fetch.Result{RateLimitRemaining: -1, TimedOut: true}
	got := Summary(res, 3, 2)
	want := "3 to review, 2 snoozed | refresh timed out, results may be incomplete"
	if got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}
