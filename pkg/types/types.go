// Package types contains shared data structures used across the ranking system.
//
//nolint:revive // "types" is a standard Go package name for shared data structures
package types

import (
	"fmt"
	"time"
)

// PullRequest represents one pull request as seen during a single refresh.
// A refresh builds new values; callers must not mutate them afterwards.
type PullRequest struct {
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Title            string
	Author           string
	Repository       string // "owner/repo"
	URL              string // HTML URL, also the identity used for dedupe and snooze
	SourceQuery      string
	Labels           []string
	FileDiffs        []FileDiff // nil unless enrichment succeeded
	Number           int
	Additions        int
	Deletions        int
	ChangedLines     int // net of excluded files when FileDiffs is set
	Approvals        int
	SourceQueryIndex int
	Draft            bool
	ReviewedByMe     bool
}

// FileDiff holds the per-file line counts of a pull request.
type FileDiff struct {
	Path      string
	Additions int
	Deletions int
}

// Lines returns the number of changed lines in the file.
func (f FileDiff) Lines() int {
	return f.Additions + f.Deletions
}

// AggregateSize returns additions plus deletions as reported by the API.
func (pr *PullRequest) AggregateSize() int {
	return pr.Additions + pr.Deletions
}

// Age returns how long the pull request has been open at now.
func (pr *PullRequest) Age(now time.Time) time.Duration {
	age := now.Sub(pr.CreatedAt)
	if age < 0 {
		return 0
	}
	return age
}

// ShortRef returns "owner/repo#123".
func (pr *PullRequest) ShortRef() string {
	return fmt.Sprintf("%s#%d", pr.Repository, pr.Number)
}
