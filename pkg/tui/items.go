package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/pr-bro/pkg/fetch"
	"github.com/codeGROOVE-dev/pr-bro/pkg/output"
	"github.com/codeGROOVE-dev/pr-bro/pkg/snooze"
)

// prItem adapts a ranked pull request to the bubbles list.
type prItem struct {
	now  time.Time
	note string // remaining snooze time, snoozed view only
	item fetch.Item
	rank int
}

func (i prItem) Title() string {
	title := i.item.PR.Title
	if i.item.PR.Draft {
		title = "[draft] " + title
	}
	return fmt.Sprintf("%d. %5s  %s  %s", i.rank, output.FormatScore(i.item.Score), i.item.PR.ShortRef(), title)
}

func (i prItem) Description() string {
	pr := &i.item.PR
	parts := []string{
		"@" + pr.Author,
		output.FormatAge(pr.Age(i.now)),
		fmt.Sprintf("%d lines", pr.ChangedLines),
		plural(pr.Approvals, "approval"),
	}
	if pr.ReviewedByMe {
		parts = append(parts, "reviewed")
	}
	if i.note != "" {
		parts = append(parts, "snoozed: "+i.note)
	}
	parts = append(parts, pr.SourceQuery)
	return strings.Join(parts, " · ")
}

func (i prItem) FilterValue() string {
	return strings.ToLower(i.item.PR.Repository + " " + i.item.PR.Title)
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// undoAction records a snooze change so it can be reversed.
type undoAction struct {
	prev    snooze.Entry // state before an unsnooze
	url     string
	title   string
	snoozed bool // true when the action was a snooze
}
