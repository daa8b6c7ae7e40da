// Package output renders ranked pull requests and score breakdowns for the
// terminal.
package output

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/pr-bro/pkg/effect"
	"github.com/codeGROOVE-dev/pr-bro/pkg/fetch"
	"github.com/codeGROOVE-dev/pr-bro/pkg/scoring"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n"

// FormatAge renders an age using its largest whole unit: "now", "42m", "5h",
// "3d" or "2w".
func FormatAge(d time.Duration) string {
	const day = 24 * time.Hour
	switch {
	case d >= 7*day:
		return fmt.Sprintf("%dw", int(d/(7*day)))
	case d >= day:
		return fmt.Sprintf("%dd", int(d/day))
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	default:
		return "now"
	}
}

// FormatScore renders a score compactly: "87", "1.5k", "2M".
func FormatScore(score float64) string {
	var s string
	switch {
	case score >= 1_000_000:
		s = strconv.FormatFloat(score/1_000_000, 'f', 1, 64) + "M"
	case score >= 1_000:
		s = strconv.FormatFloat(score/1_000, 'f', 1, 64) + "k"
	default:
		return strconv.FormatFloat(score, 'f', 0, 64)
	}
	return strings.Replace(s, ".0", "", 1)
}

// formatNumber prints full precision without trailing zeros.
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Header formats the title block for a single pull request.
func Header(it *fetch.Item, now time.Time) string {
	pr := &it.PR
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(rule)
	fmt.Fprintf(&b, "  %s: %s\n", pr.ShortRef(), pr.Title)
	fmt.Fprintf(&b, "  Author: @%s | Age: %s | Size: +%d/-%d (%d counted)", pr.Author,
		FormatAge(pr.Age(now)), pr.Additions, pr.Deletions, pr.ChangedLines)
	if pr.Draft {
		b.WriteString(" [DRAFT]")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Approvals: %d | Query: %s\n", pr.Approvals, pr.SourceQuery)
	if len(pr.Labels) > 0 {
		fmt.Fprintf(&b, "  Labels: %s\n", strings.Join(pr.Labels, ", "))
	}
	fmt.Fprintf(&b, "  %s\n", pr.URL)
	b.WriteString(rule)

	return b.String()
}

// Breakdown formats the step-by-step trace of a score.
func Breakdown(bd *scoring.Breakdown) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  %-20s %12s\n", "base", formatNumber(bd.Base))
	for _, s := range bd.Steps {
		fmt.Fprintf(&b, "  %-20s %12s  %s %s -> %s\n", s.Factor, opText(s), s.Detail,
			formatNumber(s.Before), formatNumber(s.After))
	}
	b.WriteString("  " + strings.Repeat("─", 33) + "\n")
	fmt.Fprintf(&b, "  %-20s %12s\n", "score", formatNumber(bd.Final))
	return b.String()
}

func opText(s scoring.Step) string {
	if s.Op == effect.Multiply {
		return "x" + formatNumber(s.Magnitude)
	}
	if s.Magnitude < 0 {
		return formatNumber(s.Magnitude)
	}
	return "+" + formatNumber(s.Magnitude)
}

// Explain formats the header and breakdown of one item.
func Explain(it *fetch.Item, now time.Time) string {
	return Header(it, now) + "\n" + Breakdown(&it.Breakdown)
}

// Summary formats the one-line footer after a refresh.
func Summary(res *fetch.Result, active, snoozed int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d to review", active)
	if snoozed > 0 {
		fmt.Fprintf(&b, ", %d snoozed", snoozed)
	}
	if res.RateLimitRemaining >= 0 {
		fmt.Fprintf(&b, " | API: %d remaining", res.RateLimitRemaining)
	}
	if res.TimedOut {
		b.WriteString(" | refresh timed out, results may be incomplete")
	}
	return b.String()
}
