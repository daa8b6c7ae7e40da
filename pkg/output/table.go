package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/codeGROOVE-dev/pr-bro/pkg/fetch"
)

// Mode controls the table format.
type Mode int

// Table modes.
const (
	ASCII    Mode = iota // fixed-width terminal table
	Markdown             // GitHub-flavoured Markdown
)

const titleWidth = 60

// Table renders items as a ranked table.
func Table(items []fetch.Item, now time.Time, mode Mode) string {
	if len(items) == 0 {
		return "No pull requests found.\n"
	}
	w := table.NewWriter()
	if mode == ASCII {
		w.SetStyle(table.StyleLight)
	}
	w.AppendHeader(table.Row{"#", "Score", "PR", "Title", "Author", "Age", "Size", "Approvals"})
	for i := range items {
		it := &items[i]
		title := it.PR.Title
		if it.PR.Draft {
			title = "[draft] " + title
		}
		w.AppendRow(table.Row{
			i + 1,
			FormatScore(it.Score),
			it.PR.ShortRef(),
			title,
			it.PR.Author,
			FormatAge(it.PR.Age(now)),
			it.PR.ChangedLines,
			it.PR.Approvals,
		})
	}
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignRight},
		{Number: 4, WidthMax: titleWidth},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	if mode == Markdown {
		return w.RenderMarkdown() + "\n"
	}
	return w.Render() + "\n"
}

// jsonItem is the machine-readable form of one ranked pull request.
type jsonItem struct {
	CreatedAt    time.Time  `json:"created_at"`
	URL          string     `json:"url"`
	Repository   string     `json:"repository"`
	Title        string     `json:"title"`
	Author       string     `json:"author"`
	Query        string     `json:"query"`
	SnoozedUntil string     `json:"snoozed,omitempty"`
	Labels       []string   `json:"labels,omitempty"`
	Steps        []jsonStep `json:"breakdown"`
	Score        float64    `json:"score"`
	Number       int        `json:"number"`
	ChangedLines int        `json:"changed_lines"`
	Approvals    int        `json:"approvals"`
	Draft        bool       `json:"draft"`
	ReviewedByMe bool       `json:"reviewed_by_me"`
}

type jsonStep struct {
	Factor string  `json:"factor"`
	Op     string  `json:"op"`
	Detail string  `json:"detail"`
	Before float64 `json:"before"`
	After  float64 `json:"after"`
}

type jsonResult struct {
	FetchedAt          time.Time  `json:"fetched_at"`
	Items              []jsonItem `json:"items"`
	Snoozed            []jsonItem `json:"snoozed,omitempty"`
	Warnings           []string   `json:"warnings,omitempty"`
	RateLimitRemaining int        `json:"rate_limit_remaining"`
	TimedOut           bool       `json:"timed_out"`
}

func toJSON(items []fetch.Item, snoozeNote func(url string) string) []jsonItem {
	out := make([]jsonItem, 0, len(items))
	for i := range items {
		it := &items[i]
		ji := jsonItem{
			URL:          it.PR.URL,
			Repository:   it.PR.Repository,
			Number:       it.PR.Number,
			Title:        it.PR.Title,
			Author:       it.PR.Author,
			CreatedAt:    it.PR.CreatedAt,
			Query:        it.PR.SourceQuery,
			Labels:       it.PR.Labels,
			Score:        it.Score,
			ChangedLines: it.PR.ChangedLines,
			Approvals:    it.PR.Approvals,
			Draft:        it.PR.Draft,
			ReviewedByMe: it.PR.ReviewedByMe,
		}
		if snoozeNote != nil {
			ji.SnoozedUntil = snoozeNote(it.PR.URL)
		}
		for _, s := range it.Breakdown.Steps {
			ji.Steps = append(ji.Steps, jsonStep{
				Factor: s.Factor,
				Op:     s.Op.String() + " " + strconv.FormatFloat(s.Magnitude, 'f', -1, 64),
				Detail: s.Detail,
				Before: s.Before,
				After:  s.After,
			})
		}
		out = append(out, ji)
	}
	return out
}

// WriteJSON writes the active and snoozed lists as indented JSON. snoozeNote,
// when set, describes the remaining snooze time of a held pull request.
func WriteJSON(w io.Writer, res *fetch.Result, active, held []fetch.Item, snoozeNote func(url string) string) error {
	doc := jsonResult{
		FetchedAt:          res.FetchedAt,
		Items:              toJSON(active, nil),
		Warnings:           res.Warnings,
		RateLimitRemaining: res.RateLimitRemaining,
		TimedOut:           res.TimedOut,
	}
	if len(held) > 0 {
		doc.Snoozed = toJSON(held, snoozeNote)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
