package scoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/pr-bro/pkg/effect"
	"github.com/codeGROOVE-dev/pr-bro/pkg/types"
)

// Factor names used in breakdown steps.
const (
	FactorAge                = "age"
	FactorApprovals          = "approvals"
	FactorSize               = "size"
	FactorLabel              = "label"
	FactorPreviouslyReviewed = "previously_reviewed"
	FactorFloor              = "floor"
)

// Step is one applied factor in a score breakdown.
type Step struct {
	Factor    string
	Detail    string // e.g. the matched label or bucket and the effect text
	Magnitude float64
	Before    float64
	After     float64
	Op        effect.Kind
}

// Breakdown traces how a score was computed. The last step's After (or Base,
// when there are no steps) equals Final.
type Breakdown struct {
	Steps []Step
	Base  float64
	Final float64
}

// Score computes the priority score of pr under policy at time now.
//
// Factors apply in a fixed order: age, approvals, size, labels (every
// matching rule compounds, in policy order), previously reviewed. Factors the
// policy leaves unset emit no step. Scores never go below zero.
func Score(pr *types.PullRequest, policy *Policy, now time.Time) (float64, Breakdown) {
	b := Breakdown{Base: policy.BaseScore}
	score := policy.BaseScore

	apply := func(factor, detail string, e effect.Effect, units float64) {
		before := score
		score = e.Apply(score, units)
		b.Steps = append(b.Steps, Step{
			Factor:    factor,
			Detail:    detail,
			Op:        e.Kind,
			Magnitude: e.Evaluate(units),
			Before:    before,
			After:     score,
		})
	}

	if policy.Age != nil {
		age := pr.Age(now)
		apply(FactorAge, fmt.Sprintf("%s for %s", policy.Age, effect.FormatDuration(age.Truncate(time.Minute))),
			*policy.Age, age.Hours())
	}

	if policy.Approvals != nil {
		apply(FactorApprovals, fmt.Sprintf("%s for %d", policy.Approvals, pr.Approvals),
			*policy.Approvals, float64(pr.Approvals))
	}

	if policy.Size != nil {
		if bucket, ok := Match(policy.Size.Buckets, pr.ChangedLines); ok {
			apply(FactorSize, fmt.Sprintf("%d lines in %s: %s", pr.ChangedLines, bucket.Range, bucket.Effect),
				bucket.Effect, 1)
		}
	}

	if len(policy.Labels) > 0 && len(pr.Labels) > 0 {
		have := make(map[string]bool, len(pr.Labels))
		for _, l := range pr.Labels {
			have[strings.ToLower(l)] = true
		}
		for _, rule := range policy.Labels {
			if have[strings.ToLower(rule.Name)] {
				apply(FactorLabel, fmt.Sprintf("%s: %s", rule.Name, rule.Effect), rule.Effect, 1)
			}
		}
	}

	if policy.PreviouslyReviewed != nil && pr.ReviewedByMe {
		apply(FactorPreviouslyReviewed, policy.PreviouslyReviewed.String(), *policy.PreviouslyReviewed, 1)
	}

	if score < 0 {
		b.Steps = append(b.Steps, Step{
			Factor:    FactorFloor,
			Detail:    "scores never go below zero",
			Op:        effect.Add,
			Magnitude: -score,
			Before:    score,
			After:     0,
		})
		score = 0
	}

	b.Final = score
	return score, b
}
