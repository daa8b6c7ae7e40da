// Package scoring computes review priority scores for pull requests.
//
// A Policy describes how a score is built: a base score followed by a fixed
// sequence of optional factors (age, approvals, size, labels, previously
// reviewed). Policies are resolved once per query at configuration load by
// merging the global policy with the query's Override, then reused for every
// refresh in the session.
package scoring

import (
	"github.com/codeGROOVE-dev/pr-bro/pkg/effect"
)

// DefaultBaseScore is used when the configuration does not set base_score.
const DefaultBaseScore = 100.0

// LabelRule applies Effect when a pull request carries a label named Name.
// Names compare case-insensitively.
type LabelRule struct {
	Name   string
	Effect effect.Effect
}

// SizePolicy scores pull requests by changed lines.
type SizePolicy struct {
	Exclude []string // doublestar globs; matching files do not count toward size
	Buckets []SizeBucket
}

// Policy is a fully resolved scoring policy. Nil factors are skipped.
type Policy struct {
	Age                *effect.Effect
	Approvals          *effect.Effect
	Size               *SizePolicy
	PreviouslyReviewed *effect.Effect
	Labels             []LabelRule
	BaseScore          float64
}

// ExcludesFiles reports whether scoring needs per-file diffs.
func (p *Policy) ExcludesFiles() bool {
	return p.Size != nil && len(p.Size.Exclude) > 0
}

// SizeOverride overrides the two halves of a SizePolicy independently.
// A nil field inherits the global value.
type SizeOverride struct {
	Exclude []string
	Buckets []SizeBucket
}

// Override holds the per-query policy fields. Nil fields inherit.
type Override struct {
	BaseScore          *float64
	Age                *effect.Effect
	Approvals          *effect.Effect
	Size               *SizeOverride
	PreviouslyReviewed *effect.Effect
	Labels             []LabelRule
}

// DefaultPolicy returns the policy used when no scoring section is configured.
func DefaultPolicy() Policy {
	age := effect.MustParse("+1 per 1h")
	approvals := effect.MustParse("+10 per 1")
	return Policy{
		BaseScore: DefaultBaseScore,
		Age:       &age,
		Approvals: &approvals,
		Size: &SizePolicy{
			Buckets: []SizeBucket{
				mustBucket("<100", "x5"),
				mustBucket("100-500", "x1"),
				mustBucket(">500", "x0.5"),
			},
		},
	}
}

func mustBucket(rng, eff string) SizeBucket {
	r, err := ParseRange(rng)
	if err != nil {
		panic(err)
	}
	return SizeBucket{Range: r, Effect: effect.MustParse(eff)}
}
