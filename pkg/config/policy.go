package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/codeGROOVE-dev/pr-bro/pkg/effect"
	"github.com/codeGROOVE-dev/pr-bro/pkg/scoring"
)

type rawConfig struct {
	Scoring             *rawPolicy `yaml:"scoring"`
	AutoRefreshInterval *int       `yaml:"auto_refresh_interval"`
	Queries             []rawQuery `yaml:"queries"`
}

type rawQuery struct {
	Scoring *rawPolicy `yaml:"scoring"`
	Name    string     `yaml:"name"`
	Query   string     `yaml:"query"`
}

type rawPolicy struct {
	BaseScore          *float64   `yaml:"base_score"`
	Age                *string    `yaml:"age"`
	Approvals          *string    `yaml:"approvals"`
	Size               *rawSize   `yaml:"size"`
	PreviouslyReviewed *string    `yaml:"previously_reviewed"`
	Labels             []rawLabel `yaml:"labels"`
}

type rawSize struct {
	Exclude []string    `yaml:"exclude"`
	Buckets []rawBucket `yaml:"buckets"`
}

type rawBucket struct {
	Range  string `yaml:"range"`
	Effect string `yaml:"effect"`
}

type rawLabel struct {
	Name   string `yaml:"name"`
	Effect string `yaml:"effect"`
}

var errPerUnit = errors.New(`"per" is only supported for age (a duration) and approvals (a count)`)

func buildGlobal(c *collector, path string, rp *rawPolicy) scoring.Policy {
	o := buildOverride(c, path, rp)
	p := scoring.Policy{
		BaseScore:          scoring.DefaultBaseScore,
		Age:                o.Age,
		Approvals:          o.Approvals,
		PreviouslyReviewed: o.PreviouslyReviewed,
		Labels:             o.Labels,
	}
	if o.BaseScore != nil {
		p.BaseScore = *o.BaseScore
	}
	if o.Size != nil {
		p.Size = &scoring.SizePolicy{Exclude: o.Size.Exclude, Buckets: o.Size.Buckets}
	}
	return p
}

func buildOverride(c *collector, path string, rp *rawPolicy) *scoring.Override {
	o := &scoring.Override{}

	if rp.BaseScore != nil {
		if *rp.BaseScore < 0 {
			c.addf(path+".base_score", "must be non-negative")
		}
		o.BaseScore = rp.BaseScore
	}
	o.Age = parseEffect(c, path+".age", rp.Age, effect.UnitDuration)
	o.Approvals = parseEffect(c, path+".approvals", rp.Approvals, effect.UnitCount)
	o.PreviouslyReviewed = parseEffect(c, path+".previously_reviewed", rp.PreviouslyReviewed, effect.UnitNone)

	if rp.Size != nil {
		o.Size = buildSize(c, path+".size", rp.Size)
	}
	if rp.Labels != nil {
		o.Labels = buildLabels(c, path+".labels", rp.Labels)
	}
	return o
}

// parseEffect parses an optional effect. allowed is the only per-unit kind
// accepted besides a plain effect.
func parseEffect(c *collector, path string, text *string, allowed effect.Unit) *effect.Effect {
	if text == nil {
		return nil
	}
	e, ok := parseEffectText(c, path, *text, allowed)
	if !ok {
		return nil
	}
	return &e
}

func parseEffectText(c *collector, path, text string, allowed effect.Unit) (effect.Effect, bool) {
	e, err := effect.Parse(text)
	if err != nil {
		c.add(path, err)
		return effect.Effect{}, false
	}
	if e.Unit == effect.UnitNone || e.Unit == allowed {
		return e, true
	}
	switch allowed {
	case effect.UnitDuration:
		c.add(path, fmt.Errorf("%q: expected a duration after \"per\", e.g. \"+1 per 1h\"", text))
	case effect.UnitCount:
		c.add(path, fmt.Errorf("%q: expected a count after \"per\", e.g. \"+10 per 1\"", text))
	default:
		c.add(path, fmt.Errorf("%q: %w", text, errPerUnit))
	}
	return effect.Effect{}, false
}

func buildSize(c *collector, path string, rs *rawSize) *scoring.SizeOverride {
	so := &scoring.SizeOverride{}

	if rs.Exclude != nil {
		so.Exclude = make([]string, 0, len(rs.Exclude))
		for i, pat := range rs.Exclude {
			if err := scoring.ValidateGlob(pat); err != nil {
				c.add(fmt.Sprintf("%s.exclude[%d]", path, i), err)
				continue
			}
			so.Exclude = append(so.Exclude, pat)
		}
	}

	if rs.Buckets != nil {
		so.Buckets = make([]scoring.SizeBucket, 0, len(rs.Buckets))
		valid := true
		for i, rb := range rs.Buckets {
			bp := fmt.Sprintf("%s.buckets[%d]", path, i)
			r, err := scoring.ParseRange(rb.Range)
			if err != nil {
				c.add(bp+".range", err)
				valid = false
			}
			if strings.TrimSpace(rb.Effect) == "" {
				c.addf(bp+".effect", "each bucket needs exactly one effect")
				valid = false
				continue
			}
			e, ok := parseEffectText(c, bp+".effect", rb.Effect, effect.UnitNone)
			if !ok {
				valid = false
			}
			so.Buckets = append(so.Buckets, scoring.SizeBucket{Range: r, Effect: e})
		}
		if valid {
			if err := scoring.ValidateBuckets(so.Buckets); err != nil {
				c.add(path+".buckets", err)
			}
		}
	}
	return so
}

func buildLabels(c *collector, path string, raw []rawLabel) []scoring.LabelRule {
	rules := make([]scoring.LabelRule, 0, len(raw))
	seen := make(map[string]int, len(raw))
	for i, rl := range raw {
		lp := fmt.Sprintf("%s[%d]", path, i)
		name := strings.TrimSpace(rl.Name)
		if name == "" {
			c.addf(lp+".name", "must not be empty")
			continue
		}
		key := strings.ToLower(name)
		if prev, dup := seen[key]; dup {
			c.add(lp+".name", fmt.Errorf("duplicate label %q (also at %s[%d])", name, path, prev))
			continue
		}
		seen[key] = i
		e, ok := parseEffectText(c, lp+".effect", rl.Effect, effect.UnitNone)
		if !ok {
			continue
		}
		rules = append(rules, scoring.LabelRule{Name: name, Effect: e})
	}
	return rules
}
