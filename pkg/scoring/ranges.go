package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/codeGROOVE-dev/pr-bro/pkg/effect"
)

// Unbounded ends of a SizeRange.
const (
	NegInf int64 = math.MinInt64
	PosInf int64 = math.MaxInt64
)

// SizeRange is a range of changed-line counts normalized to the half-open
// interval [Lower, Upper).
type SizeRange struct {
	Text  string
	Lower int64
	Upper int64
}

// ParseRange parses "<N", "<=N", ">N", ">=N", "N-M" (inclusive) or "N".
func ParseRange(text string) (SizeRange, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return SizeRange{}, errors.New("empty range")
	}
	r := SizeRange{Text: s}

	var err error
	switch {
	case strings.HasPrefix(s, "<="):
		var n int64
		n, err = parseBound(s[2:])
		r.Lower, r.Upper = NegInf, inc(n)
	case strings.HasPrefix(s, ">="):
		var n int64
		n, err = parseBound(s[2:])
		r.Lower, r.Upper = n, PosInf
	case strings.HasPrefix(s, "<"):
		var n int64
		n, err = parseBound(s[1:])
		r.Lower, r.Upper = NegInf, n
	case strings.HasPrefix(s, ">"):
		var n int64
		n, err = parseBound(s[1:])
		r.Lower, r.Upper = inc(n), PosInf
	case strings.Contains(s, "-"):
		lo, hi, ok := strings.Cut(s, "-")
		if !ok || strings.Contains(hi, "-") {
			return SizeRange{}, fmt.Errorf("range %q: expected N-M", s)
		}
		var a, b int64
		if a, err = parseBound(lo); err != nil {
			break
		}
		if b, err = parseBound(hi); err != nil {
			break
		}
		if b < a {
			return SizeRange{}, fmt.Errorf("range %q: upper bound %d is below lower bound %d", s, b, a)
		}
		r.Lower, r.Upper = a, inc(b)
	default:
		var n int64
		n, err = parseBound(s)
		r.Lower, r.Upper = n, inc(n)
	}
	if err != nil {
		return SizeRange{}, fmt.Errorf("range %q: %w", s, err)
	}
	return r, nil
}

func parseBound(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("missing number")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("%d is negative", n)
	}
	return n, nil
}

// inc returns n+1, saturating at PosInf.
func inc(n int64) int64 {
	if n == PosInf {
		return PosInf
	}
	return n + 1
}

// Contains reports whether n falls in the range.
func (r SizeRange) Contains(n int64) bool {
	return n >= r.Lower && n < r.Upper
}

func (r SizeRange) String() string {
	if r.Text != "" {
		return r.Text
	}
	lo, hi := "-inf", "+inf"
	if r.Lower != NegInf {
		lo = strconv.FormatInt(r.Lower, 10)
	}
	if r.Upper != PosInf {
		hi = strconv.FormatInt(r.Upper, 10)
	}
	return "[" + lo + "," + hi + ")"
}

// SizeBucket pairs a range of changed lines with the effect applied when a
// pull request's size falls inside it.
type SizeBucket struct {
	Range  SizeRange
	Effect effect.Effect
}

// OverlapError reports two size buckets whose ranges intersect.
type OverlapError struct {
	A, B   SizeRange
	IndexA int
	IndexB int
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("size buckets overlap: %q (#%d) and %q (#%d)", e.A.String(), e.IndexA, e.B.String(), e.IndexB)
}

// ValidateBuckets checks that no two bucket ranges intersect. Gaps are
// allowed. Indices in the returned *OverlapError refer to the input order.
func ValidateBuckets(buckets []SizeBucket) error {
	if len(buckets) < 2 {
		return nil
	}
	order := make([]int, len(buckets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := buckets[order[a]].Range, buckets[order[b]].Range
		if ra.Lower != rb.Lower {
			return ra.Lower < rb.Lower
		}
		return ra.Upper < rb.Upper
	})
	for k := 0; k+1 < len(order); k++ {
		i, j := order[k], order[k+1]
		if buckets[i].Range.Upper > buckets[j].Range.Lower {
			return &OverlapError{A: buckets[i].Range, B: buckets[j].Range, IndexA: i, IndexB: j}
		}
	}
	return nil
}

// Match returns the bucket containing lines.
func Match(buckets []SizeBucket, lines int) (SizeBucket, bool) {
	n := int64(lines)
	for _, b := range buckets {
		if b.Range.Contains(n) {
			return b, true
		}
	}
	return SizeBucket{}, false
}
