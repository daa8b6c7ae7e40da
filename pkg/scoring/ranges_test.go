package scoring

import (
	"errors"
	"testing"

	"github.com/codeGROOVE-dev/pr-bro/pkg/effect"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		input string
		lower int64
		upper int64
		in    []int64
		out   []int64
	}{
		{input: "<100", lower: NegInf, upper: 100, in: []int64{0, 99}, out: []int64{100, 150}},
		{input: "<=100", lower: NegInf, upper: 101, in: []int64{50, 100}, out: []int64{101}},
		{input: ">100", lower: 101, upper: PosInf, in: []int64{101, 5000}, out: []int64{50, 100}},
		{input: ">=100", lower: 100, upper: PosInf, in: []int64{100, 150}, out: []int64{99}},
		{input: "100-500", lower: 100, upper: 501, in: []int64{100, 300, 500}, out: []int64{99, 501}},
		{input: "0", lower: 0, upper: 1, in: []int64{0}, out: []int64{1}},
		{input: " >= 10 ", lower: 10, upper: PosInf, in: []int64{10}, out: []int64{9}},
		{input: "7 - 7", lower: 7, upper: 8, in: []int64{7}, out: []int64{6, 8}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			r, err := ParseRange(tt.input)
			if err != nil {
				t.Fatalf("ParseRange(%q) unexpected error: %v", tt.input, err)
			}
			if r.Lower != tt.lower || r.Upper != tt.upper {
				t.Errorf("ParseRange(%q) = [%d,%d), want [%d,%d)", tt.input, r.Lower, r.Upper, tt.lower, tt.upper)
			}
			for _, n := range tt.in {
				if !r.Contains(n) {
					t.Errorf("%q should contain %d", tt.input, n)
				}
			}
			for _, n := range tt.out {
				if r.Contains(n) {
					t.Errorf("%q should not contain %d", tt.input, n)
				}
			}
		})
	}
}

func TestParseRange_Errors(t *testing.T) {
	for _, in := range []string{"", "abc", "<", ">=x", "500-100", "1-2-3", "-5", "<-1", "1.5", "10-"} {
		if _, err := ParseRange(in); err == nil {
			t.Errorf("ParseRange(%q) expected error", in)
		}
	}
}

func buckets(t *testing.T, ranges ...string) []SizeBucket {
	t.Helper()
	out := make([]SizeBucket, 0, len(ranges))
	for _, s := range ranges {
		r, err := ParseRange(s)
		if err != nil {
			t.Fatalf("ParseRange(%q): %v", s, err)
		}
		out = append(out, SizeBucket{Range: r, Effect: effect.MustParse("x1")})
	}
	return out
}

func TestValidateBuckets_Accepts(t *testing.T) {
	tests := []struct {
		name   string
		ranges []string
	}{
		{name: "empty"},
		{name: "single", ranges: []string{">=0"}},
		{name: "defaults", ranges: []string{"<100", "100-500", ">500"}},
		{name: "unsorted input", ranges: []string{">500", "<100", "100-500"}},
		{name: "gaps allowed", ranges: []string{"<10", "20-30", ">100"}},
		{name: "exact values", ranges: []string{"0", "1", "2"}},
		{name: "inclusive upper touches exclusive lower", ranges: []string{"<=99", "100-200", ">=201"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateBuckets(buckets(t, tt.ranges...)); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateBuckets_RejectsOverlap(t *testing.T) {
	tests := []struct {
		name   string
		ranges []string
		a, b   string
	}{
		{name: "nested", ranges: []string{"<100", "50-60"}, a: "<100", b: "50-60"},
		{name: "shared endpoint", ranges: []string{"<=100", "100-500"}, a: "<=100", b: "100-500"},
		{name: "both unbounded above", ranges: []string{">10", ">=500"}, a: ">10", b: ">=500"},
		{name: "reported in sorted order", ranges: []string{">500", "400-600", "<100"}, a: "400-600", b: ">500"},
		{name: "duplicate", ranges: []string{"5", "5"}, a: "5", b: "5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBuckets(buckets(t, tt.ranges...))
			var overlap *OverlapError
			if !errors.As(err, &overlap) {
				t.Fatalf("expected *OverlapError, got %v", err)
			}
			if overlap.A.Text != tt.a || overlap.B.Text != tt.b {
				t.Errorf("overlap = (%q, %q), want (%q, %q)", overlap.A.Text, overlap.B.Text, tt.a, tt.b)
			}
			if tt.ranges[overlap.IndexA] != overlap.A.Text || tt.ranges[overlap.IndexB] != overlap.B.Text {
				t.Errorf("indices %d,%d do not point at the reported ranges", overlap.IndexA, overlap.IndexB)
			}
		})
	}
}

func TestMatch_FirstBucketWins(t *testing.T) {
	bs := buckets(t, "<100", "100-500", ">500")
	b, ok := Match(bs, 50)
	if !ok || b.Range.Text != "<100" {
		t.Errorf("Match(50) = %v, %v", b.Range, ok)
	}
	if _, ok := Match(buckets(t, "<10", ">20"), 15); ok {
		t.Error("size in a gap should not match")
	}
}
