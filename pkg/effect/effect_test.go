package effect

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		kind      Kind
		magnitude float64
		unit      Unit
		per       time.Duration
		perCount  float64
	}{
		{name: "add", input: "+10", kind: Add, magnitude: 10},
		{name: "multiply", input: "x0.5", kind: Multiply, magnitude: 0.5},
		{name: "negative add", input: "+-5", kind: Add, magnitude: -5},
		{name: "surrounding whitespace", input: "  x2  ", kind: Multiply, magnitude: 2},
		{name: "add per hour", input: "+1 per 1h", kind: Add, magnitude: 1, unit: UnitDuration, per: time.Hour},
		{name: "multiply per day", input: "x1.05 per 1d", kind: Multiply, magnitude: 1.05, unit: UnitDuration, per: 24 * time.Hour},
		{name: "composite duration", input: "+2 per 1h30m", kind: Add, magnitude: 2, unit: UnitDuration, per: 90 * time.Minute},
		{name: "week", input: "+3 per 1w", kind: Add, magnitude: 3, unit: UnitDuration, per: 7 * 24 * time.Hour},
		{name: "count", input: "+10 per 1", kind: Add, magnitude: 10, unit: UnitCount, perCount: 1},
		{name: "multiply per count", input: "x2 per 2", kind: Multiply, magnitude: 2, unit: UnitCount, perCount: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if e.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", e.Kind, tt.kind)
			}
			if e.Magnitude != tt.magnitude {
				t.Errorf("magnitude = %v, want %v", e.Magnitude, tt.magnitude)
			}
			if e.Unit != tt.unit {
				t.Errorf("unit = %v, want %v", e.Unit, tt.unit)
			}
			if e.Per != tt.per {
				t.Errorf("per = %v, want %v", e.Per, tt.per)
			}
			if e.PerCount != tt.perCount {
				t.Errorf("perCount = %v, want %v", e.PerCount, tt.perCount)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	inputs := []string{
		"",
		"10",
		"*2",
		"+",
		"+abc",
		"xNaN",
		"+1 per",
		"+1 per 1y",
		"+1 per h",
		"+1 per 0",
		"+1 per -2",
		"+1 per 0h",
		"-5",
		"x-2 per 1h",
		"x0 per 1",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			if err == nil {
				t.Fatalf("Parse(%q) expected error", in)
			}
			if !errors.Is(err, ErrInvalidSyntax) {
				t.Errorf("Parse(%q) error %v does not wrap ErrInvalidSyntax", in, err)
			}
		})
	}
}

func TestEvaluate_OneUnitAtDivisor(t *testing.T) {
	tests := []struct {
		input string
		units float64
		want  float64
	}{
		{"+10 per 1", 1, 10},
		{"+1 per 1h", 1, 1},
		{"+1 per 30m", 0.5, 1},
		{"+4 per 1d", 24, 4},
		{"x2 per 1", 1, 2},
		{"x3 per 2h", 2, 3},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			e := MustParse(tt.input)
			if got := e.Evaluate(tt.units); got != tt.want {
				t.Errorf("Evaluate(%v) = %v, want %v", tt.units, got, tt.want)
			}
		})
	}
}

func TestEvaluate_AdditiveFloorsMultiplicativeCompounds(t *testing.T) {
	add := MustParse("+1 per 1h")
	if got := add.Evaluate(5.9); got != 5 {
		t.Errorf("additive per-unit should floor: got %v, want 5", got)
	}

	mul := MustParse("x2 per 1h")
	got := mul.Evaluate(1.5)
	want := math.Pow(2, 1.5)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("multiplicative per-unit should be continuous: got %v, want %v", got, want)
	}
}

func TestEvaluate_UnitlessIgnoresUnits(t *testing.T) {
	for _, units := range []float64{0, 1, 7, 1000} {
		if got := MustParse("+10").Evaluate(units); got != 10 {
			t.Errorf("+10 at %v units = %v, want 10", units, got)
		}
		if got := MustParse("x0.5").Evaluate(units); got != 0.5 {
			t.Errorf("x0.5 at %v units = %v, want 0.5", units, got)
		}
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		input string
		score float64
		units float64
		want  float64
	}{
		{"+10", 100, 1, 110},
		{"x2", 100, 1, 200},
		{"+-5", 100, 1, 95},
		{"x0.5", 100, 1, 50},
		{"+1 per 1h", 100, 5, 105},
		{"+10 per 1", 100, 3, 130},
		{"x1.1 per 1h", 100, 3, 100 * math.Pow(1.1, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := MustParse(tt.input).Apply(tt.score, tt.units)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Apply(%v, %v) = %v, want %v", tt.score, tt.units, got, tt.want)
			}
		})
	}
}

func TestApplyAge(t *testing.T) {
	e := MustParse("+1 per 1h")
	if got := e.ApplyAge(100, 5*time.Hour); got != 105 {
		t.Errorf("ApplyAge(5h) = %v, want 105", got)
	}
	if got := e.ApplyAge(100, 5*time.Hour+59*time.Minute); got != 105 {
		t.Errorf("ApplyAge(5h59m) = %v, want 105", got)
	}
	if got := e.ApplyAge(100, -time.Hour); got != 100 {
		t.Errorf("negative age should contribute nothing, got %v", got)
	}
}

func TestString(t *testing.T) {
	if got := MustParse(" +1 per 1h ").String(); got != "+1 per 1h" {
		t.Errorf("String() = %q", got)
	}
	built := Effect{Kind: Multiply, Magnitude: 0.5}
	if got := built.String(); got != "x0.5" {
		t.Errorf("String() = %q, want x0.5", got)
	}
	built = Effect{Kind: Add, Magnitude: 2, Unit: UnitDuration, Per: 90 * time.Minute}
	if got := built.String(); got != "+2 per 1h30m" {
		t.Errorf("String() = %q, want +2 per 1h30m", got)
	}
}

func TestUnmarshalText(t *testing.T) {
	var e Effect
	if err := e.UnmarshalText([]byte("x2 per 1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.Equal(MustParse("x2 per 1")) {
		t.Errorf("unmarshalled effect mismatch: %+v", e)
	}
	if err := e.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for bogus effect")
	}
}
