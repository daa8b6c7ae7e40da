// Package effect parses and evaluates scoring effect expressions such as
// "+10", "x0.5", "+1 per 1h" and "x2 per 1".
package effect

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSyntax is wrapped by every parse failure.
var ErrInvalidSyntax = errors.New("invalid effect syntax")

// Kind is the arithmetic operation of an effect.
type Kind int

// Effect kinds.
const (
	Add Kind = iota
	Multiply
)

func (k Kind) String() string {
	if k == Multiply {
		return "multiply"
	}
	return "add"
}

// Unit describes what the optional "per" divisor counts.
type Unit int

// Divisor units.
const (
	UnitNone Unit = iota
	UnitDuration
	UnitCount
)

const perSeparator = " per "

// Effect is a parsed effect expression. The zero value adds nothing.
type Effect struct {
	text      string
	Per       time.Duration // divisor when Unit == UnitDuration
	PerCount  float64       // divisor when Unit == UnitCount
	Magnitude float64
	Kind      Kind
	Unit      Unit
}

// Parse parses an effect expression.
//
// Grammar: ('+' | 'x') NUMBER ( " per " UNIT )?, where UNIT is either a
// duration literal ("1h", "30m", "1d", "1w", "1h30m") or a bare positive number.
func Parse(text string) (Effect, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Effect{}, fmt.Errorf("%w: empty expression", ErrInvalidSyntax)
	}

	head, per, hasPer := strings.Cut(s, perSeparator)

	e := Effect{text: s}
	head = strings.TrimSpace(head)
	switch {
	case strings.HasPrefix(head, "+"):
		e.Kind = Add
	case strings.HasPrefix(head, "x"):
		e.Kind = Multiply
	default:
		return Effect{}, fmt.Errorf("%w: %q must start with + or x", ErrInvalidSyntax, text)
	}

	mag, err := parseNumber(head[1:])
	if err != nil {
		return Effect{}, fmt.Errorf("%w: %q: magnitude %v", ErrInvalidSyntax, text, err)
	}
	e.Magnitude = mag

	if !hasPer {
		return e, nil
	}
	// Fractional powers of a non-positive base are undefined.
	if e.Kind == Multiply && e.Magnitude <= 0 {
		return Effect{}, fmt.Errorf("%w: %q: per-unit multiplier must be positive", ErrInvalidSyntax, text)
	}

	per = strings.TrimSpace(per)
	if per == "" {
		return Effect{}, fmt.Errorf("%w: %q: missing unit after \"per\"", ErrInvalidSyntax, text)
	}

	if n, err := parseNumber(per); err == nil {
		if n <= 0 {
			return Effect{}, fmt.Errorf("%w: %q: divisor must be positive", ErrInvalidSyntax, text)
		}
		e.Unit = UnitCount
		e.PerCount = n
		return e, nil
	}

	d, err := ParseDuration(per)
	if err != nil {
		return Effect{}, fmt.Errorf("%w: %q: %v", ErrInvalidSyntax, text, err)
	}
	if d <= 0 {
		return Effect{}, fmt.Errorf("%w: %q: divisor must be positive", ErrInvalidSyntax, text)
	}
	e.Unit = UnitDuration
	e.Per = d
	return e, nil
}

// MustParse is like Parse but panics on error. Intended for defaults and tests.
func MustParse(text string) Effect {
	e, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return e
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("is missing")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return v, nil
}

// PerUnit reports whether the effect scales with elapsed units.
func (e Effect) PerUnit() bool {
	return e.Unit != UnitNone
}

// divisor returns the per-unit divisor in evaluation units: hours for
// duration effects, the raw count otherwise.
func (e Effect) divisor() float64 {
	switch e.Unit {
	case UnitDuration:
		return e.Per.Hours()
	case UnitCount:
		return e.PerCount
	default:
		return 1
	}
}

// Evaluate returns the amount added (Add) or the factor applied (Multiply)
// for the given number of elapsed units. For duration effects units are
// hours; for count effects units are the raw count. Unit-less effects
// ignore units and apply exactly once.
//
// Additive per-unit effects count whole units only. Multiplicative per-unit
// effects compound continuously.
func (e Effect) Evaluate(units float64) float64 {
	if e.Unit == UnitNone {
		return e.Magnitude
	}
	if units < 0 {
		units = 0
	}
	ratio := units / e.divisor()
	if e.Kind == Add {
		return e.Magnitude * math.Floor(ratio)
	}
	return math.Pow(e.Magnitude, ratio)
}

// Apply applies the effect to score.
func (e Effect) Apply(score, units float64) float64 {
	v := e.Evaluate(units)
	if e.Kind == Multiply {
		return score * v
	}
	return score + v
}

// ApplyAge applies a duration effect using the given age.
func (e Effect) ApplyAge(score float64, age time.Duration) float64 {
	return e.Apply(score, age.Hours())
}

// ApplyCount applies a count effect using n.
func (e Effect) ApplyCount(score float64, n int) float64 {
	return e.Apply(score, float64(n))
}

// String returns the expression text. Effects built without Parse render
// a canonical form.
func (e Effect) String() string {
	if e.text != "" {
		return e.text
	}
	var b strings.Builder
	if e.Kind == Multiply {
		b.WriteByte('x')
	} else {
		b.WriteByte('+')
	}
	b.WriteString(strconv.FormatFloat(e.Magnitude, 'f', -1, 64))
	switch e.Unit {
	case UnitDuration:
		b.WriteString(perSeparator)
		b.WriteString(FormatDuration(e.Per))
	case UnitCount:
		b.WriteString(perSeparator)
		b.WriteString(strconv.FormatFloat(e.PerCount, 'f', -1, 64))
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (e Effect) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Effect) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// Equal reports whether two effects are semantically identical. The
// original text is ignored.
func (e Effect) Equal(o Effect) bool {
	return e.Kind == o.Kind && e.Magnitude == o.Magnitude && e.Unit == o.Unit &&
		e.Per == o.Per && e.PerCount == o.PerCount
}
