package effect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xhit/go-str2duration/v2"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// unitAliases maps every accepted unit spelling to the suffix str2duration
// understands.
var unitAliases = map[string]string{
	"s": "s", "sec": "s", "secs": "s", "second": "s", "seconds": "s",
	"m": "m", "min": "m", "mins": "m", "minute": "m", "minutes": "m",
	"h": "h", "hr": "h", "hrs": "h", "hour": "h", "hours": "h",
	"d": "d", "day": "d", "days": "d",
	"w": "w", "week": "w", "weeks": "w",
}

var (
	durationShape = regexp.MustCompile(`^(\d+\s*[a-z]+\s*)+$`)
	durationPart  = regexp.MustCompile(`(\d+)\s*([a-z]+)`)
)

// ParseDuration parses a human duration literal made of one or more
// <integer><unit> parts, e.g. "1h", "30m", "1d", "1w", "1h30m" or "2d 12h".
// Units are s, m, h, d and w, plus their long spellings. Fractions and signs
// are rejected.
func ParseDuration(s string) (time.Duration, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if !durationShape.MatchString(in) {
		return 0, fmt.Errorf("duration %q: expected <integer><unit> parts such as 1h30m", s)
	}
	var b strings.Builder
	for _, m := range durationPart.FindAllStringSubmatch(in, -1) {
		unit, ok := unitAliases[m[2]]
		if !ok {
			return 0, fmt.Errorf("duration %q: unknown unit %q", s, m[2])
		}
		b.WriteString(m[1])
		b.WriteString(unit)
	}
	d, err := str2duration.ParseDuration(b.String())
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", s, err)
	}
	return d, nil
}

// FormatDuration renders d using the largest whole units, e.g. "1w2d", "1h30m".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	var b strings.Builder
	for _, u := range []struct {
		suffix string
		size   time.Duration
	}{{"w", week}, {"d", day}, {"h", time.Hour}, {"m", time.Minute}, {"s", time.Second}} {
		if n := d / u.size; n > 0 {
			b.WriteString(strconv.FormatInt(int64(n), 10))
			b.WriteString(u.suffix)
			d -= n * u.size
		}
	}
	if b.Len() == 0 {
		return d.String()
	}
	return b.String()
}
