// Parsing of operator-supplied action durations, like "1h", "2d12h", or "permanent".
//
// A nil *time.Duration means "indefinite" (no expiry) throughout this module.
package duration

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidDuration = errors.New("invalid duration")

const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

var indefiniteWords = map[string]bool{
	"perm":       true,
	"permanent":  true,
	"indefinite": true,
	"forever":    true,
	"inf":        true,
	"infinite":   true,
	"never":      true,
}

var unitSpans = map[string]time.Duration{
	"s":       time.Second,
	"sec":     time.Second,
	"secs":    time.Second,
	"second":  time.Second,
	"seconds": time.Second,
	"m":       time.Minute,
	"min":     time.Minute,
	"mins":    time.Minute,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"h":       time.Hour,
	"hr":      time.Hour,
	"hrs":     time.Hour,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"d":       Day,
	"day":     Day,
	"days":    Day,
	"w":       Week,
	"wk":      Week,
	"wks":     Week,
	"week":    Week,
	"weeks":   Week,
	"mo":      Month,
	"mon":     Month,
	"month":   Month,
	"months":  Month,
	"y":       Year,
	"yr":      Year,
	"yrs":     Year,
	"year":    Year,
	"years":   Year,
}

// one "<integer><unit>" group, with optional leading separators
var groupRegex = regexp.MustCompile(`^[\s,]*(\d+)\s*([a-z]+)`)

// Parse converts a human duration string to a span.
//
// Empty input and the "permanent" family of words return nil (indefinite).
// Anything else must be a sequence of integer+unit groups, otherwise the
// returned error wraps ErrInvalidDuration.
func Parse(raw string) (*time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" || indefiniteWords[s] {
		return nil, nil
	}

	var total time.Duration
	rest := s
	for {
		rest = strings.TrimLeft(rest, " \t,")
		if rest == "" {
			break
		}
		m := groupRegex.FindStringSubmatch(rest)
		if m == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
		}
		unit, ok := unitSpans[m[2]]
		if !ok {
			return nil, fmt.Errorf("%w: unknown unit %q in %q", ErrInvalidDuration, m[2], raw)
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || n > int64(math.MaxInt64/unit) {
			return nil, fmt.Errorf("%w: %q is out of range", ErrInvalidDuration, raw)
		}
		span := time.Duration(n) * unit
		if total > math.MaxInt64-span {
			return nil, fmt.Errorf("%w: %q is out of range", ErrInvalidDuration, raw)
		}
		total += span
		rest = rest[len(m[0]):]
	}
	return &total, nil
}

var formatUnits = []struct {
	suffix string
	span   time.Duration
}{
	{"w", Week},
	{"d", Day},
	{"h", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
}

// Format renders a span compactly ("1w2d", "90s"), or "permanent" for nil.
//
// Sub-second remainders are dropped.
func Format(d *time.Duration) string {
	if d == nil {
		return "permanent"
	}
	left := *d
	if left < time.Second {
		return "0s"
	}
	var sb strings.Builder
	for _, u := range formatUnits {
		if left >= u.span {
			n := left / u.span
			left -= n * u.span
			sb.WriteString(strconv.FormatInt(int64(n), 10))
			sb.WriteString(u.suffix)
		}
	}
	return sb.String()
}
