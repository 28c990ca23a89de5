package duration

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBasics(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		in  string
		out time.Duration
	}{
		{"1m", time.Minute},
		{"30m", 30 * time.Minute},
		{"1h", time.Hour},
		{"1H", time.Hour},
		{"2d", 48 * time.Hour},
		{"1w", Week},
		{"1w2d", Week + 2*Day},
		{"1h30m", 90 * time.Minute},
		{"3 days 4 hours", 3*Day + 4*time.Hour},
		{"1d, 12h", 36 * time.Hour},
		{"  45 minutes ", 45 * time.Minute},
		{"2mo", 60 * Day},
		{"1y", Year},
		{"10s", 10 * time.Second},
		{"0m", 0},
	}

	for _, f := range fixtures {
		d, err := Parse(f.in)
		if !assert.NoError(err, f.in) {
			continue
		}
		if assert.NotNil(d, f.in) {
			assert.Equal(f.out, *d, f.in)
		}
	}
}

func TestParseIndefinite(t *testing.T) {
	assert := assert.New(t)

	for _, s := range []string{"", "   ", "perm", "Permanent", "indefinite", "forever", "inf", "never"} {
		d, err := Parse(s)
		assert.NoError(err, s)
		assert.Nil(d, s)
	}
}

func TestParseInvalid(t *testing.T) {
	assert := assert.New(t)

	for _, s := range []string{
		"30",
		"h",
		"1x",
		"1hour!",
		"-1h",
		"1.5h",
		"abc",
		"1h 2",
		"99999999999999999999999s",
		"200000y",
		"1000000w 1000000w",
	} {
		d, err := Parse(s)
		assert.ErrorIs(err, ErrInvalidDuration, s)
		assert.Nil(d, s)
	}
}

func TestParseProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	units := []interface{}{}
	for name := range unitSpans {
		units = append(units, name)
	}

	properties.Property("single group parses to count times unit", prop.ForAll(
		func(n int, unit string) bool {
			d, err := Parse(fmt.Sprintf("%d%s", n, unit))
			if err != nil || d == nil {
				return false
			}
			return *d == time.Duration(n)*unitSpans[unit]
		},
		gen.IntRange(0, 100_000),
		gen.OneConstOf(units...),
	))

	properties.Property("chained groups sum", prop.ForAll(
		func(a, b int, ua, ub string) bool {
			d, err := Parse(fmt.Sprintf("%d%s %d%s", a, ua, b, ub))
			if err != nil || d == nil {
				return false
			}
			return *d == time.Duration(a)*unitSpans[ua]+time.Duration(b)*unitSpans[ub]
		},
		gen.IntRange(0, 1000),
		gen.IntRange(0, 1000),
		gen.OneConstOf(units...),
		gen.OneConstOf(units...),
	))

	properties.Property("digit-free input is indefinite or invalid", prop.ForAll(
		func(s string) bool {
			d, err := Parse(s)
			if err != nil {
				return errors.Is(err, ErrInvalidDuration) && d == nil
			}
			return d == nil && (strings.TrimSpace(s) == "" || indefiniteWords[strings.ToLower(s)])
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestFormat(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("permanent", Format(nil))

	for _, s := range []string{"1w2d", "1h30m", "10s", "3d4h"} {
		d, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(s, Format(d))
	}

	zero := time.Duration(0)
	assert.Equal("0s", Format(&zero))
}
