// Package duration parses the short timing values used for playback tuning:
// latency targets, cache windows, retry delays and heartbeats.
//
// Accepted forms:
//   - Go durations: "300ms", "1m30s", "10s"
//   - bare numbers, read as seconds: "0.3", "10"
//   - spelled-out units: "3 seconds", "500 millis", "2 minutes"
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

// ErrEmpty is returned when parsing an empty string.
var ErrEmpty = errors.New("duration: empty string")

var wordUnits = map[string]string{
	"hour": "h", "hours": "h", "hr": "h", "hrs": "h",
	"minute": "m", "minutes": "m", "min": "m", "mins": "m",
	"second": "s", "seconds": "s", "sec": "s", "secs": "s",
	"millisecond": "ms", "milliseconds": "ms", "milli": "ms", "millis": "ms",
	"microsecond": "us", "microseconds": "us", "micros": "us",
}

var wordPattern = regexp.MustCompile(`(?i)([0-9]+(?:\.[0-9]+)?)\s*([a-z]{2,})`)

// Parse converts s into a time.Duration.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrEmpty
	}

	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return FromSeconds(secs), nil
	}

	normalized := wordPattern.ReplaceAllStringFunc(s, func(m string) string {
		parts := wordPattern.FindStringSubmatch(m)
		if u, ok := wordUnits[strings.ToLower(parts[2])]; ok {
			return parts[1] + u
		}
		return m
	})
	normalized = strings.ReplaceAll(normalized, " ", "")

	d, err := time.ParseDuration(normalized)
	if err != nil {
		return 0, fmt.Errorf("duration: invalid %q: %w", s, err)
	}
	return d, nil
}

// MustParse panics when s is not a valid duration.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromSeconds converts fractional seconds, rounding to the nearest microsecond.
func FromSeconds(secs float64) time.Duration {
	return time.Duration(math.Round(secs*1e6)) * time.Microsecond
}

// Seconds is the inverse of FromSeconds.
func Seconds(d time.Duration) float64 {
	return d.Seconds()
}

// Format renders d the way time.Duration does, dropping zero components
// ("10m" rather than "10m0s").
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}
