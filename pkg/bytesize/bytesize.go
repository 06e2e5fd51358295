// Package bytesize parses and formats byte counts such as buffer and queue
// limits ("200KB", "1.5MiB", "4096").
//
// Units are case-insensitive and use a 1024 base: B, K/KB/KiB, M/MB/MiB,
// G/GB/GiB. A bare number is a byte count.
package bytesize

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size is a number of bytes.
type Size int64

const (
	B  Size = 1
	KB Size = 1 << 10
	MB Size = 1 << 20
	GB Size = 1 << 30
)

// ErrEmpty is returned when parsing an empty string.
var ErrEmpty = errors.New("bytesize: empty string")

var units = map[string]Size{
	"":      B,
	"b":     B,
	"byte":  B,
	"bytes": B,
	"k":     KB,
	"kb":    KB,
	"kib":   KB,
	"m":     MB,
	"mb":    MB,
	"mib":   MB,
	"g":     GB,
	"gb":    GB,
	"gib":   GB,
}

var pattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*([a-zA-Z]*)$`)

// Parse converts a human-readable size into bytes.
func Parse(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrEmpty
	}

	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("bytesize: invalid size %q", s)
	}

	mult, ok := units[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q in %q", m[2], s)
	}

	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: parsing %q: %w", m[1], err)
	}
	return Size(n * float64(mult)), nil
}

// MustParse panics when s is not a valid size.
func MustParse(s string) Size {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders s with the largest unit that keeps the value at or above one.
func Format(s Size) string {
	sign := ""
	if s < 0 {
		sign = "-"
		s = -s
	}

	var unit string
	div := B
	switch {
	case s >= GB:
		unit, div = "GB", GB
	case s >= MB:
		unit, div = "MB", MB
	case s >= KB:
		unit, div = "KB", KB
	default:
		return fmt.Sprintf("%s%dB", sign, s)
	}

	if s%div == 0 {
		return fmt.Sprintf("%s%d%s", sign, s/div, unit)
	}
	v := strconv.FormatFloat(float64(s)/float64(div), 'f', 2, 64)
	v = strings.TrimRight(strings.TrimRight(v, "0"), ".")
	return sign + v + unit
}

// String implements fmt.Stringer.
func (s Size) String() string {
	return Format(s)
}

// Bytes returns the size as a plain byte count.
func (s Size) Bytes() int64 {
	return int64(s)
}
