package mse

import (
	"fmt"
	"sort"
	"strings"
)

// rangeTolerance merges ranges separated by less than this many seconds.
const rangeTolerance = 1e-6

// TimeRange is a half-open interval of media time in seconds.
type TimeRange struct {
	Start float64
	End   float64
}

// TimeRanges is a sorted set of disjoint ranges.
type TimeRanges []TimeRange

// Len returns the number of ranges.
func (r TimeRanges) Len() int {
	return len(r)
}

// Start returns the start of range i.
func (r TimeRanges) Start(i int) float64 {
	return r[i].Start
}

// End returns the end of range i.
func (r TimeRanges) End(i int) float64 {
	return r[i].End
}

// Contains reports whether t lies within a range, ends included.
func (r TimeRanges) Contains(t float64) bool {
	_, ok := r.Find(t)
	return ok
}

// Find returns the range containing t.
func (r TimeRanges) Find(t float64) (TimeRange, bool) {
	for _, tr := range r {
		if t >= tr.Start-rangeTolerance && t <= tr.End+rangeTolerance {
			return tr, true
		}
	}
	return TimeRange{}, false
}

// Add returns r with [start, end) merged in.
func (r TimeRanges) Add(start, end float64) TimeRanges {
	if end <= start {
		return r
	}
	out := append(TimeRanges(nil), r...)
	out = append(out, TimeRange{Start: start, End: end})
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	merged := out[:1]
	for _, tr := range out[1:] {
		last := &merged[len(merged)-1]
		if tr.Start <= last.End+rangeTolerance {
			last.End = max(last.End, tr.End)
			continue
		}
		merged = append(merged, tr)
	}
	return merged
}

// Subtract returns r with [start, end) removed.
func (r TimeRanges) Subtract(start, end float64) TimeRanges {
	var out TimeRanges
	for _, tr := range r {
		if tr.End <= start || tr.Start >= end {
			out = append(out, tr)
			continue
		}
		if tr.Start < start {
			out = append(out, TimeRange{Start: tr.Start, End: start})
		}
		if tr.End > end {
			out = append(out, TimeRange{Start: end, End: tr.End})
		}
	}
	return out
}

// Intersect returns the time covered by both r and o.
func (r TimeRanges) Intersect(o TimeRanges) TimeRanges {
	var out TimeRanges
	i, j := 0, 0
	for i < len(r) && j < len(o) {
		start := max(r[i].Start, o[j].Start)
		end := min(r[i].End, o[j].End)
		if end > start {
			out = append(out, TimeRange{Start: start, End: end})
		}
		if r[i].End < o[j].End {
			i++
		} else {
			j++
		}
	}
	return out
}

func (r TimeRanges) String() string {
	parts := make([]string, len(r))
	for i, tr := range r {
		parts[i] = fmt.Sprintf("[%.3f, %.3f)", tr.Start, tr.End)
	}
	return strings.Join(parts, " ")
}
