// Package timerange parses wall-clock times and decides whether half-open
// [start,end) intervals on the same day intersect.
//
// Times are minute precision and carry no date or timezone:
//
//	ok, err := timerange.Overlaps("10:00", "11:00", "10:30", "11:30") // true, nil
//	ok, err = timerange.Overlaps("10:00", "11:00", "11:00", "12:00")  // false, nil
//
// Malformed clocks fail with [ErrFormat]; empty or inverted ranges fail with
// [ErrInvalidRange]. Neither is ever reported as "no overlap".
package timerange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrFormat is returned when a clock string is not H:MM or HH:MM.
	ErrFormat = errors.New("invalid time format")

	// ErrInvalidRange is returned when end is not after start.
	ErrInvalidRange = errors.New("end time must be after start time")
)

// MinutesPerDay is the exclusive upper bound of a [Clock], except for the
// end-of-day value 24:00 which is accepted as a range end.
const MinutesPerDay = 24 * 60

// Clock is a time of day in minutes since midnight.
type Clock int

// ParseClock parses "H:MM" or "HH:MM". Hours are 0-23 (24:00 is accepted as
// end of day), minutes 0-59.
func ParseClock(s string) (Clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrFormat, s)
	}

	h, err := parseDigits(hh)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrFormat, s)
	}

	m, err := parseDigits(mm)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrFormat, s)
	}

	if m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q out of range", ErrFormat, s)
	}

	return Clock(h*60 + m), nil
}

// parseDigits accepts only ASCII digits; strconv.Atoi alone would accept
// signs.
func parseDigits(s string) (int, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconv.ErrSyntax
		}
	}

	return strconv.Atoi(s)
}

// String formats c as zero-padded HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Range is a half-open interval [Start, End) within one day.
// The zero value is not a valid range; use [NewRange] or [Parse].
type Range struct {
	Start Clock
	End   Clock
}

// NewRange returns the range [start, end). End must be after start.
func NewRange(start, end Clock) (Range, error) {
	if end <= start {
		return Range{}, fmt.Errorf("%w: %s-%s", ErrInvalidRange, start, end)
	}

	return Range{Start: start, End: end}, nil
}

// Parse parses two clock strings into a range.
func Parse(start, end string) (Range, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Range{}, fmt.Errorf("start: %w", err)
	}

	e, err := ParseClock(end)
	if err != nil {
		return Range{}, fmt.Errorf("end: %w", err)
	}

	return NewRange(s, e)
}

// Overlaps reports whether r and other share a positive-width interval.
// Ranges that only touch at an endpoint do not overlap.
func (r Range) Overlaps(other Range) bool {
	return r.Start < other.End && other.Start < r.End
}

// Contains reports whether other lies entirely within r.
func (r Range) Contains(other Range) bool {
	return r.Start <= other.Start && other.End <= r.End
}

// Minutes returns the length of r.
func (r Range) Minutes() int {
	return int(r.End - r.Start)
}

func (r Range) String() string {
	return r.Start.String() + "-" + r.End.String()
}

// Overlaps parses both ranges and reports whether they intersect.
// The result is symmetric in the two ranges.
func Overlaps(startA, endA, startB, endB string) (bool, error) {
	a, err := Parse(startA, endA)
	if err != nil {
		return false, err
	}

	b, err := Parse(startB, endB)
	if err != nil {
		return false, err
	}

	return a.Overlaps(b), nil
}

// Slots splits window into consecutive ranges of step minutes. A trailing
// remainder shorter than step is dropped.
func Slots(window Range, step int) ([]Range, error) {
	if step <= 0 {
		return nil, fmt.Errorf("%w: step must be > 0, got %d", ErrInvalidRange, step)
	}

	var out []Range

	for start := window.Start; start+Clock(step) <= window.End; start += Clock(step) {
		out = append(out, Range{Start: start, End: start + Clock(step)})
	}

	return out, nil
}
