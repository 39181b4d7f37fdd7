// Package window resolves a requested date range and walks it one UTC
// calendar day at a time.
package window

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layouts used in invocation parameters and query filters.
const (
	DateLayout      = "2006-01-02"
	QueryTimeLayout = "2006-01-02T15:04:05-00:00"
)

// DefaultLookback is how far before now an unspecified start date lies.
const DefaultLookback = 2 * 24 * time.Hour

const day = 24 * time.Hour

// ErrInvalidRange is returned for an unparseable date or a start after the end.
var ErrInvalidRange = errors.New("invalid date range")

// TimeWindow is one UTC calendar day, half-open [StartUTC, EndUTC).
type TimeWindow struct {
	StartUTC time.Time
	EndUTC   time.Time
}

// Date returns the window's day as YYYY-MM-DD.
func (w TimeWindow) Date() string {
	return w.StartUTC.Format(DateLayout)
}

// QueryStart formats the lower bound for the query filter.
func (w TimeWindow) QueryStart() string {
	return w.StartUTC.Format(QueryTimeLayout)
}

// QueryEnd formats the upper bound for the query filter.
func (w TimeWindow) QueryEnd() string {
	return w.EndUTC.Format(QueryTimeLayout)
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("[%s, %s)", w.StartUTC.Format(time.RFC3339), w.EndUTC.Format(time.RFC3339))
}

// Range is an inclusive span of UTC days. Start and End are midnights.
type Range struct {
	Start time.Time
	End   time.Time
}

// Resolve parses start and end, substituting now-2d and now for empty
// values. Both bounds are truncated to their UTC day.
func Resolve(start, end string, now time.Time) (Range, error) {
	now = now.UTC()

	r := Range{
		Start: truncate(now.Add(-DefaultLookback)),
		End:   truncate(now),
	}

	if strings.TrimSpace(start) != "" {
		t, err := ParseDate(start)
		if err != nil {
			return Range{}, fmt.Errorf("start date: %w", err)
		}
		r.Start = t
	}
	if strings.TrimSpace(end) != "" {
		t, err := ParseDate(end)
		if err != nil {
			return Range{}, fmt.Errorf("end date: %w", err)
		}
		r.End = t
	}

	if r.Start.After(r.End) {
		return Range{}, fmt.Errorf("%w: start %s is after end %s",
			ErrInvalidRange, r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}
	return r, nil
}

// ParseDate accepts YYYY-MM-DD or RFC3339 and returns the UTC midnight of
// that day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return truncate(t), nil
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse %q", ErrInvalidRange, s)
}

// Days returns the number of windows in the range: End - Start + 1.
func (r Range) Days() int {
	return int(r.End.Sub(r.Start)/day) + 1
}

// Windows returns the contiguous day windows covering the range.
func (r Range) Windows() []TimeWindow {
	out := make([]TimeWindow, 0, r.Days())
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		out = append(out, TimeWindow{StartUTC: d, EndUTC: d.AddDate(0, 0, 1)})
	}
	return out
}

func truncate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
