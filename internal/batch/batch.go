// Package batch slices a time range into bounded request windows.
package batch

import (
	"iter"
	"time"
)

const day = 24 * time.Hour

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Days yields every calendar day starting inside the window.
// Windows produced by Days always start at midnight UTC.
func (w Window) Days() iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		for d := w.Start; d.Before(w.End); d = d.AddDate(0, 0, 1) {
			if !yield(d) {
				return
			}
		}
	}
}

// Count returns the number of windows Plan yields for the same arguments.
func Count(start, end time.Time, span time.Duration) int {
	if span <= 0 || !start.Before(end) {
		return 0
	}
	total := end.Sub(start)
	n := int(total / span)
	if total%span != 0 {
		n++
	}
	return n
}

// Plan covers [start, end] with contiguous windows no longer than span.
// The final window is clipped to end. Nothing is yielded when start is not
// before end or span is not positive. The sequence is lazy and can be ranged
// over any number of times.
func Plan(start, end time.Time, span time.Duration) iter.Seq[Window] {
	n := Count(start, end, span)
	return func(yield func(Window) bool) {
		for i := 0; i < n; i++ {
			ws := start.Add(time.Duration(i) * span)
			we := ws.Add(span)
			if we.After(end) {
				we = end
			}
			if !yield(Window{Start: ws, End: we}) {
				return
			}
		}
	}
}

// Days plans the inclusive date range [start, end] in batches of spanDays
// calendar days. Dates are truncated to midnight UTC; a window's End is the
// midnight after its last day.
func Days(start, end time.Time, spanDays int) iter.Seq[Window] {
	from := Date(start)
	to := Date(end).AddDate(0, 0, 1)
	return Plan(from, to, time.Duration(spanDays)*day)
}

// Date truncates t to midnight UTC of its calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
