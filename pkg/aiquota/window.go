package aiquota

import "time"

const (
	dailyKeyLayout   = "2006-01-02"
	monthlyKeyLayout = "2006-01"
)

// WindowKey returns the bucket identifier for the instant: YYYY-MM-DD for daily
// windows and YYYY-MM for monthly ones, always computed in UTC.
// Keys sort lexicographically in time order.
func WindowKey(window ResetWindow, t time.Time) string {
	if window == WindowMonthly {
		return t.UTC().Format(monthlyKeyLayout)
	}
	return t.UTC().Format(dailyKeyLayout)
}

// WindowBounds returns the [start, end) interval of the window containing t.
func WindowBounds(window ResetWindow, t time.Time) (start, end time.Time) {
	if window == WindowMonthly {
		start = startOfMonthUTC(t)
		return start, start.AddDate(0, 1, 0)
	}
	start = startOfDayUTC(t)
	return start, start.AddDate(0, 0, 1)
}

// startOfDayUTC returns the start of day (00:00:00) in UTC for the given time.
func startOfDayUTC(t time.Time) time.Time {
	tt := t.UTC()
	return time.Date(tt.Year(), tt.Month(), tt.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonthUTC(t time.Time) time.Time {
	tt := t.UTC()
	return time.Date(tt.Year(), tt.Month(), 1, 0, 0, 0, 0, time.UTC)
}
