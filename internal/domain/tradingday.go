package domain

import "time"

// SessionBoundaryHour is the hour separating one logical trading session from
// the next. A trading day runs [06:00 on day D, 06:00 on day D+1), so trades
// and marks timestamped before 06:00 belong to the previous calendar date's
// session regardless of when they were processed.
const SessionBoundaryHour = 6

// TradingDay resolves an instant to the calendar date of the session it
// belongs to, using the 06:00 boundary rather than midnight.
func TradingDay(t time.Time) time.Time {
	shifted := t.Add(-SessionBoundaryHour * time.Hour)
	return time.Date(shifted.Year(), shifted.Month(), shifted.Day(), 0, 0, 0, 0, t.Location())
}

// SessionStart returns the canonical start-of-day instant (06:00:00) for the
// session of the given trading day. Marks written by the daily roll are pinned
// to this instant, independent of when the roll job actually ran.
func SessionStart(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), SessionBoundaryHour, 0, 0, 0, day.Location())
}

// SameTradingDay reports whether two instants fall inside the same session
func SameTradingDay(a, b time.Time) bool {
	return TradingDay(a).Equal(TradingDay(b))
}

// DayString formats a trading day as YYYY-MM-DD for persistence keys
func DayString(day time.Time) string {
	return day.Format("2006-01-02")
}
