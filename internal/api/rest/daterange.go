package rest

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultDateRange is applied when the query value is missing or
// unparseable. Dashboards prefer a working chart over a 400.
const DefaultDateRange = "last-30-days"

// DateRange is a resolved half-open-looking but inclusive window:
// Start is midnight local, End is 23:59:59.999 local on the closing
// day. Storage stays UTC; the conversion happens only here.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDateRange resolves the dashboard date-range grammar:
// last-N-days, this-month, last-month, this-year and
// YYYY-MM-DD_to_YYYY-MM-DD. Unknown values fall back to
// last-30-days.
func ParseDateRange(value string, now time.Time) DateRange {
	if dr, ok := parseDateRange(value, now); ok {
		return dr
	}
	dr, _ := parseDateRange(DefaultDateRange, now)
	return dr
}

func parseDateRange(value string, now time.Time) (DateRange, bool) {
	value = strings.TrimSpace(value)
	today := startOfDay(now)

	switch value {
	case "this-month":
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return DateRange{Start: start, End: endOfDay(now)}, true
	case "last-month":
		firstOfThis := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		start := firstOfThis.AddDate(0, -1, 0)
		return DateRange{Start: start, End: endOfDay(firstOfThis.AddDate(0, 0, -1))}, true
	case "this-year":
		start := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
		return DateRange{Start: start, End: endOfDay(now)}, true
	}

	if n, ok := parseLastNDays(value); ok {
		return DateRange{Start: today.AddDate(0, 0, -(n - 1)), End: endOfDay(now)}, true
	}

	if start, end, ok := parseExplicitRange(value, now.Location()); ok {
		return DateRange{Start: start, End: end}, true
	}

	return DateRange{}, false
}

func parseLastNDays(value string) (int, bool) {
	rest, ok := strings.CutPrefix(value, "last-")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, "-days")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func parseExplicitRange(value string, loc *time.Location) (time.Time, time.Time, bool) {
	from, to, ok := strings.Cut(value, "_to_")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.ParseInLocation("2006-01-02", from, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err := time.ParseInLocation("2006-01-02", to, loc)
	if err != nil || end.Before(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, endOfDay(end), true
}

// Previous returns the window of equal length immediately preceding
// this one, used for the overview change-percent KPIs.
func (d DateRange) Previous() DateRange {
	span := d.End.Sub(d.Start)
	end := d.Start.Add(-time.Millisecond)
	return DateRange{Start: end.Add(-span), End: end}
}

func (d DateRange) String() string {
	return fmt.Sprintf("%s_to_%s", d.Start.Format("2006-01-02"), d.End.Format("2006-01-02"))
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), t.Location())
}
