package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Calendar knows which calendar days buses do not run.
type Calendar struct {
	holidays map[string]struct{}
	closed   map[time.Weekday]struct{}
	sorted   []string
}

// Holiday is an upcoming non-operating date.
type Holiday struct {
	Date      string `json:"date"`
	Formatted string `json:"formatted"`
}

// NewCalendar parses holidays (YYYY-MM-DD) and closed weekday names.
func NewCalendar(holidays []string, closedWeekdays []string) (*Calendar, error) {
	cal := &Calendar{
		holidays: make(map[string]struct{}, len(holidays)),
		closed:   make(map[time.Weekday]struct{}, len(closedWeekdays)),
	}

	for _, h := range holidays {
		h = strings.TrimSpace(h)
		if _, err := time.Parse(dateLayout, h); err != nil {
			return nil, fmt.Errorf("holiday %q: expected YYYY-MM-DD", h)
		}
		if _, dup := cal.holidays[h]; !dup {
			cal.holidays[h] = struct{}{}
			cal.sorted = append(cal.sorted, h)
		}
	}
	sort.Strings(cal.sorted)

	for _, name := range closedWeekdays {
		wd, err := ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		cal.closed[wd] = struct{}{}
	}

	return cal, nil
}

// IsHoliday reports whether the calendar date of t is a configured holiday.
func (cal *Calendar) IsHoliday(t time.Time) bool {
	_, ok := cal.holidays[t.Format(dateLayout)]
	return ok
}

// IsClosedWeekday reports whether t falls on a non-operating weekday.
func (cal *Calendar) IsClosedWeekday(t time.Time) bool {
	_, ok := cal.closed[t.Weekday()]
	return ok
}

// IsNonOperatingDay reports whether no service runs on the calendar date of t.
func (cal *Calendar) IsNonOperatingDay(t time.Time) bool {
	return cal.IsHoliday(t) || cal.IsClosedWeekday(t)
}

// UpcomingHolidays returns up to count holidays on or after the date of now.
func (cal *Calendar) UpcomingHolidays(now time.Time, count int) []Holiday {
	today := now.Format(dateLayout)
	out := make([]Holiday, 0, count)
	for _, h := range cal.sorted {
		if len(out) >= count {
			break
		}
		if h < today {
			continue
		}
		d, _ := time.Parse(dateLayout, h)
		out = append(out, Holiday{Date: h, Formatted: d.Format("Monday, January 2, 2006")})
	}
	return out
}

// ParseWeekday accepts full or three-letter English weekday names, case-insensitively.
func ParseWeekday(name string) (time.Weekday, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		full := strings.ToLower(wd.String())
		if n == full || n == full[:3] {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}
