package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a wall-clock time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" in 24h format.
func ParseClock(s string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ClockTime{}, fmt.Errorf("time %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("time %q: hour must be 0..23", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("time %q: minute must be 0..59", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

func (c ClockTime) minutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Window is a daily [Start, End) time range in local wall-clock time.
type Window struct {
	Start ClockTime
	End   ClockTime
}

// NewWindow parses start and end ("HH:MM"); End must be after Start.
func NewWindow(start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	if e.minutes() <= s.minutes() {
		return Window{}, fmt.Errorf("window end %s must be after start %s", e, s)
	}
	return Window{Start: s, End: e}, nil
}

// Contains reports whether the wall-clock time of t is inside the window.
func (w Window) Contains(t time.Time) bool {
	cur := t.Hour()*60 + t.Minute()
	return cur >= w.Start.minutes() && cur < w.End.minutes()
}

// HasEnded reports whether the window is already over for the day of t.
func (w Window) HasEnded(t time.Time) bool {
	return t.Hour()*60+t.Minute() >= w.End.minutes()
}

// MinutesUntilStart returns the minutes from t until the next window start, rolling over to tomorrow once started.
func (w Window) MinutesUntilStart(t time.Time) int {
	cur := t.Hour()*60 + t.Minute()
	start := w.Start.minutes()
	if cur >= start {
		return 24*60 - cur + start
	}
	return start - cur
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}
