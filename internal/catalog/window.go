package catalog

import (
	"fmt"
	"time"
)

// Window is a recurring month/day range, e.g. a growing season.
type Window struct {
	from, to int // month*100 + day
}

func parseMonthDay(s string) (int, error) {
	t, err := time.Parse("01-02", s)
	if err != nil {
		return 0, fmt.Errorf("invalid month-day %q: %w", s, err)
	}
	return int(t.Month())*100 + t.Day(), nil
}

func ParseWindow(spec WindowSpec) (*Window, error) {
	from, err := parseMonthDay(spec.From)
	if err != nil {
		return nil, err
	}
	to, err := parseMonthDay(spec.To)
	if err != nil {
		return nil, err
	}
	return &Window{from: from, to: to}, nil
}

// Contains reports whether date falls inside the window. A nil window
// contains every date.
func (w *Window) Contains(date time.Time) bool {
	if w == nil {
		return true
	}
	md := int(date.Month())*100 + date.Day()
	if w.from <= w.to {
		return md >= w.from && md <= w.to
	}
	return md >= w.from || md <= w.to
}

func (w *Window) String() string {
	if w == nil {
		return ""
	}
	return fmt.Sprintf("%02d-%02d..%02d-%02d", w.from/100, w.from%100, w.to/100, w.to%100)
}
