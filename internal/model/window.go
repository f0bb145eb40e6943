package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// DateLayout is the ISO calendar-date form used by the ads API and the store.
const DateLayout = "2006-01-02"

// Window is an inclusive range of calendar dates.
type Window struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
}

// TrailingWindow returns [today-days, today] where today is the calendar date
// of now in now's location. Both bounds are normalized to midnight UTC so that
// the same calendar dates always compare equal.
func TrailingWindow(now time.Time, days int) Window {
	today := CalendarDate(now)
	return Window{Start: today.AddDate(0, 0, -days), End: today}
}

// CalendarDate drops the clock and zone of t, keeping its local calendar date.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "model: parse date %q", s)
	}
	return t, nil
}

// Since returns the start bound in ISO form.
func (w Window) Since() string { return w.Start.Format(DateLayout) }

// Until returns the end bound in ISO form.
func (w Window) Until() string { return w.End.Format(DateLayout) }

// String renders the window as since..until.
func (w Window) String() string { return w.Since() + ".." + w.Until() }
