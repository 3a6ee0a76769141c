// Package grid computes the week-aligned month grid shown by the calendar
// and buckets events into its day cells.
//
// Weeks start on Monday. The grid for a month always runs from the Monday
// on or before the 1st to the Sunday on or after the last day, so it is
// always a whole number of weeks (4, 5 or 6).
package grid

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"intracal/internal/model"
)

// Day is one cell of the month grid.
type Day struct {
	Date    model.Date
	InMonth bool
	Today   bool
	Events  []model.Event
}

// MonthView is the derived, per-render value behind the month page.
// It is rebuilt on every navigation and never mutated after Build.
type MonthView struct {
	Reference model.Date
	GridStart model.Date
	GridEnd   model.Date
	Days      []Day
	ByDate    map[model.Date][]model.Event

	// Err is set when the events could not be loaded. The grid is still
	// complete and every bucket is empty, overlay events included.
	Err error
}

// Bounds returns the first (Monday) and last (Sunday) day of the grid
// covering ref's month.
func Bounds(ref model.Date) (start, end model.Date) {
	first := ref.FirstOfMonth()
	last := ref.LastOfMonth()
	start = first.AddDays(-daysSinceMonday(first.Weekday()))
	end = last.AddDays(6 - daysSinceMonday(last.Weekday()))
	return start, end
}

func daysSinceMonday(w time.Weekday) int {
	return (int(w) + 6) % 7
}

// Days returns every day of ref's grid in order, tagged in-month and today.
func Days(ref, today model.Date) []Day {
	start, end := Bounds(ref)
	days := make([]Day, 0, start.DaysUntil(end)+1)
	for d := start; !d.After(end); d = d.AddDays(1) {
		days = append(days, Day{
			Date:    d,
			InMonth: d.SameMonth(ref),
			Today:   d == today,
		})
	}
	return days
}

// Bucket groups events by exact date over the given days. Every day gets
// a non-nil (possibly empty) list; events dated outside the days are
// dropped. Within a day events are ordered by Less, and events that
// compare equal keep their source order.
func Bucket(events []model.Event, days []Day) map[model.Date][]model.Event {
	out := make(map[model.Date][]model.Event, len(days))
	for _, d := range days {
		out[d.Date] = []model.Event{}
	}
	for _, ev := range events {
		bucket, ok := out[ev.Date]
		if !ok {
			continue
		}
		out[ev.Date] = append(bucket, ev)
	}
	for _, bucket := range out {
		sort.SliceStable(bucket, func(i, j int) bool {
			return Less(bucket[i], bucket[j])
		})
	}
	return out
}

// Less orders events within a single day: all-day events first, then by
// start time, then by id (numerically when both ids are numbers).
func Less(a, b model.Event) bool {
	if a.AllDay != b.AllDay {
		return a.AllDay
	}
	if at, bt := normalizeClock(a.StartTime), normalizeClock(b.StartTime); at != bt {
		// Timed events without a start time sort after those with one.
		if at == "" || bt == "" {
			return bt == ""
		}
		return at < bt
	}
	return lessID(a.ID, b.ID)
}

func lessID(a, b model.ID) bool {
	an, aok := a.Int()
	bn, bok := b.Int()
	switch {
	case aok && bok:
		return an < bn
	case aok != bok:
		// Backend (numeric) ids before overlay ids.
		return aok
	default:
		return a < b
	}
}

// normalizeClock pads "9:00" style values so they compare lexically.
func normalizeClock(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if i := strings.IndexByte(s, ':'); i == 1 {
		s = "0" + s
	}
	if len(s) == len("15:04") {
		s += ":00"
	}
	return s
}

// Build computes the month view for ref, bucketing events into its days.
func Build(ref, today model.Date, events []model.Event) MonthView {
	days := Days(ref, today)
	start, end := days[0].Date, days[len(days)-1].Date
	byDate := Bucket(events, days)
	for i := range days {
		days[i].Events = byDate[days[i].Date]
	}
	return MonthView{
		Reference: ref,
		GridStart: start,
		GridEnd:   end,
		Days:      days,
		ByDate:    byDate,
	}
}

// Weeks splits the grid into rows of seven days.
func (v MonthView) Weeks() [][]Day {
	weeks := make([][]Day, 0, len(v.Days)/7)
	for i := 0; i+7 <= len(v.Days); i += 7 {
		weeks = append(weeks, v.Days[i:i+7])
	}
	return weeks
}

// InMonthEvents returns the events of the reference month in grid order.
func (v MonthView) InMonthEvents() []model.Event {
	var out []model.Event
	for _, d := range v.Days {
		if d.InMonth {
			out = append(out, d.Events...)
		}
	}
	return out
}

// EventCount counts the events bucketed into in-month days.
func (v MonthView) EventCount() int {
	n := 0
	for _, d := range v.Days {
		if d.InMonth {
			n += len(d.Events)
		}
	}
	return n
}

// MonthParam formats ref as the YYYY-MM query value used in links.
func MonthParam(ref model.Date) string {
	if ref.IsZero() {
		return ""
	}
	return ref.String()[:len("2006-01")]
}

// ParseMonthParam parses a YYYY-MM (or full YYYY-MM-DD) value.
func ParseMonthParam(s string) (model.Date, error) {
	s = strings.TrimSpace(s)
	if len(s) == len("2006-01") {
		s += "-01"
	}
	return model.ParseDate(s)
}

// DayNumber is the label printed in a cell's header.
func (d Day) DayNumber() string {
	return strconv.Itoa(d.Date.Day)
}
