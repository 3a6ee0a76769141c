package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"intracal/internal/grid"
	"intracal/internal/model"
)

const productID = "-//intracal//calendario//ES"

// Export renders the in-month events of view as a VCALENDAR named name.
// All-day events become DATE values. Timed events are resolved in loc and
// written as UTC date-times, so no VTIMEZONE is needed; X-WR-TIMEZONE only
// hints the display zone.
func Export(view grid.MonthView, name string, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}
	if tzid := ianaName(loc); tzid != "" {
		cal.SetXWRTimezone(tzid)
	}

	stamp := time.Now().UTC()
	for _, ev := range view.InMonthEvents() {
		vev := cal.AddEvent(exportUID(ev))
		vev.SetDtStampTime(stamp)
		vev.SetSummary(ev.Title)
		if ev.Description != "" {
			vev.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			vev.SetLocation(ev.Location)
		}
		vev.SetProperty(ical.ComponentProperty("COLOR"), ev.BadgeColor())

		start, end, timed := eventTimes(ev, loc)
		if !timed {
			vev.SetAllDayStartAt(start)
			vev.SetAllDayEndAt(end)
			continue
		}
		vev.SetStartAt(start)
		if !end.IsZero() {
			vev.SetEndAt(end)
		}
	}
	return cal.Serialize()
}

func exportUID(ev model.Event) string {
	if ev.Source != "" {
		return string(ev.ID)
	}
	return "evento-" + string(ev.ID) + "@intracal"
}

// eventTimes resolves an event to instants in loc. Events without a usable
// start time are exported as all-day.
func eventTimes(ev model.Event, loc *time.Location) (start, end time.Time, timed bool) {
	day := ev.Date.Time(loc)
	if ev.AllDay {
		return day, day.AddDate(0, 0, 1), false
	}
	s, ok := clockOffset(ev.StartTime)
	if !ok {
		return day, day.AddDate(0, 0, 1), false
	}
	start = day.Add(s)
	if e, ok := clockOffset(ev.EndTime); ok && e > s {
		end = day.Add(e)
	}
	return start, end, true
}

func clockOffset(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, true
		}
	}
	return 0, false
}

func ianaName(loc *time.Location) string {
	switch n := loc.String(); n {
	case "", "Local", "UTC":
		return ""
	default:
		return n
	}
}
