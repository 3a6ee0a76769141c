package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "intracal/internal/log"
	"intracal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 2000

// Window is the range occurrences are expanded into. Start is inclusive and
// End exclusive; both are instants in the display location.
type Window struct {
	Start time.Time
	End   time.Time
}

// DateWindow covers every calendar day from first to last (inclusive) in loc.
func DateWindow(first, last model.Date, loc *time.Location) Window {
	return Window{Start: first.Time(loc), End: last.AddDays(1).Time(loc)}
}

// ExpandOptions tunes ExpandOccurrences.
type ExpandOptions struct {
	// Location is the display timezone; nil means time.Local.
	Location *time.Location
	// MaxPerEvent caps a single series. Zero uses the default.
	MaxPerEvent int
}

// ExpandOccurrences turns parsed VEVENTs into concrete occurrences that
// intersect w. RRULE series honor EXDATE and RECURRENCE-ID overrides, and
// when a UID appears more than once as a base event the highest SEQUENCE
// wins. The result is sorted by start, then source, then UID.
func ExpandOccurrences(events []ParsedEvent, w Window, opts ExpandOptions) ([]model.Occurrence, error) {
	if w.End.Before(w.Start) {
		return nil, errors.New("expand: window end is before start")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MaxPerEvent <= 0 {
		opts.MaxPerEvent = defaultMaxOccurrencesPerEvent
	}

	type key struct{ source, uid string }
	bases := make(map[key]ParsedEvent)
	overrides := make(map[key][]ParsedEvent)
	for _, ev := range events {
		k := key{ev.Source.ID, ev.UID}
		if ev.IsOverride {
			overrides[k] = append(overrides[k], ev)
			continue
		}
		if prev, ok := bases[k]; !ok || ev.Seq >= prev.Seq {
			bases[k] = ev
		}
	}

	out := make([]model.Occurrence, 0)
	for k, base := range bases {
		x := expander{base: base, overrides: overrides[k], window: w, opts: opts}
		out = append(out, x.run()...)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.UID < b.UID
	})
	return out, nil
}

type expander struct {
	base      ParsedEvent
	overrides []ParsedEvent
	window    Window
	opts      ExpandOptions

	used map[int]bool
	out  []model.Occurrence
}

func (x *expander) run() []model.Occurrence {
	x.used = make(map[int]bool, len(x.overrides))
	if x.base.RawRRule == "" {
		x.emit(x.base.Start, x.base.End)
	} else {
		x.series()
	}

	// Overrides that moved an instance into the window from outside it.
	for i, ov := range x.overrides {
		if !x.used[i] {
			x.add(ov, ov.Start, ov.End)
		}
	}
	return x.out
}

func (x *expander) series() {
	r, err := rrule.StrToRRule(x.base.RawRRule)
	if err != nil {
		appLog.Error("expand: bad RRULE", err, "uid", x.base.UID, "rrule", x.base.RawRRule)
		return
	}
	r.DTStart(x.base.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range x.base.ExDates {
		set.ExDate(ex.In(x.base.Start.Location()))
	}

	// Widen the lower bound by the event duration so instances that began
	// before the window but are still running are included.
	dur := x.base.End.Sub(x.base.Start)
	from := x.window.Start.Add(-dur).In(x.base.Start.Location())
	until := x.window.End.In(x.base.Start.Location())

	starts := set.Between(from, until, true)
	if len(starts) > x.opts.MaxPerEvent {
		appLog.Warn("expand: series truncated", "uid", x.base.UID, "cap", x.opts.MaxPerEvent)
		starts = starts[:x.opts.MaxPerEvent]
	}
	for _, s := range starts {
		x.emit(s, s.Add(dur))
	}
}

// emit records one base instance, replacing it with its override if any.
func (x *expander) emit(start, end time.Time) {
	for i, ov := range x.overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			x.used[i] = true
			x.add(ov, ov.Start, ov.End)
			return
		}
	}
	x.add(x.base, start, end)
}

func (x *expander) add(ev ParsedEvent, start, end time.Time) {
	if !overlaps(start, end, x.window) {
		return
	}
	loc := x.opts.Location
	occ := model.Occurrence{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       start.In(loc),
		End:         end.In(loc),
	}
	if ev.AllDay {
		// Keep the wall-clock date; converting a midnight would shift it.
		occ.Start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		occ.End = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
		occ.InstanceKey = model.DateOf(occ.Start).String()
	} else {
		occ.InstanceKey = occ.Start.UTC().Format(time.RFC3339)
	}
	x.out = append(x.out, occ)
}

// overlaps reports whether [start, end) intersects w. Zero-length events
// count when their start lies inside the window.
func overlaps(start, end time.Time, w Window) bool {
	if !end.After(start) {
		return !start.Before(w.Start) && start.Before(w.End)
	}
	return start.Before(w.End) && end.After(w.Start)
}
