package calendar

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"intracal/internal/config"
	"intracal/internal/ics"
	appLog "intracal/internal/log"
	"intracal/internal/model"
)

// Overlays merges read-only ICS subscriptions into the month grid. Parsed
// feeds are held in memory between refreshes; a nil *Overlays contributes
// nothing.
type Overlays struct {
	fetcher *ics.Fetcher
	loc     *time.Location

	mu      sync.RWMutex
	sources []config.OverlayConfig
	gen     uint64 // bumped by SetSources
	parsed  map[string][]ics.ParsedEvent
	loaded  bool

	refresh singleflight.Group
}

// NewOverlays creates the overlay set. Feeds are fetched lazily on the
// first Events call or explicitly with Refresh.
func NewOverlays(fetcher *ics.Fetcher, loc *time.Location, sources []config.OverlayConfig) *Overlays {
	if loc == nil {
		loc = time.Local
	}
	return &Overlays{
		fetcher: fetcher,
		loc:     loc,
		sources: append([]config.OverlayConfig(nil), sources...),
		parsed:  make(map[string][]ics.ParsedEvent),
	}
}

// SetSources replaces the subscription list (config hot reload). Parsed
// data of removed sources is dropped and the next Events call refetches.
func (o *Overlays) SetSources(sources []config.OverlayConfig) {
	if o == nil {
		return
	}
	keep := make(map[string]bool, len(sources))
	for _, s := range sources {
		keep[s.ID] = true
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.sources = append([]config.OverlayConfig(nil), sources...)
	o.gen++
	for id := range o.parsed {
		if !keep[id] {
			delete(o.parsed, id)
		}
	}
	o.loaded = false
}

// Sources returns a copy of the configured subscriptions.
func (o *Overlays) Sources() []config.OverlayConfig {
	if o == nil {
		return nil
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]config.OverlayConfig(nil), o.sources...)
}

// Refresh fetches and parses every source. A source that fails keeps its
// previously parsed events. The returned error joins per-source failures.
func (o *Overlays) Refresh(ctx context.Context) error {
	if o == nil {
		return nil
	}
	_, err, _ := o.refresh.Do("refresh", func() (any, error) {
		return nil, o.doRefresh(ctx)
	})
	return err
}

func (o *Overlays) doRefresh(ctx context.Context) error {
	o.mu.RLock()
	sources := append([]config.OverlayConfig(nil), o.sources...)
	gen := o.gen
	o.mu.RUnlock()

	if len(sources) == 0 {
		o.markLoaded(gen)
		return nil
	}

	icsSources := make([]ics.Source, 0, len(sources))
	for _, s := range sources {
		icsSources = append(icsSources, ics.Source{ID: s.ID, URL: s.URL})
	}

	started := time.Now()
	results, errs := o.fetcher.FetchAll(ctx, icsSources)

	fresh := make(map[string][]ics.ParsedEvent, len(results))
	for _, res := range results {
		events, err := ics.ParseICS(res.Source, res.Body, o.loc)
		if err != nil {
			appLog.Error("overlay parse failed", err, "id", res.Source.ID)
			errs = append(errs, err)
			continue
		}
		fresh[res.Source.ID] = events
	}

	o.mu.Lock()
	keep := make(map[string]bool, len(o.sources))
	for _, s := range o.sources {
		keep[s.ID] = true
	}
	for id, events := range fresh {
		if keep[id] {
			o.parsed[id] = events
		}
	}
	o.mu.Unlock()
	o.markLoaded(gen)

	appLog.Info("overlays refreshed",
		"sources", len(sources),
		"ok", len(fresh),
		"failed", len(errs),
		"elapsed", time.Since(started).String(),
	)
	return errors.Join(errs...)
}

// markLoaded records a completed load of the sources as of gen. A load
// that raced with SetSources leaves loaded unset so the next Events call
// fetches the new list.
func (o *Overlays) markLoaded(gen uint64) {
	o.mu.Lock()
	if o.gen == gen {
		o.loaded = true
	}
	o.mu.Unlock()
}

// Events returns overlay events for the calendar days first..last as
// non-editable model events, one per covered day.
func (o *Overlays) Events(ctx context.Context, first, last model.Date) ([]model.Event, error) {
	if o == nil {
		return nil, nil
	}

	o.mu.RLock()
	loaded := o.loaded
	o.mu.RUnlock()

	var refreshErr error
	if !loaded {
		refreshErr = o.Refresh(ctx)
	}

	o.mu.RLock()
	colors := make(map[string]string, len(o.sources))
	var parsed []ics.ParsedEvent
	for _, s := range o.sources {
		colors[s.ID] = s.Color
		parsed = append(parsed, o.parsed[s.ID]...)
	}
	o.mu.RUnlock()

	occ, err := ics.ExpandOccurrences(parsed, ics.DateWindow(first, last, o.loc), ics.ExpandOptions{Location: o.loc})
	if err != nil {
		return nil, err
	}

	out := make([]model.Event, 0, len(occ))
	for _, oc := range occ {
		out = append(out, occurrenceEvents(oc, colors[oc.SourceID], first, last)...)
	}
	return out, refreshErr
}

// occurrenceEvents spreads one occurrence over the days it covers. Times
// are kept only on the day they fall on; continuation days are all-day.
func occurrenceEvents(oc model.Occurrence, color string, first, last model.Date) []model.Event {
	if color == "" {
		color = model.GeneralColor
	}
	startDay := model.DateOf(oc.Start)
	endDay := model.DateOf(oc.End)

	var out []model.Event
	for _, d := range oc.Dates() {
		if d.Before(first) || d.After(last) {
			continue
		}
		ev := model.Event{
			ID:          model.ID(oc.SourceID + ":" + oc.UID + "@" + d.String()),
			Title:       oc.Summary,
			Date:        d,
			Description: oc.Description,
			Color:       color,
			AllDay:      true,
			Location:    oc.Location,
			General:     true,
			Source:      oc.SourceID,
		}
		if !oc.AllDay && d == startDay {
			ev.AllDay = false
			ev.StartTime = oc.Start.Format("15:04")
			if endDay == startDay && oc.End.After(oc.Start) {
				ev.EndTime = oc.End.Format("15:04")
			}
		}
		out = append(out, ev)
	}
	return out
}
