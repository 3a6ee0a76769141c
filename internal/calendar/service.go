// Package calendar runs the fetch-then-render cycle of the month view: it
// pulls the grid range from the backend (plus any ICS overlays), buckets
// it into a grid.MonthView, and turns failures into an inline error
// instead of a failed page.
package calendar

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"intracal/internal/backend"
	"intracal/internal/grid"
	appLog "intracal/internal/log"
	"intracal/internal/model"
)

// Backend is the part of the backend client the service reads from.
type Backend interface {
	ListEvents(ctx context.Context, start, end model.Date) ([]model.Event, error)
	ListAnnouncements(ctx context.Context) ([]model.Announcement, error)
}

// Sequencer hands out monotonically increasing request tokens. A response
// carrying an older token than one already applied is stale.
type Sequencer struct {
	n atomic.Uint64
}

// Next returns a token greater than every token returned before.
func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}

// Options configures a Service.
type Options struct {
	// Location is the display timezone used to compute "today".
	Location *time.Location
	// Now overrides the clock (tests).
	Now func() time.Time
	// CacheTTL is how long a fetched month is reused. Zero disables caching.
	CacheTTL time.Duration
	// Overlays, if set, are merged into every month.
	Overlays *Overlays
}

type cachedMonth struct {
	token   uint64
	gen     uint64
	fetched time.Time
	events  []model.Event
}

// Service builds month views and the announcements board.
type Service struct {
	backend  Backend
	overlays *Overlays
	loc      *time.Location
	now      func() time.Time
	ttl      time.Duration

	seq   Sequencer
	group singleflight.Group

	mu    sync.Mutex
	gen   uint64
	cache map[string]cachedMonth
}

// NewService creates a Service over b.
func NewService(b Backend, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		backend:  b,
		overlays: opts.Overlays,
		loc:      opts.Location,
		now:      opts.Now,
		ttl:      opts.CacheTTL,
		cache:    make(map[string]cachedMonth),
	}
}

// Location returns the display timezone.
func (s *Service) Location() *time.Location { return s.loc }

// Overlays returns the overlay set, which may be nil.
func (s *Service) Overlays() *Overlays { return s.overlays }

// Today is the current calendar day in the display timezone.
func (s *Service) Today() model.Date {
	return model.Today(s.now(), s.loc)
}

// Month builds the grid for vs. It never fails: when the fetch fails the
// grid comes back with empty buckets and view.Err set.
func (s *Service) Month(ctx context.Context, vs grid.ViewState) grid.MonthView {
	start, end := vs.Range()
	events, err := s.events(ctx, start, end)
	view := grid.Build(vs.Reference, s.Today(), events)
	if err != nil {
		appLog.Error("month fetch failed", err, "month", grid.MonthParam(vs.Reference))
		view.Err = err
	}
	return view
}

// Invalidate drops cached months; call it after any mutation so the next
// render refetches. In-flight fetches started before the call are not
// cached when they complete.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	clear(s.cache)
}

func (s *Service) events(ctx context.Context, start, end model.Date) ([]model.Event, error) {
	key := backend.SessionKey(ctx) + "|" + start.String() + "|" + end.String()

	s.mu.Lock()
	gen := s.gen
	if c, ok := s.cache[key]; ok && s.ttl > 0 && s.now().Sub(c.fetched) < s.ttl {
		s.mu.Unlock()
		return c.events, nil
	}
	s.mu.Unlock()

	token := s.seq.Next()
	flight := key + "#" + strconv.FormatUint(gen, 10)
	v, err, _ := s.group.Do(flight, func() (any, error) {
		// Callers collapsed onto this fetch must not fail because the
		// first one went away.
		return s.fetch(context.WithoutCancel(ctx), start, end)
	})
	if err != nil {
		return nil, err
	}
	events := v.([]model.Event)
	s.store(key, cachedMonth{token: token, gen: gen, fetched: s.now(), events: events})
	return events, nil
}

// store caches a fetched month unless a newer request already did, or the
// cache was invalidated while the fetch was in flight.
func (s *Service) store(key string, c cachedMonth) {
	if s.ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.gen != s.gen {
		appLog.Debug("month result predates invalidation; not cached", "key", key)
		return
	}
	if prev, ok := s.cache[key]; ok && prev.token > c.token {
		appLog.Debug("stale month result discarded", "key", key, "token", c.token, "newer", prev.token)
		return
	}
	s.cache[key] = c
}

// fetch loads backend and overlay events concurrently. Overlay failures
// are logged and never fail the month; a backend failure does.
func (s *Service) fetch(ctx context.Context, start, end model.Date) ([]model.Event, error) {
	var remote, overlay []model.Event

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		remote, err = s.backend.ListEvents(gctx, start, end)
		return err
	})
	if s.overlays != nil {
		g.Go(func() error {
			evs, err := s.overlays.Events(gctx, start, end)
			if err != nil {
				appLog.Warn("overlay events incomplete", "cause", err)
			}
			overlay = evs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.Event, 0, len(remote)+len(overlay))
	out = append(out, remote...)
	return append(out, overlay...), nil
}

// Board is the announcements list plus the error that emptied it, if any.
type Board struct {
	Items []model.Announcement
	Err   error
}

// Announcements lists the board. Failures yield an empty list with Err set.
func (s *Service) Announcements(ctx context.Context) Board {
	items, err := s.backend.ListAnnouncements(ctx)
	if err != nil {
		appLog.Error("announcements fetch failed", err)
		return Board{Items: []model.Announcement{}, Err: err}
	}
	return Board{Items: items}
}
