package calendar

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"intracal/internal/backend"
	"intracal/internal/config"
	"intracal/internal/grid"
	"intracal/internal/ics"
	"intracal/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var clt = time.FixedZone("CLT", -3*60*60)

// fakeBackend serves a fixed event list; when gate is set every
// ListEvents call blocks on it after signalling started.
type fakeBackend struct {
	mu      sync.Mutex
	events  []model.Event
	err     error
	calls   atomic.Int32
	started chan struct{}
	gate    chan struct{}

	announcements []model.Announcement
	annErr        error
}

func (f *fakeBackend) setEvents(evs []model.Event) {
	f.mu.Lock()
	f.events = evs
	f.mu.Unlock()
}

func (f *fakeBackend) ListEvents(ctx context.Context, start, end model.Date) ([]model.Event, error) {
	f.calls.Add(1)
	if f.gate != nil {
		f.started <- struct{}{}
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Event(nil), f.events...), f.err
}

func (f *fakeBackend) ListAnnouncements(context.Context) ([]model.Announcement, error) {
	return f.announcements, f.annErr
}

func fixedNow() time.Time {
	return time.Date(2024, 3, 10, 12, 0, 0, 0, clt)
}

func march() grid.ViewState {
	return grid.NewViewState(model.NewDate(2024, 3, 15))
}

func TestMonthBucketsEvents(t *testing.T) {
	fb := &fakeBackend{events: []model.Event{
		{ID: "1", Title: "Consejo", Date: model.NewDate(2024, 3, 10), AllDay: true},
		{ID: "2", Title: "Cierre", Date: model.NewDate(2024, 2, 26), AllDay: true},
	}}
	svc := NewService(fb, Options{Location: clt, Now: fixedNow})

	view := svc.Month(context.Background(), march())
	require.NoError(t, view.Err)
	assert.Len(t, view.Days, 35)
	assert.Equal(t, model.NewDate(2024, 2, 26), view.GridStart)
	assert.Len(t, view.ByDate[model.NewDate(2024, 3, 10)], 1)
	assert.Len(t, view.ByDate[model.NewDate(2024, 2, 26)], 1)

	var today []grid.Day
	for _, d := range view.Days {
		if d.Today {
			today = append(today, d)
		}
	}
	require.Len(t, today, 1)
	assert.Equal(t, model.NewDate(2024, 3, 10), today[0].Date)
}

func TestMonthFailureStillRendersGrid(t *testing.T) {
	fb := &fakeBackend{err: &backend.StatusError{Method: http.MethodGet, Path: "/api/eventos/", Code: 500}}
	svc := NewService(fb, Options{Location: clt, Now: fixedNow})

	view := svc.Month(context.Background(), march())
	var se *backend.StatusError
	require.ErrorAs(t, view.Err, &se)
	assert.Len(t, view.Days, 35)
	for _, d := range view.Days {
		assert.NotNil(t, view.ByDate[d.Date])
		assert.Empty(t, view.ByDate[d.Date])
	}
}

func TestMonthCachesWithinTTL(t *testing.T) {
	fb := &fakeBackend{}
	now := fixedNow()
	svc := NewService(fb, Options{
		Location: clt,
		Now:      func() time.Time { return now },
		CacheTTL: 30 * time.Second,
	})

	svc.Month(context.Background(), march())
	svc.Month(context.Background(), march())
	assert.Equal(t, int32(1), fb.calls.Load())

	now = now.Add(31 * time.Second)
	svc.Month(context.Background(), march())
	assert.Equal(t, int32(2), fb.calls.Load())

	svc.Invalidate()
	svc.Month(context.Background(), march())
	assert.Equal(t, int32(3), fb.calls.Load())
}

func TestMonthCacheIsPerSession(t *testing.T) {
	fb := &fakeBackend{}
	svc := NewService(fb, Options{Location: clt, Now: fixedNow, CacheTTL: time.Minute})

	ana := backend.WithCredentials(context.Background(), backend.Credentials{
		Cookies: []*http.Cookie{{Name: "sessionid", Value: "ana"}},
	})
	bruno := backend.WithCredentials(context.Background(), backend.Credentials{
		Cookies: []*http.Cookie{{Name: "sessionid", Value: "bruno"}},
	})
	svc.Month(ana, march())
	svc.Month(bruno, march())
	svc.Month(ana, march())
	assert.Equal(t, int32(2), fb.calls.Load())
}

func TestConcurrentMonthsCollapse(t *testing.T) {
	fb := &fakeBackend{
		events:  []model.Event{{ID: "1", Date: model.NewDate(2024, 3, 1), AllDay: true}},
		started: make(chan struct{}, 4),
		gate:    make(chan struct{}),
	}
	svc := NewService(fb, Options{Location: clt, Now: fixedNow})

	var wg sync.WaitGroup
	views := make([]grid.MonthView, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		views[0] = svc.Month(context.Background(), march())
	}()
	<-fb.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		views[1] = svc.Month(context.Background(), march())
	}()
	// Give the second caller time to join the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(fb.gate)
	wg.Wait()

	assert.Equal(t, int32(1), fb.calls.Load())
	for _, v := range views {
		assert.Equal(t, 1, v.EventCount())
	}
}

func TestFetchInFlightDuringInvalidateIsNotCached(t *testing.T) {
	fb := &fakeBackend{
		events:  []model.Event{{ID: "old", Date: model.NewDate(2024, 3, 1), AllDay: true}},
		started: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	svc := NewService(fb, Options{Location: clt, Now: fixedNow, CacheTTL: time.Minute})

	done := make(chan grid.MonthView)
	go func() { done <- svc.Month(context.Background(), march()) }()
	<-fb.started

	svc.Invalidate()
	close(fb.gate)
	<-done

	fb.gate = nil
	fb.setEvents([]model.Event{{ID: "new", Date: model.NewDate(2024, 3, 1), AllDay: true}})
	view := svc.Month(context.Background(), march())
	require.Len(t, view.InMonthEvents(), 1)
	assert.Equal(t, model.ID("new"), view.InMonthEvents()[0].ID)
	assert.Equal(t, int32(2), fb.calls.Load())
}

func TestStoreDiscardsOlderToken(t *testing.T) {
	svc := NewService(&fakeBackend{}, Options{Location: clt, Now: fixedNow, CacheTTL: time.Minute})
	newer := []model.Event{{ID: "newer"}}
	older := []model.Event{{ID: "older"}}

	svc.store("k", cachedMonth{token: 2, fetched: fixedNow(), events: newer})
	svc.store("k", cachedMonth{token: 1, fetched: fixedNow(), events: older})
	assert.Equal(t, newer, svc.cache["k"].events)

	svc.store("k", cachedMonth{token: 3, fetched: fixedNow(), events: older})
	assert.Equal(t, older, svc.cache["k"].events)
}

func TestSequencerIsMonotonic(t *testing.T) {
	var seq Sequencer
	var wg sync.WaitGroup
	seen := make([]uint64, 100)
	for i := range seen {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen[i] = seq.Next()
		}()
	}
	wg.Wait()

	uniq := make(map[uint64]bool)
	for _, n := range seen {
		uniq[n] = true
	}
	assert.Len(t, uniq, 100)
	assert.Equal(t, uint64(101), seq.Next())
}

func TestAnnouncements(t *testing.T) {
	fb := &fakeBackend{announcements: []model.Announcement{{ID: "1", Title: "Hola"}}}
	svc := NewService(fb, Options{})
	board := svc.Announcements(context.Background())
	require.NoError(t, board.Err)
	assert.Len(t, board.Items, 1)

	fb.annErr = backend.ErrNetwork
	board = svc.Announcements(context.Background())
	assert.ErrorIs(t, board.Err, backend.ErrNetwork)
	assert.NotNil(t, board.Items)
	assert.Empty(t, board.Items)
}

const holidayFeed = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:viernes-santo\r\nDTSTAMP:20240101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20240329\r\nSUMMARY:Viernes Santo\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:charla\r\nDTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240305T130000Z\r\nDTEND:20240305T143000Z\r\nSUMMARY:Charla\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func localFeed(t *testing.T) *Overlays {
	t.Helper()
	return NewOverlays(ics.NewFetcher(t.TempDir(), nil), clt, nil)
}

func newFeedServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMonthFailureDropsOverlayEventsToo(t *testing.T) {
	srv := newFeedServer(t, holidayFeed)
	ov := localFeed(t)
	ov.SetSources([]config.OverlayConfig{{ID: "feriados", URL: srv.URL + "/cl.ics"}})

	fb := &fakeBackend{err: &backend.StatusError{Method: http.MethodGet, Path: "/api/eventos/", Code: 502}}
	svc := NewService(fb, Options{Location: clt, Now: fixedNow, Overlays: ov})

	view := svc.Month(context.Background(), march())
	require.Error(t, view.Err)
	assert.Len(t, view.Days, 35)
	for _, d := range view.Days {
		assert.Empty(t, view.ByDate[d.Date], d.Date.String())
	}
}

func TestMonthMergesOverlays(t *testing.T) {
	srv := newFeedServer(t, holidayFeed)
	ov := localFeed(t)
	ov.SetSources([]config.OverlayConfig{{ID: "feriados", URL: srv.URL + "/cl.ics", Color: "#00AA00"}})

	fb := &fakeBackend{events: []model.Event{{ID: "1", Title: "Consejo", Date: model.NewDate(2024, 3, 29), AllDay: true}}}
	svc := NewService(fb, Options{Location: clt, Now: fixedNow, Overlays: ov})

	view := svc.Month(context.Background(), march())
	require.NoError(t, view.Err)

	friday := view.ByDate[model.NewDate(2024, 3, 29)]
	require.Len(t, friday, 2)
	var holiday model.Event
	for _, ev := range friday {
		if ev.Source == "feriados" {
			holiday = ev
		}
	}
	assert.Equal(t, "Viernes Santo", holiday.Title)
	assert.Equal(t, "#00AA00", holiday.Color)
	assert.False(t, holiday.Editable)

	talk := view.ByDate[model.NewDate(2024, 3, 5)]
	require.Len(t, talk, 1)
	assert.Equal(t, "10:00", talk[0].StartTime)
	assert.Equal(t, "11:30", talk[0].EndTime)
}

func TestOverlayFailureDoesNotFailMonth(t *testing.T) {
	ov := localFeed(t)
	ov.SetSources([]config.OverlayConfig{{ID: "roto", URL: "http://127.0.0.1:1/roto.ics"}})
	fb := &fakeBackend{events: []model.Event{{ID: "1", Date: model.NewDate(2024, 3, 4), AllDay: true}}}
	svc := NewService(fb, Options{Location: clt, Now: fixedNow, Overlays: ov})

	view := svc.Month(context.Background(), march())
	assert.NoError(t, view.Err)
	assert.Equal(t, 1, view.EventCount())
}

func TestSetSourcesDropsRemovedFeeds(t *testing.T) {
	srv := newFeedServer(t, holidayFeed)
	ov := localFeed(t)
	ov.SetSources([]config.OverlayConfig{{ID: "feriados", URL: srv.URL + "/cl.ics"}})
	require.NoError(t, ov.Refresh(context.Background()))

	evs, err := ov.Events(context.Background(), model.NewDate(2024, 3, 1), model.NewDate(2024, 3, 31))
	require.NoError(t, err)
	assert.Len(t, evs, 2)

	ov.SetSources(nil)
	evs, err = ov.Events(context.Background(), model.NewDate(2024, 3, 1), model.NewDate(2024, 3, 31))
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestOccurrenceEventsSpansDays(t *testing.T) {
	oc := model.Occurrence{
		SourceID: "s",
		UID:      "u",
		Summary:  "Congreso",
		Start:    time.Date(2024, 3, 30, 18, 0, 0, 0, clt),
		End:      time.Date(2024, 4, 2, 12, 0, 0, 0, clt),
	}
	evs := occurrenceEvents(oc, "", model.NewDate(2024, 2, 26), model.NewDate(2024, 3, 31))
	require.Len(t, evs, 2)
	assert.Equal(t, "18:00", evs[0].StartTime)
	assert.False(t, evs[0].AllDay)
	assert.True(t, evs[1].AllDay)
	assert.Equal(t, model.GeneralColor, evs[1].Color)
	assert.Equal(t, model.ID("s:u@2024-03-31"), evs[1].ID)
}

func TestNilOverlays(t *testing.T) {
	var ov *Overlays
	evs, err := ov.Events(context.Background(), model.NewDate(2024, 3, 1), model.NewDate(2024, 3, 31))
	assert.NoError(t, err)
	assert.Nil(t, evs)
	assert.NoError(t, ov.Refresh(context.Background()))
	ov.SetSources(nil)
}

func TestOverlayCacheWritten(t *testing.T) {
	srv := newFeedServer(t, holidayFeed)
	dir := t.TempDir()
	ov := NewOverlays(ics.NewFetcher(dir, srv.Client()), clt,
		[]config.OverlayConfig{{ID: "feriados", URL: srv.URL + "/cl.ics"}})
	require.NoError(t, ov.Refresh(context.Background()))

	matches, err := filepath.Glob(filepath.Join(dir, "*", "body.ics"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	body, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, holidayFeed, string(body))
}

func TestRefreshReportsErrors(t *testing.T) {
	ov := localFeed(t)
	ov.SetSources([]config.OverlayConfig{{ID: "roto", URL: "http://127.0.0.1:1/roto.ics"}})
	err := ov.Refresh(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}

func TestSetSourcesDuringRefreshRefetches(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		_, _ = io.WriteString(w, holidayFeed)
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(unblock)

	extra := newFeedServer(t, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n"+
		"BEGIN:VEVENT\r\nUID:jornada\r\nDTSTAMP:20240101T000000Z\r\n"+
		"DTSTART;VALUE=DATE:20240312\r\nSUMMARY:Jornada\r\nEND:VEVENT\r\n"+
		"END:VCALENDAR\r\n")

	ov := localFeed(t)
	feriados := config.OverlayConfig{ID: "feriados", URL: slow.URL + "/cl.ics"}
	ov.SetSources([]config.OverlayConfig{feriados})

	done := make(chan error, 1)
	go func() { done <- ov.Refresh(context.Background()) }()
	<-started

	ov.SetSources([]config.OverlayConfig{feriados, {ID: "extra", URL: extra.URL + "/x.ics"}})
	unblock()
	require.NoError(t, <-done)

	ov.mu.RLock()
	loaded := ov.loaded
	ov.mu.RUnlock()
	assert.False(t, loaded, "a refresh that raced with SetSources does not mark the new list loaded")

	evs, err := ov.Events(context.Background(), model.NewDate(2024, 3, 1), model.NewDate(2024, 3, 31))
	require.NoError(t, err)
	var fromExtra []string
	for _, ev := range evs {
		if ev.Source == "extra" {
			fromExtra = append(fromExtra, ev.Title)
		}
	}
	assert.Equal(t, []string{"Jornada"}, fromExtra)
}
