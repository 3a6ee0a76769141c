package ics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intracal/internal/grid"
	"intracal/internal/model"
)

var santiago = time.FixedZone("America/Santiago", -3*60*60)

func calendar(lines ...string) []byte {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}, lines...)
	all = append(all, "END:VCALENDAR", "")
	return []byte(strings.Join(all, "\r\n"))
}

var sample = calendar(
	"BEGIN:VEVENT",
	"UID:fiestas",
	"DTSTAMP:20240101T000000Z",
	"DTSTART;VALUE=DATE:20240918",
	"DTEND;VALUE=DATE:20240920",
	"SUMMARY:Fiestas Patrias",
	"RRULE:FREQ=YEARLY",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:standup",
	"DTSTAMP:20240101T000000Z",
	"DTSTART:20240304T120000Z",
	"DTEND:20240304T130000Z",
	"SUMMARY:Standup",
	"DESCRIPTION:Sala 2",
	"RRULE:FREQ=WEEKLY;COUNT=4",
	"EXDATE:20240311T120000Z",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:standup",
	"DTSTAMP:20240101T000000Z",
	"RECURRENCE-ID:20240318T120000Z",
	"DTSTART:20240318T150000Z",
	"DTEND:20240318T160000Z",
	"SUMMARY:Standup (movido)",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"DTSTAMP:20240101T000000Z",
	"DTSTART:20240305T100000Z",
	"SUMMARY:sin uid",
	"END:VEVENT",
)

func parseSample(t *testing.T) []ParsedEvent {
	t.Helper()
	events, err := ParseICS(Source{ID: "feriados"}, sample, santiago)
	require.NoError(t, err)
	return events
}

func TestParseICS(t *testing.T) {
	events := parseSample(t)
	require.Len(t, events, 3, "the VEVENT without UID is skipped")

	fiestas := events[0]
	assert.True(t, fiestas.AllDay)
	assert.Equal(t, time.Date(2024, 9, 18, 0, 0, 0, 0, santiago), fiestas.Start)
	assert.Equal(t, time.Date(2024, 9, 20, 0, 0, 0, 0, santiago), fiestas.End)

	standup := events[1]
	assert.False(t, standup.AllDay)
	assert.Equal(t, "Sala 2", standup.Description)
	require.Len(t, standup.ExDates, 1)

	assert.True(t, events[2].IsOverride)
}

func TestParseICSRejectsEmpty(t *testing.T) {
	_, err := ParseICS(Source{ID: "x"}, nil, santiago)
	assert.Error(t, err)
}

func TestExpandWeeklyWithExdateAndOverride(t *testing.T) {
	w := DateWindow(model.NewDate(2024, 3, 1), model.NewDate(2024, 3, 31), santiago)
	occ, err := ExpandOccurrences(parseSample(t), w, ExpandOptions{Location: santiago})
	require.NoError(t, err)

	var got []string
	for _, o := range occ {
		got = append(got, o.Start.Format("01-02 15:04")+" "+o.Summary)
		assert.Equal(t, "feriados", o.SourceID)
		assert.Equal(t, santiago, o.Start.Location())
	}
	assert.Equal(t, []string{
		"03-04 09:00 Standup",
		"03-18 12:00 Standup (movido)",
		"03-25 09:00 Standup",
	}, got)
}

func TestExpandAllDayYearly(t *testing.T) {
	w := DateWindow(model.NewDate(2025, 9, 1), model.NewDate(2025, 9, 30), santiago)
	occ, err := ExpandOccurrences(parseSample(t), w, ExpandOptions{Location: santiago})
	require.NoError(t, err)
	require.Len(t, occ, 1)

	o := occ[0]
	assert.True(t, o.AllDay)
	assert.Equal(t, "2025-09-18", o.InstanceKey)
	assert.Equal(t, []model.Date{model.NewDate(2025, 9, 18), model.NewDate(2025, 9, 19)}, o.Dates())
}

func TestExpandRejectsInvertedWindow(t *testing.T) {
	w := Window{Start: time.Unix(100, 0), End: time.Unix(0, 0)}
	_, err := ExpandOccurrences(nil, w, ExpandOptions{})
	assert.Error(t, err)
}

func TestExpandHighestSequenceWins(t *testing.T) {
	src := Source{ID: "s"}
	day := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	events := []ParsedEvent{
		{Source: src, UID: "a", Seq: 2, Summary: "nuevo", Start: day, End: day.Add(time.Hour)},
		{Source: src, UID: "a", Seq: 1, Summary: "viejo", Start: day, End: day.Add(time.Hour)},
	}
	w := DateWindow(model.NewDate(2024, 3, 1), model.NewDate(2024, 3, 31), time.UTC)
	occ, err := ExpandOccurrences(events, w, ExpandOptions{Location: time.UTC})
	require.NoError(t, err)
	require.Len(t, occ, 1)
	assert.Equal(t, "nuevo", occ[0].Summary)
}

func TestFetchUsesETagAndFallsBackToCache(t *testing.T) {
	var hits, conditional atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(sample)
	}))

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "feriados", URL: srv.URL + "/private/token.ics"}

	first, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, sample, first.Body)

	second, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, sample, second.Body)
	assert.Equal(t, int32(1), conditional.Load())

	srv.Close()
	third, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, third.FromCache)
	assert.Equal(t, sample, third.Body)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchAllKeepsOrderAndReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.ics" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, r.URL.Path)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	results, errs := f.FetchAll(context.Background(), []Source{
		{ID: "a", URL: srv.URL + "/a.ics"},
		{ID: "missing", URL: srv.URL + "/missing.ics"},
		{ID: "b", URL: srv.URL + "/b.ics"},
	})
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Source.ID)
	assert.Equal(t, "/b.ics", string(results[1].Body))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "missing")
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.example.com/...(redacted)",
		redactURL("https://calendar.example.com/ical/secret/basic.ics?key=1"))
	assert.Equal(t, "ics://...(redacted)", redactURL("::bad"))
}

func TestExport(t *testing.T) {
	events := []model.Event{
		{ID: "1", Title: "Consejo", Date: model.NewDate(2024, 3, 15), AllDay: true},
		{ID: "2", Title: "Reunión", Date: model.NewDate(2024, 3, 15), StartTime: "09:00", EndTime: "10:30:00", Location: "Sala 1"},
		{ID: "3", Title: "Fuera", Date: model.NewDate(2024, 2, 28), AllDay: true},
		{ID: "feriados:x@2024-03-29", Title: "Viernes Santo", Date: model.NewDate(2024, 3, 29), AllDay: true, Source: "feriados"},
	}
	view := grid.Build(model.NewDate(2024, 3, 1), model.NewDate(2024, 3, 10), events)

	out := Export(view, "Calendario", santiago)
	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "X-WR-CALNAME:Calendario")
	assert.Contains(t, out, "UID:evento-1@intracal")
	assert.Contains(t, out, "VALUE=DATE:20240315")
	assert.Contains(t, out, "X-WR-TIMEZONE:America/Santiago")
	assert.NotContains(t, out, "TZID=", "timed values carry no zone reference without a VTIMEZONE")
	assert.Contains(t, out, "DTSTART:20240315T120000Z")
	assert.Contains(t, out, "DTEND:20240315T133000Z")
	assert.Contains(t, out, "UID:feriados:x@2024-03-29")
	assert.NotContains(t, out, "Fuera", "out-of-month padding days are not exported")

	parsed, err := ParseICS(Source{ID: "roundtrip"}, []byte(out), santiago)
	require.NoError(t, err)
	assert.Len(t, parsed, 3)
	for _, ev := range parsed {
		if ev.UID == "evento-2@intracal" {
			assert.Equal(t, "09:00", ev.Start.In(santiago).Format("15:04"))
			assert.Equal(t, "10:30", ev.End.In(santiago).Format("15:04"))
		}
	}
}

func TestEventTimesFallsBackToAllDay(t *testing.T) {
	ev := model.Event{Date: model.NewDate(2024, 3, 15), StartTime: "soon"}
	start, end, timed := eventTimes(ev, time.UTC)
	assert.False(t, timed)
	assert.Equal(t, 24*time.Hour, end.Sub(start))
}
