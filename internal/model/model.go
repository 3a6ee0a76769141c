package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DefaultColor is the badge colour used when an event has none.
const DefaultColor = "#3A8DFF"

// GeneralColor is the colour the backend assigns to organisation-wide events.
const GeneralColor = "#FF6B6B"

// ID is an event or announcement identifier. The backend emits numeric
// ids; overlay events use string ids, so both JSON forms are accepted.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	*id = ID(n.String())
	return nil
}

// Int returns the numeric value of id, if it has one.
func (id ID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// Event is a calendar event as served by the intranet backend
// (GET /api/eventos/). It is a read-through copy: fetched per render and
// never persisted here.
type Event struct {
	ID          ID     `json:"id"`
	Title       string `json:"titulo"`
	Date        Date   `json:"fecha"`
	Description string `json:"descripcion,omitempty"`
	Color       string `json:"color,omitempty"`
	AllDay      bool   `json:"todo_el_dia"`

	// StartTime / EndTime are "HH:MM[:SS]" strings, empty for all-day events.
	StartTime string `json:"hora_inicio,omitempty"`
	EndTime   string `json:"hora_fin,omitempty"`

	Location string `json:"ubicacion,omitempty"`
	General  bool   `json:"es_general,omitempty"`
	Owner    string `json:"usuario_nombre,omitempty"`
	Editable bool   `json:"editable,omitempty"`

	// Source is empty for backend events and holds the overlay ID for
	// events merged from an ICS subscription.
	Source string `json:"source,omitempty"`
}

// BadgeColor returns the colour to paint the event with.
func (e Event) BadgeColor() string {
	if e.Color != "" {
		return e.Color
	}
	if e.General {
		return GeneralColor
	}
	return DefaultColor
}

// Tooltip mirrors the hover text of the month grid pills.
func (e Event) Tooltip() string {
	if e.Description != "" {
		return e.Description
	}
	return e.Title
}

// Announcement is an entry of the announcements board
// (GET /comunicados/listar/).
type Announcement struct {
	ID          ID     `json:"id"`
	Title       string `json:"titulo"`
	Description string `json:"descripcion"`
	Author      string `json:"usuario"`
	// Published is preformatted by the backend as "dd/mm/YYYY HH:MM".
	Published string `json:"fecha"`
	Editable  bool   `json:"editable,omitempty"`
}

// Occurrence is a single concrete instance of an overlay (ICS) event,
// after recurrence expansion and timezone normalization.
type Occurrence struct {
	SourceID string
	UID      string

	// InstanceKey uniquely identifies one occurrence of a recurring event.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	AllDay bool

	// Start / End are in the display timezone. End is exclusive.
	Start time.Time
	End   time.Time
}

// Dates returns the calendar days an occurrence covers, in the display
// timezone. All-day events use an exclusive end date.
func (o Occurrence) Dates() []Date {
	first := DateOf(o.Start)
	last := first
	if o.End.After(o.Start) {
		end := o.End
		if o.AllDay || DateOf(end).Time(end.Location()).Equal(end) {
			end = end.Add(-time.Nanosecond)
		}
		if d := DateOf(end); d.After(first) {
			last = d
		}
	}
	out := make([]Date, 0, first.DaysUntil(last)+1)
	for d := first; !d.After(last); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}
