package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"intracal/internal/model"
)

const eventsPath = "/api/eventos/"

// EventInput is the body of POST /api/eventos/ and PUT /api/eventos/{id}/.
type EventInput struct {
	Title       string     `json:"titulo"`
	Date        model.Date `json:"fecha"`
	Description string     `json:"descripcion"`
	Color       string     `json:"color"`
	AllDay      bool       `json:"todo_el_dia"`
	StartTime   string     `json:"hora_inicio,omitempty"`
	EndTime     string     `json:"hora_fin,omitempty"`
	Location    string     `json:"ubicacion,omitempty"`
	General     bool       `json:"es_general"`
}

// InputFromEvent builds an update body that keeps every field of ev.
func InputFromEvent(ev model.Event) EventInput {
	return EventInput{
		Title:       ev.Title,
		Date:        ev.Date,
		Description: ev.Description,
		Color:       ev.Color,
		AllDay:      ev.AllDay,
		StartTime:   ev.StartTime,
		EndTime:     ev.EndTime,
		Location:    ev.Location,
		General:     ev.General,
	}
}

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Normalize trims text fields and applies the default colour.
func (in *EventInput) Normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Location = strings.TrimSpace(in.Location)
	in.Color = strings.TrimSpace(in.Color)
	if in.Color == "" {
		in.Color = model.DefaultColor
	}
	if in.AllDay {
		in.StartTime, in.EndTime = "", ""
	}
}

// Validate applies the same checks the backend does, so obviously bad
// input is reported without a round trip.
func (in EventInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: el título es obligatorio", ErrInvalidInput)
	}
	if in.Date.IsZero() {
		return fmt.Errorf("%w: la fecha es obligatoria", ErrInvalidInput)
	}
	if in.Color != "" && !hexColor.MatchString(in.Color) {
		return fmt.Errorf("%w: color %q no es hexadecimal", ErrInvalidInput, in.Color)
	}
	if in.AllDay {
		return nil
	}
	if in.StartTime == "" || in.EndTime == "" {
		return fmt.Errorf("%w: los eventos con horario requieren hora de inicio y fin", ErrInvalidInput)
	}
	start, err := parseClock(in.StartTime)
	if err != nil {
		return fmt.Errorf("%w: hora de inicio: %v", ErrInvalidInput, err)
	}
	end, err := parseClock(in.EndTime)
	if err != nil {
		return fmt.Errorf("%w: hora de fin: %v", ErrInvalidInput, err)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: la hora de fin debe ser posterior a la de inicio", ErrInvalidInput)
	}
	return nil
}

func parseClock(s string) (time.Time, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("formato inválido %q", s)
}

type eventsEnvelope struct {
	Results *[]model.Event `json:"results"`
}

// ListEvents returns the events dated within [start, end]. A zero start
// or end leaves that side of the range open.
func (c *Client) ListEvents(ctx context.Context, start, end model.Date) ([]model.Event, error) {
	q := url.Values{}
	if !start.IsZero() {
		q.Set("start", start.String())
	}
	if !end.IsZero() {
		q.Set("end", end.String())
	}

	body, err := c.do(ctx, request{method: http.MethodGet, path: eventsPath, query: q})
	if err != nil {
		return nil, err
	}

	var env eventsEnvelope
	if err := decode(body, &env, "event list"); err != nil {
		return nil, err
	}
	if env.Results == nil {
		return nil, fmt.Errorf("%w: event list has no results field", ErrMalformed)
	}
	return *env.Results, nil
}

// CreateEvent creates an event and returns it as stored by the backend.
func (c *Client) CreateEvent(ctx context.Context, in EventInput) (model.Event, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return model.Event{}, err
	}
	r, err := jsonRequest(http.MethodPost, eventsPath, in)
	if err != nil {
		return model.Event{}, err
	}
	body, err := c.do(ctx, r)
	if err != nil {
		return model.Event{}, err
	}
	var ev model.Event
	if err := decode(body, &ev, "created event"); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// UpdateEvent replaces the event with the given id.
func (c *Client) UpdateEvent(ctx context.Context, id model.ID, in EventInput) (model.Event, error) {
	if id == "" {
		return model.Event{}, fmt.Errorf("%w: missing event id", ErrInvalidInput)
	}
	in.Normalize()
	if err := in.Validate(); err != nil {
		return model.Event{}, err
	}
	r, err := jsonRequest(http.MethodPut, eventPath(id), in)
	if err != nil {
		return model.Event{}, err
	}
	body, err := c.do(ctx, r)
	if err != nil {
		return model.Event{}, err
	}
	var ev model.Event
	if err := decode(body, &ev, "updated event"); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// GetEvent fetches a single event.
func (c *Client) GetEvent(ctx context.Context, id model.ID) (model.Event, error) {
	if id == "" {
		return model.Event{}, fmt.Errorf("%w: missing event id", ErrInvalidInput)
	}
	body, err := c.do(ctx, request{method: http.MethodGet, path: eventPath(id)})
	if err != nil {
		return model.Event{}, err
	}
	var ev model.Event
	if err := decode(body, &ev, "event"); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// DeleteEvent removes the event with the given id.
func (c *Client) DeleteEvent(ctx context.Context, id model.ID) error {
	if id == "" {
		return fmt.Errorf("%w: missing event id", ErrInvalidInput)
	}
	_, err := c.do(ctx, request{method: http.MethodDelete, path: eventPath(id)})
	return err
}

func eventPath(id model.ID) string {
	return eventsPath + url.PathEscape(string(id)) + "/"
}
