package web

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"intracal/internal/backend"
	"intracal/internal/grid"
	"intracal/internal/ics"
	"intracal/internal/model"
)

// eventForm is the create/edit form as submitted, kept verbatim so a
// failed submission re-renders with the user's input.
type eventForm struct {
	// ID is set for edits of an existing event.
	ID model.ID

	Title       string
	Date        string
	AllDay      bool
	StartTime   string
	EndTime     string
	Color       string
	Location    string
	Description string
	General     bool
}

func parseEventForm(r *http.Request) eventForm {
	return eventForm{
		Title:       r.PostFormValue("titulo"),
		Date:        r.PostFormValue("fecha"),
		AllDay:      checkbox(r.PostFormValue("todo_el_dia")),
		StartTime:   r.PostFormValue("hora_inicio"),
		EndTime:     r.PostFormValue("hora_fin"),
		Color:       r.PostFormValue("color"),
		Location:    r.PostFormValue("ubicacion"),
		Description: r.PostFormValue("descripcion"),
		General:     checkbox(r.PostFormValue("es_general")),
	}
}

// formFromEvent pre-fills an edit form with ev's stored values.
func formFromEvent(ev model.Event) eventForm {
	return eventForm{
		ID:          ev.ID,
		Title:       ev.Title,
		Date:        ev.Date.String(),
		AllDay:      ev.AllDay,
		StartTime:   clock(ev.StartTime),
		EndTime:     clock(ev.EndTime),
		Color:       ev.BadgeColor(),
		Location:    ev.Location,
		Description: ev.Description,
		General:     ev.General,
	}
}

func checkbox(v string) bool {
	switch strings.ToLower(v) {
	case "on", "true", "1", "si", "sí":
		return true
	}
	return false
}

func (f eventForm) input() (backend.EventInput, error) {
	date, err := model.ParseDate(strings.TrimSpace(f.Date))
	if err != nil || date.IsZero() {
		return backend.EventInput{}, fmt.Errorf("%w: la fecha es obligatoria (AAAA-MM-DD)", backend.ErrInvalidInput)
	}
	return backend.EventInput{
		Title:       f.Title,
		Date:        date,
		Description: f.Description,
		Color:       f.Color,
		AllDay:      f.AllDay,
		StartTime:   f.StartTime,
		EndTime:     f.EndTime,
		Location:    f.Location,
		General:     f.General,
	}, nil
}

// viewState resolves ?month=YYYY-MM&nav=prev|next|today against today.
func (s *Server) viewState(r *http.Request) (grid.ViewState, error) {
	today := s.svc.Today()
	vs := grid.NewViewState(today)
	q := r.URL.Query()
	if m := q.Get("month"); m != "" {
		ref, err := grid.ParseMonthParam(m)
		if err != nil {
			return vs, err
		}
		vs = grid.NewViewState(ref)
	}
	return vs.Apply(grid.Nav(q.Get("nav")), today)
}

// returnState is the month a form post goes back to: the hidden month
// field, else the event's own date, else the current month.
func (s *Server) returnState(r *http.Request, form eventForm) grid.ViewState {
	if ref, err := grid.ParseMonthParam(r.PostFormValue("month")); err == nil {
		return grid.NewViewState(ref)
	}
	if d, err := model.ParseDate(form.Date); err == nil && !d.IsZero() {
		return grid.NewViewState(d)
	}
	return grid.NewViewState(s.svc.Today())
}

func calendarURL(vs grid.ViewState) string {
	return "/calendario/?" + url.Values{"month": {grid.MonthParam(vs.Reference)}}.Encode()
}

func (s *Server) calendarPage(r *http.Request, view grid.MonthView, tab string, form eventForm, formErr string) calendarPage {
	locale := s.cfg.Locale
	vs := grid.NewViewState(view.Reference)
	label := view.Label(locale)

	p := calendarPage{
		page:     s.basePage(r, label, tab),
		Label:    label,
		Prev:     grid.MonthParam(vs.Prev().Reference),
		Next:     grid.MonthParam(vs.Next().Reference),
		Current:  grid.MonthParam(s.svc.Today()),
		Weekdays: grid.WeekdayHeaders(locale),
		View:     view,
	}
	p.Month = grid.MonthParam(view.Reference)
	p.LoadError = userMessage(view.Err)
	if form.ID != "" {
		p.Edit, p.EditError = form, formErr
	} else {
		p.Form, p.FormError = form, formErr
	}
	if p.Form.Color == "" {
		p.Form.Color = model.DefaultColor
	}
	return p
}

func (s *Server) renderCalendar(w http.ResponseWriter, r *http.Request, vs grid.ViewState, tab string, status int, form eventForm, formErr string) {
	view := s.svc.Month(r.Context(), vs)
	render(w, s.views.calendar, "layout", status, s.calendarPage(r, view, tab, form, formErr))
}

// handleCalendar renders the full month page. ?vista=lista selects the
// event list tab.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	vs, err := s.viewState(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tab := "calendario"
	if r.URL.Query().Get("vista") == "lista" {
		tab = "lista"
	}
	s.renderCalendar(w, r, vs, tab, http.StatusOK, eventForm{}, "")
}

// handleFragment renders just the grid or list for partial refreshes.
func (s *Server) handleFragment(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vs, err := s.viewState(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		view := s.svc.Month(r.Context(), vs)
		p := s.calendarPage(r, view, "", eventForm{}, "")
		if p.LoadError != "" {
			w.Header().Set("X-Load-Error", "1")
		}
		render(w, s.views.calendar, name, http.StatusOK, p)
	}
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	form := parseEventForm(r)
	vs := s.returnState(r, form)

	ctx, cancel := mutationContext(r)
	defer cancel()

	in, err := form.input()
	var created model.Event
	if err == nil {
		created, err = s.api.CreateEvent(ctx, in)
	}
	logMutation(r, "create event", created.ID, err)
	if err != nil {
		s.renderCalendar(w, r, vs, "calendario", statusFor(err), form, userMessage(err))
		return
	}
	s.svc.Invalidate()
	http.Redirect(w, r, calendarURL(vs), http.StatusSeeOther)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := model.ID(r.PathValue("id"))
	form := parseEventForm(r)
	form.ID = id
	vs := s.returnState(r, form)

	ctx, cancel := mutationContext(r)
	defer cancel()

	in, err := form.input()
	if err == nil {
		_, err = s.api.UpdateEvent(ctx, id, in)
	}
	logMutation(r, "update event", id, err)
	if err != nil {
		s.renderCalendar(w, r, vs, "lista", statusFor(err), form, userMessage(err))
		return
	}
	s.svc.Invalidate()
	http.Redirect(w, r, calendarURL(vs), http.StatusSeeOther)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := model.ID(r.PathValue("id"))
	vs := s.returnState(r, eventForm{})

	ctx, cancel := mutationContext(r)
	defer cancel()

	err := s.api.DeleteEvent(ctx, id)
	logMutation(r, "delete event", id, err)
	if err != nil {
		s.renderCalendar(w, r, vs, "lista", statusFor(err), eventForm{}, userMessage(err))
		return
	}
	s.svc.Invalidate()
	http.Redirect(w, r, calendarURL(vs), http.StatusSeeOther)
}

type dayJSON struct {
	Date    model.Date    `json:"date"`
	InMonth bool          `json:"in_month"`
	Today   bool          `json:"today"`
	Events  []model.Event `json:"events"`
}

type monthJSON struct {
	Month     string      `json:"month"`
	Label     string      `json:"label"`
	GridStart model.Date  `json:"grid_start"`
	GridEnd   model.Date  `json:"grid_end"`
	Weeks     [][]dayJSON `json:"weeks"`
	Error     string      `json:"error,omitempty"`
}

// handleMonthJSON serves the MonthView. A failed fetch still returns the
// full grid, with status 502 and the error text.
func (s *Server) handleMonthJSON(w http.ResponseWriter, r *http.Request) {
	vs, err := s.viewState(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view := s.svc.Month(r.Context(), vs)

	resp := monthJSON{
		Month:     grid.MonthParam(view.Reference),
		Label:     view.Label(s.cfg.Locale),
		GridStart: view.GridStart,
		GridEnd:   view.GridEnd,
	}
	for _, week := range view.Weeks() {
		row := make([]dayJSON, 0, len(week))
		for _, d := range week {
			row = append(row, dayJSON{Date: d.Date, InMonth: d.InMonth, Today: d.Today, Events: d.Events})
		}
		resp.Weeks = append(resp.Weeks, row)
	}

	status := http.StatusOK
	if view.Err != nil {
		resp.Error = userMessage(view.Err)
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

// handleICS exports the month's events as an iCalendar attachment.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	vs, err := s.viewState(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	view := s.svc.Month(r.Context(), vs)
	if view.Err != nil {
		http.Error(w, userMessage(view.Err), http.StatusBadGateway)
		return
	}

	month := grid.MonthParam(view.Reference)
	body := ics.Export(view, "Calendario "+view.Label(s.cfg.Locale), s.svc.Location())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendario-`+month+`.ics"`)
	_, _ = w.Write([]byte(body))
}
