package web

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"intracal/internal/backend"
	"intracal/internal/grid"
	appLog "intracal/internal/log"
	"intracal/internal/model"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

// views holds every template the UI renders. It is built once at start-up;
// a missing template makes construction fail instead of rendering blanks.
type views struct {
	calendar *template.Template
	board    *template.Template
}

var templateFuncs = template.FuncMap{
	"clock":     clock,
	"timeRange": timeRange,
}

func loadViews(fsys fs.FS) (*views, error) {
	calendar, err := parseSet(fsys, []string{"layout", "content", "grid", "list", "event-form"},
		"templates/layout.html", "templates/calendar.html", "templates/grid.html", "templates/list.html")
	if err != nil {
		return nil, fmt.Errorf("calendar views: %w", err)
	}
	board, err := parseSet(fsys, []string{"layout", "content"},
		"templates/layout.html", "templates/comunicados.html")
	if err != nil {
		return nil, fmt.Errorf("announcement views: %w", err)
	}
	return &views{calendar: calendar, board: board}, nil
}

func parseSet(fsys fs.FS, required []string, files ...string) (*template.Template, error) {
	t, err := template.New("").Funcs(templateFuncs).ParseFS(fsys, files...)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, name := range required {
		if t.Lookup(name) == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing templates: %s", strings.Join(missing, ", "))
	}
	return t, nil
}

// render executes name into a buffer first so a template error becomes a
// 500 instead of a half-written page.
func render(w http.ResponseWriter, t *template.Template, name string, status int, data any) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		appLog.Error("template render failed", err, "template", name)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// page is the data shared by every full page.
type page struct {
	Title     string
	Lang      string
	Tab       string
	Month     string
	CSRFToken string
	LoadError string
	FormError string
}

type calendarPage struct {
	page
	Label    string
	Prev     string
	Next     string
	Current  string
	Weekdays []string
	View     grid.MonthView
	Form     eventForm

	// Edit is a rejected edit submission, shown in its event's row.
	Edit      eventForm
	EditError string
}

// EditForm returns the row form for ev: the rejected submission when it
// was for ev, else ev's current values.
func (p calendarPage) EditForm(ev model.Event) eventForm {
	if p.Edit.ID != "" && p.Edit.ID == ev.ID {
		return p.Edit
	}
	return formFromEvent(ev)
}

type boardPage struct {
	page
	Items []model.Announcement
	Form  announcementForm

	Edit      announcementForm
	EditError string
}

func (p boardPage) EditForm(a model.Announcement) announcementForm {
	if p.Edit.ID != "" && p.Edit.ID == a.ID {
		return p.Edit
	}
	return announcementForm{ID: a.ID, Title: a.Title, Description: a.Description}
}

// clock trims "HH:MM:SS" to "HH:MM".
func clock(s string) string {
	if len(s) >= 5 && s[2] == ':' {
		return s[:5]
	}
	return s
}

func timeRange(ev model.Event) string {
	switch {
	case ev.StartTime != "" && ev.EndTime != "":
		return clock(ev.StartTime) + " - " + clock(ev.EndTime)
	default:
		return clock(ev.StartTime)
	}
}

// userMessage turns a backend failure into text fit for the inline error
// element.
func userMessage(err error) string {
	var se *backend.StatusError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return se.Message()
	case errors.Is(err, backend.ErrInvalidInput):
		return strings.TrimPrefix(err.Error(), backend.ErrInvalidInput.Error()+": ")
	case errors.Is(err, backend.ErrRejected):
		if msg := strings.TrimPrefix(err.Error(), backend.ErrRejected.Error()+": "); msg != err.Error() {
			return msg
		}
		return "La solicitud fue rechazada."
	case errors.Is(err, backend.ErrNetwork):
		return "No se pudo contactar al servidor."
	case errors.Is(err, backend.ErrMalformed):
		return "El servidor respondió con datos inválidos."
	default:
		return "Ocurrió un error inesperado."
	}
}

// statusFor maps a mutation failure to the status of the re-rendered form.
func statusFor(err error) int {
	var se *backend.StatusError
	switch {
	case errors.Is(err, backend.ErrInvalidInput), errors.Is(err, backend.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.As(err, &se) && se.Code >= 400 && se.Code < 500:
		return se.Code
	default:
		return http.StatusBadGateway
	}
}
