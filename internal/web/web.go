// Package web serves the intranet calendar and announcements board as
// server-rendered HTML, proxying every read and write to the backend with
// the browser's own session.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"intracal/internal/backend"
	"intracal/internal/calendar"
	"intracal/internal/config"
	appLog "intracal/internal/log"
	"intracal/internal/model"
)

const mutationTimeout = 30 * time.Second

// Mutator is the write side of the backend.
type Mutator interface {
	CreateEvent(ctx context.Context, in backend.EventInput) (model.Event, error)
	UpdateEvent(ctx context.Context, id model.ID, in backend.EventInput) (model.Event, error)
	DeleteEvent(ctx context.Context, id model.ID) error

	CreateAnnouncement(ctx context.Context, in backend.AnnouncementInput) (model.ID, error)
	EditAnnouncement(ctx context.Context, id model.ID, in backend.AnnouncementInput) error
	DeleteAnnouncement(ctx context.Context, id model.ID) error
}

// Server provides the HTML UI, the month JSON API and the iCalendar feed.
type Server struct {
	cfg   *config.Config
	svc   *calendar.Service
	api   Mutator
	views *views
	mux   *http.ServeMux
}

// NewServer constructs a Server. It fails if any template is missing.
func NewServer(cfg *config.Config, svc *calendar.Service, api Mutator) (*Server, error) {
	v, err := loadViews(embeddedTemplates)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:   cfg,
		svc:   svc,
		api:   api,
		views: v,
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	h := forwardCredentials(csrfGuard(s.mux))
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = basicAuth(s.cfg.BasicAuth.Username, s.cfg.BasicAuth.Password, h)
	}
	return accessLog(h)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. An empty
// username or password leaves it off.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/calendario/", http.StatusFound)
	})

	s.mux.HandleFunc("GET /calendario/{$}", s.handleCalendar)
	s.mux.HandleFunc("GET /calendario/grid", s.handleFragment("grid"))
	s.mux.HandleFunc("GET /calendario/lista", s.handleFragment("list"))
	s.mux.HandleFunc("POST /calendario/eventos", s.handleCreateEvent)
	s.mux.HandleFunc("POST /calendario/eventos/{id}/editar", s.handleUpdateEvent)
	s.mux.HandleFunc("POST /calendario/eventos/{id}/eliminar", s.handleDeleteEvent)
	s.mux.HandleFunc("GET /calendario.ics", s.handleICS)
	s.mux.HandleFunc("GET /api/month", s.handleMonthJSON)

	s.mux.HandleFunc("GET /comunicados/{$}", s.handleBoard)
	s.mux.HandleFunc("POST /comunicados/crear", s.handleCreateAnnouncement)
	s.mux.HandleFunc("POST /comunicados/{id}/editar", s.handleEditAnnouncement)
	s.mux.HandleFunc("POST /comunicados/{id}/eliminar", s.handleDeleteAnnouncement)

	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview serves the last snapshot written by the capture job.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, s.cfg.Snapshot.OutputPath)
}

// basePage fills the fields every full page shares.
func (s *Server) basePage(r *http.Request, title, tab string) page {
	p := page{
		Title: title,
		Lang:  lang(s.cfg.Locale),
		Tab:   tab,
	}
	if c, err := r.Cookie(s.cfg.Backend.CSRFCookie); err == nil {
		p.CSRFToken = c.Value
	}
	return p
}

func lang(locale string) string {
	if l, _, _ := strings.Cut(strings.ToLower(locale), "-"); l == "en" {
		return "en"
	}
	return "es"
}

// mutationContext detaches a write from the browser connection so a
// closed tab cannot abort it halfway. The backend client still applies
// its own timeout.
func mutationContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), mutationTimeout)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// logMutation records the outcome of a write proxied to the backend.
func logMutation(r *http.Request, what string, id model.ID, err error) {
	kv := []any{"request_id", RequestID(r.Context()), "id", string(id)}
	switch {
	case err == nil:
		appLog.Info(what+" ok", kv...)
	case errors.Is(err, backend.ErrInvalidInput):
		appLog.Warn(what+" refused", append(kv, "cause", err)...)
	default:
		appLog.Error(what+" failed", err, kv...)
	}
}
