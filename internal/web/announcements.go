package web

import (
	"net/http"

	"intracal/internal/backend"
	"intracal/internal/model"
)

type announcementForm struct {
	ID          model.ID
	Title       string
	Description string
}

func parseAnnouncementForm(r *http.Request) announcementForm {
	return announcementForm{
		Title:       r.PostFormValue("titulo"),
		Description: r.PostFormValue("descripcion"),
	}
}

func (f announcementForm) input() backend.AnnouncementInput {
	return backend.AnnouncementInput{Title: f.Title, Description: f.Description}
}

func (s *Server) renderBoard(w http.ResponseWriter, r *http.Request, status int, form announcementForm, formErr string) {
	board := s.svc.Announcements(r.Context())
	p := boardPage{
		page:  s.basePage(r, "Comunicados", "comunicados"),
		Items: board.Items,
	}
	p.LoadError = userMessage(board.Err)
	if form.ID != "" {
		p.Edit, p.EditError = form, formErr
	} else {
		p.Form, p.FormError = form, formErr
	}
	render(w, s.views.board, "layout", status, p)
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	s.renderBoard(w, r, http.StatusOK, announcementForm{}, "")
}

func (s *Server) handleCreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	form := parseAnnouncementForm(r)
	ctx, cancel := mutationContext(r)
	defer cancel()

	id, err := s.api.CreateAnnouncement(ctx, form.input())
	logMutation(r, "create announcement", id, err)
	if err != nil {
		s.renderBoard(w, r, statusFor(err), form, userMessage(err))
		return
	}
	http.Redirect(w, r, "/comunicados/", http.StatusSeeOther)
}

func (s *Server) handleEditAnnouncement(w http.ResponseWriter, r *http.Request) {
	id := model.ID(r.PathValue("id"))
	form := parseAnnouncementForm(r)
	form.ID = id
	ctx, cancel := mutationContext(r)
	defer cancel()

	err := s.api.EditAnnouncement(ctx, id, form.input())
	logMutation(r, "edit announcement", id, err)
	if err != nil {
		s.renderBoard(w, r, statusFor(err), form, userMessage(err))
		return
	}
	http.Redirect(w, r, "/comunicados/", http.StatusSeeOther)
}

func (s *Server) handleDeleteAnnouncement(w http.ResponseWriter, r *http.Request) {
	id := model.ID(r.PathValue("id"))
	ctx, cancel := mutationContext(r)
	defer cancel()

	err := s.api.DeleteAnnouncement(ctx, id)
	logMutation(r, "delete announcement", id, err)
	if err != nil {
		s.renderBoard(w, r, statusFor(err), announcementForm{}, userMessage(err))
		return
	}
	http.Redirect(w, r, "/comunicados/", http.StatusSeeOther)
}
