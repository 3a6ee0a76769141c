package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"intracal/internal/model"
)

const (
	announcementsListPath   = "/comunicados/listar/"
	announcementsCreatePath = "/comunicados/crear/"
	announcementsEditPath   = "/comunicados/editar/"
	announcementsDeletePath = "/comunicados/eliminar/"
)

// AnnouncementInput is the form posted to create or edit an announcement.
type AnnouncementInput struct {
	Title       string
	Description string
}

func (in AnnouncementInput) form() url.Values {
	return url.Values{
		"titulo":      {strings.TrimSpace(in.Title)},
		"descripcion": {strings.TrimSpace(in.Description)},
	}
}

func (in AnnouncementInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: el título es obligatorio", ErrInvalidInput)
	}
	return nil
}

// ackResponse is the {"ok": ..., "id": ..., "error": ...} reply of the
// announcement mutation endpoints.
type ackResponse struct {
	OK    *bool    `json:"ok"`
	ID    model.ID `json:"id"`
	Error string   `json:"error"`
}

func parseAck(body []byte, what string) (model.ID, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", nil
	}
	var ack ackResponse
	if err := decode(body, &ack, what); err != nil {
		return "", err
	}
	if ack.OK == nil {
		return "", fmt.Errorf("%w: %s has no ok field", ErrMalformed, what)
	}
	if !*ack.OK {
		if ack.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrRejected, ack.Error)
		}
		return "", ErrRejected
	}
	return ack.ID, nil
}

// ListAnnouncements returns the board, newest first as ordered by the backend.
func (c *Client) ListAnnouncements(ctx context.Context) ([]model.Announcement, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, path: announcementsListPath})
	if err != nil {
		return nil, err
	}
	var out []model.Announcement
	if err := decode(body, &out, "announcement list"); err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Announcement{}
	}
	return out, nil
}

// CreateAnnouncement publishes a new announcement and returns its id.
func (c *Client) CreateAnnouncement(ctx context.Context, in AnnouncementInput) (model.ID, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}
	body, err := c.do(ctx, formRequest(announcementsCreatePath, in.form()))
	if err != nil {
		return "", err
	}
	return parseAck(body, "create announcement")
}

// EditAnnouncement updates an existing announcement.
func (c *Client) EditAnnouncement(ctx context.Context, id model.ID, in AnnouncementInput) error {
	if id == "" {
		return fmt.Errorf("%w: missing announcement id", ErrInvalidInput)
	}
	if err := in.Validate(); err != nil {
		return err
	}
	body, err := c.do(ctx, formRequest(announcementsEditPath+url.PathEscape(string(id))+"/", in.form()))
	if err != nil {
		return err
	}
	_, err = parseAck(body, "edit announcement")
	return err
}

// DeleteAnnouncement removes an announcement.
func (c *Client) DeleteAnnouncement(ctx context.Context, id model.ID) error {
	if id == "" {
		return fmt.Errorf("%w: missing announcement id", ErrInvalidInput)
	}
	body, err := c.do(ctx, formRequest(announcementsDeletePath+url.PathEscape(string(id))+"/", url.Values{}))
	if err != nil {
		return err
	}
	_, err = parseAck(body, "delete announcement")
	return err
}
