package termview

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intracal/internal/grid"
	"intracal/internal/model"
)

func TestRender(t *testing.T) {
	events := []model.Event{
		{ID: "1", Title: "Consejo", Date: model.NewDate(2024, 3, 15), AllDay: true},
		{ID: "2", Title: "Reunión", Date: model.NewDate(2024, 3, 15), StartTime: "09:00:00"},
		{ID: "3", Title: "Cierre", Date: model.NewDate(2024, 2, 27), AllDay: true},
	}
	view := grid.Build(model.NewDate(2024, 3, 1), model.NewDate(2024, 3, 10), events)

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, view, "es-CL"))
	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	assert.Contains(t, lines[0], "Marzo de 2024")
	assert.Contains(t, lines[1], "Lun")
	assert.Contains(t, lines[1], "Dom")
	// title + header + 5 weeks + blank + 2 in-month events
	assert.Len(t, lines, 10)
	assert.Contains(t, lines[2], "26")
	assert.Contains(t, lines[2], "·1 27")
	assert.Contains(t, lines[4], "·2 15")
	assert.Contains(t, out, "2024-03-15  todo el día  Consejo")
	assert.Contains(t, out, "09:00")
	assert.NotContains(t, out, "Cierre", "padding-day events are only counted")
}

func TestRenderShowsError(t *testing.T) {
	view := grid.Build(model.NewDate(2024, 3, 1), model.NewDate(2024, 3, 10), nil)
	view.Err = errors.New("backend unreachable")

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, view, "en"))
	assert.Contains(t, buf.String(), "March 2024")
	assert.Contains(t, buf.String(), "Mon")
	assert.Contains(t, buf.String(), "error: backend unreachable")
}
