// Package termview prints a MonthView as a terminal calendar.
package termview

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"intracal/internal/grid"
)

const cellWidth = 7

type styles struct {
	title   lipgloss.Style
	weekday lipgloss.Style
	day     lipgloss.Style
	out     lipgloss.Style
	today   lipgloss.Style
	count   lipgloss.Style
	errText lipgloss.Style
	time    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	cell := r.NewStyle().Width(cellWidth).Align(lipgloss.Right).PaddingRight(1)
	return styles{
		title:   r.NewStyle().Bold(true).Width(cellWidth * 7).Align(lipgloss.Center),
		weekday: cell.Bold(true),
		day:     cell,
		out:     cell.Faint(true),
		today:   cell.Reverse(true),
		count:   r.NewStyle().Foreground(lipgloss.Color("#3A8DFF")),
		errText: r.NewStyle().Foreground(lipgloss.Color("#E53935")),
		time:    r.NewStyle().Faint(true),
	}
}

// Render writes view to w: a title, the weekday header, one line per week
// (out-of-month days faint, today reversed, "·N" event counts) and the
// month's events underneath. Colours follow w's terminal capabilities.
func Render(w io.Writer, view grid.MonthView, locale string) error {
	st := newStyles(lipgloss.NewRenderer(w))
	var b strings.Builder

	b.WriteString(st.title.Render(view.Label(locale)))
	b.WriteString("\n")

	var header []string
	for _, name := range grid.WeekdayHeaders(locale) {
		header = append(header, st.weekday.Render(name))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, header...))
	b.WriteString("\n")

	for _, week := range view.Weeks() {
		cells := make([]string, 0, len(week))
		for _, d := range week {
			cells = append(cells, renderDay(st, d))
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		b.WriteString("\n")
	}

	if view.Err != nil {
		b.WriteString("\n")
		b.WriteString(st.errText.Render("error: " + view.Err.Error()))
		b.WriteString("\n")
	}

	events := view.InMonthEvents()
	if len(events) > 0 {
		b.WriteString("\n")
	}
	for _, ev := range events {
		when := "todo el día"
		if !ev.AllDay && ev.StartTime != "" {
			when = ev.StartTime
			if len(when) > 5 {
				when = when[:5]
			}
		}
		fmt.Fprintf(&b, "%s  %s  %s\n", ev.Date, st.time.Render(fmt.Sprintf("%-11s", when)), ev.Title)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func renderDay(st styles, d grid.Day) string {
	text := d.DayNumber()
	if n := len(d.Events); n > 0 {
		text = st.count.Render("·"+strconv.Itoa(n)) + " " + text
	}
	switch {
	case d.Today:
		return st.today.Render(text)
	case !d.InMonth:
		return st.out.Render(text)
	default:
		return st.day.Render(text)
	}
}
