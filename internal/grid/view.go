package grid

import (
	"fmt"
	"strings"
	"time"

	"intracal/internal/model"
)

// ViewState is the calendar's navigation position. It is a value: every
// navigation action returns a new ViewState instead of mutating one.
type ViewState struct {
	Reference model.Date
}

// Nav is a navigation action from the month controls.
type Nav string

const (
	NavNone  Nav = ""
	NavPrev  Nav = "prev"
	NavNext  Nav = "next"
	NavToday Nav = "today"
)

func NewViewState(ref model.Date) ViewState {
	return ViewState{Reference: ref}
}

// Prev moves to the previous month. The day is clamped to the target
// month's length, so March 31 goes to February 28/29, not March 2.
func (v ViewState) Prev() ViewState {
	return ViewState{Reference: shiftMonths(v.Reference, -1)}
}

// Next moves to the following month, clamping the day like Prev.
func (v ViewState) Next() ViewState {
	return ViewState{Reference: shiftMonths(v.Reference, 1)}
}

// Today jumps to the month containing today.
func (v ViewState) Today(today model.Date) ViewState {
	return ViewState{Reference: today}
}

// Apply performs nav and returns the resulting state.
func (v ViewState) Apply(nav Nav, today model.Date) (ViewState, error) {
	switch Nav(strings.ToLower(string(nav))) {
	case NavNone:
		return v, nil
	case NavPrev:
		return v.Prev(), nil
	case NavNext:
		return v.Next(), nil
	case NavToday:
		return v.Today(today), nil
	default:
		return v, fmt.Errorf("unknown navigation %q", nav)
	}
}

// Range returns the grid bounds to fetch events for.
func (v ViewState) Range() (start, end model.Date) {
	return Bounds(v.Reference)
}

func shiftMonths(d model.Date, n int) model.Date {
	first := model.NewDate(d.Year, d.Month+time.Month(n), 1)
	day := d.Day
	if last := first.DaysInMonth(); day > last {
		day = last
	}
	return model.Date{Year: first.Year, Month: first.Month, Day: day}
}

var monthNames = map[string][12]string{
	"es": {"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"},
	"en": {"January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"},
}

var weekdayNames = map[string][7]string{
	"es": {"Lun", "Mar", "Mié", "Jue", "Vie", "Sáb", "Dom"},
	"en": {"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"},
}

func language(locale string) string {
	lang, _, _ := strings.Cut(strings.ToLower(locale), "-")
	if _, ok := monthNames[lang]; ok {
		return lang
	}
	return "es"
}

// MonthLabel renders "Marzo de 2024" (es) or "March 2024" (en), with the
// first letter capitalized. Unknown locales fall back to Spanish.
func MonthLabel(ref model.Date, locale string) string {
	lang := language(locale)
	name := monthNames[lang][ref.Month-1]
	name = strings.ToUpper(name[:1]) + name[1:]
	if lang == "es" {
		return fmt.Sprintf("%s de %d", name, ref.Year)
	}
	return fmt.Sprintf("%s %d", name, ref.Year)
}

// WeekdayHeaders returns the seven column headers, Monday first.
func WeekdayHeaders(locale string) []string {
	names := weekdayNames[language(locale)]
	return names[:]
}

// Label is MonthLabel for the view's reference month.
func (v MonthView) Label(locale string) string {
	return MonthLabel(v.Reference, locale)
}
