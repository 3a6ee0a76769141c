package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"intracal/internal/backend"
	"intracal/internal/grid"
	"intracal/internal/model"
	"intracal/internal/termview"
)

var monthCookies []string

var monthCmd = &cobra.Command{
	Use:   "month [YYYY-MM]",
	Short: "Print a month of the calendar in the terminal",
	Long: `Fetches the month from the intranet backend (plus configured overlays)
and prints it as a grid. Days outside the month are faint, today is shown
reversed and "·N" marks the number of events of a day.

The backend usually needs a session; pass it with --cookie, e.g.
  intracal month 2024-03 --cookie sessionid=abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMonth,
}

func init() {
	monthCmd.Flags().StringArrayVar(&monthCookies, "cookie", nil, "session cookie to forward as name=value (repeatable)")
}

func runMonth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	ref := a.svc.Today()
	if len(args) == 1 {
		if ref, err = parseMonthArg(args[0]); err != nil {
			return err
		}
	}
	cookies, err := parseCookies(monthCookies)
	if err != nil {
		return err
	}

	ctx := backend.WithCredentials(cmd.Context(), backend.Credentials{Cookies: cookies})
	view := a.svc.Month(ctx, grid.NewViewState(ref))
	if err := termview.Render(cmd.OutOrStdout(), view, cfg.Locale); err != nil {
		return err
	}
	return view.Err
}

func parseMonthArg(s string) (model.Date, error) {
	d, err := grid.ParseMonthParam(s)
	if err != nil {
		return model.Date{}, fmt.Errorf("month %q: want YYYY-MM", s)
	}
	return d, nil
}
