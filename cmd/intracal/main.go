package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"intracal/internal/backend"
	"intracal/internal/calendar"
	"intracal/internal/config"
	"intracal/internal/ics"
	appLog "intracal/internal/log"
)

const version = "0.1.0"

var (
	// Global flags
	configPath string
	listenAddr string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "intracal",
	Short: "Calendar and announcements front end for the intranet",
	Long: `intracal renders the intranet calendar (month grid, event list and
announcements board) as server-side HTML on top of the intranet REST API.

Run "intracal serve" to start the web UI.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			appLog.SetLevel(appLog.LevelDebug)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		appLog.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/intracal/config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config if set)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd, monthCmd, snapshotCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the --listen override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app is the wiring shared by every command.
type app struct {
	cfg      *config.Config
	api      *backend.Client
	overlays *calendar.Overlays
	svc      *calendar.Service
}

func newApp(cfg *config.Config) (*app, error) {
	api, err := backend.New(cfg.Backend.BaseURL,
		backend.WithTimeout(cfg.Backend.Timeout()),
		backend.WithCSRF(cfg.Backend.CSRFCookie, cfg.Backend.CSRFHeader),
	)
	if err != nil {
		return nil, err
	}

	loc := cfg.Location()
	fetcher := ics.NewFetcher(cfg.OverlayCacheDir, &http.Client{Timeout: 30 * time.Second})
	overlays := calendar.NewOverlays(fetcher, loc, cfg.Overlays)
	svc := calendar.NewService(api, calendar.Options{
		Location: loc,
		CacheTTL: time.Duration(cfg.CacheSeconds) * time.Second,
		Overlays: overlays,
	})
	return &app{cfg: cfg, api: api, overlays: overlays, svc: svc}, nil
}

// parseCookies turns repeated "name=value" flags into cookies.
func parseCookies(pairs []string) ([]*http.Cookie, error) {
	var out []*http.Cookie
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("cookie %q: want name=value", p)
		}
		out = append(out, &http.Cookie{Name: name, Value: strings.TrimSpace(value)})
	}
	return out, nil
}
