package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"intracal/internal/capture"
	"intracal/internal/config"
	appLog "intracal/internal/log"
	"intracal/internal/schedule"
	"intracal/internal/web"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web UI, scheduled jobs and config watcher",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	appLog.Info("intracal starting", "version", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"backend", cfg.Backend.BaseURL,
		"timezone", cfg.Timezone,
		"locale", cfg.Locale,
		"cache_seconds", cfg.CacheSeconds,
		"overlay_count", len(cfg.Overlays),
		"overlay_refresh", cfg.OverlayRefresh,
		"snapshot", cfg.Snapshot.Enabled,
		"basic_auth", cfg.BasicAuth != nil,
	)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	srv, err := web.NewServer(cfg, a.svc, a.api)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched, err := schedule.Start(ctx, cfg.Location(), a.jobs()...)
	if err != nil {
		return err
	}
	defer sched.Stop()

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLog.Info("http listening", "addr", cfg.Listen)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := config.Watch(gctx, configPath, a.reload)
		if err != nil {
			appLog.Warn("config watcher disabled", "error", err.Error())
		}
		return nil
	})

	err = g.Wait()
	appLog.Info("intracal exiting")
	return err
}

// jobs returns the cron jobs for the current config.
func (a *app) jobs() []schedule.Job {
	jobs := []schedule.Job{{
		Name: "overlays",
		Spec: a.cfg.OverlayRefresh,
		Run: func(ctx context.Context) error {
			err := a.overlays.Refresh(ctx)
			a.svc.Invalidate()
			return err
		},
	}}
	if a.cfg.Snapshot.Enabled {
		opts := snapshotOptions(a.cfg, "", "")
		jobs = append(jobs, schedule.Job{
			Name: "snapshot",
			Spec: a.cfg.Snapshot.Cron,
			Run: func(ctx context.Context) error {
				return capture.CapturePNG(ctx, opts)
			},
		})
	}
	return jobs
}

// reload applies a changed config file. Only overlay sources are hot
// reloaded; everything else needs a restart.
func (a *app) reload(next *config.Config) {
	if err := next.Validate(); err != nil {
		appLog.Warn("reloaded config rejected", "error", err.Error())
		return
	}
	a.overlays.SetSources(next.Overlays)
	a.svc.Invalidate()
	appLog.Info("config reloaded", "overlay_count", len(next.Overlays))
}

// snapshotOptions builds capture options for cfg. Empty url and out use
// this process's own listener and the configured output path.
func snapshotOptions(cfg *config.Config, url, out string) capture.Options {
	if url == "" {
		url = capture.LocalURL(cfg.Listen, "/calendario/")
	}
	if out == "" {
		out = cfg.Snapshot.OutputPath
	}
	opts := capture.Options{
		URL:        url,
		OutputPath: out,
		Width:      cfg.Snapshot.Width,
		Height:     cfg.Snapshot.Height,
		Cookies:    cfg.Snapshot.Cookies,
	}
	if cfg.BasicAuth != nil {
		opts.Username = cfg.BasicAuth.Username
		opts.Password = cfg.BasicAuth.Password
	}
	return opts
}
