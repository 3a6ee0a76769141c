// Package schedule runs the periodic background jobs (overlay refresh,
// snapshots) on cron expressions.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "intracal/internal/log"
)

// Job is a named unit of periodic work. An empty Spec disables the job.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Entry describes a registered job.
type Entry struct {
	Name string
	Next time.Time
}

// Scheduler wraps a cron runner bound to a context.
type Scheduler struct {
	cron  *cron.Cron
	names map[cron.EntryID]string
}

// cronLogger adapts the app logger to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}

// Start validates every spec, registers the jobs and starts the runner.
// A job still running when its next tick arrives is skipped. Jobs get ctx,
// and the runner stops when ctx is done.
func Start(ctx context.Context, loc *time.Location, jobs ...Job) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	s := &Scheduler{cron: c, names: make(map[cron.EntryID]string)}

	for _, job := range jobs {
		if job.Spec == "" {
			appLog.Info("scheduled job disabled", "job", job.Name)
			continue
		}
		id, err := c.AddFunc(job.Spec, wrap(ctx, job))
		if err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
		}
		s.names[id] = job.Name
	}

	c.Start()
	for _, e := range s.Entries() {
		appLog.Info("scheduled job registered", "job", e.Name, "next", e.Next.Format(time.RFC3339))
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return s, nil
}

func wrap(ctx context.Context, job Job) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		started := time.Now()
		if err := job.Run(ctx); err != nil {
			appLog.Error("scheduled job failed", err, "job", job.Name)
			return
		}
		appLog.Debug("scheduled job done", "job", job.Name, "elapsed_ms", time.Since(started).Milliseconds())
	}
}

// Entries lists registered jobs with their next run time.
func (s *Scheduler) Entries() []Entry {
	var out []Entry
	for _, e := range s.cron.Entries() {
		out = append(out, Entry{Name: s.names[e.ID], Next: e.Next})
	}
	return out
}

// Stop halts the runner and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Validate reports whether spec is a valid standard cron expression.
func Validate(spec string) error {
	if spec == "" {
		return nil
	}
	_, err := cron.ParseStandard(spec)
	return err
}
