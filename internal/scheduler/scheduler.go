// Package scheduler provides cron-based scheduling for MindHaven's outreach
// sweeps.
package scheduler

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job is a typed descriptor for one scheduled task: a stable name for
// logging, a 5-field cron cadence, and the handler to run.
type Job struct {
	Name    string
	Cadence string
	Run     func()
}

// Scheduler provides cron-based job scheduling. Jobs recover from panics and
// a still-running job skips its next tick instead of overlapping itself.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow)
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		),
	)
	c.Start()
	return &Scheduler{cron: c}
}

// Register schedules a job. It returns an error if the cadence expression is
// invalid.
func (s *Scheduler) Register(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %q has no handler", job.Name)
	}
	name := job.Name
	run := job.Run
	_, err := s.cron.AddFunc(job.Cadence, func() {
		slog.Debug("Scheduler: job tick", "job", name)
		run()
	})
	if err != nil {
		return fmt.Errorf("scheduler: failed to register job %q with cadence %q: %w", job.Name, job.Cadence, err)
	}
	slog.Info("Scheduler: job registered", "job", job.Name, "cadence", job.Cadence)
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
