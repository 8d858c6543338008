// Package scheduler provides the periodic trigger for MomentPipe.
//
// It invokes the engine's check cycle on a cron schedule while the daemon
// runs; the engine's own throttle makes overlapping triggers harmless.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser plus @every descriptors, with panic recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddInterval schedules a task to run every d, using a cron @every descriptor.
func (s *Scheduler) AddInterval(d time.Duration, task func()) error {
	if d <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	return s.AddJob(fmt.Sprintf("@every %s", d), task)
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
