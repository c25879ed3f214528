package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cron "github.com/netresearch/go-cron"
)

// Job is the work a Scheduler runs at each activation.
type Job func(ctx context.Context) error

// Scheduler runs a Job on a cron schedule until its context ends.
type Scheduler struct {
	raw      string
	schedule cron.Schedule
	job      Job
	now      func() time.Time
}

// NewScheduler parses a standard 5-field cron expression (descriptors
// such as "@daily" are accepted too).
func NewScheduler(expr string, job Job) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return &Scheduler{raw: expr, schedule: schedule, job: job, now: time.Now}, nil
}

// Next returns the next activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// String returns the raw cron expression.
func (s *Scheduler) String() string {
	return s.raw
}

// Run blocks, running the job at each activation. Activations are never
// overlapped: a slow job delays the next computation. It returns when ctx
// is done.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("backup scheduler started", "schedule", s.raw)
	for {
		next := s.schedule.Next(s.now())
		if next.IsZero() {
			slog.Warn("backup schedule has no future activation", "schedule", s.raw)
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("backup scheduler stopped")
			return
		case <-timer.C:
		}

		if err := s.job(ctx); err != nil {
			slog.Error("scheduled backup failed", "error", err)
		}
	}
}
