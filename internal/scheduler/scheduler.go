// Package scheduler runs the guarantee maintenance jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	jobs     *Jobs
	logger   *zap.Logger
	schedule string
}

// New creates a scheduler that runs both jobs on schedule, a standard
// five-field cron expression or a descriptor such as "@hourly".
func New(jobs *Jobs, logger *zap.Logger, schedule string) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := zapCronLogger{logger.Sugar()}
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		jobs:     jobs,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.jobs.SweepExpired); err != nil {
		return fmt.Errorf("schedule expiry sweep %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, s.jobs.RefreshAlerts); err != nil {
		return fmt.Errorf("schedule alert refresh %q: %w", s.schedule, err)
	}
	s.logger.Info("scheduled guarantee jobs", zap.String("schedule", s.schedule))

	s.cron.Start()
	return nil
}

// Stop stops the scheduler. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	l *zap.SugaredLogger
}

func (z zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	z.l.Debugw(msg, keysAndValues...)
}

func (z zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	z.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
