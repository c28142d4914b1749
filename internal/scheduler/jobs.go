// internal/scheduler/jobs.go
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper is the part of the guarantee service the jobs drive.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
	RefreshAlerts(ctx context.Context) (int, error)
}

// Jobs wraps the periodic guarantee maintenance tasks as cron funcs.
type Jobs struct {
	sweeper Sweeper
	logger  *zap.Logger
	timeout time.Duration
}

// NewJobs returns jobs bounded by timeout per run.
func NewJobs(sweeper Sweeper, logger *zap.Logger, timeout time.Duration) *Jobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Jobs{sweeper: sweeper, logger: logger, timeout: timeout}
}

// SweepExpired moves active guarantees past their expiry to expired.
func (j *Jobs) SweepExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	n, err := j.sweeper.SweepExpired(ctx)
	if err != nil {
		j.logger.Error("expiry sweep failed", zap.Int("expired", n), zap.Error(err))
		return
	}
	j.logger.Info("expiry sweep finished", zap.Int("expired", n), zap.Duration("took", time.Since(start)))
}

// RefreshAlerts raises any expiry and renewal alerts that have come due.
func (j *Jobs) RefreshAlerts() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	n, err := j.sweeper.RefreshAlerts(ctx)
	if err != nil {
		j.logger.Error("alert refresh failed", zap.Int("raised", n), zap.Error(err))
		return
	}
	j.logger.Info("alert refresh finished", zap.Int("raised", n), zap.Duration("took", time.Since(start)))
}

// RunOnce sweeps then refreshes, for one-shot invocations.
func (j *Jobs) RunOnce(ctx context.Context) (expired, raised int, err error) {
	if expired, err = j.sweeper.SweepExpired(ctx); err != nil {
		return expired, 0, err
	}
	raised, err = j.sweeper.RefreshAlerts(ctx)
	return expired, raised, err
}
