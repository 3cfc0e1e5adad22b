package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/metrics"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/scheduler"
	"github.com/jonboulle/clockwork"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// RunSweepName is the registered name of the sweep activity
const RunSweepName = "RunSweep"

// Activities holds the engine the sweep activity drives
type Activities struct {
	sweeper scheduler.Sweeper
	clock   clockwork.Clock
}

// NewActivities creates activities backed by the engine
func NewActivities(sweeper scheduler.Sweeper, clock clockwork.Clock) *Activities {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Activities{sweeper: sweeper, clock: clock}
}

// RunSweep runs one sweep job against the engine. An unknown job is not retried.
func (a *Activities) RunSweep(ctx context.Context, input models.SweepInput) (*models.SweepResult, error) {
	logger := activity.GetLogger(ctx)
	now := a.clock.Now()
	logger.Info("Running sweep", "job", input.Job)

	n, err := scheduler.Sweep(ctx, a.sweeper, input.Job, now)
	metrics.SchedulerJobDuration.WithLabelValues(input.Job).Observe(time.Since(now).Seconds())
	if err != nil {
		metrics.SchedulerJobRunsTotal.WithLabelValues(input.Job, metrics.ResultFailure).Inc()
		if errors.Is(err, scheduler.ErrUnknownJob) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), "UnknownJob", err)
		}
		logger.Error("Sweep failed", "job", input.Job, "error", err)
		return nil, fmt.Errorf("sweep %s failed: %w", input.Job, err)
	}

	metrics.SchedulerJobRunsTotal.WithLabelValues(input.Job, metrics.ResultSuccess).Inc()
	logger.Info("Sweep finished", "job", input.Job, "processed", n)
	return &models.SweepResult{Job: input.Job, Processed: n, RanAt: now}, nil
}
