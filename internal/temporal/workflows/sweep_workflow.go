package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/scheduler"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/temporal/activities"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	// SweepWorkflowName is the registered workflow type
	SweepWorkflowName = "SweepWorkflow"
	// SweepTimeout bounds one sweep activity
	SweepTimeout = 2 * time.Minute
	// MaxSweepAttempts is how often a failed sweep activity is retried within one run
	MaxSweepAttempts = 3
)

// SweepWorkflow runs one sweep. It is started on a cron schedule, one
// workflow id per job, so Temporal never overlaps two runs of the same job.
func SweepWorkflow(ctx workflow.Context, input models.SweepInput) (*models.SweepResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Sweep workflow started", "job", input.Job)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: SweepTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    MaxSweepAttempts,
		},
	})

	var result models.SweepResult
	if err := workflow.ExecuteActivity(ctx, activities.RunSweepName, input).Get(ctx, &result); err != nil {
		logger.Error("Sweep activity failed", "job", input.Job, "error", err)
		return nil, err
	}

	logger.Info("Sweep workflow completed", "job", result.Job, "processed", result.Processed)
	return &result, nil
}

// WorkflowID is the fixed id of a job's cron workflow
func WorkflowID(job string) string {
	return "sweep-" + job
}

// CronSchedule turns an interval into a Temporal cron spec
func CronSchedule(interval time.Duration) string {
	return "@every " + interval.String()
}

// StartCronSweeps starts one cron workflow per enabled job. A job whose
// workflow is already running keeps its existing run.
func StartCronSweeps(ctx context.Context, c client.Client, taskQueue string, intervals scheduler.Intervals) ([]string, error) {
	jobs := []struct {
		name     string
		interval time.Duration
	}{
		{models.JobFlightStatus, intervals.FlightStatus},
		{models.JobTicketExpiry, intervals.TicketExpiry},
		{models.JobRefundAutoApprove, intervals.RefundAutoApprove},
	}

	var started []string
	for _, j := range jobs {
		if j.interval <= 0 {
			continue
		}
		opts := client.StartWorkflowOptions{
			ID:           WorkflowID(j.name),
			TaskQueue:    taskQueue,
			CronSchedule: CronSchedule(j.interval),
		}
		run, err := c.ExecuteWorkflow(ctx, opts, SweepWorkflowName, models.SweepInput{Job: j.name})
		if err != nil {
			return started, fmt.Errorf("failed to start sweep workflow %s: %w", j.name, err)
		}
		started = append(started, run.GetID())
	}
	return started, nil
}
