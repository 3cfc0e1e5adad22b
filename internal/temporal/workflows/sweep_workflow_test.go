package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/scheduler"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/temporal/activities"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
)

type SweepWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *SweepWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterWorkflowWithOptions(SweepWorkflow, workflow.RegisterOptions{Name: SweepWorkflowName})
	acts := activities.NewActivities(nil, nil)
	s.env.RegisterActivityWithOptions(acts.RunSweep, activity.RegisterOptions{Name: activities.RunSweepName})
}

func (s *SweepWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func TestSweepWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(SweepWorkflowTestSuite))
}

func (s *SweepWorkflowTestSuite) TestWorkflow_Constants() {
	s.Equal(2*time.Minute, SweepTimeout)
	s.Equal(3, MaxSweepAttempts)
}

func (s *SweepWorkflowTestSuite) TestWorkflow_Success() {
	ranAt := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	s.env.OnActivity(activities.RunSweepName, mock.Anything, models.SweepInput{Job: models.JobTicketExpiry}).
		Return(&models.SweepResult{Job: models.JobTicketExpiry, Processed: 4, RanAt: ranAt}, nil).Once()

	s.env.ExecuteWorkflow(SweepWorkflow, models.SweepInput{Job: models.JobTicketExpiry})

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var result models.SweepResult
	s.NoError(s.env.GetWorkflowResult(&result))
	s.Equal(models.JobTicketExpiry, result.Job)
	s.Equal(4, result.Processed)
}

func (s *SweepWorkflowTestSuite) TestWorkflow_RetriesFailedSweep() {
	s.env.OnActivity(activities.RunSweepName, mock.Anything, mock.Anything).
		Return(nil, errors.New("database unavailable")).Once()
	s.env.OnActivity(activities.RunSweepName, mock.Anything, mock.Anything).
		Return(&models.SweepResult{Job: models.JobFlightStatus, Processed: 1}, nil).Once()

	s.env.ExecuteWorkflow(SweepWorkflow, models.SweepInput{Job: models.JobFlightStatus})

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *SweepWorkflowTestSuite) TestWorkflow_GivesUpAfterMaxAttempts() {
	s.env.OnActivity(activities.RunSweepName, mock.Anything, mock.Anything).
		Return(nil, errors.New("database unavailable")).Times(MaxSweepAttempts)

	s.env.ExecuteWorkflow(SweepWorkflow, models.SweepInput{Job: models.JobRefundAutoApprove})

	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *SweepWorkflowTestSuite) TestWorkflow_NonRetryableFailure() {
	s.env.OnActivity(activities.RunSweepName, mock.Anything, mock.Anything).
		Return(nil, temporal.NewNonRetryableApplicationError("unknown job", "UnknownJob", nil)).Once()

	s.env.ExecuteWorkflow(SweepWorkflow, models.SweepInput{Job: "vacuum"})

	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *SweepWorkflowTestSuite) TestCronHelpers() {
	s.Equal("sweep-ticket-expiry", WorkflowID(models.JobTicketExpiry))
	s.Equal("@every 1m0s", CronSchedule(time.Minute))
	s.Equal("@every 5m0s", CronSchedule(5*time.Minute))
}

func (s *SweepWorkflowTestSuite) TestStartCronSweeps() {
	c := &mocks.Client{}
	ctx := context.Background()

	for _, job := range []string{models.JobFlightStatus, models.JobRefundAutoApprove} {
		job := job
		run := &mocks.WorkflowRun{}
		run.On("GetID").Return(WorkflowID(job))
		c.On("ExecuteWorkflow", ctx, mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
			return o.ID == WorkflowID(job) && o.TaskQueue == "sweeps" && o.CronSchedule != ""
		}), SweepWorkflowName, models.SweepInput{Job: job}).Return(run, nil).Once()
	}

	started, err := StartCronSweeps(ctx, c, "sweeps", scheduler.Intervals{
		FlightStatus:      time.Minute,
		RefundAutoApprove: 5 * time.Minute,
	})
	s.NoError(err)
	s.Equal([]string{"sweep-flight-status", "sweep-refund-auto-approve"}, started)
	c.AssertExpectations(s.T())
}

func (s *SweepWorkflowTestSuite) TestStartCronSweeps_Failure() {
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, SweepWorkflowName, mock.Anything).
		Return(nil, errors.New("namespace not found")).Once()

	started, err := StartCronSweeps(context.Background(), c, "sweeps", scheduler.DefaultIntervals())
	s.Error(err)
	s.Empty(started)
}
