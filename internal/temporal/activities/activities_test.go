package activities

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

type mockSweeper struct {
	mock.Mock
}

func (m *mockSweeper) AdvanceStatuses(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *mockSweeper) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *mockSweeper) AutoApproveRefunds(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

var runAt = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newEnv(sw *mockSweeper) (*testsuite.TestActivityEnvironment, *Activities) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	acts := NewActivities(sw, clockwork.NewFakeClockAt(runAt))
	env.RegisterActivityWithOptions(acts.RunSweep, activity.RegisterOptions{Name: RunSweepName})
	return env, acts
}

func TestRunSweep_Success(t *testing.T) {
	sw := &mockSweeper{}
	sw.On("ExpirePending", mock.Anything, runAt).Return(5, nil).Once()
	env, _ := newEnv(sw)

	val, err := env.ExecuteActivity(RunSweepName, models.SweepInput{Job: models.JobTicketExpiry})
	require.NoError(t, err)

	var res models.SweepResult
	require.NoError(t, val.Get(&res))
	assert.Equal(t, models.JobTicketExpiry, res.Job)
	assert.Equal(t, 5, res.Processed)
	assert.True(t, res.RanAt.Equal(runAt))
	sw.AssertExpectations(t)
}

func TestRunSweep_EngineFailure(t *testing.T) {
	sw := &mockSweeper{}
	sw.On("AdvanceStatuses", mock.Anything, runAt).Return(0, errors.New("connection reset")).Once()
	env, _ := newEnv(sw)

	_, err := env.ExecuteActivity(RunSweepName, models.SweepInput{Job: models.JobFlightStatus})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRunSweep_UnknownJobIsNonRetryable(t *testing.T) {
	env, _ := newEnv(&mockSweeper{})

	_, err := env.ExecuteActivity(RunSweepName, models.SweepInput{Job: "vacuum"})
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, "UnknownJob", appErr.Type())
}
