package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/logging"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/metrics"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// ErrUnknownJob is returned for a job name the scheduler does not own
var ErrUnknownJob = errors.New("unknown scheduler job")

// Sweeper is the part of the engine the background jobs drive
type Sweeper interface {
	AdvanceStatuses(ctx context.Context, now time.Time) (int, error)
	ExpirePending(ctx context.Context, now time.Time) (int, error)
	AutoApproveRefunds(ctx context.Context, now time.Time) (int, error)
}

// Sweep runs the named job once against the sweeper
func Sweep(ctx context.Context, s Sweeper, job string, now time.Time) (int, error) {
	switch job {
	case models.JobFlightStatus:
		return s.AdvanceStatuses(ctx, now)
	case models.JobTicketExpiry:
		return s.ExpirePending(ctx, now)
	case models.JobRefundAutoApprove:
		return s.AutoApproveRefunds(ctx, now)
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownJob, job)
}

// Intervals sets how often each job runs
type Intervals struct {
	FlightStatus      time.Duration
	TicketExpiry      time.Duration
	RefundAutoApprove time.Duration
}

// DefaultIntervals are one minute for status and expiry, five for refunds
func DefaultIntervals() Intervals {
	return Intervals{
		FlightStatus:      time.Minute,
		TicketExpiry:      time.Minute,
		RefundAutoApprove: 5 * time.Minute,
	}
}

type job struct {
	name     string
	interval time.Duration
}

// Scheduler owns the three sweeps. Start hands them to gocron; Tick runs
// whichever are due on the injected clock.
type Scheduler struct {
	sweeper Sweeper
	clock   clockwork.Clock
	log     *logrus.Logger
	jobs    []job

	mu      sync.Mutex
	lastRun map[string]time.Time
	running map[string]bool
	cron    gocron.Scheduler
}

// Option configures a Scheduler
type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option { return func(s *Scheduler) { s.clock = c } }

func WithLogger(l *logrus.Logger) Option { return func(s *Scheduler) { s.log = l } }

// New creates a scheduler. Jobs with a non-positive interval are disabled.
func New(sweeper Sweeper, intervals Intervals, opts ...Option) *Scheduler {
	s := &Scheduler{
		sweeper: sweeper,
		clock:   clockwork.NewRealClock(),
		log:     logrus.StandardLogger(),
		lastRun: make(map[string]time.Time),
		running: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, j := range []job{
		{models.JobFlightStatus, intervals.FlightStatus},
		{models.JobTicketExpiry, intervals.TicketExpiry},
		{models.JobRefundAutoApprove, intervals.RefundAutoApprove},
	} {
		if j.interval > 0 {
			s.jobs = append(s.jobs, j)
		}
	}
	return s
}

// Start registers every job with gocron in singleton mode and starts it
func (s *Scheduler) Start() error {
	cron, err := gocron.NewScheduler(
		gocron.WithClock(s.clock),
		gocron.WithLogger(logging.NewKeyValue(s.log, "gocron")),
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	for _, j := range s.jobs {
		name := j.name
		_, err := cron.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(func() { s.run(context.Background(), name) }),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = cron.Shutdown()
			return fmt.Errorf("failed to register job %s: %w", name, err)
		}
	}

	s.mu.Lock()
	s.cron = cron
	s.mu.Unlock()
	cron.Start()

	s.log.WithField("count", len(s.jobs)).Info("scheduler started")
	return nil
}

// Stop shuts gocron down, waiting for running jobs to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cron := s.cron
	s.cron = nil
	s.mu.Unlock()
	if cron == nil {
		return nil
	}
	if err := cron.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.log.Info("scheduler stopped")
	return nil
}

// Tick runs every job whose interval has elapsed since its last run. A job
// that has never run is due.
func (s *Scheduler) Tick(ctx context.Context) []models.SweepResult {
	now := s.clock.Now()
	var due []string
	s.mu.Lock()
	for _, j := range s.jobs {
		last, ok := s.lastRun[j.name]
		if !ok || now.Sub(last) >= j.interval {
			due = append(due, j.name)
		}
	}
	s.mu.Unlock()

	results := make([]models.SweepResult, 0, len(due))
	for _, name := range due {
		if res, ok := s.run(ctx, name); ok {
			results = append(results, res)
		}
	}
	return results
}

// RunJob runs one job immediately
func (s *Scheduler) RunJob(ctx context.Context, name string) (models.SweepResult, error) {
	for _, j := range s.jobs {
		if j.name != name {
			continue
		}
		res, ok := s.run(ctx, name)
		if !ok {
			return res, fmt.Errorf("job %s is already running", name)
		}
		if res.Error != "" {
			return res, errors.New(res.Error)
		}
		return res, nil
	}
	return models.SweepResult{Job: name}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

// run executes one job unless it is already in flight. Failures are logged
// and counted, never propagated to gocron.
func (s *Scheduler) run(ctx context.Context, name string) (models.SweepResult, bool) {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		return models.SweepResult{Job: name}, false
	}
	s.running[name] = true
	s.mu.Unlock()

	start := s.clock.Now()
	n, err := Sweep(ctx, s.sweeper, name, start)
	elapsed := s.clock.Since(start)

	s.mu.Lock()
	s.running[name] = false
	s.lastRun[name] = start
	s.mu.Unlock()

	res := models.SweepResult{Job: name, Processed: n, RanAt: start}
	metrics.SchedulerJobDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	entry := s.log.WithFields(logrus.Fields{"job": name, "count": n})
	if err != nil {
		res.Error = err.Error()
		metrics.SchedulerJobRunsTotal.WithLabelValues(name, metrics.ResultFailure).Inc()
		entry.WithError(err).Error("scheduler job failed")
		return res, true
	}

	metrics.SchedulerJobRunsTotal.WithLabelValues(name, metrics.ResultSuccess).Inc()
	if n > 0 {
		entry.Info("scheduler job done")
	} else {
		entry.Debug("scheduler job done")
	}
	return res, true
}
