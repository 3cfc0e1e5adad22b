package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_total",
		Help: "Booking attempts by result",
	}, []string{"result"})

	PaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_total",
		Help: "Payment attempts by result",
	}, []string{"result"})

	TicketsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickets_expired_total",
		Help: "Pending tickets expired by the sweep",
	})

	RefundsDecidedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_decided_total",
		Help: "Refund decisions by decision and actor",
	}, []string{"decision", "actor"})

	FlightStatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flight_status_transitions_total",
		Help: "Flight status transitions by target status",
	}, []string{"to"})

	SchedulerJobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_job_runs_total",
		Help: "Scheduler job runs by job and result",
	}, []string{"job", "result"})

	SchedulerJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_job_duration_seconds",
		Help:    "Scheduler job run duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	IdempotentReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "idempotent_replays_total",
		Help: "Responses replayed for a repeated Idempotency-Key",
	})
)

// Result label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)
