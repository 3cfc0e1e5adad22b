package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/events"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/scheduler"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "flight-booking-queue", cfg.Temporal.TaskQueue)
	assert.Equal(t, SchedulerInProcess, cfg.Scheduler.Mode)
	assert.Equal(t, events.DriverNone, cfg.Events.Driver)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Events.KafkaBrokers)
	assert.Empty(t, cfg.Postgres.URL)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Redis.IdempotencyTTL)

	assert.Equal(t, service.DefaultPolicy(), cfg.Policy())
	assert.Equal(t, scheduler.DefaultIntervals(), cfg.Intervals())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("SCHEDULER_MODE", "temporal")
	t.Setenv("SCHEDULER_TICKET_EXPIRY", "30s")
	t.Setenv("BOOKING_HOLD_DURATION", "10m")
	t.Setenv("BOOKING_DEDUPE_PASSENGERS", "false")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.Equal(t, SchedulerTemporal, cfg.Scheduler.Mode)
	assert.Equal(t, 30*time.Second, cfg.Intervals().TicketExpiry)
	assert.Equal(t, 10*time.Minute, cfg.Policy().HoldDuration)
	assert.False(t, cfg.Policy().DedupePassengers)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
http:
  port: "7070"
postgres:
  url: postgres://booking:booking@db:5432/booking
events:
  driver: amqp
scheduler:
  mode: "off"
booking:
  max_payment_attempts: 5
  high_penalty_percent: 25
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.HTTP.Port)
	assert.Equal(t, "postgres://booking:booking@db:5432/booking", cfg.Postgres.URL)
	assert.Equal(t, events.DriverAMQP, cfg.Events.Driver)
	assert.Equal(t, SchedulerOff, cfg.Scheduler.Mode)
	assert.Equal(t, 5, cfg.Policy().MaxPaymentAttempts)
	assert.Equal(t, 25.0, cfg.Policy().HighPenaltyPercent)
	assert.Equal(t, 10.0, cfg.Policy().LowPenaltyPercent)
	assert.Equal(t, events.DriverAMQP, cfg.Broker().Driver)
	assert.Equal(t, "booking.events", cfg.Broker().AMQPExchange)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "scheduler mode", env: map[string]string{"SCHEDULER_MODE": "cron"}, want: "unknown scheduler mode"},
		{name: "events driver", env: map[string]string{"EVENTS_DRIVER": "nats"}, want: "unknown events driver"},
		{name: "hold duration", env: map[string]string{"BOOKING_HOLD_DURATION": "0s"}, want: "hold duration"},
		{name: "payment attempts", env: map[string]string{"BOOKING_MAX_PAYMENT_ATTEMPTS": "0"}, want: "payment attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
