package main

import (
	"context"
	"os"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/config"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/database"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/events"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/logging"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/service"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/temporal/activities"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/temporal/workflows"
	"github.com/sirupsen/logrus"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.Fatalf("Failed to create logger: %v", err)
	}

	// The worker shares state with the API server, so it needs the database
	if cfg.Postgres.URL == "" {
		log.Fatal("DATABASE_URL is required for the worker")
	}

	log.Info("Connecting to database...")
	pool, err := database.Connect(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Info("Connected to database")

	broker, closeBroker, err := events.OpenBroker(cfg.Broker(), log)
	if err != nil {
		log.Fatalf("Failed to connect event broker: %v", err)
	}
	defer closeBroker()

	engine := service.NewEngine(database.NewStore(pool),
		service.WithPolicy(cfg.Policy()),
		service.WithLogger(log),
		service.WithPublisher(broker),
	)

	// Connect to Temporal
	log.Infof("Connecting to Temporal at %s...", cfg.Temporal.Host)
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logging.NewKeyValue(log, "temporal"),
	})
	if err != nil {
		log.Fatalf("Failed to connect to Temporal: %v", err)
	}
	defer c.Close()
	log.Info("Connected to Temporal")

	// Create worker
	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	// Register workflows
	w.RegisterWorkflowWithOptions(workflows.SweepWorkflow, workflow.RegisterOptions{Name: workflows.SweepWorkflowName})

	// Create and register activities
	acts := activities.NewActivities(engine, nil)
	w.RegisterActivityWithOptions(acts.RunSweep, activity.RegisterOptions{Name: activities.RunSweepName})

	if cfg.Scheduler.Mode == config.SchedulerTemporal {
		started, err := workflows.StartCronSweeps(ctx, c, cfg.Temporal.TaskQueue, cfg.Intervals())
		if err != nil {
			log.Fatalf("Failed to start sweep workflows: %v", err)
		}
		log.WithField("workflows", started).Info("Sweep workflows scheduled")
	}

	// Start worker
	log.Info("Starting Temporal worker...")
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
