package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/config"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/database"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/database/memory"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/events"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/handlers"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/logging"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/middleware"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/router"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/scheduler"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/service"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/websocket"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.Fatalf("Failed to create logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	hub := websocket.NewHub(log, nil)
	go hub.Run(ctx)

	broker, closeBroker, err := events.OpenBroker(cfg.Broker(), log)
	if err != nil {
		log.Fatalf("Failed to connect event broker: %v", err)
	}
	defer closeBroker()

	publisher, closeRelay, err := seatMapPublisher(ctx, cfg, hub, broker, log)
	if err != nil {
		log.Fatalf("Failed to subscribe to event broker: %v", err)
	}
	defer closeRelay()

	engine := service.NewEngine(store,
		service.WithPolicy(cfg.Policy()),
		service.WithLogger(log),
		service.WithPublisher(publisher),
	)

	switch cfg.Scheduler.Mode {
	case config.SchedulerInProcess:
		sched := scheduler.New(engine, cfg.Intervals(), scheduler.WithLogger(log))
		if err := sched.Start(); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
		defer sched.Stop()
	case config.SchedulerTemporal:
		log.WithField("task_queue", cfg.Temporal.TaskQueue).Info("Sweeps are run by the Temporal worker")
	default:
		log.Warn("Scheduler disabled, holds and refunds will not be swept")
	}

	var idemStore middleware.KeyStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to ping redis: %v", err)
		}
		defer rdb.Close()
		idemStore = rdb
	}

	h := handlers.NewHandler(engine, log)
	r := router.SetupRouter(h, hub, middleware.Idempotency(idemStore, cfg.Redis.IdempotencyTTL, log))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.WithFields(logrus.Fields{
			"port":      cfg.HTTP.Port,
			"scheduler": cfg.Scheduler.Mode,
			"events":    cfg.Events.Driver,
		}).Info("API server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped")
}

// seatMapPublisher decides how events reach websocket clients. When the
// Temporal worker runs the sweeps its events only exist on the broker, so the
// hub is fed from a broker subscription and local events take the same path.
// Otherwise the engine publishes to the hub directly.
func seatMapPublisher(ctx context.Context, cfg *config.Config, hub *websocket.Hub, broker events.Publisher, log *logrus.Logger) (events.Publisher, func() error, error) {
	noop := func() error { return nil }
	if cfg.Scheduler.Mode != config.SchedulerTemporal {
		return events.Multi{hub, broker}, noop, nil
	}
	if cfg.Events.Driver == events.DriverNone {
		log.Warn("No event broker configured, seat map will not show changes made by the Temporal worker")
		return events.Multi{hub, broker}, noop, nil
	}

	sub, closeSub, err := events.OpenSubscriber(cfg.Broker(), "seat-map-"+uuid.NewString(), log)
	if err != nil {
		return nil, noop, err
	}
	go events.Relay(ctx, sub, hub, 5*time.Second, log)
	log.WithField("events", cfg.Events.Driver).Info("Seat map fed from the event broker")
	return broker, closeSub, nil
}

// openStore uses PostgreSQL when a URL is configured and the in-memory store otherwise
func openStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) (service.Store, func(), error) {
	if cfg.Postgres.URL == "" {
		log.Warn("DATABASE_URL not set, using the in-memory store")
		st := memory.New()
		for _, a := range database.ReferenceAirlines() {
			st.AddAirline(a)
		}
		for _, a := range database.ReferenceAirports() {
			st.AddAirport(a)
		}
		return st, func() {}, nil
	}

	pool, err := database.Connect(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := database.Migrate(migrateCtx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	st := database.NewStore(pool)
	if err := st.Seed(migrateCtx, database.ReferenceAirlines(), database.ReferenceAirports()); err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info("Connected to database")
	return st, pool.Close, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
