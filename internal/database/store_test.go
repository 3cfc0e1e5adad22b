package database_test

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/database"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/service"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openStore connects to TEST_DATABASE_URL and applies the schema. Tests are
// skipped when it is not set.
func openStore(t *testing.T) *database.Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, url, 20)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool))

	store := database.NewStore(pool)
	require.NoError(t, store.UpsertAirline(ctx, models.Airline{Code: "EL", Name: "Test Air", Active: true}))
	require.NoError(t, store.UpsertAirport(ctx, models.Airport{Code: "TLV", Name: "Ben Gurion", City: "Tel Aviv", Active: true}))
	require.NoError(t, store.UpsertAirport(ctx, models.Airport{Code: "JFK", Name: "John F. Kennedy", City: "New York", Active: true}))
	return store
}

func newEngine(store service.Store, clock clockwork.Clock) *service.Engine {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return service.NewEngine(store, service.WithClock(clock), service.WithLogger(logger))
}

func createFlight(t *testing.T, engine *service.Engine, now time.Time) *models.Flight {
	t.Helper()
	departure := now.Add(72 * time.Hour).Truncate(time.Second)
	flight, err := engine.CreateFlight(context.Background(), models.CreateFlightRequest{
		FlightNumber:  "EL300",
		AirlineCode:   "EL",
		Route:         models.Route{DepartureAirport: "TLV", ArrivalAirport: "JFK"},
		DepartureTime: departure,
		ArrivalTime:   departure.Add(11 * time.Hour),
		TotalSeats:    10,
		Pricing: map[models.SeatClass]models.PriceBand{
			models.SeatClassEconomy:  {Base: 100, Ceiling: 100},
			models.SeatClassBusiness: {Base: 300, Ceiling: 450},
			models.SeatClassFirst:    {Base: 900, Ceiling: 1200},
		},
	})
	require.NoError(t, err)
	return flight
}

func passenger(n int) models.PassengerInput {
	return models.PassengerInput{
		Name:        "Passenger " + string(rune('A'+n)),
		Email:       "pg" + string(rune('a'+n)) + "@example.com",
		Passport:    "X" + string(rune('A'+n)) + "998877",
		DateOfBirth: time.Date(1985, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestStore_ConcurrentBookingOfOneSeat(t *testing.T) {
	store := openStore(t)
	clock := clockwork.NewRealClock()
	engine := newEngine(store, clock)
	ctx := context.Background()

	flight := createFlight(t, engine, clock.Now())
	seats, err := engine.ListAvailableSeats(ctx, flight.ID, nil)
	require.NoError(t, err)
	require.Len(t, seats, 10)
	seat := seats[0]

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := engine.Book(ctx, models.BookingRequest{
				Passengers: []models.PassengerInput{passenger(n)},
				SeatIDs:    []uuid.UUID{seat.ID},
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, service.ErrSeatUnavailable)
	}
	assert.Equal(t, 1, succeeded)

	got, err := engine.GetFlight(ctx, flight.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, got.AvailableSeats)
}

func TestStore_ConcurrentBookingsShareOnePassenger(t *testing.T) {
	store := openStore(t)
	clock := clockwork.NewRealClock()
	engine := newEngine(store, clock)
	ctx := context.Background()

	flight := createFlight(t, engine, clock.Now())
	seats, err := engine.ListAvailableSeats(ctx, flight.ID, nil)
	require.NoError(t, err)

	const workers = 5
	same := passenger(20)
	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(seatID uuid.UUID) {
			defer wg.Done()
			res, err := engine.Book(ctx, models.BookingRequest{
				Passengers: []models.PassengerInput{same},
				SeatIDs:    []uuid.UUID{seatID},
			})
			if assert.NoError(t, err) {
				ids <- res.Tickets[0].PassengerID
			}
		}(seats[i].ID)
	}
	wg.Wait()
	close(ids)

	distinct := make(map[uuid.UUID]struct{})
	for id := range ids {
		distinct[id] = struct{}{}
	}
	assert.Len(t, distinct, 1)
}

func TestStore_BookPayRefundLifecycle(t *testing.T) {
	store := openStore(t)
	start := time.Now().UTC()
	clock := clockwork.NewFakeClockAt(start)
	engine := newEngine(store, clock)
	ctx := context.Background()

	flight := createFlight(t, engine, start)
	class := models.SeatClassEconomy
	seats, err := engine.ListAvailableSeats(ctx, flight.ID, &class)
	require.NoError(t, err)

	res, err := engine.Book(ctx, models.BookingRequest{
		Passengers: []models.PassengerInput{passenger(0), passenger(1)},
		SeatIDs:    []uuid.UUID{seats[0].ID, seats[1].ID},
	})
	require.NoError(t, err)
	require.Len(t, res.Tickets, 2)

	paid := res.Tickets[0]
	_, err = engine.Pay(ctx, paid.ID, models.PaymentMethodCard)
	require.NoError(t, err)

	clock.Advance(16 * time.Minute)
	n, err := engine.ExpirePending(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	refund, err := engine.RequestRefund(ctx, paid.ID, "change of plans")
	require.NoError(t, err)
	assert.Equal(t, 90.0, refund.Amount)

	_, err = engine.DecideRefund(ctx, refund.ID, models.RefundDecisionApprove, "ok")
	require.NoError(t, err)
	_, err = engine.DecideRefund(ctx, refund.ID, models.RefundDecisionApprove, "ok")
	assert.ErrorIs(t, err, service.ErrAlreadyProcessed)

	got, err := engine.GetFlight(ctx, flight.ID)
	require.NoError(t, err)
	assert.Equal(t, got.TotalSeats, got.AvailableSeats)

	payment, err := engine.GetPayment(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, payment.Status)
}

func TestStore_NotFound(t *testing.T) {
	store := openStore(t)
	_, err := store.GetTicket(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, database.ErrNotFound))
	assert.ErrorIs(t, err, service.ErrNotFound)
}
