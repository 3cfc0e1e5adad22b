package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/database"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedFlight(t *testing.T, s *Store) (models.Flight, models.Seat) {
	t.Helper()
	now := time.Now().UTC()
	flight := models.Flight{
		ID:             uuid.New(),
		FlightNumber:   "EL100",
		AirlineCode:    "EL",
		Route:          models.Route{DepartureAirport: "TLV", ArrivalAirport: "JFK"},
		DepartureTime:  now.Add(72 * time.Hour),
		ArrivalTime:    now.Add(83 * time.Hour),
		TotalSeats:     1,
		AvailableSeats: 1,
		Status:         models.FlightStatusScheduled,
	}
	seat := models.Seat{ID: uuid.New(), FlightID: flight.ID, SeatNumber: "1A", Class: models.SeatClassEconomy, Price: 100}

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		if err := tx.InsertFlight(ctx, &flight); err != nil {
			return err
		}
		return tx.InsertSeats(ctx, []models.Seat{seat})
	})
	require.NoError(t, err)
	return flight, seat
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	s := New()
	flight, seat := seedFlight(t, s)
	boom := errors.New("boom")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		if _, err := tx.SetSeatsBooked(ctx, []uuid.UUID{seat.ID}, true); err != nil {
			return err
		}
		f, err := tx.LockFlight(ctx, flight.ID)
		if err != nil {
			return err
		}
		f.AvailableSeats = 0
		if err := tx.UpdateFlight(ctx, f); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetFlight(context.Background(), flight.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableSeats)

	seats, err := s.ListAvailableSeats(context.Background(), flight.ID, nil)
	require.NoError(t, err)
	assert.Len(t, seats, 1)
}

func TestWithinTx_CancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithinTx(ctx, func(context.Context, service.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestTx_OneLiveTicketPerSeat(t *testing.T) {
	s := New()
	flight, seat := seedFlight(t, s)
	ctx := context.Background()

	ticket := func(status models.TicketStatus) *models.Ticket {
		return &models.Ticket{
			ID:        uuid.New(),
			SeatID:    &seat.ID,
			FlightID:  flight.ID,
			Price:     100,
			Status:    status,
			ExpiresAt: time.Now().Add(15 * time.Minute),
		}
	}

	err := s.WithinTx(ctx, func(ctx context.Context, tx service.Tx) error {
		if err := tx.InsertTicket(ctx, ticket(models.TicketStatusExpired)); err != nil {
			return err
		}
		return tx.InsertTicket(ctx, ticket(models.TicketStatusPending))
	})
	require.NoError(t, err)

	err = s.WithinTx(ctx, func(ctx context.Context, tx service.Tx) error {
		return tx.InsertTicket(ctx, ticket(models.TicketStatusConfirmed))
	})
	assert.ErrorIs(t, err, database.ErrSeatTaken)

	_, _, tickets := s.Snapshot()
	assert.Len(t, tickets, 2)
}

func TestTx_CapacityRange(t *testing.T) {
	s := New()
	flight, _ := seedFlight(t, s)

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		f, err := tx.LockFlight(ctx, flight.ID)
		if err != nil {
			return err
		}
		f.AvailableSeats = 2
		return tx.UpdateFlight(ctx, f)
	})
	assert.ErrorIs(t, err, database.ErrCapacity)
}

func TestTx_SetSeatsBookedCountsChanges(t *testing.T) {
	s := New()
	_, seat := seedFlight(t, s)

	var first, second int
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		var err error
		if first, err = tx.SetSeatsBooked(ctx, []uuid.UUID{seat.ID, uuid.New()}, true); err != nil {
			return err
		}
		second, err = tx.SetSeatsBooked(ctx, []uuid.UUID{seat.ID}, true)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first)
	assert.Zero(t, second)
}

func TestStore_NotFoundMatchesService(t *testing.T) {
	s := New()
	_, err := s.GetTicket(context.Background(), uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestTx_UpsertPassengerReturnsStoredRow(t *testing.T) {
	s := New()
	newPassenger := func() *models.Passenger {
		return &models.Passenger{ID: uuid.New(), Name: "Dana Levi", Email: "dana@example.com", Passport: "P1234567"}
	}

	var first, second *models.Passenger
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		var err error
		if first, err = tx.UpsertPassenger(ctx, newPassenger()); err != nil {
			return err
		}
		second, err = tx.UpsertPassenger(ctx, newPassenger())
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other := newPassenger()
	other.Passport = "P7654321"
	err = s.WithinTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		got, err := tx.UpsertPassenger(ctx, other)
		if err != nil {
			return err
		}
		assert.Equal(t, other.ID, got.ID)
		return nil
	})
	require.NoError(t, err)
}
