package service_test

import (
	"testing"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/events"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFlight_GeneratesSeats(t *testing.T) {
	f := newFixture(t)
	flight := f.createFlight(72*time.Hour, 10)

	assert.Equal(t, models.FlightStatusScheduled, flight.Status)
	assert.Equal(t, 10, flight.TotalSeats)
	assert.Equal(t, 10, flight.AvailableSeats)

	seats, err := f.engine.ListAvailableSeats(f.ctx, flight.ID, nil)
	require.NoError(t, err)
	require.Len(t, seats, 10)

	counts := map[models.SeatClass]int{}
	numbers := map[string]models.SeatClass{}
	for _, s := range seats {
		counts[s.Class]++
		numbers[s.SeatNumber] = s.Class
		assert.False(t, s.IsBooked)
		switch s.Class {
		case models.SeatClassEconomy:
			assert.Equal(t, 100.0, s.Price)
		case models.SeatClassBusiness:
			assert.GreaterOrEqual(t, s.Price, 300.0)
			assert.LessOrEqual(t, s.Price, 450.0)
		case models.SeatClassFirst:
			assert.GreaterOrEqual(t, s.Price, 900.0)
			assert.LessOrEqual(t, s.Price, 1200.0)
		}
	}
	assert.Equal(t, 7, counts[models.SeatClassEconomy])
	assert.Equal(t, 2, counts[models.SeatClassBusiness])
	assert.Equal(t, 1, counts[models.SeatClassFirst])

	assert.Equal(t, models.SeatClassFirst, numbers["1A"])
	assert.Equal(t, models.SeatClassBusiness, numbers["1B"])
	assert.Equal(t, models.SeatClassBusiness, numbers["1C"])
	assert.Equal(t, models.SeatClassEconomy, numbers["1D"])
	assert.Equal(t, models.SeatClassEconomy, numbers["2D"])
	assert.Equal(t, "1A", seats[0].SeatNumber)
}

func TestCreateFlight_RemainderGoesToFirst(t *testing.T) {
	f := newFixture(t)
	flight := f.createFlight(72*time.Hour, 7)

	counts := map[models.SeatClass]int{}
	seats, err := f.engine.ListAvailableSeats(f.ctx, flight.ID, nil)
	require.NoError(t, err)
	for _, s := range seats {
		counts[s.Class]++
	}
	// 7*0.7 = 4.9 -> 4, 7*0.2 = 1.4 -> 1, remainder 2
	assert.Equal(t, 4, counts[models.SeatClassEconomy])
	assert.Equal(t, 1, counts[models.SeatClassBusiness])
	assert.Equal(t, 2, counts[models.SeatClassFirst])
}

func TestCreateFlight_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *models.CreateFlightRequest)
		wantErr error
	}{
		{
			name:    "departure too soon",
			mutate: func(r *models.CreateFlightRequest) {
				r.DepartureTime = baseTime.Add(47 * time.Hour)
				r.ArrivalTime = baseTime.Add(50 * time.Hour)
			},
			wantErr: service.ErrValidation,
		},
		{
			name:    "flight too short",
			mutate:  func(r *models.CreateFlightRequest) { r.ArrivalTime = r.DepartureTime.Add(30 * time.Minute) },
			wantErr: service.ErrValidation,
		},
		{
			name:    "arrival before departure",
			mutate:  func(r *models.CreateFlightRequest) { r.ArrivalTime = r.DepartureTime.Add(-time.Hour) },
			wantErr: service.ErrValidation,
		},
		{
			name:    "same airports",
			mutate:  func(r *models.CreateFlightRequest) { r.Route.ArrivalAirport = "TLV" },
			wantErr: service.ErrValidation,
		},
		{
			name:    "missing price band",
			mutate:  func(r *models.CreateFlightRequest) { delete(r.Pricing, models.SeatClassFirst) },
			wantErr: service.ErrValidation,
		},
		{
			name: "ceiling below base",
			mutate: func(r *models.CreateFlightRequest) {
				r.Pricing[models.SeatClassEconomy] = models.PriceBand{Base: 200, Ceiling: 100}
			},
			wantErr: service.ErrValidation,
		},
		{
			name:    "no seats",
			mutate:  func(r *models.CreateFlightRequest) { r.TotalSeats = 0 },
			wantErr: service.ErrValidation,
		},
		{
			name:    "inactive airport",
			mutate:  func(r *models.CreateFlightRequest) { r.Route.ArrivalAirport = "OLD" },
			wantErr: service.ErrReference,
		},
		{
			name:    "unknown airport",
			mutate:  func(r *models.CreateFlightRequest) { r.Route.ArrivalAirport = "XXX" },
			wantErr: service.ErrReference,
		},
		{
			name:    "inactive airline",
			mutate:  func(r *models.CreateFlightRequest) { r.AirlineCode = "ZZ" },
			wantErr: service.ErrReference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := flightRequest(72*time.Hour, 10)
			tt.mutate(&req)

			_, err := f.engine.CreateFlight(f.ctx, req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			flights, _, _ := f.store.Snapshot()
			assert.Empty(t, flights)
		})
	}
}

func TestCancelFlight_Cascade(t *testing.T) {
	f := newFixture(t)
	flight := f.createFlight(72*time.Hour, 20)
	seats := f.economySeats(flight.ID)
	require.GreaterOrEqual(t, len(seats), 11)

	var confirmed []models.Ticket
	for i := 0; i < 10; i++ {
		confirmed = append(confirmed, f.bookAndPay(seats[i].ID))
	}
	held := f.book(seats[10].ID).Tickets[0]
	assert.Equal(t, 9, f.flight(flight.ID).AvailableSeats)

	summary, err := f.engine.CancelFlight(f.ctx, flight.ID)
	require.NoError(t, err)
	assert.Equal(t, 11, summary.TicketsCancelled)
	assert.Equal(t, 10, summary.RefundsApproved)
	assert.Equal(t, 11, summary.SeatsReleased)

	got := f.flight(flight.ID)
	assert.Equal(t, models.FlightStatusCanceled, got.Status)
	assert.Equal(t, got.TotalSeats, got.AvailableSeats)

	for _, tk := range confirmed {
		after := f.ticket(tk.ID)
		assert.Equal(t, models.TicketStatusCancelled, after.Status)
		assert.Nil(t, after.SeatID)
		assert.False(t, f.seat(*tk.SeatID).IsBooked)

		payment, err := f.engine.GetPayment(f.ctx, tk.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusRefunded, payment.Status)
	}
	assert.Equal(t, models.TicketStatusCancelled, f.ticket(held.ID).Status)

	refunds := f.store.Refunds()
	require.Len(t, refunds, 10)
	for _, r := range refunds {
		assert.Equal(t, models.RefundStatusApproved, r.Status)
		assert.Equal(t, 0.0, r.PenaltyPercentage)
		assert.Equal(t, 100.0, r.Amount)
		assert.NotNil(t, r.DecidedAt)
	}

	require.Len(t, f.events.OfType(events.FlightCanceled), 1)
	f.checkInvariants()
}

func TestCancelFlight_ApprovesPendingRefundInFull(t *testing.T) {
	f := newFixture(t)
	flight := f.createFlight(72*time.Hour, 10)
	ticket := f.bookAndPay(f.economySeats(flight.ID)[0].ID)

	refund, err := f.engine.RequestRefund(f.ctx, ticket.ID, "change of plans")
	require.NoError(t, err)
	assert.Equal(t, 10.0, refund.PenaltyPercentage)

	_, err = f.engine.CancelFlight(f.ctx, flight.ID)
	require.NoError(t, err)

	after, err := f.engine.GetRefund(f.ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusApproved, after.Status)
	assert.Equal(t, 0.0, after.PenaltyPercentage)
	assert.Equal(t, 100.0, after.Amount)
	assert.Len(t, f.store.Refunds(), 1)
	assert.Equal(t, models.TicketStatusCancelled, f.ticket(ticket.ID).Status)
	f.checkInvariants()
}

func TestCancelFlight_InvalidState(t *testing.T) {
	f := newFixture(t)
	flight := f.createFlight(72*time.Hour, 10)

	_, err := f.engine.CancelFlight(f.ctx, flight.ID)
	require.NoError(t, err)

	_, err = f.engine.CancelFlight(f.ctx, flight.ID)
	assert.ErrorIs(t, err, service.ErrState)

	_, err = f.engine.CancelFlight(f.ctx, uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestCancelFlight_DepartedFlight(t *testing.T) {
	f := newFixture(t)
	flight := f.createFlight(72*time.Hour, 10)

	f.clock.Advance(73 * time.Hour)
	n, err := f.engine.AdvanceStatuses(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.engine.CancelFlight(f.ctx, flight.ID)
	assert.ErrorIs(t, err, service.ErrState)
}

func TestRescheduleCanceledFlight(t *testing.T) {
	f := newFixture(t)
	flight := f.createFlight(72*time.Hour, 10)
	f.bookAndPay(f.economySeats(flight.ID)[0].ID)

	departure := baseTime.Add(96 * time.Hour)
	req := models.RescheduleRequest{
		Route:         models.Route{DepartureAirport: "TLV", ArrivalAirport: "LHR"},
		DepartureTime: departure,
		ArrivalTime:   departure.Add(5 * time.Hour),
	}

	_, err := f.engine.RescheduleCanceledFlight(f.ctx, flight.ID, req)
	assert.ErrorIs(t, err, service.ErrState)

	_, err = f.engine.CancelFlight(f.ctx, flight.ID)
	require.NoError(t, err)

	bad := req
	bad.Route.ArrivalAirport = "OLD"
	_, err = f.engine.RescheduleCanceledFlight(f.ctx, flight.ID, bad)
	assert.ErrorIs(t, err, service.ErrReference)

	got, err := f.engine.RescheduleCanceledFlight(f.ctx, flight.ID, req)
	require.NoError(t, err)
	assert.Equal(t, models.FlightStatusScheduled, got.Status)
	assert.Equal(t, "LHR", got.Route.ArrivalAirport)
	assert.True(t, got.DepartureTime.Equal(departure))
	assert.Equal(t, got.TotalSeats, got.AvailableSeats)

	seats, err := f.engine.ListAvailableSeats(f.ctx, flight.ID, nil)
	require.NoError(t, err)
	assert.Len(t, seats, 10)
	f.checkInvariants()
}

func TestDelayAndResumeFlight(t *testing.T) {
	f := newFixture(t)
	flight := f.createFlight(72*time.Hour, 10)

	_, err := f.engine.ResumeFlight(f.ctx, flight.ID)
	assert.ErrorIs(t, err, service.ErrState)

	_, err = f.engine.DelayFlight(f.ctx, flight.ID, models.DelayRequest{
		DepartureTime: flight.DepartureTime.Add(-time.Hour),
		ArrivalTime:   flight.ArrivalTime,
	})
	assert.ErrorIs(t, err, service.ErrValidation)

	delayed, err := f.engine.DelayFlight(f.ctx, flight.ID, models.DelayRequest{
		DepartureTime: flight.DepartureTime.Add(3 * time.Hour),
		ArrivalTime:   flight.ArrivalTime.Add(3 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, models.FlightStatusDelayed, delayed.Status)

	// still bookable while delayed
	res := f.book(f.economySeats(flight.ID)[0].ID)
	assert.Len(t, res.Tickets, 1)

	resumed, err := f.engine.ResumeFlight(f.ctx, flight.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FlightStatusScheduled, resumed.Status)
	assert.True(t, resumed.DepartureTime.Equal(flight.DepartureTime.Add(3*time.Hour)))
	assert.Len(t, f.events.OfType(events.FlightStatusChanged), 2)
}

func TestAdvanceStatuses(t *testing.T) {
	f := newFixture(t)
	flight := f.createFlight(72*time.Hour, 10)
	later := f.createFlight(120*time.Hour, 10)
	ticket := f.bookAndPay(f.economySeats(flight.ID)[0].ID)

	n, err := f.engine.AdvanceStatuses(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(72 * time.Hour)
	n, err = f.engine.AdvanceStatuses(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.FlightStatusDeparted, f.flight(flight.ID).Status)
	assert.Equal(t, models.FlightStatusScheduled, f.flight(later.ID).Status)

	n, err = f.engine.AdvanceStatuses(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n, "second run must be a no-op")

	f.clock.Advance(11 * time.Hour)
	n, err = f.engine.AdvanceStatuses(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	arrived := f.flight(flight.ID)
	assert.Equal(t, models.FlightStatusArrived, arrived.Status)
	assert.Equal(t, arrived.TotalSeats, arrived.AvailableSeats)
	assert.False(t, f.seat(*ticket.SeatID).IsBooked)
	assert.Equal(t, models.TicketStatusConfirmed, f.ticket(ticket.ID).Status)

	n, err = f.engine.AdvanceStatuses(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	f.checkInvariants()
}

func TestAdvanceStatuses_JumpsStraightToArrived(t *testing.T) {
	f := newFixture(t)
	flight := f.createFlight(72*time.Hour, 10)

	f.clock.Advance(100 * time.Hour)
	n, err := f.engine.AdvanceStatuses(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.FlightStatusArrived, f.flight(flight.ID).Status)
}

func TestListFlights_SkipsCanceledAndPast(t *testing.T) {
	f := newFixture(t)
	a := f.createFlight(72*time.Hour, 10)
	b := f.createFlight(96*time.Hour, 10)
	c := f.createFlight(120*time.Hour, 10)

	_, err := f.engine.CancelFlight(f.ctx, b.ID)
	require.NoError(t, err)

	flights, err := f.engine.ListFlights(f.ctx)
	require.NoError(t, err)
	require.Len(t, flights, 2)
	assert.Equal(t, a.ID, flights[0].ID)
	assert.Equal(t, c.ID, flights[1].ID)

	f.clock.Advance(80 * time.Hour)
	flights, err = f.engine.ListFlights(f.ctx)
	require.NoError(t, err)
	require.Len(t, flights, 1)
	assert.Equal(t, c.ID, flights[0].ID)
}
