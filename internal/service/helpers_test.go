package service_test

import (
	"context"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/database/memory"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/events"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/service"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	clock  *clockwork.FakeClock
	events *events.Recorder
	engine *service.Engine
}

func newFixture(t *testing.T, opts ...service.Option) *fixture {
	t.Helper()

	store := memory.New()
	store.AddAirline(models.Airline{Code: "EL", Name: "Test Air", Active: true})
	store.AddAirline(models.Airline{Code: "ZZ", Name: "Grounded Air", Active: false})
	store.AddAirport(models.Airport{Code: "TLV", Name: "Ben Gurion", City: "Tel Aviv", Active: true})
	store.AddAirport(models.Airport{Code: "JFK", Name: "John F. Kennedy", City: "New York", Active: true})
	store.AddAirport(models.Airport{Code: "LHR", Name: "Heathrow", City: "London", Active: true})
	store.AddAirport(models.Airport{Code: "OLD", Name: "Closed Field", City: "Nowhere", Active: false})

	clock := clockwork.NewFakeClockAt(baseTime)
	rec := &events.Recorder{}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	all := append([]service.Option{
		service.WithClock(clock),
		service.WithLogger(logger),
		service.WithPublisher(rec),
		service.WithRand(rand.New(rand.NewSource(42))),
	}, opts...)

	return &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  store,
		clock:  clock,
		events: rec,
		engine: service.NewEngine(store, all...),
	}
}

func flightRequest(departIn time.Duration, seats int) models.CreateFlightRequest {
	departure := baseTime.Add(departIn)
	return models.CreateFlightRequest{
		FlightNumber:  "EL001",
		AirlineCode:   "EL",
		Route:         models.Route{DepartureAirport: "TLV", ArrivalAirport: "JFK"},
		DepartureTime: departure,
		ArrivalTime:   departure.Add(11 * time.Hour),
		TotalSeats:    seats,
		Pricing: map[models.SeatClass]models.PriceBand{
			models.SeatClassEconomy:  {Base: 100, Ceiling: 100},
			models.SeatClassBusiness: {Base: 300, Ceiling: 450},
			models.SeatClassFirst:    {Base: 900, Ceiling: 1200},
		},
	}
}

func (f *fixture) createFlight(departIn time.Duration, seats int) *models.Flight {
	f.t.Helper()
	flight, err := f.engine.CreateFlight(f.ctx, flightRequest(departIn, seats))
	require.NoError(f.t, err)
	return flight
}

func (f *fixture) economySeats(flightID uuid.UUID) []models.Seat {
	f.t.Helper()
	class := models.SeatClassEconomy
	seats, err := f.engine.ListAvailableSeats(f.ctx, flightID, &class)
	require.NoError(f.t, err)
	return seats
}

func passenger(n int) models.PassengerInput {
	return models.PassengerInput{
		Name:        "Passenger " + string(rune('A'+n)),
		Email:       "traveller" + string(rune('a'+n)) + "@example.com",
		Passport:    "P" + string(rune('A'+n)) + "123456",
		DateOfBirth: time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) book(seatIDs ...uuid.UUID) *models.BookingResult {
	f.t.Helper()
	req := models.BookingRequest{SeatIDs: seatIDs}
	for i := range seatIDs {
		req.Passengers = append(req.Passengers, passenger(i))
	}
	res, err := f.engine.Book(f.ctx, req)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) bookAndPay(seatID uuid.UUID) models.Ticket {
	f.t.Helper()
	res := f.book(seatID)
	ticket := res.Tickets[0]
	_, err := f.engine.Pay(f.ctx, ticket.ID, models.PaymentMethodCard)
	require.NoError(f.t, err)
	return f.ticket(ticket.ID)
}

func (f *fixture) ticket(id uuid.UUID) models.Ticket {
	f.t.Helper()
	t, err := f.engine.GetTicket(f.ctx, id)
	require.NoError(f.t, err)
	return *t
}

func (f *fixture) flight(id uuid.UUID) models.Flight {
	f.t.Helper()
	fl, err := f.engine.GetFlight(f.ctx, id)
	require.NoError(f.t, err)
	return *fl
}

func (f *fixture) seat(id uuid.UUID) models.Seat {
	f.t.Helper()
	_, seats, _ := f.store.Snapshot()
	for _, s := range seats {
		if s.ID == id {
			return s
		}
	}
	f.t.Fatalf("seat %s not found", id)
	return models.Seat{}
}

// checkInvariants asserts the seat counter and live-ticket rules on every
// flight that has not arrived
func (f *fixture) checkInvariants() {
	f.t.Helper()
	flights, seats, tickets := f.store.Snapshot()

	booked := make(map[uuid.UUID]int)
	seatBooked := make(map[uuid.UUID]bool)
	for _, s := range seats {
		seatBooked[s.ID] = s.IsBooked
		if s.IsBooked {
			booked[s.FlightID]++
		}
	}
	live := make(map[uuid.UUID]int)
	for _, t := range tickets {
		if t.Status.Live() && t.SeatID != nil {
			live[*t.SeatID]++
		}
	}

	for _, fl := range flights {
		assert.GreaterOrEqual(f.t, fl.AvailableSeats, 0)
		assert.LessOrEqual(f.t, fl.AvailableSeats, fl.TotalSeats)
		assert.Equal(f.t, fl.TotalSeats-booked[fl.ID], fl.AvailableSeats, "counter of flight %s", fl.FlightNumber)
	}
	arrived := make(map[uuid.UUID]bool)
	for _, fl := range flights {
		arrived[fl.ID] = fl.Status == models.FlightStatusArrived
	}
	for _, s := range seats {
		if arrived[s.FlightID] {
			continue
		}
		assert.LessOrEqual(f.t, live[s.ID], 1, "seat %s has more than one live ticket", s.SeatNumber)
		assert.Equal(f.t, seatBooked[s.ID], live[s.ID] == 1, "seat %s booked flag disagrees with tickets", s.SeatNumber)
	}
}

type gatewayMock struct {
	mock.Mock
}

func (m *gatewayMock) Charge(ctx context.Context, ticketID uuid.UUID, amount float64, method models.PaymentMethod) (string, error) {
	args := m.Called(ctx, ticketID, amount, method)
	return args.String(0), args.Error(1)
}

func (m *gatewayMock) Refund(ctx context.Context, transactionID string, amount float64) error {
	return m.Called(ctx, transactionID, amount).Error(0)
}

type gatewayFunc func(ctx context.Context, ticketID uuid.UUID, amount float64, method models.PaymentMethod) (string, error)

func (g gatewayFunc) Charge(ctx context.Context, ticketID uuid.UUID, amount float64, method models.PaymentMethod) (string, error) {
	return g(ctx, ticketID, amount, method)
}

func (gatewayFunc) Refund(context.Context, string, float64) error { return nil }
