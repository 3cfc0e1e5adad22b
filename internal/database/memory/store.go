// Package memory is an in-process Store for tests and local demo mode. One
// mutex serializes every transaction, standing in for row locks; each
// transaction works on a copy of the state that replaces it on commit.
package memory

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/database"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/service"
	"github.com/google/uuid"
)

type pricingKey struct {
	flightID uuid.UUID
	class    models.SeatClass
}

type state struct {
	airlines   map[string]models.Airline
	airports   map[string]models.Airport
	flights    map[uuid.UUID]models.Flight
	pricing    map[pricingKey]models.Pricing
	seats      map[uuid.UUID]models.Seat
	passengers map[uuid.UUID]models.Passenger
	tickets    map[uuid.UUID]models.Ticket
	payments   map[uuid.UUID]models.Payment
	refunds    map[uuid.UUID]models.Refund
}

func newState() *state {
	return &state{
		airlines:   make(map[string]models.Airline),
		airports:   make(map[string]models.Airport),
		flights:    make(map[uuid.UUID]models.Flight),
		pricing:    make(map[pricingKey]models.Pricing),
		seats:      make(map[uuid.UUID]models.Seat),
		passengers: make(map[uuid.UUID]models.Passenger),
		tickets:    make(map[uuid.UUID]models.Ticket),
		payments:   make(map[uuid.UUID]models.Payment),
		refunds:    make(map[uuid.UUID]models.Refund),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// clone copies every table. Rows are values; pointer fields inside them are
// replaced, never written through, so sharing them is safe.
func (s *state) clone() *state {
	return &state{
		airlines:   cloneMap(s.airlines),
		airports:   cloneMap(s.airports),
		flights:    cloneMap(s.flights),
		pricing:    cloneMap(s.pricing),
		seats:      cloneMap(s.seats),
		passengers: cloneMap(s.passengers),
		tickets:    cloneMap(s.tickets),
		payments:   cloneMap(s.payments),
		refunds:    cloneMap(s.refunds),
	}
}

// Store implements service.Store in memory
type Store struct {
	mu sync.RWMutex
	st *state
}

var _ service.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{st: newState()}
}

// AddAirline inserts or replaces an airline
func (s *Store) AddAirline(a models.Airline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.airlines[a.Code] = a
}

// AddAirport inserts or replaces an airport
func (s *Store) AddAirport(a models.Airport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.airports[a.Code] = a
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) GetFlight(_ context.Context, id uuid.UUID) (*models.Flight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.st.flights[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &f, nil
}

func (s *Store) ListFlights(_ context.Context, departingAfter time.Time) ([]models.Flight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Flight
	for _, f := range s.st.flights {
		if f.Status != models.FlightStatusCanceled && f.DepartureTime.After(departingAfter) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureTime.Before(out[j].DepartureTime) })
	return out, nil
}

func (s *Store) ListAvailableSeats(_ context.Context, flightID uuid.UUID, class *models.SeatClass) ([]models.Seat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Seat
	for _, seat := range s.st.seats {
		if seat.FlightID != flightID || seat.IsBooked {
			continue
		}
		if class != nil && seat.Class != *class {
			continue
		}
		out = append(out, seat)
	}
	sortSeats(out)
	return out, nil
}

func (s *Store) GetTicket(_ context.Context, id uuid.UUID) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.st.tickets[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &t, nil
}

func (s *Store) ListTicketsByEmail(_ context.Context, email string) ([]models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Ticket
	for _, t := range s.st.tickets {
		if p, ok := s.st.passengers[t.PassengerID]; ok && strings.EqualFold(p.Email, email) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetPaymentByTicket(_ context.Context, ticketID uuid.UUID) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.paymentByTicket(ticketID)
}

func (s *Store) GetRefund(_ context.Context, id uuid.UUID) (*models.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.st.refunds[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ListFlightsToAdvance(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for _, f := range s.st.flights {
		if f.Status.Terminal() || f.DepartureTime.After(now) {
			continue
		}
		if f.Status == models.FlightStatusDeparted && f.ArrivalTime.After(now) {
			continue
		}
		ids = append(ids, f.ID)
	}
	return sortIDs(ids), nil
}

func (s *Store) ListStaleRefunds(_ context.Context, createdBefore time.Time) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for _, r := range s.st.refunds {
		if r.Status == models.RefundStatusPending && !r.CreatedAt.After(createdBefore) {
			ids = append(ids, r.ID)
		}
	}
	return sortIDs(ids), nil
}

// Snapshot returns copies of every flight, seat and ticket, for assertions
func (s *Store) Snapshot() ([]models.Flight, []models.Seat, []models.Ticket) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flights := make([]models.Flight, 0, len(s.st.flights))
	for _, f := range s.st.flights {
		flights = append(flights, f)
	}
	seats := make([]models.Seat, 0, len(s.st.seats))
	for _, seat := range s.st.seats {
		seats = append(seats, seat)
	}
	tickets := make([]models.Ticket, 0, len(s.st.tickets))
	for _, t := range s.st.tickets {
		tickets = append(tickets, t)
	}
	return flights, seats, tickets
}

// Refunds returns copies of every refund
func (s *Store) Refunds() []models.Refund {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Refund, 0, len(s.st.refunds))
	for _, r := range s.st.refunds {
		out = append(out, r)
	}
	return out
}

func (s *state) paymentByTicket(ticketID uuid.UUID) (*models.Payment, error) {
	for _, p := range s.payments {
		if p.TicketID == ticketID {
			return &p, nil
		}
	}
	return nil, database.ErrNotFound
}

func idLess(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

func sortIDs(ids []uuid.UUID) []uuid.UUID {
	sort.Slice(ids, func(i, j int) bool { return idLess(ids[i], ids[j]) })
	return ids
}

// sortSeats orders seats like the seat map: 1A, 1B ... 10A
func sortSeats(seats []models.Seat) {
	sort.Slice(seats, func(i, j int) bool {
		a, b := seats[i].SeatNumber, seats[j].SeatNumber
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
}
