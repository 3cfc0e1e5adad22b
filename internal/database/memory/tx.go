package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/database"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/google/uuid"
)

// tx works on a private copy of the state. Locking is a no-op because the
// store mutex is held for the whole transaction.
type tx struct {
	st *state
}

func (t *tx) GetAirline(_ context.Context, code string) (*models.Airline, error) {
	a, ok := t.st.airlines[code]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &a, nil
}

func (t *tx) GetAirport(_ context.Context, code string) (*models.Airport, error) {
	a, ok := t.st.airports[code]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &a, nil
}

func (t *tx) InsertFlight(_ context.Context, f *models.Flight) error {
	if _, ok := t.st.flights[f.ID]; ok {
		return fmt.Errorf("flight %s already exists", f.ID)
	}
	if err := checkCapacity(f); err != nil {
		return err
	}
	t.st.flights[f.ID] = *f
	return nil
}

func (t *tx) InsertPricing(_ context.Context, p []models.Pricing) error {
	for _, row := range p {
		t.st.pricing[pricingKey{row.FlightID, row.Class}] = row
	}
	return nil
}

func (t *tx) InsertSeats(_ context.Context, seats []models.Seat) error {
	for _, s := range seats {
		if _, ok := t.st.flights[s.FlightID]; !ok {
			return fmt.Errorf("seat %s references unknown flight %s", s.SeatNumber, s.FlightID)
		}
		t.st.seats[s.ID] = s
	}
	return nil
}

func (t *tx) LockFlight(_ context.Context, id uuid.UUID) (*models.Flight, error) {
	f, ok := t.st.flights[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &f, nil
}

func (t *tx) UpdateFlight(_ context.Context, f *models.Flight) error {
	if _, ok := t.st.flights[f.ID]; !ok {
		return database.ErrNotFound
	}
	if err := checkCapacity(f); err != nil {
		return err
	}
	t.st.flights[f.ID] = *f
	return nil
}

func checkCapacity(f *models.Flight) error {
	if f.AvailableSeats < 0 || f.AvailableSeats > f.TotalSeats {
		return fmt.Errorf("flight %s: %w", f.ID, database.ErrCapacity)
	}
	return nil
}

func (t *tx) GetPricing(_ context.Context, flightID uuid.UUID, class models.SeatClass) (*models.Pricing, error) {
	p, ok := t.st.pricing[pricingKey{flightID, class}]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &p, nil
}

func (t *tx) GetSeats(_ context.Context, ids []uuid.UUID) ([]models.Seat, error) {
	out := make([]models.Seat, 0, len(ids))
	for _, id := range ids {
		if s, ok := t.st.seats[id]; ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out, nil
}

func (t *tx) LockSeats(ctx context.Context, ids []uuid.UUID) ([]models.Seat, error) {
	return t.GetSeats(ctx, ids)
}

func (t *tx) UpdateSeat(_ context.Context, s *models.Seat) error {
	if _, ok := t.st.seats[s.ID]; !ok {
		return database.ErrNotFound
	}
	t.st.seats[s.ID] = *s
	return nil
}

func (t *tx) SeatNumberTaken(_ context.Context, flightID uuid.UUID, number string, except uuid.UUID) (bool, error) {
	for _, s := range t.st.seats {
		if s.FlightID == flightID && s.SeatNumber == number && s.ID != except {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) SetSeatsBooked(_ context.Context, ids []uuid.UUID, booked bool) (int, error) {
	changed := 0
	for _, id := range ids {
		s, ok := t.st.seats[id]
		if !ok || s.IsBooked == booked {
			continue
		}
		s.IsBooked = booked
		t.st.seats[id] = s
		changed++
	}
	return changed, nil
}

func (t *tx) ReleaseFlightSeats(_ context.Context, flightID uuid.UUID) (int, error) {
	released := 0
	for id, s := range t.st.seats {
		if s.FlightID == flightID && s.IsBooked {
			s.IsBooked = false
			t.st.seats[id] = s
			released++
		}
	}
	return released, nil
}

func (t *tx) UpsertPassenger(_ context.Context, p *models.Passenger) (*models.Passenger, error) {
	for _, existing := range t.st.passengers {
		if existing.Name == p.Name && existing.Email == p.Email && existing.Passport == p.Passport {
			return &existing, nil
		}
	}
	t.st.passengers[p.ID] = *p
	out := *p
	return &out, nil
}

func (t *tx) InsertPassenger(_ context.Context, p *models.Passenger) error {
	t.st.passengers[p.ID] = *p
	return nil
}

// liveTicketOnSeat mirrors the partial unique index on tickets(seat_id)
func (t *tx) liveTicketOnSeat(seatID uuid.UUID, except uuid.UUID) bool {
	for _, tk := range t.st.tickets {
		if tk.ID != except && tk.SeatID != nil && *tk.SeatID == seatID && tk.Status.Live() {
			return true
		}
	}
	return false
}

func (t *tx) InsertTicket(_ context.Context, tk *models.Ticket) error {
	if tk.SeatID != nil && tk.Status.Live() && t.liveTicketOnSeat(*tk.SeatID, tk.ID) {
		return fmt.Errorf("seat %s: %w", *tk.SeatID, database.ErrSeatTaken)
	}
	t.st.tickets[tk.ID] = *tk
	return nil
}

func (t *tx) GetTicket(_ context.Context, id uuid.UUID) (*models.Ticket, error) {
	tk, ok := t.st.tickets[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &tk, nil
}

func (t *tx) LockTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	return t.GetTicket(ctx, id)
}

func (t *tx) UpdateTicket(_ context.Context, tk *models.Ticket) error {
	if _, ok := t.st.tickets[tk.ID]; !ok {
		return database.ErrNotFound
	}
	if tk.SeatID != nil && tk.Status.Live() && t.liveTicketOnSeat(*tk.SeatID, tk.ID) {
		return fmt.Errorf("seat %s: %w", *tk.SeatID, database.ErrSeatTaken)
	}
	t.st.tickets[tk.ID] = *tk
	return nil
}

func (t *tx) LockFlightTickets(_ context.Context, flightID uuid.UUID, statuses ...models.TicketStatus) ([]models.Ticket, error) {
	want := make(map[models.TicketStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []models.Ticket
	for _, tk := range t.st.tickets {
		if tk.FlightID == flightID && (len(want) == 0 || want[tk.Status]) {
			out = append(out, tk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out, nil
}

func (t *tx) ExpiredHoldFlights(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, tk := range t.st.tickets {
		if tk.Status == models.TicketStatusPending && !tk.ExpiresAt.After(now) && !seen[tk.FlightID] {
			seen[tk.FlightID] = true
			ids = append(ids, tk.FlightID)
		}
	}
	return sortIDs(ids), nil
}

func (t *tx) LockExpiredHolds(_ context.Context, now time.Time, flightIDs []uuid.UUID) ([]models.Ticket, error) {
	in := make(map[uuid.UUID]bool, len(flightIDs))
	for _, id := range flightIDs {
		in[id] = true
	}
	var out []models.Ticket
	for _, tk := range t.st.tickets {
		if in[tk.FlightID] && tk.Status == models.TicketStatusPending && !tk.ExpiresAt.After(now) {
			out = append(out, tk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out, nil
}

func (t *tx) InsertPayment(_ context.Context, p *models.Payment) error {
	if _, err := t.st.paymentByTicket(p.TicketID); err == nil {
		return fmt.Errorf("ticket %s already has a payment", p.TicketID)
	}
	t.st.payments[p.ID] = *p
	return nil
}

func (t *tx) LockPayment(_ context.Context, ticketID uuid.UUID) (*models.Payment, error) {
	return t.st.paymentByTicket(ticketID)
}

func (t *tx) UpdatePayment(_ context.Context, p *models.Payment) error {
	if _, ok := t.st.payments[p.ID]; !ok {
		return database.ErrNotFound
	}
	t.st.payments[p.ID] = *p
	return nil
}

func (t *tx) InsertRefund(_ context.Context, r *models.Refund) error {
	t.st.refunds[r.ID] = *r
	return nil
}

func (t *tx) GetRefund(_ context.Context, id uuid.UUID) (*models.Refund, error) {
	r, ok := t.st.refunds[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &r, nil
}

func (t *tx) LockRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	return t.GetRefund(ctx, id)
}

func (t *tx) LockPendingRefund(_ context.Context, ticketID uuid.UUID) (*models.Refund, error) {
	for _, r := range t.st.refunds {
		if r.TicketID == ticketID && r.Status == models.RefundStatusPending {
			return &r, nil
		}
	}
	return nil, database.ErrNotFound
}

func (t *tx) UpdateRefund(_ context.Context, r *models.Refund) error {
	if _, ok := t.st.refunds[r.ID]; !ok {
		return database.ErrNotFound
	}
	t.st.refunds[r.ID] = *r
	return nil
}
