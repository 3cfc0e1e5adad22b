package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	forUpdate = " FOR UPDATE"

	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

// pgTx implements service.Tx on a pgx transaction
type pgTx struct {
	tx pgx.Tx
}

func mapConstraint(err error, action string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "uq_tickets_live_seat":
			return fmt.Errorf("failed to %s: %w", action, ErrSeatTaken)
		case pgErr.Code == pgCheckViolation && pgErr.ConstraintName == "flights_available_seats_range":
			return fmt.Errorf("failed to %s: %w", action, ErrCapacity)
		}
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func statusStrings(statuses []models.TicketStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// --- Reference data ---

func (t *pgTx) GetAirline(ctx context.Context, code string) (*models.Airline, error) {
	var a models.Airline
	err := t.tx.QueryRow(ctx, `SELECT code, name, active FROM airlines WHERE code = $1`, code).
		Scan(&a.Code, &a.Name, &a.Active)
	if err != nil {
		return nil, noRows(err, "airline")
	}
	return &a, nil
}

func (t *pgTx) GetAirport(ctx context.Context, code string) (*models.Airport, error) {
	var a models.Airport
	err := t.tx.QueryRow(ctx, `SELECT code, name, city, active FROM airports WHERE code = $1`, code).
		Scan(&a.Code, &a.Name, &a.City, &a.Active)
	if err != nil {
		return nil, noRows(err, "airport")
	}
	return &a, nil
}

// --- Flights ---

func (t *pgTx) InsertFlight(ctx context.Context, f *models.Flight) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO flights (`+flightColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, f.ID, f.FlightNumber, f.AirlineCode, f.Route.DepartureAirport, f.Route.ArrivalAirport,
		f.DepartureTime, f.ArrivalTime, f.TotalSeats, f.AvailableSeats, string(f.Status), f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return mapConstraint(err, "insert flight")
	}
	return nil
}

func (t *pgTx) InsertPricing(ctx context.Context, p []models.Pricing) error {
	batch := &pgx.Batch{}
	for _, row := range p {
		batch.Queue(`INSERT INTO pricing (flight_id, class, base_price, ceiling_price) VALUES ($1, $2, $3, $4)`,
			row.FlightID, string(row.Class), row.BasePrice, row.CeilingPrice)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert pricing: %w", err)
	}
	return nil
}

func (t *pgTx) InsertSeats(ctx context.Context, seats []models.Seat) error {
	rows := make([][]any, 0, len(seats))
	for _, s := range seats {
		rows = append(rows, []any{s.ID, s.FlightID, s.SeatNumber, string(s.Class), s.Price, s.IsBooked, s.CreatedAt, s.UpdatedAt})
	}
	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"seats"},
		[]string{"id", "flight_id", "seat_number", "class", "price", "is_booked", "created_at", "updated_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert seats: %w", err)
	}
	return nil
}

func (t *pgTx) LockFlight(ctx context.Context, id uuid.UUID) (*models.Flight, error) {
	return getFlight(ctx, t.tx, id, forUpdate)
}

func (t *pgTx) UpdateFlight(ctx context.Context, f *models.Flight) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE flights
		SET departure_airport = $2, arrival_airport = $3, departure_time = $4, arrival_time = $5,
		    available_seats = $6, status = $7, updated_at = $8
		WHERE id = $1
	`, f.ID, f.Route.DepartureAirport, f.Route.ArrivalAirport, f.DepartureTime, f.ArrivalTime,
		f.AvailableSeats, string(f.Status), f.UpdatedAt)
	if err != nil {
		return mapConstraint(err, "update flight")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) GetPricing(ctx context.Context, flightID uuid.UUID, class models.SeatClass) (*models.Pricing, error) {
	var p models.Pricing
	err := t.tx.QueryRow(ctx, `
		SELECT flight_id, class, base_price, ceiling_price FROM pricing WHERE flight_id = $1 AND class = $2
	`, flightID, string(class)).Scan(&p.FlightID, &p.Class, &p.BasePrice, &p.CeilingPrice)
	if err != nil {
		return nil, noRows(err, "pricing")
	}
	return &p, nil
}

// --- Seats ---

func (t *pgTx) GetSeats(ctx context.Context, ids []uuid.UUID) ([]models.Seat, error) {
	return t.seats(ctx, ids, "")
}

func (t *pgTx) LockSeats(ctx context.Context, ids []uuid.UUID) ([]models.Seat, error) {
	return t.seats(ctx, ids, forUpdate)
}

func (t *pgTx) seats(ctx context.Context, ids []uuid.UUID, suffix string) ([]models.Seat, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+seatColumns+` FROM seats WHERE id = ANY($1::uuid[]) ORDER BY id`+suffix, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query seats: %w", err)
	}
	return collect(rows, scanSeat)
}

func (t *pgTx) UpdateSeat(ctx context.Context, s *models.Seat) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE seats SET seat_number = $2, class = $3, price = $4, is_booked = $5, updated_at = $6 WHERE id = $1
	`, s.ID, s.SeatNumber, string(s.Class), s.Price, s.IsBooked, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update seat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) SeatNumberTaken(ctx context.Context, flightID uuid.UUID, number string, except uuid.UUID) (bool, error) {
	var taken bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM seats WHERE flight_id = $1 AND seat_number = $2 AND id <> $3)
	`, flightID, number, except).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check seat number: %w", err)
	}
	return taken, nil
}

func (t *pgTx) SetSeatsBooked(ctx context.Context, ids []uuid.UUID, booked bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	// lock in id order first; UPDATE alone gives no ordering guarantee
	if _, err := t.LockSeats(ctx, ids); err != nil {
		return 0, err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE seats SET is_booked = $2, updated_at = NOW()
		WHERE id = ANY($1::uuid[]) AND is_booked <> $2
	`, uuidStrings(ids), booked)
	if err != nil {
		return 0, fmt.Errorf("failed to update seats: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) ReleaseFlightSeats(ctx context.Context, flightID uuid.UUID) (int, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE seats SET is_booked = FALSE, updated_at = NOW() WHERE flight_id = $1 AND is_booked
	`, flightID)
	if err != nil {
		return 0, fmt.Errorf("failed to release seats: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Passengers ---

// UpsertPassenger inserts p or, when a passenger with the same identity
// exists, returns the stored row. Concurrent bookings converge on one row
// through idx_passengers_identity.
func (t *pgTx) UpsertPassenger(ctx context.Context, p *models.Passenger) (*models.Passenger, error) {
	var out models.Passenger
	err := t.tx.QueryRow(ctx, `
		INSERT INTO passengers (id, name, email, passport, date_of_birth, deduped, created_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6)
		ON CONFLICT (email, passport, name) WHERE deduped
		DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, email, passport, date_of_birth, created_at
	`, p.ID, p.Name, p.Email, p.Passport, p.DateOfBirth, p.CreatedAt).
		Scan(&out.ID, &out.Name, &out.Email, &out.Passport, &out.DateOfBirth, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert passenger: %w", err)
	}
	return &out, nil
}

func (t *pgTx) InsertPassenger(ctx context.Context, p *models.Passenger) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO passengers (id, name, email, passport, date_of_birth, deduped, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
	`, p.ID, p.Name, p.Email, p.Passport, p.DateOfBirth, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert passenger: %w", err)
	}
	return nil
}

// --- Tickets ---

func (t *pgTx) InsertTicket(ctx context.Context, tk *models.Ticket) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, tk.ID, tk.PassengerID, tk.SeatID, tk.FlightID, tk.Price, tk.DiscountPercent, string(tk.Status),
		tk.CreatedAt, tk.ExpiresAt, tk.UpdatedAt)
	if err != nil {
		return mapConstraint(err, "insert ticket")
	}
	return nil
}

func (t *pgTx) GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	return getTicket(ctx, t.tx, id, "")
}

func (t *pgTx) LockTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	return getTicket(ctx, t.tx, id, forUpdate)
}

func (t *pgTx) UpdateTicket(ctx context.Context, tk *models.Ticket) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE tickets SET seat_id = $2, price = $3, status = $4, expires_at = $5, updated_at = $6 WHERE id = $1
	`, tk.ID, tk.SeatID, tk.Price, string(tk.Status), tk.ExpiresAt, tk.UpdatedAt)
	if err != nil {
		return mapConstraint(err, "update ticket")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) LockFlightTickets(ctx context.Context, flightID uuid.UUID, statuses ...models.TicketStatus) ([]models.Ticket, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE flight_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY id`+forUpdate, flightID, statusStrings(statuses))
	if err != nil {
		return nil, fmt.Errorf("failed to query flight tickets: %w", err)
	}
	return collect(rows, scanTicket)
}

func (t *pgTx) ExpiredHoldFlights(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT DISTINCT flight_id FROM tickets
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY flight_id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired holds: %w", err)
	}
	return collectIDs(rows)
}

func (t *pgTx) LockExpiredHolds(ctx context.Context, now time.Time, flightIDs []uuid.UUID) ([]models.Ticket, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE status = 'pending' AND expires_at <= $1 AND flight_id = ANY($2::uuid[])
		ORDER BY id`+forUpdate, now, uuidStrings(flightIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to lock expired holds: %w", err)
	}
	return collect(rows, scanTicket)
}

// --- Payments ---

func (t *pgTx) InsertPayment(ctx context.Context, p *models.Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, p.ID, p.TicketID, p.Amount, string(p.Method), string(p.Status), p.TransactionID, p.Attempts,
		p.FailureReason, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (t *pgTx) LockPayment(ctx context.Context, ticketID uuid.UUID) (*models.Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE ticket_id = $1`+forUpdate, ticketID))
}

func (t *pgTx) UpdatePayment(ctx context.Context, p *models.Payment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE payments
		SET status = $2, transaction_id = $3, attempts = $4, failure_reason = $5, updated_at = $6
		WHERE id = $1
	`, p.ID, string(p.Status), p.TransactionID, p.Attempts, p.FailureReason, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Refunds ---

func (t *pgTx) InsertRefund(ctx context.Context, r *models.Refund) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO refunds (`+refundColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.TicketID, r.Amount, r.PenaltyPercentage, r.RequestReason, string(r.Status),
		r.AdminComment, r.CreatedAt, r.DecidedAt)
	if err != nil {
		return fmt.Errorf("failed to insert refund: %w", err)
	}
	return nil
}

func (t *pgTx) GetRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	return getRefund(ctx, t.tx, id, "")
}

func (t *pgTx) LockRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	return getRefund(ctx, t.tx, id, forUpdate)
}

func (t *pgTx) LockPendingRefund(ctx context.Context, ticketID uuid.UUID) (*models.Refund, error) {
	return scanRefund(t.tx.QueryRow(ctx, `
		SELECT `+refundColumns+` FROM refunds WHERE ticket_id = $1 AND status = 'pending'`+forUpdate, ticketID))
}

func (t *pgTx) UpdateRefund(ctx context.Context, r *models.Refund) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE refunds
		SET amount = $2, penalty_percentage = $3, status = $4, admin_comment = $5, decided_at = $6
		WHERE id = $1
	`, r.ID, r.Amount, r.PenaltyPercentage, string(r.Status), r.AdminComment, r.DecidedAt)
	if err != nil {
		return fmt.Errorf("failed to update refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
