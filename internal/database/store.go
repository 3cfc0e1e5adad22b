package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/service"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store handles all database operations against PostgreSQL
type Store struct {
	pool *pgxpool.Pool
}

var _ service.Store = (*Store)(nil)

// NewStore creates a new store
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool and checks the database answers
func Connect(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// WithinTx runs fn in one transaction, committing only if it returns nil
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const flightColumns = `id, flight_number, airline_code, departure_airport, arrival_airport,
	departure_time, arrival_time, total_seats, available_seats, status, created_at, updated_at`

const seatColumns = `id, flight_id, seat_number, class, price, is_booked, created_at, updated_at`

const ticketColumns = `id, passenger_id, seat_id, flight_id, price, discount_percent, status,
	created_at, expires_at, updated_at`

const paymentColumns = `id, ticket_id, amount, method, status, transaction_id, attempts,
	failure_reason, created_at, updated_at`

const refundColumns = `id, ticket_id, amount, penalty_percentage, request_reason, status,
	admin_comment, created_at, decided_at`

func scanFlight(row pgx.Row) (*models.Flight, error) {
	var f models.Flight
	err := row.Scan(
		&f.ID, &f.FlightNumber, &f.AirlineCode, &f.Route.DepartureAirport, &f.Route.ArrivalAirport,
		&f.DepartureTime, &f.ArrivalTime, &f.TotalSeats, &f.AvailableSeats, &f.Status,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, noRows(err, "flight")
	}
	return &f, nil
}

func scanSeat(row pgx.Row) (*models.Seat, error) {
	var s models.Seat
	err := row.Scan(&s.ID, &s.FlightID, &s.SeatNumber, &s.Class, &s.Price, &s.IsBooked, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, noRows(err, "seat")
	}
	return &s, nil
}

func scanTicket(row pgx.Row) (*models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(
		&t.ID, &t.PassengerID, &t.SeatID, &t.FlightID, &t.Price, &t.DiscountPercent, &t.Status,
		&t.CreatedAt, &t.ExpiresAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, noRows(err, "ticket")
	}
	return &t, nil
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(
		&p.ID, &p.TicketID, &p.Amount, &p.Method, &p.Status, &p.TransactionID, &p.Attempts,
		&p.FailureReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, noRows(err, "payment")
	}
	return &p, nil
}

func scanRefund(row pgx.Row) (*models.Refund, error) {
	var r models.Refund
	err := row.Scan(
		&r.ID, &r.TicketID, &r.Amount, &r.PenaltyPercentage, &r.RequestReason, &r.Status,
		&r.AdminComment, &r.CreatedAt, &r.DecidedAt,
	)
	if err != nil {
		return nil, noRows(err, "refund")
	}
	return &r, nil
}

func noRows(err error, entity string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("failed to scan %s: %w", entity, err)
}

// collect drains rows through a scan function
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return out, nil
}

func collectIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return ids, nil
}

// --- Read operations (no locks) ---

func getFlight(ctx context.Context, q querier, id uuid.UUID, suffix string) (*models.Flight, error) {
	return scanFlight(q.QueryRow(ctx, `SELECT `+flightColumns+` FROM flights WHERE id = $1`+suffix, id))
}

// GetFlight returns a flight by ID
func (s *Store) GetFlight(ctx context.Context, id uuid.UUID) (*models.Flight, error) {
	return getFlight(ctx, s.pool, id, "")
}

// ListFlights returns non-canceled flights departing after the given time
func (s *Store) ListFlights(ctx context.Context, departingAfter time.Time) ([]models.Flight, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+flightColumns+`
		FROM flights
		WHERE departure_time > $1 AND status <> 'canceled'
		ORDER BY departure_time ASC
	`, departingAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to query flights: %w", err)
	}
	return collect(rows, scanFlight)
}

// ListAvailableSeats returns unbooked seats of a flight
func (s *Store) ListAvailableSeats(ctx context.Context, flightID uuid.UUID, class *models.SeatClass) ([]models.Seat, error) {
	var classArg *string
	if class != nil {
		c := string(*class)
		classArg = &c
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+seatColumns+`
		FROM seats
		WHERE flight_id = $1 AND NOT is_booked AND ($2::text IS NULL OR class = $2)
		ORDER BY length(seat_number), seat_number
	`, flightID, classArg)
	if err != nil {
		return nil, fmt.Errorf("failed to query seats: %w", err)
	}
	return collect(rows, scanSeat)
}

func getTicket(ctx context.Context, q querier, id uuid.UUID, suffix string) (*models.Ticket, error) {
	return scanTicket(q.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`+suffix, id))
}

// GetTicket returns a ticket by ID
func (s *Store) GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	return getTicket(ctx, s.pool, id, "")
}

// ListTicketsByEmail returns tickets of every passenger with the email
func (s *Store) ListTicketsByEmail(ctx context.Context, email string) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.passenger_id, t.seat_id, t.flight_id, t.price, t.discount_percent, t.status,
		       t.created_at, t.expires_at, t.updated_at
		FROM tickets t
		JOIN passengers p ON p.id = t.passenger_id
		WHERE lower(p.email) = lower($1)
		ORDER BY t.created_at ASC
	`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	return collect(rows, scanTicket)
}

// GetPaymentByTicket returns the payment of a ticket
func (s *Store) GetPaymentByTicket(ctx context.Context, ticketID uuid.UUID) (*models.Payment, error) {
	return scanPayment(s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE ticket_id = $1`, ticketID))
}

func getRefund(ctx context.Context, q querier, id uuid.UUID, suffix string) (*models.Refund, error) {
	return scanRefund(q.QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = $1`+suffix, id))
}

// GetRefund returns a refund by ID
func (s *Store) GetRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	return getRefund(ctx, s.pool, id, "")
}

// ListFlightsToAdvance returns flights whose departure or arrival time has passed
// without the matching status change
func (s *Store) ListFlightsToAdvance(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM flights
		WHERE (status IN ('scheduled', 'delayed') AND departure_time <= $1)
		   OR (status = 'departed' AND arrival_time <= $1)
		ORDER BY id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query flights to advance: %w", err)
	}
	return collectIDs(rows)
}

// ListStaleRefunds returns pending refunds created at or before the cutoff
func (s *Store) ListStaleRefunds(ctx context.Context, createdBefore time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM refunds
		WHERE status = 'pending' AND created_at <= $1
		ORDER BY id
	`, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale refunds: %w", err)
	}
	return collectIDs(rows)
}

// UpsertAirline inserts an airline or refreshes its name and active flag
func (s *Store) UpsertAirline(ctx context.Context, a models.Airline) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO airlines (code, name, active) VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active
	`, a.Code, a.Name, a.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert airline: %w", err)
	}
	return nil
}

// UpsertAirport inserts an airport or refreshes its details
func (s *Store) UpsertAirport(ctx context.Context, a models.Airport) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO airports (code, name, city, active) VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, city = EXCLUDED.city, active = EXCLUDED.active
	`, a.Code, a.Name, a.City, a.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert airport: %w", err)
	}
	return nil
}
