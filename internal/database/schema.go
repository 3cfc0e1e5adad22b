package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema creates every table the engine uses. It is safe to run repeatedly.
const schema = `
CREATE TABLE IF NOT EXISTS airlines (
	code   TEXT PRIMARY KEY,
	name   TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS airports (
	code   TEXT PRIMARY KEY,
	name   TEXT NOT NULL,
	city   TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS flights (
	id                UUID PRIMARY KEY,
	flight_number     TEXT NOT NULL,
	airline_code      TEXT NOT NULL REFERENCES airlines(code),
	departure_airport TEXT NOT NULL REFERENCES airports(code),
	arrival_airport   TEXT NOT NULL REFERENCES airports(code),
	departure_time    TIMESTAMPTZ NOT NULL,
	arrival_time      TIMESTAMPTZ NOT NULL,
	total_seats       INTEGER NOT NULL CHECK (total_seats > 0),
	available_seats   INTEGER NOT NULL,
	status            TEXT NOT NULL CHECK (status IN ('scheduled', 'delayed', 'departed', 'arrived', 'canceled')),
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT flights_available_seats_range CHECK (available_seats BETWEEN 0 AND total_seats)
);

CREATE INDEX IF NOT EXISTS idx_flights_departure ON flights(departure_time);
CREATE INDEX IF NOT EXISTS idx_flights_status ON flights(status);

CREATE TABLE IF NOT EXISTS pricing (
	flight_id     UUID NOT NULL REFERENCES flights(id),
	class         TEXT NOT NULL CHECK (class IN ('economy', 'business', 'first')),
	base_price    NUMERIC(10,2) NOT NULL CHECK (base_price > 0),
	ceiling_price NUMERIC(10,2) NOT NULL,
	PRIMARY KEY (flight_id, class),
	CHECK (ceiling_price >= base_price)
);

CREATE TABLE IF NOT EXISTS seats (
	id          UUID PRIMARY KEY,
	flight_id   UUID NOT NULL REFERENCES flights(id),
	seat_number TEXT NOT NULL,
	class       TEXT NOT NULL CHECK (class IN ('economy', 'business', 'first')),
	price       NUMERIC(10,2) NOT NULL CHECK (price >= 0),
	is_booked   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (flight_id, seat_number)
);

CREATE INDEX IF NOT EXISTS idx_seats_flight_available ON seats(flight_id) WHERE NOT is_booked;

CREATE TABLE IF NOT EXISTS passengers (
	id            UUID PRIMARY KEY,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL,
	passport      TEXT NOT NULL,
	date_of_birth DATE NOT NULL,
	deduped       BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_passengers_identity ON passengers(email, passport, name) WHERE deduped;

CREATE TABLE IF NOT EXISTS tickets (
	id               UUID PRIMARY KEY,
	passenger_id     UUID NOT NULL REFERENCES passengers(id),
	seat_id          UUID REFERENCES seats(id),
	flight_id        UUID NOT NULL REFERENCES flights(id),
	price            NUMERIC(10,2) NOT NULL CHECK (price >= 0),
	discount_percent NUMERIC(5,2) NOT NULL DEFAULT 0 CHECK (discount_percent BETWEEN 0 AND 100),
	status           TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'cancelled', 'refund_requested', 'expired')),
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_tickets_live_seat ON tickets(seat_id)
	WHERE status IN ('pending', 'confirmed', 'refund_requested');
CREATE INDEX IF NOT EXISTS idx_tickets_pending_expiry ON tickets(expires_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_tickets_flight ON tickets(flight_id);

CREATE TABLE IF NOT EXISTS payments (
	id             UUID PRIMARY KEY,
	ticket_id      UUID NOT NULL UNIQUE REFERENCES tickets(id),
	amount         NUMERIC(10,2) NOT NULL,
	method         TEXT NOT NULL,
	status         TEXT NOT NULL CHECK (status IN ('processing', 'success', 'failed', 'refunded')),
	transaction_id TEXT NOT NULL DEFAULT '',
	attempts       INTEGER NOT NULL DEFAULT 1,
	failure_reason TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS refunds (
	id                 UUID PRIMARY KEY,
	ticket_id          UUID NOT NULL REFERENCES tickets(id),
	amount             NUMERIC(10,2) NOT NULL,
	penalty_percentage NUMERIC(5,2) NOT NULL,
	request_reason     TEXT NOT NULL,
	status             TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
	admin_comment      TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	decided_at         TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_refunds_pending_ticket ON refunds(ticket_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_refunds_pending_created ON refunds(created_at) WHERE status = 'pending';
`

// Migrate applies the schema
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
