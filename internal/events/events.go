package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Type names a domain event
type Type string

const (
	BookingHeld         Type = "booking.held"
	TicketConfirmed     Type = "ticket.confirmed"
	TicketCancelled     Type = "ticket.cancelled"
	TicketsExpired      Type = "tickets.expired"
	RefundRequested     Type = "refund.requested"
	RefundDecided       Type = "refund.decided"
	FlightCanceled      Type = "flight.canceled"
	FlightRescheduled   Type = "flight.rescheduled"
	FlightStatusChanged Type = "flight.status_changed"
	SeatUpdated         Type = "seat.updated"
)

// Event is published after the transaction that caused it has committed
type Event struct {
	ID         uuid.UUID   `json:"id"`
	Type       Type        `json:"type"`
	FlightID   uuid.UUID   `json:"flightId"`
	TicketIDs  []uuid.UUID `json:"ticketIds,omitempty"`
	SeatIDs    []uuid.UUID `json:"seatIds,omitempty"`
	RefundID   *uuid.UUID  `json:"refundId,omitempty"`
	Status     string      `json:"status,omitempty"`
	OccurredAt time.Time   `json:"occurredAt"`
}

// New stamps an event with an id and time
func New(t Type, flightID uuid.UUID, at time.Time) Event {
	return Event{ID: uuid.New(), Type: t, FlightID: flightID, OccurredAt: at}
}

// Publisher delivers domain events to some sink
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Noop drops every event
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
