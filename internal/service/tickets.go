package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/events"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/metrics"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Book holds one seat per passenger on a single flight. Either every seat is
// held or none is.
func (e *Engine) Book(ctx context.Context, req models.BookingRequest) (*models.BookingResult, error) {
	now := e.clock.Now()
	if err := e.validateBooking(req, now); err != nil {
		metrics.BookingsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, err
	}

	result := &models.BookingResult{ExpiresAt: now.Add(e.policy.HoldDuration)}
	var flightID uuid.UUID

	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		flight, err := e.lockBookingFlight(ctx, tx, req.SeatIDs, now)
		if err != nil {
			return err
		}
		flightID = flight.ID

		seats, err := e.lockAndBook(ctx, tx, flight, req.SeatIDs)
		if err != nil {
			return err
		}

		tickets := make([]models.Ticket, 0, len(seats))
		for i, seat := range seats {
			passenger, err := e.resolvePassenger(ctx, tx, req.Passengers[i], now)
			if err != nil {
				return err
			}
			t := models.Ticket{
				ID:              uuid.New(),
				PassengerID:     passenger.ID,
				SeatID:          ptr(seat.ID),
				FlightID:        flight.ID,
				Price:           discounted(seat.Price, req.DiscountPercent),
				DiscountPercent: req.DiscountPercent,
				Status:          models.TicketStatusPending,
				CreatedAt:       now,
				ExpiresAt:       result.ExpiresAt,
				UpdatedAt:       now,
			}
			if err := tx.InsertTicket(ctx, &t); err != nil {
				return err
			}
			tickets = append(tickets, t)
		}

		flight.UpdatedAt = now
		if err := tx.UpdateFlight(ctx, flight); err != nil {
			return err
		}
		result.Tickets = tickets
		return nil
	})
	if err != nil {
		metrics.BookingsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, err
	}

	metrics.BookingsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	e.log.WithFields(logrus.Fields{
		"flight_id": flightID,
		"count":     len(result.Tickets),
	}).Info("seats held")

	evt := events.New(events.BookingHeld, flightID, now)
	for _, t := range result.Tickets {
		evt.TicketIDs = append(evt.TicketIDs, t.ID)
		evt.SeatIDs = append(evt.SeatIDs, *t.SeatID)
	}
	e.publish(ctx, evt)
	return result, nil
}

func (e *Engine) validateBooking(req models.BookingRequest, now time.Time) error {
	if len(req.Passengers) == 0 || len(req.SeatIDs) == 0 {
		return newError(ErrValidation, "at least one passenger and one seat are required")
	}
	if len(req.Passengers) != len(req.SeatIDs) {
		return newError(ErrValidation, "got %d passengers for %d seats", len(req.Passengers), len(req.SeatIDs))
	}
	if err := e.validate.Struct(req); err != nil {
		return e.validationError(err)
	}
	seen := make(map[uuid.UUID]struct{}, len(req.SeatIDs))
	for _, id := range req.SeatIDs {
		if _, dup := seen[id]; dup {
			return newError(ErrValidation, "seat %s requested twice", id)
		}
		seen[id] = struct{}{}
	}
	for i, p := range req.Passengers {
		if !p.DateOfBirth.Before(now) {
			return newError(ErrValidation, "passenger %d: date of birth must be in the past", i+1)
		}
	}
	return nil
}

// lockBookingFlight finds the single flight the seats belong to, locks it and
// checks it still sells seats
func (e *Engine) lockBookingFlight(ctx context.Context, tx Tx, seatIDs []uuid.UUID, now time.Time) (*models.Flight, error) {
	seats, err := tx.GetSeats(ctx, seatIDs)
	if err != nil {
		return nil, err
	}
	found := make(map[uuid.UUID]bool, len(seats))
	flights := make(map[uuid.UUID]struct{})
	for _, s := range seats {
		found[s.ID] = true
		flights[s.FlightID] = struct{}{}
	}

	var missing []*SeatUnavailableError
	for _, id := range seatIDs {
		if !found[id] {
			missing = append(missing, &SeatUnavailableError{SeatID: id, Reason: "seat does not exist"})
		}
	}
	if len(missing) > 0 {
		return nil, &BookingError{Seats: missing}
	}
	if len(flights) > 1 {
		return nil, newError(ErrValidation, "all seats must belong to the same flight")
	}

	flightID := seats[0].FlightID
	flight, err := tx.LockFlight(ctx, flightID)
	if err != nil {
		return nil, notFound(err, "flight", flightID)
	}

	reason := ""
	switch {
	case !flight.Status.Bookable():
		reason = fmt.Sprintf("flight is %s", flight.Status)
	case flight.DepartureTime.Sub(now) <= e.policy.BookingCutoff:
		reason = fmt.Sprintf("booking closes %s before departure", e.policy.BookingCutoff)
	}
	if reason != "" {
		unavailable := make([]*SeatUnavailableError, 0, len(seats))
		for _, s := range seats {
			unavailable = append(unavailable, &SeatUnavailableError{SeatID: s.ID, SeatNumber: s.SeatNumber, Reason: reason})
		}
		return nil, &BookingError{Seats: unavailable}
	}
	return flight, nil
}

func (e *Engine) resolvePassenger(ctx context.Context, tx Tx, in models.PassengerInput, now time.Time) (*models.Passenger, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	passport := strings.ToUpper(strings.TrimSpace(in.Passport))

	p := &models.Passenger{
		ID:          uuid.New(),
		Name:        name,
		Email:       email,
		Passport:    passport,
		DateOfBirth: in.DateOfBirth,
		CreatedAt:   now,
	}
	if e.policy.DedupePassengers {
		return tx.UpsertPassenger(ctx, p)
	}
	if err := tx.InsertPassenger(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// confirm moves a held ticket to confirmed. The seat is already booked.
func confirm(ctx context.Context, tx Tx, t *models.Ticket, now time.Time) error {
	if t.Status != models.TicketStatusPending {
		return newError(ErrState, "ticket %s is %s, not pending", t.ID, t.Status)
	}
	t.Status = models.TicketStatusConfirmed
	t.UpdatedAt = now
	return tx.UpdateTicket(ctx, t)
}

// GetTicket returns a ticket by ID
func (e *Engine) GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	t, err := e.store.GetTicket(ctx, id)
	if err != nil {
		return nil, notFound(err, "ticket", id)
	}
	return t, nil
}

// ListTicketsByEmail returns every ticket issued to passengers with this email
func (e *Engine) ListTicketsByEmail(ctx context.Context, email string) ([]models.Ticket, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := e.validate.Var(email, "required,email"); err != nil {
		return nil, e.validationError(err)
	}
	return e.store.ListTicketsByEmail(ctx, email)
}

// CancelTicket cancels a confirmed ticket on the customer's behalf. A priced
// ticket must be cancelled outside the refund window and gets a pending refund
// under the same penalty schedule as a refund request.
func (e *Engine) CancelTicket(ctx context.Context, id uuid.UUID) (*models.TicketCancellation, error) {
	now := e.clock.Now()
	out := &models.TicketCancellation{}
	var seatID uuid.UUID

	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		ticket, flight, err := e.lockTicketWithFlight(ctx, tx, id)
		if err != nil {
			return err
		}
		if ticket.Status != models.TicketStatusConfirmed {
			return newError(ErrState, "ticket %s is %s, only confirmed tickets can be cancelled", id, ticket.Status)
		}
		if departed(flight, now) {
			return newError(ErrState, "flight %s has already departed", flight.ID)
		}

		if ticket.Price > 0 {
			lead := flight.DepartureTime.Sub(now)
			if lead <= e.policy.RefundMinLead {
				return newError(ErrRefundWindow, "cancellation requires more than %s before departure", e.policy.RefundMinLead)
			}
			penalty := e.policy.Penalty(lead)
			out.Refund = &models.Refund{
				ID:                uuid.New(),
				TicketID:          ticket.ID,
				Amount:            refundAmount(ticket.Price, penalty),
				PenaltyPercentage: penalty,
				RequestReason:     "ticket cancelled by customer",
				Status:            models.RefundStatusPending,
				CreatedAt:         now,
			}
		}

		if ticket.SeatID != nil {
			seatID = *ticket.SeatID
			if err := e.release(ctx, tx, flight, seatID); err != nil {
				return err
			}
			flight.UpdatedAt = now
			if err := tx.UpdateFlight(ctx, flight); err != nil {
				return err
			}
		}
		ticket.Status = models.TicketStatusCancelled
		ticket.SeatID = nil
		ticket.UpdatedAt = now
		if err := tx.UpdateTicket(ctx, ticket); err != nil {
			return err
		}
		out.Ticket = *ticket

		if out.Refund != nil {
			return tx.InsertRefund(ctx, out.Refund)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"ticket_id": id,
		"flight_id": out.Ticket.FlightID,
	}).Info("ticket cancelled")
	evt := events.New(events.TicketCancelled, out.Ticket.FlightID, now)
	evt.TicketIDs = []uuid.UUID{id}
	if seatID != uuid.Nil {
		evt.SeatIDs = []uuid.UUID{seatID}
	}
	e.publish(ctx, evt)
	return out, nil
}

// lockTicketWithFlight locks the ticket's flight and then the ticket itself
func (e *Engine) lockTicketWithFlight(ctx context.Context, tx Tx, ticketID uuid.UUID) (*models.Ticket, *models.Flight, error) {
	peek, err := tx.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, notFound(err, "ticket", ticketID)
	}
	flight, err := tx.LockFlight(ctx, peek.FlightID)
	if err != nil {
		return nil, nil, notFound(err, "flight", peek.FlightID)
	}
	ticket, err := tx.LockTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, notFound(err, "ticket", ticketID)
	}
	return ticket, flight, nil
}

// ExpirePending expires every hold whose expiry has passed and releases its
// seat, all in one transaction. It returns the number of tickets expired.
func (e *Engine) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	byFlight := make(map[uuid.UUID][]uuid.UUID)
	ticketsByFlight := make(map[uuid.UUID][]uuid.UUID)

	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		flightIDs, err := tx.ExpiredHoldFlights(ctx, now)
		if err != nil {
			return err
		}
		if len(flightIDs) == 0 {
			return nil
		}
		flightIDs = sortIDs(flightIDs)

		flights := make(map[uuid.UUID]*models.Flight, len(flightIDs))
		for _, id := range flightIDs {
			f, err := tx.LockFlight(ctx, id)
			if err != nil {
				return err
			}
			flights[id] = f
		}

		tickets, err := tx.LockExpiredHolds(ctx, now, flightIDs)
		if err != nil {
			return err
		}
		for i := range tickets {
			t := &tickets[i]
			if t.Status != models.TicketStatusPending || t.ExpiresAt.After(now) {
				continue
			}
			if t.SeatID != nil {
				byFlight[t.FlightID] = append(byFlight[t.FlightID], *t.SeatID)
			}
			t.Status = models.TicketStatusExpired
			t.SeatID = nil
			t.UpdatedAt = now
			if err := tx.UpdateTicket(ctx, t); err != nil {
				return err
			}
			ticketsByFlight[t.FlightID] = append(ticketsByFlight[t.FlightID], t.ID)
			expired++
		}

		for _, id := range flightIDs {
			seats := byFlight[id]
			if len(seats) == 0 {
				continue
			}
			f := flights[id]
			if err := e.release(ctx, tx, f, seats...); err != nil {
				return err
			}
			f.UpdatedAt = now
			if err := tx.UpdateFlight(ctx, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending tickets: %w", err)
	}
	if expired == 0 {
		return 0, nil
	}

	metrics.TicketsExpiredTotal.Add(float64(expired))
	e.log.WithField("count", expired).Info("expired pending tickets")
	for flightID, tickets := range ticketsByFlight {
		evt := events.New(events.TicketsExpired, flightID, now)
		evt.TicketIDs = tickets
		evt.SeatIDs = byFlight[flightID]
		e.publish(ctx, evt)
	}
	return expired, nil
}
