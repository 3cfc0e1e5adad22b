package service

import (
	"context"
	"regexp"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/events"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var seatNumberPattern = regexp.MustCompile(`^[1-9][0-9]{0,2}[A-F]$`)

// ListAvailableSeats returns unbooked seats of a flight, optionally of one class
func (e *Engine) ListAvailableSeats(ctx context.Context, flightID uuid.UUID, class *models.SeatClass) ([]models.Seat, error) {
	if class != nil && !class.Valid() {
		return nil, newError(ErrValidation, "unknown seat class %q", *class)
	}
	if _, err := e.store.GetFlight(ctx, flightID); err != nil {
		return nil, notFound(err, "flight", flightID)
	}
	return e.store.ListAvailableSeats(ctx, flightID, class)
}

// lockAndBook locks the requested seats of one flight and flips them booked.
// Every seat that fails its precondition is reported in one BookingError.
func (e *Engine) lockAndBook(ctx context.Context, tx Tx, flight *models.Flight, seatIDs []uuid.UUID) ([]models.Seat, error) {
	seats, err := tx.LockSeats(ctx, sortIDs(seatIDs))
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.Seat, len(seats))
	for _, s := range seats {
		byID[s.ID] = s
	}

	var unavailable []*SeatUnavailableError
	for _, id := range seatIDs {
		s, ok := byID[id]
		switch {
		case !ok:
			unavailable = append(unavailable, &SeatUnavailableError{SeatID: id, Reason: "seat does not exist"})
		case s.FlightID != flight.ID:
			unavailable = append(unavailable, &SeatUnavailableError{SeatID: id, SeatNumber: s.SeatNumber, Reason: "seat belongs to another flight"})
		case s.IsBooked:
			unavailable = append(unavailable, &SeatUnavailableError{SeatID: id, SeatNumber: s.SeatNumber, Reason: "already booked"})
		}
	}
	if len(unavailable) > 0 {
		return nil, &BookingError{Seats: unavailable}
	}

	changed, err := tx.SetSeatsBooked(ctx, seatIDs, true)
	if err != nil {
		return nil, err
	}
	if err := adjustAvailable(flight, -changed); err != nil {
		return nil, err
	}

	out := make([]models.Seat, 0, len(seatIDs))
	for _, id := range seatIDs {
		s := byID[id]
		s.IsBooked = true
		out = append(out, s)
	}
	return out, nil
}

// release flips seats back to unbooked and returns the seats to the flight counter
func (e *Engine) release(ctx context.Context, tx Tx, flight *models.Flight, seatIDs ...uuid.UUID) error {
	if len(seatIDs) == 0 {
		return nil
	}
	changed, err := tx.SetSeatsBooked(ctx, sortIDs(seatIDs), false)
	if err != nil {
		return err
	}
	return adjustAvailable(flight, changed)
}

// UpdateSeat changes the number and/or class of an unbooked seat. A class
// change redraws the price from the flight's band for the new class.
func (e *Engine) UpdateSeat(ctx context.Context, seatID uuid.UUID, upd models.SeatUpdate) (*models.Seat, error) {
	if upd.SeatNumber == nil && upd.Class == nil {
		return nil, newError(ErrValidation, "nothing to update")
	}
	if upd.SeatNumber != nil && !seatNumberPattern.MatchString(*upd.SeatNumber) {
		return nil, newError(ErrValidation, "invalid seat number %q", *upd.SeatNumber)
	}
	if upd.Class != nil && !upd.Class.Valid() {
		return nil, newError(ErrValidation, "unknown seat class %q", *upd.Class)
	}
	now := e.clock.Now()

	var seat *models.Seat
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		seats, err := tx.LockSeats(ctx, []uuid.UUID{seatID})
		if err != nil {
			return err
		}
		if len(seats) == 0 {
			return newError(ErrNotFound, "seat %s not found", seatID)
		}
		s := seats[0]
		if s.IsBooked {
			return newError(ErrState, "seat %s is booked and cannot be changed", s.SeatNumber)
		}

		if upd.SeatNumber != nil && *upd.SeatNumber != s.SeatNumber {
			taken, err := tx.SeatNumberTaken(ctx, s.FlightID, *upd.SeatNumber, s.ID)
			if err != nil {
				return err
			}
			if taken {
				return newError(ErrValidation, "seat number %s already exists on this flight", *upd.SeatNumber)
			}
			s.SeatNumber = *upd.SeatNumber
		}
		if upd.Class != nil && *upd.Class != s.Class {
			pricing, err := tx.GetPricing(ctx, s.FlightID, *upd.Class)
			if err != nil {
				return notFound(err, "pricing for class", *upd.Class)
			}
			s.Class = *upd.Class
			s.Price = e.drawPrice(*pricing)
		}
		s.UpdatedAt = now
		seat = &s
		return tx.UpdateSeat(ctx, &s)
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"seat_id":   seat.ID,
		"flight_id": seat.FlightID,
	}).Info("seat updated")
	evt := events.New(events.SeatUpdated, seat.FlightID, now)
	evt.SeatIDs = []uuid.UUID{seat.ID}
	e.publish(ctx, evt)
	return seat, nil
}
