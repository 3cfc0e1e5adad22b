package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/events"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/metrics"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const seatColumns = "ABCDEF"

// CreateFlight persists a flight with its pricing bands and generated seats
func (e *Engine) CreateFlight(ctx context.Context, req models.CreateFlightRequest) (*models.Flight, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, e.validationError(err)
	}
	now := e.clock.Now()
	if err := e.validateSchedule(req.DepartureTime, req.ArrivalTime, now); err != nil {
		return nil, err
	}
	for class := range req.Pricing {
		if !class.Valid() {
			return nil, newError(ErrValidation, "unknown seat class %q", class)
		}
	}
	for _, class := range models.SeatClasses {
		if _, ok := req.Pricing[class]; !ok {
			return nil, newError(ErrValidation, "missing price band for %s", class)
		}
	}

	flight := &models.Flight{
		ID:             uuid.New(),
		FlightNumber:   req.FlightNumber,
		AirlineCode:    req.AirlineCode,
		Route:          req.Route,
		DepartureTime:  req.DepartureTime,
		ArrivalTime:    req.ArrivalTime,
		TotalSeats:     req.TotalSeats,
		AvailableSeats: req.TotalSeats,
		Status:         models.FlightStatusScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	pricing := make([]models.Pricing, 0, len(models.SeatClasses))
	for _, class := range models.SeatClasses {
		band := req.Pricing[class]
		pricing = append(pricing, models.Pricing{
			FlightID:     flight.ID,
			Class:        class,
			BasePrice:    band.Base,
			CeilingPrice: band.Ceiling,
		})
	}
	seats := e.generateSeats(flight, pricing, now)

	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := e.checkReferences(ctx, tx, req.AirlineCode, req.Route); err != nil {
			return err
		}
		if err := tx.InsertFlight(ctx, flight); err != nil {
			return err
		}
		if err := tx.InsertPricing(ctx, pricing); err != nil {
			return err
		}
		return tx.InsertSeats(ctx, seats)
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"flight_id": flight.ID,
		"number":    flight.FlightNumber,
		"count":     len(seats),
	}).Info("flight created")
	return flight, nil
}

// seatSplit divides total seats 70/20/10 across economy/business/first, with
// the rounding remainder going to first
func seatSplit(total int) map[models.SeatClass]int {
	economy := total * 70 / 100
	business := total * 20 / 100
	return map[models.SeatClass]int{
		models.SeatClassEconomy:  economy,
		models.SeatClassBusiness: business,
		models.SeatClassFirst:    total - economy - business,
	}
}

func (e *Engine) generateSeats(f *models.Flight, pricing []models.Pricing, now time.Time) []models.Seat {
	split := seatSplit(f.TotalSeats)
	seats := make([]models.Seat, 0, f.TotalSeats)
	i := 0
	for _, p := range pricing {
		for n := 0; n < split[p.Class]; n++ {
			seats = append(seats, models.Seat{
				ID:         uuid.New(),
				FlightID:   f.ID,
				SeatNumber: fmt.Sprintf("%d%c", i/len(seatColumns)+1, seatColumns[i%len(seatColumns)]),
				Class:      p.Class,
				Price:      e.drawPrice(p),
				CreatedAt:  now,
				UpdatedAt:  now,
			})
			i++
		}
	}
	return seats
}

func (e *Engine) validateSchedule(departure, arrival, now time.Time) error {
	if departure.Sub(now) < e.policy.CreationLead {
		return newError(ErrValidation, "departure must be at least %s from now", e.policy.CreationLead)
	}
	if !arrival.After(departure.Add(e.policy.MinFlightDuration)) {
		return newError(ErrValidation, "arrival must be more than %s after departure", e.policy.MinFlightDuration)
	}
	return nil
}

func (e *Engine) checkReferences(ctx context.Context, tx Tx, airlineCode string, route models.Route) error {
	if airlineCode != "" {
		airline, err := tx.GetAirline(ctx, airlineCode)
		if err != nil || !airline.Active {
			if err != nil && !isNotFound(err) {
				return err
			}
			return newError(ErrReference, "airline %s is unknown or inactive", airlineCode)
		}
	}
	for _, code := range []string{route.DepartureAirport, route.ArrivalAirport} {
		airport, err := tx.GetAirport(ctx, code)
		if err != nil || !airport.Active {
			if err != nil && !isNotFound(err) {
				return err
			}
			return newError(ErrReference, "airport %s is unknown or inactive", code)
		}
	}
	return nil
}

// GetFlight returns a flight by ID
func (e *Engine) GetFlight(ctx context.Context, id uuid.UUID) (*models.Flight, error) {
	f, err := e.store.GetFlight(ctx, id)
	if err != nil {
		return nil, notFound(err, "flight", id)
	}
	return f, nil
}

// ListFlights returns upcoming flights that have not been canceled
func (e *Engine) ListFlights(ctx context.Context) ([]models.Flight, error) {
	return e.store.ListFlights(ctx, e.clock.Now())
}

// CancelFlight cancels a scheduled or delayed flight and cascades to every live
// ticket: seats are released, confirmed tickets get an approved zero-penalty
// refund, pending refunds are approved in full and holds are cancelled.
func (e *Engine) CancelFlight(ctx context.Context, id uuid.UUID) (*models.CancellationSummary, error) {
	now := e.clock.Now()
	summary := &models.CancellationSummary{FlightID: id}
	var ticketIDs []uuid.UUID

	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		flight, err := tx.LockFlight(ctx, id)
		if err != nil {
			return notFound(err, "flight", id)
		}
		if !flight.Status.Bookable() {
			return newError(ErrState, "flight %s is %s and cannot be canceled", id, flight.Status)
		}

		tickets, err := tx.LockFlightTickets(ctx, id,
			models.TicketStatusPending, models.TicketStatusConfirmed, models.TicketStatusRefundRequested)
		if err != nil {
			return err
		}
		released, err := tx.ReleaseFlightSeats(ctx, id)
		if err != nil {
			return err
		}
		summary.SeatsReleased = released

		for i := range tickets {
			t := &tickets[i]
			approved, err := e.cancelForFlight(ctx, tx, t, now)
			if err != nil {
				return err
			}
			if approved {
				summary.RefundsApproved++
			}
			summary.TicketsCancelled++
			ticketIDs = append(ticketIDs, t.ID)
		}

		flight.Status = models.FlightStatusCanceled
		flight.AvailableSeats = flight.TotalSeats
		flight.UpdatedAt = now
		return tx.UpdateFlight(ctx, flight)
	})
	if err != nil {
		return nil, err
	}

	metrics.FlightStatusTransitionsTotal.WithLabelValues(string(models.FlightStatusCanceled)).Inc()
	metrics.RefundsDecidedTotal.WithLabelValues(string(models.RefundDecisionApprove), "system").Add(float64(summary.RefundsApproved))
	e.log.WithFields(logrus.Fields{
		"flight_id": id,
		"count":     summary.TicketsCancelled,
	}).Info("flight canceled")

	evt := events.New(events.FlightCanceled, id, now)
	evt.TicketIDs = ticketIDs
	evt.Status = string(models.FlightStatusCanceled)
	e.publish(ctx, evt)
	return summary, nil
}

// cancelForFlight cancels one ticket of a canceled flight. It reports whether a
// refund was approved.
func (e *Engine) cancelForFlight(ctx context.Context, tx Tx, t *models.Ticket, now time.Time) (bool, error) {
	prev := t.Status
	t.Status = models.TicketStatusCancelled
	t.SeatID = nil
	t.UpdatedAt = now
	if err := tx.UpdateTicket(ctx, t); err != nil {
		return false, err
	}
	if prev == models.TicketStatusPending {
		return false, nil
	}

	if err := e.markRefunded(ctx, tx, t.ID, now); err != nil {
		return false, err
	}

	comment := "flight canceled"
	if prev == models.TicketStatusRefundRequested {
		refund, err := tx.LockPendingRefund(ctx, t.ID)
		if err == nil {
			refund.Amount = t.Price
			refund.PenaltyPercentage = 0
			refund.Status = models.RefundStatusApproved
			refund.AdminComment = &comment
			refund.DecidedAt = ptr(now)
			return true, tx.UpdateRefund(ctx, refund)
		}
		if !isNotFound(err) {
			return false, err
		}
	}

	return true, tx.InsertRefund(ctx, &models.Refund{
		ID:                uuid.New(),
		TicketID:          t.ID,
		Amount:            t.Price,
		PenaltyPercentage: 0,
		RequestReason:     comment,
		Status:            models.RefundStatusApproved,
		AdminComment:      &comment,
		CreatedAt:         now,
		DecidedAt:         ptr(now),
	})
}

// RescheduleCanceledFlight returns a canceled flight to service with a new route and times
func (e *Engine) RescheduleCanceledFlight(ctx context.Context, id uuid.UUID, req models.RescheduleRequest) (*models.Flight, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, e.validationError(err)
	}
	now := e.clock.Now()
	if err := e.validateSchedule(req.DepartureTime, req.ArrivalTime, now); err != nil {
		return nil, err
	}

	var flight *models.Flight
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		f, err := tx.LockFlight(ctx, id)
		if err != nil {
			return notFound(err, "flight", id)
		}
		if f.Status != models.FlightStatusCanceled {
			return newError(ErrState, "only canceled flights can be rescheduled, flight %s is %s", id, f.Status)
		}
		if err := e.checkReferences(ctx, tx, f.AirlineCode, req.Route); err != nil {
			return err
		}
		if _, err := tx.ReleaseFlightSeats(ctx, id); err != nil {
			return err
		}
		f.Route = req.Route
		f.DepartureTime = req.DepartureTime
		f.ArrivalTime = req.ArrivalTime
		f.AvailableSeats = f.TotalSeats
		f.Status = models.FlightStatusScheduled
		f.UpdatedAt = now
		flight = f
		return tx.UpdateFlight(ctx, f)
	})
	if err != nil {
		return nil, err
	}

	metrics.FlightStatusTransitionsTotal.WithLabelValues(string(models.FlightStatusScheduled)).Inc()
	e.log.WithField("flight_id", id).Info("flight rescheduled")
	evt := events.New(events.FlightRescheduled, id, now)
	evt.Status = string(flight.Status)
	e.publish(ctx, evt)
	return flight, nil
}

// DelayFlight moves a scheduled or delayed flight to new, later times
func (e *Engine) DelayFlight(ctx context.Context, id uuid.UUID, req models.DelayRequest) (*models.Flight, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, e.validationError(err)
	}
	if !req.ArrivalTime.After(req.DepartureTime.Add(e.policy.MinFlightDuration)) {
		return nil, newError(ErrValidation, "arrival must be more than %s after departure", e.policy.MinFlightDuration)
	}
	now := e.clock.Now()

	var flight *models.Flight
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		f, err := tx.LockFlight(ctx, id)
		if err != nil {
			return notFound(err, "flight", id)
		}
		if !f.Status.Bookable() {
			return newError(ErrState, "flight %s is %s and cannot be delayed", id, f.Status)
		}
		if req.DepartureTime.Before(f.DepartureTime) {
			return newError(ErrValidation, "delayed departure must not be earlier than %s", f.DepartureTime.Format(time.RFC3339))
		}
		f.DepartureTime = req.DepartureTime
		f.ArrivalTime = req.ArrivalTime
		f.Status = models.FlightStatusDelayed
		f.UpdatedAt = now
		flight = f
		return tx.UpdateFlight(ctx, f)
	})
	if err != nil {
		return nil, err
	}

	e.statusChanged(ctx, flight, now)
	return flight, nil
}

// ResumeFlight moves a delayed flight back to scheduled
func (e *Engine) ResumeFlight(ctx context.Context, id uuid.UUID) (*models.Flight, error) {
	now := e.clock.Now()
	var flight *models.Flight
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		f, err := tx.LockFlight(ctx, id)
		if err != nil {
			return notFound(err, "flight", id)
		}
		if f.Status != models.FlightStatusDelayed {
			return newError(ErrState, "flight %s is %s, not delayed", id, f.Status)
		}
		f.Status = models.FlightStatusScheduled
		f.UpdatedAt = now
		flight = f
		return tx.UpdateFlight(ctx, f)
	})
	if err != nil {
		return nil, err
	}

	e.statusChanged(ctx, flight, now)
	return flight, nil
}

// AdvanceStatuses moves flights to departed or arrived by wall clock. Each
// flight is handled in its own transaction; a failure is logged and the sweep
// continues. It returns the number of flights transitioned.
func (e *Engine) AdvanceStatuses(ctx context.Context, now time.Time) (int, error) {
	ids, err := e.store.ListFlightsToAdvance(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list flights to advance: %w", err)
	}

	advanced := 0
	for _, id := range ids {
		var flight *models.Flight
		err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			f, err := tx.LockFlight(ctx, id)
			if err != nil {
				return err
			}
			switch {
			case !now.Before(f.ArrivalTime) && !f.Status.Terminal():
				if _, err := tx.ReleaseFlightSeats(ctx, id); err != nil {
					return err
				}
				f.Status = models.FlightStatusArrived
				f.AvailableSeats = f.TotalSeats
			case !now.Before(f.DepartureTime) && f.Status.Bookable():
				f.Status = models.FlightStatusDeparted
			default:
				return nil
			}
			f.UpdatedAt = now
			flight = f
			return tx.UpdateFlight(ctx, f)
		})
		if err != nil {
			e.log.WithError(err).WithField("flight_id", id).Warn("failed to advance flight status")
			continue
		}
		if flight != nil {
			advanced++
			e.statusChanged(ctx, flight, now)
		}
	}
	return advanced, nil
}

func (e *Engine) statusChanged(ctx context.Context, f *models.Flight, now time.Time) {
	metrics.FlightStatusTransitionsTotal.WithLabelValues(string(f.Status)).Inc()
	e.log.WithFields(logrus.Fields{
		"flight_id": f.ID,
		"status":    f.Status,
	}).Info("flight status changed")
	evt := events.New(events.FlightStatusChanged, f.ID, now)
	evt.Status = string(f.Status)
	e.publish(ctx, evt)
}
