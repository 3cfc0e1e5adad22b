package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/events"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/metrics"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PaymentGateway charges a customer. It is always called outside any transaction.
type PaymentGateway interface {
	Charge(ctx context.Context, ticketID uuid.UUID, amount float64, method models.PaymentMethod) (string, error)
	// Refund returns a captured charge in full
	Refund(ctx context.Context, transactionID string, amount float64) error
}

// StubGateway approves every charge and every refund
type StubGateway struct{}

func (StubGateway) Charge(context.Context, uuid.UUID, float64, models.PaymentMethod) (string, error) {
	return "TXN-" + uuid.NewString(), nil
}

func (StubGateway) Refund(context.Context, string, float64) error { return nil }

// Pay charges a held ticket and confirms it. The payment row is reserved in one
// transaction, the gateway is called with no locks held, and the ticket is
// confirmed in a second transaction after re-checking it is still held.
func (e *Engine) Pay(ctx context.Context, ticketID uuid.UUID, method models.PaymentMethod) (*models.PaymentResult, error) {
	if !method.Valid() {
		return nil, newError(ErrValidation, "unsupported payment method %q", method)
	}
	now := e.clock.Now()

	var payment *models.Payment
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		ticket, seat, err := e.lockPayable(ctx, tx, ticketID, now)
		if err != nil {
			return err
		}
		existing, err := tx.LockPayment(ctx, ticketID)
		switch {
		case err == nil && existing.Status == models.PaymentStatusFailed:
			return newError(ErrPayment, "a failed payment exists for ticket %s, retry it instead", ticketID)
		case err == nil:
			return newError(ErrPayment, "ticket %s already has a %s payment", ticketID, existing.Status)
		case !isNotFound(err):
			return err
		}

		payment = &models.Payment{
			ID:        uuid.New(),
			TicketID:  ticket.ID,
			Amount:    discounted(seat.Price, ticket.DiscountPercent),
			Method:    method,
			Status:    models.PaymentStatusProcessing,
			Attempts:  1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.InsertPayment(ctx, payment)
	})
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, err
	}

	return e.charge(ctx, payment)
}

// RetryPayment charges a held ticket again, reusing its failed payment row
func (e *Engine) RetryPayment(ctx context.Context, ticketID uuid.UUID) (*models.PaymentResult, error) {
	now := e.clock.Now()

	var payment *models.Payment
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, _, err := e.lockPayable(ctx, tx, ticketID, now); err != nil {
			return err
		}
		p, err := tx.LockPayment(ctx, ticketID)
		if err != nil {
			if isNotFound(err) {
				return newError(ErrPayment, "ticket %s has no payment to retry", ticketID)
			}
			return err
		}
		if p.Status != models.PaymentStatusFailed {
			return newError(ErrPayment, "payment for ticket %s is %s and cannot be retried", ticketID, p.Status)
		}
		if p.Attempts >= e.policy.MaxPaymentAttempts {
			return newError(ErrPayment, "maximum of %d payment attempts reached", e.policy.MaxPaymentAttempts)
		}
		p.Attempts++
		p.Status = models.PaymentStatusProcessing
		p.FailureReason = nil
		p.UpdatedAt = now
		payment = p
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, err
	}

	return e.charge(ctx, payment)
}

// lockPayable locks a ticket with its flight and checks it can still be paid:
// it is held, its flight has not departed and its seat is still booked
func (e *Engine) lockPayable(ctx context.Context, tx Tx, ticketID uuid.UUID, now time.Time) (*models.Ticket, *models.Seat, error) {
	ticket, flight, err := e.lockTicketWithFlight(ctx, tx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if ticket.Status != models.TicketStatusPending {
		return nil, nil, newError(ErrPayment, "ticket %s is %s, not pending", ticketID, ticket.Status)
	}
	if departed(flight, now) {
		return nil, nil, newError(ErrPayment, "flight %s has already departed", flight.ID)
	}
	if ticket.SeatID == nil {
		return nil, nil, newError(ErrPayment, "ticket %s has no seat", ticketID)
	}
	seats, err := tx.LockSeats(ctx, []uuid.UUID{*ticket.SeatID})
	if err != nil {
		return nil, nil, err
	}
	if len(seats) == 0 || !seats[0].IsBooked {
		return nil, nil, newError(ErrPayment, "seat of ticket %s is no longer held", ticketID)
	}
	return ticket, &seats[0], nil
}

// charge calls the gateway for a reserved payment and settles the outcome. A
// charge captured for a ticket that can no longer be confirmed is refunded.
func (e *Engine) charge(ctx context.Context, payment *models.Payment) (*models.PaymentResult, error) {
	txnID, chargeErr := e.gateway.Charge(ctx, payment.TicketID, payment.Amount, payment.Method)
	now := e.clock.Now()

	var ticket *models.Ticket
	var settleErr error
	captured := false
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		t, _, payableErr := e.lockPayable(ctx, tx, payment.TicketID, now)
		if payableErr != nil && !errors.Is(payableErr, ErrPayment) {
			return payableErr
		}
		p, err := tx.LockPayment(ctx, payment.TicketID)
		if err != nil {
			return err
		}
		p.UpdatedAt = now
		if chargeErr != nil {
			settleErr = newError(ErrPayment, "payment declined: %v", chargeErr)
			return failPayment(ctx, tx, p, chargeErr.Error())
		}
		p.TransactionID = txnID
		if payableErr != nil {
			settleErr = payableErr
			captured = true
			return failPayment(ctx, tx, p, payableErr.Error())
		}

		if err := confirm(ctx, tx, t, now); err != nil {
			return err
		}
		p.Status = models.PaymentStatusSuccess
		ticket = t
		payment = p
		return tx.UpdatePayment(ctx, p)
	})
	if err == nil && captured {
		e.refundCapture(context.WithoutCancel(ctx), payment.TicketID, txnID, payment.Amount)
	}
	if err == nil {
		err = settleErr
	}
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		e.log.WithError(err).WithField("ticket_id", payment.TicketID).Warn("payment failed")
		return nil, err
	}

	metrics.PaymentsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	e.log.WithFields(logrus.Fields{
		"ticket_id": ticket.ID,
		"flight_id": ticket.FlightID,
		"attempts":  payment.Attempts,
	}).Info("ticket paid and confirmed")

	evt := events.New(events.TicketConfirmed, ticket.FlightID, now)
	evt.TicketIDs = []uuid.UUID{ticket.ID}
	if ticket.SeatID != nil {
		evt.SeatIDs = []uuid.UUID{*ticket.SeatID}
	}
	e.publish(ctx, evt)

	return &models.PaymentResult{
		PaymentID:     payment.ID,
		TransactionID: payment.TransactionID,
		Amount:        payment.Amount,
		Attempts:      payment.Attempts,
	}, nil
}

// refundCapture returns a captured charge through the gateway and records the
// payment as refunded. If the gateway refuses, the payment stays failed with
// its transaction id for reconciliation.
func (e *Engine) refundCapture(ctx context.Context, ticketID uuid.UUID, txnID string, amount float64) {
	log := e.log.WithFields(logrus.Fields{
		"ticket_id":      ticketID,
		"transaction_id": txnID,
	})
	if err := e.gateway.Refund(ctx, txnID, amount); err != nil {
		log.WithError(err).Error("failed to refund captured payment")
		return
	}

	now := e.clock.Now()
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockTicket(ctx, ticketID); err != nil {
			return err
		}
		p, err := tx.LockPayment(ctx, ticketID)
		if err != nil {
			return err
		}
		if p.Status != models.PaymentStatusFailed || p.TransactionID != txnID {
			return nil
		}
		p.Status = models.PaymentStatusRefunded
		p.UpdatedAt = now
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		log.WithError(err).Error("failed to record refunded payment")
		return
	}
	log.Info("captured payment refunded")
}

func failPayment(ctx context.Context, tx Tx, p *models.Payment, reason string) error {
	p.Status = models.PaymentStatusFailed
	p.FailureReason = &reason
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return fmt.Errorf("failed to record failed payment: %w", err)
	}
	return nil
}

// GetPayment returns the payment recorded for a ticket
func (e *Engine) GetPayment(ctx context.Context, ticketID uuid.UUID) (*models.Payment, error) {
	p, err := e.store.GetPaymentByTicket(ctx, ticketID)
	if err != nil {
		return nil, notFound(err, "payment for ticket", ticketID)
	}
	return p, nil
}

// markRefunded flips a successful payment of the ticket to refunded, if there is one
func (e *Engine) markRefunded(ctx context.Context, tx Tx, ticketID uuid.UUID, now time.Time) error {
	p, err := tx.LockPayment(ctx, ticketID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if p.Status != models.PaymentStatusSuccess {
		return nil
	}
	p.Status = models.PaymentStatusRefunded
	p.UpdatedAt = now
	return tx.UpdatePayment(ctx, p)
}
