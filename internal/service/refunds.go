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

const (
	actorAdmin  = "admin"
	actorSystem = "system"
)

// RequestRefund opens a refund for a confirmed ticket. The penalty is tiered
// by how close departure is.
func (e *Engine) RequestRefund(ctx context.Context, ticketID uuid.UUID, reason string) (*models.Refund, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, newError(ErrValidation, "a refund reason is required")
	}
	now := e.clock.Now()

	var refund *models.Refund
	var flightID uuid.UUID
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		ticket, flight, err := e.lockTicketWithFlight(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		if ticket.Status != models.TicketStatusConfirmed {
			return newError(ErrState, "ticket %s is %s, only confirmed tickets can be refunded", ticketID, ticket.Status)
		}
		lead := flight.DepartureTime.Sub(now)
		if departed(flight, now) || lead <= e.policy.RefundMinLead {
			return newError(ErrRefundWindow, "refunds require more than %s before departure", e.policy.RefundMinLead)
		}

		penalty := e.policy.Penalty(lead)
		refund = &models.Refund{
			ID:                uuid.New(),
			TicketID:          ticket.ID,
			Amount:            refundAmount(ticket.Price, penalty),
			PenaltyPercentage: penalty,
			RequestReason:     reason,
			Status:            models.RefundStatusPending,
			CreatedAt:         now,
		}
		if err := tx.InsertRefund(ctx, refund); err != nil {
			return err
		}
		ticket.Status = models.TicketStatusRefundRequested
		ticket.UpdatedAt = now
		flightID = flight.ID
		return tx.UpdateTicket(ctx, ticket)
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"ticket_id": ticketID,
		"refund_id": refund.ID,
		"penalty":   refund.PenaltyPercentage,
	}).Info("refund requested")
	evt := events.New(events.RefundRequested, flightID, now)
	evt.TicketIDs = []uuid.UUID{ticketID}
	evt.RefundID = ptr(refund.ID)
	e.publish(ctx, evt)
	return refund, nil
}

// DecideRefund applies an admin decision to a pending refund
func (e *Engine) DecideRefund(ctx context.Context, refundID uuid.UUID, decision models.RefundDecision, comment string) (*models.Refund, error) {
	if decision != models.RefundDecisionApprove && decision != models.RefundDecisionReject {
		return nil, newError(ErrValidation, "decision must be %q or %q", models.RefundDecisionApprove, models.RefundDecisionReject)
	}
	now := e.clock.Now()

	var out decided
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		refund, ticket, flight, err := e.lockRefund(ctx, tx, refundID)
		if err != nil {
			return err
		}
		out, err = e.applyDecision(ctx, tx, refund, ticket, flight, decision, strings.TrimSpace(comment), now)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.decisionMade(ctx, out, decision, actorAdmin, now)
	return out.refund, nil
}

// GetRefund returns a refund by ID
func (e *Engine) GetRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	r, err := e.store.GetRefund(ctx, id)
	if err != nil {
		return nil, notFound(err, "refund", id)
	}
	return r, nil
}

// AutoApproveRefunds decides every refund left pending longer than the policy
// allows. A refund whose flight has departed in the meantime is rejected and
// its ticket restored; every other one is approved. Each refund is decided in
// its own transaction and failures do not stop the sweep.
func (e *Engine) AutoApproveRefunds(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-e.policy.RefundAutoApprove)
	ids, err := e.store.ListStaleRefunds(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale refunds: %w", err)
	}

	processed := 0
	for _, id := range ids {
		var out decided
		var decision models.RefundDecision
		err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			refund, ticket, flight, err := e.lockRefund(ctx, tx, id)
			if err != nil {
				return err
			}
			if refund.Status != models.RefundStatusPending || refund.CreatedAt.After(cutoff) {
				return nil
			}

			decision = models.RefundDecisionApprove
			comment := fmt.Sprintf("auto-approved: no decision within %s", e.policy.RefundAutoApprove)
			if ticket.Status == models.TicketStatusRefundRequested && departed(flight, now) {
				decision = models.RefundDecisionReject
				comment = "auto-rejected: flight departed before a decision was made"
			}
			out, err = e.applyDecision(ctx, tx, refund, ticket, flight, decision, comment, now)
			return err
		})
		if err != nil {
			e.log.WithError(err).WithField("refund_id", id).Warn("failed to auto-decide refund")
			continue
		}
		if out.refund == nil {
			continue
		}
		processed++
		e.decisionMade(ctx, out, decision, actorSystem, now)
	}
	return processed, nil
}

type decided struct {
	refund   *models.Refund
	flightID uuid.UUID
	seatID   *uuid.UUID
}

// lockRefund locks the refund's flight, its ticket and then the refund
func (e *Engine) lockRefund(ctx context.Context, tx Tx, refundID uuid.UUID) (*models.Refund, *models.Ticket, *models.Flight, error) {
	peek, err := tx.GetRefund(ctx, refundID)
	if err != nil {
		return nil, nil, nil, notFound(err, "refund", refundID)
	}
	ticket, flight, err := e.lockTicketWithFlight(ctx, tx, peek.TicketID)
	if err != nil {
		return nil, nil, nil, err
	}
	refund, err := tx.LockRefund(ctx, refundID)
	if err != nil {
		return nil, nil, nil, notFound(err, "refund", refundID)
	}
	return refund, ticket, flight, nil
}

func (e *Engine) applyDecision(ctx context.Context, tx Tx, refund *models.Refund, ticket *models.Ticket,
	flight *models.Flight, decision models.RefundDecision, comment string, now time.Time) (decided, error) {
	out := decided{flightID: flight.ID}
	if refund.Status != models.RefundStatusPending {
		return out, newError(ErrAlreadyProcessed, "refund %s is already %s", refund.ID, refund.Status)
	}

	switch decision {
	case models.RefundDecisionApprove:
		switch ticket.Status {
		case models.TicketStatusRefundRequested:
			if departed(flight, now) {
				return out, newError(ErrState, "flight %s has departed, refund cannot be approved", flight.ID)
			}
			if ticket.SeatID != nil {
				out.seatID = ptr(*ticket.SeatID)
				if err := e.release(ctx, tx, flight, *ticket.SeatID); err != nil {
					return out, err
				}
				flight.UpdatedAt = now
				if err := tx.UpdateFlight(ctx, flight); err != nil {
					return out, err
				}
			}
			ticket.Status = models.TicketStatusCancelled
			ticket.SeatID = nil
			ticket.UpdatedAt = now
			if err := tx.UpdateTicket(ctx, ticket); err != nil {
				return out, err
			}
		case models.TicketStatusCancelled:
			// seat was released when the ticket was cancelled
		default:
			return out, newError(ErrState, "ticket %s is %s, refund cannot be approved", ticket.ID, ticket.Status)
		}
		if err := e.markRefunded(ctx, tx, ticket.ID, now); err != nil {
			return out, err
		}
		refund.Status = models.RefundStatusApproved

	case models.RefundDecisionReject:
		if ticket.Status == models.TicketStatusRefundRequested {
			ticket.Status = models.TicketStatusConfirmed
			ticket.UpdatedAt = now
			if err := tx.UpdateTicket(ctx, ticket); err != nil {
				return out, err
			}
		}
		refund.Status = models.RefundStatusRejected
	}

	if comment != "" {
		refund.AdminComment = &comment
	}
	refund.DecidedAt = ptr(now)
	if err := tx.UpdateRefund(ctx, refund); err != nil {
		return out, err
	}
	out.refund = refund
	return out, nil
}

func (e *Engine) decisionMade(ctx context.Context, out decided, decision models.RefundDecision, actor string, now time.Time) {
	metrics.RefundsDecidedTotal.WithLabelValues(string(decision), actor).Inc()
	e.log.WithFields(logrus.Fields{
		"refund_id": out.refund.ID,
		"ticket_id": out.refund.TicketID,
		"decision":  decision,
		"actor":     actor,
	}).Info("refund decided")

	evt := events.New(events.RefundDecided, out.flightID, now)
	evt.TicketIDs = []uuid.UUID{out.refund.TicketID}
	evt.RefundID = ptr(out.refund.ID)
	evt.Status = string(out.refund.Status)
	if out.seatID != nil {
		evt.SeatIDs = []uuid.UUID{*out.seatID}
	}
	e.publish(ctx, evt)
}
