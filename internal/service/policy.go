package service

import (
	"math"
	"time"
)

// Policy holds the time windows and percentages the engine enforces
type Policy struct {
	HoldDuration        time.Duration
	BookingCutoff       time.Duration
	CreationLead        time.Duration
	MinFlightDuration   time.Duration
	RefundMinLead       time.Duration
	PenaltyTierBoundary time.Duration
	HighPenaltyPercent  float64
	LowPenaltyPercent   float64
	RefundAutoApprove   time.Duration
	MaxPaymentAttempts  int
	DedupePassengers    bool
}

// DefaultPolicy returns the production values
func DefaultPolicy() Policy {
	return Policy{
		HoldDuration:        15 * time.Minute,
		BookingCutoff:       2 * time.Hour,
		CreationLead:        48 * time.Hour,
		MinFlightDuration:   30 * time.Minute,
		RefundMinLead:       12 * time.Hour,
		PenaltyTierBoundary: 48 * time.Hour,
		HighPenaltyPercent:  30,
		LowPenaltyPercent:   10,
		RefundAutoApprove:   12 * time.Hour,
		MaxPaymentAttempts:  3,
		DedupePassengers:    true,
	}
}

// Penalty returns the refund penalty for a request made lead before departure.
// Anything under the tier boundary pays the high rate.
func (p Policy) Penalty(lead time.Duration) float64 {
	if lead < p.PenaltyTierBoundary {
		return p.HighPenaltyPercent
	}
	return p.LowPenaltyPercent
}

func refundAmount(price, penaltyPercent float64) float64 {
	return roundCents(price * (1 - penaltyPercent/100))
}

func discounted(price, discountPercent float64) float64 {
	return roundCents(price * (1 - discountPercent/100))
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
