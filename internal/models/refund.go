package models

import (
	"time"

	"github.com/google/uuid"
)

// RefundStatus represents the approval state of a refund
type RefundStatus string

const (
	RefundStatusPending  RefundStatus = "pending"
	RefundStatusApproved RefundStatus = "approved"
	RefundStatusRejected RefundStatus = "rejected"
)

// RefundDecision is an admin verdict on a pending refund
type RefundDecision string

const (
	RefundDecisionApprove RefundDecision = "approve"
	RefundDecisionReject  RefundDecision = "reject"
)

// Refund returns money for a ticket
type Refund struct {
	ID                uuid.UUID    `json:"id"`
	TicketID          uuid.UUID    `json:"ticketId"`
	Amount            float64      `json:"amount"`
	PenaltyPercentage float64      `json:"penaltyPercentage"`
	RequestReason     string       `json:"requestReason"`
	Status            RefundStatus `json:"status"`
	AdminComment      *string      `json:"adminComment,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	DecidedAt         *time.Time   `json:"decidedAt,omitempty"`
}

// RefundRequest represents a customer's refund request
type RefundRequest struct {
	Reason string `json:"reason"`
}

// RefundDecisionRequest represents an admin decision
type RefundDecisionRequest struct {
	Decision RefundDecision `json:"decision"`
	Comment  string         `json:"comment"`
}
