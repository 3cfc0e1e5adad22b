package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the status of a payment
type PaymentStatus string

const (
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSuccess    PaymentStatus = "success"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// PaymentMethod is how the customer pays
type PaymentMethod string

const (
	PaymentMethodCard     PaymentMethod = "card"
	PaymentMethodWallet   PaymentMethod = "wallet"
	PaymentMethodTransfer PaymentMethod = "transfer"
)

// Valid reports whether m is a supported method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodWallet, PaymentMethodTransfer:
		return true
	}
	return false
}

// Payment records money taken for a ticket
type Payment struct {
	ID            uuid.UUID     `json:"id"`
	TicketID      uuid.UUID     `json:"ticketId"`
	Amount        float64       `json:"amount"`
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transactionId"`
	Attempts      int           `json:"attempts"`
	FailureReason *string       `json:"failureReason,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// PaymentRequest represents a payment submission
type PaymentRequest struct {
	Method PaymentMethod `json:"method"`
}

// PaymentResult is returned once a ticket is paid
type PaymentResult struct {
	PaymentID     uuid.UUID `json:"paymentId"`
	TransactionID string    `json:"transactionId"`
	Amount        float64   `json:"amount"`
	Attempts      int       `json:"attempts"`
}
