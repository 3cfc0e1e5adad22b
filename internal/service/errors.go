package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrReference        = errors.New("reference error")
	ErrNotFound         = errors.New("not found")
	ErrSeatUnavailable  = errors.New("seat unavailable")
	ErrBooking          = errors.New("booking failed")
	ErrState            = errors.New("invalid state")
	ErrRefundWindow     = errors.New("refund window closed")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrPayment          = errors.New("payment error")
)

// Error carries a human readable message and unwraps to one of the sentinel kinds
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// SeatUnavailableError names one seat that could not be held
type SeatUnavailableError struct {
	SeatID     uuid.UUID `json:"seatId"`
	SeatNumber string    `json:"seatNumber,omitempty"`
	Reason     string    `json:"reason"`
}

func (e *SeatUnavailableError) Error() string {
	if e.SeatNumber != "" {
		return fmt.Sprintf("seat %s (%s) unavailable: %s", e.SeatNumber, e.SeatID, e.Reason)
	}
	return fmt.Sprintf("seat %s unavailable: %s", e.SeatID, e.Reason)
}

func (e *SeatUnavailableError) Unwrap() error {
	return ErrSeatUnavailable
}

// BookingError lists every seat that failed its precondition
type BookingError struct {
	Seats []*SeatUnavailableError
}

func (e *BookingError) Error() string {
	parts := make([]string, 0, len(e.Seats))
	for _, s := range e.Seats {
		parts = append(parts, s.Error())
	}
	return fmt.Sprintf("%s: %s", ErrBooking, strings.Join(parts, "; "))
}

func (e *BookingError) Unwrap() []error {
	errs := make([]error, 0, len(e.Seats)+1)
	errs = append(errs, ErrBooking)
	for _, s := range e.Seats {
		errs = append(errs, s)
	}
	return errs
}
