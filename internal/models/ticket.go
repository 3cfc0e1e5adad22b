package models

import (
	"time"

	"github.com/google/uuid"
)

// Passenger is the traveller a ticket is issued to
type Passenger struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Passport    string    `json:"passport"`
	DateOfBirth time.Time `json:"dateOfBirth"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TicketStatus represents the status of a ticket
type TicketStatus string

const (
	TicketStatusPending         TicketStatus = "pending"
	TicketStatusConfirmed       TicketStatus = "confirmed"
	TicketStatusCancelled       TicketStatus = "cancelled"
	TicketStatusRefundRequested TicketStatus = "refund_requested"
	TicketStatusExpired         TicketStatus = "expired"
)

// Live reports whether a ticket in this status holds a claim on its seat.
func (s TicketStatus) Live() bool {
	return s == TicketStatusPending || s == TicketStatusConfirmed || s == TicketStatusRefundRequested
}

// Ticket binds a passenger and a seat on a flight
type Ticket struct {
	ID              uuid.UUID    `json:"id"`
	PassengerID     uuid.UUID    `json:"passengerId"`
	SeatID          *uuid.UUID   `json:"seatId,omitempty"`
	FlightID        uuid.UUID    `json:"flightId"`
	Price           float64      `json:"price"`
	DiscountPercent float64      `json:"discountPercent"`
	Status          TicketStatus `json:"status"`
	CreatedAt       time.Time    `json:"createdAt"`
	ExpiresAt       time.Time    `json:"expiresAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// PassengerInput is the passenger part of a booking request
type PassengerInput struct {
	Name        string    `json:"name" validate:"required,min=2,max=100"`
	Email       string    `json:"email" validate:"required,email"`
	Passport    string    `json:"passport" validate:"required,alphanum,min=6,max=9"`
	DateOfBirth time.Time `json:"dateOfBirth" validate:"required"`
}

// BookingRequest holds one passenger per requested seat
type BookingRequest struct {
	Passengers      []PassengerInput `json:"passengers" validate:"required,min=1,dive"`
	SeatIDs         []uuid.UUID      `json:"seatIds" validate:"required,min=1"`
	DiscountPercent float64          `json:"discountPercent" validate:"gte=0,lte=100"`
}

// BookingResult is returned for a successful hold
type BookingResult struct {
	Tickets   []Ticket  `json:"tickets"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TicketCancellation is the outcome of a customer cancelling a confirmed ticket
type TicketCancellation struct {
	Ticket Ticket  `json:"ticket"`
	Refund *Refund `json:"refund,omitempty"`
}
