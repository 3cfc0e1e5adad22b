package models

import (
	"time"

	"github.com/google/uuid"
)

// Airline operates flights
type Airline struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Airport is a departure or arrival point
type Airport struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	City   string `json:"city"`
	Active bool   `json:"active"`
}

// FlightStatus represents the lifecycle state of a flight
type FlightStatus string

const (
	FlightStatusScheduled FlightStatus = "scheduled"
	FlightStatusDelayed   FlightStatus = "delayed"
	FlightStatusDeparted  FlightStatus = "departed"
	FlightStatusArrived   FlightStatus = "arrived"
	FlightStatusCanceled  FlightStatus = "canceled"
)

// Bookable reports whether seats on a flight in this status can be held.
func (s FlightStatus) Bookable() bool {
	return s == FlightStatusScheduled || s == FlightStatusDelayed
}

// Terminal reports whether the status only leaves via reschedule (or never).
func (s FlightStatus) Terminal() bool {
	return s == FlightStatusArrived || s == FlightStatusCanceled
}

// Route is the airport pair a flight connects
type Route struct {
	DepartureAirport string `json:"departureAirport" validate:"required,len=3,alpha,uppercase"`
	ArrivalAirport   string `json:"arrivalAirport" validate:"required,len=3,alpha,uppercase,nefield=DepartureAirport"`
}

// Flight represents a flight in the database
type Flight struct {
	ID             uuid.UUID    `json:"id"`
	FlightNumber   string       `json:"flightNumber"`
	AirlineCode    string       `json:"airlineCode"`
	Route          Route        `json:"route"`
	DepartureTime  time.Time    `json:"departureTime"`
	ArrivalTime    time.Time    `json:"arrivalTime"`
	TotalSeats     int          `json:"totalSeats"`
	AvailableSeats int          `json:"availableSeats"`
	Status         FlightStatus `json:"status"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// SeatClass is the cabin a seat belongs to
type SeatClass string

const (
	SeatClassEconomy  SeatClass = "economy"
	SeatClassBusiness SeatClass = "business"
	SeatClassFirst    SeatClass = "first"
)

// SeatClasses lists every cabin in seating order (front of the aircraft first).
var SeatClasses = []SeatClass{SeatClassFirst, SeatClassBusiness, SeatClassEconomy}

// Valid reports whether c is a known seat class.
func (c SeatClass) Valid() bool {
	switch c {
	case SeatClassEconomy, SeatClassBusiness, SeatClassFirst:
		return true
	}
	return false
}

// Pricing is the price band of one class on one flight
type Pricing struct {
	FlightID     uuid.UUID `json:"flightId"`
	Class        SeatClass `json:"class"`
	BasePrice    float64   `json:"basePrice"`
	CeilingPrice float64   `json:"ceilingPrice"`
}

// Seat represents a seat in the database
type Seat struct {
	ID         uuid.UUID `json:"id"`
	FlightID   uuid.UUID `json:"flightId"`
	SeatNumber string    `json:"seatNumber"`
	Class      SeatClass `json:"class"`
	Price      float64   `json:"price"`
	IsBooked   bool      `json:"isBooked"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// PriceBand is the requested [base, ceiling] band for a class
type PriceBand struct {
	Base    float64 `json:"base" validate:"gt=0"`
	Ceiling float64 `json:"ceiling" validate:"gtefield=Base"`
}

// CreateFlightRequest describes a new flight
type CreateFlightRequest struct {
	FlightNumber  string                  `json:"flightNumber" validate:"required,alphanum,min=3,max=8"`
	AirlineCode   string                  `json:"airlineCode" validate:"required,min=2,max=3"`
	Route         Route                   `json:"route"`
	DepartureTime time.Time               `json:"departureTime" validate:"required"`
	ArrivalTime   time.Time               `json:"arrivalTime" validate:"required"`
	TotalSeats    int                     `json:"totalSeats" validate:"gte=1,lte=900"`
	Pricing       map[SeatClass]PriceBand `json:"pricing" validate:"required,dive"`
}

// RescheduleRequest moves a canceled flight back into service
type RescheduleRequest struct {
	Route         Route     `json:"route"`
	DepartureTime time.Time `json:"departureTime" validate:"required"`
	ArrivalTime   time.Time `json:"arrivalTime" validate:"required"`
}

// DelayRequest carries the new times of a delayed flight
type DelayRequest struct {
	DepartureTime time.Time `json:"departureTime" validate:"required"`
	ArrivalTime   time.Time `json:"arrivalTime" validate:"required"`
}

// CancellationSummary reports what a flight cancellation touched
type CancellationSummary struct {
	FlightID         uuid.UUID `json:"flightId"`
	TicketsCancelled int       `json:"ticketsCancelled"`
	RefundsApproved  int       `json:"refundsApproved"`
	SeatsReleased    int       `json:"seatsReleased"`
}

// SeatUpdate changes the number and/or class of an unbooked seat
type SeatUpdate struct {
	SeatNumber *string    `json:"seatNumber,omitempty"`
	Class      *SeatClass `json:"class,omitempty"`
}
