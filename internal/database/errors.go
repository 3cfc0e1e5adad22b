package database

import (
	"errors"
	"fmt"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/service"
)

var (
	// ErrNotFound matches service.ErrNotFound with errors.Is
	ErrNotFound = fmt.Errorf("record %w", service.ErrNotFound)
	// ErrSeatTaken is returned when a second live ticket would reference a seat
	ErrSeatTaken = errors.New("seat already has a live ticket")
	// ErrCapacity is returned when available seats would leave [0, total]
	ErrCapacity = errors.New("available seats out of range")
)
