package models

import "time"

// Scheduler job names
const (
	JobFlightStatus      = "flight-status"
	JobTicketExpiry      = "ticket-expiry"
	JobRefundAutoApprove = "refund-auto-approve"
)

// SweepInput is passed to a sweep workflow run
type SweepInput struct {
	Job string `json:"job"`
}

// SweepResult reports one sweep run
type SweepResult struct {
	Job       string    `json:"job"`
	Processed int       `json:"processed"`
	RanAt     time.Time `json:"ranAt"`
	Error     string    `json:"error,omitempty"`
}
