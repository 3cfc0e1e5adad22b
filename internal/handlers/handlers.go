package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Handler contains HTTP handlers for the API
type Handler struct {
	engine service.BookingEngine
	log    *logrus.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(engine service.BookingEngine, log *logrus.Logger) *Handler {
	return &Handler{
		engine: engine,
		log:    log,
	}
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

type bookingConflict struct {
	Error string                          `json:"error"`
	Seats []*service.SeatUnavailableError `json:"seats"`
}

// statusFor maps an engine error onto an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrReference), errors.Is(err, service.ErrRefundWindow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrPayment):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrBooking), errors.Is(err, service.ErrSeatUnavailable),
		errors.Is(err, service.ErrState), errors.Is(err, service.ErrAlreadyProcessed):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		respondError(w, status, "internal server error")
		return
	}

	var booking *service.BookingError
	if errors.As(err, &booking) {
		respondJSON(w, status, bookingConflict{Error: err.Error(), Seats: booking.Seats})
		return
	}
	respondError(w, status, err.Error())
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// GetFlights handles GET /api/flights
func (h *Handler) GetFlights(w http.ResponseWriter, r *http.Request) {
	flights, err := h.engine.ListFlights(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if flights == nil {
		flights = []models.Flight{}
	}
	respondJSON(w, http.StatusOK, flights)
}

// GetFlight handles GET /api/flights/{id}
func (h *Handler) GetFlight(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	flight, err := h.engine.GetFlight(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, flight)
}

// GetFlightSeats handles GET /api/flights/{id}/seats?class=
func (h *Handler) GetFlightSeats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var class *models.SeatClass
	if q := r.URL.Query().Get("class"); q != "" {
		c := models.SeatClass(q)
		if !c.Valid() {
			respondError(w, http.StatusBadRequest, "Invalid seat class")
			return
		}
		class = &c
	}

	seats, err := h.engine.ListAvailableSeats(r.Context(), id, class)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if seats == nil {
		seats = []models.Seat{}
	}
	respondJSON(w, http.StatusOK, seats)
}

// CreateFlight handles POST /api/flights
func (h *Handler) CreateFlight(w http.ResponseWriter, r *http.Request) {
	var req models.CreateFlightRequest
	if !decode(w, r, &req) {
		return
	}
	flight, err := h.engine.CreateFlight(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, flight)
}

// CancelFlight handles POST /api/flights/{id}/cancel
func (h *Handler) CancelFlight(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	summary, err := h.engine.CancelFlight(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// RescheduleFlight handles POST /api/flights/{id}/reschedule
func (h *Handler) RescheduleFlight(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.RescheduleRequest
	if !decode(w, r, &req) {
		return
	}
	flight, err := h.engine.RescheduleCanceledFlight(r.Context(), id, req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, flight)
}

// DelayFlight handles POST /api/flights/{id}/delay
func (h *Handler) DelayFlight(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.DelayRequest
	if !decode(w, r, &req) {
		return
	}
	flight, err := h.engine.DelayFlight(r.Context(), id, req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, flight)
}

// ResumeFlight handles POST /api/flights/{id}/resume
func (h *Handler) ResumeFlight(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	flight, err := h.engine.ResumeFlight(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, flight)
}

// UpdateSeat handles PATCH /api/seats/{id}
func (h *Handler) UpdateSeat(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var upd models.SeatUpdate
	if !decode(w, r, &upd) {
		return
	}
	seat, err := h.engine.UpdateSeat(r.Context(), id, upd)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, seat)
}

// CreateBooking handles POST /api/bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req models.BookingRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.engine.Book(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// GetTicket handles GET /api/tickets/{id}
func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ticket, err := h.engine.GetTicket(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ticket)
}

// ListTickets handles GET /api/tickets?email=
func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		respondError(w, http.StatusBadRequest, "Email is required")
		return
	}
	tickets, err := h.engine.ListTicketsByEmail(r.Context(), email)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	respondJSON(w, http.StatusOK, tickets)
}

// CancelTicket handles POST /api/tickets/{id}/cancel
func (h *Handler) CancelTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.engine.CancelTicket(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// SubmitPayment handles POST /api/tickets/{id}/pay
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.PaymentRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.engine.Pay(r.Context(), id, req.Method)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// RetryPayment handles POST /api/tickets/{id}/pay/retry
func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.engine.RetryPayment(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetPayment handles GET /api/tickets/{id}/payment
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	payment, err := h.engine.GetPayment(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, payment)
}

// RequestRefund handles POST /api/tickets/{id}/refund
func (h *Handler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.RefundRequest
	if !decode(w, r, &req) {
		return
	}
	refund, err := h.engine.RequestRefund(r.Context(), id, req.Reason)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, refund)
}

// DecideRefund handles POST /api/refunds/{id}/decision
func (h *Handler) DecideRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.RefundDecisionRequest
	if !decode(w, r, &req) {
		return
	}
	refund, err := h.engine.DecideRefund(r.Context(), id, req.Decision, req.Comment)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, refund)
}

// GetRefund handles GET /api/refunds/{id}
func (h *Handler) GetRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	refund, err := h.engine.GetRefund(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, refund)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
