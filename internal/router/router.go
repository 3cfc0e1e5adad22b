package router

import (
	"net/http"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/handlers"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/websocket"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter creates and configures the HTTP router. Extra middleware, such
// as idempotency, wraps the /api routes only.
func SetupRouter(h *handlers.Handler, hub *websocket.Hub, mws ...mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()

	// CORS middleware
	r.Use(corsMiddleware)

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	for _, mw := range mws {
		api.Use(mw)
	}

	// Flights
	api.HandleFunc("/flights", h.GetFlights).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/flights", h.CreateFlight).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/flights/{id}", h.GetFlight).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/flights/{id}/seats", h.GetFlightSeats).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/flights/{id}/cancel", h.CancelFlight).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/flights/{id}/reschedule", h.RescheduleFlight).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/flights/{id}/delay", h.DelayFlight).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/flights/{id}/resume", h.ResumeFlight).Methods(http.MethodPost, http.MethodOptions)

	// Seats
	api.HandleFunc("/seats/{id}", h.UpdateSeat).Methods(http.MethodPatch, http.MethodOptions)

	// Bookings and tickets
	api.HandleFunc("/bookings", h.CreateBooking).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/tickets", h.ListTickets).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/tickets/{id}", h.GetTicket).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/tickets/{id}/cancel", h.CancelTicket).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/tickets/{id}/pay", h.SubmitPayment).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/tickets/{id}/pay/retry", h.RetryPayment).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/tickets/{id}/payment", h.GetPayment).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/tickets/{id}/refund", h.RequestRefund).Methods(http.MethodPost, http.MethodOptions)

	// Refunds
	api.HandleFunc("/refunds/{id}", h.GetRefund).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/refunds/{id}/decision", h.DecideRefund).Methods(http.MethodPost, http.MethodOptions)

	// WebSocket for real-time updates
	if hub != nil {
		api.HandleFunc("/flights/{flightId}/ws", hub.HandleWebSocket).Methods(http.MethodGet)
	}

	// Health check and metrics
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
