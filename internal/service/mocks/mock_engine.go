package mocks

import (
	"context"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockBookingEngine is a mock implementation of service.BookingEngine
type MockBookingEngine struct {
	mock.Mock
}

var _ service.BookingEngine = (*MockBookingEngine)(nil)

func (m *MockBookingEngine) CreateFlight(ctx context.Context, req models.CreateFlightRequest) (*models.Flight, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Flight), args.Error(1)
}

func (m *MockBookingEngine) GetFlight(ctx context.Context, id uuid.UUID) (*models.Flight, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Flight), args.Error(1)
}

func (m *MockBookingEngine) ListFlights(ctx context.Context) ([]models.Flight, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Flight), args.Error(1)
}

func (m *MockBookingEngine) CancelFlight(ctx context.Context, id uuid.UUID) (*models.CancellationSummary, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CancellationSummary), args.Error(1)
}

func (m *MockBookingEngine) RescheduleCanceledFlight(ctx context.Context, id uuid.UUID, req models.RescheduleRequest) (*models.Flight, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Flight), args.Error(1)
}

func (m *MockBookingEngine) DelayFlight(ctx context.Context, id uuid.UUID, req models.DelayRequest) (*models.Flight, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Flight), args.Error(1)
}

func (m *MockBookingEngine) ResumeFlight(ctx context.Context, id uuid.UUID) (*models.Flight, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Flight), args.Error(1)
}

func (m *MockBookingEngine) AdvanceStatuses(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *MockBookingEngine) ListAvailableSeats(ctx context.Context, flightID uuid.UUID, class *models.SeatClass) ([]models.Seat, error) {
	args := m.Called(ctx, flightID, class)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Seat), args.Error(1)
}

func (m *MockBookingEngine) UpdateSeat(ctx context.Context, seatID uuid.UUID, upd models.SeatUpdate) (*models.Seat, error) {
	args := m.Called(ctx, seatID, upd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Seat), args.Error(1)
}

func (m *MockBookingEngine) Book(ctx context.Context, req models.BookingRequest) (*models.BookingResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BookingResult), args.Error(1)
}

func (m *MockBookingEngine) GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticket), args.Error(1)
}

func (m *MockBookingEngine) ListTicketsByEmail(ctx context.Context, email string) ([]models.Ticket, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Ticket), args.Error(1)
}

func (m *MockBookingEngine) CancelTicket(ctx context.Context, id uuid.UUID) (*models.TicketCancellation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TicketCancellation), args.Error(1)
}

func (m *MockBookingEngine) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *MockBookingEngine) Pay(ctx context.Context, ticketID uuid.UUID, method models.PaymentMethod) (*models.PaymentResult, error) {
	args := m.Called(ctx, ticketID, method)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentResult), args.Error(1)
}

func (m *MockBookingEngine) RetryPayment(ctx context.Context, ticketID uuid.UUID) (*models.PaymentResult, error) {
	args := m.Called(ctx, ticketID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentResult), args.Error(1)
}

func (m *MockBookingEngine) GetPayment(ctx context.Context, ticketID uuid.UUID) (*models.Payment, error) {
	args := m.Called(ctx, ticketID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *MockBookingEngine) RequestRefund(ctx context.Context, ticketID uuid.UUID, reason string) (*models.Refund, error) {
	args := m.Called(ctx, ticketID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Refund), args.Error(1)
}

func (m *MockBookingEngine) DecideRefund(ctx context.Context, refundID uuid.UUID, decision models.RefundDecision, comment string) (*models.Refund, error) {
	args := m.Called(ctx, refundID, decision, comment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Refund), args.Error(1)
}

func (m *MockBookingEngine) GetRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Refund), args.Error(1)
}

func (m *MockBookingEngine) AutoApproveRefunds(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}
