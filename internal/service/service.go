package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/events"
	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Store is the durable storage the engine runs against. Reads outside WithinTx
// take no locks and may be momentarily stale.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetFlight(ctx context.Context, id uuid.UUID) (*models.Flight, error)
	ListFlights(ctx context.Context, departingAfter time.Time) ([]models.Flight, error)
	ListAvailableSeats(ctx context.Context, flightID uuid.UUID, class *models.SeatClass) ([]models.Seat, error)
	GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	ListTicketsByEmail(ctx context.Context, email string) ([]models.Ticket, error)
	GetPaymentByTicket(ctx context.Context, ticketID uuid.UUID) (*models.Payment, error)
	GetRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	ListFlightsToAdvance(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	ListStaleRefunds(ctx context.Context, createdBefore time.Time) ([]uuid.UUID, error)
}

// Tx is one database transaction. Lock* methods hold a row lock until commit and
// return rows in ascending id order. Callers lock in the order flight, ticket,
// seat; payment and refund rows are only locked while their ticket is held.
type Tx interface {
	GetAirline(ctx context.Context, code string) (*models.Airline, error)
	GetAirport(ctx context.Context, code string) (*models.Airport, error)

	InsertFlight(ctx context.Context, f *models.Flight) error
	InsertPricing(ctx context.Context, p []models.Pricing) error
	InsertSeats(ctx context.Context, seats []models.Seat) error
	LockFlight(ctx context.Context, id uuid.UUID) (*models.Flight, error)
	UpdateFlight(ctx context.Context, f *models.Flight) error
	GetPricing(ctx context.Context, flightID uuid.UUID, class models.SeatClass) (*models.Pricing, error)

	GetSeats(ctx context.Context, ids []uuid.UUID) ([]models.Seat, error)
	LockSeats(ctx context.Context, ids []uuid.UUID) ([]models.Seat, error)
	UpdateSeat(ctx context.Context, s *models.Seat) error
	SeatNumberTaken(ctx context.Context, flightID uuid.UUID, number string, except uuid.UUID) (bool, error)
	// SetSeatsBooked flips the flag and returns how many seats actually changed.
	SetSeatsBooked(ctx context.Context, ids []uuid.UUID, booked bool) (int, error)
	ReleaseFlightSeats(ctx context.Context, flightID uuid.UUID) (int, error)

	// UpsertPassenger returns the stored passenger with p's identity, inserting p
	// if there is none.
	UpsertPassenger(ctx context.Context, p *models.Passenger) (*models.Passenger, error)
	InsertPassenger(ctx context.Context, p *models.Passenger) error

	InsertTicket(ctx context.Context, t *models.Ticket) error
	GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	LockTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	UpdateTicket(ctx context.Context, t *models.Ticket) error
	LockFlightTickets(ctx context.Context, flightID uuid.UUID, statuses ...models.TicketStatus) ([]models.Ticket, error)
	ExpiredHoldFlights(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	LockExpiredHolds(ctx context.Context, now time.Time, flightIDs []uuid.UUID) ([]models.Ticket, error)

	InsertPayment(ctx context.Context, p *models.Payment) error
	LockPayment(ctx context.Context, ticketID uuid.UUID) (*models.Payment, error)
	UpdatePayment(ctx context.Context, p *models.Payment) error

	InsertRefund(ctx context.Context, r *models.Refund) error
	GetRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	LockRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	LockPendingRefund(ctx context.Context, ticketID uuid.UUID) (*models.Refund, error)
	UpdateRefund(ctx context.Context, r *models.Refund) error
}

// BookingEngine defines the operations exposed to the HTTP layer and schedulers
type BookingEngine interface {
	CreateFlight(ctx context.Context, req models.CreateFlightRequest) (*models.Flight, error)
	GetFlight(ctx context.Context, id uuid.UUID) (*models.Flight, error)
	ListFlights(ctx context.Context) ([]models.Flight, error)
	CancelFlight(ctx context.Context, id uuid.UUID) (*models.CancellationSummary, error)
	RescheduleCanceledFlight(ctx context.Context, id uuid.UUID, req models.RescheduleRequest) (*models.Flight, error)
	DelayFlight(ctx context.Context, id uuid.UUID, req models.DelayRequest) (*models.Flight, error)
	ResumeFlight(ctx context.Context, id uuid.UUID) (*models.Flight, error)
	AdvanceStatuses(ctx context.Context, now time.Time) (int, error)

	ListAvailableSeats(ctx context.Context, flightID uuid.UUID, class *models.SeatClass) ([]models.Seat, error)
	UpdateSeat(ctx context.Context, seatID uuid.UUID, upd models.SeatUpdate) (*models.Seat, error)

	Book(ctx context.Context, req models.BookingRequest) (*models.BookingResult, error)
	GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	ListTicketsByEmail(ctx context.Context, email string) ([]models.Ticket, error)
	CancelTicket(ctx context.Context, id uuid.UUID) (*models.TicketCancellation, error)
	ExpirePending(ctx context.Context, now time.Time) (int, error)

	Pay(ctx context.Context, ticketID uuid.UUID, method models.PaymentMethod) (*models.PaymentResult, error)
	RetryPayment(ctx context.Context, ticketID uuid.UUID) (*models.PaymentResult, error)
	GetPayment(ctx context.Context, ticketID uuid.UUID) (*models.Payment, error)

	RequestRefund(ctx context.Context, ticketID uuid.UUID, reason string) (*models.Refund, error)
	DecideRefund(ctx context.Context, refundID uuid.UUID, decision models.RefundDecision, comment string) (*models.Refund, error)
	GetRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	AutoApproveRefunds(ctx context.Context, now time.Time) (int, error)
}

// Engine implements BookingEngine on top of a Store
type Engine struct {
	store    Store
	policy   Policy
	clock    clockwork.Clock
	log      *logrus.Logger
	events   events.Publisher
	gateway  PaymentGateway
	validate *validator.Validate

	rngMu sync.Mutex
	rng   *rand.Rand
}

var _ BookingEngine = (*Engine)(nil)

// Option configures an Engine
type Option func(*Engine)

func WithPolicy(p Policy) Option { return func(e *Engine) { e.policy = p } }

func WithClock(c clockwork.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithLogger(l *logrus.Logger) Option { return func(e *Engine) { e.log = l } }

func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.events = p } }

func WithGateway(g PaymentGateway) Option { return func(e *Engine) { e.gateway = g } }

// WithRand sets the source used to draw seat prices
func WithRand(r *rand.Rand) Option { return func(e *Engine) { e.rng = r } }

// NewEngine creates a new booking engine
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		policy:   DefaultPolicy(),
		clock:    clockwork.NewRealClock(),
		log:      logrus.StandardLogger(),
		events:   events.Noop{},
		gateway:  StubGateway{},
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(e.clock.Now().UnixNano()))
	}
	return e
}

// Policy returns the policy the engine enforces
func (e *Engine) Policy() Policy {
	return e.policy
}

func (e *Engine) publish(ctx context.Context, evt events.Event) {
	if err := e.events.Publish(ctx, evt); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"event":     evt.Type,
			"flight_id": evt.FlightID,
		}).Warn("failed to publish event")
	}
}

// drawPrice returns a uniform price in [base, ceiling] rounded to cents
func (e *Engine) drawPrice(p models.Pricing) float64 {
	e.rngMu.Lock()
	f := e.rng.Float64()
	e.rngMu.Unlock()

	price := roundCents(p.BasePrice + f*(p.CeilingPrice-p.BasePrice))
	if price > p.CeilingPrice {
		price = p.CeilingPrice
	}
	if price < p.BasePrice {
		price = p.BasePrice
	}
	return price
}

func (e *Engine) validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return newError(ErrValidation, "field %s failed on %s", f.Namespace(), f.Tag())
	}
	return newError(ErrValidation, "%v", err)
}

// notFound turns a storage miss into a typed error naming the entity
func notFound(err error, entity string, id any) error {
	if errors.Is(err, ErrNotFound) {
		return newError(ErrNotFound, "%s %v not found", entity, id)
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func sortIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// adjustAvailable moves the counter and refuses to leave [0, total]
func adjustAvailable(f *models.Flight, delta int) error {
	next := f.AvailableSeats + delta
	if next < 0 || next > f.TotalSeats {
		return fmt.Errorf("available seats of flight %s would become %d of %d", f.ID, next, f.TotalSeats)
	}
	f.AvailableSeats = next
	return nil
}

// departed reports whether the flight has left or is past its departure time
func departed(f *models.Flight, now time.Time) bool {
	if f.Status == models.FlightStatusDeparted || f.Status == models.FlightStatusArrived {
		return true
	}
	return !now.Before(f.DepartureTime)
}

func ptr[T any](v T) *T { return &v }
