package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/events"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeSeatsUpdated   MessageType = "seats_updated"
	MessageTypeFlightStatus   MessageType = "flight_status"
	MessageTypeFlightCanceled MessageType = "flight_canceled"
)

// Seat statuses sent to clients
const (
	SeatAvailable = "available"
	SeatHeld      = "held"
	SeatBooked    = "booked"
	SeatChanged   = "changed"
)

// ErrQueueFull is returned by Publish when the broadcast queue is saturated
var ErrQueueFull = errors.New("websocket broadcast queue full")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

// SeatUpdate represents a seat status change
type SeatUpdate struct {
	SeatID string `json:"seatId"`
	Status string `json:"status"`
}

// Message represents a WebSocket message
type Message struct {
	Type      MessageType  `json:"type"`
	FlightID  string       `json:"flightId"`
	Seats     []SeatUpdate `json:"seats,omitempty"`
	Status    string       `json:"status,omitempty"`
	Event     events.Type  `json:"event"`
	Timestamp int64        `json:"timestamp"`
}

// Client represents a WebSocket client connection
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	flightID uuid.UUID
}

// Hub manages WebSocket connections per flight. It is an events.Publisher:
// every domain event touching seats is turned into a message for the
// clients watching that flight.
type Hub struct {
	clients    map[uuid.UUID]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
	mu         sync.RWMutex

	clock    clockwork.Clock
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

var _ events.Publisher = (*Hub)(nil)

// NewHub creates a new Hub
func NewHub(log *logrus.Logger, clock clockwork.Clock) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		done:       make(chan struct{}),
		clock:      clock,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the hub's main loop and returns when ctx is done, closing every client
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for flightID, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
				delete(h.clients, flightID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.flightID] == nil {
				h.clients[client.flightID] = make(map[*Client]bool)
			}
			h.clients[client.flightID][client] = true
			total := len(h.clients[client.flightID])
			h.mu.Unlock()
			h.log.WithFields(logrus.Fields{"flight_id": client.flightID, "count": total}).Debug("websocket client registered")

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[client.flightID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.flightID)
	}
	h.log.WithFields(logrus.Fields{"flight_id": client.flightID, "count": len(clients)}).Debug("websocket client unregistered")
}

func (h *Hub) deliver(message *Message) {
	flightID, err := uuid.Parse(message.FlightID)
	if err != nil {
		h.log.WithField("flight_id", message.FlightID).Warn("invalid flight id in broadcast")
		return
	}
	data, err := json.Marshal(message)
	if err != nil {
		h.log.WithError(err).Warn("failed to marshal websocket message")
		return
	}

	h.mu.RLock()
	var slow []*Client
	for client := range h.clients[flightID] {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.remove(client)
	}
}

// Publish turns a domain event into a seat map message. Events that do not
// change what a seat map shows are ignored.
func (h *Hub) Publish(_ context.Context, e events.Event) error {
	msg := messageFor(e, h.clock.Now())
	if msg == nil {
		return nil
	}
	select {
	case h.broadcast <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func messageFor(e events.Event, now time.Time) *Message {
	msg := &Message{
		Type:      MessageTypeSeatsUpdated,
		FlightID:  e.FlightID.String(),
		Event:     e.Type,
		Timestamp: now.UnixMilli(),
	}

	status := ""
	switch e.Type {
	case events.BookingHeld:
		status = SeatHeld
	case events.TicketConfirmed:
		status = SeatBooked
	case events.TicketCancelled, events.TicketsExpired:
		status = SeatAvailable
	case events.RefundDecided:
		if len(e.SeatIDs) == 0 {
			return nil
		}
		status = SeatAvailable
	case events.SeatUpdated:
		status = SeatChanged
	case events.FlightCanceled:
		msg.Type = MessageTypeFlightCanceled
		msg.Status = e.Status
		return msg
	case events.FlightStatusChanged, events.FlightRescheduled:
		msg.Type = MessageTypeFlightStatus
		msg.Status = e.Status
		return msg
	default:
		return nil
	}

	if len(e.SeatIDs) == 0 {
		return nil
	}
	msg.Seats = make([]SeatUpdate, len(e.SeatIDs))
	for i, id := range e.SeatIDs {
		msg.Seats[i] = SeatUpdate{SeatID: id.String(), Status: status}
	}
	return msg
}

// GetClientCount returns the number of clients watching a flight
func (h *Hub) GetClientCount(flightID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[flightID])
}

// HandleWebSocket upgrades a request on /flights/{flightId}/ws and streams
// that flight's seat updates until the client goes away
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	flightID, err := uuid.Parse(mux.Vars(r)["flightId"])
	if err != nil {
		http.Error(w, "invalid flight ID", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		flightID: flightID,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	client.readPump()
}

// readPump drains client frames so control messages are processed, and
// unregisters the client when the connection closes
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
