// Package relay forwards live telemetry off the machine: a WebSocket hub
// for dashboards and an OSC sink for creative tools.
package relay

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/sensorlink/internal/telemetry"
)

// WriteTimeout bounds every write to a client.
const WriteTimeout = 100 * time.Millisecond

// Event is the envelope every WebSocket message uses.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Event types.
const (
	TypeReading = "telemetry/reading"
	TypeState   = "ble/state"
	TypeNotice  = "notice"
)

// ReadingPayload is a sample with its derived feedback.
type ReadingPayload struct {
	T         float64 `json:"t"`
	P         float64 `json:"p"`
	B         float64 `json:"b"`
	S         float64 `json:"s"`
	E         float64 `json:"e"`
	Reference bool    `json:"reference"`
	Timing    string  `json:"timing,omitempty"`
	Position  string  `json:"position,omitempty"`
	Score     float64 `json:"score"`
	Fraction  float64 `json:"fraction"`
	Color     string  `json:"color,omitempty"`
	Received  int64   `json:"received"`
}

// NewReadingPayload derives the payload for s.
func NewReadingPayload(s telemetry.Sample) ReadingPayload {
	p := ReadingPayload{
		T:         s.T,
		P:         s.P,
		B:         s.B,
		S:         s.S,
		E:         s.E,
		Reference: s.IsReference(),
		Received:  s.Received.UnixMilli(),
	}
	if !p.Reference {
		p.Timing = s.TimingFeedback()
		p.Position = s.PositionFeedback()
		p.Score = s.Score()
		p.Fraction = s.ErrorFraction()
		p.Color = s.TimingColor().Hex()
	}
	return p
}

// StatePayload reports the connection state.
type StatePayload struct {
	State    string `json:"state"`
	DeviceID string `json:"deviceId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NoticePayload mirrors a user-visible notice.
type NoticePayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Hub tracks WebSocket clients and broadcasts events to all of them.
type Hub struct {
	upgrader websocket.Upgrader

	// sendMu serializes broadcasts; a websocket allows one writer at a time.
	sendMu sync.Mutex

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	closed  bool
}

// NewHub creates an empty hub. Any origin may connect.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP upgrades the request and registers the client until it goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[RELAY] websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if !h.add(conn) {
		conn.Close()
		return
	}
	slog.Info("[RELAY] client connected", "remote", conn.RemoteAddr())

	// Clients only listen; reading detects when they leave.
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) add(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[conn] = true
	return true
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
		slog.Info("[RELAY] client disconnected", "remote", conn.RemoteAddr())
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends ev to every client concurrently. Clients that fail or
// stall past WriteTimeout are dropped.
func (h *Hub) Broadcast(ev Event) {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.Unlock()

	var (
		wg       sync.WaitGroup
		failedMu sync.Mutex
		failed   []*websocket.Conn
	)
	for _, conn := range clients {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()
			c.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := c.WriteJSON(ev); err != nil {
				failedMu.Lock()
				failed = append(failed, c)
				failedMu.Unlock()
			}
		}(conn)
	}
	wg.Wait()

	for _, c := range failed {
		h.remove(c)
	}
}

// Send broadcasts a telemetry sample. It implements telemetry.Sink.
func (h *Hub) Send(s telemetry.Sample) error {
	h.Broadcast(Event{Type: TypeReading, Payload: NewReadingPayload(s)})
	return nil
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*websocket.Conn]bool)
	h.mu.Unlock()

	for conn := range clients {
		conn.Close()
	}
}

var _ telemetry.Sink = (*Hub)(nil)
