package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"stratoscope/pkg/model"
)

const (
	// writeWait bounds a single frame write to a dashboard.
	writeWait = 10 * time.Second
	// pongWait is how long a silent peer is tolerated before the read loop
	// gives up on it.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait so the peer always has a
	// ping to answer.
	pingPeriod = 30 * time.Second
	// sendBufferSize is the per-client outbound queue. A client that falls
	// this far behind is dropped rather than allowed to stall broadcasts.
	sendBufferSize = 16
)

// WSGauge moves the connected-clients gauge; the observability collector
// satisfies it.
type WSGauge interface {
	AddWSClients(delta int)
}

// wsEnvelope is the frame pushed to dashboards. Type selects which of the
// optional payloads is set.
type wsEnvelope struct {
	Type       string            `json:"type"`
	Status     *model.FeedStatus `json:"status,omitempty"`
	Generation uint64            `json:"generation,omitempty"`
	Predicted  int               `json:"predicted,omitempty"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans feed status and prediction-sweep events out to connected
// dashboards. It implements core.SweepPublisher.
type Hub struct {
	upgrader websocket.Upgrader
	gauge    WSGauge
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*wsClient
}

// NewHub creates a new Hub. gauge may be nil.
func NewHub(gauge WSGauge) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{EnableCompression: false},
		gauge:    gauge,
		logger:   slog.With("component", "ws"),
		clients:  make(map[string]*wsClient),
	}
}

// HandleWS upgrades the connection and registers the dashboard client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error to the client.
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()

	if h.gauge != nil {
		h.gauge.AddWSClients(1)
	}
	h.logger.Info("Dashboard connected", "client", c.id, "clients", count)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// BroadcastStatus pushes the feed status to every dashboard.
func (h *Hub) BroadcastStatus(st *model.FeedStatus) {
	msg, err := json.Marshal(wsEnvelope{Type: "status", Status: st})
	if err != nil {
		h.logger.Error("Failed to encode status frame", "error", err)
		return
	}
	h.broadcast(msg)
}

// PublishSweep implements core.SweepPublisher.
func (h *Hub) PublishSweep(generation uint64, predicted int) {
	msg, err := json.Marshal(wsEnvelope{Type: "prediction_sweep", Generation: generation, Predicted: predicted})
	if err != nil {
		h.logger.Error("Failed to encode sweep frame", "error", err)
		return
	}
	h.broadcast(msg)
}

// ClientCount returns the number of connected dashboards.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close drops every connected client. Called during server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.drop(c, "server shutdown")
	}
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.Lock()
	var slow []*wsClient
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	// A full queue means the client stopped reading. Drop it so one stuck
	// dashboard cannot hold frames back from the rest.
	for _, c := range slow {
		h.drop(c, "slow consumer")
	}
}

// drop removes the client and closes its channel and connection. The map
// check makes concurrent callers converge on a single close.
func (h *Hub) drop(c *wsClient, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	if ok {
		delete(h.clients, c.id)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}

	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if h.gauge != nil {
		h.gauge.AddWSClients(-1)
	}
	h.logger.Info("Dashboard disconnected", "client", c.id, "reason", reason, "clients", count)
}

func (h *Hub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// drop already closed the channel; say goodbye politely.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.drop(c, "write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c, "ping failed")
				return
			}
		}
	}
}

// readLoop discards inbound frames; dashboards only listen. Its job is to
// notice the peer going away.
func (h *Hub) readLoop(c *wsClient) {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c, "connection closed")
			return
		}
	}
}
