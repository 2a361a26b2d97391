// Package live pushes attendance events to connected dashboards over
// WebSocket.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soc-club/presensi/internal/attendance"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// TypeInit is the type of the first message on a connection. Its payload is
// today's records.
const TypeInit = "attendance:init"

// Message is the JSON frame sent to clients.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub fans messages out to registered clients. A client whose buffer is full
// is disconnected.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: map[*Client]struct{}{}}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Notify implements attendance.Notifier.
func (h *Hub) Notify(ctx context.Context, e attendance.Event) {
	h.Broadcast(ctx, Message{Type: e.Type, Payload: e.Record})
}

// Broadcast sends m to every client without blocking.
func (h *Hub) Broadcast(ctx context.Context, m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		slog.ErrorContext(ctx, "live: failed to marshal", "type", m.Type, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.WarnContext(ctx, "live: dropping slow client", "remote", c.remote)
			h.removeLocked(c)
		}
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Client is one WebSocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

// Serve registers conn, sends initial first, and pumps messages until the
// connection closes or ctx is done. It closes conn.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, initial *Message) {
	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), remote: conn.RemoteAddr().String()}
	if initial != nil {
		if data, err := json.Marshal(initial); err == nil {
			c.send <- data
		}
	}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	slog.InfoContext(ctx, "live: client connected", "remote", c.remote)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump(ctx)
	}()
	c.readPump()
	h.unregister(c)
	<-done
	slog.InfoContext(ctx, "live: client disconnected", "remote", c.remote)
}

// readPump discards client frames; it exists to process control frames and
// notice disconnects.
func (c *Client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("live: read error", "remote", c.remote, "err", err)
			}
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}
