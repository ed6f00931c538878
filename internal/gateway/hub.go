package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/dohr-michael/outpost/internal/events"
)

// client is one connected WebSocket consumer. A non-empty sessionID
// narrows the stream to events carrying that session.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	hub       *hub
	sessionID string
}

// hub fans bus events out to WebSocket clients. The stream is one-way:
// clients receive lifecycle events, commands go through the HTTP API.
type hub struct {
	mu          sync.RWMutex
	clients     map[*client]struct{}
	unsubscribe func()
}

func newHub(bus *events.Bus) *hub {
	h := &hub{clients: make(map[*client]struct{})}
	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		data, err := json.Marshal(e)
		if err != nil {
			slog.Error("marshal event for ws", "error", err)
			return
		}
		h.broadcast(e.SessionID, data)
	})
	return h
}

func (h *hub) broadcast(sessionID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.sessionID != "" && c.sessionID != sessionID {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client too slow, skip this event.
		}
	}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "clients", len(h.clients))
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Info("ws client disconnected", "clients", len(h.clients))
	}
}

func (h *hub) close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, c)
		close(c.send)
	}
}

// serveWS upgrades the request and streams events until the client
// disconnects.
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local tool, any origin is fine
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	c := &client{
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       h,
		sessionID: r.URL.Query().Get("session"),
	}
	h.register(c)

	ctx := r.Context()
	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *client) writePump(ctx context.Context) {
	for data := range c.send {
		if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("ws write error", "error", err)
			return
		}
	}
}

// readPump drains the connection so pings and closes are processed;
// inbound payloads are ignored.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}
	}
}
