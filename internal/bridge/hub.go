// internal/bridge/hub.go
package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/api/schemas"
)

// Websocket timings.
const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageSize  = 4096
	sendChannelSize = 64
)

// EventNotification is the only event type pushed to the extension.
const EventNotification = "notification"

// ErrNoListener is returned by Notify when no extension is connected.
var ErrNoListener = errors.New("no extension connected")

// Event is a message pushed over the websocket.
type Event struct {
	Type      string               `json:"type"`
	Data      schemas.Notification `json:"data"`
	Timestamp time.Time            `json:"timestamp"`
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Event
}

// Hub fans notifications out to every connected extension instance.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewHub creates a Hub accepting connections from the given origins.
func NewHub(origins *OriginPolicy, logger *zap.Logger) *Hub {
	h := &Hub{logger: logger.Named("ws_hub"), clients: make(map[*wsClient]struct{})}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return origins.Allowed(r.Header.Get("Origin")) },
	}
	return h
}

// Notify implements lifecycle.Notifier. It only queues the event; a slow client drops it.
func (h *Hub) Notify(_ context.Context, n schemas.Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return ErrNoListener
	}
	ev := Event{Type: EventNotification, Data: n, Timestamp: time.Now().UTC()}
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("Websocket send buffer full, dropping notification", zap.Int("tab_id", n.TabID))
		}
	}
	return nil
}

// Clients returns the number of connected extension instances.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWS upgrades the connection and pumps events to it until either side closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection to websocket", zap.Error(err))
		return
	}
	c := &wsClient{hub: h, conn: conn, send: make(chan Event, sendChannelSize)}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.logger.Info("Extension connected", zap.String("remote_addr", r.RemoteAddr))

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump()
	h.unregister(c)
	<-done
	h.logger.Info("Extension disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// readPump discards inbound frames; it exists to process pongs and notice the close.
func (c *wsClient) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				c.hub.logger.Debug("Websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
