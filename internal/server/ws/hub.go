// Package ws bridges the Redis event channel to WebSocket clients so UIs can
// follow settlement activity live.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/updownlabs/updown/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	types map[domain.EventType]bool // event-type filter; empty means all
	mu    sync.RWMutex
}

// filterMsg is the JSON message a client sends to narrow the event types it
// receives, e.g. {"action":"filter","types":["market_resolved"]}.
type filterMsg struct {
	Action string   `json:"action"`
	Types  []string `json:"types"`
}

// Hub manages connected WebSocket clients and fans settlement events from
// the Redis signal bus out to them.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	channel    string
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

// NewHub creates a hub that subscribes to the given Pub/Sub channel and
// relays every event payload to connected clients.
func NewHub(bus domain.SignalBus, channel string, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		channel:    channel,
		logger:     logger,
		startedAt:  time.Now().UTC(),
	}
}

// Run starts the hub's main event loop. It should be called in a goroutine.
// The loop exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.subscribeEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case data := <-h.broadcast:
			typ := eventTypeOf(data)
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(typ) {
					continue
				}
				select {
				case c.send <- data:
				default:
					// Client's send buffer is full; drop the message.
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// eventTypeOf peeks at the payload's type field so the hub can apply
// per-client filters without fully decoding the event.
func eventTypeOf(data []byte) domain.EventType {
	var head struct {
		Type domain.EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	return head.Type
}

// subscribeEvents subscribes to the event channel and forwards received
// payloads to the hub's broadcast channel.
func (h *Hub) subscribeEvents(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", h.channel),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ws: subscribed to channel", slog.String("channel", h.channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", h.channel),
				)
				return
			}
			h.broadcast <- data
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		types: make(map[domain.EventType]bool),
	}

	h.register <- c
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection. It handles filter
// requests (JSON text frames) from the client.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg filterMsg
		if jsonErr := json.Unmarshal(message, &msg); jsonErr == nil && msg.Action == "filter" {
			c.setFilter(msg.Types)
		}
	}
}

// setFilter replaces the client's event-type filter. An empty list clears
// the filter so the client receives everything again.
func (c *client) setFilter(types []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.types = make(map[domain.EventType]bool, len(types))
	for _, t := range types {
		c.types[domain.EventType(t)] = true
	}
}

// wants reports whether the client's filter admits the given event type.
func (c *client) wants(typ domain.EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types) == 0 || c.types[typ]
}

// sendHello pushes a small JSON envelope so clients can immediately mark the
// connection as healthy even before any settlement event flows.
func (c *client) sendHello() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(map[string]any{
		"type": "hello",
		"payload": map[string]any{
			"connected":      true,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// writePump pumps messages from the hub to the WebSocket connection. Events
// go out as JSON text frames, with periodic ping frames for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
