package events

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nahidhasan98/wacrm/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // API key middleware already guards the route
	},
}

// Hub streams bus events to websocket clients
type Hub struct {
	bus *Bus
	log *logger.Logger

	mu      sync.Mutex
	clients map[*client]bool
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	sub    *Subscription
	cancel func()
}

// NewHub creates a hub fed by bus
func NewHub(bus *Bus, log *logger.Logger) *Hub {
	return &Hub{
		bus:     bus,
		log:     log,
		clients: make(map[*client]bool),
	}
}

// Clients returns the number of connected websocket clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWs upgrades the request. The optional "types" query parameter is a comma
// separated list of event kinds to receive.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	var kinds []Kind
	for _, k := range strings.Split(r.URL.Query().Get("types"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds = append(kinds, Kind(k))
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("WebSocket upgrade failed", err)
		return
	}

	sub, cancel := h.bus.Subscribe(sendBuffer, kinds...)
	c := &client{hub: h, conn: conn, sub: sub, cancel: cancel}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.log.Debug("WebSocket client registered")

	go c.writePump()
	go c.readPump()
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.cancel()
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.log.Debug("WebSocket client unregistered")
	}
}

// readPump only watches for the peer going away; clients do not send commands
func (c *client) readPump() {
	defer func() {
		c.cancel()
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.sub.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			payload, err := json.Marshal(evt)
			if err != nil {
				c.hub.log.Error("Failed to marshal event", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
