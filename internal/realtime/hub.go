package realtime

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/hrdash/internal/events"
	"github.com/charlesng35/hrdash/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	defaultBufferSize = 64
)

// Hub pushes notification frames to connected dashboard clients. Connections
// are receive-only: anything a client writes is discarded.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*connection]struct{}
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub constructs a realtime hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*connection]struct{}),
		log:     logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
}

// Serve upgrades the HTTP connection and registers it for userID. It blocks
// until the connection ends.
func (h *Hub) Serve(userID string, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	client := newConnection(h, socket, userID)
	h.register(client)

	go client.writeLoop()
	client.readLoop()
}

// Publish delivers a frame to every connection held by userID.
func (h *Hub) Publish(userID string, frame events.Envelope) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[userID] {
		h.enqueue(client, frame)
	}
}

// PublishEvent encodes ev and delivers it to userID.
func (h *Hub) PublishEvent(userID string, ev events.Event) error {
	frame, err := events.Encode(ev)
	if err != nil {
		return err
	}
	h.Publish(userID, frame)
	return nil
}

// Broadcast delivers a frame to every connected client.
func (h *Hub) Broadcast(frame events.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, clients := range h.clients {
		for client := range clients {
			h.enqueue(client, frame)
		}
	}
}

// Connections returns the number of live connections for userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// TotalConnections returns the number of live connections across all users.
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

// Disconnect closes every connection held by userID.
func (h *Hub) Disconnect(userID string) {
	h.mu.RLock()
	targets := make([]*connection, 0, len(h.clients[userID]))
	for client := range h.clients[userID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.close()
	}
}

// CloseAll closes every live connection.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var targets []*connection
	for _, clients := range h.clients {
		for client := range clients {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.close()
	}
}

func (h *Hub) register(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.userID] == nil {
		h.clients[client.userID] = make(map[*connection]struct{})
	}
	h.clients[client.userID][client] = struct{}{}
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients := h.clients[client.userID]; clients != nil {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.userID)
		}
	}
}

// enqueue must be called with h.mu held for reading.
func (h *Hub) enqueue(client *connection, frame events.Envelope) {
	select {
	case client.send <- frame:
	case <-client.done:
	default:
		h.log.Warn("dropping backpressure client", zap.String("user_id", client.userID))
		go client.close()
	}
}

type connection struct {
	hub    *Hub
	socket *websocket.Conn
	userID string
	send   chan events.Envelope
	done   chan struct{}
	once   sync.Once
}

func newConnection(hub *Hub, socket *websocket.Conn, userID string) *connection {
	return &connection{
		hub:    hub,
		socket: socket,
		userID: userID,
		send:   make(chan events.Envelope, defaultBufferSize),
		done:   make(chan struct{}),
	}
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.socket.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected close", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case frame := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		close(c.done)
		// Give the write loop a moment to send the close frame before the socket goes away.
		time.AfterFunc(100*time.Millisecond, func() { _ = c.socket.Close() })
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
