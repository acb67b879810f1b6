package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/renderdeck/renderdeck/internal/app/metrics"
	"github.com/renderdeck/renderdeck/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	sendBufferSize = 16
)

// Hub fans published events out to websocket subscribers, one channel per
// user. A slow subscriber's buffer overflow drops the message rather than
// blocking the publisher.
type Hub struct {
	mu       sync.RWMutex
	clients  map[int64]map[*client]struct{}
	log      *logger.Logger
	upgrader websocket.Upgrader
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID int64
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("notify-hub")
	}
	return &Hub{
		clients: make(map[int64]map[*client]struct{}),
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients carry auth in the token, not the origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

var _ Publisher = (*Hub)(nil)

// Publish delivers the event to every live subscriber of its channel.
// Best-effort: unknown channels and full client buffers drop the event.
func (h *Hub) Publish(event Event) {
	userID, err := ParseUserChannel(event.Channel)
	if err != nil {
		h.log.WithError(err).Warn("publish to unroutable channel")
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).Warn("marshal event")
		return
	}

	h.mu.RLock()
	subscribers := make([]*client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		subscribers = append(subscribers, c)
	}
	h.mu.RUnlock()

	for _, c := range subscribers {
		select {
		case c.send <- payload:
		default:
			h.log.WithField("user_id", userID).
				WithField("event", event.Name).
				Warn("subscriber buffer full; dropping event")
		}
	}
	metrics.EventPublished(event.Name)
}

// ServeWS upgrades the request and subscribes it to the user's channel. The
// caller must have authorized userID against the authenticated subscriber.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID int64) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	h.mu.Unlock()
	metrics.ClientConnected()

	h.log.WithField("user_id", userID).Debug("subscriber connected")

	go c.writePump()
	go c.readPump()
	return nil
}

// SubscriberCount reports live subscribers on a user's channel.
func (h *Hub) SubscriberCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0)
	for _, set := range h.clients {
		for c := range set {
			clients = append(clients, c)
		}
	}
	h.clients = make(map[int64]map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if set, ok := h.clients[c.userID]; ok {
		if _, present := set[c]; present {
			delete(set, c)
			if len(set) == 0 {
				delete(h.clients, c.userID)
			}
			metrics.ClientDisconnected()
		}
	}
	h.mu.Unlock()
}

func (c *client) close() {
	c.once.Do(func() {
		c.hub.remove(c)
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Subscribers only listen; reads exist to notice disconnects and pongs.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
