package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ridelink/ridelink-backend/internal/models"
	"github.com/ridelink/ridelink-backend/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Client represents one connected websocket session.
type Client struct {
	ID   uint
	Role models.ActorRole
	Conn *websocket.Conn
	Send chan []byte
	Hub  *Hub

	mu       sync.Mutex
	channels map[string]struct{}
}

// Hub maintains the set of active clients and their channel subscriptions.
// Publishing holds the subscription lock per call, so events for one channel
// enter each subscriber's send queue in publish order.
type Hub struct {
	register   chan *Client
	unregister chan *Client

	mu            sync.RWMutex
	clients       map[*Client]bool
	subscriptions map[string]map[*Client]struct{}

	logger *zap.SugaredLogger
}

// NewHub creates a new hub. Run must be started on its own goroutine.
func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]struct{}),
		logger:        logger,
	}
}

// Run owns client registration for the life of the process.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.ConnectedClients.Inc()
			h.logger.Infow("client connected", "id", client.ID, "role", client.Role)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.mu.Lock()
				for ch := range client.channels {
					h.dropSubscriptionLocked(ch, client)
				}
				client.mu.Unlock()
				close(client.Send)
			}
			h.mu.Unlock()
			observability.ConnectedClients.Dec()
			h.logger.Infow("client disconnected", "id", client.ID, "role", client.Role)
		}
	}
}

// Subscribe attaches the client to a named channel.
func (h *Hub) Subscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subscriptions[channel]
	if !ok {
		subs = make(map[*Client]struct{})
		h.subscriptions[channel] = subs
	}
	subs[c] = struct{}{}
	c.mu.Lock()
	c.channels[channel] = struct{}{}
	c.mu.Unlock()
}

// Unsubscribe detaches the client from a named channel.
func (h *Hub) Unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropSubscriptionLocked(channel, c)
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
}

func (h *Hub) dropSubscriptionLocked(channel string, c *Client) {
	if subs, ok := h.subscriptions[channel]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subscriptions, channel)
		}
	}
}

// Publish delivers an event to every subscriber of the channel. Slow clients
// whose send queue is full are skipped rather than blocking the fabric.
func (h *Hub) Publish(channel string, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Errorw("marshal event", "type", e.Type, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	observability.EventsPublished.WithLabelValues(e.Type).Inc()
	for client := range h.subscriptions[channel] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warnw("send queue full, dropping event", "client", client.ID, "channel", channel)
		}
	}
}

// SubscriberCount reports how many clients listen on a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[channel])
}

// HandleWebSocket upgrades the request and wires the client into the hub.
// Every client is auto-subscribed to its own identity channel; ride channels
// are joined with subscribe control messages.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, userID uint, role models.ActorRole) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade", "err", err)
		return
	}

	client := &Client{
		ID:       userID,
		Role:     role,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		Hub:      h,
		channels: make(map[string]struct{}),
	}

	h.register <- client
	if role == models.RoleDriver {
		h.Subscribe(client, DriverChannel(userID))
	} else {
		h.Subscribe(client, UserChannel(userID))
	}

	go client.writePump()
	go client.readPump()
}

// controlMessage is what clients send upstream: channel joins and leaves.
type controlMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// readPump pumps control messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warnw("websocket read", "client", c.ID, "err", err)
			}
			break
		}

		var msg controlMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.Hub.logger.Warnw("bad control message", "client", c.ID, "err", err)
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.Hub.Subscribe(c, msg.Channel)
		case "unsubscribe":
			c.Hub.Unsubscribe(c, msg.Channel)
		}
	}
}

// writePump pumps queued events to the websocket connection.
func (c *Client) writePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.Hub.logger.Warnw("websocket write", "client", c.ID, "err", err)
			return
		}
	}
	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}
