package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Inbound message types from overlay clients. The overlay owns the cone
// physics, so it reports each flip's outcome back over the socket.
const (
	MessageTypeWin           = "win"
	MessageTypeFail          = "fail"
	MessageTypeUnboxFinished = "unboxfinished"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
	MessageTypeError         = "error"
)

// Message is the outbound event envelope pushed to overlay clients.
type Message struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// GameHandler receives gameplay reports from connected overlay clients.
type GameHandler interface {
	ReportResult(ctx context.Context, name string, isWin bool)
	UnboxFinished(ctx context.Context, message string)
}

// Hub maintains the set of connected overlay clients and fans events out to
// all of them. Delivery is at-most-once; clients that connect later miss
// earlier events.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message

	handler     GameHandler
	connectHook func(*Client)

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetGameHandler wires the receiver for inbound win/fail reports. Must be
// called before Run.
func (h *Hub) SetGameHandler(handler GameHandler) {
	h.handler = handler
}

// SetConnectHook registers a callback invoked for every newly registered
// client, used to push the initial leaderboard state.
func (h *Hub) SetConnectHook(hook func(*Client)) {
	h.connectHook = hook
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("overlay hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("overlay hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("overlay client registered", "client_id", client.id)
			if h.connectHook != nil {
				h.connectHook(client)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("overlay client unregistered", "client_id", client.id)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// Broadcast queues an event for delivery to every connected overlay client.
// Fire-and-forget: a full broadcast queue drops the message.
func (h *Hub) Broadcast(event string, payload interface{}) {
	message := &Message{
		Event:     event,
		Data:      payload,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "event", event)
	}
}

// broadcastMessage sends a message to all connected clients
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client's buffer is full, skip
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
