package services

import (
	"encoding/json"
	"sync"
	"time"

	"qbanksync/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	SyncEventCopyCreated   = "copy_created"
	SyncEventCopyDeleted   = "copy_deleted"
	SyncEventLedgerPurged  = "ledger_purged"
	SyncEventReconciled    = "reconciled"
	SyncEventTagsCorrected = "tags_corrected"
)

// Publisher receives sync events. The hub implements it; a nil publisher in
// the sync service discards events.
type Publisher interface {
	Publish(eventType string, payload interface{})
}

// Hub fans sync events out to connected websocket clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	log        *logger.Logger
}

type Client struct {
	hub    *Hub
	id     string
	socket *websocket.Conn
	send   chan []byte
	// contextID limits delivery to one context; 0 receives everything.
	contextID uint
}

type Message struct {
	Type    string      `json:"type"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload"`
}

type contextScoped interface {
	EventContextID() uint
}

type envelope struct {
	data      []byte
	contextID uint
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log.With("component", "Hub"),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.log.Debug("Client registered", "client_id", client.id, "context_id", client.contextID, "clients", total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.log.Debug("Client unregistered", "client_id", client.id, "clients", total)

		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

func (h *Hub) deliver(env envelope) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		if client.contextID != 0 && env.contextID != 0 && client.contextID != env.contextID {
			continue
		}
		select {
		case client.send <- env.data:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// Publish queues an event for every interested client. It never blocks the
// caller; events are dropped when the hub is backed up.
func (h *Hub) Publish(eventType string, payload interface{}) {
	data, err := json.Marshal(Message{Type: eventType, Time: time.Now().UTC(), Payload: payload})
	if err != nil {
		h.log.Warn("Failed to marshal sync event", "type", eventType, "error", err)
		return
	}
	env := envelope{data: data}
	if scoped, ok := payload.(contextScoped); ok {
		env.contextID = scoped.EventContextID()
	}
	select {
	case h.broadcast <- env:
	default:
		h.log.Warn("Hub backed up, dropping sync event", "type", eventType)
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) RegisterClient(conn *websocket.Conn, contextID uint) *Client {
	client := &Client{
		hub:       h,
		id:        uuid.NewString(),
		socket:    conn,
		send:      make(chan []byte, 256),
		contextID: contextID,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()

	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("WebSocket read error", "client_id", c.id, "error", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	defer c.socket.Close()

	for message := range c.send {
		w, err := c.socket.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		if _, err := w.Write(message); err != nil {
			c.hub.log.Warn("WebSocket write failed", "client_id", c.id, "error", err)
			return
		}
		if err := w.Close(); err != nil {
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "ping":
		data, err := json.Marshal(Message{Type: "pong", Time: time.Now().UTC(), Payload: "pong"})
		if err != nil {
			c.hub.log.Warn("Failed to marshal pong", "client_id", c.id, "error", err)
			return
		}
		// The hub may have closed send already.
		defer func() { recover() }()
		select {
		case c.send <- data:
		default:
		}
	default:
		c.hub.log.Debug("Ignoring client message", "client_id", c.id, "type", msg.Type)
	}
}
