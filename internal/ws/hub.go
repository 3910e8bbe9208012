package ws

import (
	"encoding/json"
	"time"
)

// Event describes a deployment lifecycle change pushed to dashboard clients.
type Event struct {
	Type         string    `json:"type"`
	DeploymentID string    `json:"deploymentId"`
	Name         string    `json:"name,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Event types.
const (
	EventCreated = "deployment.created"
	EventRenewed = "deployment.renewed"
	EventDeleted = "deployment.deleted"
	EventCloned  = "deployment.cloned"
	EventExpired = "deployment.expired"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans deployment events out to connected subscribers.
type Hub struct {
	clients   map[Subscriber]struct{}
	register  chan Subscriber
	unreg     chan Subscriber
	broadcast chan []byte
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[Subscriber]struct{}),
		register:  make(chan Subscriber),
		unreg:     make(chan Subscriber),
		broadcast: make(chan []byte),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unreg:
			delete(h.clients, client)
		case payload := <-h.broadcast:
			for c := range h.clients {
				if err := c.Send(payload); err != nil {
					c.Close()
					delete(h.clients, c)
				}
			}
		}
	}
}

// Register adds a client to the event stream.
func (h *Hub) Register(client Subscriber) {
	h.register <- client
}

// Unregister removes a client.
func (h *Hub) Unregister(client Subscriber) {
	h.unreg <- client
}

// Publish broadcasts a lifecycle event to all clients. Nil hubs are a no-op
// so services can run without a dashboard feed attached.
func (h *Hub) Publish(eventType, deploymentID, name string) {
	if h == nil {
		return
	}
	payload, err := json.Marshal(Event{
		Type:         eventType,
		DeploymentID: deploymentID,
		Name:         name,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		return
	}
	h.broadcast <- payload
}
