// Package hub provides a websocket broadcast hub using the channel-based
// fan-out pattern: one goroutine owns the client set, slow clients are
// dropped rather than allowed to stall the rest.
package hub

import (
	"sync"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/visagelabs/go-visage/internal/log"
)

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	name   string
	logger zerolog.Logger

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	running bool
}

// New creates a hub. Call Run in a goroutine before registering clients.
func New(name string) *Hub {
	return &Hub{
		name:       name,
		logger:     log.With("hub"),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It owns the client set exclusively.
func (h *Hub) Run() {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.running = false
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Str("hub", h.name).Int("clients", count).Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Str("hub", h.name).Int("clients", count).Msg("client disconnected")

		case payload := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					// Client buffer full: it is too slow, drop it.
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn().Str("hub", h.name).Msg("dropped slow client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down and disconnects every client.
func (h *Hub) Stop() {
	h.mu.Lock()
	running := h.running
	h.mu.Unlock()
	if running {
		close(h.done)
	}
}

// Broadcast queues a payload for every connected client. Dropped when the
// broadcast channel is full.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn().Str("hub", h.name).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastJSON encodes and broadcasts a JSON message.
func (h *Hub) BroadcastJSON(v any) error {
	payload, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(payload)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
