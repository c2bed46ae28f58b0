package ws

import (
	"context"
	"encoding/json"

	"drainwatch/internal/events"
	"drainwatch/internal/logger"
	"drainwatch/internal/metrics"
)

// Hub maintains the set of connected dashboard clients and fans pipeline
// events out to all of them. It implements events.Publisher, so the ingest
// pipeline and the alert manager push through the same interface they use
// for Kafka.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
}

// NewHub creates an empty hub. Run must be started before clients attach.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run owns the client set until ctx is cancelled. All map access happens on
// this goroutine.
func (h *Hub) Run(ctx context.Context) {
	log := logger.WithComponent("ws")
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			metrics.WebSocketClients.Set(0)
			return

		case client := <-h.register:
			h.clients[client] = true
			metrics.WebSocketClients.Inc()
			log.Debug().Str("remote", client.conn.RemoteAddr().String()).Msg("client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.WebSocketClients.Dec()
				log.Debug().Str("remote", client.conn.RemoteAddr().String()).Msg("client disconnected")
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop it rather than stall the hub.
					delete(h.clients, client)
					close(client.send)
					metrics.WebSocketClients.Dec()
					log.Warn().Str("remote", client.conn.RemoteAddr().String()).Msg("client send buffer full, dropping")
				}
			}
		}
	}
}

// Publish implements events.Publisher by broadcasting the event as JSON.
func (h *Hub) Publish(ctx context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
