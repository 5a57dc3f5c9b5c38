// Package websocket streams sync status transitions to dashboard
// clients over /ws/status.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/pkg/metrics"
)

// Hub maintains the active connections and fans broadcast payloads
// out to them. Clients that cannot keep up are dropped rather than
// allowed to block the broadcast loop.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub builds a hub; Run must be started before clients attach.
func NewHub(ctx context.Context, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
		ctx:        hubCtx,
		cancel:     cancel,
	}
}

// Run drives the hub's event loop until the context is cancelled.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			metrics.WebSocketConnectionsActive.Set(float64(len(h.clients)))
			h.mu.Unlock()
			h.log.Debug("websocket client connected", zap.String("client_id", client.id))

		case client := <-h.unregister:
			h.dropClient(client)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Send buffer full; the client is too slow to keep.
					close(client.send)
					delete(h.clients, client)
					h.log.Warn("dropping slow websocket client", zap.String("client_id", client.id))
				}
			}
			metrics.WebSocketConnectionsActive.Set(float64(len(h.clients)))
			h.mu.Unlock()
		}
	}
}

func (h *Hub) dropClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	metrics.WebSocketConnectionsActive.Set(float64(len(h.clients)))
}

// Stop cancels the loop and closes every client send channel.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WebSocketConnectionsActive.Set(0)
}

// ClientCount reports the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastSyncStatus serializes a sync transition and queues it for
// every connected client. Wired as a sync service completion hook.
func (h *Hub) BroadcastSyncStatus(ev models.SyncStatusEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to encode sync status event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.ctx.Done():
	default:
		h.log.Warn("websocket broadcast buffer full, event dropped",
			zap.String("entity", ev.EntityType), zap.String("status", ev.Status))
	}
}
