package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/robocat/internal/log"
)

// DefaultQueueSize is the per-client and broadcast queue length.
const DefaultQueueSize = 16

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	name   string
	logger *slog.Logger

	// Owned by Run
	clients map[*Client]struct{}

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// mu guards the client count seen from outside Run
	mu    sync.RWMutex
	count int

	running atomic.Bool
	dropped atomic.Uint64
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// New creates a hub. Call Run before registering clients.
func New(name string, opts ...Option) *Hub {
	h := &Hub{
		name:       name,
		logger:     log.Component("hub").With("hub", name),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Message, DefaultQueueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run is the hub's main loop. It returns when ctx is done, after closing
// every client queue.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
		h.setCount(0)
		h.running.Store(false)
		close(h.done)
		h.logger.Debug("hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.setCount(len(h.clients))
			h.logger.Info("client connected", "client", client.id, "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.setCount(len(h.clients))
			h.logger.Info("client disconnected", "client", client.id, "remaining", len(h.clients))

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Too slow to keep up: drop the client rather than stall others.
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropped slow client", "client", client.id)
				}
			}
			h.setCount(len(h.clients))
		}
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// Broadcast queues a message for all connected clients. It never blocks;
// when the queue is full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
		h.logger.Debug("broadcast queue full, dropping message")
	}
}

// BroadcastJSON encodes and broadcasts a JSON message
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(NewJSONMessage(data))
	return nil
}

// BroadcastBinary broadcasts binary data (JPEG frames)
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(NewBinaryMessage(data))
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Dropped returns how many broadcasts were discarded on a full queue.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// IsRunning reports whether Run is active
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Name returns the hub name.
func (h *Hub) Name() string {
	return h.name
}
