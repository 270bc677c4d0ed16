package ops

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"deepfall/server/internal/logging"
	"deepfall/server/internal/metrics"
)

const (
	// clientQueueDepth bounds the per-spectator frame backlog.
	clientQueueDepth = 64
	// writeTimeout bounds a single frame write to a spectator.
	writeTimeout = 5 * time.Second
)

// Hub fans spectator frames out to every connected websocket. Slow
// consumers lose frames rather than stalling the publisher.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	log     *logging.Logger
	metrics *metrics.Metrics
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns an empty hub.
func NewHub(log *logging.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = logging.L()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     log,
		metrics: m,
	}
}

// Publish marshals the frame once and queues it to every spectator.
func (h *Hub) Publish(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Warn("unmarshalable spectator frame", logging.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			//1.- The consumer is behind; drop the frame, never the game.
			h.metrics.SpectatorFrameDropped()
		}
	}
}

// attach registers the connection and starts its write pump.
func (h *Hub) attach(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, clientQueueDepth)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Info("spectator attached", logging.Int("spectators", count))

	go func() {
		defer conn.Close()
		for data := range c.send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}()
	return c
}

// detach removes the connection and stops its write pump.
func (h *Hub) detach(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Info("spectator detached", logging.Int("spectators", count))
}

// Close drops every spectator.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
