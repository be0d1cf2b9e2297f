// Package sse fans daemon notifications out to Server-Sent Events clients.
//
// Dashboards connect once and receive every broadcast as an
// "event: notification" frame. Keepalive comments flow every 15 seconds so
// proxies and idle connections do not silently time out.
package sse

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/events/bus"
)

const (
	keepaliveInterval = 15 * time.Second

	// clientBuffer is the per-client frame queue. A client that falls this
	// far behind is dropped rather than allowed to stall the broadcast.
	clientBuffer = 64
)

var keepaliveFrame = []byte(": keepalive\n\n")

// Hub tracks connected SSE clients and broadcasts frames to all of them.
type Hub struct {
	logger *logger.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewHub creates an SSE hub. Start must be called to begin keepalives.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		logger:  log,
		clients: make(map[chan []byte]struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the keepalive loop.
func (h *Hub) Start() {
	go h.keepaliveLoop()
}

// Stop terminates the keepalive loop and disconnects every client.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.stop) })
	<-h.done

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		close(ch)
	}
	h.clients = make(map[chan []byte]struct{})
}

// Attach subscribes the hub to the event bus so every published event reaches
// connected clients.
func (h *Hub) Attach(eventBus bus.EventBus) error {
	_, err := eventBus.Subscribe(events.WildcardSubject, func(ctx context.Context, event *bus.Event) error {
		h.Broadcast(event.Data)
		return nil
	})
	return err
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends one notification frame to every connected client. Clients
// that cannot keep up are dropped.
func (h *Hub) Broadcast(payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("Failed to encode SSE payload", zap.Error(err))
		return
	}
	frame := append([]byte("event: notification\ndata: "), data...)
	frame = append(frame, '\n', '\n')
	h.fanout(frame)
}

func (h *Hub) fanout(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- frame:
		default:
			delete(h.clients, ch)
			close(ch)
			h.logger.Warn("Dropping slow SSE client")
		}
	}
}

func (h *Hub) keepaliveLoop() {
	defer close(h.done)

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.fanout(keepaliveFrame)
		}
	}
}

func (h *Hub) register() chan []byte {
	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unregister(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// The hub may already have dropped and closed this client.
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// Stream is the gin handler for the event stream endpoint. It holds the
// connection open until the client disconnects or the hub shuts down.
func (h *Hub) Stream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ch := h.register()
	defer h.unregister(ch)

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-h.stop:
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if _, err := c.Writer.Write(frame); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
