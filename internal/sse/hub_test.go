package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/events/bus"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatal(err)
	}

	hub := NewHub(log)
	hub.Start()
	t.Cleanup(hub.Stop)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/api/stream", hub.Stream)
	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)

	return hub, server
}

// connect opens the stream and waits until the hub has registered the client.
func connect(t *testing.T, hub *Hub, server *httptest.Server) *bufio.Reader {
	t.Helper()
	resp, err := http.Get(server.URL + "/api/stream")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("unexpected cache control %q", got)
	}

	waitFor(t, func() bool { return hub.ClientCount() == 1 })
	return bufio.NewReader(resp.Body)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// readFrame reads one SSE frame (up to the blank line).
func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if line == "\n" {
			return b.String()
		}
		b.WriteString(line)
	}
}

func TestStream_BroadcastFrames(t *testing.T) {
	hub, server := newTestHub(t)
	reader := connect(t, hub, server)

	hub.Broadcast(map[string]any{"type": "alert", "session_id": "s1"})
	frame := readFrame(t, reader)
	if !strings.HasPrefix(frame, "event: notification\ndata: ") {
		t.Errorf("unexpected frame: %q", frame)
	}
	if !strings.Contains(frame, `"session_id":"s1"`) {
		t.Errorf("expected payload in frame, got %q", frame)
	}

	// Frames arrive in publish order.
	hub.Broadcast(map[string]any{"seq": 1})
	hub.Broadcast(map[string]any{"seq": 2})
	if frame := readFrame(t, reader); !strings.Contains(frame, `"seq":1`) {
		t.Errorf("expected seq 1 first, got %q", frame)
	}
	if frame := readFrame(t, reader); !strings.Contains(frame, `"seq":2`) {
		t.Errorf("expected seq 2 second, got %q", frame)
	}
}

func TestStream_ClientDisconnectRemoves(t *testing.T) {
	hub, server := newTestHub(t)

	resp, err := http.Get(server.URL + "/api/stream")
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	_ = resp.Body.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}

func TestAttach_ForwardsBusEvents(t *testing.T) {
	hub, server := newTestHub(t)

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatal(err)
	}
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)
	if err := hub.Attach(eventBus); err != nil {
		t.Fatal(err)
	}

	reader := connect(t, hub, server)

	event := bus.NewEvent(events.StallAlert, "monitor", map[string]any{
		"type":       "alert",
		"alert_type": "stuck_agent",
	})
	if err := eventBus.Publish(context.Background(), events.SubjectAlert, event); err != nil {
		t.Fatal(err)
	}

	frame := readFrame(t, reader)
	if !strings.Contains(frame, `"alert_type":"stuck_agent"`) {
		t.Errorf("expected bus event forwarded, got %q", frame)
	}
}

func TestBroadcast_NoClients(t *testing.T) {
	hub, _ := newTestHub(t)
	// Must not panic or block.
	hub.Broadcast(map[string]any{"type": "alert"})
	if hub.ClientCount() != 0 {
		t.Errorf("expected no clients, got %d", hub.ClientCount())
	}
}

func TestFanout_DropsSlowClient(t *testing.T) {
	hub, _ := newTestHub(t)

	// A registered client that never drains its queue.
	ch := hub.register()
	for i := 0; i < clientBuffer+1; i++ {
		hub.Broadcast(map[string]any{"seq": i})
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("expected slow client to be dropped, count=%d", hub.ClientCount())
	}

	// The hub closed the channel after queueing a full buffer.
	received := 0
	for range ch {
		received++
	}
	if received != clientBuffer {
		t.Errorf("expected %d buffered frames, got %d", clientBuffer, received)
	}

	// Unregister after a drop is a no-op.
	hub.unregister(ch)
}
