package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentmux/agentmux/internal/afterwork"
	"github.com/agentmux/agentmux/internal/common/config"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/events/bus"
	"github.com/agentmux/agentmux/internal/mesh"
	"github.com/agentmux/agentmux/internal/monitor"
	"github.com/agentmux/agentmux/internal/sse"
	"github.com/agentmux/agentmux/internal/store"
	"github.com/agentmux/agentmux/internal/terminal"
)

// fakeTerm records pane operations and optionally fails them.
type fakeTerm struct {
	calls    []string
	sent     []string
	err      error
	spawnErr error
}

func (f *fakeTerm) record(op string) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, op)
	return nil
}

func (f *fakeTerm) SendText(ctx context.Context, h *terminal.Handle, text string) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, "send")
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeTerm) SendApprove(ctx context.Context, h *terminal.Handle) error {
	return f.record("approve")
}
func (f *fakeTerm) SendReject(ctx context.Context, h *terminal.Handle) error {
	return f.record("reject")
}
func (f *fakeTerm) Interrupt(ctx context.Context, h *terminal.Handle) error {
	return f.record("interrupt")
}
func (f *fakeTerm) StopSession(ctx context.Context, h *terminal.Handle) error {
	return f.record("stop")
}

func (f *fakeTerm) Spawn(ctx context.Context, agent, prompt, cwd string, mux *terminal.Handle) (*terminal.Handle, error) {
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	f.calls = append(f.calls, "spawn")
	return &terminal.Handle{Multiplexer: terminal.MuxTmux, TmuxPane: "%7"}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeTerm, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatal(err)
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "agentmux.db"), log)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	hub := sse.NewHub(log)
	hub.Start()
	t.Cleanup(hub.Stop)
	if err := hub.Attach(eventBus); err != nil {
		t.Fatal(err)
	}

	mon := monitor.NewMonitor(st, eventBus, config.MonitorConfig{
		StaleThreshold: 120, StuckThreshold: 300, DeadThreshold: 900, CheckInterval: 30,
	}, log)

	term := &fakeTerm{}
	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, Deps{
		Store:     st,
		Bus:       eventBus,
		Hub:       hub,
		Monitor:   mon,
		Mesh:      mesh.NewRouter(st, term, log),
		Afterwork: afterwork.NewRouter(st, term, log),
		Terminal:  term,
		Logger:    log,
	})
	return srv, term, st
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewBuffer(raw)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", w.Body.String(), err)
	}
}

func postEvent(t *testing.T, srv *Server, fields map[string]any) {
	t.Helper()
	w := do(t, srv, http.MethodPost, "/api/events", fields)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPostEvent_CreatesSession(t *testing.T) {
	srv, _, _ := newTestServer(t)

	postEvent(t, srv, map[string]any{
		"agent_name": "Claude",
		"session_id": "s1",
		"category":   "completion",
		"title":      "done",
	})

	w := do(t, srv, http.MethodGet, "/api/agents/s1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var session store.Session
	decode(t, w, &session)
	if session.Status != store.StatusIdle {
		t.Errorf("expected idle, got %q", session.Status)
	}
	if session.EventCount != 1 {
		t.Errorf("expected event_count 1, got %d", session.EventCount)
	}
}

func TestPostEvent_Validation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/events", map[string]any{"category": "start"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "title or agent_name required") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestPostEvent_TerminalObject(t *testing.T) {
	srv, _, st := newTestServer(t)

	postEvent(t, srv, map[string]any{
		"agent_name": "Claude",
		"session_id": "s1",
		"category":   "start",
		"terminal":   map[string]any{"multiplexer": "tmux", "tmux_pane": "%3"},
	})

	session, err := st.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	handle, err := terminal.ParseHandle(session.Terminal)
	if err != nil {
		t.Fatalf("stored terminal not parseable: %v (%q)", err, session.Terminal)
	}
	if handle.TmuxPane != "%3" {
		t.Errorf("unexpected handle: %+v", handle)
	}
}

func TestListEvents_Filter(t *testing.T) {
	srv, _, _ := newTestServer(t)

	postEvent(t, srv, map[string]any{"agent_name": "a", "session_id": "s1", "category": "start"})
	postEvent(t, srv, map[string]any{"agent_name": "b", "session_id": "s2", "category": "error"})

	w := do(t, srv, http.MethodGet, "/api/events?category=error", nil)
	var rows []store.Event
	decode(t, w, &rows)
	if len(rows) != 1 || rows[0].AgentName != "b" {
		t.Errorf("unexpected rows: %+v", rows)
	}
}

func TestHeartbeat(t *testing.T) {
	srv, _, _ := newTestServer(t)

	postEvent(t, srv, map[string]any{"agent_name": "a", "session_id": "s1", "category": "start"})

	w := do(t, srv, http.MethodPost, "/api/heartbeat", map[string]any{"session_id": "s1"})
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	w = do(t, srv, http.MethodPost, "/api/heartbeat", map[string]any{"session_id": "ghost"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	w = do(t, srv, http.MethodPost, "/api/heartbeat", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestMessageBlockedByRule(t *testing.T) {
	srv, _, _ := newTestServer(t)

	postEvent(t, srv, map[string]any{"agent_name": "builder", "session_id": "a", "category": "start",
		"terminal": map[string]any{"multiplexer": "tmux", "tmux_pane": "%1"}})
	postEvent(t, srv, map[string]any{"agent_name": "tester", "session_id": "b", "category": "start",
		"terminal": map[string]any{"multiplexer": "tmux", "tmux_pane": "%2"}})

	w := do(t, srv, http.MethodPost, "/api/rules", map[string]any{
		"from_agent": "*", "to_agent": "*", "event_type": "handoff", "action": "block",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	w = do(t, srv, http.MethodPost, "/api/messages", map[string]any{
		"from_session": "a", "to_session": "b", "content": "x", "message_type": "handoff",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ID     int64  `json:"id"`
		Action string `json:"action"`
	}
	decode(t, w, &resp)
	if resp.Action != mesh.RouteBlocked {
		t.Errorf("expected blocked, got %+v", resp)
	}

	w = do(t, srv, http.MethodGet, fmt.Sprintf("/api/messages/%d", resp.ID), nil)
	var msg store.Message
	decode(t, w, &msg)
	if msg.Status != store.MessageRejected {
		t.Errorf("expected rejected, got %q", msg.Status)
	}
}

func TestMessageValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/messages", map[string]any{"content": "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	w = do(t, srv, http.MethodPost, "/api/messages", map[string]any{"from_session": "a", "to_session": "b"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	w = do(t, srv, http.MethodGet, "/api/messages/abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", w.Code)
	}
}

func TestMessageApproveLifecycle(t *testing.T) {
	srv, term, _ := newTestServer(t)

	postEvent(t, srv, map[string]any{"agent_name": "builder", "session_id": "a", "category": "start",
		"terminal": map[string]any{"multiplexer": "tmux", "tmux_pane": "%1"}})
	postEvent(t, srv, map[string]any{"agent_name": "tester", "session_id": "b", "category": "start",
		"terminal": map[string]any{"multiplexer": "tmux", "tmux_pane": "%2"}})

	w := do(t, srv, http.MethodPost, "/api/messages", map[string]any{
		"from_session": "a", "to_session": "b", "content": "please review",
	})
	var created struct {
		ID     int64  `json:"id"`
		Action string `json:"action"`
	}
	decode(t, w, &created)
	if created.Action != mesh.RoutePending {
		t.Fatalf("expected pending, got %+v", created)
	}

	w = do(t, srv, http.MethodPost, fmt.Sprintf("/api/messages/%d/approve", created.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(term.sent) != 1 || term.sent[0] != "[From builder] please review\n" {
		t.Errorf("unexpected delivery: %v", term.sent)
	}

	// Second approve: message no longer pending.
	w = do(t, srv, http.MethodPost, fmt.Sprintf("/api/messages/%d/approve", created.ID), nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}

	w = do(t, srv, http.MethodPost, "/api/messages/999/approve", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestTaskDAG(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/tasks", map[string]any{"title": "T1"})
	var t1 struct {
		ID int64 `json:"id"`
	}
	decode(t, w, &t1)

	w = do(t, srv, http.MethodPost, "/api/tasks", map[string]any{
		"title": "T2", "dependencies": []int64{t1.ID},
	})
	var t2 struct {
		ID int64 `json:"id"`
	}
	decode(t, w, &t2)

	w = do(t, srv, http.MethodGet, "/api/tasks/next", nil)
	var next store.Task
	decode(t, w, &next)
	if next.ID != t1.ID {
		t.Fatalf("expected T1 next, got %+v", next)
	}

	w = do(t, srv, http.MethodPut, fmt.Sprintf("/api/tasks/%d", t1.ID), map[string]any{"status": "done"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, srv, http.MethodGet, "/api/tasks/next", nil)
	decode(t, w, &next)
	if next.ID != t2.ID {
		t.Errorf("expected T2 next after T1 done, got %+v", next)
	}

	// Exhausted queue.
	do(t, srv, http.MethodPut, fmt.Sprintf("/api/tasks/%d", t2.ID), map[string]any{"status": "done"})
	w = do(t, srv, http.MethodGet, "/api/tasks/next", nil)
	var empty struct {
		Message string `json:"message"`
	}
	decode(t, w, &empty)
	if empty.Message != "no actionable tasks" {
		t.Errorf("expected empty-queue message, got %s", w.Body.String())
	}
}

func TestTaskValidationAndNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/tasks", map[string]any{"description": "no title"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	w = do(t, srv, http.MethodGet, "/api/tasks/999", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	w = do(t, srv, http.MethodDelete, "/api/tasks/999", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	w = do(t, srv, http.MethodPut, "/api/tasks/abc", map[string]any{"status": "done"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCompletionTriggersNextTaskRouting(t *testing.T) {
	srv, term, st := newTestServer(t)
	ctx := context.Background()

	postEvent(t, srv, map[string]any{"agent_name": "builder", "session_id": "s1", "category": "start",
		"terminal": map[string]any{"multiplexer": "tmux", "tmux_pane": "%1"}})

	w := do(t, srv, http.MethodPost, "/api/rules", map[string]any{
		"from_agent": "*", "event_type": "completion", "action": "next_task",
	})
	if w.Code != http.StatusCreated {
		t.Fatal(w.Body.String())
	}
	w = do(t, srv, http.MethodPost, "/api/tasks", map[string]any{"title": "T", "session_id": "s1"})
	var created struct {
		ID int64 `json:"id"`
	}
	decode(t, w, &created)

	postEvent(t, srv, map[string]any{"agent_name": "builder", "session_id": "s1", "category": "completion"})

	task, err := st.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != store.TaskInProgress {
		t.Errorf("expected in_progress, got %q", task.Status)
	}
	found := false
	for _, text := range term.sent {
		if strings.HasPrefix(text, fmt.Sprintf("[Next Task #%d] T", created.ID)) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected task text sent to pane, got %v", term.sent)
	}
}

func TestAgentControlActions(t *testing.T) {
	srv, term, _ := newTestServer(t)

	postEvent(t, srv, map[string]any{"agent_name": "builder", "session_id": "s1", "category": "start",
		"terminal": map[string]any{"multiplexer": "tmux", "tmux_pane": "%1"}})

	for _, action := range []string{"approve", "reject", "interrupt"} {
		w := do(t, srv, http.MethodPost, "/api/agents/s1/"+action, nil)
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d: %s", action, w.Code, w.Body.String())
		}
	}
	if len(term.calls) != 3 {
		t.Errorf("expected 3 pane calls, got %v", term.calls)
	}

	w := do(t, srv, http.MethodPost, "/api/agents/ghost/approve", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestAgentControl_NoTerminal(t *testing.T) {
	srv, _, _ := newTestServer(t)

	postEvent(t, srv, map[string]any{"agent_name": "builder", "session_id": "s1", "category": "start"})

	w := do(t, srv, http.MethodPost, "/api/agents/s1/approve", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "no terminal data") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestAgentSend_AppendsNewline(t *testing.T) {
	srv, term, _ := newTestServer(t)

	postEvent(t, srv, map[string]any{"agent_name": "builder", "session_id": "s1", "category": "start",
		"terminal": map[string]any{"multiplexer": "tmux", "tmux_pane": "%1"}})

	w := do(t, srv, http.MethodPost, "/api/agents/s1/send", map[string]any{"text": "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(term.sent) != 1 || term.sent[0] != "hello\n" {
		t.Errorf("unexpected sent text: %v", term.sent)
	}

	w = do(t, srv, http.MethodPost, "/api/agents/s1/send", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty text, got %d", w.Code)
	}
}

func TestStopAgent_PaneFailureDowngradedToWarning(t *testing.T) {
	srv, term, st := newTestServer(t)
	term.err = fmt.Errorf("tmux not found")

	postEvent(t, srv, map[string]any{"agent_name": "builder", "session_id": "s1", "category": "start",
		"terminal": map[string]any{"multiplexer": "tmux", "tmux_pane": "%1"}})

	w := do(t, srv, http.MethodPost, "/api/agents/s1/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status  string `json:"status"`
		Warning string `json:"warning"`
	}
	decode(t, w, &resp)
	if resp.Status != "stopped" || !strings.Contains(resp.Warning, "tmux not found") {
		t.Errorf("unexpected response: %+v", resp)
	}

	// The session is marked ended regardless of the pane failure.
	session, err := st.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if session.Status != store.StatusEnded || session.EndedAt == "" {
		t.Errorf("expected ended session, got %+v", session)
	}
}

func TestSpawnAgent(t *testing.T) {
	srv, _, st := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/agents/spawn", map[string]any{
		"agent": "codex", "prompt": "fix the tests", "cwd": "/work/x",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status    string           `json:"status"`
		SessionID string           `json:"session_id"`
		PaneID    string           `json:"pane_id"`
		Terminal  *terminal.Handle `json:"terminal"`
	}
	decode(t, w, &resp)
	if resp.Status != "spawned" || resp.PaneID != "%7" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if !strings.HasPrefix(resp.SessionID, "spawn-") || len(resp.SessionID) != len("spawn-")+12 {
		t.Errorf("unexpected session id %q", resp.SessionID)
	}

	// The synthetic start event registered the session.
	session, err := st.GetSession(context.Background(), resp.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if session == nil || session.Status != store.StatusActive || session.AgentName != "Codex" {
		t.Errorf("unexpected session: %+v", session)
	}
}

func TestSpawnAgent_Failure(t *testing.T) {
	srv, term, _ := newTestServer(t)
	term.spawnErr = fmt.Errorf("no multiplexer detected")

	w := do(t, srv, http.MethodPost, "/api/agents/spawn", map[string]any{"agent": "claude"})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestContextAndPreferences(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/context", map[string]any{
		"key": "branch", "value": "main", "updated_by": "s1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = do(t, srv, http.MethodGet, "/api/context", nil)
	var vars []store.ContextVar
	decode(t, w, &vars)
	if len(vars) != 1 || vars[0].Scope != "global" {
		t.Errorf("unexpected context vars: %+v", vars)
	}
	w = do(t, srv, http.MethodDelete, "/api/context/branch", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	w = do(t, srv, http.MethodDelete, "/api/context/branch", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on repeat delete, got %d", w.Code)
	}

	w = do(t, srv, http.MethodPost, "/api/preferences", map[string]any{"key": "theme", "value": "dark"})
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	w = do(t, srv, http.MethodGet, "/api/preferences", nil)
	var prefs map[string]string
	decode(t, w, &prefs)
	if prefs["theme"] != "dark" {
		t.Errorf("unexpected preferences: %v", prefs)
	}
	w = do(t, srv, http.MethodPost, "/api/preferences", map[string]any{"value": "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without key, got %d", w.Code)
	}
}

func TestRulesCRUD(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/rules", map[string]any{"action": "auto"})
	var created struct {
		ID int64 `json:"id"`
	}
	decode(t, w, &created)

	w = do(t, srv, http.MethodGet, "/api/rules", nil)
	var rules []store.Rule
	decode(t, w, &rules)
	if len(rules) != 1 || rules[0].FromAgent != "*" {
		t.Errorf("unexpected rules: %+v", rules)
	}

	w = do(t, srv, http.MethodDelete, fmt.Sprintf("/api/rules/%d", created.ID), nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	w = do(t, srv, http.MethodDelete, "/api/rules/999", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	w = do(t, srv, http.MethodDelete, "/api/rules/abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHealthCountsSSEClients(t *testing.T) {
	srv, _, _ := newTestServer(t)

	live := httptest.NewServer(srv.Engine())
	defer live.Close()

	resp1, err := http.Get(live.URL + "/api/events/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp1.Body.Close()
	resp2, err := http.Get(live.URL + "/api/events/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		w := do(t, srv, http.MethodGet, "/api/health", nil)
		var health struct {
			Status     string  `json:"status"`
			Version    string  `json:"version"`
			SSEClients int     `json:"sse_clients"`
			Uptime     float64 `json:"uptime"`
		}
		decode(t, w, &health)
		if health.SSEClients == 2 {
			if health.Status != "ok" || health.Version != Version {
				t.Errorf("unexpected health payload: %+v", health)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("sse_clients never reached 2: %+v", health)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS headers: %v", w.Header())
	}
}

func TestDashboard(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, path := range []string{"/", "/ui", "/dashboard"} {
		w := do(t, srv, http.MethodGet, path, nil)
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, w.Code)
		}
		if w.Header().Get("Cache-Control") != "no-cache" {
			t.Errorf("%s: expected no-cache, got %q", path, w.Header().Get("Cache-Control"))
		}
		if !strings.Contains(w.Body.String(), "agentmux") {
			t.Errorf("%s: unexpected body", path)
		}
	}
}
