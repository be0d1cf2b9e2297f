package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/store"
	"github.com/agentmux/agentmux/internal/terminal"
)

func (s *Server) listAgents(c *gin.Context) {
	sessions, err := s.store.ListSessions(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (s *Server) getAgent(c *gin.Context) {
	session, err := s.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if session == nil {
		respondError(c, http.StatusNotFound, "session not found")
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) agentEvents(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if session == nil {
		respondError(c, http.StatusNotFound, "session not found")
		return
	}
	rows, err := s.store.SessionEvents(ctx, sessionID, intQuery(c, "limit", 50))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) agentChildren(c *gin.Context) {
	children, err := s.store.ChildSessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, children)
}

// sessionHandle loads a session and its pane handle, writing the error
// response itself when either is unavailable.
func (s *Server) sessionHandle(c *gin.Context) (*store.Session, *terminal.Handle, bool) {
	session, err := s.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return nil, nil, false
	}
	if session == nil {
		respondError(c, http.StatusNotFound, "session not found")
		return nil, nil, false
	}
	handle, err := terminal.ParseHandle(session.Terminal)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return nil, nil, false
	}
	return session, handle, true
}

func (s *Server) broadcastAction(c *gin.Context, action, sessionID, agentName string, extra map[string]any) {
	payload := map[string]any{
		"type":       "action",
		"action":     action,
		"session_id": sessionID,
		"agent_name": agentName,
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.publish(c, events.SubjectAction, events.ManualAction, payload)
}

func (s *Server) approveAgent(c *gin.Context) {
	session, handle, ok := s.sessionHandle(c)
	if !ok {
		return
	}
	if err := s.terminal.SendApprove(c.Request.Context(), handle); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	s.broadcastAction(c, "approve", session.SessionID, session.AgentName, nil)
	c.JSON(http.StatusOK, gin.H{"status": "approved", "session_id": session.SessionID})
}

func (s *Server) rejectAgent(c *gin.Context) {
	session, handle, ok := s.sessionHandle(c)
	if !ok {
		return
	}
	if err := s.terminal.SendReject(c.Request.Context(), handle); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	s.broadcastAction(c, "reject", session.SessionID, session.AgentName, nil)
	c.JSON(http.StatusOK, gin.H{"status": "rejected", "session_id": session.SessionID})
}

func (s *Server) interruptAgent(c *gin.Context) {
	session, handle, ok := s.sessionHandle(c)
	if !ok {
		return
	}
	if err := s.terminal.Interrupt(c.Request.Context(), handle); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	s.broadcastAction(c, "interrupt", session.SessionID, session.AgentName, nil)
	c.JSON(http.StatusOK, gin.H{"status": "interrupted", "session_id": session.SessionID})
}

func (s *Server) sendToAgent(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		respondError(c, http.StatusBadRequest, "text required")
		return
	}
	session, handle, ok := s.sessionHandle(c)
	if !ok {
		return
	}
	text := req.Text
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if err := s.terminal.SendText(c.Request.Context(), handle, text); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	s.broadcastAction(c, "send", session.SessionID, session.AgentName, map[string]any{"text": req.Text})
	c.JSON(http.StatusOK, gin.H{"status": "sent", "session_id": session.SessionID})
}

// stopAgent ends a session. The session row is marked ended even when the
// pane command fails; the terminal failure is reported as a warning, not an
// error, because the daemon's own bookkeeping did change.
func (s *Server) stopAgent(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if session == nil {
		respondError(c, http.StatusNotFound, "session not found")
		return
	}

	var terminalErr error
	if handle, err := terminal.ParseHandle(session.Terminal); err != nil {
		terminalErr = err
	} else {
		terminalErr = s.terminal.StopSession(ctx, handle)
	}

	stopEvent := &store.Event{
		AgentName: session.AgentName,
		SessionID: sessionID,
		Category:  "stop",
		Title:     session.AgentName + ": Stopped by user",
	}
	if _, err := s.store.InsertEvent(ctx, stopEvent); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.UpsertSession(ctx, stopEvent); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.broadcastAction(c, "stop", sessionID, session.AgentName, nil)

	if terminalErr != nil {
		c.JSON(http.StatusOK, gin.H{
			"status":     "stopped",
			"session_id": sessionID,
			"warning":    terminalErr.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "session_id": sessionID})
}

// spawnSessionID generates the synthetic session id for daemon-spawned
// sessions. A collision with an existing session retries once, then fails.
func (s *Server) spawnSessionID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		id := "spawn-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
		existing, err := s.store.GetSession(ctx, id)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return id, nil
		}
	}
	return "", errSpawnIDCollision
}

var errSpawnIDCollision = errors.New("could not allocate unique session id")

func capitalize(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + strings.ToLower(name[1:])
}

// spawnAgent launches a fresh agent pane and registers a synthetic start
// event so the daemon tracks the new session from birth.
func (s *Server) spawnAgent(c *gin.Context) {
	var req spawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req = spawnRequest{}
	}
	if req.Agent == "" {
		req.Agent = "claude"
	}

	ctx := c.Request.Context()
	handle, err := s.terminal.Spawn(ctx, req.Agent, req.Prompt, req.Cwd, nil)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	sessionID, err := s.spawnSessionID(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	agentName := capitalize(req.Agent)
	message := req.Prompt
	if message == "" {
		message = "New session"
	}
	startEvent := &store.Event{
		AgentName:  agentName,
		SessionID:  sessionID,
		Category:   "start",
		Title:      agentName + ": Spawned from daemon",
		Message:    message,
		ProjectCwd: req.Cwd,
		Terminal:   handle.Encode(),
	}
	if _, err := s.store.InsertEvent(ctx, startEvent); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.UpsertSession(ctx, startEvent); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.publish(c, events.SubjectSpawn, events.SessionSpawn, map[string]any{
		"type":       "spawn",
		"action":     "spawned",
		"session_id": sessionID,
		"agent_name": agentName,
		"pane_id":    handle.PaneID(),
	})

	c.JSON(http.StatusCreated, gin.H{
		"status":     "spawned",
		"session_id": sessionID,
		"pane_id":    handle.PaneID(),
		"terminal":   handle,
	})
}
