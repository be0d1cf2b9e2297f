package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/events/bus"
	"github.com/agentmux/agentmux/internal/store"
)

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// publish pushes a broadcast onto the event bus; SSE clients receive Data.
func (s *Server) publish(c *gin.Context, subject, eventType string, data map[string]any) {
	event := bus.NewEvent(eventType, "api", data)
	if err := s.bus.Publish(c.Request.Context(), subject, event); err != nil {
		s.logger.Warn("Failed to publish broadcast",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// toMap flattens a JSON-tagged struct into the broadcast payload shape.
func toMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func intQuery(c *gin.Context, key string, fallback int) int {
	if raw := c.Query(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return fallback
}

func pathID(c *gin.Context, name, kind string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid "+kind+" id")
		return 0, false
	}
	return id, true
}

// postEvent ingests an agent lifecycle event: persist, update the session,
// clear any stall alert, broadcast, then run after-work routing.
func (s *Server) postEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == "" && req.AgentName == "" {
		respondError(c, http.StatusBadRequest, "title or agent_name required")
		return
	}

	ctx := c.Request.Context()
	event := req.toEvent()

	eventID, err := s.store.InsertEvent(ctx, event)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.UpsertSession(ctx, event); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	// Any sign of life stands the stall monitor down for this session.
	if event.SessionID != "" {
		s.monitor.ClearAlert(event.SessionID)
	}

	if row, err := s.store.GetEvent(ctx, eventID); err == nil && row != nil {
		s.publish(c, events.SubjectEvent, row.Category, toMap(row))
	}

	results, err := s.afterwork.RouteAfterWork(ctx, event)
	if err != nil {
		s.logger.Error("After-work routing failed",
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
	for _, result := range results {
		payload := toMap(result)
		payload["type"] = "route"
		payload["session_id"] = event.SessionID
		s.publish(c, events.SubjectRoute, events.RouteResult, payload)
	}

	c.JSON(http.StatusCreated, gin.H{"id": eventID, "status": "created"})
}

func (s *Server) listEvents(c *gin.Context) {
	rows, err := s.store.ListEvents(c.Request.Context(), store.EventFilter{
		Agent:    c.Query("agent"),
		Category: c.Query("category"),
		Project:  c.Query("project"),
		Since:    c.Query("since"),
		Limit:    intQuery(c, "limit", 50),
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		respondError(c, http.StatusBadRequest, "session_id required")
		return
	}
	found, err := s.store.Heartbeat(c.Request.Context(), req.SessionID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		respondError(c, http.StatusNotFound, "session not found")
		return
	}
	s.monitor.ClearAlert(req.SessionID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) health(c *gin.Context) {
	sessions, err := s.store.ListSessions(c.Request.Context(), "")
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	active := 0
	for _, session := range sessions {
		if session.Status == store.StatusActive || session.Status == store.StatusWaiting {
			active++
		}
	}
	uptime := time.Since(s.startTime).Seconds()
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"version":       Version,
		"uptime":        math.Round(uptime*10) / 10,
		"sse_clients":   s.hub.ClientCount(),
		"agents_total":  len(sessions),
		"agents_active": active,
	})
}
