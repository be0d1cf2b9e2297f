package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/mesh"
	"github.com/agentmux/agentmux/internal/store"
)

// postMessage queues a mesh message and routes it immediately.
func (s *Server) postMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FromSession == "" || req.ToSession == "" {
		respondError(c, http.StatusBadRequest, "from_session and to_session required")
		return
	}
	if req.Content == "" {
		respondError(c, http.StatusBadRequest, "content required")
		return
	}

	ctx := c.Request.Context()
	messageID, err := s.store.InsertMessage(ctx, &store.Message{
		FromSession: req.FromSession,
		ToSession:   req.ToSession,
		MessageType: req.MessageType,
		Content:     req.Content,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := s.mesh.RouteMessage(ctx, messageID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	if msg, err := s.store.GetMessage(ctx, messageID); err == nil && msg != nil {
		payload := toMap(msg)
		payload["type"] = "message"
		payload["routing"] = result.Action
		s.publish(c, events.SubjectMessage, events.MeshMessage, payload)
	}

	response := toMap(result)
	response["id"] = messageID
	c.JSON(http.StatusCreated, response)
}

func (s *Server) listMessages(c *gin.Context) {
	messages, err := s.store.ListMessages(c.Request.Context(), c.Query("status"), intQuery(c, "limit", 50))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (s *Server) getMessage(c *gin.Context) {
	messageID, ok := pathID(c, "id", "message")
	if !ok {
		return
	}
	msg, err := s.store.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if msg == nil {
		respondError(c, http.StatusNotFound, "message not found")
		return
	}
	c.JSON(http.StatusOK, msg)
}

// meshErrorStatus maps the mesh sentinel errors to HTTP statuses.
func meshErrorStatus(err error) int {
	switch {
	case errors.Is(err, mesh.ErrMessageNotFound), errors.Is(err, mesh.ErrTargetNotFound):
		return http.StatusNotFound
	case errors.Is(err, mesh.ErrNotPending):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) approveMessage(c *gin.Context) {
	messageID, ok := pathID(c, "id", "message")
	if !ok {
		return
	}
	result, err := s.mesh.ApproveMessage(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, meshErrorStatus(err), err.Error())
		return
	}
	if result.Action != mesh.RouteDelivered {
		c.JSON(http.StatusInternalServerError, result)
		return
	}
	s.publish(c, events.SubjectMessage, events.MeshMessage, map[string]any{
		"type":       "message_action",
		"action":     "approved",
		"message_id": messageID,
	})
	c.JSON(http.StatusOK, result)
}

func (s *Server) rejectMessage(c *gin.Context) {
	messageID, ok := pathID(c, "id", "message")
	if !ok {
		return
	}
	result, err := s.mesh.RejectMessage(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, meshErrorStatus(err), err.Error())
		return
	}
	s.publish(c, events.SubjectMessage, events.MeshMessage, map[string]any{
		"type":       "message_action",
		"action":     "rejected",
		"message_id": messageID,
	})
	c.JSON(http.StatusOK, result)
}
