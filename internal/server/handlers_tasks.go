package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentmux/agentmux/internal/store"
)

func (s *Server) postTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == "" {
		respondError(c, http.StatusBadRequest, "title required")
		return
	}
	taskID, err := s.store.InsertTask(c.Request.Context(), &store.Task{
		SessionID:    req.SessionID,
		Title:        req.Title,
		Description:  req.Description,
		Status:       req.Status,
		Priority:     req.Priority,
		Dependencies: req.Dependencies,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": taskID, "status": "created"})
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.store.ListTasks(c.Request.Context(),
		c.Query("session_id"), c.Query("status"), intQuery(c, "limit", 100))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) getTask(c *gin.Context) {
	taskID, ok := pathID(c, "id", "task")
	if !ok {
		return
	}
	task, err := s.store.GetTask(c.Request.Context(), taskID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		respondError(c, http.StatusNotFound, "task not found")
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) updateTask(c *gin.Context) {
	taskID, ok := pathID(c, "id", "task")
	if !ok {
		return
	}
	var req taskUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx := c.Request.Context()
	updated, err := s.store.UpdateTask(ctx, taskID, store.TaskUpdate{
		SessionID:    req.SessionID,
		Title:        req.Title,
		Description:  req.Description,
		Status:       req.Status,
		Priority:     req.Priority,
		Dependencies: req.Dependencies,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !updated {
		respondError(c, http.StatusNotFound, "task not found")
		return
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) deleteTask(c *gin.Context) {
	taskID, ok := pathID(c, "id", "task")
	if !ok {
		return
	}
	deleted, err := s.store.DeleteTask(c.Request.Context(), taskID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		respondError(c, http.StatusNotFound, "task not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// nextTask returns the highest-priority actionable task, or an empty result
// message when nothing is ready to run.
func (s *Server) nextTask(c *gin.Context) {
	task, err := s.store.NextTask(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		c.JSON(http.StatusOK, gin.H{"message": "no actionable tasks"})
		return
	}
	c.JSON(http.StatusOK, task)
}
