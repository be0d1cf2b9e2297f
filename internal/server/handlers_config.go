package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentmux/agentmux/internal/store"
)

func (s *Server) postRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ruleID, err := s.store.InsertRule(c.Request.Context(), &store.Rule{
		FromAgent: req.FromAgent,
		ToAgent:   req.ToAgent,
		EventType: req.EventType,
		Action:    req.Action,
		Priority:  req.Priority,
		Template:  req.Template,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": ruleID, "status": "created"})
}

func (s *Server) listRules(c *gin.Context) {
	rules, err := s.store.ListRules(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (s *Server) deleteRule(c *gin.Context) {
	ruleID, ok := pathID(c, "id", "rule")
	if !ok {
		return
	}
	deleted, err := s.store.DeleteRule(c.Request.Context(), ruleID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		respondError(c, http.StatusNotFound, "rule not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) listContext(c *gin.Context) {
	vars, err := s.store.ListContext(c.Request.Context(), c.Query("scope"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, vars)
}

func (s *Server) setContext(c *gin.Context) {
	var req contextRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Key == "" {
		respondError(c, http.StatusBadRequest, "key required")
		return
	}
	scope := req.Scope
	if scope == "" {
		scope = "global"
	}
	if err := s.store.SetContext(c.Request.Context(), req.Key, scope, req.Value, req.UpdatedBy); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"key":    req.Key,
		"scope":  scope,
		"value":  req.Value,
	})
}

func (s *Server) deleteContext(c *gin.Context) {
	scope := c.DefaultQuery("scope", "global")
	deleted, err := s.store.DeleteContext(c.Request.Context(), c.Param("key"), scope)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		respondError(c, http.StatusNotFound, "context variable not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) listPreferences(c *gin.Context) {
	prefs, err := s.store.ListPreferences(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func (s *Server) setPreference(c *gin.Context) {
	var req preferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Key == "" {
		respondError(c, http.StatusBadRequest, "key required")
		return
	}
	if err := s.store.SetPreference(c.Request.Context(), req.Key, req.Value); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "key": req.Key, "value": req.Value})
}

func (s *Server) deletePreference(c *gin.Context) {
	deleted, err := s.store.DeletePreference(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		respondError(c, http.StatusNotFound, "preference not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
