package server

import (
	"bytes"
	"encoding/json"

	"github.com/agentmux/agentmux/internal/store"
)

// eventRequest is the POST /api/events body. Hooks send the terminal handle as
// a nested JSON object; older hooks send it pre-serialized as a string.
type eventRequest struct {
	AgentName       string          `json:"agent_name"`
	SessionID       string          `json:"session_id"`
	ParentSessionID string          `json:"parent_session_id"`
	Category        string          `json:"category"`
	Title           string          `json:"title"`
	Message         string          `json:"message"`
	ProjectCwd      string          `json:"project_cwd"`
	GitBranch       string          `json:"git_branch"`
	WorkSummary     string          `json:"work_summary"`
	Terminal        json.RawMessage `json:"terminal"`
}

func (r *eventRequest) toEvent() *store.Event {
	return &store.Event{
		AgentName:       r.AgentName,
		SessionID:       r.SessionID,
		ParentSessionID: r.ParentSessionID,
		Category:        r.Category,
		Title:           r.Title,
		Message:         r.Message,
		ProjectCwd:      r.ProjectCwd,
		GitBranch:       r.GitBranch,
		WorkSummary:     r.WorkSummary,
		Terminal:        rawTerminal(r.Terminal),
	}
}

// rawTerminal normalizes the terminal field to the stored string form.
func rawTerminal(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

type heartbeatRequest struct {
	SessionID string `json:"session_id"`
}

type sendRequest struct {
	Text string `json:"text"`
}

type spawnRequest struct {
	Agent  string `json:"agent"`
	Prompt string `json:"prompt"`
	Cwd    string `json:"cwd"`
}

type messageRequest struct {
	FromSession string `json:"from_session"`
	ToSession   string `json:"to_session"`
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
}

type taskRequest struct {
	SessionID    string  `json:"session_id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Status       string  `json:"status"`
	Priority     string  `json:"priority"`
	Dependencies []int64 `json:"dependencies"`
}

// taskUpdateRequest distinguishes absent fields from empty ones.
type taskUpdateRequest struct {
	SessionID    *string  `json:"session_id"`
	Title        *string  `json:"title"`
	Description  *string  `json:"description"`
	Status       *string  `json:"status"`
	Priority     *string  `json:"priority"`
	Dependencies *[]int64 `json:"dependencies"`
}

type ruleRequest struct {
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
	EventType string `json:"event_type"`
	Action    string `json:"action"`
	Priority  int64  `json:"priority"`
	Template  string `json:"template"`
}

type contextRequest struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Scope     string `json:"scope"`
	UpdatedBy string `json:"updated_by"`
}

type preferenceRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
