package store

import "encoding/json"

// Session status values derived from event categories.
const (
	StatusActive  = "active"
	StatusIdle    = "idle"
	StatusWaiting = "waiting"
	StatusError   = "error"
	StatusEnded   = "ended"
)

// statusMap translates an event category into the session status it implies.
var statusMap = map[string]string{
	"start":      StatusActive,
	"completion": StatusIdle,
	"approval":   StatusWaiting,
	"question":   StatusWaiting,
	"error":      StatusError,
	"auth":       StatusActive,
	"stop":       StatusEnded,
}

// StatusForCategory returns the session status implied by an event category.
// Unknown categories map to active.
func StatusForCategory(category string) string {
	if s, ok := statusMap[category]; ok {
		return s
	}
	return StatusActive
}

// Event is a single lifecycle report from an agent hook.
// Terminal holds the pane handle as a JSON object string ('{}' when absent).
type Event struct {
	ID              int64  `db:"id" json:"id"`
	AgentName       string `db:"agent_name" json:"agent_name"`
	SessionID       string `db:"session_id" json:"session_id"`
	ParentSessionID string `db:"parent_session_id" json:"parent_session_id"`
	Category        string `db:"category" json:"category"`
	Title           string `db:"title" json:"title"`
	Message         string `db:"message" json:"message"`
	ProjectCwd      string `db:"project_cwd" json:"project_cwd"`
	GitBranch       string `db:"git_branch" json:"git_branch"`
	Terminal        string `db:"terminal" json:"terminal"`
	WorkSummary     string `db:"work_summary" json:"work_summary"`
	CreatedAt       string `db:"created_at" json:"created_at"`
}

// Session is the registry row tracking an agent session's lifecycle.
type Session struct {
	SessionID       string `db:"session_id" json:"session_id"`
	ParentSessionID string `db:"parent_session_id" json:"parent_session_id"`
	AgentName       string `db:"agent_name" json:"agent_name"`
	ProjectCwd      string `db:"project_cwd" json:"project_cwd"`
	GitBranch       string `db:"git_branch" json:"git_branch"`
	Terminal        string `db:"terminal" json:"terminal"`
	Status          string `db:"status" json:"status"`
	LastEvent       string `db:"last_event" json:"last_event"`
	FirstSeen       string `db:"first_seen" json:"first_seen"`
	LastSeen        string `db:"last_seen" json:"last_seen"`
	LastHeartbeat   string `db:"last_heartbeat" json:"last_heartbeat"`
	EndedAt         string `db:"ended_at" json:"ended_at"`
	EventCount      int64  `db:"event_count" json:"event_count"`
}

// Message is a mesh message between two sessions.
type Message struct {
	ID          int64   `db:"id" json:"id"`
	FromSession string  `db:"from_session" json:"from_session"`
	ToSession   string  `db:"to_session" json:"to_session"`
	MessageType string  `db:"message_type" json:"message_type"`
	Content     string  `db:"content" json:"content"`
	Status      string  `db:"status" json:"status"`
	CreatedAt   string  `db:"created_at" json:"created_at"`
	DeliveredAt *string `db:"delivered_at" json:"delivered_at"`
}

// Rule is a coordination rule. Wildcard '*' matches any agent or event type.
type Rule struct {
	ID        int64  `db:"id" json:"id"`
	FromAgent string `db:"from_agent" json:"from_agent"`
	ToAgent   string `db:"to_agent" json:"to_agent"`
	EventType string `db:"event_type" json:"event_type"`
	Action    string `db:"action" json:"action"`
	Priority  int64  `db:"priority" json:"priority"`
	Template  string `db:"template" json:"template"`
	CreatedAt string `db:"created_at" json:"created_at"`
}

// Task is a work item in the shared task queue. Dependencies are task IDs that
// must be done before this task becomes actionable.
type Task struct {
	ID              int64   `db:"id" json:"id"`
	SessionID       string  `db:"session_id" json:"session_id"`
	Title           string  `db:"title" json:"title"`
	Description     string  `db:"description" json:"description"`
	Status          string  `db:"status" json:"status"`
	Priority        string  `db:"priority" json:"priority"`
	DependenciesRaw string  `db:"dependencies" json:"-"`
	Dependencies    []int64 `db:"-" json:"dependencies"`
	CreatedAt       string  `db:"created_at" json:"created_at"`
	UpdatedAt       string  `db:"updated_at" json:"updated_at"`
}

// decodeDependencies parses the stored JSON array. Malformed values decode to
// an empty list rather than an error, matching how reads tolerate old rows.
func (t *Task) decodeDependencies() {
	t.Dependencies = []int64{}
	if t.DependenciesRaw == "" {
		return
	}
	var deps []int64
	if err := json.Unmarshal([]byte(t.DependenciesRaw), &deps); err == nil {
		t.Dependencies = deps
	}
}

// encodeDependencies serializes the dependency list for storage.
func encodeDependencies(deps []int64) string {
	if len(deps) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(deps)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

// ContextVar is a shared key/value visible to all agents within a scope.
type ContextVar struct {
	Key       string `db:"key" json:"key"`
	Scope     string `db:"scope" json:"scope"`
	Value     string `db:"value" json:"value"`
	UpdatedBy string `db:"updated_by" json:"updated_by"`
	UpdatedAt string `db:"updated_at" json:"updated_at"`
}
