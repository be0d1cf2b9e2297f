// Package events provides subject names and utilities for the agentmux event system.
package events

// Broadcast subjects. Everything under "agentmux." is forwarded to SSE clients.
const (
	// SubjectEvent carries agent lifecycle events reported by hooks.
	SubjectEvent = "agentmux.event"

	// SubjectAlert carries stall alerts raised by the monitor.
	SubjectAlert = "agentmux.alert"

	// SubjectAction carries manual interventions (approve, reject, interrupt, stop).
	SubjectAction = "agentmux.action"

	// SubjectMessage carries mesh message traffic between agents.
	SubjectMessage = "agentmux.message"

	// SubjectRoute carries after-work routing results.
	SubjectRoute = "agentmux.route"

	// SubjectSpawn carries session spawn notifications.
	SubjectSpawn = "agentmux.spawn"
)

// WildcardSubject matches every broadcast subject.
const WildcardSubject = "agentmux.>"

// Event types carried on SubjectEvent
const (
	AgentStart      = "start"
	AgentCompletion = "completion"
	AgentApproval   = "approval"
	AgentQuestion   = "question"
	AgentError      = "error"
	AgentAuth       = "auth"
	AgentStop       = "stop"
)

// Event types carried on the other subjects
const (
	StallAlert   = "stall_alert"
	ManualAction = "manual_action"
	MeshMessage  = "mesh_message"
	RouteResult  = "route_result"
	SessionSpawn = "session_spawned"
	SessionEnded = "session_ended"
)
