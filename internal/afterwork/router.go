// Package afterwork routes follow-up actions when an agent finishes working.
//
// Coordination rules whose action names a routing strategy fire on completion
// and stop events: assign the next task, hand off to another session, spawn a
// fresh agent, notify observers, or run a pipeline of those.
package afterwork

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/store"
	"github.com/agentmux/agentmux/internal/terminal"
)

// Routing actions. Rules with message actions (approve, auto, block) belong to
// the mesh and are ignored here.
const (
	ActionNextTask = "next_task"
	ActionHandoff  = "handoff"
	ActionSpawn    = "spawn"
	ActionNotify   = "notify"
	ActionPipeline = "pipeline"
)

// PaneDriver is the part of the terminal driver after-work routing needs.
type PaneDriver interface {
	SendText(ctx context.Context, h *terminal.Handle, text string) error
	Spawn(ctx context.Context, agent, prompt, cwd string, mux *terminal.Handle) (*terminal.Handle, error)
}

// Result describes the outcome of one routing action.
type Result struct {
	Action          string   `json:"action"`
	Status          string   `json:"status"`
	TaskID          int64    `json:"task_id,omitempty"`
	TaskTitle       string   `json:"task_title,omitempty"`
	TargetSessionID string   `json:"target_session_id,omitempty"`
	PaneID          string   `json:"pane_id,omitempty"`
	Agent           string   `json:"agent,omitempty"`
	Message         string   `json:"message,omitempty"`
	Error           string   `json:"error,omitempty"`
	Steps           []Result `json:"steps,omitempty"`
}

// spawnConfig is the JSON shape of a spawn rule's template.
type spawnConfig struct {
	Agent  string `json:"agent"`
	Prompt string `json:"prompt"`
	Cwd    string `json:"cwd"`
}

// Router executes after-work routing rules.
type Router struct {
	store  *store.Store
	panes  PaneDriver
	logger *logger.Logger
}

// NewRouter creates an after-work router.
func NewRouter(st *store.Store, panes PaneDriver, log *logger.Logger) *Router {
	return &Router{store: st, panes: panes, logger: log}
}

// RouteAfterWork runs every matching routing rule for a finished agent and
// returns one result per rule. Only completion and stop events trigger
// routing. A failing rule is reported in its result; it never stops the rest
// of the batch.
func (r *Router) RouteAfterWork(ctx context.Context, event *store.Event) ([]Result, error) {
	if event.Category != "completion" && event.Category != "stop" {
		return nil, nil
	}

	rules, err := r.store.MatchRulesForEvent(ctx, event.AgentName, event.Category)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, rule := range rules {
		switch rule.Action {
		case ActionNextTask, ActionHandoff, ActionSpawn, ActionNotify, ActionPipeline:
		default:
			continue
		}
		result, err := r.execute(ctx, rule.Action, rule.Template, event)
		if err != nil {
			r.logger.Error("Routing rule failed",
				zap.Int64("rule_id", rule.ID),
				zap.String("action", rule.Action),
				zap.Error(err))
			result = Result{Action: rule.Action, Status: "failed", Error: err.Error()}
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *Router) execute(ctx context.Context, action, template string, event *store.Event) (Result, error) {
	switch action {
	case ActionNextTask:
		return r.routeNextTask(ctx, event.SessionID)
	case ActionHandoff:
		return r.routeHandoff(ctx, event, template)
	case ActionSpawn:
		return r.routeSpawn(ctx, event, template)
	case ActionNotify:
		return r.routeNotify(event, template), nil
	case ActionPipeline:
		return r.routePipeline(ctx, event, template)
	}
	return Result{Action: action, Status: "unknown_action"}, nil
}

// routeNextTask assigns the next actionable task to the agent that just
// finished, preferring tasks already scoped to its session.
func (r *Router) routeNextTask(ctx context.Context, sessionID string) (Result, error) {
	task, err := r.store.NextTask(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	if task == nil {
		task, err = r.store.NextTask(ctx, "")
		if err != nil {
			return Result{}, err
		}
	}
	if task == nil {
		return Result{Action: ActionNextTask, Status: "no_tasks"}, nil
	}

	status := store.TaskInProgress
	if _, err := r.store.UpdateTask(ctx, task.ID, store.TaskUpdate{
		Status:    &status,
		SessionID: &sessionID,
	}); err != nil {
		return Result{}, err
	}

	session, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	if session != nil {
		text := formatTaskText(task)
		if handle, err := terminal.ParseHandle(session.Terminal); err == nil {
			// Assignment stands even if the pane is unreachable.
			if err := r.panes.SendText(ctx, handle, text); err != nil {
				r.logger.Warn("Failed to send task to pane",
					zap.String("session_id", sessionID),
					zap.Error(err))
			}
		}
	}

	return Result{
		Action:    ActionNextTask,
		Status:    "assigned",
		TaskID:    task.ID,
		TaskTitle: task.Title,
	}, nil
}

func formatTaskText(task *store.Task) string {
	text := fmt.Sprintf("[Next Task #%d] %s", task.ID, task.Title)
	if task.Description != "" {
		text += "\n" + task.Description
	}
	return text + "\n"
}

// routeHandoff forwards the finished agent's work to another session and
// records the handoff as a mesh message.
func (r *Router) routeHandoff(ctx context.Context, event *store.Event, template string) (Result, error) {
	targetSessionID := strings.TrimSpace(template)
	if targetSessionID == "" {
		return Result{
			Action: ActionHandoff,
			Status: "no_target",
			Error:  "template must contain target session_id",
		}, nil
	}

	target, err := r.store.GetSession(ctx, targetSessionID)
	if err != nil {
		return Result{}, err
	}
	if target == nil {
		return Result{
			Action: ActionHandoff,
			Status: "target_not_found",
			Error:  "session " + targetSessionID + " not found",
		}, nil
	}

	agentName := event.AgentName
	if agentName == "" {
		agentName = "Agent"
	}
	content := event.WorkSummary
	if content == "" {
		content = event.Message
	}
	if content == "" {
		content = "Work completed"
	}

	delivered := false
	if handle, err := terminal.ParseHandle(target.Terminal); err == nil {
		text := "[Handoff from " + agentName + "] " + content + "\n"
		if err := r.panes.SendText(ctx, handle, text); err == nil {
			delivered = true
		} else {
			r.logger.Warn("Handoff delivery failed",
				zap.String("target_session_id", targetSessionID),
				zap.Error(err))
		}
	}

	status := store.MessagePending
	if delivered {
		status = store.MessageDelivered
	}
	if _, err := r.store.InsertMessage(ctx, &store.Message{
		FromSession: event.SessionID,
		ToSession:   targetSessionID,
		MessageType: "handoff",
		Content:     content,
		Status:      status,
	}); err != nil {
		return Result{}, err
	}

	return Result{
		Action:          ActionHandoff,
		Status:          status,
		TargetSessionID: targetSessionID,
	}, nil
}

// routeSpawn launches a new agent pane from the rule template.
func (r *Router) routeSpawn(ctx context.Context, event *store.Event, template string) (Result, error) {
	var cfg spawnConfig
	if template != "" {
		if err := json.Unmarshal([]byte(template), &cfg); err != nil {
			// Not JSON: treat the whole template as the prompt.
			cfg = spawnConfig{Prompt: template}
		}
	}
	if cfg.Agent == "" {
		cfg.Agent = "claude"
	}
	if cfg.Cwd == "" {
		cfg.Cwd = event.ProjectCwd
	}
	// {summary} in the prompt picks up the finishing agent's work summary.
	if strings.Contains(cfg.Prompt, "{summary}") && event.WorkSummary != "" {
		cfg.Prompt = strings.ReplaceAll(cfg.Prompt, "{summary}", event.WorkSummary)
	}

	handle, err := r.panes.Spawn(ctx, cfg.Agent, cfg.Prompt, cfg.Cwd, nil)
	if err != nil {
		return Result{Action: ActionSpawn, Status: "failed", Error: err.Error()}, nil
	}
	return Result{
		Action: ActionSpawn,
		Status: "spawned",
		PaneID: handle.PaneID(),
		Agent:  cfg.Agent,
	}, nil
}

// routeNotify produces a broadcast-only result; no terminal action.
func (r *Router) routeNotify(event *store.Event, template string) Result {
	message := template
	if message == "" {
		agentName := event.AgentName
		if agentName == "" {
			agentName = "Agent"
		}
		message = agentName + " finished"
	}
	return Result{Action: ActionNotify, Status: "ok", Message: message}
}

// routePipeline executes a JSON array of {action, template} steps in order.
// Non-object entries are skipped; a failing step does not stop the pipeline.
func (r *Router) routePipeline(ctx context.Context, event *store.Event, template string) (Result, error) {
	var raw []json.RawMessage
	if template != "" {
		if err := json.Unmarshal([]byte(template), &raw); err != nil {
			return Result{Action: ActionPipeline, Status: "invalid_template"}, nil
		}
	}

	var steps []Result
	for _, entry := range raw {
		var step struct {
			Action   string `json:"action"`
			Template string `json:"template"`
		}
		if err := json.Unmarshal(entry, &step); err != nil {
			continue
		}
		result, err := r.execute(ctx, step.Action, step.Template, event)
		if err != nil {
			r.logger.Error("Pipeline step failed",
				zap.String("action", step.Action),
				zap.Error(err))
			result = Result{Action: step.Action, Status: "failed", Error: err.Error()}
		}
		steps = append(steps, result)
	}
	return Result{Action: ActionPipeline, Status: "ok", Steps: steps}, nil
}
