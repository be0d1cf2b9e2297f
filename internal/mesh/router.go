// Package mesh routes messages between agent sessions.
//
// Agents never talk to each other directly. A message goes through the daemon,
// coordination rules decide whether it flows, and delivery means typing the
// text into the target agent's terminal pane.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/store"
	"github.com/agentmux/agentmux/internal/terminal"
)

// Route outcomes.
const (
	RouteDelivered = "delivered"
	RoutePending   = "pending"
	RouteBlocked   = "blocked"
	RouteError     = "error"
)

var (
	// ErrMessageNotFound means the message ID is unknown.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotPending means the message already left the pending state.
	ErrNotPending = errors.New("message is not pending")
	// ErrTargetNotFound means the target session is unknown.
	ErrTargetNotFound = errors.New("target session not found")
)

// PaneWriter is the part of the terminal driver the mesh needs.
type PaneWriter interface {
	SendText(ctx context.Context, h *terminal.Handle, text string) error
}

// Result describes what happened to a routed message.
type Result struct {
	Action    string `json:"action"`
	MessageID int64  `json:"message_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Router applies coordination rules to mesh messages and delivers them.
type Router struct {
	store  *store.Store
	panes  PaneWriter
	logger *logger.Logger
}

// NewRouter creates a mesh router.
func NewRouter(st *store.Store, panes PaneWriter, log *logger.Logger) *Router {
	return &Router{store: st, panes: panes, logger: log}
}

// RouteMessage routes a queued message according to coordination rules.
//
// block rejects the message, auto delivers it immediately, and the default
// approve leaves it pending for a manual decision. A missing target is
// reported as an error result while the message stays pending, so it can be
// delivered once the target session registers.
func (r *Router) RouteMessage(ctx context.Context, messageID int64) (*Result, error) {
	msg, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return &Result{Action: RouteError, Error: "message not found"}, nil
	}

	fromSession, err := r.store.GetSession(ctx, msg.FromSession)
	if err != nil {
		return nil, err
	}
	toSession, err := r.store.GetSession(ctx, msg.ToSession)
	if err != nil {
		return nil, err
	}
	if toSession == nil {
		return &Result{
			Action: RouteError,
			Error:  fmt.Sprintf("target session not found: %s", msg.ToSession),
		}, nil
	}

	fromAgent := "unknown"
	if fromSession != nil {
		fromAgent = fromSession.AgentName
	}

	rule, err := r.store.MatchRule(ctx, fromAgent, toSession.AgentName, msg.MessageType)
	if err != nil {
		return nil, err
	}

	switch rule.Action {
	case store.ActionBlock:
		if _, err := r.store.UpdateMessageStatus(ctx, messageID, store.MessageRejected, ""); err != nil {
			return nil, err
		}
		r.logger.Info("Message blocked by rule",
			zap.Int64("message_id", messageID),
			zap.Int64("rule_id", rule.ID))
		return &Result{Action: RouteBlocked, Reason: "coordination rule"}, nil

	case store.ActionAuto:
		return r.deliver(ctx, msg, toSession)

	default:
		return &Result{Action: RoutePending, MessageID: messageID}, nil
	}
}

// ApproveMessage manually approves and delivers a pending message.
func (r *Router) ApproveMessage(ctx context.Context, messageID int64) (*Result, error) {
	msg, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	if msg.Status != store.MessagePending {
		return nil, fmt.Errorf("%w: message is %s", ErrNotPending, msg.Status)
	}

	toSession, err := r.store.GetSession(ctx, msg.ToSession)
	if err != nil {
		return nil, err
	}
	if toSession == nil {
		return nil, ErrTargetNotFound
	}
	return r.deliver(ctx, msg, toSession)
}

// RejectMessage rejects a pending message without delivering it.
func (r *Router) RejectMessage(ctx context.Context, messageID int64) (*Result, error) {
	msg, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	if msg.Status != store.MessagePending {
		return nil, fmt.Errorf("%w: message is %s", ErrNotPending, msg.Status)
	}

	if _, err := r.store.UpdateMessageStatus(ctx, messageID, store.MessageRejected, ""); err != nil {
		return nil, err
	}
	return &Result{Action: RouteBlocked, MessageID: messageID}, nil
}

// deliver types the message into the target pane and marks it delivered.
// Delivery failures leave the message in its current status for retry.
func (r *Router) deliver(ctx context.Context, msg *store.Message, toSession *store.Session) (*Result, error) {
	fromName := "unknown"
	if fromSession, err := r.store.GetSession(ctx, msg.FromSession); err != nil {
		return nil, err
	} else if fromSession != nil {
		fromName = fromSession.AgentName
	}

	handle, err := terminal.ParseHandle(toSession.Terminal)
	if err != nil {
		return &Result{Action: RouteError, MessageID: msg.ID, Error: err.Error()}, nil
	}

	// The source prefix tells the receiving agent who is talking.
	text := fmt.Sprintf("[From %s] %s\n", fromName, msg.Content)
	if err := r.panes.SendText(ctx, handle, text); err != nil {
		r.logger.Warn("Message delivery failed",
			zap.Int64("message_id", msg.ID),
			zap.String("to_session", msg.ToSession),
			zap.Error(err))
		return &Result{Action: RouteError, MessageID: msg.ID, Error: err.Error()}, nil
	}

	now := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	if _, err := r.store.UpdateMessageStatus(ctx, msg.ID, store.MessageDelivered, now); err != nil {
		return nil, err
	}
	r.logger.Info("Message delivered",
		zap.Int64("message_id", msg.ID),
		zap.String("from", msg.FromSession),
		zap.String("to", msg.ToSession))
	return &Result{Action: RouteDelivered, MessageID: msg.ID}, nil
}
