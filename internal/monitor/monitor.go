// Package monitor watches agent sessions for stalls and escalates alerts.
//
// Escalation is graduated rather than binary: a session with no events climbs
// from stale (warning) to stuck (alert) to dead (critical) as the silence
// grows. A single fresh event resets the level to zero, so a briefly slow
// agent never flaps between alerting and clearing.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/common/config"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/events/bus"
	"github.com/agentmux/agentmux/internal/store"
)

// Escalation levels.
const (
	LevelNormal = 0
	LevelStale  = 1
	LevelStuck  = 2
	LevelDead   = 3
)

// tier maps an escalation level to its threshold and alert wording.
type tier struct {
	level     int
	threshold int
	alertType string
	severity  string
}

// SessionStore is the part of the store the monitor needs.
type SessionStore interface {
	StaleSessions(ctx context.Context, seconds int) ([]store.Session, error)
}

// Monitor periodically scans for silent sessions and publishes stall alerts
// on the event bus.
type Monitor struct {
	store  SessionStore
	bus    bus.EventBus
	cfg    config.MonitorConfig
	logger *logger.Logger

	mu     sync.Mutex
	levels map[string]int

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewMonitor creates a stall monitor. Start must be called to begin scanning.
func NewMonitor(st SessionStore, eventBus bus.EventBus, cfg config.MonitorConfig, log *logger.Logger) *Monitor {
	return &Monitor{
		store:  st,
		bus:    eventBus,
		cfg:    cfg,
		logger: log,
		levels: make(map[string]int),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the background scan loop.
func (m *Monitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

// Stop terminates the scan loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.CheckIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			// A failing scan must never take the daemon down with it.
			if err := m.check(ctx); err != nil {
				m.logger.Warn("Stall check failed", zap.Error(err))
			}
		}
	}
}

// check scans every tier and escalates sessions that crossed a new threshold.
// A session only ever moves up; repeats at the same level are suppressed.
func (m *Monitor) check(ctx context.Context) error {
	tiers := []tier{
		{LevelStale, m.cfg.StaleThreshold, "stale_agent", "warning"},
		{LevelStuck, m.cfg.StuckThreshold, "stuck_agent", "alert"},
		{LevelDead, m.cfg.DeadThreshold, "dead_agent", "critical"},
	}

	for _, t := range tiers {
		stale, err := m.store.StaleSessions(ctx, t.threshold)
		if err != nil {
			return err
		}
		for _, session := range stale {
			if !m.escalate(session.SessionID, t.level) {
				continue
			}
			event := bus.NewEvent(events.StallAlert, "monitor", map[string]any{
				"type":        "alert",
				"alert_type":  t.alertType,
				"severity":    t.severity,
				"level":       t.level,
				"session_id":  session.SessionID,
				"agent_name":  session.AgentName,
				"project_cwd": session.ProjectCwd,
				"status":      session.Status,
				"last_seen":   session.LastSeen,
				"message":     alertMessage(session, t.level),
			})
			if err := m.bus.Publish(ctx, events.SubjectAlert, event); err != nil {
				m.logger.Warn("Failed to publish stall alert",
					zap.String("session_id", session.SessionID),
					zap.Error(err))
				continue
			}
			m.logger.Info("Session escalated",
				zap.String("session_id", session.SessionID),
				zap.String("alert_type", t.alertType),
				zap.Int("level", t.level))
		}
	}
	return nil
}

// escalate records the new level and reports whether it is an actual step up.
func (m *Monitor) escalate(sessionID string, level int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels[sessionID] >= level {
		return false
	}
	m.levels[sessionID] = level
	return true
}

// ClearAlert resets a session's escalation level. Called whenever the session
// produces a new event, so one sign of life is enough to stand down.
func (m *Monitor) ClearAlert(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.levels, sessionID)
}

// Level returns the current escalation level for a session.
func (m *Monitor) Level(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[sessionID]
}

func alertMessage(session store.Session, level int) string {
	agent := session.AgentName
	if agent == "" {
		agent = "Agent"
	}
	project := session.ProjectCwd
	if project == "" {
		project = "?"
	}
	switch level {
	case LevelStale:
		return fmt.Sprintf("%s in %s may be stalling (no recent output)", agent, project)
	case LevelStuck:
		return fmt.Sprintf("%s in %s appears stuck (no output for 5+ min)", agent, project)
	case LevelDead:
		return fmt.Sprintf("%s in %s appears dead (no output for 15+ min)", agent, project)
	}
	return fmt.Sprintf("%s in %s status unknown", agent, project)
}
