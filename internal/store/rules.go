package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Rule actions.
const (
	ActionApprove = "approve"
	ActionAuto    = "auto"
	ActionBlock   = "block"
)

// InsertRule stores a coordination rule and returns its row ID. Empty fields
// take the wildcard or default values.
func (s *Store) InsertRule(ctx context.Context, r *Rule) (int64, error) {
	fromAgent := r.FromAgent
	if fromAgent == "" {
		fromAgent = "*"
	}
	toAgent := r.ToAgent
	if toAgent == "" {
		toAgent = "*"
	}
	eventType := r.EventType
	if eventType == "" {
		eventType = "*"
	}
	action := r.Action
	if action == "" {
		action = ActionApprove
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO coordination_rules
			(from_agent, to_agent, event_type, action, priority, template)
		VALUES (?, ?, ?, ?, ?, ?)`,
		fromAgent, toAgent, eventType, action, r.Priority, r.Template,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert rule: %w", err)
	}
	return res.LastInsertId()
}

// ListRules returns all coordination rules in insertion order.
func (s *Store) ListRules(ctx context.Context) ([]Rule, error) {
	rules := []Rule{}
	if err := s.db.SelectContext(ctx, &rules,
		"SELECT * FROM coordination_rules ORDER BY id"); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// DeleteRule removes a rule. Returns false when the rule is unknown.
func (s *Store) DeleteRule(ctx context.Context, ruleID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM coordination_rules WHERE id = ?", ruleID)
	if err != nil {
		return false, fmt.Errorf("failed to delete rule %d: %w", ruleID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MatchRule finds the most specific rule for a sender/target/event triple.
// Exact fields beat wildcards, with sender specificity weighed first, then
// target, then event type; priority breaks ties within a specificity tier.
// With no matching rule the default is approve.
func (s *Store) MatchRule(ctx context.Context, fromAgent, toAgent, eventType string) (*Rule, error) {
	probes := [][3]string{
		{fromAgent, toAgent, eventType},
		{fromAgent, toAgent, "*"},
		{fromAgent, "*", eventType},
		{"*", toAgent, eventType},
		{fromAgent, "*", "*"},
		{"*", toAgent, "*"},
		{"*", "*", eventType},
		{"*", "*", "*"},
	}
	for _, p := range probes {
		var r Rule
		err := s.db.GetContext(ctx, &r, `
			SELECT * FROM coordination_rules
			WHERE from_agent = ? AND to_agent = ? AND event_type = ?
			ORDER BY priority DESC
			LIMIT 1`,
			p[0], p[1], p[2],
		)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to match rule: %w", err)
		}
		return &r, nil
	}
	return &Rule{Action: ActionApprove}, nil
}

// MatchRulesForEvent returns every rule whose sender and event type match,
// highest priority first. Used for after-work routing, where the target field
// names a destination rather than a filter.
func (s *Store) MatchRulesForEvent(ctx context.Context, agentName, eventType string) ([]Rule, error) {
	rules := []Rule{}
	err := s.db.SelectContext(ctx, &rules, `
		SELECT * FROM coordination_rules
		WHERE (from_agent = ? OR from_agent = '*')
		  AND (event_type = ? OR event_type = '*')
		ORDER BY priority DESC, id ASC`,
		agentName, eventType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to match rules for event: %w", err)
	}
	return rules, nil
}
