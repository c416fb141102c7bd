package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertAgentRun creates the audit record at loop start, status RUNNING.
func (s *Store) InsertAgentRun(ctx context.Context, run AgentRun) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	query := `
		INSERT INTO agent_runs (id, conversation_id, trigger, status, context, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
	`
	if _, err := s.pool.Exec(ctx, query, run.ID, run.ConversationID, run.Trigger, run.Status, run.Context); err != nil {
		return "", fmt.Errorf("store: insert agent run: %w", err)
	}
	return run.ID, nil
}

// AgentRunUpdate carries the fields written when a run transitions state.
type AgentRunUpdate struct {
	Status        AgentRunStatus
	Commands      json.RawMessage
	Results       json.RawMessage
	LastRawOutput string
	Issues        json.RawMessage
}

// UpdateAgentRun moves a run to a new status, preserving the last invalid raw
// output and issue list for postmortem.
func (s *Store) UpdateAgentRun(ctx context.Context, id string, upd AgentRunUpdate) error {
	query := `
		UPDATE agent_runs
		SET status = $2,
		    commands = COALESCE($3, commands),
		    results = COALESCE($4, results),
		    last_raw_output = CASE WHEN $5 = '' THEN last_raw_output ELSE $5 END,
		    issues = COALESCE($6, issues),
		    updated_at = now()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id, upd.Status, upd.Commands, upd.Results, upd.LastRawOutput, upd.Issues); err != nil {
		return fmt.Errorf("store: update agent run: %w", err)
	}
	return nil
}

// ListActivePrograms returns the programs available for assignment.
func (s *Store) ListActivePrograms(ctx context.Context) ([]Program, error) {
	query := `
		SELECT id, name, slug, active
		FROM programs
		WHERE active
		ORDER BY name ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list programs: %w", err)
	}
	defer rows.Close()

	var out []Program
	for rows.Next() {
		var p Program
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.Active); err != nil {
			return nil, fmt.Errorf("store: scan program: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindOperatorByRole resolves the configured holder of a role, e.g. the
// recruiter on duty.
func (s *Store) FindOperatorByRole(ctx context.Context, role string) (*Operator, error) {
	query := `
		SELECT id, name, role
		FROM operators
		WHERE role = $1
		ORDER BY created_at ASC
		LIMIT 1
	`
	var op Operator
	if err := s.pool.QueryRow(ctx, query, role).Scan(&op.ID, &op.Name, &op.Role); err != nil {
		return nil, fmt.Errorf("store: find operator by role: %w", err)
	}
	return &op, nil
}

// ListEnabledRules returns enabled rules for a trigger, ascending priority
// then creation time.
func (s *Store) ListEnabledRules(ctx context.Context, trigger string) ([]AutomationRule, error) {
	query := `
		SELECT id, name, trigger, line_id, program_id, priority, enabled, conditions, actions, created_at
		FROM automation_rules
		WHERE enabled AND trigger = $1
		ORDER BY priority ASC, created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, trigger)
	if err != nil {
		return nil, fmt.Errorf("store: list enabled rules: %w", err)
	}
	defer rows.Close()

	var out []AutomationRule
	for rows.Next() {
		var r AutomationRule
		if err := rows.Scan(&r.ID, &r.Name, &r.Trigger, &r.LineID, &r.ProgramID, &r.Priority, &r.Enabled, &r.Conditions, &r.Actions, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertAutomationRun audits one rule evaluation.
func (s *Store) InsertAutomationRun(ctx context.Context, run AutomationRun) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO automation_runs (id, rule_id, conversation_id, trigger, status, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := s.pool.Exec(ctx, query, run.ID, run.RuleID, run.ConversationID, run.Trigger, run.Status, run.Summary, run.CreatedAt); err != nil {
		return "", fmt.Errorf("store: insert automation run: %w", err)
	}
	return run.ID, nil
}
