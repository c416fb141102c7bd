package automation

import (
	"context"
	"fmt"

	"github.com/hirewire/whatsapp-agent/internal/events"
	"github.com/hirewire/whatsapp-agent/internal/store"
)

// Action types a rule may carry. Unknown types produce a failed summary, not
// an abort.
const (
	ActionSetStatus    = "set_status"
	ActionAddNote      = "add_note"
	ActionAssignToRole = "assign_to_role"
	ActionRunAgent     = "run_agent"
)

// Action is one ordered step of a matched rule.
type Action struct {
	Type       string `json:"type"`
	Status     string `json:"status,omitempty"`
	Text       string `json:"text,omitempty"`
	Visibility string `json:"visibility,omitempty"`
	Role       string `json:"role,omitempty"`
}

// runAction executes one action and returns a one-line summary. An error makes
// the whole rule run ERROR but later actions of the same rule still run.
func (e *Engine) runAction(ctx context.Context, a Action, conv *store.Conversation, ev events.TriggerEvent) (string, error) {
	switch a.Type {
	case ActionSetStatus:
		status := store.ConversationStatus(a.Status)
		if err := e.store.SetConversationStatus(ctx, conv.ID, status); err != nil {
			return "", err
		}
		conv.Status = status
		return "status set to " + a.Status, nil

	case ActionAddNote:
		visibility := a.Visibility
		if visibility == "" {
			visibility = "INTERNAL"
		}
		if _, err := e.store.InsertMessage(ctx, store.Message{
			ConversationID: conv.ID,
			Direction:      store.DirectionOutbound,
			Body:           a.Text,
			System:         true,
			Visibility:     &visibility,
		}); err != nil {
			return "", err
		}
		return "note added", nil

	case ActionAssignToRole:
		op, err := e.store.FindOperatorByRole(ctx, a.Role)
		if err != nil {
			return "", fmt.Errorf("automation: resolve role %q: %w", a.Role, err)
		}
		if conv.AssigneeID != nil && *conv.AssigneeID == op.ID {
			return "already assigned to " + op.Name, nil
		}
		if err := e.store.SetConversationAssignee(ctx, conv.ID, op.ID); err != nil {
			return "", err
		}
		conv.AssigneeID = &op.ID
		visibility := "OPERATORS"
		note := fmt.Sprintf("Conversación asignada a %s (%s).", op.Name, a.Role)
		if _, err := e.store.InsertMessage(ctx, store.Message{
			ConversationID: conv.ID,
			Direction:      store.DirectionOutbound,
			Body:           note,
			System:         true,
			Visibility:     &visibility,
		}); err != nil {
			e.logger.Error("failed to record assignment note", "error", err, "conversation_id", conv.ID)
		}
		return "assigned to " + op.Name, nil

	case ActionRunAgent:
		outcome, err := e.runner.Run(ctx, ev)
		if err != nil {
			return "", err
		}
		results, err := e.executor.Execute(ctx, outcome.RunID, outcome.Batch)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("agent run %s executed %d commands", outcome.RunID, len(results)), nil
	}
	return "", fmt.Errorf("automation: unknown action type %q", a.Type)
}
