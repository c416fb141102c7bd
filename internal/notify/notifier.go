package notify

import "context"

// AdminNotice is an operator-facing alert raised by the agent.
type AdminNotice struct {
	Severity       string
	ConversationID string
	Text           string
}

// Notifier delivers admin notices out of band.
type Notifier interface {
	NotifyAdmin(ctx context.Context, notice AdminNotice) error
}
