// Package schedule defines the interview-scheduling collaborator contract.
// Slot-conflict resolution happens on the other side of this interface.
package schedule

import "context"

// Request carries whatever the agent extracted: at least a date or a
// day/time pair.
type Request struct {
	ConversationID string
	ContactID      string
	Date           string
	Day            string
	Time           string
	Location       string
	Confirmed      bool
}

// Outcome is returned verbatim to the command results.
type Outcome struct {
	Scheduled bool
	Detail    string
}

// Scheduler books interviews for candidates.
type Scheduler interface {
	ScheduleInterview(ctx context.Context, req Request) (Outcome, error)
}
