package store

import (
	"encoding/json"
	"time"
)

// ConversationStatus is the lifecycle of a channel thread. Conversations are
// never deleted, only status-transitioned.
type ConversationStatus string

const (
	StatusNew    ConversationStatus = "NEW"
	StatusOpen   ConversationStatus = "OPEN"
	StatusClosed ConversationStatus = "CLOSED"
)

// Conversation identifies one messaging thread with a contact.
type Conversation struct {
	ID         string
	ContactID  string
	LineID     string
	Status     ConversationStatus
	Stage      string
	ProgramID  *string
	AssigneeID *string
	UpdatedAt  time.Time
}

// Contact is a messaging identity plus candidate profile fields. Profile
// fields are additive-patch only; NameLocked marks a manually-entered name
// that model-inferred names must never overwrite.
type Contact struct {
	ID              string
	Phone           string
	ChannelID       string
	Name            *string
	NameLocked      bool
	Email           *string
	NationalID      *string
	Country         *string
	Region          *string
	City            *string
	YearsExperience *int
	Availability    *string
	OptedOut        bool
	OptOutAt        *time.Time
	OptOutReason    *string
}

// ContactPatch is a partial update. Pointer fields are applied when non-nil;
// names listed in Clear are set to NULL. A patch never overwrites the whole
// profile.
type ContactPatch struct {
	Name            *string
	Email           *string
	NationalID      *string
	Country         *string
	Region          *string
	City            *string
	YearsExperience *int
	Availability    *string
	Clear           []string
}

// IsZero reports whether the patch carries no change at all.
func (p ContactPatch) IsZero() bool {
	return p.Name == nil && p.Email == nil && p.NationalID == nil &&
		p.Country == nil && p.Region == nil && p.City == nil &&
		p.YearsExperience == nil && p.Availability == nil && len(p.Clear) == 0
}

// MessageDirection tags a stored turn.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "INBOUND"
	DirectionOutbound MessageDirection = "OUTBOUND"
)

// Message is an immutable append-only record of one turn. It is the sole
// source of truth for window state and transcript context.
type Message struct {
	ID             string
	ConversationID string
	Direction      MessageDirection
	Body           string
	Transcript     *string
	MediaType      *string
	System         bool
	Visibility     *string
	CreatedAt      time.Time
}

// AgentRunStatus tracks one invocation of the model loop.
type AgentRunStatus string

const (
	RunRunning  AgentRunStatus = "RUNNING"
	RunPlanned  AgentRunStatus = "PLANNED"
	RunExecuted AgentRunStatus = "EXECUTED"
	RunError    AgentRunStatus = "ERROR"
)

// AgentRun is the audit record for one model-loop invocation. It becomes
// immutable once it reaches a terminal status.
type AgentRun struct {
	ID             string
	ConversationID string
	Trigger        string
	Status         AgentRunStatus
	Context        json.RawMessage
	Commands       json.RawMessage
	Results        json.RawMessage
	LastRawOutput  string
	Issues         json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OutboundLogEntry records every send attempt, blocked or not. The guardrail
// engine has no other memory.
type OutboundLogEntry struct {
	ID                string
	ConversationID    string
	DedupeKey         string
	TextHash          string
	BlockedReason     *string
	ProviderMessageID *string
	SendError         *string
	CreatedAt         time.Time
}

// AskedField counts how often the agent asked for one semantic profile field
// on a conversation, to detect and break repetition loops.
type AskedField struct {
	ConversationID string
	Field          string
	Count          int
	LastAskedAt    time.Time
	LastHash       string
}

// Program is a policy/prompt bundle a conversation can be attached to.
type Program struct {
	ID     string
	Name   string
	Slug   string
	Active bool
}

// Operator is a human user who can be assigned conversations.
type Operator struct {
	ID   string
	Name string
	Role string
}

// AutomationRule is user-authored configuration: a trigger, optional scope,
// AND-conditions, and an ordered action list.
type AutomationRule struct {
	ID         string
	Name       string
	Trigger    string
	LineID     *string
	ProgramID  *string
	Priority   int
	Enabled    bool
	Conditions json.RawMessage
	Actions    json.RawMessage
	CreatedAt  time.Time
}

// AutomationRunStatus is the outcome of one rule evaluation.
type AutomationRunStatus string

const (
	AutomationSuccess AutomationRunStatus = "SUCCESS"
	AutomationError   AutomationRunStatus = "ERROR"
)

// AutomationRun audits one rule evaluation for one trigger event.
type AutomationRun struct {
	ID             string
	RuleID         *string
	ConversationID string
	Trigger        string
	Status         AutomationRunStatus
	Summary        string
	CreatedAt      time.Time
}
