package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hirewire/whatsapp-agent/internal/channel"
	"github.com/hirewire/whatsapp-agent/internal/guardrail"
	"github.com/hirewire/whatsapp-agent/internal/notify"
	"github.com/hirewire/whatsapp-agent/internal/observability/metrics"
	"github.com/hirewire/whatsapp-agent/internal/policy"
	"github.com/hirewire/whatsapp-agent/internal/schedule"
	"github.com/hirewire/whatsapp-agent/internal/store"
	"github.com/hirewire/whatsapp-agent/pkg/logging"
)

var execTracer = otel.Tracer("hirewire.internal.agent.executor")

// ErrMixedConversations rejects a batch whose commands target more than one
// conversation. This is a fatal planning defect, not a per-command failure.
var ErrMixedConversations = errors.New("agent: batch targets multiple conversations")

// Command outcomes. A BLOCKED send is an expected policy result; FAILED means
// the command itself could not run.
const (
	OutcomeExecuted = "EXECUTED"
	OutcomeBlocked  = "BLOCKED"
	OutcomeSkipped  = "SKIPPED"
	OutcomeFailed   = "FAILED"
)

// CommandResult records the outcome of one command, serialized onto the
// AgentRun for audit.
type CommandResult struct {
	Command CommandTag `json:"command"`
	Outcome string     `json:"outcome"`
	Detail  string     `json:"detail,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

// ExecutorStore is the slice of the record store the executor mutates.
type ExecutorStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetContact(ctx context.Context, id string) (*store.Contact, error)
	PatchContact(ctx context.Context, id string, patch store.ContactPatch) error
	SetOptOut(ctx context.Context, id string, optedOut bool, reason string) error
	SetConversationStatus(ctx context.Context, id string, status store.ConversationStatus) error
	SetConversationStage(ctx context.Context, id, stage string) error
	SetConversationProgram(ctx context.Context, id, programID string) error
	InsertMessage(ctx context.Context, m store.Message) (string, error)
	InsertOutboundLog(ctx context.Context, e store.OutboundLogEntry) (string, error)
	RecentOutboundLog(ctx context.Context, conversationID string, since time.Time) ([]store.OutboundLogEntry, error)
	AskedFields(ctx context.Context, conversationID string) (map[string]store.AskedField, error)
	IncrementAskedField(ctx context.Context, conversationID, field, hash string) error
	UpdateAgentRun(ctx context.Context, id string, upd store.AgentRunUpdate) error
}

// Executor applies a planned batch. Commands are applied in order; one failed
// command never aborts the rest of the batch.
type Executor struct {
	store     ExecutorStore
	messenger channel.Messenger
	scheduler schedule.Scheduler
	notifier  notify.Notifier
	windows   WindowSource
	lookback  time.Duration
	logger    *logging.Logger
	metrics   *metrics.AgentMetrics
	now       func() time.Time
}

func NewExecutor(st ExecutorStore, messenger channel.Messenger, scheduler schedule.Scheduler,
	notifier notify.Notifier, windows WindowSource, lookback time.Duration,
	logger *logging.Logger, m *metrics.AgentMetrics) *Executor {
	if st == nil {
		panic("agent: executor store required")
	}
	if messenger == nil {
		panic("agent: messenger required")
	}
	if windows == nil {
		panic("agent: window source required")
	}
	if lookback <= 0 {
		lookback = guardrail.DefaultLookback
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Executor{
		store:     st,
		messenger: messenger,
		scheduler: scheduler,
		notifier:  notifier,
		windows:   windows,
		lookback:  lookback,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// WithNow overrides the clock, used by tests.
func (e *Executor) WithNow(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Execute applies the batch and marks the run EXECUTED with per-command
// results. The single-conversation invariant is checked up front; a mixed
// batch executes nothing.
func (e *Executor) Execute(ctx context.Context, runID string, batch *Batch) ([]CommandResult, error) {
	ctx, span := execTracer.Start(ctx, "agent.execute")
	defer span.End()
	span.SetAttributes(attribute.Int("agent.commands", len(batch.Commands)))

	if len(batch.Commands) == 0 {
		if err := e.markExecuted(ctx, runID, nil); err != nil {
			return nil, err
		}
		return nil, nil
	}

	convID := batch.Commands[0].Conversation()
	for _, cmd := range batch.Commands {
		if cmd.Conversation() != convID {
			span.RecordError(ErrMixedConversations)
			e.failRun(ctx, runID, []Issue{{
				Path:    "$.commands",
				Message: fmt.Sprintf("batch targets both %s and %s", convID, cmd.Conversation()),
			}})
			return nil, ErrMixedConversations
		}
	}

	conv, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		e.failRun(ctx, runID, []Issue{{Path: "$.commands", Message: "load conversation: " + err.Error()}})
		return nil, err
	}
	contact, err := e.store.GetContact(ctx, conv.ContactID)
	if err != nil {
		e.failRun(ctx, runID, []Issue{{Path: "$.commands", Message: "load contact: " + err.Error()}})
		return nil, err
	}

	results := make([]CommandResult, 0, len(batch.Commands))
	for _, cmd := range batch.Commands {
		res := e.execute(ctx, conv, contact, cmd)
		e.metrics.ObserveCommand(string(cmd.Tag()), res.Outcome)
		results = append(results, res)
	}

	if err := e.markExecuted(ctx, runID, results); err != nil {
		return results, err
	}
	return results, nil
}

func (e *Executor) markExecuted(ctx context.Context, runID string, results []CommandResult) error {
	resultsJSON, _ := json.Marshal(results)
	if err := e.store.UpdateAgentRun(ctx, runID, store.AgentRunUpdate{
		Status:  store.RunExecuted,
		Results: resultsJSON,
	}); err != nil {
		return fmt.Errorf("agent: mark run executed: %w", err)
	}
	e.metrics.ObserveRun(string(store.RunExecuted))
	return nil
}

// failRun moves the run to ERROR when the batch itself is unusable. The
// planned commands survive on the record for postmortem; only the status and
// issue list change.
func (e *Executor) failRun(ctx context.Context, runID string, issues []Issue) {
	issueJSON, _ := json.Marshal(issues)
	if err := e.store.UpdateAgentRun(ctx, runID, store.AgentRunUpdate{
		Status: store.RunError,
		Issues: issueJSON,
	}); err != nil {
		e.logger.Error("failed to mark agent run errored", "error", err, "run_id", runID)
	}
	e.metrics.ObserveRun(string(store.RunError))
}

func (e *Executor) execute(ctx context.Context, conv *store.Conversation, contact *store.Contact, cmd Command) CommandResult {
	switch c := cmd.(type) {
	case SendMessage:
		return e.executeSend(ctx, conv, contact, c)
	case UpsertProfileFields:
		return e.executeProfilePatch(ctx, contact, c)
	case SetConversationStatus:
		if err := e.store.SetConversationStatus(ctx, conv.ID, c.Status); err != nil {
			return failed(cmd, err)
		}
		conv.Status = c.Status
		return executed(cmd, "status "+string(c.Status))
	case SetConversationStage:
		if err := e.store.SetConversationStage(ctx, conv.ID, c.Stage); err != nil {
			return failed(cmd, err)
		}
		conv.Stage = c.Stage
		return executed(cmd, "stage "+c.Stage)
	case SetConversationProgram:
		if err := e.store.SetConversationProgram(ctx, conv.ID, c.ProgramID); err != nil {
			return failed(cmd, err)
		}
		conv.ProgramID = &c.ProgramID
		return executed(cmd, "program "+c.ProgramID)
	case AddConversationNote:
		visibility := c.Visibility
		if _, err := e.store.InsertMessage(ctx, store.Message{
			ConversationID: conv.ID,
			Direction:      store.DirectionOutbound,
			Body:           c.Text,
			System:         true,
			Visibility:     &visibility,
		}); err != nil {
			return failed(cmd, err)
		}
		return executed(cmd, "")
	case SetNoContactar:
		if err := e.store.SetOptOut(ctx, contact.ID, c.Value, c.Reason); err != nil {
			return failed(cmd, err)
		}
		contact.OptedOut = c.Value
		if c.Value {
			return executed(cmd, "contact opted out")
		}
		return executed(cmd, "opt-out cleared")
	case ScheduleInterview:
		if e.scheduler == nil {
			return CommandResult{Command: cmd.Tag(), Outcome: OutcomeFailed, Detail: "no scheduler configured"}
		}
		outcome, err := e.scheduler.ScheduleInterview(ctx, schedule.Request{
			ConversationID: conv.ID,
			ContactID:      contact.ID,
			Date:           c.Date,
			Day:            c.Day,
			Time:           c.Time,
			Location:       c.Location,
			Confirmed:      c.Confirmed,
		})
		if err != nil {
			return failed(cmd, err)
		}
		if !outcome.Scheduled {
			return CommandResult{Command: cmd.Tag(), Outcome: OutcomeFailed, Detail: outcome.Detail}
		}
		return executed(cmd, outcome.Detail)
	case NotifyAdmin:
		if e.notifier == nil {
			return CommandResult{Command: cmd.Tag(), Outcome: OutcomeFailed, Detail: "no notifier configured"}
		}
		if err := e.notifier.NotifyAdmin(ctx, notify.AdminNotice{
			Severity:       c.Severity,
			ConversationID: conv.ID,
			Text:           c.Text,
		}); err != nil {
			return failed(cmd, err)
		}
		return executed(cmd, "")
	case RunTool:
		// Tools already ran during planning; the command is kept for audit only.
		return CommandResult{Command: cmd.Tag(), Outcome: OutcomeSkipped, Detail: "tools execute during planning"}
	default:
		return CommandResult{Command: cmd.Tag(), Outcome: OutcomeFailed, Detail: "unhandled command tag"}
	}
}

// executeProfilePatch applies a profile patch, dropping a model-inferred name
// when the stored name is operator-locked or the proposed one looks like
// channel noise.
func (e *Executor) executeProfilePatch(ctx context.Context, contact *store.Contact, c UpsertProfileFields) CommandResult {
	patch := c.Patch
	detail := ""
	if patch.Name != nil {
		if contact.NameLocked {
			patch.Name = nil
			detail = "name drop: locked by operator"
		} else if SuspiciousName(*patch.Name) {
			patch.Name = nil
			detail = "name drop: suspicious value"
		}
	}
	if patch.IsZero() {
		return CommandResult{Command: c.Tag(), Outcome: OutcomeSkipped, Detail: detail}
	}
	if err := e.store.PatchContact(ctx, contact.ID, patch); err != nil {
		return failed(c, err)
	}
	applyPatch(contact, patch)
	return CommandResult{Command: c.Tag(), Outcome: OutcomeExecuted, Detail: detail}
}

// executeSend runs the full outbound policy chain. Every attempt lands in the
// outbound log, blocked or not.
func (e *Executor) executeSend(ctx context.Context, conv *store.Conversation, contact *store.Contact, c SendMessage) CommandResult {
	if contact.OptedOut {
		return e.blockSend(ctx, conv.ID, c, guardrail.BlockOptOut)
	}

	window, err := e.windows.WindowState(ctx, conv.ID)
	if err != nil {
		return failed(c, err)
	}
	if c.Type == SendSessionText && window == policy.OutOfWindow {
		return e.blockSend(ctx, conv.ID, c, guardrail.BlockWindowViolation)
	}

	detail := ""
	var askedNow []string
	if c.Type == SendSessionText {
		askedNow = ClassifyFieldAsks(c.Text)
		if len(askedNow) > 0 {
			counters, err := e.store.AskedFields(ctx, conv.ID)
			if err != nil {
				return failed(c, err)
			}
			for _, field := range askedNow {
				if counters[field].Count >= MaxFieldAsks {
					// Substitute a deterministic question instead of blocking,
					// so the candidate still gets an answer.
					c.Text = LoopBreakerQuestion(field, contact)
					detail = "loop breaker: " + field
					askedNow = []string{field}
					break
				}
			}
		}
	}

	hash := sendFingerprint(c)
	recent, err := e.store.RecentOutboundLog(ctx, conv.ID, e.now().Add(-e.lookback))
	if err != nil {
		return failed(c, err)
	}
	if reason := guardrail.Evaluate(guardrail.Proposal{DedupeKey: c.DedupeKey, TextHash: hash}, toGuardrailEntries(recent)); reason != "" {
		return e.blockSend(ctx, conv.ID, c, reason)
	}

	var result channel.SendResult
	if c.Type == SendTemplate {
		result, err = e.messenger.SendTemplate(ctx, contact.Phone, c.TemplateName, orderedTemplateVars(c.TemplateVars))
	} else {
		result, err = e.messenger.SendText(ctx, contact.Phone, c.Text)
	}

	entry := store.OutboundLogEntry{
		ConversationID: conv.ID,
		DedupeKey:      c.DedupeKey,
		TextHash:       hash,
	}
	switch {
	case err != nil:
		msg := err.Error()
		entry.SendError = &msg
	case !result.Success:
		entry.SendError = &result.Error
	default:
		entry.ProviderMessageID = &result.MessageID
	}
	if _, logErr := e.store.InsertOutboundLog(ctx, entry); logErr != nil {
		e.logger.Error("failed to record outbound attempt", "error", logErr, "conversation_id", conv.ID)
	}
	if err != nil {
		return failed(c, err)
	}
	if !result.Success {
		return CommandResult{Command: c.Tag(), Outcome: OutcomeFailed, Detail: result.Error}
	}

	body := c.Text
	if c.Type == SendTemplate {
		body = "[TEMPLATE] " + c.TemplateName
	}
	if _, err := e.store.InsertMessage(ctx, store.Message{
		ConversationID: conv.ID,
		Direction:      store.DirectionOutbound,
		Body:           body,
	}); err != nil {
		e.logger.Error("failed to record outbound message", "error", err, "conversation_id", conv.ID)
	}

	for _, field := range askedNow {
		if err := e.store.IncrementAskedField(ctx, conv.ID, field, hash); err != nil {
			e.logger.Error("failed to bump asked-field counter", "error", err, "field", field)
		}
	}

	e.logger.Info("message sent",
		"conversation_id", conv.ID,
		"type", string(c.Type),
		"provider_message_id", result.MessageID,
	)
	return CommandResult{Command: c.Tag(), Outcome: OutcomeExecuted, Detail: detail}
}

func (e *Executor) blockSend(ctx context.Context, conversationID string, c SendMessage, reason guardrail.BlockReason) CommandResult {
	blocked := string(reason)
	if _, err := e.store.InsertOutboundLog(ctx, store.OutboundLogEntry{
		ConversationID: conversationID,
		DedupeKey:      c.DedupeKey,
		TextHash:       sendFingerprint(c),
		BlockedReason:  &blocked,
	}); err != nil {
		e.logger.Error("failed to record blocked send", "error", err, "conversation_id", conversationID)
	}
	e.metrics.ObserveBlocked(blocked)
	e.logger.Warn("send blocked", "conversation_id", conversationID, "reason", blocked)
	return CommandResult{Command: c.Tag(), Outcome: OutcomeBlocked, Reason: blocked}
}

// sendFingerprint hashes the effective payload: the text for session sends,
// the template name plus ordered variables for templated ones.
func sendFingerprint(c SendMessage) string {
	if c.Type == SendTemplate {
		parts := append([]string{c.TemplateName}, orderedTemplateVars(c.TemplateVars)...)
		return guardrail.Fingerprint(parts...)
	}
	return guardrail.Fingerprint(c.Text)
}

func orderedTemplateVars(vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, vars[k])
	}
	return out
}

func toGuardrailEntries(log []store.OutboundLogEntry) []guardrail.Entry {
	out := make([]guardrail.Entry, 0, len(log))
	for _, e := range log {
		out = append(out, guardrail.Entry{
			DedupeKey: e.DedupeKey,
			TextHash:  e.TextHash,
			Blocked:   e.BlockedReason != nil,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

func applyPatch(contact *store.Contact, patch store.ContactPatch) {
	if patch.Name != nil {
		contact.Name = patch.Name
	}
	if patch.Email != nil {
		contact.Email = patch.Email
	}
	if patch.NationalID != nil {
		contact.NationalID = patch.NationalID
	}
	if patch.Country != nil {
		contact.Country = patch.Country
	}
	if patch.Region != nil {
		contact.Region = patch.Region
	}
	if patch.City != nil {
		contact.City = patch.City
	}
	if patch.YearsExperience != nil {
		contact.YearsExperience = patch.YearsExperience
	}
	if patch.Availability != nil {
		contact.Availability = patch.Availability
	}
	for _, field := range patch.Clear {
		switch field {
		case "name":
			contact.Name = nil
		case "email":
			contact.Email = nil
		case "nationalId":
			contact.NationalID = nil
		case "country":
			contact.Country = nil
		case "region":
			contact.Region = nil
		case "city":
			contact.City = nil
		case "yearsExperience":
			contact.YearsExperience = nil
		case "availability":
			contact.Availability = nil
		}
	}
}

func executed(cmd Command, detail string) CommandResult {
	return CommandResult{Command: cmd.Tag(), Outcome: OutcomeExecuted, Detail: detail}
}

func failed(cmd Command, err error) CommandResult {
	return CommandResult{Command: cmd.Tag(), Outcome: OutcomeFailed, Detail: err.Error()}
}
