// Package automation is the declarative rule engine deciding what happens on
// each trigger event: deterministic side effects, program selection, and when
// to hand the conversation to the model agent.
package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hirewire/whatsapp-agent/internal/agent"
	"github.com/hirewire/whatsapp-agent/internal/channel"
	"github.com/hirewire/whatsapp-agent/internal/events"
	"github.com/hirewire/whatsapp-agent/internal/guardrail"
	"github.com/hirewire/whatsapp-agent/internal/observability/metrics"
	"github.com/hirewire/whatsapp-agent/internal/policy"
	"github.com/hirewire/whatsapp-agent/internal/store"
	"github.com/hirewire/whatsapp-agent/pkg/logging"
)

var tracer = otel.Tracer("hirewire.internal.automation")

// EngineStore is the slice of the record store the engine needs.
type EngineStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetContact(ctx context.Context, id string) (*store.Contact, error)
	InsertMessage(ctx context.Context, m store.Message) (string, error)
	SetOptOut(ctx context.Context, id string, optedOut bool, reason string) error
	SetConversationStatus(ctx context.Context, id string, status store.ConversationStatus) error
	SetConversationProgram(ctx context.Context, id, programID string) error
	SetConversationAssignee(ctx context.Context, id, operatorID string) error
	ListActivePrograms(ctx context.Context) ([]store.Program, error)
	FindOperatorByRole(ctx context.Context, role string) (*store.Operator, error)
	ListEnabledRules(ctx context.Context, trigger string) ([]store.AutomationRule, error)
	InsertAutomationRun(ctx context.Context, run store.AutomationRun) (string, error)
	InsertOutboundLog(ctx context.Context, e store.OutboundLogEntry) (string, error)
	LastOutboundHash(ctx context.Context, conversationID string) (string, error)
}

// AgentRunner plans a command batch for a trigger event.
type AgentRunner interface {
	Run(ctx context.Context, ev events.TriggerEvent) (*agent.RunOutcome, error)
}

// BatchExecutor applies a planned batch.
type BatchExecutor interface {
	Execute(ctx context.Context, runID string, batch *agent.Batch) ([]agent.CommandResult, error)
}

// WindowSource exposes the session-window state for condition evaluation.
type WindowSource interface {
	WindowState(ctx context.Context, conversationID string) (policy.WindowState, error)
}

// Engine processes one trigger event end to end: inbound recording, keyword
// opt-out, program selection, then priority-ordered rule evaluation.
type Engine struct {
	store     EngineStore
	runner    AgentRunner
	executor  BatchExecutor
	windows   WindowSource
	messenger channel.Messenger
	optOut    *policy.OptOutDetector
	logger    *logging.Logger
	metrics   *metrics.AgentMetrics
}

func NewEngine(st EngineStore, runner AgentRunner, executor BatchExecutor, windows WindowSource,
	messenger channel.Messenger, logger *logging.Logger, m *metrics.AgentMetrics) *Engine {
	if st == nil {
		panic("automation: store required")
	}
	if runner == nil {
		panic("automation: agent runner required")
	}
	if executor == nil {
		panic("automation: batch executor required")
	}
	if windows == nil {
		panic("automation: window source required")
	}
	if messenger == nil {
		panic("automation: messenger required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:     st,
		runner:    runner,
		executor:  executor,
		windows:   windows,
		messenger: messenger,
		optOut:    policy.NewOptOutDetector(),
		logger:    logger,
		metrics:   m,
	}
}

// HandleEvent processes one trigger event synchronously. Rule failures are
// audited per rule and never abort the remaining rules.
func (e *Engine) HandleEvent(ctx context.Context, ev events.TriggerEvent) error {
	ctx, span := tracer.Start(ctx, "automation.handle_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("automation.trigger", string(ev.Type)),
		attribute.String("automation.conversation_id", ev.ConversationID),
	)

	conv, err := e.store.GetConversation(ctx, ev.ConversationID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	contact, err := e.store.GetContact(ctx, conv.ContactID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if ev.Type == events.TriggerMessageReceived {
		if err := e.recordInbound(ctx, conv.ID, ev); err != nil {
			return err
		}
		if e.optOut.IsOptOut(ev.Text) && !contact.OptedOut {
			if err := e.store.SetOptOut(ctx, contact.ID, true, "keyword: "+strings.TrimSpace(ev.Text)); err != nil {
				return err
			}
			contact.OptedOut = true
			e.logger.Info("contact opted out by keyword", "conversation_id", conv.ID)
		}

		halted, err := e.selectProgram(ctx, conv, contact, ev)
		if err != nil {
			return err
		}
		if halted {
			return nil
		}
	}

	window, err := e.windows.WindowState(ctx, conv.ID)
	if err != nil {
		return err
	}
	scope := evalScope{Conversation: conv, Contact: contact, Window: window, Event: ev}

	rules, err := e.store.ListEnabledRules(ctx, string(ev.Type))
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if !ruleInScope(rule, conv) {
			continue
		}
		var conds []Condition
		if len(rule.Conditions) > 0 {
			if err := json.Unmarshal(rule.Conditions, &conds); err != nil {
				e.recordRun(ctx, rule.ID, conv.ID, ev, store.AutomationError, "invalid conditions: "+err.Error())
				continue
			}
		}
		if !evalAll(conds, scope) {
			continue
		}
		e.runRule(ctx, rule, conv, ev)
	}
	return nil
}

func (e *Engine) recordInbound(ctx context.Context, conversationID string, ev events.TriggerEvent) error {
	m := store.Message{
		ConversationID: conversationID,
		Direction:      store.DirectionInbound,
		Body:           ev.Text,
	}
	if ev.Transcript != "" {
		m.Transcript = &ev.Transcript
	}
	if ev.MediaType != "" {
		m.MediaType = &ev.MediaType
	}
	if _, err := e.store.InsertMessage(ctx, m); err != nil {
		return err
	}
	return nil
}

// runRule executes a matched rule's ordered action list and writes exactly
// one audit run for it.
func (e *Engine) runRule(ctx context.Context, rule store.AutomationRule, conv *store.Conversation, ev events.TriggerEvent) {
	var actions []Action
	if err := json.Unmarshal(rule.Actions, &actions); err != nil {
		e.recordRun(ctx, rule.ID, conv.ID, ev, store.AutomationError, "invalid actions: "+err.Error())
		return
	}

	status := store.AutomationSuccess
	summaries := make([]string, 0, len(actions))
	for i, a := range actions {
		summary, err := e.runAction(ctx, a, conv, ev)
		if err != nil {
			status = store.AutomationError
			summaries = append(summaries, fmt.Sprintf("%d %s: %v", i+1, a.Type, err))
			e.logger.Error("automation action failed",
				"rule", rule.Name, "action", a.Type, "error", err, "conversation_id", conv.ID)
			continue
		}
		summaries = append(summaries, fmt.Sprintf("%d %s: %s", i+1, a.Type, summary))
	}
	e.recordRun(ctx, rule.ID, conv.ID, ev, status, strings.Join(summaries, "; "))
}

func (e *Engine) recordRun(ctx context.Context, ruleID, conversationID string, ev events.TriggerEvent,
	status store.AutomationRunStatus, summary string) {
	if _, err := e.store.InsertAutomationRun(ctx, store.AutomationRun{
		RuleID:         &ruleID,
		ConversationID: conversationID,
		Trigger:        string(ev.Type),
		Status:         status,
		Summary:        summary,
	}); err != nil {
		e.logger.Error("failed to audit rule run", "error", err, "rule_id", ruleID)
	}
	e.metrics.ObserveRuleRun(string(status))
}

func ruleInScope(rule store.AutomationRule, conv *store.Conversation) bool {
	if rule.LineID != nil && *rule.LineID != conv.LineID {
		return false
	}
	if rule.ProgramID != nil {
		if conv.ProgramID == nil || *conv.ProgramID != *rule.ProgramID {
			return false
		}
	}
	return true
}

// selectProgram runs the program-selection sub-flow for conversations without
// one. Returns true when rule processing must halt for this event (a menu was
// just presented and the reply is pending).
func (e *Engine) selectProgram(ctx context.Context, conv *store.Conversation, contact *store.Contact, ev events.TriggerEvent) (bool, error) {
	if conv.ProgramID != nil {
		return false, nil
	}
	programs, err := e.store.ListActivePrograms(ctx)
	if err != nil {
		return false, err
	}
	switch len(programs) {
	case 0:
		return false, nil
	case 1:
		return false, e.assignProgram(ctx, conv, programs[0])
	}

	if p, ok := matchProgram(ev.Text, programs); ok {
		return false, e.assignProgram(ctx, conv, p)
	}
	if contact.OptedOut {
		return true, nil
	}
	return true, e.sendProgramMenu(ctx, conv, contact, programs)
}

func (e *Engine) assignProgram(ctx context.Context, conv *store.Conversation, p store.Program) error {
	if err := e.store.SetConversationProgram(ctx, conv.ID, p.ID); err != nil {
		return err
	}
	conv.ProgramID = &p.ID
	visibility := "INTERNAL"
	if _, err := e.store.InsertMessage(ctx, store.Message{
		ConversationID: conv.ID,
		Direction:      store.DirectionOutbound,
		Body:           "Programa seleccionado: " + p.Name,
		System:         true,
		Visibility:     &visibility,
	}); err != nil {
		e.logger.Error("failed to record program note", "error", err, "conversation_id", conv.ID)
	}
	e.logger.Info("program assigned", "conversation_id", conv.ID, "program", p.Slug)
	return nil
}

// matchProgram resolves the inbound text to exactly one program: a 1-based
// menu number, or a slug/name fragment that hits a single candidate.
func matchProgram(text string, programs []store.Program) (store.Program, bool) {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return store.Program{}, false
	}
	if n, err := strconv.Atoi(needle); err == nil {
		if n >= 1 && n <= len(programs) {
			return programs[n-1], true
		}
		return store.Program{}, false
	}
	var hits []store.Program
	for _, p := range programs {
		slug := strings.ToLower(p.Slug)
		name := strings.ToLower(p.Name)
		if needle == slug || needle == name ||
			strings.Contains(needle, slug) || strings.Contains(needle, name) {
			hits = append(hits, p)
		}
	}
	if len(hits) == 1 {
		return hits[0], true
	}
	return store.Program{}, false
}

// sendProgramMenu presents the numbered menu once. The last-outbound
// fingerprint check stops webhook retries from re-sending it.
func (e *Engine) sendProgramMenu(ctx context.Context, conv *store.Conversation, contact *store.Contact, programs []store.Program) error {
	var b strings.Builder
	b.WriteString("¡Hola! ¿Por cuál programa te interesa postular? Respondé con el número:\n")
	for i, p := range programs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p.Name)
	}
	menu := strings.TrimRight(b.String(), "\n")

	hash := guardrail.Fingerprint(menu)
	last, err := e.store.LastOutboundHash(ctx, conv.ID)
	if err != nil {
		return err
	}
	if last == hash {
		return nil
	}

	result, err := e.messenger.SendText(ctx, contact.Phone, menu)
	entry := store.OutboundLogEntry{
		ConversationID: conv.ID,
		DedupeKey:      "program-menu-" + conv.ID,
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
		e.logger.Error("failed to record menu send", "error", logErr, "conversation_id", conv.ID)
	}
	if err != nil {
		return fmt.Errorf("automation: send program menu: %w", err)
	}
	if result.Success {
		if _, err := e.store.InsertMessage(ctx, store.Message{
			ConversationID: conv.ID,
			Direction:      store.DirectionOutbound,
			Body:           menu,
		}); err != nil {
			e.logger.Error("failed to record menu message", "error", err, "conversation_id", conv.ID)
		}
	}
	return nil
}
