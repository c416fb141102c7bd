package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hirewire/whatsapp-agent/internal/events"
	"github.com/hirewire/whatsapp-agent/internal/llm"
	"github.com/hirewire/whatsapp-agent/internal/observability/metrics"
	"github.com/hirewire/whatsapp-agent/internal/policy"
	"github.com/hirewire/whatsapp-agent/internal/store"
	"github.com/hirewire/whatsapp-agent/pkg/logging"
)

var loopTracer = otel.Tracer("hirewire.internal.agent.loop")

// Terminal loop failures. These are the only errors an operator should be
// alerted to; everything else is recovered in-loop.
var (
	ErrToolLoopRunaway  = errors.New("agent: tool dispatch rounds exhausted")
	ErrRetriesExhausted = errors.New("agent: validation retries exhausted")
)

const (
	maxToolRounds = 6
	maxAttempts   = 3 // initial call plus two validation retries
)

// RunnerStore is the slice of the record store the loop reads and audits to.
type RunnerStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetContact(ctx context.Context, id string) (*store.Contact, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
	AskedFields(ctx context.Context, conversationID string) (map[string]store.AskedField, error)
	LastOutboundHash(ctx context.Context, conversationID string) (string, error)
	InsertAgentRun(ctx context.Context, run store.AgentRun) (string, error)
	UpdateAgentRun(ctx context.Context, id string, upd store.AgentRunUpdate) error
	ListActivePrograms(ctx context.Context) ([]store.Program, error)
}

// RunOutcome is a planned batch ready for the executor, tied to its audit
// record.
type RunOutcome struct {
	RunID   string
	Batch   *Batch
	Context RunContext
}

// Runner orchestrates one model invocation: context collection, the model
// call, synchronous tool dispatch, repair, validation, and bounded retries.
type Runner struct {
	store            RunnerStore
	model            llm.Client
	windows          WindowSource
	agentName        string
	transcriptWindow int
	logger           *logging.Logger
	metrics          *metrics.AgentMetrics
}

func NewRunner(st RunnerStore, model llm.Client, windows WindowSource, agentName string,
	transcriptWindow int, logger *logging.Logger, m *metrics.AgentMetrics) *Runner {
	if st == nil {
		panic("agent: runner store required")
	}
	if model == nil {
		panic("agent: model client required")
	}
	if windows == nil {
		panic("agent: window source required")
	}
	if agentName == "" {
		agentName = "hirewire"
	}
	if transcriptWindow <= 0 {
		transcriptWindow = 20
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Runner{
		store:            st,
		model:            model,
		windows:          windows,
		agentName:        agentName,
		transcriptWindow: transcriptWindow,
		logger:           logger,
		metrics:          m,
	}
}

// Run executes one invocation for a trigger event. Every invocation writes
// exactly one AgentRun record; on terminal failure the last raw output and
// issue list are preserved for postmortem.
func (r *Runner) Run(ctx context.Context, ev events.TriggerEvent) (*RunOutcome, error) {
	ctx, span := loopTracer.Start(ctx, "agent.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.conversation_id", ev.ConversationID),
		attribute.String("agent.trigger", string(ev.Type)),
	)

	rc, window, err := r.collectContext(ctx, ev)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	contextJSON, _ := json.Marshal(rc)
	runID, err := r.store.InsertAgentRun(ctx, store.AgentRun{
		ConversationID: ev.ConversationID,
		Trigger:        string(ev.Type),
		Context:        contextJSON,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	nc := NormalizeContext{ConversationID: ev.ConversationID, EventID: ev.ID, Window: window}
	tools := NewToolRegistry(r.windows, r.store, ev.ConversationID)

	history := []llm.Message{{Role: llm.RoleUser, Content: rc.UserTurn()}}
	system := BuildSystemPrompt(r.agentName, window)

	toolRounds := 0
	attempts := 0
	var lastRaw string
	var lastIssues []Issue

	for {
		resp, err := r.completeModel(ctx, system, history, tools)
		if err != nil {
			r.failRun(ctx, runID, lastRaw, lastIssues)
			return nil, fmt.Errorf("agent: model invocation: %w", err)
		}

		if len(resp.ToolCalls) > 0 {
			toolRounds++
			if toolRounds > maxToolRounds {
				r.failRun(ctx, runID, lastRaw, lastIssues)
				return nil, ErrToolLoopRunaway
			}
			history = append(history, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   resp.Text,
				ToolCalls: resp.ToolCalls,
			})
			results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
			for _, call := range resp.ToolCalls {
				results = append(results, tools.Dispatch(ctx, call))
			}
			history = append(history, llm.Message{Role: llm.RoleUser, ToolResults: results})
			continue
		}

		attempts++
		lastRaw = resp.Text

		parsed := ParseResponse(resp.Text)
		normalized := NormalizeResponse(parsed, nc)
		for _, cmd := range rawCommands(normalized) {
			RepairCommand(cmd)
		}

		batch, issues := ValidateResponse(normalized)
		if len(issues) == 0 {
			issues = ValidateSemantics(batch)
		}
		if len(issues) == 0 {
			issues = r.ensureReplyCandidate(batch, ev, window, nc)
		}

		if len(issues) == 0 {
			commandsJSON, _ := json.Marshal(normalized)
			if err := r.store.UpdateAgentRun(ctx, runID, store.AgentRunUpdate{
				Status:   store.RunPlanned,
				Commands: commandsJSON,
			}); err != nil {
				r.logger.Error("failed to mark agent run planned", "error", err, "run_id", runID)
			}
			r.metrics.ObserveRun(string(store.RunPlanned))
			r.logger.Info("agent run planned",
				"run_id", runID,
				"conversation_id", ev.ConversationID,
				"commands", len(batch.Commands),
				"tool_rounds", toolRounds,
				"attempts", attempts,
			)
			return &RunOutcome{RunID: runID, Batch: batch, Context: rc}, nil
		}

		lastIssues = issues
		if attempts >= maxAttempts {
			r.failRun(ctx, runID, lastRaw, lastIssues)
			return nil, fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, attempts)
		}

		// Feed the validator's findings back as a corrective user turn.
		issueJSON, _ := json.Marshal(issues)
		history = append(history,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Text},
			llm.Message{Role: llm.RoleUser, Content: "Your answer failed validation. Fix these issues and resend the full JSON object:\n" + string(issueJSON)},
		)
		r.logger.Warn("agent response invalid, retrying",
			"run_id", runID,
			"attempt", attempts,
			"issues", len(issues),
		)
	}
}

func (r *Runner) collectContext(ctx context.Context, ev events.TriggerEvent) (RunContext, policy.WindowState, error) {
	conv, err := r.store.GetConversation(ctx, ev.ConversationID)
	if err != nil {
		return RunContext{}, "", fmt.Errorf("agent: load conversation: %w", err)
	}
	contact, err := r.store.GetContact(ctx, conv.ContactID)
	if err != nil {
		return RunContext{}, "", fmt.Errorf("agent: load contact: %w", err)
	}
	transcript, err := r.store.RecentMessages(ctx, conv.ID, r.transcriptWindow)
	if err != nil {
		return RunContext{}, "", fmt.Errorf("agent: load transcript: %w", err)
	}
	asked, err := r.store.AskedFields(ctx, conv.ID)
	if err != nil {
		return RunContext{}, "", fmt.Errorf("agent: load asked fields: %w", err)
	}
	lastHash, err := r.store.LastOutboundHash(ctx, conv.ID)
	if err != nil {
		return RunContext{}, "", fmt.Errorf("agent: load last outbound: %w", err)
	}
	window, err := r.windows.WindowState(ctx, conv.ID)
	if err != nil {
		return RunContext{}, "", err
	}
	return BuildRunContext(conv, contact, transcript, asked, lastHash, window, ev), window, nil
}

func (r *Runner) completeModel(ctx context.Context, system string, history []llm.Message, tools *ToolRegistry) (llm.Response, error) {
	ctx, span := loopTracer.Start(ctx, "agent.model_call")
	defer span.End()

	resp, err := r.model.Complete(ctx, llm.Request{
		System:      system,
		Messages:    history,
		Tools:       tools.Specs(),
		MaxTokens:   2048,
		Temperature: 0.2,
	})
	if err != nil {
		span.RecordError(err)
		r.metrics.ObserveModelCall("error")
		return llm.Response{}, err
	}
	r.metrics.ObserveModelCall("ok")
	return resp, nil
}

// ensureReplyCandidate enforces the business invariant that an inbound
// message never goes unanswered: when the batch has no send, a non-empty
// notes field is promoted into a session-text send (in window only), else
// validation fails.
func (r *Runner) ensureReplyCandidate(batch *Batch, ev events.TriggerEvent, window policy.WindowState, nc NormalizeContext) []Issue {
	if ev.Type != events.TriggerMessageReceived {
		return nil
	}
	for _, cmd := range batch.Commands {
		if cmd.Tag() == TagSendMessage {
			return nil
		}
	}
	if batch.Notes != "" && window == policy.InWindow {
		send := SendMessage{
			commandBase: commandBase{ConversationID: ev.ConversationID},
			Channel:     "whatsapp",
			Type:        SendSessionText,
			Text:        batch.Notes,
			DedupeKey: DeriveDedupeKey(nc.ConversationID, nc.EventID, map[string]any{
				"command": string(TagSendMessage),
				"text":    batch.Notes,
			}),
		}
		batch.Commands = append(batch.Commands, send)
		r.logger.Info("promoted notes to reply", "conversation_id", ev.ConversationID)
		return nil
	}
	return []Issue{{
		Path:    "$.commands",
		Message: "an inbound message requires at least one SEND_MESSAGE command",
	}}
}

func (r *Runner) failRun(ctx context.Context, runID, lastRaw string, issues []Issue) {
	issueJSON, _ := json.Marshal(issues)
	if err := r.store.UpdateAgentRun(ctx, runID, store.AgentRunUpdate{
		Status:        store.RunError,
		LastRawOutput: lastRaw,
		Issues:        issueJSON,
	}); err != nil {
		r.logger.Error("failed to mark agent run errored", "error", err, "run_id", runID)
	}
	r.metrics.ObserveRun(string(store.RunError))
}
