package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hirewire/whatsapp-agent/internal/events"
	"github.com/hirewire/whatsapp-agent/internal/llm"
	"github.com/hirewire/whatsapp-agent/internal/policy"
	"github.com/hirewire/whatsapp-agent/internal/store"
)

type runnerStoreStub struct {
	conv    store.Conversation
	contact store.Contact
	updates []store.AgentRunUpdate
}

func newRunnerStoreStub() *runnerStoreStub {
	return &runnerStoreStub{
		conv:    store.Conversation{ID: "conv-1", ContactID: "contact-1", Status: store.StatusOpen},
		contact: store.Contact{ID: "contact-1", Phone: "+595981000001"},
	}
}

func (s *runnerStoreStub) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	c := s.conv
	return &c, nil
}

func (s *runnerStoreStub) GetContact(ctx context.Context, id string) (*store.Contact, error) {
	c := s.contact
	return &c, nil
}

func (s *runnerStoreStub) RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	return nil, nil
}

func (s *runnerStoreStub) AskedFields(ctx context.Context, conversationID string) (map[string]store.AskedField, error) {
	return nil, nil
}

func (s *runnerStoreStub) LastOutboundHash(ctx context.Context, conversationID string) (string, error) {
	return "", nil
}

func (s *runnerStoreStub) InsertAgentRun(ctx context.Context, run store.AgentRun) (string, error) {
	return "run-1", nil
}

func (s *runnerStoreStub) UpdateAgentRun(ctx context.Context, id string, upd store.AgentRunUpdate) error {
	s.updates = append(s.updates, upd)
	return nil
}

func (s *runnerStoreStub) ListActivePrograms(ctx context.Context) ([]store.Program, error) {
	return nil, nil
}

type fixedWindow policy.WindowState

func (w fixedWindow) WindowState(ctx context.Context, conversationID string) (policy.WindowState, error) {
	return policy.WindowState(w), nil
}

type scriptedModel struct {
	responses []llm.Response
	requests  []llm.Request
}

func (m *scriptedModel) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	m.requests = append(m.requests, req)
	if len(m.responses) == 0 {
		return llm.Response{}, errors.New("script exhausted")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

const validSendEnvelope = `{"agent":"hirewire","version":1,"commands":[{"command":"SEND_MESSAGE","conversationId":"conv-1","channel":"whatsapp","type":"SESSION_TEXT","text":"Hola Ana","dedupeKey":"k1"}]}`

func messageEvent() events.TriggerEvent {
	return events.TriggerEvent{
		ID:             "evt-1",
		Type:           events.TriggerMessageReceived,
		ConversationID: "conv-1",
		Text:           "hola",
	}
}

func TestRunnerPlansValidBatchFirstAttempt(t *testing.T) {
	st := newRunnerStoreStub()
	model := &scriptedModel{responses: []llm.Response{{Text: validSendEnvelope}}}
	runner := NewRunner(st, model, fixedWindow(policy.InWindow), "hirewire", 20, nil, nil)

	outcome, err := runner.Run(context.Background(), messageEvent())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.RunID != "run-1" {
		t.Fatalf("run id = %q", outcome.RunID)
	}
	if len(outcome.Batch.Commands) != 1 {
		t.Fatalf("commands = %d", len(outcome.Batch.Commands))
	}
	if len(st.updates) != 1 || st.updates[0].Status != store.RunPlanned {
		t.Fatalf("updates = %+v, want single PLANNED transition", st.updates)
	}
}

func TestRunnerFailsAfterThreeInvalidAttempts(t *testing.T) {
	st := newRunnerStoreStub()
	model := &scriptedModel{responses: []llm.Response{
		{Text: "no puedo responder en JSON"},
		{Text: "sigo sin JSON"},
		{Text: "último intento sin JSON"},
	}}
	runner := NewRunner(st, model, fixedWindow(policy.InWindow), "hirewire", 20, nil, nil)

	_, err := runner.Run(context.Background(), messageEvent())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want retries exhausted", err)
	}
	if len(model.requests) != 3 {
		t.Fatalf("model calls = %d, want 3", len(model.requests))
	}
	last := st.updates[len(st.updates)-1]
	if last.Status != store.RunError {
		t.Fatalf("status = %s, want ERROR", last.Status)
	}
	if last.LastRawOutput != "último intento sin JSON" {
		t.Fatalf("last raw = %q, want last invalid output preserved", last.LastRawOutput)
	}
	if len(last.Issues) == 0 {
		t.Fatal("expected issues preserved for postmortem")
	}
}

func TestRunnerRetriesWithCorrectiveTurn(t *testing.T) {
	st := newRunnerStoreStub()
	model := &scriptedModel{responses: []llm.Response{
		{Text: `{"agent":"hirewire","version":1,"commands":[{"command":"WRONG_TAG"}]}`},
		{Text: validSendEnvelope},
	}}
	runner := NewRunner(st, model, fixedWindow(policy.InWindow), "hirewire", 20, nil, nil)

	if _, err := runner.Run(context.Background(), messageEvent()); err != nil {
		t.Fatalf("run: %v", err)
	}
	// Second request must carry the corrective turn with the issues.
	second := model.requests[1]
	lastMsg := second.Messages[len(second.Messages)-1]
	if lastMsg.Role != llm.RoleUser {
		t.Fatalf("role = %s", lastMsg.Role)
	}
	if lastMsg.Content == "" || !containsAll(lastMsg.Content, "failed validation", "WRONG_TAG") {
		t.Fatalf("corrective turn = %q", lastMsg.Content)
	}
}

func TestRunnerDispatchesToolCalls(t *testing.T) {
	st := newRunnerStoreStub()
	model := &scriptedModel{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "normalize_text", Args: map[string]any{"text": "  hola   mundo "}}}},
		{Text: validSendEnvelope},
	}}
	runner := NewRunner(st, model, fixedWindow(policy.InWindow), "hirewire", 20, nil, nil)

	if _, err := runner.Run(context.Background(), messageEvent()); err != nil {
		t.Fatalf("run: %v", err)
	}
	second := model.requests[1]
	resultTurn := second.Messages[len(second.Messages)-1]
	if len(resultTurn.ToolResults) != 1 {
		t.Fatalf("tool results = %+v", resultTurn.ToolResults)
	}
	res := resultTurn.ToolResults[0]
	if res.IsError || res.Content["normalized"] != "hola mundo" {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunnerAbortsRunawayToolLoop(t *testing.T) {
	toolCall := llm.Response{ToolCalls: []llm.ToolCall{{ID: "c", Name: "get_window_status"}}}
	st := newRunnerStoreStub()
	model := &scriptedModel{responses: []llm.Response{
		toolCall, toolCall, toolCall, toolCall, toolCall, toolCall, toolCall,
	}}
	runner := NewRunner(st, model, fixedWindow(policy.InWindow), "hirewire", 20, nil, nil)

	_, err := runner.Run(context.Background(), messageEvent())
	if !errors.Is(err, ErrToolLoopRunaway) {
		t.Fatalf("err = %v, want tool loop runaway", err)
	}
	last := st.updates[len(st.updates)-1]
	if last.Status != store.RunError {
		t.Fatalf("status = %s, want ERROR", last.Status)
	}
}

func TestRunnerPromotesNotesToReply(t *testing.T) {
	st := newRunnerStoreStub()
	model := &scriptedModel{responses: []llm.Response{
		{Text: `{"agent":"hirewire","version":1,"commands":[],"notes":"Gracias por tu mensaje, te contacto pronto."}`},
	}}
	runner := NewRunner(st, model, fixedWindow(policy.InWindow), "hirewire", 20, nil, nil)

	outcome, err := runner.Run(context.Background(), messageEvent())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(outcome.Batch.Commands) != 1 {
		t.Fatalf("commands = %d, want promoted send", len(outcome.Batch.Commands))
	}
	send, ok := outcome.Batch.Commands[0].(SendMessage)
	if !ok || send.Type != SendSessionText || send.Text != "Gracias por tu mensaje, te contacto pronto." {
		t.Fatalf("send = %+v", outcome.Batch.Commands[0])
	}
}

func TestRunnerRejectsSilentBatchOutOfWindow(t *testing.T) {
	// Notes cannot be promoted out of window, so a batch with no send fails
	// validation on every attempt.
	silent := llm.Response{Text: `{"agent":"hirewire","version":1,"commands":[],"notes":"nota interna"}`}
	st := newRunnerStoreStub()
	model := &scriptedModel{responses: []llm.Response{silent, silent, silent}}
	runner := NewRunner(st, model, fixedWindow(policy.OutOfWindow), "hirewire", 20, nil, nil)

	_, err := runner.Run(context.Background(), messageEvent())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want retries exhausted", err)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
