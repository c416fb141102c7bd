package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hirewire/whatsapp-agent/internal/channel"
	"github.com/hirewire/whatsapp-agent/internal/guardrail"
	"github.com/hirewire/whatsapp-agent/internal/policy"
	"github.com/hirewire/whatsapp-agent/internal/store"
)

type execStoreStub struct {
	conv    store.Conversation
	contact store.Contact
	recent  []store.OutboundLogEntry
	asked   map[string]store.AskedField

	outbound   []store.OutboundLogEntry
	messages   []store.Message
	patches    []store.ContactPatch
	increments []string
	updates    []store.AgentRunUpdate
	statuses   []store.ConversationStatus
}

func newExecStoreStub() *execStoreStub {
	return &execStoreStub{
		conv:    store.Conversation{ID: "conv-1", ContactID: "contact-1", Status: store.StatusOpen},
		contact: store.Contact{ID: "contact-1", Phone: "+595981000001"},
	}
}

func (s *execStoreStub) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	c := s.conv
	return &c, nil
}

func (s *execStoreStub) GetContact(ctx context.Context, id string) (*store.Contact, error) {
	c := s.contact
	return &c, nil
}

func (s *execStoreStub) PatchContact(ctx context.Context, id string, patch store.ContactPatch) error {
	s.patches = append(s.patches, patch)
	return nil
}

func (s *execStoreStub) SetOptOut(ctx context.Context, id string, optedOut bool, reason string) error {
	s.contact.OptedOut = optedOut
	return nil
}

func (s *execStoreStub) SetConversationStatus(ctx context.Context, id string, status store.ConversationStatus) error {
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *execStoreStub) SetConversationStage(ctx context.Context, id, stage string) error {
	return nil
}

func (s *execStoreStub) SetConversationProgram(ctx context.Context, id, programID string) error {
	return nil
}

func (s *execStoreStub) InsertMessage(ctx context.Context, m store.Message) (string, error) {
	s.messages = append(s.messages, m)
	return "msg-1", nil
}

func (s *execStoreStub) InsertOutboundLog(ctx context.Context, e store.OutboundLogEntry) (string, error) {
	s.outbound = append(s.outbound, e)
	return "log-1", nil
}

func (s *execStoreStub) RecentOutboundLog(ctx context.Context, conversationID string, since time.Time) ([]store.OutboundLogEntry, error) {
	return s.recent, nil
}

func (s *execStoreStub) AskedFields(ctx context.Context, conversationID string) (map[string]store.AskedField, error) {
	return s.asked, nil
}

func (s *execStoreStub) IncrementAskedField(ctx context.Context, conversationID, field, hash string) error {
	s.increments = append(s.increments, field)
	return nil
}

func (s *execStoreStub) UpdateAgentRun(ctx context.Context, id string, upd store.AgentRunUpdate) error {
	s.updates = append(s.updates, upd)
	return nil
}

type messengerStub struct {
	texts     []string
	templates []string
	result    channel.SendResult
	err       error
}

func (m *messengerStub) SendText(ctx context.Context, destination, text string) (channel.SendResult, error) {
	m.texts = append(m.texts, text)
	return m.result, m.err
}

func (m *messengerStub) SendTemplate(ctx context.Context, destination, templateName string, variables []string) (channel.SendResult, error) {
	m.templates = append(m.templates, templateName)
	return m.result, m.err
}

func okMessenger() *messengerStub {
	return &messengerStub{result: channel.SendResult{Success: true, MessageID: "wamid-1"}}
}

func sessionSend(text, key string) SendMessage {
	return SendMessage{
		commandBase: commandBase{ConversationID: "conv-1"},
		Channel:     "whatsapp",
		Type:        SendSessionText,
		Text:        text,
		DedupeKey:   key,
	}
}

func newTestExecutor(st *execStoreStub, msg *messengerStub, window policy.WindowState) *Executor {
	return NewExecutor(st, msg, nil, nil, fixedWindow(window), guardrail.DefaultLookback, nil, nil)
}

func TestExecutorBlocksOptedOutContact(t *testing.T) {
	st := newExecStoreStub()
	st.contact.OptedOut = true
	msg := okMessenger()
	exec := newTestExecutor(st, msg, policy.InWindow)

	results, err := exec.Execute(context.Background(), "run-1", &Batch{Commands: []Command{sessionSend("Hola", "k1")}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if results[0].Outcome != OutcomeBlocked || results[0].Reason != string(guardrail.BlockOptOut) {
		t.Fatalf("result = %+v", results[0])
	}
	if len(msg.texts) != 0 {
		t.Fatal("transport must never be called for an opted-out contact")
	}
	if len(st.outbound) != 1 || st.outbound[0].BlockedReason == nil {
		t.Fatalf("outbound log = %+v, want one blocked entry", st.outbound)
	}
}

func TestExecutorBlocksSessionTextOutOfWindow(t *testing.T) {
	st := newExecStoreStub()
	msg := okMessenger()
	exec := newTestExecutor(st, msg, policy.OutOfWindow)

	results, err := exec.Execute(context.Background(), "run-1", &Batch{Commands: []Command{sessionSend("Hola", "k1")}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if results[0].Outcome != OutcomeBlocked || results[0].Reason != string(guardrail.BlockWindowViolation) {
		t.Fatalf("result = %+v", results[0])
	}
	if len(msg.texts) != 0 {
		t.Fatal("session text must not be dispatched out of window")
	}
}

func TestExecutorAllowsTemplateOutOfWindow(t *testing.T) {
	st := newExecStoreStub()
	msg := okMessenger()
	exec := newTestExecutor(st, msg, policy.OutOfWindow)

	tpl := SendMessage{
		commandBase:  commandBase{ConversationID: "conv-1"},
		Channel:      "whatsapp",
		Type:         SendTemplate,
		TemplateName: "followup_24h",
		DedupeKey:    "k1",
	}
	results, err := exec.Execute(context.Background(), "run-1", &Batch{Commands: []Command{tpl}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if results[0].Outcome != OutcomeExecuted {
		t.Fatalf("result = %+v", results[0])
	}
	if len(msg.templates) != 1 {
		t.Fatal("template should dispatch")
	}
	if len(st.messages) != 1 || st.messages[0].Body != "[TEMPLATE] followup_24h" {
		t.Fatalf("messages = %+v", st.messages)
	}
}

func TestExecutorBlocksDuplicateIntent(t *testing.T) {
	st := newExecStoreStub()
	st.recent = []store.OutboundLogEntry{
		{DedupeKey: "k1", TextHash: "other", CreatedAt: time.Now()},
	}
	msg := okMessenger()
	exec := newTestExecutor(st, msg, policy.InWindow)

	results, err := exec.Execute(context.Background(), "run-1", &Batch{Commands: []Command{sessionSend("Hola", "k1")}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if results[0].Outcome != OutcomeBlocked || results[0].Reason != string(guardrail.BlockDuplicateIntent) {
		t.Fatalf("result = %+v", results[0])
	}
}

func TestExecutorBlocksRepeatedContent(t *testing.T) {
	text := "Hola, ¿seguís interesada?"
	st := newExecStoreStub()
	st.recent = []store.OutboundLogEntry{
		{DedupeKey: "other", TextHash: guardrail.Fingerprint(text), CreatedAt: time.Now()},
	}
	msg := okMessenger()
	exec := newTestExecutor(st, msg, policy.InWindow)

	results, err := exec.Execute(context.Background(), "run-1", &Batch{Commands: []Command{sessionSend(text, "k-new")}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if results[0].Outcome != OutcomeBlocked || results[0].Reason != string(guardrail.BlockRepeatedContent) {
		t.Fatalf("result = %+v", results[0])
	}
}

func TestExecutorSubstitutesLoopBreaker(t *testing.T) {
	st := newExecStoreStub()
	st.asked = map[string]store.AskedField{
		FieldLocation: {Field: FieldLocation, Count: 2},
	}
	msg := okMessenger()
	exec := newTestExecutor(st, msg, policy.InWindow)

	results, err := exec.Execute(context.Background(), "run-1", &Batch{Commands: []Command{
		sessionSend("¿En qué ciudad vivís actualmente?", "k1"),
	}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if results[0].Outcome != OutcomeExecuted {
		t.Fatalf("result = %+v, substitution must not block", results[0])
	}
	if !strings.Contains(results[0].Detail, FieldLocation) {
		t.Fatalf("detail = %q, want loop-breaker override recorded", results[0].Detail)
	}
	if len(msg.texts) != 1 || !strings.Contains(msg.texts[0], "ciudad") {
		t.Fatalf("sent = %v", msg.texts)
	}
	if len(st.increments) != 1 || st.increments[0] != FieldLocation {
		t.Fatalf("increments = %v", st.increments)
	}
}

func TestExecutorIncrementsAskedFieldsOnSuccess(t *testing.T) {
	st := newExecStoreStub()
	msg := okMessenger()
	exec := newTestExecutor(st, msg, policy.InWindow)

	_, err := exec.Execute(context.Background(), "run-1", &Batch{Commands: []Command{
		sessionSend("¿Cuál es tu correo electrónico?", "k1"),
	}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(st.increments) != 1 || st.increments[0] != FieldEmail {
		t.Fatalf("increments = %v", st.increments)
	}
}

func TestExecutorDropsLockedName(t *testing.T) {
	st := newExecStoreStub()
	name := "Operadora Manual"
	st.contact.Name = &name
	st.contact.NameLocked = true
	exec := newTestExecutor(st, okMessenger(), policy.InWindow)

	proposed := "Ana"
	results, err := exec.Execute(context.Background(), "run-1", &Batch{Commands: []Command{
		UpsertProfileFields{commandBase: commandBase{ConversationID: "conv-1"}, Patch: store.ContactPatch{Name: &proposed}},
	}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if results[0].Outcome != OutcomeSkipped {
		t.Fatalf("result = %+v, want name-only patch skipped", results[0])
	}
	if len(st.patches) != 0 {
		t.Fatalf("patches = %+v, want none applied", st.patches)
	}
}

func TestExecutorDropsSuspiciousNameKeepsRest(t *testing.T) {
	st := newExecStoreStub()
	exec := newTestExecutor(st, okMessenger(), policy.InWindow)

	proposed := "hola buenas"
	city := "Asunción"
	results, err := exec.Execute(context.Background(), "run-1", &Batch{Commands: []Command{
		UpsertProfileFields{
			commandBase: commandBase{ConversationID: "conv-1"},
			Patch:       store.ContactPatch{Name: &proposed, City: &city},
		},
	}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if results[0].Outcome != OutcomeExecuted {
		t.Fatalf("result = %+v", results[0])
	}
	if len(st.patches) != 1 {
		t.Fatalf("patches = %+v", st.patches)
	}
	if st.patches[0].Name != nil {
		t.Fatal("suspicious name must be dropped from the patch")
	}
	if st.patches[0].City == nil || *st.patches[0].City != "Asunción" {
		t.Fatalf("city = %v, want kept", st.patches[0].City)
	}
}

func TestExecutorRejectsMixedConversationBatch(t *testing.T) {
	st := newExecStoreStub()
	exec := newTestExecutor(st, okMessenger(), policy.InWindow)

	_, err := exec.Execute(context.Background(), "run-1", &Batch{Commands: []Command{
		sessionSend("hola", "k1"),
		SetConversationStage{commandBase: commandBase{ConversationID: "conv-2"}, Stage: "screening"},
	}})
	if !errors.Is(err, ErrMixedConversations) {
		t.Fatalf("err = %v, want mixed-conversation rejection", err)
	}
	if len(st.outbound) != 0 || len(st.messages) != 0 {
		t.Fatal("a mixed batch must execute nothing")
	}
	if len(st.updates) != 1 || st.updates[0].Status != store.RunError {
		t.Fatalf("updates = %+v, want one ERROR transition", st.updates)
	}
	issues := string(st.updates[0].Issues)
	if !strings.Contains(issues, "conv-1") || !strings.Contains(issues, "conv-2") {
		t.Fatalf("issues = %s, want both conversation ids recorded", issues)
	}
}

func TestExecutorUnknownTagFailsGracefully(t *testing.T) {
	st := newExecStoreStub()
	exec := newTestExecutor(st, okMessenger(), policy.InWindow)

	results, err := exec.Execute(context.Background(), "run-1", &Batch{Commands: []Command{
		bogusCommand{},
		SetConversationStatus{commandBase: commandBase{ConversationID: ""}, Status: store.StatusClosed},
	}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if results[0].Outcome != OutcomeFailed {
		t.Fatalf("result = %+v, want unknown command failed", results[0])
	}
	if results[1].Outcome != OutcomeExecuted {
		t.Fatalf("result = %+v, later commands must still run", results[1])
	}
}

func TestExecutorMarksRunExecuted(t *testing.T) {
	st := newExecStoreStub()
	exec := newTestExecutor(st, okMessenger(), policy.InWindow)

	if _, err := exec.Execute(context.Background(), "run-1", &Batch{Commands: []Command{sessionSend("Hola", "k1")}}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(st.updates) != 1 || st.updates[0].Status != store.RunExecuted {
		t.Fatalf("updates = %+v", st.updates)
	}
	if len(st.updates[0].Results) == 0 {
		t.Fatal("expected results recorded on the run")
	}
}

type bogusCommand struct{}

func (bogusCommand) Tag() CommandTag      { return CommandTag("BOGUS") }
func (bogusCommand) Conversation() string { return "" }
