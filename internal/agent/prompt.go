package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hirewire/whatsapp-agent/internal/events"
	"github.com/hirewire/whatsapp-agent/internal/policy"
	"github.com/hirewire/whatsapp-agent/internal/store"
)

// RunContext is the snapshot serialized as the sole user turn of a model
// invocation, and stored on the AgentRun for audit.
type RunContext struct {
	Conversation ContextConversation `json:"conversation"`
	Contact      ContextContact      `json:"contact"`
	Transcript   []TranscriptTurn    `json:"transcript"`
	AskedFields  map[string]int      `json:"askedFields,omitempty"`
	LastOutbound string              `json:"lastOutboundHash,omitempty"`
	Window       policy.WindowState  `json:"windowState"`
	Trigger      ContextTrigger      `json:"trigger"`
}

type ContextConversation struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Stage     string `json:"stage,omitempty"`
	ProgramID string `json:"programId,omitempty"`
}

type ContextContact struct {
	Name            string `json:"name,omitempty"`
	Email           string `json:"email,omitempty"`
	NationalID      string `json:"nationalId,omitempty"`
	Country         string `json:"country,omitempty"`
	Region          string `json:"region,omitempty"`
	City            string `json:"city,omitempty"`
	YearsExperience *int   `json:"yearsExperience,omitempty"`
	Availability    string `json:"availability,omitempty"`
	OptedOut        bool   `json:"optedOut"`
}

type TranscriptTurn struct {
	Direction string    `json:"direction"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

type ContextTrigger struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// BuildRunContext assembles the context snapshot from stored state.
func BuildRunContext(conv *store.Conversation, contact *store.Contact, transcript []store.Message,
	asked map[string]store.AskedField, lastOutboundHash string, window policy.WindowState,
	ev events.TriggerEvent) RunContext {

	rc := RunContext{
		Conversation: ContextConversation{
			ID:     conv.ID,
			Status: string(conv.Status),
			Stage:  conv.Stage,
		},
		Window:       window,
		LastOutbound: lastOutboundHash,
		Trigger: ContextTrigger{
			ID:   ev.ID,
			Type: string(ev.Type),
			Text: ev.Text,
		},
	}
	if conv.ProgramID != nil {
		rc.Conversation.ProgramID = *conv.ProgramID
	}

	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	rc.Contact = ContextContact{
		Name:            deref(contact.Name),
		Email:           deref(contact.Email),
		NationalID:      deref(contact.NationalID),
		Country:         deref(contact.Country),
		Region:          deref(contact.Region),
		City:            deref(contact.City),
		YearsExperience: contact.YearsExperience,
		Availability:    deref(contact.Availability),
		OptedOut:        contact.OptedOut,
	}

	for _, m := range transcript {
		text := m.Body
		if m.Transcript != nil && *m.Transcript != "" {
			text = *m.Transcript
		}
		rc.Transcript = append(rc.Transcript, TranscriptTurn{
			Direction: string(m.Direction),
			Text:      text,
			At:        m.CreatedAt,
		})
	}

	if len(asked) > 0 {
		rc.AskedFields = make(map[string]int, len(asked))
		for field, counter := range asked {
			rc.AskedFields[field] = counter.Count
		}
	}
	return rc
}

// UserTurn serializes the context as the user message body.
func (rc RunContext) UserTurn() string {
	data, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		// Marshal of plain structs cannot fail; keep the loop alive anyway.
		return fmt.Sprintf("{\"conversation\":{\"id\":%q}}", rc.Conversation.ID)
	}
	return string(data)
}

const systemPolicyTemplate = `You are %q, a recruiting assistant replying on WhatsApp.

You MUST answer with a single JSON object, no prose, matching:
{"agent": string, "version": 1, "commands": [...], "notes": string?}

Allowed command tags (field "command" on each entry):
UPSERT_PROFILE_FIELDS   fields: partial patch of name, email, nationalId, country, region, city, yearsExperience, availability (null clears a field)
SET_CONVERSATION_STATUS status: NEW | OPEN | CLOSED
SET_CONVERSATION_STAGE  stage: string, reason?: string
SET_CONVERSATION_PROGRAM programId: string, reason?: string
ADD_CONVERSATION_NOTE   text: string, visibility: INTERNAL | OPERATORS
SET_NO_CONTACTAR        value: boolean, reason: string (required when true)
SCHEDULE_INTERVIEW      date or day+time, location?, confirmed?
SEND_MESSAGE            channel: "whatsapp", type: %s, dedupeKey: string, text or templateName+templateVars
NOTIFY_ADMIN            severity: INFO | WARN | CRITICAL, text: string
RUN_TOOL                name: string, args: object

Rules:
- Window state is %s. %s
- Never contact an opted-out candidate.
- Reply in the candidate's language, briefly and respectfully.
- When the triggering event is an inbound message, include exactly one SEND_MESSAGE reply.
- Use the provided tools to normalize text, resolve locations, or validate documents before storing them.`

// BuildSystemPrompt renders the fixed policy for the current window state.
func BuildSystemPrompt(agentName string, window policy.WindowState) string {
	sendTypes := "SESSION_TEXT | TEMPLATE"
	windowRule := "Free-form SESSION_TEXT replies are permitted."
	if window == policy.OutOfWindow {
		sendTypes = "TEMPLATE (SESSION_TEXT is forbidden out of window)"
		windowRule = "Only pre-approved TEMPLATE sends are permitted until the candidate writes again."
	}
	return fmt.Sprintf(systemPolicyTemplate, agentName, sendTypes, window, windowRule)
}
