package events

// TriggerType enumerates what can wake the automation engine. Inactivity and
// other periodic triggers are scheduled externally and delivered as ordinary
// events.
type TriggerType string

const (
	TriggerMessageReceived TriggerType = "message_received"
	TriggerInactivity      TriggerType = "inactivity"
	TriggerStageChanged    TriggerType = "stage_changed"
	TriggerProfileUpdated  TriggerType = "profile_updated"
)

// TriggerEvent is one inbound occurrence for one conversation.
type TriggerEvent struct {
	ID             string      `json:"id"`
	Type           TriggerType `json:"type"`
	ConversationID string      `json:"conversationId"`
	Text           string      `json:"text,omitempty"`
	MediaType      string      `json:"mediaType,omitempty"`
	Transcript     string      `json:"transcript,omitempty"`
}
