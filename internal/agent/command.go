package agent

import (
	"github.com/hirewire/whatsapp-agent/internal/store"
)

// CommandTag discriminates the closed set of agent command shapes. The
// executor switches exhaustively on this type; adding a tag without handling
// it surfaces as a failed result, never a panic.
type CommandTag string

const (
	TagUpsertProfileFields    CommandTag = "UPSERT_PROFILE_FIELDS"
	TagSetConversationStatus  CommandTag = "SET_CONVERSATION_STATUS"
	TagSetConversationStage   CommandTag = "SET_CONVERSATION_STAGE"
	TagSetConversationProgram CommandTag = "SET_CONVERSATION_PROGRAM"
	TagAddConversationNote    CommandTag = "ADD_CONVERSATION_NOTE"
	TagSetNoContactar         CommandTag = "SET_NO_CONTACTAR"
	TagScheduleInterview      CommandTag = "SCHEDULE_INTERVIEW"
	TagSendMessage            CommandTag = "SEND_MESSAGE"
	TagNotifyAdmin            CommandTag = "NOTIFY_ADMIN"
	TagRunTool                CommandTag = "RUN_TOOL"
)

var knownTags = map[CommandTag]bool{
	TagUpsertProfileFields:    true,
	TagSetConversationStatus:  true,
	TagSetConversationStage:   true,
	TagSetConversationProgram: true,
	TagAddConversationNote:    true,
	TagSetNoContactar:         true,
	TagScheduleInterview:      true,
	TagSendMessage:            true,
	TagNotifyAdmin:            true,
	TagRunTool:                true,
}

// SendType selects between free-form and templated sends.
type SendType string

const (
	SendSessionText SendType = "SESSION_TEXT"
	SendTemplate    SendType = "TEMPLATE"
)

// Command is one validated agent intent.
type Command interface {
	Tag() CommandTag
	Conversation() string
}

type commandBase struct {
	ConversationID string
}

func (b commandBase) Conversation() string { return b.ConversationID }

// UpsertProfileFields patches contact profile fields. Additive only.
type UpsertProfileFields struct {
	commandBase
	Patch store.ContactPatch
}

func (UpsertProfileFields) Tag() CommandTag { return TagUpsertProfileFields }

// SetConversationStatus transitions the thread lifecycle.
type SetConversationStatus struct {
	commandBase
	Status store.ConversationStatus
}

func (SetConversationStatus) Tag() CommandTag { return TagSetConversationStatus }

// SetConversationStage moves the free-form funnel stage.
type SetConversationStage struct {
	commandBase
	Stage  string
	Reason string
}

func (SetConversationStage) Tag() CommandTag { return TagSetConversationStage }

// SetConversationProgram links a policy/prompt bundle.
type SetConversationProgram struct {
	commandBase
	ProgramID string
	Reason    string
}

func (SetConversationProgram) Tag() CommandTag { return TagSetConversationProgram }

// AddConversationNote appends a system note, not user-visible as a reply.
type AddConversationNote struct {
	commandBase
	Text       string
	Visibility string
}

func (AddConversationNote) Tag() CommandTag { return TagAddConversationNote }

// SetNoContactar flips the do-not-contact flag.
type SetNoContactar struct {
	commandBase
	Value  bool
	Reason string
}

func (SetNoContactar) Tag() CommandTag { return TagSetNoContactar }

// ScheduleInterview hands off to the scheduling collaborator.
type ScheduleInterview struct {
	commandBase
	Date      string
	Day       string
	Time      string
	Location  string
	Confirmed bool
}

func (ScheduleInterview) Tag() CommandTag { return TagScheduleInterview }

// SendMessage is the only command with side effects beyond the store.
type SendMessage struct {
	commandBase
	Channel      string
	Type         SendType
	Text         string
	TemplateName string
	TemplateVars map[string]string
	DedupeKey    string
}

func (SendMessage) Tag() CommandTag { return TagSendMessage }

// NotifyAdmin raises an operator alert.
type NotifyAdmin struct {
	commandBase
	Severity string
	Text     string
}

func (NotifyAdmin) Tag() CommandTag { return TagNotifyAdmin }

// RunTool is accepted for audit but a no-op at execution time; tools run
// inside the invocation loop.
type RunTool struct {
	commandBase
	Name string
	Args map[string]any
}

func (RunTool) Tag() CommandTag { return TagRunTool }

// Batch is a validated, single-conversation command list plus the response
// envelope it came from.
type Batch struct {
	Agent    string
	Version  int
	Notes    string
	Commands []Command
}

// Issue is one structured validation failure, fed back to the model verbatim.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}
