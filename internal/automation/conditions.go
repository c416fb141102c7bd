package automation

import (
	"strconv"
	"strings"

	"github.com/hirewire/whatsapp-agent/internal/events"
	"github.com/hirewire/whatsapp-agent/internal/policy"
	"github.com/hirewire/whatsapp-agent/internal/store"
)

// Condition is one AND-term of a rule. Field and op come from closed sets;
// anything outside them evaluates to false rather than erroring, so a
// partially-invalid stored rule can never take the engine down.
type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// evalScope is the state snapshot conditions are evaluated against.
type evalScope struct {
	Conversation *store.Conversation
	Contact      *store.Contact
	Window       policy.WindowState
	Event        events.TriggerEvent
}

// resolveField projects one comparable field as a string. Booleans project as
// "true"/"false". Unknown fields resolve to not-found.
func resolveField(field string, s evalScope) (string, bool) {
	boolStr := func(b bool) string {
		if b {
			return "true"
		}
		return "false"
	}
	has := func(p *string) string {
		return boolStr(p != nil && strings.TrimSpace(*p) != "")
	}
	switch field {
	case "conversation.status":
		return string(s.Conversation.Status), true
	case "conversation.stage":
		return s.Conversation.Stage, true
	case "conversation.program":
		if s.Conversation.ProgramID == nil {
			return "", true
		}
		return *s.Conversation.ProgramID, true
	case "conversation.line":
		return s.Conversation.LineID, true
	case "contact.opted_out":
		return boolStr(s.Contact.OptedOut), true
	case "contact.has_name":
		return has(s.Contact.Name), true
	case "contact.has_email":
		return has(s.Contact.Email), true
	case "contact.has_national_id":
		return has(s.Contact.NationalID), true
	case "contact.has_location":
		return has(s.Contact.City), true
	case "contact.has_experience":
		return boolStr(s.Contact.YearsExperience != nil), true
	case "contact.has_availability":
		return has(s.Contact.Availability), true
	case "window.state":
		return string(s.Window), true
	case "event.text":
		return s.Event.Text, true
	}
	return "", false
}

// evalCondition evaluates one term. Unknown field or op is false, never an
// error.
func evalCondition(c Condition, s evalScope) bool {
	actual, ok := resolveField(c.Field, s)
	if !ok {
		return false
	}
	switch c.Op {
	case "equals":
		return strings.EqualFold(actual, valueString(c.Value))
	case "not_equals":
		return !strings.EqualFold(actual, valueString(c.Value))
	case "contains":
		needle := strings.ToLower(valueString(c.Value))
		return needle != "" && strings.Contains(strings.ToLower(actual), needle)
	case "in":
		list, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, v := range list {
			if strings.EqualFold(actual, valueString(v)) {
				return true
			}
		}
		return false
	}
	return false
}

// evalAll is a strict AND over the condition list; an empty list matches.
func evalAll(conds []Condition, s evalScope) bool {
	for _, c := range conds {
		if !evalCondition(c, s) {
			return false
		}
	}
	return true
}

func valueString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		// JSON numbers decode as float64.
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}
