package agent

import (
	"fmt"

	"github.com/hirewire/whatsapp-agent/internal/store"
)

// ValidateResponse checks the whole envelope against the closed command
// vocabulary and decodes it into a typed batch. Validation is all-or-nothing:
// a single invalid command invalidates the entire batch.
func ValidateResponse(resp map[string]any) (*Batch, []Issue) {
	var issues []Issue
	if resp == nil {
		return nil, []Issue{{Path: "$", Message: "response is not a JSON object"}}
	}

	batch := &Batch{}
	batch.Agent = str(resp["agent"])
	if batch.Agent == "" {
		issues = append(issues, Issue{Path: "$.agent", Message: "agent name is required"})
	}
	if v, ok := asInt(resp["version"]); ok && v >= 1 {
		batch.Version = v
	} else {
		issues = append(issues, Issue{Path: "$.version", Message: "version must be an integer >= 1"})
	}
	if notes, ok := resp["notes"].(string); ok {
		batch.Notes = notes
	}

	raw := rawCommands(resp)
	if list, present := resp["commands"]; present {
		if _, ok := list.([]any); !ok {
			issues = append(issues, Issue{Path: "$.commands", Message: "commands must be an array"})
		}
	} else {
		issues = append(issues, Issue{Path: "$.commands", Message: "commands array is required"})
	}

	for i, cmd := range raw {
		decoded, cmdIssues := decodeCommand(cmd, fmt.Sprintf("$.commands[%d]", i))
		if len(cmdIssues) > 0 {
			issues = append(issues, cmdIssues...)
			continue
		}
		batch.Commands = append(batch.Commands, decoded)
	}

	if len(issues) > 0 {
		return nil, issues
	}
	return batch, nil
}

func decodeCommand(cmd map[string]any, path string) (Command, []Issue) {
	tag := CommandTag(str(cmd["command"]))
	if !knownTags[tag] {
		return nil, []Issue{{Path: path + ".command", Message: fmt.Sprintf("unknown command tag %q", tag)}}
	}
	base := commandBase{ConversationID: str(cmd["conversationId"])}

	switch tag {
	case TagUpsertProfileFields:
		return decodeProfilePatch(cmd, base, path)

	case TagSetConversationStatus:
		status := store.ConversationStatus(str(cmd["status"]))
		switch status {
		case store.StatusNew, store.StatusOpen, store.StatusClosed:
			return SetConversationStatus{commandBase: base, Status: status}, nil
		}
		return nil, []Issue{{Path: path + ".status", Message: "status must be one of NEW, OPEN, CLOSED"}}

	case TagSetConversationStage:
		stage := str(cmd["stage"])
		if stage == "" {
			return nil, []Issue{{Path: path + ".stage", Message: "stage is required"}}
		}
		return SetConversationStage{commandBase: base, Stage: stage, Reason: str(cmd["reason"])}, nil

	case TagSetConversationProgram:
		programID := str(cmd["programId"])
		if programID == "" {
			return nil, []Issue{{Path: path + ".programId", Message: "programId is required"}}
		}
		return SetConversationProgram{commandBase: base, ProgramID: programID, Reason: str(cmd["reason"])}, nil

	case TagAddConversationNote:
		text := str(cmd["text"])
		if text == "" {
			return nil, []Issue{{Path: path + ".text", Message: "note text is required"}}
		}
		visibility := str(cmd["visibility"])
		if visibility == "" {
			visibility = "INTERNAL"
		}
		if visibility != "INTERNAL" && visibility != "OPERATORS" {
			return nil, []Issue{{Path: path + ".visibility", Message: "visibility must be INTERNAL or OPERATORS"}}
		}
		return AddConversationNote{commandBase: base, Text: text, Visibility: visibility}, nil

	case TagSetNoContactar:
		value, ok := lenientBool(cmd["value"])
		if !ok {
			return nil, []Issue{{Path: path + ".value", Message: "value must be a boolean"}}
		}
		reason := str(cmd["reason"])
		if value && reason == "" {
			return nil, []Issue{{Path: path + ".reason", Message: "reason is required when opting out"}}
		}
		return SetNoContactar{commandBase: base, Value: value, Reason: reason}, nil

	case TagScheduleInterview:
		sched := ScheduleInterview{
			commandBase: base,
			Date:        str(cmd["date"]),
			Day:         str(cmd["day"]),
			Time:        str(cmd["time"]),
			Location:    str(cmd["location"]),
		}
		if confirmed, ok := lenientBool(cmd["confirmed"]); ok {
			sched.Confirmed = confirmed
		}
		if sched.Date == "" && (sched.Day == "" || sched.Time == "") {
			return nil, []Issue{{Path: path, Message: "schedule needs a date or a day and time"}}
		}
		return sched, nil

	case TagSendMessage:
		return decodeSendMessage(cmd, base, path)

	case TagNotifyAdmin:
		severity := str(cmd["severity"])
		switch severity {
		case "INFO", "WARN", "CRITICAL":
		default:
			return nil, []Issue{{Path: path + ".severity", Message: "severity must be one of INFO, WARN, CRITICAL"}}
		}
		text := str(cmd["text"])
		if text == "" {
			return nil, []Issue{{Path: path + ".text", Message: "alert text is required"}}
		}
		return NotifyAdmin{commandBase: base, Severity: severity, Text: text}, nil

	case TagRunTool:
		name := str(cmd["name"])
		if name == "" {
			return nil, []Issue{{Path: path + ".name", Message: "tool name is required"}}
		}
		args, _ := cmd["args"].(map[string]any)
		return RunTool{commandBase: base, Name: name, Args: args}, nil
	}

	return nil, []Issue{{Path: path, Message: "unreachable command tag"}}
}

func decodeProfilePatch(cmd map[string]any, base commandBase, path string) (Command, []Issue) {
	fields, ok := cmd["fields"].(map[string]any)
	if !ok || len(fields) == 0 {
		return nil, []Issue{{Path: path + ".fields", Message: "fields patch object is required"}}
	}

	allowed := map[string]bool{}
	for _, f := range profileFieldNames {
		allowed[f] = true
	}

	var issues []Issue
	patch := store.ContactPatch{}
	for key, v := range fields {
		if !allowed[key] {
			issues = append(issues, Issue{Path: fmt.Sprintf("%s.fields.%s", path, key), Message: "unknown profile field"})
			continue
		}
		if v == nil {
			patch.Clear = append(patch.Clear, key)
			continue
		}
		switch key {
		case "yearsExperience":
			n, ok := lenientInt(v)
			if !ok {
				issues = append(issues, Issue{Path: path + ".fields.yearsExperience", Message: "must be an integer"})
				continue
			}
			patch.YearsExperience = &n
		default:
			s, ok := v.(string)
			if !ok {
				issues = append(issues, Issue{Path: fmt.Sprintf("%s.fields.%s", path, key), Message: "must be a string or null"})
				continue
			}
			val := s
			switch key {
			case "name":
				patch.Name = &val
			case "email":
				patch.Email = &val
			case "nationalId":
				patch.NationalID = &val
			case "country":
				patch.Country = &val
			case "region":
				patch.Region = &val
			case "city":
				patch.City = &val
			case "availability":
				patch.Availability = &val
			}
		}
	}
	if len(issues) > 0 {
		return nil, issues
	}
	return UpsertProfileFields{commandBase: base, Patch: patch}, nil
}

func decodeSendMessage(cmd map[string]any, base commandBase, path string) (Command, []Issue) {
	var issues []Issue

	channel := str(cmd["channel"])
	if channel != "whatsapp" && normalizeEnum(channel) != "WHATSAPP" {
		issues = append(issues, Issue{Path: path + ".channel", Message: `channel must be "whatsapp"`})
	}

	sendType := SendType(str(cmd["type"]))
	if sendType != SendSessionText && sendType != SendTemplate {
		issues = append(issues, Issue{Path: path + ".type", Message: "type must be SESSION_TEXT or TEMPLATE"})
	}

	dedupeKey := str(cmd["dedupeKey"])
	if dedupeKey == "" {
		issues = append(issues, Issue{Path: path + ".dedupeKey", Message: "dedupeKey is required"})
	}

	if len(issues) > 0 {
		return nil, issues
	}

	send := SendMessage{
		commandBase:  base,
		Channel:      "whatsapp",
		Type:         sendType,
		Text:         str(cmd["text"]),
		TemplateName: str(cmd["templateName"]),
		DedupeKey:    dedupeKey,
	}
	if vars, ok := cmd["templateVars"].(map[string]any); ok {
		send.TemplateVars = make(map[string]string, len(vars))
		for k, v := range vars {
			send.TemplateVars[k] = stringify(v)
		}
	}
	return send, nil
}
