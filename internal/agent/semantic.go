package agent

import "fmt"

// semanticRule checks one cross-field property the schema cannot express.
// Rules return issues for the command at the given path, or nil.
type semanticRule func(index int, cmd Command) []Issue

var semanticRules = []semanticRule{
	sessionTextNeedsText,
	templateNeedsName,
}

// ValidateSemantics runs after schema validation. An empty result means pass.
func ValidateSemantics(batch *Batch) []Issue {
	var issues []Issue
	for i, cmd := range batch.Commands {
		for _, rule := range semanticRules {
			issues = append(issues, rule(i, cmd)...)
		}
	}
	return issues
}

func sessionTextNeedsText(index int, cmd Command) []Issue {
	send, ok := cmd.(SendMessage)
	if !ok || send.Type != SendSessionText {
		return nil
	}
	if send.Text == "" {
		return []Issue{{
			Path:    fmt.Sprintf("$.commands[%d].text", index),
			Message: "SESSION_TEXT send requires non-empty text",
		}}
	}
	return nil
}

func templateNeedsName(index int, cmd Command) []Issue {
	send, ok := cmd.(SendMessage)
	if !ok || send.Type != SendTemplate {
		return nil
	}
	if send.TemplateName == "" {
		return []Issue{{
			Path:    fmt.Sprintf("$.commands[%d].templateName", index),
			Message: "TEMPLATE send requires a template name",
		}}
	}
	return nil
}
