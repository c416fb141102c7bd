package agent

import (
	"encoding/json"
	"strings"
)

// ParseResponse decodes the model's final text as a JSON object. The parse is
// deliberately loose: markdown code fences are stripped and, failing a direct
// parse, the first top-level object in the text is tried. Returns nil when
// nothing parseable is found; the caller treats nil as a validation failure,
// not an error.
func ParseResponse(raw string) map[string]any {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}
	text = stripCodeFence(text)

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj
	}

	// Salvage: take the outermost {...} span, if any.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil
	}
	return obj
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.Index(text, "\n"); idx >= 0 {
		// Drop the language hint line ("json", "JSON", ...).
		first := strings.TrimSpace(text[:idx])
		if len(first) <= 8 {
			text = text[idx+1:]
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// rawCommands pulls the command list out of a parsed response envelope.
func rawCommands(resp map[string]any) []map[string]any {
	list, ok := resp["commands"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
