package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hirewire/whatsapp-agent/internal/policy"
)

// NormalizeContext carries the per-run facts used to fill command defaults.
type NormalizeContext struct {
	ConversationID string
	EventID        string
	Window         policy.WindowState
}

var enumSeparators = regexp.MustCompile(`[\s\-]+`)

// enum-like string fields normalized to UPPER_SNAKE before validation.
var enumFields = []string{"command", "type", "status", "severity", "visibility"}

// NormalizeResponse shapes a freshly parsed envelope before repair and
// validation: numeric strings coerced, enum strings uppercased, "parameters"
// flattened into the command, and per-command defaults filled. The input map
// is modified in place and returned.
func NormalizeResponse(resp map[string]any, nc NormalizeContext) map[string]any {
	if resp == nil {
		return nil
	}
	if v, ok := asInt(resp["version"]); ok {
		resp["version"] = v
	}
	for _, cmd := range rawCommands(resp) {
		normalizeCommand(cmd, nc)
	}
	return resp
}

func normalizeCommand(cmd map[string]any, nc NormalizeContext) {
	flattenParameters(cmd)

	for _, field := range enumFields {
		if s, ok := cmd[field].(string); ok {
			cmd[field] = normalizeEnum(s)
		}
	}
	// Models use "tag" or "action" for the discriminant often enough to accept.
	if _, ok := cmd["command"]; !ok {
		for _, alt := range []string{"tag", "action"} {
			if s, ok := cmd[alt].(string); ok {
				cmd["command"] = normalizeEnum(s)
				break
			}
		}
	}

	if s, ok := cmd["conversationId"].(string); !ok || strings.TrimSpace(s) == "" {
		cmd["conversationId"] = nc.ConversationID
	}

	if tag, _ := cmd["command"].(string); CommandTag(tag) == TagSendMessage {
		if s, ok := cmd["channel"].(string); !ok || strings.TrimSpace(s) == "" {
			cmd["channel"] = "whatsapp"
		}
		if s, ok := cmd["type"].(string); !ok || strings.TrimSpace(s) == "" {
			if nc.Window == policy.OutOfWindow {
				cmd["type"] = string(SendTemplate)
			} else {
				cmd["type"] = string(SendSessionText)
			}
		}
		if s, ok := cmd["dedupeKey"].(string); !ok || strings.TrimSpace(s) == "" {
			cmd["dedupeKey"] = DeriveDedupeKey(nc.ConversationID, nc.EventID, cmd)
		}
	}
}

// flattenParameters lifts a "parameters" sub-object into the command without
// overwriting keys the model already set at the top level.
func flattenParameters(cmd map[string]any) {
	params, ok := cmd["parameters"].(map[string]any)
	if !ok {
		return
	}
	for k, v := range params {
		if _, exists := cmd[k]; !exists {
			cmd[k] = v
		}
	}
}

func normalizeEnum(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return enumSeparators.ReplaceAllString(s, "_")
}

// DeriveDedupeKey builds the deterministic fallback idempotency key used when
// the model omits one. Two identical intents in the same triggering event
// collapse to the same key.
func DeriveDedupeKey(conversationID, eventID string, cmd map[string]any) string {
	tag, _ := cmd["command"].(string)
	text, _ := cmd["text"].(string)
	template, _ := cmd["templateName"].(string)
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%s", conversationID, eventID, tag, text, template)))
	return "auto-" + hex.EncodeToString(h[:])[:16]
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, true
		}
	}
	return 0, false
}
