package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hirewire/whatsapp-agent/internal/llm"
	"github.com/hirewire/whatsapp-agent/internal/policy"
	"github.com/hirewire/whatsapp-agent/internal/store"
)

// Tools are read-only: they resolve or validate data for the model but never
// mutate domain state. Execution happens synchronously inside the invocation
// loop; RUN_TOOL commands in the final batch are a no-op.

// ToolFunc runs one tool call.
type ToolFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool couples a wire declaration with its implementation.
type Tool struct {
	Spec llm.ToolSpec
	Run  ToolFunc
}

// WindowSource lets the window-status tool reuse the policy resolver.
type WindowSource interface {
	WindowState(ctx context.Context, conversationID string) (policy.WindowState, error)
}

// ProgramSource lists the programs the agent may mention.
type ProgramSource interface {
	ListActivePrograms(ctx context.Context) ([]store.Program, error)
}

// ToolRegistry holds the tools offered to the model for one conversation.
type ToolRegistry struct {
	order []string
	tools map[string]Tool
}

// NewToolRegistry builds the standard read-only toolset bound to one
// conversation.
func NewToolRegistry(windows WindowSource, programs ProgramSource, conversationID string) *ToolRegistry {
	r := &ToolRegistry{tools: map[string]Tool{}}

	r.add(Tool{
		Spec: llm.ToolSpec{
			Name:        "normalize_text",
			Description: "Trim and collapse whitespace in a text fragment.",
			InputSchema: objSchema(map[string]any{
				"text": map[string]any{"type": "string", "description": "text to normalize"},
			}, "text"),
		},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			text, _ := args["text"].(string)
			return map[string]any{"normalized": normalizeWhitespace(text)}, nil
		},
	})

	r.add(Tool{
		Spec: llm.ToolSpec{
			Name:        "resolve_location",
			Description: "Resolve a fuzzy location mention to a canonical region and city.",
			InputSchema: objSchema(map[string]any{
				"location": map[string]any{"type": "string", "description": "location as the candidate wrote it"},
			}, "location"),
		},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			loc, _ := args["location"].(string)
			region, city, ok := resolveLocation(loc)
			if !ok {
				return nil, fmt.Errorf("no canonical match for %q", loc)
			}
			return map[string]any{"region": region, "city": city}, nil
		},
	})

	r.add(Tool{
		Spec: llm.ToolSpec{
			Name:        "validate_national_id",
			Description: "Validate a national-id number's checksum.",
			InputSchema: objSchema(map[string]any{
				"nationalId": map[string]any{"type": "string", "description": "document number, digits only or with separators"},
			}, "nationalId"),
		},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			id, _ := args["nationalId"].(string)
			valid, normalized := validateNationalID(id)
			return map[string]any{"valid": valid, "normalized": normalized}, nil
		},
	})

	r.add(Tool{
		Spec: llm.ToolSpec{
			Name:        "get_window_status",
			Description: "Return the current session-window state for this conversation.",
			InputSchema: objSchema(map[string]any{}),
		},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			state, err := windows.WindowState(ctx, conversationID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"windowState": string(state)}, nil
		},
	})

	r.add(Tool{
		Spec: llm.ToolSpec{
			Name:        "list_programs",
			Description: "List the programs a conversation can be assigned to.",
			InputSchema: objSchema(map[string]any{}),
		},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			list, err := programs.ListActivePrograms(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(list))
			for _, p := range list {
				out = append(out, map[string]any{"id": p.ID, "name": p.Name, "slug": p.Slug})
			}
			return map[string]any{"programs": out}, nil
		},
	})

	return r
}

func (r *ToolRegistry) add(t Tool) {
	r.order = append(r.order, t.Spec.Name)
	r.tools[t.Spec.Name] = t
}

// Specs returns the wire declarations in registration order.
func (r *ToolRegistry) Specs() []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Spec)
	}
	return out
}

// Dispatch runs one tool call. Errors become structured results fed back to
// the model; they never abort the loop.
func (r *ToolRegistry) Dispatch(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	tool, ok := r.tools[call.Name]
	if !ok {
		return llm.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: map[string]any{"error": fmt.Sprintf("unknown tool %q", call.Name)},
			IsError: true,
		}
	}
	content, err := tool.Run(ctx, call.Args)
	if err != nil {
		return llm.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: map[string]any{"error": err.Error()},
			IsError: true,
		}
	}
	return llm.ToolResult{CallID: call.ID, Name: call.Name, Content: content}
}

func objSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func normalizeWhitespace(text string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(text), " ")
}

// canonicalLocations maps lowercase city aliases to region/city pairs.
var canonicalLocations = map[string][2]string{
	"asuncion":        {"Central", "Asunción"},
	"asunción":        {"Central", "Asunción"},
	"luque":           {"Central", "Luque"},
	"san lorenzo":     {"Central", "San Lorenzo"},
	"lambare":         {"Central", "Lambaré"},
	"lambaré":         {"Central", "Lambaré"},
	"cde":             {"Alto Paraná", "Ciudad del Este"},
	"ciudad del este": {"Alto Paraná", "Ciudad del Este"},
	"encarnacion":     {"Itapúa", "Encarnación"},
	"encarnación":     {"Itapúa", "Encarnación"},
}

func resolveLocation(raw string) (region, city string, ok bool) {
	needle := strings.ToLower(normalizeWhitespace(raw))
	if needle == "" {
		return "", "", false
	}
	if hit, found := canonicalLocations[needle]; found {
		return hit[0], hit[1], true
	}
	for alias, hit := range canonicalLocations {
		if strings.Contains(needle, alias) {
			return hit[0], hit[1], true
		}
	}
	return "", "", false
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// validateNationalID runs a mod-11 check over the digits, the common scheme
// for the documents on this channel.
func validateNationalID(raw string) (bool, string) {
	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) < 5 || len(digits) > 12 {
		return false, digits
	}
	body, check := digits[:len(digits)-1], int(digits[len(digits)-1]-'0')
	sum := 0
	weight := 2
	for i := len(body) - 1; i >= 0; i-- {
		sum += int(body[i]-'0') * weight
		weight++
		if weight > 11 {
			weight = 2
		}
	}
	expected := 11 - (sum % 11)
	if expected >= 10 {
		expected = 0
	}
	return expected == check, digits
}
