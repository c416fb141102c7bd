package agent

import (
	"fmt"
	"strconv"
	"strings"
)

// Repair heuristics tolerate a generative model's habit of putting data in
// the wrong envelope. They run strictly before validation and never after;
// each extraction either finds a value or leaves the command untouched, so
// repairing an already-well-formed command is a no-op and an unrepairable one
// fails validation on its own merits.

var profileFieldNames = []string{
	"name", "email", "nationalId", "country", "region", "city", "yearsExperience", "availability",
}

var textSynonyms = []string{"text", "message", "content", "body", "reply", "value"}

var templateNameSynonyms = []string{"templateName", "template_name", "template"}

var templateVarSynonyms = []string{"templateVars", "template_vars", "variables", "vars", "params"}

// siblingLocations are the alternate envelopes scanned, in priority order,
// when a required value is missing from its proper place.
var siblingLocations = []string{"parameters", "payload", "message", "data"}

// RepairCommand normalizes one command map in place.
func RepairCommand(cmd map[string]any) {
	switch CommandTag(str(cmd["command"])) {
	case TagUpsertProfileFields:
		repairProfileFields(cmd)
	case TagSendMessage:
		repairSendMessage(cmd)
	}
}

// repairProfileFields reconstructs a proper patch object when the model put
// profile values in "parameters", a malformed "fields", or the command's own
// top level.
func repairProfileFields(cmd map[string]any) {
	if fields, ok := cmd["fields"].(map[string]any); ok && len(fields) > 0 {
		coerceProfileValues(fields)
		return
	}

	sources := []map[string]any{}
	if params, ok := cmd["parameters"].(map[string]any); ok {
		sources = append(sources, params)
	}
	if fields, ok := cmd["fields"].(map[string]any); ok {
		sources = append(sources, fields)
	}
	sources = append(sources, cmd)

	rebuilt := map[string]any{}
	for _, source := range sources {
		for _, field := range profileFieldNames {
			if _, done := rebuilt[field]; done {
				continue
			}
			if v, present := source[field]; present {
				rebuilt[field] = v
			}
		}
	}
	if len(rebuilt) == 0 {
		return
	}
	coerceProfileValues(rebuilt)
	cmd["fields"] = rebuilt
}

// coerceProfileValues applies the field-level coercions: strings trimmed to
// null when empty, lenient integers for yearsExperience, lenient booleans
// mapped onto availability answers.
func coerceProfileValues(fields map[string]any) {
	for field, v := range fields {
		if v == nil {
			continue
		}
		switch field {
		case "yearsExperience":
			if n, ok := lenientInt(v); ok {
				fields[field] = n
			}
		default:
			switch val := v.(type) {
			case string:
				trimmed := strings.TrimSpace(val)
				if trimmed == "" {
					fields[field] = nil
				} else {
					fields[field] = trimmed
				}
			case bool:
				if field == "availability" {
					if val {
						fields[field] = "si"
					} else {
						fields[field] = "no"
					}
				}
			}
		}
	}
}

// repairSendMessage backfills text, template name and template variables from
// sibling envelopes, then reconciles an inconsistent type/field combination.
func repairSendMessage(cmd map[string]any) {
	if str(cmd["text"]) == "" {
		if found, ok := huntString(cmd, textSynonyms); ok {
			cmd["text"] = found
		}
	}
	if str(cmd["templateName"]) == "" {
		if found, ok := huntString(cmd, templateNameSynonyms); ok {
			cmd["templateName"] = found
		}
	}
	if _, ok := cmd["templateVars"].(map[string]any); !ok {
		if vars, ok := huntTemplateVars(cmd); ok {
			cmd["templateVars"] = vars
		}
	}

	// Reconcile type against what is actually present: a template send with
	// no template but free text downgrades to session text; a session send
	// with no text but a template upgrades to a template send.
	sendType := str(cmd["type"])
	hasText := str(cmd["text"]) != ""
	hasTemplate := str(cmd["templateName"]) != ""
	switch {
	case strings.Contains(sendType, "TEMPLATE") && !hasTemplate && hasText:
		cmd["type"] = string(SendSessionText)
	case strings.Contains(sendType, "TEXT") && !hasText && hasTemplate:
		cmd["type"] = string(SendTemplate)
	}
}

// huntString scans the command and its sibling envelopes for the first
// non-empty string under any of the given keys.
func huntString(cmd map[string]any, keys []string) (string, bool) {
	for _, source := range candidateSources(cmd) {
		for _, key := range keys {
			if s := str(source[key]); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// huntTemplateVars accepts either an object or a positional-array encoding of
// template variables; array index n becomes the string key for n+1.
func huntTemplateVars(cmd map[string]any) (map[string]any, bool) {
	for _, source := range candidateSources(cmd) {
		for _, key := range templateVarSynonyms {
			switch vars := source[key].(type) {
			case map[string]any:
				if len(vars) > 0 {
					return vars, true
				}
			case []any:
				if len(vars) == 0 {
					continue
				}
				out := make(map[string]any, len(vars))
				for i, v := range vars {
					out[strconv.Itoa(i+1)] = stringify(v)
				}
				return out, true
			}
		}
	}
	return nil, false
}

func candidateSources(cmd map[string]any) []map[string]any {
	sources := []map[string]any{cmd}
	for _, loc := range siblingLocations {
		if m, ok := cmd[loc].(map[string]any); ok {
			sources = append(sources, m)
		}
	}
	return sources
}

// lenientInt parses integers the way models emit them: numbers, numeric
// strings, or floats.
func lenientInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f), true
		}
	}
	return 0, false
}

// lenientBool parses booleans from the fixed vocabulary the channel's users
// and the model both produce.
func lenientBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "si", "sí", "yes", "true", "1":
			return true, true
		case "no", "false", "0":
			return false, true
		}
	case float64:
		if b == 1 {
			return true, true
		}
		if b == 0 {
			return false, true
		}
	}
	return false, false
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}
