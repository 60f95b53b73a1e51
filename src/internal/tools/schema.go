package tools

import (
	"fmt"
	"sort"
	"strings"
)

// Schemas are JSON-Schema-shaped object maps: this is the literal interface
// boundary between the language model and the executor. Every tool
// publishes one plus the matching runtime validation below.

func objectSchema(props map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func enumProp(desc string, values ...string) map[string]any {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return map[string]any{"type": "string", "description": desc, "enum": vals}
}

func numberProp(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func stringArrayProp(desc string) map[string]any {
	return map[string]any{"type": "array", "description": desc, "items": map[string]any{"type": "string"}}
}

func objectProp(desc string) map[string]any {
	return map[string]any{"type": "object", "description": desc}
}

// validateInput checks input against a schema, aggregating every field
// violation into a single error message.
func validateInput(schema, input map[string]any) error {
	props, _ := schema["properties"].(map[string]any)
	var issues []string

	if required, ok := schema["required"].([]string); ok {
		for _, key := range required {
			if _, present := input[key]; !present {
				issues = append(issues, fmt.Sprintf("%s: required", key))
			}
		}
	}

	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		prop, known := props[key].(map[string]any)
		if !known {
			issues = append(issues, fmt.Sprintf("%s: unknown field", key))
			continue
		}
		if issue := checkType(key, prop, input[key]); issue != "" {
			issues = append(issues, issue)
		}
	}

	if len(issues) > 0 {
		return fmt.Errorf("validation failed: %s", strings.Join(issues, "; "))
	}
	return nil
}

func checkType(key string, prop map[string]any, value any) string {
	if value == nil {
		return ""
	}
	typ, _ := prop["type"].(string)
	switch typ {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("%s: must be a string", key)
		}
		if enum, ok := prop["enum"].([]any); ok {
			for _, allowed := range enum {
				if allowed == s {
					return ""
				}
			}
			return fmt.Sprintf("%s: must be one of %v", key, enum)
		}
	case "number":
		if _, ok := value.(float64); !ok {
			return fmt.Sprintf("%s: must be a number", key)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("%s: must be a boolean", key)
		}
	case "array":
		arr, ok := value.([]any)
		if !ok {
			return fmt.Sprintf("%s: must be an array", key)
		}
		if items, ok := prop["items"].(map[string]any); ok {
			if itemType, _ := items["type"].(string); itemType == "string" {
				for i, item := range arr {
					if _, ok := item.(string); !ok {
						return fmt.Sprintf("%s[%d]: must be a string", key, i)
					}
				}
			}
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Sprintf("%s: must be an object", key)
		}
	}
	return ""
}

// Decoding helpers for validated input. Validation has already enforced
// types, so these only normalize.

func strArg(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return s
}

func boolArg(input map[string]any, key string) bool {
	b, _ := input[key].(bool)
	return b
}

func intArg(input map[string]any, key string, def int) int {
	f, ok := input[key].(float64)
	if !ok {
		return def
	}
	return int(f)
}

func strSliceArg(input map[string]any, key string) []string {
	arr, ok := input[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func mapArg(input map[string]any, key string) map[string]any {
	m, _ := input[key].(map[string]any)
	return m
}
