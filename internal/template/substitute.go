// Package template implements the {{ key }} placeholder substitution engine
// used to resolve node configuration against the execution payload.
package template

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	openMarker  = "{{"
	closeMarker = "}}"
)

// Substitute rewrites {{ key }} tokens inside value using entries from the
// payload. Strings have each token replaced with the stringified payload
// value; a string that consists of exactly one token yields the raw payload
// value so types survive whole-value references. Keys absent from the payload
// leave the original token text untouched. Maps and slices are rewritten
// recursively; every other value passes through unchanged.
//
// Substitution is a single pass: resolved output is never re-scanned, so a
// payload value containing {{ ... }} text cannot inject a second expansion.
func Substitute(value any, payload map[string]any) any {
	switch v := value.(type) {
	case string:
		return substituteString(v, payload)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = Substitute(val, payload)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = Substitute(val, payload)
		}
		return out
	default:
		return value
	}
}

// SubstituteConfig applies Substitute to a node configuration map.
// A nil config yields an empty map so executors never see nil.
func SubstituteConfig(config, payload map[string]any) map[string]any {
	if config == nil {
		return map[string]any{}
	}
	return Substitute(config, payload).(map[string]any)
}

// HasPlaceholders reports whether s contains at least one {{ ... }} token.
func HasPlaceholders(s string) bool {
	open := strings.Index(s, openMarker)
	if open == -1 {
		return false
	}
	return strings.Contains(s[open:], closeMarker)
}

// ContainsPlaceholders reports whether any string nested inside value holds a
// {{ ... }} token. Used to decide whether a config can be validated as-is or
// only after substitution.
func ContainsPlaceholders(value any) bool {
	switch v := value.(type) {
	case string:
		return HasPlaceholders(v)
	case map[string]any:
		for _, val := range v {
			if ContainsPlaceholders(val) {
				return true
			}
		}
	case []any:
		for _, val := range v {
			if ContainsPlaceholders(val) {
				return true
			}
		}
	}
	return false
}

func substituteString(s string, payload map[string]any) any {
	if !HasPlaceholders(s) {
		return s
	}

	// Whole-value reference: "{{ key }}" resolves to the raw payload value.
	if key, ok := wholeToken(s); ok {
		if val, present := payload[key]; present {
			return val
		}
		return s
	}

	var result strings.Builder
	result.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], openMarker)
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}

		result.WriteString(s[i : i+idx])
		start := i + idx + len(openMarker)

		end := strings.Index(s[start:], closeMarker)
		if end == -1 {
			// Unclosed marker: keep the rest verbatim.
			result.WriteString(s[i+idx:])
			break
		}
		end += start

		key := strings.TrimSpace(s[start:end])
		if val, present := payload[key]; present && key != "" {
			result.WriteString(Stringify(val))
		} else {
			// Unknown key: the token text survives unchanged.
			result.WriteString(s[i+idx : end+len(closeMarker)])
		}

		i = end + len(closeMarker)
	}

	return result.String()
}

// wholeToken reports whether s is exactly one {{ key }} token and returns the key.
func wholeToken(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, openMarker) || !strings.HasSuffix(trimmed, closeMarker) {
		return "", false
	}
	inner := trimmed[len(openMarker) : len(trimmed)-len(closeMarker)]
	// A second marker means the string holds more than one token.
	if strings.Contains(inner, openMarker) || strings.Contains(inner, closeMarker) {
		return "", false
	}
	key := strings.TrimSpace(inner)
	if key == "" {
		return "", false
	}
	return key, true
}

// Stringify converts a payload value into its inline string representation.
// Scalars use their natural form; maps and slices are JSON-encoded.
func Stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
