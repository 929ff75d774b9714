package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// thinkTagPattern matches <think>...</think> blocks emitted by reasoning models.
var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// ExtractJSONObject returns the first balanced {...} block of a response.
// Think blocks, markdown fences and surrounding prose are tolerated.
func ExtractJSONObject(response string) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")

	for offset := 0; offset < len(cleaned); {
		candidate, start, ok := extractBalanced(cleaned[offset:], '{', '}')
		if start == -1 {
			break
		}
		if ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
		// An opener that never closes or a block that is not JSON: retry after it.
		offset += start + 1
	}

	return "", fmt.Errorf("no JSON object found in response")
}

// extractBalanced finds the first openChar in s and returns the balanced
// structure starting there with the opener's index. The index is -1 when s has
// no openChar; ok is false when the structure never closes.
func extractBalanced(s string, openChar, closeChar byte) (string, int, bool) {
	start := strings.IndexByte(s, openChar)
	if start == -1 {
		return "", -1, false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case openChar:
			depth++
		case closeChar:
			depth--
			if depth == 0 {
				return s[start : i+1], start, true
			}
		}
	}

	return "", start, false
}

// ParseJSONObject extracts the first JSON object from a response and decodes
// it into a map of raw values so callers can coerce each field themselves.
func ParseJSONObject(response string) (map[string]json.RawMessage, error) {
	jsonStr, err := ExtractJSONObject(response)
	if err != nil {
		return nil, err
	}

	var result map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return result, nil
}
