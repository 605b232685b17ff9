package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var thinkingMarkers = regexp.MustCompile(`(?s)<think(?:ing)?>.*?</think(?:ing)?>`)

// ParseStructured extracts the structured result from a model response.
// Thinking markers are stripped, then the last balanced JSON object in
// the tail is parsed. When nothing parses the result is
// {"parse_error": true} with the raw text attached.
func ParseStructured(text string) map[string]any {
	cleaned := thinkingMarkers.ReplaceAllString(text, "")
	cleaned = stripMarkdownFences(cleaned)

	if obj := lastBalancedObject(cleaned); obj != nil {
		return obj
	}

	return map[string]any{
		"parse_error": true,
		"raw":         strings.TrimSpace(text),
	}
}

// stripMarkdownFences removes ```json ... ``` wrappers when present
func stripMarkdownFences(content string) string {
	start := -1
	if idx := strings.Index(content, "```json"); idx >= 0 {
		start = idx + 7
	} else if idx := strings.Index(content, "```"); idx >= 0 {
		start = idx + 3
	}
	if start >= 0 {
		if idx := strings.Index(content[start:], "```"); idx >= 0 {
			return strings.TrimSpace(content[start : start+idx])
		}
	}
	return strings.TrimSpace(content)
}

// lastBalancedObject scans the text for top-level {...} spans and
// returns the last one that unmarshals into an object.
func lastBalancedObject(text string) map[string]any {
	var spans [][2]int
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					spans = append(spans, [2]int{start, i + 1})
					start = -1
				}
			}
		}
	}

	for i := len(spans) - 1; i >= 0; i-- {
		var obj map[string]any
		candidate := text[spans[i][0]:spans[i][1]]
		if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
			return obj
		}
	}
	return nil
}
