package llm

import (
	"encoding/json"
	"strings"
)

// CleanJSONResponse removes common formatting noise from LLM JSON replies:
// markdown code fences (```json or ```) and leading/trailing whitespace.
func CleanJSONResponse(response string) string {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}

// ExtractJSON extracts a JSON object from a model response using escalating
// strategies: direct parse of the cleaned response, a brace-matched object
// scan, then the span between the first '{' and last '}'.
func ExtractJSON(response string, target interface{}) error {
	trimmed := strings.TrimSpace(response)

	cleaned := CleanJSONResponse(trimmed)
	if err := json.Unmarshal([]byte(cleaned), target); err == nil {
		return nil
	}

	if obj := matchBraces(trimmed); obj != "" {
		if err := json.Unmarshal([]byte(obj), target); err == nil {
			return nil
		}
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), target); err == nil {
			return nil
		}
	}

	return &JSONParseError{Response: response, Message: "could not parse JSON object"}
}

// matchBraces returns the first balanced {...} object in text, tracking
// string literals and escapes so braces inside strings do not miscount.
func matchBraces(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]

		if escaped {
			escaped = false
			continue
		}

		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == '{':
			depth++
		case !inString && c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}

	return ""
}

// JSONParseError represents a failure to parse an LLM JSON response.
type JSONParseError struct {
	Response string
	Message  string
}

func (e *JSONParseError) Error() string {
	return e.Message + ": " + TruncateForError(e.Response, 200)
}

// TruncateForError truncates a string for error messages.
func TruncateForError(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
