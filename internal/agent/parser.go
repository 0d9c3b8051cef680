package agent

import (
	"encoding/json"

	"github.com/codeloom-ai/codeloom/internal/llm"
	"github.com/codeloom-ai/codeloom/internal/logger"
	"github.com/codeloom-ai/codeloom/internal/session"
)

// Tool names the model sometimes emits directly as a part type instead of
// wrapping in {"type": "tool", "toolName": ...}. Parsed leniently.
var knownToolTypes = map[string]bool{
	"read_file":    true,
	"grep_file":    true,
	"find_file":    true,
	"search":       true,
	"call_chain":   true,
	"extract_xml":  true,
	"apply_change": true,
	"batch":        true,
}

// modelResponse is the JSON shape the model is prompted to produce
type modelResponse struct {
	Parts []map[string]interface{} `json:"parts"`
	Text  string                   `json:"text"`
}

// parseResponse turns a raw model reply into message parts. When no JSON
// can be extracted the whole reply becomes a single text part; the loop then
// treats the turn as finished.
func parseResponse(raw, messageID, sessionID string, log *logger.Logger) []session.Part {
	var resp modelResponse
	if err := llm.ExtractJSON(raw, &resp); err != nil {
		log.Debug("response is not JSON, treating as plain text: %v", err)
		return []session.Part{session.NewTextPart(messageID, sessionID, raw)}
	}

	if len(resp.Parts) == 0 {
		text := resp.Text
		if text == "" {
			text = raw
		}
		return []session.Part{session.NewTextPart(messageID, sessionID, text)}
	}

	var parts []session.Part
	for _, partJSON := range resp.Parts {
		if part := parsePart(partJSON, messageID, sessionID, log); part != nil {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return []session.Part{session.NewTextPart(messageID, sessionID, raw)}
	}
	return parts
}

// parsePart converts one JSON part into a TextPart or ToolPart. Reasoning
// and subtask parts collapse into text; unknown types are dropped.
func parsePart(partJSON map[string]interface{}, messageID, sessionID string, log *logger.Logger) session.Part {
	partType, _ := partJSON["type"].(string)

	switch {
	case partType == "text", partType == "reasoning", partType == "subtask":
		text, _ := partJSON["text"].(string)
		if text == "" {
			return nil
		}
		return session.NewTextPart(messageID, sessionID, text)

	case partType == "tool":
		toolName, _ := partJSON["toolName"].(string)
		if toolName == "" {
			log.Warn("tool part without toolName, dropping")
			return nil
		}
		params, _ := partJSON["parameters"].(map[string]interface{})
		part := session.NewToolPart(messageID, sessionID, toolName, params)
		if summary, ok := partJSON["summary"].(string); ok {
			part.Summary = summary
		}
		return part

	case knownToolTypes[partType]:
		// The model used the tool name as the type; everything but the
		// bookkeeping fields is a parameter.
		params := make(map[string]interface{})
		for key, value := range partJSON {
			if key == "type" || key == "summary" {
				continue
			}
			params[key] = value
		}
		part := session.NewToolPart(messageID, sessionID, partType, params)
		if summary, ok := partJSON["summary"].(string); ok {
			part.Summary = summary
		}
		return part

	default:
		log.Warn("unknown part type %q, dropping", partType)
		return nil
	}
}

// paramsEqual compares parameter maps by their JSON form. encoding/json
// sorts object keys, so map iteration order does not matter.
func paramsEqual(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	aJSON, errA := json.Marshal(a)
	bJSON, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aJSON) == string(bJSON)
}
