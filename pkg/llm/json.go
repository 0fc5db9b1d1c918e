package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON indicates the model's output contained no parseable JSON.
var ErrNoJSON = errors.New("no JSON found in model output")

// DecodeJSON extracts and unmarshals the JSON document in a model
// response. Models frequently wrap structured output in markdown fences
// or surround it with prose; this strips both before decoding.
func DecodeJSON(text string, v any) error {
	cleaned := stripFences(text)

	// Trim leading/trailing prose around the outermost JSON value.
	start := strings.IndexAny(cleaned, "{[")
	if start < 0 {
		return ErrNoJSON
	}
	var end int
	if cleaned[start] == '{' {
		end = strings.LastIndexByte(cleaned, '}')
	} else {
		end = strings.LastIndexByte(cleaned, ']')
	}
	if end <= start {
		return ErrNoJSON
	}

	if err := json.Unmarshal([]byte(cleaned[start:end+1]), v); err != nil {
		return errors.Join(ErrNoJSON, err)
	}
	return nil
}

func stripFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if idx := strings.Index(cleaned, "```json"); idx >= 0 {
		cleaned = cleaned[idx+len("```json"):]
	} else if idx := strings.Index(cleaned, "```"); idx >= 0 {
		cleaned = cleaned[idx+3:]
	}
	if idx := strings.Index(cleaned, "```"); idx >= 0 {
		cleaned = cleaned[:idx]
	}
	return strings.TrimSpace(cleaned)
}
