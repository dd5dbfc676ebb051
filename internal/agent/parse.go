package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// stripFences removes a surrounding markdown code fence from a model
// response, if present, so structured parsing sees raw JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
	} else {
		return s
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// parseEvaluation parses the evaluator's structured response. Callers apply
// the fail-safe default when this returns an error; nothing deeper in the
// pipeline ever sees an unparsed evaluation.
func parseEvaluation(raw string) (*Evaluation, error) {
	text := stripFences(raw)
	var ev Evaluation
	if err := json.Unmarshal([]byte(text), &ev); err != nil {
		return nil, fmt.Errorf("parse evaluation: %w", err)
	}
	if ev.Confidence < 0 {
		ev.Confidence = 0
	}
	if ev.Confidence > 1 {
		ev.Confidence = 1
	}
	return &ev, nil
}
