package summarizer

import (
	"encoding/json"
	"fmt"
	"strings"
)

type summaryPayload struct {
	Summary           string   `json:"summary"`
	FollowUpQuestions []string `json:"followUpQuestions"`
}

func stripFences(text string) string {
	out := strings.TrimSpace(text)
	if strings.HasPrefix(out, "```json") {
		out = strings.TrimPrefix(out, "```json")
	} else if strings.HasPrefix(out, "```") {
		out = strings.TrimPrefix(out, "```")
	}
	out = strings.TrimSuffix(strings.TrimSpace(out), "```")
	return strings.TrimSpace(out)
}

// parseSummary validates the model text. A non-empty summary string and a
// followUpQuestions array are required; blank questions are dropped.
func parseSummary(text string) (summaryPayload, error) {
	cleaned := stripFences(text)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return summaryPayload{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	summaryRaw, ok := raw["summary"]
	if !ok {
		return summaryPayload{}, fmt.Errorf("%w: missing summary", ErrInvalidResponse)
	}
	var summary string
	if err := json.Unmarshal(summaryRaw, &summary); err != nil || strings.TrimSpace(summary) == "" {
		return summaryPayload{}, fmt.Errorf("%w: summary must be a non-empty string", ErrInvalidResponse)
	}
	questionsRaw, ok := raw["followUpQuestions"]
	if !ok {
		return summaryPayload{}, fmt.Errorf("%w: missing followUpQuestions", ErrInvalidResponse)
	}
	var questions []string
	if err := json.Unmarshal(questionsRaw, &questions); err != nil || questions == nil {
		return summaryPayload{}, fmt.Errorf("%w: followUpQuestions must be an array of strings", ErrInvalidResponse)
	}
	out := summaryPayload{Summary: strings.TrimSpace(summary), FollowUpQuestions: make([]string, 0, len(questions))}
	for _, q := range questions {
		if q = strings.TrimSpace(q); q != "" {
			out.FollowUpQuestions = append(out.FollowUpQuestions, q)
		}
	}
	return out, nil
}
