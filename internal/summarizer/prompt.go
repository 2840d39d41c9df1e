package summarizer

import (
	"fmt"
	"strings"
)

const developerPrompt = `You are an intelligent meeting assistant that generates concise summaries and insightful follow-up questions.

IMPORTANT GUIDELINES:
- The transcription data you receive may be incomplete or mid-sentence
- You will receive ongoing transcription chunks along with previous context
- Focus on extracting key points, decisions, action items, and important topics
- Generate summaries that are concise (1-2 sentences) but capture the essence
- Create follow-up questions that are relevant, thought-provoking, and actionable
- DO NOT repeat questions that have been asked before

Your response MUST be valid JSON in this exact format:
{
  "summary": "A concise 1-2 sentence summary of the key points discussed",
  "followUpQuestions": [
    "First follow-up question?",
    "Second follow-up question?",
    "Third follow-up question?"
  ]
}

PREVIOUS FOLLOW-UP QUESTIONS (DO NOT REPEAT):`

type request struct {
	Model     string         `json:"model"`
	Reasoning *reasoning     `json:"reasoning,omitempty"`
	Input     []inputMessage `json:"input"`
}

type reasoning struct {
	Effort string `json:"effort"`
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildDeveloperPrompt(previousFollowUps []string) string {
	var b strings.Builder
	b.WriteString(developerPrompt)
	b.WriteByte('\n')
	if len(previousFollowUps) == 0 {
		b.WriteString("None yet.")
		return b.String()
	}
	b.WriteString(numbered(previousFollowUps))
	return b.String()
}

func buildUserMessage(previousSummaries []string, window []string) string {
	var b strings.Builder
	b.WriteString("PREVIOUS CONTEXT:\n")
	if len(previousSummaries) == 0 {
		b.WriteString("This is the first summary.")
	} else {
		b.WriteString(numbered(previousSummaries))
	}
	b.WriteString("\n\nNEW TRANSCRIPTION:\n")
	b.WriteString(strings.TrimSpace(strings.Join(window, " ")))
	b.WriteString("\n\nGenerate a concise summary and 3 relevant follow-up questions in valid JSON format.")
	return b.String()
}

func numbered(items []string) string {
	lines := make([]string, 0, len(items))
	for i, item := range items {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, item))
	}
	return strings.Join(lines, "\n")
}

func buildRequest(model, effort string, previousSummaries, previousFollowUps, window []string) request {
	req := request{
		Model: model,
		Input: []inputMessage{
			{Role: "developer", Content: buildDeveloperPrompt(previousFollowUps)},
			{Role: "user", Content: buildUserMessage(previousSummaries, window)},
		},
	}
	if effort != "" {
		req.Reasoning = &reasoning{Effort: effort}
	}
	return req
}

func lastN(items []string, n int) []string {
	if n <= 0 || len(items) <= n {
		return append([]string(nil), items...)
	}
	return append([]string(nil), items[len(items)-n:]...)
}
