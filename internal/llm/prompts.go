package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxPromptChars bounds the text embedded in a coherence prompt.
const maxPromptChars = 12000

// CoherenceResult is the parsed reply of a coherence check.
type CoherenceResult struct {
	Coherence float64 `json:"coherence"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// CoherencePrompt builds the prompt asking a model to rate text coherence.
func CoherencePrompt(text string) string {
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}
	var sb strings.Builder
	sb.WriteString("Rate how coherent the following text is: whether its sentences follow ")
	sb.WriteString("logically from one another and stay on topic.\n\n")
	sb.WriteString("<text>\n")
	sb.WriteString(text)
	sb.WriteString("\n</text>\n\n")
	sb.WriteString("Respond with JSON only, in this format:\n")
	sb.WriteString(`{"coherence": <number between 0 and 1>, "reasoning": "<one sentence>"}`)
	return sb.String()
}

// ParseCoherenceResponse extracts the coherence rating from a model reply.
func ParseCoherenceResponse(response string) (*CoherenceResult, error) {
	raw := ExtractJSON(response)
	if raw == "" {
		return nil, fmt.Errorf("no JSON found in response")
	}
	var result CoherenceResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("decoding coherence response: %w", err)
	}
	if result.Coherence < 0 || result.Coherence > 1 {
		return nil, fmt.Errorf("coherence %v out of range [0, 1]", result.Coherence)
	}
	return &result, nil
}

// ExtractJSON returns the JSON object or array in a model reply, unwrapping
// markdown code fences. Returns "" when no JSON is present.
func ExtractJSON(response string) string {
	s := strings.TrimSpace(response)
	if strings.HasPrefix(s, "```") {
		if nl := strings.Index(s, "\n"); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return ""
	}
	if s[0] == '{' || s[0] == '[' {
		return s
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return ""
}
