package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

const systemPrompt = `You estimate the nutritional content of meals from photos.
Respond with JSON only, using exactly these keys:
  "calories": total estimated kilocalories for everything visible (number),
  "description": a short name for the meal, at most eight words (string),
  "confidence": your confidence in the estimate from 0 to 1 (number).
If the photo contains no food, respond with calories 0 and description "no food detected".`

const userPrompt = "Estimate the calories in this meal."

// DecodeJSON decodes a model response, tolerating code fences and prose
// around the JSON object. Candidates are tried from most to least literal.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	var firstErr error
	for _, candidate := range jsonCandidates(trimmed) {
		err := json.Unmarshal([]byte(candidate), target)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return fmt.Errorf("%w (payload snippet: %s)", firstErr, summarizePayloadSnippet(trimmed))
}

// jsonCandidates returns the raw text, the text without a markdown fence and
// the outermost {...} span, skipping duplicates.
func jsonCandidates(raw string) []string {
	out := []string{raw}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	unfenced := stripCodeFence(raw)
	add(unfenced)
	start := strings.IndexByte(unfenced, '{')
	end := strings.LastIndexByte(unfenced, '}')
	if start >= 0 && end > start {
		add(unfenced[start : end+1])
	}
	return out
}

// stripCodeFence removes a leading ``` or ```json line and the closing fence.
func stripCodeFence(content string) string {
	body, ok := strings.CutPrefix(strings.TrimSpace(content), "```")
	if !ok {
		return content
	}
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

// summarizePayloadSnippet collapses whitespace and caps the text at 160 runes
// for error messages.
func summarizePayloadSnippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	if runes := []rune(clean); len(runes) > 160 {
		return string(runes[:160]) + "..."
	}
	return clean
}
