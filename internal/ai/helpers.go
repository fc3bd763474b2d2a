package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	fallbackSummary = "A conversation took place."
	fallbackTone    = "neutral"
)

// FallbackCueText is spoken when the LLM is unavailable.
func FallbackCueText(name string) string {
	return fmt.Sprintf("This is %s. You're safe with them.", name)
}

// FallbackSummary is stored when a transcript cannot be summarized.
func FallbackSummary() *MemorySummary {
	return &MemorySummary{Summary: fallbackSummary, EmotionalTone: fallbackTone}
}

// buildCueContent builds the user message for cue generation.
func buildCueContent(req CueRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", req.Name)
	fmt.Fprintf(&b, "Relation: %s\n", req.Relation)
	if req.Note == "" && req.RecentMemory == "" {
		b.WriteString("No additional context.\n")
	}
	if req.Note != "" {
		fmt.Fprintf(&b, "Caregiver note: %s\n", req.Note)
	}
	if req.RecentMemory != "" {
		fmt.Fprintf(&b, "Recent memory: %s\n", req.RecentMemory)
	}
	return b.String()
}

// cleanCueText strips wrapping quotes and makes sure the text ends a sentence
// so the TTS voice does not trail off.
func cleanCueText(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, `'`} {
		if len(s) >= 2 && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	if s == "" {
		return s
	}
	if !strings.HasSuffix(s, ".") && !strings.HasSuffix(s, "!") &&
		!strings.HasSuffix(s, "?") && !strings.HasSuffix(s, "।") {
		s += "."
	}
	return s
}

// parseMemorySummary parses the model output, filling in defaults for
// missing fields.
func parseMemorySummary(content string) (*MemorySummary, error) {
	var raw struct {
		Summary        string  `json:"summary"`
		EmotionalTone  string  `json:"emotional_tone"`
		ImportantEvent *string `json:"important_event"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		return nil, err
	}

	out := &MemorySummary{
		Summary:       strings.TrimSpace(raw.Summary),
		EmotionalTone: strings.ToLower(strings.TrimSpace(raw.EmotionalTone)),
	}
	if out.Summary == "" {
		out.Summary = fallbackSummary
	}
	if out.EmotionalTone == "" {
		out.EmotionalTone = fallbackTone
	}
	if raw.ImportantEvent != nil {
		ev := strings.TrimSpace(*raw.ImportantEvent)
		if !strings.EqualFold(ev, "null") && !strings.EqualFold(ev, "none") {
			out.ImportantEvent = ev
		}
	}
	return out, nil
}

// extractJSON returns the first balanced JSON object in content, which lets
// markdown fenced replies parse.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return content
	}

	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}

	// If no matching brace found, return from start
	return content[start:]
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
