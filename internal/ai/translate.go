package ai

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed prompts/translate.txt
var translatePrompt string

// Translate translates English display text into the language named by
// languageName (e.g. "Hindi"). On failure, returns the original text and the error.
func (a *Assistant) Translate(ctx context.Context, text, languageName string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" || languageName == "" || strings.EqualFold(languageName, "English") {
		return text, nil
	}

	content, err := a.chat.Chat(ctx, ChatRequest{
		System:      fmt.Sprintf(translatePrompt, languageName),
		Messages:    userMessage(text),
		MaxTokens:   100,
		Temperature: 0.2,
	})
	if err != nil {
		return text, fmt.Errorf("%s: %w", a.chat.Name(), err)
	}

	translated := strings.TrimSpace(content)
	if translated == "" {
		return text, nil
	}
	return translated, nil
}
