package ai

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
)

//go:embed prompts/cue.txt
var cuePrompt string

//go:embed prompts/summarize.txt
var summarizePrompt string

//go:embed prompts/condense.txt
var condensePrompt string

// condenseMaxWords is the length under which notes are shown as written.
const condenseMaxWords = 8

// Assistant runs the text tasks of the system on top of a ChatProvider.
type Assistant struct {
	chat ChatProvider
}

// NewAssistant wraps a chat provider.
func NewAssistant(chat ChatProvider) *Assistant {
	return &Assistant{chat: chat}
}

// Name returns the underlying model name.
func (a *Assistant) Name() string {
	return a.chat.Name()
}

// Usage returns the accumulated token usage of the provider.
func (a *Assistant) Usage() *Usage {
	return a.chat.GetUsage()
}

// CueText generates the one or two sentence whisper for a confirmed person.
func (a *Assistant) CueText(ctx context.Context, req CueRequest) (string, error) {
	content, err := a.chat.Chat(ctx, ChatRequest{
		System:      cuePrompt,
		Messages:    userMessage(buildCueContent(req)),
		MaxTokens:   80,
		Temperature: 0.4,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", a.chat.Name(), err)
	}
	text := cleanCueText(content)
	if text == "" {
		return "", errors.New("empty cue text")
	}
	return text, nil
}

// Summarize turns a transcript into a memory summary. Malformed replies are
// retried with the parse error fed back to the model.
func (a *Assistant) Summarize(ctx context.Context, transcript string) (*MemorySummary, error) {
	const maxRetries = 3

	messages := userMessage("Transcript:\n" + transcript)

	var lastError error
	var lastResponse string

	for range maxRetries {
		content, err := a.chat.Chat(ctx, ChatRequest{
			System:      summarizePrompt,
			Messages:    messages,
			MaxTokens:   200,
			Temperature: 0.4,
			JSON:        true,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.chat.Name(), err)
		}
		lastResponse = content

		summary, err := parseMemorySummary(content)
		if err != nil {
			lastError = err
			messages = append(messages,
				Message{Role: "assistant", Content: content},
				Message{Role: "user", Content: fmt.Sprintf(
					"JSON parse error: %v. Please fix the JSON and try again. Output ONLY valid JSON, no other text.", err,
				)},
			)
			continue
		}
		return summary, nil
	}

	return nil, fmt.Errorf("failed to parse summary JSON after %d attempts: %w (last response: %s)",
		maxRetries, lastError, lastResponse)
}

// Condense shortens a caregiver note for display. Notes of up to eight words
// are returned without calling the model.
func (a *Assistant) Condense(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" || wordCount(text) <= condenseMaxWords {
		return text, nil
	}

	content, err := a.chat.Chat(ctx, ChatRequest{
		System:      condensePrompt,
		Messages:    userMessage(text),
		MaxTokens:   50,
		Temperature: 0.3,
	})
	if err != nil {
		return text, fmt.Errorf("%s: %w", a.chat.Name(), err)
	}
	condensed := strings.Trim(strings.TrimSpace(content), `"`)
	if condensed == "" {
		return text, nil
	}
	return condensed, nil
}
