package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/cue/internal/ai"
	"github.com/kozaktomas/cue/internal/config"
)

// newChatProvider creates the LLM backend named by LLM_PROVIDER.
func newChatProvider(ctx context.Context, cfg *config.Config) (ai.ChatProvider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		if cfg.OpenAI.Token == "" {
			return nil, errors.New("OPENAI_TOKEN environment variable is required")
		}
		return ai.NewOpenAIProvider(cfg.OpenAI.Token, ai.WithVoice(cfg.Speech.Voice)), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, errors.New("GEMINI_API_KEY environment variable is required")
		}
		provider, err := ai.NewGeminiProvider(ctx, cfg.Gemini.APIKey, ai.DefaultGeminiPricing)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini provider: %w", err)
		}
		return provider, nil
	case "ollama":
		return ai.NewOllamaProvider(cfg.Ollama.URL, cfg.Ollama.Model), nil
	case "llamacpp":
		provider, err := ai.NewLlamaCppProvider(cfg.LlamaCpp.URL, cfg.LlamaCpp.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp provider: %w", err)
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: openai, gemini, ollama, llamacpp)", cfg.LLM.Provider)
	}
}

// newSpeechProvider returns the OpenAI speech provider, or nil when no
// token is configured. Only OpenAI offers transcription and TTS.
func newSpeechProvider(cfg *config.Config, chat ai.ChatProvider) ai.SpeechProvider {
	if speech, ok := chat.(ai.SpeechProvider); ok {
		return speech
	}
	if cfg.OpenAI.Token == "" {
		return nil
	}
	return ai.NewOpenAIProvider(cfg.OpenAI.Token, ai.WithVoice(cfg.Speech.Voice))
}
