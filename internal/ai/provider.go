package ai

import "context"

// Message is a single chat turn. Role is "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// ChatRequest is a provider independent chat completion request.
type ChatRequest struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// JSON asks the model for a JSON object response.
	JSON bool
}

// ChatProvider defines the interface for LLM backends.
type ChatProvider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (string, error)

	// Usage tracking.
	GetUsage() *Usage
	ResetUsage()
}

// SpeechProvider converts between audio and text.
type SpeechProvider interface {
	// Transcribe returns the text spoken in audio. filename carries the
	// container format hint (e.g. "memory.webm").
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
	// Synthesize returns MP3 audio for text.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Usage tracks token usage and calculates cost.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalCost    float64 // in USD
}

// RequestPricing holds input/output prices per 1M tokens
type RequestPricing struct {
	Input  float64
	Output float64
}

// CueRequest describes the person an audio cue is generated for.
type CueRequest struct {
	Name         string
	Relation     string
	Note         string
	RecentMemory string
}

// MemorySummary is the condensed form of a recorded conversation.
type MemorySummary struct {
	Summary        string `json:"summary"`
	EmotionalTone  string `json:"emotional_tone"`
	ImportantEvent string `json:"important_event"`
}

func userMessage(content string) []Message {
	return []Message{{Role: "user", Content: content}}
}
