package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultLlamaCppURL   = "http://localhost:8080"
	defaultLlamaCppModel = "llama"
)

// LlamaCppProvider implements ChatProvider using the OpenAI compatible
// endpoint of a llama.cpp server.
type LlamaCppProvider struct {
	usageMeter

	endpoint string
	model    string
	client   *http.Client
}

func NewLlamaCppProvider(baseURL, model string) (*LlamaCppProvider, error) {
	if baseURL == "" {
		baseURL = defaultLlamaCppURL
	}
	if model == "" {
		model = defaultLlamaCppModel
	}
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid llama.cpp URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid llama.cpp URL scheme %q: must be http or https", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("invalid llama.cpp URL: missing host")
	}
	return &LlamaCppProvider{
		endpoint: parsed.JoinPath("/v1/chat/completions").String(),
		model:    model,
		client:   &http.Client{},
	}, nil
}

func (p *LlamaCppProvider) Name() string {
	return p.model
}

type llamaCppRequest struct {
	Model          string              `json:"model"`
	Messages       []wireMessage       `json:"messages"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	Temperature    float64             `json:"temperature,omitempty"`
	ResponseFormat *llamaCppRespFormat `json:"response_format,omitempty"`
	Stream         bool                `json:"stream"`
}

type llamaCppRespFormat struct {
	Type string `json:"type"`
}

type llamaCppResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *LlamaCppProvider) Chat(ctx context.Context, req ChatRequest) (string, error) {
	body := llamaCppRequest{
		Model:       p.model,
		Messages:    wireMessages(req),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSON {
		body.ResponseFormat = &llamaCppRespFormat{Type: "json_object"}
	}

	resp, err := postJSON[llamaCppResponse](ctx, p.client, p.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("llama.cpp API error: %w", err)
	}
	p.track(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return "", errors.New("no response from llama.cpp")
	}
	return resp.Choices[0].Message.Content, nil
}
