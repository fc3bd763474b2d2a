package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// usageMeter accumulates token usage. Providers embed it to satisfy the
// usage half of ChatProvider. Local servers have zero pricing.
type usageMeter struct {
	pricing RequestPricing

	mu    sync.Mutex
	usage Usage
}

func (m *usageMeter) GetUsage() *Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.usage
	return &u
}

func (m *usageMeter) ResetUsage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = Usage{}
}

func (m *usageMeter) track(inputTokens, outputTokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.InputTokens += inputTokens
	m.usage.OutputTokens += outputTokens
	m.usage.TotalCost += float64(inputTokens) / 1_000_000 * m.pricing.Input
	m.usage.TotalCost += float64(outputTokens) / 1_000_000 * m.pricing.Output
}

// wireMessage is the role/content pair both local servers accept.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// wireMessages flattens a request with the system prompt first.
func wireMessages(req ChatRequest) []wireMessage {
	out := make([]wireMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, wireMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		out = append(out, wireMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// postJSON sends body to a local model server and decodes a 200 response.
func postJSON[T any](ctx context.Context, client *http.Client, endpoint string, body any) (*T, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var out T
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &out, nil
}
