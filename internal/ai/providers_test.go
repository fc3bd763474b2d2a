package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaProvider_Chat(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"model":             "llama3.2:3b",
			"message":           map[string]string{"role": "assistant", "content": "This is Asha."},
			"done":              true,
			"prompt_eval_count": 12,
			"eval_count":        4,
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "")
	out, err := p.Chat(context.Background(), ChatRequest{
		System:    "be brief",
		Messages:  userMessage("hi"),
		MaxTokens: 80,
		JSON:      true,
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out != "This is Asha." {
		t.Errorf("unexpected reply %q", out)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Format != "json" || got.Options.NumPredict != 80 {
		t.Errorf("unexpected request %+v", got)
	}
	if u := p.GetUsage(); u.InputTokens != 12 || u.OutputTokens != 4 {
		t.Errorf("unexpected usage %+v", u)
	}
	p.ResetUsage()
	if u := p.GetUsage(); u.InputTokens != 0 {
		t.Errorf("usage not reset: %+v", u)
	}
}

func TestOllamaProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "m").Chat(context.Background(), ChatRequest{Messages: userMessage("hi")})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestLlamaCppProvider_Chat(t *testing.T) {
	var got llamaCppRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"{\"summary\":\"ok\"}"}}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`)
	}))
	defer srv.Close()

	p, err := NewLlamaCppProvider(srv.URL, "")
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Chat(context.Background(), ChatRequest{Messages: userMessage("hi"), JSON: true})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out != `{"summary":"ok"}` {
		t.Errorf("unexpected reply %q", out)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Errorf("expected json response format, got %+v", got.ResponseFormat)
	}
}

func TestNewLlamaCppProvider_InvalidURL(t *testing.T) {
	for _, u := range []string{"ftp://host", "http://"} {
		if _, err := NewLlamaCppProvider(u, ""); err == nil {
			t.Errorf("expected error for %q", u)
		}
	}
}

func TestOpenAIProvider_ChatAndSpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4.1-mini",`+
				`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"This is Asha."}}],`+
				`"usage":{"prompt_tokens":1000000,"completion_tokens":0,"total_tokens":1000000}}`)
		case strings.HasSuffix(r.URL.Path, "/audio/speech"):
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Write([]byte("ID3fake-mp3"))
		case strings.HasSuffix(r.URL.Path, "/audio/transcriptions"):
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"text":"  we planned a picnic  "}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", WithBaseURL(srv.URL+"/"), WithVoice("nova"))
	ctx := context.Background()

	out, err := p.Chat(ctx, ChatRequest{System: "s", Messages: userMessage("hi"), MaxTokens: 80, Temperature: 0.4})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out != "This is Asha." {
		t.Errorf("unexpected reply %q", out)
	}
	if u := p.GetUsage(); u.InputTokens != 1_000_000 || u.TotalCost != DefaultOpenAIPricing.Input {
		t.Errorf("unexpected usage %+v", u)
	}

	audio, err := p.Synthesize(ctx, "This is Asha.")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if string(audio) != "ID3fake-mp3" {
		t.Errorf("unexpected audio %q", audio)
	}

	text, err := p.Transcribe(ctx, []byte("webm-bytes"), "memory.webm")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "we planned a picnic" {
		t.Errorf("unexpected transcript %q", text)
	}

	if _, err := p.Transcribe(ctx, nil, ""); err == nil {
		t.Error("expected error for empty audio")
	}
}

func TestAudioContentType(t *testing.T) {
	tests := map[string]string{
		"a.wav":  "audio/wav",
		"a.MP3":  "audio/mpeg",
		"a.webm": "audio/webm",
		"noext":  "audio/webm",
	}
	for name, want := range tests {
		if got := audioContentType(name); got != want {
			t.Errorf("audioContentType(%q) = %q, want %q", name, got, want)
		}
	}
}
