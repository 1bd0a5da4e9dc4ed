package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/tjfontaine/llm-governor/internal/domain"
	"github.com/tjfontaine/llm-governor/internal/testutil"
)

func newVCRProvider(t *testing.T, cassette string) (*Provider, func()) {
	t.Helper()

	// Skip if no API key and not in replay mode
	if os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("VCR_MODE") == "record" {
		t.Skip("Skipping test: OPENAI_API_KEY not set")
	}

	recorder, cleanup := testutil.NewVCRRecorder(t, cassette)

	// Use a dummy key for replay mode if not set
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = "test-key"
	}

	return NewProvider("openai", apiKey, WithHTTPClient(testutil.VCRHTTPClient(recorder))), cleanup
}

func TestCompleteReturnsCompletion(t *testing.T) {
	p, cleanup := newVCRProvider(t, "openai_complete")
	defer cleanup()

	resp, err := p.Complete(context.Background(), &domain.Request{
		Model:  "gpt-3.5-turbo",
		Prompt: "Say hello in one short sentence.",
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if resp.Text == "" {
		t.Error("expected completion text")
	}
	if resp.Usage.TotalTokens == 0 {
		t.Error("expected usage to be reported")
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish reason = %q, want stop", resp.FinishReason)
	}
}

func TestCompleteAuthRejected(t *testing.T) {
	p, cleanup := newVCRProvider(t, "openai_auth_error")
	defer cleanup()

	_, err := p.Complete(context.Background(), &domain.Request{Model: "gpt-3.5-turbo", Prompt: "Hello"})
	if err == nil {
		t.Fatal("expected error for rejected key")
	}

	var perr *domain.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T, want *domain.ProviderError", err)
	}
	if perr.Kind != domain.ProviderErrAuth {
		t.Errorf("kind = %q, want %q", perr.Kind, domain.ProviderErrAuth)
	}
	if perr.Retryable {
		t.Error("auth failures must not be retryable")
	}
	if perr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", perr.StatusCode)
	}
}

func TestCompleteRateLimited(t *testing.T) {
	p, cleanup := newVCRProvider(t, "openai_rate_limit")
	defer cleanup()

	_, err := p.Complete(context.Background(), &domain.Request{Model: "gpt-3.5-turbo", Prompt: "Hello"})
	if err == nil {
		t.Fatal("expected rate limit error")
	}

	var perr *domain.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T, want *domain.ProviderError", err)
	}
	if perr.Kind != domain.ProviderErrRateLimit {
		t.Errorf("kind = %q, want %q", perr.Kind, domain.ProviderErrRateLimit)
	}
	if !perr.Retryable {
		t.Error("rate limit failures must be retryable")
	}
	if perr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", perr.StatusCode)
	}
}

func TestCompleteFillsRequestDefaults(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization = %q", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4-0613","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewProvider("openai", "test-key", WithBaseURL(srv.URL))
	resp, err := p.Complete(context.Background(), &domain.Request{Model: "gpt-4", Prompt: "Hello"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if got.MaxTokens != 500 {
		t.Errorf("max_tokens = %d, want default 500", got.MaxTokens)
	}
	if got.Temperature == nil || *got.Temperature != 0.7 {
		t.Errorf("temperature = %v, want default 0.7", got.Temperature)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "Hello" {
		t.Errorf("messages = %+v, want single user turn", got.Messages)
	}
	if resp.Model != "gpt-4-0613" {
		t.Errorf("model = %q, want served name from response", resp.Model)
	}
}

func TestCompleteKeepsCallerLimits(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewProvider("openai", "test-key", WithBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), &domain.Request{
		Model:       "gpt-4",
		Prompt:      "Hello",
		MaxTokens:   64,
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if got.MaxTokens != 64 {
		t.Errorf("max_tokens = %d, want 64", got.MaxTokens)
	}
	if got.Temperature == nil || *got.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", got.Temperature)
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4","choices":[]}`))
	}))
	defer srv.Close()

	p := NewProvider("openai", "test-key", WithBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), &domain.Request{Model: "gpt-4", Prompt: "Hello"})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}

	var perr *domain.ProviderError
	if !errors.As(err, &perr) || perr.Kind != domain.ProviderErrMalformed {
		t.Errorf("error = %v, want malformed provider error", err)
	}
}
