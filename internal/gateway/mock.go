package gateway

import (
	"context"
	"time"

	"github.com/tjfontaine/llm-governor/internal/domain"
	"github.com/tjfontaine/llm-governor/internal/tokens"
)

// MockProvider fabricates completions locally. It backs the "mock" provider
// type so the whole pipeline can run without upstream credentials.
type MockProvider struct {
	name    string
	counter *tokens.Registry

	// Delay, when set, is the simulated latency for every call.
	Delay time.Duration

	// Simulate enables per-model latency when Delay is unset, roughly
	// matching what the real providers exhibit.
	Simulate bool
}

// NewMockProvider creates a mock provider under the given name.
func NewMockProvider(name string, counter *tokens.Registry) *MockProvider {
	if name == "" {
		name = "mock"
	}
	if counter == nil {
		counter = tokens.NewRegistry()
	}
	return &MockProvider{name: name, counter: counter}
}

// Name returns the configured provider name.
func (m *MockProvider) Name() string { return m.name }

// Complete fabricates an echo completion from the first 50 bytes of the
// prompt, with token usage counted the same way real usage would be. Any
// simulated latency honors the call context.
func (m *MockProvider) Complete(ctx context.Context, req *domain.Request) (*domain.Completion, error) {
	if delay := m.delayFor(req.Model); delay > 0 {
		select {
		case <-ctx.Done():
			return nil, domain.NewProviderError(domain.ProviderErrTimeout, m.name, ctx.Err().Error())
		case <-time.After(delay):
		}
	}

	echo := req.Prompt
	if len(echo) > 50 {
		echo = echo[:50]
	}
	text := "Mock response to: " + echo + "..."

	promptTokens, completionTokens, _ := m.counter.Usage(req.Model, req.Prompt, text)
	return &domain.Completion{
		Text:         text,
		Model:        req.Model,
		FinishReason: "stop",
		Usage: domain.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

func (m *MockProvider) delayFor(model string) time.Duration {
	if m.Delay > 0 {
		return m.Delay
	}
	if !m.Simulate {
		return 0
	}
	switch model {
	case "gpt-4":
		return 800 * time.Millisecond
	case "gpt-3.5-turbo":
		return 300 * time.Millisecond
	case "claude-3":
		return 500 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}
