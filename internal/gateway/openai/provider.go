package openai

import (
	"context"
	"errors"

	"github.com/tjfontaine/llm-governor/internal/domain"
)

const (
	defaultMaxTokens   = 500
	defaultTemperature = float32(0.7)
)

// Provider adapts the OpenAI API to the gateway's provider interface.
type Provider struct {
	name   string
	client *Client
}

// NewProvider creates an OpenAI-backed provider.
func NewProvider(name, apiKey string, opts ...ClientOption) *Provider {
	return &Provider{
		name:   name,
		client: NewClient(apiKey, opts...),
	}
}

// Name returns the configured provider name.
func (p *Provider) Name() string { return p.name }

// Complete sends the prompt as a single-turn chat completion.
func (p *Provider) Complete(ctx context.Context, req *domain.Request) (*domain.Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	apiReq := &ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
		Messages: []ChatCompletionMessage{
			{Role: "user", Content: req.Prompt},
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, p.normalize(err)
	}

	if len(resp.Choices) == 0 {
		return nil, domain.NewProviderError(domain.ProviderErrMalformed, p.name, "response contained no choices")
	}

	choice := resp.Choices[0]
	return &domain.Completion{
		Text:         choice.Message.Content,
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// normalize folds client errors into the shared provider error vocabulary.
func (p *Provider) normalize(err error) *domain.ProviderError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return domain.NewProviderError(domain.KindForStatus(apiErr.StatusCode), p.name, apiErr.Message).
			WithStatusCode(apiErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewProviderError(domain.ProviderErrTimeout, p.name, err.Error())
	}
	return domain.NewProviderError(domain.ProviderErrUnknown, p.name, err.Error())
}
