package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/tjfontaine/llm-governor/internal/domain"
)

const defaultMaxTokens = 500

// modelAliases pins generic model names onto the dated snapshots the API
// expects. Names not listed here pass through unchanged, so callers can name
// a snapshot directly.
var modelAliases = map[string]string{
	"claude-3":        "claude-3-sonnet-20240229",
	"claude-3-opus":   "claude-3-opus-20240229",
	"claude-3-sonnet": "claude-3-sonnet-20240229",
	"claude-3-haiku":  "claude-3-haiku-20240307",
}

// Provider adapts the Anthropic API to the gateway's provider interface.
type Provider struct {
	name   string
	client *Client
}

// NewProvider creates an Anthropic-backed provider.
func NewProvider(name, apiKey string, opts ...ClientOption) *Provider {
	return &Provider{
		name:   name,
		client: NewClient(apiKey, opts...),
	}
}

// Name returns the configured provider name.
func (p *Provider) Name() string { return p.name }

// Complete sends the prompt as a single-turn messages request.
func (p *Provider) Complete(ctx context.Context, req *domain.Request) (*domain.Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	apiReq := &MessagesRequest{
		Model:     ResolveModel(req.Model),
		MaxTokens: maxTokens,
		Messages: []Message{
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.Temperature != 0 {
		temperature := req.Temperature
		apiReq.Temperature = &temperature
	}

	resp, err := p.client.CreateMessage(ctx, apiReq)
	if err != nil {
		return nil, p.normalize(err)
	}

	if len(resp.Content) == 0 {
		return nil, domain.NewProviderError(domain.ProviderErrMalformed, p.name, "response contained no content")
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &domain.Completion{
		Text:         text.String(),
		Model:        resp.Model,
		FinishReason: resp.StopReason,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// ResolveModel maps a generic model alias onto the dated snapshot the API
// expects.
func ResolveModel(model string) string {
	if resolved, ok := modelAliases[model]; ok {
		return resolved
	}
	return model
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
