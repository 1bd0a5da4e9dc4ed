// Package gateway issues provider calls and normalizes every exchange into an
// interaction record. It owns model routing, per-call timeouts, and retry with
// exponential backoff; failed calls come back as failed interactions rather
// than bare errors so the rest of the pipeline can still govern them.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tjfontaine/llm-governor/internal/config"
	"github.com/tjfontaine/llm-governor/internal/domain"
)

// Provider is one upstream LLM backend.
type Provider interface {
	// Name returns the configured provider name.
	Name() string

	// Complete sends a single completion request. Failures should be
	// *domain.ProviderError so the gateway can decide retryability;
	// anything else is treated as non-retryable.
	Complete(ctx context.Context, req *domain.Request) (*domain.Completion, error)
}

// Gateway routes requests to providers and assembles interaction records.
type Gateway struct {
	router      *Router
	callTimeout time.Duration
	retry       config.RetryConfig
	logger      *slog.Logger
}

// New creates a gateway over the given providers.
func New(providers map[string]Provider, cfg config.GatewayConfig, logger *slog.Logger) (*Gateway, error) {
	router, err := NewRouter(providers, cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		router:      router,
		callTimeout: cfg.CallTimeout,
		retry:       cfg.Retry,
		logger:      logger,
	}, nil
}

// Send routes req to a provider, invokes it with retries, and returns the
// interaction record. On failure the interaction is still populated (status
// failed, normalized error attached) and returned alongside the error, so
// callers can audit attempts that never produced a completion.
func (g *Gateway) Send(ctx context.Context, req *domain.Request) (*domain.Interaction, error) {
	interaction := &domain.Interaction{
		ID:            domain.NewInteractionID(),
		CorrelationID: req.CorrelationID,
		Model:         req.Model,
		Prompt:        req.Prompt,
		CreatedAt:     time.Now().UTC(),
	}

	provider, err := g.router.Route(req.Model)
	if err != nil {
		perr := domain.NewProviderError(domain.ProviderErrMalformed, "router", err.Error())
		interaction.Status = domain.InteractionFailed
		interaction.Error = perr
		g.logger.Warn("request not routable", "model", req.Model, "error", err)
		return interaction, perr
	}
	interaction.Provider = provider.Name()

	start := time.Now()
	completion, attempts, perr := g.invoke(ctx, provider, req)
	interaction.Latency = time.Since(start)
	interaction.Attempts = attempts

	if perr != nil {
		interaction.Status = domain.InteractionFailed
		interaction.Error = perr
		return interaction, perr
	}

	interaction.Status = domain.InteractionCompleted
	interaction.Completion = completion.Text
	interaction.Usage = completion.Usage
	if completion.Model != "" && completion.Model != req.Model {
		interaction.ServedModel = completion.Model
	}

	g.logger.Debug("provider call completed",
		"interaction_id", interaction.ID,
		"provider", provider.Name(),
		"model", req.Model,
		"attempts", attempts,
		"latency_ms", interaction.Latency.Milliseconds(),
		"total_tokens", interaction.Usage.TotalTokens,
	)

	return interaction, nil
}

// invoke runs the retry loop for one request. Each attempt gets its own
// deadline detached from the caller's context: once a call has been issued it
// runs to completion even if the caller goes away, and cancellation only
// stops further retries.
func (g *Gateway) invoke(ctx context.Context, provider Provider, req *domain.Request) (*domain.Completion, int, *domain.ProviderError) {
	maxAttempts := g.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := g.retry.InitialBackoff

	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.callTimeout)
		completion, err := provider.Complete(callCtx, req)
		cancel()

		if err == nil {
			return completion, attempt, nil
		}

		perr := normalizeError(provider.Name(), err)
		g.logger.Warn("provider call failed",
			"provider", provider.Name(),
			"model", req.Model,
			"attempt", attempt,
			"kind", string(perr.Kind),
			"retryable", perr.Retryable,
			"error", perr.Message,
		)

		if !perr.Retryable || attempt == maxAttempts {
			return nil, attempt, perr
		}

		select {
		case <-ctx.Done():
			// The caller is gone; do not start another call on its behalf.
			return nil, attempt, perr
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > g.retry.MaxBackoff {
			backoff = g.retry.MaxBackoff
		}
	}
}

// normalizeError folds any provider failure into the shared error vocabulary.
// Adapters already return *domain.ProviderError; everything else is wrapped.
func normalizeError(provider string, err error) *domain.ProviderError {
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewProviderError(domain.ProviderErrTimeout, provider, err.Error())
	}
	return domain.NewProviderError(domain.ProviderErrUnknown, provider, err.Error())
}
