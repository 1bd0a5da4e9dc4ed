package gateway

import (
	"fmt"

	"github.com/tjfontaine/llm-governor/internal/config"
	"github.com/tjfontaine/llm-governor/internal/gateway/anthropic"
	"github.com/tjfontaine/llm-governor/internal/gateway/openai"
	"github.com/tjfontaine/llm-governor/internal/tokens"
)

// BuildProviders constructs the configured providers, keyed by name. The mock
// provider is always registered so the default routing target exists even in
// an empty configuration.
func BuildProviders(cfgs []config.ProviderConfig, counter *tokens.Registry) (map[string]Provider, error) {
	providers := map[string]Provider{
		"mock": NewMockProvider("mock", counter),
	}

	for _, pc := range cfgs {
		switch pc.Type {
		case "openai":
			var opts []openai.ClientOption
			if pc.BaseURL != "" {
				opts = append(opts, openai.WithBaseURL(pc.BaseURL))
			}
			providers[pc.Name] = openai.NewProvider(pc.Name, pc.APIKey, opts...)
		case "anthropic":
			var opts []anthropic.ClientOption
			if pc.BaseURL != "" {
				opts = append(opts, anthropic.WithBaseURL(pc.BaseURL))
			}
			providers[pc.Name] = anthropic.NewProvider(pc.Name, pc.APIKey, opts...)
		case "mock":
			providers[pc.Name] = NewMockProvider(pc.Name, counter)
		default:
			return nil, fmt.Errorf("provider %q: unknown type %q", pc.Name, pc.Type)
		}
	}

	return providers, nil
}
