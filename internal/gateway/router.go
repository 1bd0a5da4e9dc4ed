package gateway

import (
	"fmt"
	"strings"

	"github.com/tjfontaine/llm-governor/internal/config"
)

// Router maps model names onto providers. Routes are checked in configuration
// order and the first prefix match wins; the default provider takes everything
// no route claims.
type Router struct {
	routes   []route
	fallback Provider
}

type route struct {
	prefix   string
	provider Provider
}

// NewRouter builds a router over the given providers.
func NewRouter(providers map[string]Provider, cfg config.GatewayConfig) (*Router, error) {
	r := &Router{}

	if cfg.DefaultProvider != "" {
		fallback, ok := providers[cfg.DefaultProvider]
		if !ok {
			return nil, fmt.Errorf("default provider %q not registered", cfg.DefaultProvider)
		}
		r.fallback = fallback
	}

	for _, rc := range cfg.Routes {
		p, ok := providers[rc.Provider]
		if !ok {
			return nil, fmt.Errorf("route %q references unknown provider %q", rc.ModelPrefix, rc.Provider)
		}
		r.routes = append(r.routes, route{prefix: rc.ModelPrefix, provider: p})
	}

	return r, nil
}

// Route returns the provider responsible for model.
func (r *Router) Route(model string) (Provider, error) {
	for _, rt := range r.routes {
		if strings.HasPrefix(model, rt.prefix) {
			return rt.provider, nil
		}
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no provider configured for model %q", model)
}
