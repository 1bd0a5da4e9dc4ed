package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/llm-governor/internal/config"
	"github.com/tjfontaine/llm-governor/internal/gateway"
	"github.com/tjfontaine/llm-governor/internal/storage"
)

// Option is a functional option for configuring the Governor.
type Option func(*Governor) error

// WithConfigFile reads configuration from a YAML file and watches it for
// changes. Each validated reload rebuilds the request path; invalid edits
// are logged and dropped.
func WithConfigFile(path string) Option {
	return func(g *Governor) error {
		if path == "" {
			return fmt.Errorf("config file path cannot be empty")
		}
		g.cfgPath = path
		return nil
	}
}

// WithConfig uses an in-memory configuration. No file is watched, so the
// config is fixed for the life of the Governor. Intended for embedding and
// tests.
func WithConfig(cfg *config.Config) Option {
	return func(g *Governor) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		g.fixedCfg = cfg
		return nil
	}
}

// WithStore injects a storage backend, overriding the config's storage
// section. The caller keeps ownership: Shutdown will not close it.
func WithStore(store storage.Store) Option {
	return func(g *Governor) error {
		if store == nil {
			return fmt.Errorf("store cannot be nil")
		}
		g.storeOverride = store
		return nil
	}
}

// WithProviders registers extra providers on top of the configured ones,
// overriding on name collision. Survives config reloads.
func WithProviders(providers map[string]gateway.Provider) Option {
	return func(g *Governor) error {
		if g.extraProviders == nil {
			g.extraProviders = make(map[string]gateway.Provider, len(providers))
		}
		for name, p := range providers {
			if p == nil {
				return fmt.Errorf("provider %q is nil", name)
			}
			g.extraProviders[name] = p
		}
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Governor) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		g.logger = logger
		return nil
	}
}

// WithoutServer builds the full pipeline and both HTTP handlers but never
// binds the listener. Embedders that only call Process use this.
func WithoutServer() Option {
	return func(g *Governor) error {
		g.noServer = true
		return nil
	}
}
