// Package runtime assembles the governor from configuration and manages its
// lifecycle. Construction uses functional options; Start builds the stage
// graph, mounts both HTTP planes on one router, and begins watching the
// config file when one was given. A validated reload rebuilds the request
// path in place while the audit chain, the cost window, and the listener
// keep their state.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tjfontaine/llm-governor/internal/audit"
	"github.com/tjfontaine/llm-governor/internal/config"
	"github.com/tjfontaine/llm-governor/internal/controlplane"
	"github.com/tjfontaine/llm-governor/internal/cost"
	"github.com/tjfontaine/llm-governor/internal/domain"
	"github.com/tjfontaine/llm-governor/internal/feedback"
	"github.com/tjfontaine/llm-governor/internal/frontdoor"
	"github.com/tjfontaine/llm-governor/internal/gateway"
	"github.com/tjfontaine/llm-governor/internal/pipeline"
	"github.com/tjfontaine/llm-governor/internal/policy"
	"github.com/tjfontaine/llm-governor/internal/risk"
	"github.com/tjfontaine/llm-governor/internal/risk/detectors"
	"github.com/tjfontaine/llm-governor/internal/server"
	"github.com/tjfontaine/llm-governor/internal/storage"
	"github.com/tjfontaine/llm-governor/internal/storage/memory"
	"github.com/tjfontaine/llm-governor/internal/storage/sqlite"
	"github.com/tjfontaine/llm-governor/internal/tokens"
)

// Governor is the assembled system: provider gateway, risk detection, policy
// enforcement, cost monitoring, audit logging, and the feedback loop, fronted
// by the data-plane and control-plane HTTP handlers.
//
// The pipeline behind the data plane is swappable: Process always goes
// through an atomic pointer, so a config reload replaces the request path
// without pausing live traffic. Components that accumulate state across
// requests (storage, the audit chain, the cost window, feedback history)
// are built once at Start and survive reloads.
type Governor struct {
	logger *slog.Logger

	// set by options
	cfgPath        string
	fixedCfg       *config.Config
	storeOverride  storage.Store
	extraProviders map[string]gateway.Provider
	noServer       bool

	// built by Start
	watcher  *config.Watcher
	store    storage.Store
	counter  *tokens.Registry
	costMon  *cost.Monitor
	auditLog *audit.Logger
	fbEngine *feedback.Engine
	srv      *server.Server

	cfg  atomic.Pointer[config.Config]
	pipe atomic.Pointer[pipeline.Pipeline]

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Governor with the given options. Configuration is the one
// required input; everything else has a working default.
func New(opts ...Option) (*Governor, error) {
	g := &Governor{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}

	if g.cfgPath == "" && g.fixedCfg == nil {
		return nil, fmt.Errorf("configuration required (use WithConfigFile or WithConfig)")
	}
	if g.cfgPath != "" && g.fixedCfg != nil {
		return nil, fmt.Errorf("WithConfigFile and WithConfig are mutually exclusive")
	}

	return g, nil
}

// Start loads configuration, builds every component, and brings up the HTTP
// server. It returns once the listener goroutine is launched; ListenAndServe
// failures after that are logged, not returned.
func (g *Governor) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ctx, g.cancel = context.WithCancel(ctx)

	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	g.cfg.Store(cfg)

	if err := g.initStore(cfg); err != nil {
		return err
	}

	g.counter = tokens.NewRegistry()
	g.costMon = cost.NewMonitor(cfg.Cost, g.counter, g.logger)

	auditLog, err := audit.NewLogger(g.ctx, g.store, cfg.Audit, g.logger)
	if err != nil {
		return fmt.Errorf("init audit log: %w", err)
	}
	g.auditLog = auditLog

	g.fbEngine = feedback.New(g.store, cfg.Feedback, g.logger)

	pipe, err := g.buildPipeline(cfg)
	if err != nil {
		return err
	}
	g.pipe.Store(pipe)

	g.buildServer(cfg)
	if !g.noServer {
		go func() {
			if err := g.srv.Start(); err != nil {
				g.logger.Error("server error", slog.String("error", err.Error()))
			}
		}()
	}

	if g.watcher != nil {
		g.watchConfig()
	}

	g.logger.Info("governor started",
		slog.Int("port", cfg.Server.Port),
		slog.String("storage", cfg.Storage.Type),
		slog.Int("providers", len(cfg.Providers)),
		slog.Int("policy_rules", len(cfg.Policy.Rules)),
		slog.String("audit_mode", cfg.Audit.Mode))
	return nil
}

func (g *Governor) loadConfig() (*config.Config, error) {
	if g.fixedCfg != nil {
		if err := g.fixedCfg.Validate(); err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
		return g.fixedCfg, nil
	}

	watcher, err := config.NewWatcher(g.cfgPath, g.logger)
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	g.watcher = watcher

	cfg, err := watcher.Load(g.ctx)
	if err != nil {
		watcher.Close()
		g.watcher = nil
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (g *Governor) initStore(cfg *config.Config) error {
	if g.storeOverride != nil {
		g.store = g.storeOverride
		return nil
	}

	switch cfg.Storage.Type {
	case "memory":
		g.store = memory.New()
	default:
		store, err := sqlite.New(cfg.Storage.SQLite.Path)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		g.store = store
	}
	return nil
}

// buildPipeline constructs the per-request path from the given config. The
// cost monitor and audit log are shared across builds; everything upstream
// of them is config-derived and rebuilt wholesale.
func (g *Governor) buildPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	providers, err := gateway.BuildProviders(cfg.Providers, g.counter)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}
	for name, p := range g.extraProviders {
		providers[name] = p
	}

	gw, err := gateway.New(providers, cfg.Gateway, g.logger)
	if err != nil {
		return nil, fmt.Errorf("build gateway: %w", err)
	}

	riskEngine := risk.NewEngine(detectors.Defaults(), cfg.Risk, g.logger)
	policyEngine := policy.NewEngine(cfg.Policy, gw, riskEngine, g.logger)

	return pipeline.New(pipeline.Deps{
		Gateway: gw,
		Risk:    riskEngine,
		Policy:  policyEngine,
		Cost:    g.costMon,
		Audit:   g.auditLog,
		Logger:  g.logger,
	}), nil
}

func (g *Governor) buildServer(cfg *config.Config) {
	srv := server.New(cfg.Server.Port, g.logger, cfg.Server.APIKeys)

	frontdoor.NewHandler(g, g.logger).Mount(srv.Router)

	cp := controlplane.NewServer(controlplane.Deps{
		Store:    g.store,
		Feedback: g.fbEngine,
		Cost:     g.costMon,
		Audit:    g.auditLog,
		Rules: func() []config.RuleConfig {
			return g.cfg.Load().Policy.Rules
		},
		Logger: g.logger,
	})
	srv.Router.Mount("/api", cp)

	g.srv = srv
}

// Process runs one request through the current pipeline. The Governor itself
// is the data plane's processor so that traffic always sees the pipeline
// built from the most recent validated config.
func (g *Governor) Process(ctx context.Context, req *domain.Request) (*pipeline.Result, error) {
	return g.pipe.Load().Process(ctx, req)
}

func (g *Governor) watchConfig() {
	err := g.watcher.Watch(g.ctx, func(cfg *config.Config) {
		if err := g.reload(cfg); err != nil {
			g.logger.Error("config reload failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		g.logger.Error("failed to watch config file", slog.String("error", err.Error()))
	}
}

// reload rebuilds the request path from an already-validated config. Storage,
// audit mode, the cost window, and the server listener carry state or OS
// resources that must not reset mid-run, so changes to those sections take
// effect on restart only.
func (g *Governor) reload(cfg *config.Config) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pipe, err := g.buildPipeline(cfg)
	if err != nil {
		return fmt.Errorf("rebuild pipeline: %w", err)
	}

	g.cfg.Store(cfg)
	g.pipe.Store(pipe)

	g.logger.Info("config reloaded",
		slog.Int("providers", len(cfg.Providers)),
		slog.Int("policy_rules", len(cfg.Policy.Rules)))
	return nil
}

// Shutdown stops the HTTP server, the config watcher, and storage. The
// context bounds how long in-flight requests get to drain.
func (g *Governor) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down governor")

	if g.cancel != nil {
		g.cancel()
	}

	if g.srv != nil {
		if err := g.srv.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shut down server", slog.String("error", err.Error()))
			return err
		}
	}

	if g.watcher != nil {
		if err := g.watcher.Close(); err != nil {
			g.logger.Error("failed to close config watcher", slog.String("error", err.Error()))
		}
	}

	// An injected store belongs to whoever injected it.
	if g.store != nil && g.storeOverride == nil {
		if err := g.store.Close(); err != nil {
			g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}

	g.logger.Info("governor shutdown complete")
	return nil
}

// Config returns the currently active configuration.
func (g *Governor) Config() *config.Config {
	return g.cfg.Load()
}

// Store exposes the backing store for embedders that query history directly.
func (g *Governor) Store() storage.Store {
	return g.store
}

// Feedback exposes the feedback engine.
func (g *Governor) Feedback() *feedback.Engine {
	return g.fbEngine
}

// CostMonitor exposes the cost monitor.
func (g *Governor) CostMonitor() *cost.Monitor {
	return g.costMon
}

// AuditLog exposes the audit logger.
func (g *Governor) AuditLog() *audit.Logger {
	return g.auditLog
}
