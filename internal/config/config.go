// Package config loads, validates, and watches the governor configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/llm-governor/internal/domain"
)

type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Storage   StorageConfig    `koanf:"storage"`
	Providers []ProviderConfig `koanf:"providers"`
	Gateway   GatewayConfig    `koanf:"gateway"`
	Risk      RiskConfig       `koanf:"risk"`
	Policy    PolicyConfig     `koanf:"policy"`
	Cost      CostConfig       `koanf:"cost"`
	Audit     AuditConfig      `koanf:"audit"`
	Feedback  FeedbackConfig   `koanf:"feedback"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// APIKeys, when non-empty, gates the data plane behind bearer auth
	APIKeys []string `koanf:"api_keys"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type ProviderConfig struct {
	Name    string `koanf:"name"`
	Type    string `koanf:"type"` // openai, anthropic, mock
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

type GatewayConfig struct {
	DefaultProvider string        `koanf:"default_provider"`
	Routes          []RouteConfig `koanf:"routes"`
	CallTimeout     time.Duration `koanf:"call_timeout"`
	Retry           RetryConfig   `koanf:"retry"`
}

// RouteConfig maps a model name prefix onto a named provider.
type RouteConfig struct {
	ModelPrefix string `koanf:"model_prefix"`
	Provider    string `koanf:"provider"`
}

type RetryConfig struct {
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

type RiskConfig struct {
	DetectorTimeout time.Duration `koanf:"detector_timeout"`
	// Aggregation is how per-category scores combine: "max" or "weighted"
	Aggregation string        `koanf:"aggregation"`
	Weights     WeightsConfig `koanf:"weights"`
}

type WeightsConfig struct {
	Injection     float64 `koanf:"injection"`
	Hallucination float64 `koanf:"hallucination"`
	UnsafeContent float64 `koanf:"unsafe_content"`
	DataLeakage   float64 `koanf:"data_leakage"`
}

type PolicyConfig struct {
	Rules []RuleConfig `koanf:"rules"`
	// BlockedMessage replaces the completion on block
	BlockedMessage string `koanf:"blocked_message"`
	// FallbackMessage replaces the completion on fallback
	FallbackMessage string `koanf:"fallback_message"`
	// RewritePrefix is prepended to the prompt for the rewrite re-invocation
	RewritePrefix string `koanf:"rewrite_prefix"`
}

// RuleConfig is one ordered enforcement rule. Rules match first-to-last;
// position in the list is the priority.
type RuleConfig struct {
	ID        string  `koanf:"id"`
	Category  string  `koanf:"category"` // detector category or "aggregate"
	Threshold float64 `koanf:"threshold"`
	Action    string  `koanf:"action"`
}

type CostConfig struct {
	Currency string `koanf:"currency"`
	// WindowSize is how many trailing records feed the rolling statistics
	WindowSize int `koanf:"window_size"`
	// ZThreshold is the z-score above which a cost is flagged anomalous
	ZThreshold float64 `koanf:"z_threshold"`
	// MinSamples is how many prior records are required before flagging
	MinSamples int                     `koanf:"min_samples"`
	Pricing    map[string]ModelPricing `koanf:"pricing"`
	Default    ModelPricing            `koanf:"default_pricing"`
}

// ModelPricing is the per-1K-token rate for one model.
type ModelPricing struct {
	Prompt     float64 `koanf:"prompt"`
	Completion float64 `koanf:"completion"`
}

type AuditConfig struct {
	// Mode is "strict" (append failure fails the interaction) or
	// "best_effort" (respond anyway, flagged degraded)
	Mode          string        `koanf:"mode"`
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryBackoff  time.Duration `koanf:"retry_backoff"`
}

type FeedbackConfig struct {
	BaselineWindow int `koanf:"baseline_window"`
	RecentWindow   int `koanf:"recent_window"`
	// DriftThresholdPct flags drift when a metric moves more than this
	// percentage between windows
	DriftThresholdPct float64 `koanf:"drift_threshold_pct"`
	// FlagThreshold is the aggregate score at or above which the system
	// counts an interaction as predicted-risky for agreement metrics
	FlagThreshold float64 `koanf:"flag_threshold"`
}

// Audit modes.
const (
	AuditStrict     = "strict"
	AuditBestEffort = "best_effort"
)

// Aggregation modes.
const (
	AggregationMax      = "max"
	AggregationWeighted = "weighted"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads configuration from the YAML file at path, overlays GOVERNOR_*
// environment variables, applies defaults, and validates the result. A
// missing file is fine; env plus defaults then carry the whole config.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = "config.yaml"
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// Environment variables override file values, GOVERNOR_SERVER__PORT
	// style, double underscore as the key separator.
	if err := k.Load(env.Provider("GOVERNOR_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "GOVERNOR_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	applyScalarDefaults(k)

	// Shape-check the policy document before unmarshaling so a malformed
	// rule list fails with a pointed error rather than a zero value.
	if k.Exists("policy") {
		if err := validatePolicyDocument(k.Raw()["policy"]); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyStructuredDefaults(&cfg)

	// Substitute ${VAR} references in provider API keys
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = substituteEnvVars(cfg.Providers[i].APIKey)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyScalarDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":                   8080,
		"storage.type":                  "sqlite",
		"storage.sqlite.path":           "governor.db",
		"gateway.default_provider":      "mock",
		"gateway.call_timeout":          "30s",
		"gateway.retry.max_attempts":    3,
		"gateway.retry.initial_backoff": "200ms",
		"gateway.retry.max_backoff":     "5s",
		"risk.detector_timeout":         "2s",
		"risk.aggregation":              AggregationMax,
		"cost.currency":                 "USD",
		"cost.window_size":              100,
		"cost.z_threshold":              3.0,
		"cost.min_samples":              3,
		"audit.mode":                    AuditStrict,
		"audit.retry_attempts":          3,
		"audit.retry_backoff":           "100ms",
		"feedback.baseline_window":      50,
		"feedback.recent_window":        50,
		"feedback.drift_threshold_pct":  20.0,
		"feedback.flag_threshold":       0.5,
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}

// applyStructuredDefaults fills the list- and map-valued settings that
// scalar defaults cannot express.
func applyStructuredDefaults(cfg *Config) {
	if len(cfg.Policy.Rules) == 0 {
		cfg.Policy.Rules = DefaultRules()
	}
	if cfg.Policy.BlockedMessage == "" {
		cfg.Policy.BlockedMessage = DefaultBlockedMessage
	}
	if cfg.Policy.FallbackMessage == "" {
		cfg.Policy.FallbackMessage = DefaultFallbackMessage
	}
	if cfg.Policy.RewritePrefix == "" {
		cfg.Policy.RewritePrefix = DefaultRewritePrefix
	}
	if len(cfg.Cost.Pricing) == 0 {
		cfg.Cost.Pricing = DefaultPricing()
	}
	if cfg.Cost.Default == (ModelPricing{}) {
		cfg.Cost.Default = ModelPricing{Prompt: 0.01, Completion: 0.01}
	}
	if cfg.Risk.Aggregation == AggregationWeighted && cfg.Risk.Weights == (WeightsConfig{}) {
		cfg.Risk.Weights = WeightsConfig{
			Injection:     0.25,
			Hallucination: 0.25,
			UnsafeContent: 0.25,
			DataLeakage:   0.25,
		}
	}
}

// Default enforcement messages. The blocked message is deliberately terse and
// clearly synthetic; the fallback message reads as a refusal a model could
// have produced.
const (
	DefaultBlockedMessage  = "[Response blocked by safety policy]"
	DefaultFallbackMessage = "I cannot assist with that request as it may involve harmful or unethical activities. Please ask something else that I can help with constructively."
	DefaultRewritePrefix   = "Please provide a safe, helpful, and ethical response to the following. Decline anything harmful: "
)

// DefaultRules is the out-of-the-box rule ladder, ordered most severe first.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{ID: "critical-risk-block", Category: "aggregate", Threshold: 0.7, Action: "block"},
		{ID: "high-risk-fallback", Category: "aggregate", Threshold: 0.6, Action: "fallback"},
		{ID: "medium-risk-rewrite", Category: "aggregate", Threshold: 0.3, Action: "rewrite"},
	}
}

// DefaultPricing is the built-in per-1K-token rate table.
func DefaultPricing() map[string]ModelPricing {
	return map[string]ModelPricing{
		"gpt-4":           {Prompt: 0.03, Completion: 0.03},
		"gpt-4-turbo":     {Prompt: 0.01, Completion: 0.01},
		"gpt-3.5-turbo":   {Prompt: 0.002, Completion: 0.002},
		"claude-3":        {Prompt: 0.015, Completion: 0.015},
		"claude-3-opus":   {Prompt: 0.015, Completion: 0.015},
		"claude-3-sonnet": {Prompt: 0.003, Completion: 0.003},
		"claude-3-haiku":  {Prompt: 0.00025, Completion: 0.00025},
	}
}

// Validate checks the whole configuration. Policy problems come back as
// *domain.PolicyConfigError so callers can recognize the fatal class.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for sqlite storage")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.type %q not supported (sqlite, memory)", c.Storage.Type)
	}

	names := map[string]bool{"mock": true}
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if names[p.Name] && p.Name != "mock" {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		switch p.Type {
		case "openai", "anthropic", "mock":
		default:
			return fmt.Errorf("provider %q: type %q not supported", p.Name, p.Type)
		}
		names[p.Name] = true
	}
	if !names[c.Gateway.DefaultProvider] {
		return fmt.Errorf("gateway.default_provider %q is not a configured provider", c.Gateway.DefaultProvider)
	}
	for _, r := range c.Gateway.Routes {
		if r.ModelPrefix == "" {
			return fmt.Errorf("gateway route with empty model_prefix")
		}
		if !names[r.Provider] {
			return fmt.Errorf("gateway route %q references unknown provider %q", r.ModelPrefix, r.Provider)
		}
	}

	if c.Gateway.Retry.MaxAttempts < 1 {
		return fmt.Errorf("gateway.retry.max_attempts must be at least 1")
	}
	if c.Gateway.Retry.InitialBackoff <= 0 || c.Gateway.Retry.MaxBackoff < c.Gateway.Retry.InitialBackoff {
		return fmt.Errorf("gateway.retry backoff window is invalid")
	}
	if c.Gateway.CallTimeout <= 0 {
		return fmt.Errorf("gateway.call_timeout must be positive")
	}

	if c.Risk.DetectorTimeout <= 0 {
		return fmt.Errorf("risk.detector_timeout must be positive")
	}
	switch c.Risk.Aggregation {
	case AggregationMax:
	case AggregationWeighted:
		w := c.Risk.Weights
		if w.Injection < 0 || w.Hallucination < 0 || w.UnsafeContent < 0 || w.DataLeakage < 0 {
			return fmt.Errorf("risk.weights must be non-negative")
		}
		if w.Injection+w.Hallucination+w.UnsafeContent+w.DataLeakage <= 0 {
			return fmt.Errorf("risk.weights must not all be zero")
		}
	default:
		return fmt.Errorf("risk.aggregation %q not supported (max, weighted)", c.Risk.Aggregation)
	}

	if err := c.validatePolicy(); err != nil {
		return err
	}

	if c.Cost.WindowSize < 2 {
		return fmt.Errorf("cost.window_size must be at least 2")
	}
	if c.Cost.ZThreshold <= 0 {
		return fmt.Errorf("cost.z_threshold must be positive")
	}
	if c.Cost.MinSamples < 2 {
		return fmt.Errorf("cost.min_samples must be at least 2")
	}
	for model, p := range c.Cost.Pricing {
		if p.Prompt < 0 || p.Completion < 0 {
			return fmt.Errorf("cost.pricing[%s] has negative rates", model)
		}
	}

	switch c.Audit.Mode {
	case AuditStrict, AuditBestEffort:
	default:
		return fmt.Errorf("audit.mode %q not supported (strict, best_effort)", c.Audit.Mode)
	}
	if c.Audit.RetryAttempts < 0 {
		return fmt.Errorf("audit.retry_attempts must not be negative")
	}

	if c.Feedback.BaselineWindow < 1 || c.Feedback.RecentWindow < 1 {
		return fmt.Errorf("feedback windows must be at least 1")
	}
	if c.Feedback.DriftThresholdPct <= 0 {
		return fmt.Errorf("feedback.drift_threshold_pct must be positive")
	}
	if c.Feedback.FlagThreshold < 0 || c.Feedback.FlagThreshold > 1 {
		return fmt.Errorf("feedback.flag_threshold must be within [0,1]")
	}

	return nil
}

// validatePolicy applies the semantic checks the JSON Schema cannot express.
func (c *Config) validatePolicy() error {
	if c.Policy.BlockedMessage == "" {
		return &domain.PolicyConfigError{Reason: "blocked_message must not be empty"}
	}
	if c.Policy.FallbackMessage == "" {
		return &domain.PolicyConfigError{Reason: "fallback_message must not be empty"}
	}
	if c.Policy.RewritePrefix == "" {
		return &domain.PolicyConfigError{Reason: "rewrite_prefix must not be empty"}
	}

	seen := make(map[string]bool, len(c.Policy.Rules))
	fallbackRules := 0
	for _, r := range c.Policy.Rules {
		if r.ID == "" {
			return &domain.PolicyConfigError{Reason: "rule with empty id"}
		}
		if seen[r.ID] {
			return &domain.PolicyConfigError{RuleID: r.ID, Reason: "duplicate rule id"}
		}
		seen[r.ID] = true

		switch domain.RiskCategory(r.Category) {
		case domain.CategoryInjection, domain.CategoryHallucination,
			domain.CategoryUnsafeContent, domain.CategoryDataLeakage,
			domain.CategoryAggregate:
		default:
			return &domain.PolicyConfigError{RuleID: r.ID, Reason: fmt.Sprintf("unknown category %q", r.Category)}
		}

		if r.Threshold < 0 || r.Threshold > 1 {
			return &domain.PolicyConfigError{RuleID: r.ID, Reason: fmt.Sprintf("threshold %v outside [0,1]", r.Threshold)}
		}

		switch domain.PolicyAction(r.Action) {
		case domain.ActionAllow, domain.ActionBlock, domain.ActionRewrite:
		case domain.ActionFallback:
			fallbackRules++
		default:
			return &domain.PolicyConfigError{RuleID: r.ID, Reason: fmt.Sprintf("unknown action %q", r.Action)}
		}
	}

	// A deployment has one safe-default response, so at most one rule may
	// route to it. Two fallback rules would hide a misordered ladder.
	if fallbackRules > 1 {
		return &domain.PolicyConfigError{Reason: fmt.Sprintf("at most one fallback rule allowed, found %d", fallbackRules)}
	}

	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
