// Package cost prices interactions against the configured rate table and
// flags spend anomalies with a rolling z-score.
package cost

import (
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/tjfontaine/llm-governor/internal/config"
	"github.com/tjfontaine/llm-governor/internal/domain"
	"github.com/tjfontaine/llm-governor/internal/tokens"
)

// minStddev keeps the z-score finite when every window sample is identical.
// Without a floor a constant-cost window could never flag any deviation.
const minStddev = 1e-9

// Monitor prices interactions and maintains the rolling cost statistics. The
// window is one aggregate shared by every in-flight interaction; Record is
// the single read-modify-write point and is mutex-guarded.
type Monitor struct {
	pricing  map[string]config.ModelPricing
	fallback config.ModelPricing
	currency string

	zThreshold float64
	minSamples int

	mu     sync.Mutex
	window []float64
	next   int

	counter *tokens.Registry
	logger  *slog.Logger
}

// WindowStats is a snapshot of the rolling statistics.
type WindowStats struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean"`
	Stddev  float64 `json:"stddev"`
}

// NewMonitor creates a monitor over the configured pricing and window.
func NewMonitor(cfg config.CostConfig, counter *tokens.Registry, logger *slog.Logger) *Monitor {
	size := cfg.WindowSize
	if size < 2 {
		size = 100
	}
	return &Monitor{
		pricing:    cfg.Pricing,
		fallback:   cfg.Default,
		currency:   cfg.Currency,
		zThreshold: cfg.ZThreshold,
		minSamples: cfg.MinSamples,
		window:     make([]float64, 0, size),
		counter:    counter,
		logger:     logger,
	}
}

// Record prices the interaction's usage and folds the amount into the rolling
// window. Usage is passed separately from the interaction so a rewrite call's
// tokens can be merged in before billing. Missing usage degrades to a counted
// estimate rather than failing the interaction.
func (m *Monitor) Record(interaction *domain.Interaction, usage domain.Usage) *domain.CostRecord {
	rec := &domain.CostRecord{
		InteractionID: interaction.ID,
		Model:         interaction.Model,
		Currency:      m.currency,
		CreatedAt:     time.Now().UTC(),
	}

	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		cerr := &domain.CostComputationError{
			InteractionID: interaction.ID,
			Reason:        "provider reported no usage",
		}
		m.logger.Warn("estimating token usage from text",
			"interaction_id", interaction.ID,
			"model", interaction.Model,
			"error", cerr)
		p, c, _ := m.counter.Usage(interaction.Model, interaction.Prompt, interaction.Completion)
		usage = domain.Usage{PromptTokens: p, CompletionTokens: c}
		rec.Estimated = true
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	rate := m.rateFor(interaction.Model)
	rec.PromptTokens = usage.PromptTokens
	rec.CompletionTokens = usage.CompletionTokens
	rec.TotalTokens = usage.TotalTokens
	rec.PromptCost = float64(usage.PromptTokens) / 1000 * rate.Prompt
	rec.CompletionCost = float64(usage.CompletionTokens) / 1000 * rate.Completion
	rec.Amount = rec.PromptCost + rec.CompletionCost

	rec.Anomaly, rec.ZScore = m.admit(rec.Amount)
	if rec.Anomaly {
		m.logger.Warn("cost anomaly",
			"interaction_id", interaction.ID,
			"model", interaction.Model,
			"amount", rec.Amount,
			"z_score", rec.ZScore)
	}

	return rec
}

// Stats returns the current rolling statistics.
func (m *Monitor) Stats() WindowStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	mean, stddev := meanStddev(m.window)
	return WindowStats{Samples: len(m.window), Mean: mean, Stddev: stddev}
}

// admit computes the amount's z-score against the window as it stood before
// this record, then adds the amount. Oldest samples are overwritten once the
// window is full.
func (m *Monitor) admit(amount float64) (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var anomaly bool
	var z float64
	if len(m.window) >= m.minSamples {
		mean, stddev := meanStddev(m.window)
		if stddev < minStddev {
			stddev = minStddev
		}
		z = (amount - mean) / stddev
		anomaly = z > m.zThreshold
	}

	if len(m.window) < cap(m.window) {
		m.window = append(m.window, amount)
	} else {
		m.window[m.next] = amount
		m.next = (m.next + 1) % len(m.window)
	}

	return anomaly, z
}

// rateFor resolves the per-1K rate for a model: exact match, then the longest
// configured prefix, then the default rate. The longest prefix wins so
// claude-3-sonnet-20240229 prices as claude-3-sonnet, not claude-3.
func (m *Monitor) rateFor(model string) config.ModelPricing {
	if rate, ok := m.pricing[model]; ok {
		return rate
	}

	var best string
	for name := range m.pricing {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return m.pricing[best]
	}
	return m.fallback
}

// meanStddev returns the mean and population standard deviation.
func meanStddev(samples []float64) (float64, float64) {
	if len(samples) == 0 {
		return 0, 0
	}

	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean := sum / float64(len(samples))

	var sq float64
	for _, v := range samples {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(samples)))
}
