// Package tokens provides token counting for the models the gateway governs.
// Exact counts come from tiktoken where the model family supports it; every
// other model falls back to a character-based estimate.
package tokens

import "strings"

// Counter counts tokens of plain text for the models it supports.
type Counter interface {
	// CountText returns the token count for text under the given model.
	CountText(model, text string) (int, error)

	// SupportsModel returns true if this counter supports the given model.
	SupportsModel(model string) bool
}

// Registry picks the right counter for a model, falling back to estimation
// when no registered counter supports it or counting fails.
type Registry struct {
	counters []Counter
	fallback *Estimator
}

// NewRegistry creates a registry with the built-in counters registered.
func NewRegistry() *Registry {
	r := &Registry{fallback: NewEstimator()}
	r.Register(NewOpenAICounter())
	r.Register(NewClaudeCounter())
	return r
}

// Register adds a counter to the registry.
func (r *Registry) Register(counter Counter) {
	r.counters = append(r.counters, counter)
}

// CountText counts tokens for text under the given model. The second return
// value reports whether the count is an estimate rather than an exact count.
func (r *Registry) CountText(model, text string) (int, bool) {
	for _, counter := range r.counters {
		if !counter.SupportsModel(model) {
			continue
		}
		n, err := counter.CountText(model, text)
		if err != nil {
			break
		}
		_, estimated := counter.(*ClaudeCounter)
		return n, estimated
	}
	n, _ := r.fallback.CountText(model, text)
	return n, true
}

// Usage builds a prompt/completion usage estimate for a pair of texts.
func (r *Registry) Usage(model, prompt, completion string) (promptTokens, completionTokens int, estimated bool) {
	p, pe := r.CountText(model, prompt)
	c, ce := r.CountText(model, completion)
	return p, c, pe || ce
}

// Estimator approximates token counts from character length. It backs every
// model no other counter claims.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

// CountText estimates the token count.
func (e *Estimator) CountText(model, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	n := int(float64(len(text)) / e.CharsPerToken)
	if n < 1 {
		n = 1
	}
	return n, nil
}

// SupportsModel returns true - the estimator backs all models.
func (e *Estimator) SupportsModel(model string) bool {
	return true
}

// ModelMatcher matches model names against provider patterns.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher creates a new model matcher.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{
		prefixes: prefixes,
		exact:    exact,
	}
}

// Matches returns true if the model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
