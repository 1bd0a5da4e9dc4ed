package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Interaction represents a single governed request/response exchange with an
// LLM provider. It is assembled once by the gateway and never mutated by the
// downstream stages; risk, policy, cost, and audit all hang their records off
// its ID.
type Interaction struct {
	// ID uniquely identifies this interaction
	ID string `json:"id"`

	// CorrelationID is the caller-supplied identifier, if any
	CorrelationID string `json:"correlation_id,omitempty"`

	// Provider identifies the backend that handled the request
	Provider string `json:"provider"`

	// Model is the model requested by the caller
	Model string `json:"model"`

	// ServedModel is the model name the provider actually served, when
	// it differs from the requested alias
	ServedModel string `json:"served_model,omitempty"`

	// Prompt is the full prompt sent to the provider
	Prompt string `json:"prompt"`

	// Completion is the raw model output before any enforcement
	Completion string `json:"completion"`

	// Usage contains token counts as reported by the provider
	Usage Usage `json:"usage"`

	// Latency is the wall-clock time spent in provider calls, retries included
	Latency time.Duration `json:"latency_ns"`

	// Attempts is the number of provider calls made, retries included
	Attempts int `json:"attempts"`

	// Status indicates whether the provider exchange completed
	Status InteractionStatus `json:"status"`

	// Error holds the normalized provider failure for failed interactions
	Error *ProviderError `json:"error,omitempty"`

	// CreatedAt is when the gateway accepted the request
	CreatedAt time.Time `json:"created_at"`
}

// InteractionStatus represents the outcome of the provider exchange.
type InteractionStatus string

const (
	InteractionCompleted InteractionStatus = "completed"
	InteractionFailed    InteractionStatus = "failed"
)

// Failed reports whether the provider exchange did not produce a completion.
func (i *Interaction) Failed() bool {
	return i.Status == InteractionFailed
}

// Usage represents token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum of two usage reports. Used to merge the
// original and rewrite calls into a single billing total.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// Zero reports whether no token counts are present.
func (u Usage) Zero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// NewInteractionID returns a fresh interaction identifier.
func NewInteractionID() string {
	return "int_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// InteractionSummary provides a lightweight view of an interaction for listing.
type InteractionSummary struct {
	ID            string            `json:"id"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Provider      string            `json:"provider"`
	Model         string            `json:"model"`
	Status        InteractionStatus `json:"status"`
	Action        PolicyAction      `json:"action,omitempty"`
	Aggregate     float64           `json:"aggregate_risk"`
	Amount        float64           `json:"cost"`
	Latency       time.Duration     `json:"latency_ns"`
	CreatedAt     time.Time         `json:"created_at"`
}
