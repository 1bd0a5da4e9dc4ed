package domain

import "time"

// CostRecord is the priced view of one interaction. Amounts are in the
// configured currency; token rates are quoted per thousand tokens.
type CostRecord struct {
	InteractionID    string  `json:"interaction_id"`
	Model            string  `json:"model"`
	Currency         string  `json:"currency"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	PromptCost       float64 `json:"prompt_cost"`
	CompletionCost   float64 `json:"completion_cost"`
	Amount           float64 `json:"amount"`

	// Estimated is set when usage was reconstructed from text because the
	// provider reported none
	Estimated bool `json:"estimated,omitempty"`

	// Anomaly flags an amount whose z-score against the rolling window
	// exceeded the configured threshold
	Anomaly bool    `json:"anomaly,omitempty"`
	ZScore  float64 `json:"z_score,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// CostPoint is one step of the cost time series exposed by the control plane.
type CostPoint struct {
	InteractionID string    `json:"interaction_id"`
	Model         string    `json:"model"`
	Amount        float64   `json:"amount"`
	Anomaly       bool      `json:"anomaly,omitempty"`
	ZScore        float64   `json:"z_score,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
