package domain

// Request is a caller's LLM invocation as accepted by the gateway.
type Request struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`

	// CorrelationID lets callers tie the governed interaction back to
	// their own request tracking
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Completion is a provider reply normalized to the shared shape.
type Completion struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}
