package domain

import "time"

// PolicyAction is the enforcement action a rule prescribes.
type PolicyAction string

const (
	ActionAllow    PolicyAction = "allow"
	ActionBlock    PolicyAction = "block"
	ActionFallback PolicyAction = "fallback"
	ActionRewrite  PolicyAction = "rewrite"
)

// ResponseSource says where the caller-visible response text came from.
type ResponseSource string

const (
	// SourceOriginal is the unmodified provider completion.
	SourceOriginal ResponseSource = "original"

	// SourceRefusal is the configured refusal message substituted by a block.
	SourceRefusal ResponseSource = "refusal"

	// SourceFallback is the configured safe default substituted by a fallback.
	SourceFallback ResponseSource = "fallback"

	// SourceRewritten is the completion from the sanitized re-invocation.
	SourceRewritten ResponseSource = "rewritten"
)

// EnforcementState tracks a decision through the policy stage.
type EnforcementState string

const (
	EnforcementPending   EnforcementState = "pending"
	EnforcementEvaluated EnforcementState = "evaluated"
	EnforcementEnforced  EnforcementState = "enforced"
)

// PolicyDecision records which rule matched an assessment and what enforcement
// produced. Exactly one decision exists per interaction.
type PolicyDecision struct {
	InteractionID string           `json:"interaction_id"`
	State         EnforcementState `json:"state"`
	Action        PolicyAction     `json:"action"`

	// RuleID is the matched rule, or "default-allow" when no rule matched
	RuleID string `json:"rule_id"`

	// Category and Threshold echo the matched rule's condition
	Category  RiskCategory `json:"category"`
	Threshold float64      `json:"threshold"`

	// Score is the assessed value the threshold was compared against
	Score float64 `json:"score"`

	Reason string `json:"reason,omitempty"`

	// ResponseSource and FinalResponse describe what the caller receives
	ResponseSource ResponseSource `json:"response_source"`
	FinalResponse  string         `json:"final_response"`

	// RewriteInteractionID links the re-invocation when Action was rewrite
	RewriteInteractionID string `json:"rewrite_interaction_id,omitempty"`

	// Downgraded is set when a rewrite still scored above the block
	// threshold and was converted to a block
	Downgraded bool `json:"downgraded,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Blocked reports whether the caller received a synthetic response instead of
// provider output.
func (d *PolicyDecision) Blocked() bool {
	return d.Action == ActionBlock || d.Action == ActionFallback
}
