package domain

import "time"

// AuditEntry is one link of the hash-chained audit trail. Every field that
// contributes to the hash is a struct with fixed JSON field order, so the
// canonical encoding is deterministic.
type AuditEntry struct {
	// Seq is the position in the chain, starting at 1
	Seq uint64 `json:"seq"`

	// InteractionID duplicates Interaction.ID for random access
	InteractionID string `json:"interaction_id"`

	Interaction Interaction    `json:"interaction"`
	Risk        RiskAssessment `json:"risk"`
	Decision    PolicyDecision `json:"decision"`
	Cost        CostRecord     `json:"cost"`

	// PrevHash is the hex hash of the previous entry, or the genesis hash
	// for the first entry
	PrevHash string `json:"prev_hash"`

	// Hash is SHA-256 over PrevHash and the canonical encoding of this
	// entry with Hash itself blanked
	Hash string `json:"hash"`

	CreatedAt time.Time `json:"created_at"`
}

// AuditFilter narrows audit queries. Zero values mean no constraint.
type AuditFilter struct {
	From     time.Time
	To       time.Time
	Action   PolicyAction
	Category RiskCategory
	Model    string
	Anomaly  bool
	Limit    int
	Offset   int
}

// InteractionBundle is the full per-interaction tuple returned by the control
// plane detail endpoint.
type InteractionBundle struct {
	Interaction Interaction    `json:"interaction"`
	Risk        RiskAssessment `json:"risk"`
	Decision    PolicyDecision `json:"decision"`
	Cost        CostRecord     `json:"cost"`
	Seq         uint64         `json:"seq"`
}
