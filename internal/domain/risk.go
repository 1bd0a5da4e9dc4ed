package domain

import "time"

// RiskCategory identifies one axis of the risk assessment.
type RiskCategory string

const (
	CategoryInjection     RiskCategory = "injection"
	CategoryHallucination RiskCategory = "hallucination"
	CategoryUnsafeContent RiskCategory = "unsafe_content"
	CategoryDataLeakage   RiskCategory = "data_leakage"

	// CategoryAggregate is not a detector category. Policy rules use it to
	// target the combined score.
	CategoryAggregate RiskCategory = "aggregate"
)

// DetectorCategories lists the categories produced by detectors, in the order
// scores are reported.
var DetectorCategories = []RiskCategory{
	CategoryInjection,
	CategoryHallucination,
	CategoryUnsafeContent,
	CategoryDataLeakage,
}

// Severity buckets an aggregate score for reporting.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeveritySafe     Severity = "safe"
)

// SeverityForScore maps an aggregate score onto a severity band.
func SeverityForScore(score float64) Severity {
	switch {
	case score >= 0.7:
		return SeverityCritical
	case score >= 0.5:
		return SeverityHigh
	case score >= 0.3:
		return SeverityMedium
	case score > 0:
		return SeverityLow
	default:
		return SeveritySafe
	}
}

// RiskScores holds the per-category scores. A fixed struct rather than a map
// keeps JSON field order stable for audit hashing.
type RiskScores struct {
	Injection     float64 `json:"injection"`
	Hallucination float64 `json:"hallucination"`
	UnsafeContent float64 `json:"unsafe_content"`
	DataLeakage   float64 `json:"data_leakage"`
}

// ForCategory returns the score for a detector category, or the zero score for
// CategoryAggregate and unknown categories.
func (s RiskScores) ForCategory(c RiskCategory) float64 {
	switch c {
	case CategoryInjection:
		return s.Injection
	case CategoryHallucination:
		return s.Hallucination
	case CategoryUnsafeContent:
		return s.UnsafeContent
	case CategoryDataLeakage:
		return s.DataLeakage
	default:
		return 0
	}
}

// Max returns the highest per-category score.
func (s RiskScores) Max() float64 {
	max := s.Injection
	for _, v := range []float64{s.Hallucination, s.UnsafeContent, s.DataLeakage} {
		if v > max {
			max = v
		}
	}
	return max
}

// Evidence records one observation a detector made while scoring.
type Evidence struct {
	// Category is the detector category that produced this evidence
	Category RiskCategory `json:"category"`

	// Signal names the pattern or heuristic that fired
	Signal string `json:"signal"`

	// Snippet is a short, possibly redacted excerpt of the matched text
	Snippet string `json:"snippet,omitempty"`

	// Location says where the match occurred (prompt or completion)
	Location string `json:"location,omitempty"`

	// Confidence is the detector's confidence in this single observation
	Confidence float64 `json:"confidence"`
}

// Evidence locations.
const (
	LocationPrompt     = "prompt"
	LocationCompletion = "completion"
)

// RiskAssessment is the combined output of all detectors for one interaction.
type RiskAssessment struct {
	InteractionID string     `json:"interaction_id"`
	Scores        RiskScores `json:"scores"`
	Aggregate     float64    `json:"aggregate"`
	Severity      Severity   `json:"severity"`
	Confidence    float64    `json:"confidence"`
	Evidence      []Evidence `json:"evidence,omitempty"`
	Unavailable   []string   `json:"unavailable,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// EvidenceFor returns the evidence items for one category.
func (a *RiskAssessment) EvidenceFor(c RiskCategory) []Evidence {
	var out []Evidence
	for _, e := range a.Evidence {
		if e.Category == c {
			out = append(out, e)
		}
	}
	return out
}
