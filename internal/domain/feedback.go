package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// FeedbackLabel classifies a rating for aggregate reporting.
type FeedbackLabel string

const (
	FeedbackPositive FeedbackLabel = "positive"
	FeedbackNegative FeedbackLabel = "negative"
	FeedbackNeutral  FeedbackLabel = "neutral"
)

// LabelForRating derives a label from a 1-5 star rating.
func LabelForRating(rating int) FeedbackLabel {
	switch {
	case rating >= 4:
		return FeedbackPositive
	case rating <= 2:
		return FeedbackNegative
	default:
		return FeedbackNeutral
	}
}

// FeedbackRecord is one piece of human feedback about a governed interaction.
type FeedbackRecord struct {
	ID            string        `json:"id"`
	InteractionID string        `json:"interaction_id"`
	Rating        int           `json:"rating"`
	Label         FeedbackLabel `json:"label"`
	Comment       string        `json:"comment,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NewFeedbackID returns a fresh feedback identifier.
func NewFeedbackID() string {
	return "fb_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// QualityMetrics summarizes one feedback window.
type QualityMetrics struct {
	Samples       int     `json:"samples"`
	AvgRating     float64 `json:"avg_rating"`
	PositiveRate  float64 `json:"positive_rate"`
	NegativeRate  float64 `json:"negative_rate"`
	AgreementRate float64 `json:"agreement_rate"`
}

// DriftMetric compares one quality metric between the baseline and recent
// windows.
type DriftMetric struct {
	Name      string  `json:"name"`
	Baseline  float64 `json:"baseline"`
	Recent    float64 `json:"recent"`
	ChangePct float64 `json:"change_pct"`
	Drifted   bool    `json:"drifted"`
}

// DriftReport is the output of a drift computation. Drifted is true when any
// metric moved more than the configured threshold.
type DriftReport struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Baseline    QualityMetrics `json:"baseline"`
	Recent      QualityMetrics `json:"recent"`
	Metrics     []DriftMetric  `json:"metrics"`
	Drifted     bool           `json:"drifted"`
}

// ThresholdRecommendation is advisory output from the feedback engine. It is
// never applied to the live policy; an operator acts on it through
// configuration.
type ThresholdRecommendation struct {
	RuleID      string    `json:"rule_id"`
	Current     float64   `json:"current"`
	Recommended float64   `json:"recommended"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}
