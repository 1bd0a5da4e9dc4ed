// Package risk scores interactions across four independent detector
// categories and joins the results into a single assessment.
package risk

import (
	"context"

	"github.com/tjfontaine/llm-governor/internal/domain"
)

// Detector is the interface every risk detector must implement.
// Implementations must be side-effect-free and respect context deadlines.
type Detector interface {
	// Name returns the detector's unique identifier.
	Name() string

	// Category returns the risk category this detector scores.
	Category() domain.RiskCategory

	// Detect scores the interaction text. Must respect ctx deadline and
	// return early if ctx is cancelled.
	Detect(ctx context.Context, in *Input) (*Result, error)
}

// Input is the text a detector scans.
type Input struct {
	Prompt     string
	Completion string
}

// Result is the outcome of a single detector run.
type Result struct {
	// Score is the category risk in [0, 1]
	Score float64

	// Evidence lists the observations behind the score
	Evidence []domain.Evidence
}

// NotEvaluatedSignal marks an evidence item for a detector that could not
// run (timeout or error). Its category scores 0.
const NotEvaluatedSignal = "not evaluated"
