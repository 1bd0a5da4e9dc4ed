package detectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/tjfontaine/llm-governor/internal/domain"
	"github.com/tjfontaine/llm-governor/internal/risk"
)

var uncertaintyMarkers = []string{
	"i think", "maybe", "possibly", "might be",
	"not sure", "unclear", "uncertain",
}

var absoluteMarkers = []string{
	"definitely", "certainly", "guaranteed", "100%",
}

// hallucinationCap bounds the score: hedging language alone is never more
// than a medium-severity signal.
const hallucinationCap = 0.6

// HallucinationDetector scores heuristic hallucination indicators in the
// completion: hedging density, internal contradiction, and hedged text that
// simultaneously claims certainty.
type HallucinationDetector struct{}

func NewHallucinationDetector() *HallucinationDetector {
	return &HallucinationDetector{}
}

func (d *HallucinationDetector) Name() string {
	return "hallucination"
}

func (d *HallucinationDetector) Category() domain.RiskCategory {
	return domain.CategoryHallucination
}

func (d *HallucinationDetector) Detect(ctx context.Context, in *risk.Input) (*risk.Result, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	completion := strings.ToLower(in.Completion)

	uncertaintyCount := 0
	for _, marker := range uncertaintyMarkers {
		if strings.Contains(completion, marker) {
			uncertaintyCount++
		}
	}

	var evidence []domain.Evidence
	if uncertaintyCount > 2 {
		evidence = append(evidence, domain.Evidence{
			Category:   domain.CategoryHallucination,
			Signal:     fmt.Sprintf("high uncertainty markers: %d", uncertaintyCount),
			Location:   domain.LocationCompletion,
			Confidence: 0.6,
		})
	}

	if strings.Contains(completion, "however") && strings.Contains(completion, "but") {
		evidence = append(evidence, domain.Evidence{
			Category:   domain.CategoryHallucination,
			Signal:     "potential contradiction",
			Location:   domain.LocationCompletion,
			Confidence: 0.4,
		})
	}

	if uncertaintyCount > 0 {
		for _, marker := range absoluteMarkers {
			if strings.Contains(completion, marker) {
				evidence = append(evidence, domain.Evidence{
					Category:   domain.CategoryHallucination,
					Signal:     "confidence-language mismatch",
					Location:   domain.LocationCompletion,
					Confidence: 0.5,
				})
				break
			}
		}
	}

	score := float64(uncertaintyCount) * 0.15
	if score > hallucinationCap {
		score = hallucinationCap
	}

	return &risk.Result{
		Score:    score,
		Evidence: evidence,
	}, nil
}
