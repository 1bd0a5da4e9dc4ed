package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/tjfontaine/llm-governor/internal/config"
	"github.com/tjfontaine/llm-governor/internal/domain"
)

// Engine fans an interaction out to all registered detectors in parallel and
// joins their results into one RiskAssessment.
type Engine struct {
	detectors   []Detector
	timeout     time.Duration
	aggregation string
	weights     config.WeightsConfig
	logger      *slog.Logger
}

// NewEngine creates an engine over the given detectors.
func NewEngine(detectors []Detector, cfg config.RiskConfig, logger *slog.Logger) *Engine {
	return &Engine{
		detectors:   detectors,
		timeout:     cfg.DetectorTimeout,
		aggregation: cfg.Aggregation,
		weights:     cfg.Weights,
		logger:      logger,
	}
}

// detectorOutput holds a single detector's result alongside its metadata.
type detectorOutput struct {
	name     string
	category domain.RiskCategory
	result   *Result
	err      error
}

// Assess runs all detectors concurrently against the interaction. Detectors
// that error or exceed the timeout degrade to a zero score with a
// "not evaluated" evidence item; they never fail the assessment.
func (e *Engine) Assess(ctx context.Context, interaction *domain.Interaction) *domain.RiskAssessment {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	in := &Input{Prompt: interaction.Prompt, Completion: interaction.Completion}
	ch := make(chan detectorOutput, len(e.detectors))

	for _, d := range e.detectors {
		go func(d Detector) {
			result, err := d.Detect(ctx, in)
			ch <- detectorOutput{
				name:     d.Name(),
				category: d.Category(),
				result:   result,
				err:      err,
			}
		}(d)
	}

	collected := make(map[string]detectorOutput, len(e.detectors))
	remaining := len(e.detectors)
	for remaining > 0 {
		select {
		case out := <-ch:
			collected[out.name] = out
			remaining--
		case <-ctx.Done():
			e.logger.Warn("detector timeout exceeded, degrading to partial assessment",
				"interaction_id", interaction.ID,
				"timeout", e.timeout)
			remaining = 0
		}
	}

	assessment := &domain.RiskAssessment{
		InteractionID: interaction.ID,
		CreatedAt:     time.Now().UTC(),
	}

	evidenceCount := 0
	for _, d := range e.detectors {
		out, ok := collected[d.Name()]
		if !ok || out.err != nil || out.result == nil {
			if ok && out.err != nil {
				e.logger.Warn("detector error",
					"detector", d.Name(),
					"interaction_id", interaction.ID,
					"error", out.err)
			}
			assessment.Evidence = append(assessment.Evidence, domain.Evidence{
				Category: d.Category(),
				Signal:   NotEvaluatedSignal,
			})
			assessment.Unavailable = append(assessment.Unavailable, d.Name())
			continue
		}

		e.applyScore(assessment, d.Category(), out.result.Score)
		assessment.Evidence = append(assessment.Evidence, out.result.Evidence...)
		evidenceCount += len(out.result.Evidence)
	}

	assessment.Aggregate = e.aggregate(assessment.Scores)
	assessment.Severity = domain.SeverityForScore(assessment.Aggregate)
	assessment.Confidence = confidence(evidenceCount)

	return assessment
}

// applyScore folds one detector score into the per-category scores. Multiple
// detectors on the same category keep the highest score.
func (e *Engine) applyScore(a *domain.RiskAssessment, category domain.RiskCategory, score float64) {
	switch category {
	case domain.CategoryInjection:
		if score > a.Scores.Injection {
			a.Scores.Injection = score
		}
	case domain.CategoryHallucination:
		if score > a.Scores.Hallucination {
			a.Scores.Hallucination = score
		}
	case domain.CategoryUnsafeContent:
		if score > a.Scores.UnsafeContent {
			a.Scores.UnsafeContent = score
		}
	case domain.CategoryDataLeakage:
		if score > a.Scores.DataLeakage {
			a.Scores.DataLeakage = score
		}
	}
}

func (e *Engine) aggregate(scores domain.RiskScores) float64 {
	if e.aggregation != config.AggregationWeighted {
		return scores.Max()
	}

	sum := e.weights.Injection*scores.Injection +
		e.weights.Hallucination*scores.Hallucination +
		e.weights.UnsafeContent*scores.UnsafeContent +
		e.weights.DataLeakage*scores.DataLeakage
	if sum > 1 {
		sum = 1
	}
	return sum
}

// confidence grows with the amount of evidence behind the assessment.
func confidence(evidenceCount int) float64 {
	c := 0.5 + float64(evidenceCount)*0.1
	if c > 0.95 {
		c = 0.95
	}
	return c
}
