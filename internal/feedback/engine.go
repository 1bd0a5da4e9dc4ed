// Package feedback closes the loop between human ratings and the governing
// thresholds. It aggregates ratings into quality metrics, compares a recent
// window against the earliest-seen baseline to detect drift, and derives
// advisory threshold recommendations that an operator applies through
// configuration. Nothing here mutates live policy.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/tjfontaine/llm-governor/internal/config"
	"github.com/tjfontaine/llm-governor/internal/domain"
)

// Submit validation failures.
var (
	ErrInvalidRating      = errors.New("rating must be between 1 and 5")
	ErrMissingInteraction = errors.New("feedback requires an interaction id")
)

// Store is the slice of persistence the engine needs: its own feedback
// records plus read access to audited interactions for risk joins.
type Store interface {
	SaveFeedback(ctx context.Context, rec *domain.FeedbackRecord) error
	ListFeedback(ctx context.Context, limit, offset int) ([]*domain.FeedbackRecord, error)
	GetEntry(ctx context.Context, interactionID string) (*domain.AuditEntry, error)
}

const (
	// optimizerWindow is how many of the most recent feedback records the
	// threshold optimizer considers.
	optimizerWindow = 100

	// Fixed score cuts the optimizer classifies against. A well-rated
	// interaction that scored above flaggedCut is a false positive; a
	// poorly rated one below safeCut is a false negative.
	flaggedCut = 0.5
	safeCut    = 0.3

	// tuneStep is the nudge applied to rule thresholds, triggered when a
	// misclassification rate exceeds tuneTrigger.
	tuneStep    = 0.05
	tuneTrigger = 0.2
)

// tuneBounds caps how far the optimizer will push each rule action's
// threshold in either direction.
var tuneBounds = map[string]struct{ upper, lower float64 }{
	"block":    {0.9, 0.5},
	"fallback": {0.7, 0.3},
	"rewrite":  {0.5, 0.1},
}

// Engine runs out of band from the request path. All methods are safe for
// concurrent use; state lives in the store.
type Engine struct {
	store  Store
	cfg    config.FeedbackConfig
	logger *slog.Logger
}

// New creates a feedback engine over the given store.
func New(store Store, cfg config.FeedbackConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, cfg: cfg, logger: logger}
}

// Submit validates and stores one feedback record. The rating must be 1 to 5
// stars; the label is always derived from the rating. ID and CreatedAt are
// filled when absent. Feedback is accepted for interaction IDs the audit
// trail does not know, since a degraded append can leave a served interaction
// unrecorded; joins later treat those as unscored.
func (e *Engine) Submit(ctx context.Context, rec *domain.FeedbackRecord) error {
	if rec.InteractionID == "" {
		return ErrMissingInteraction
	}
	if rec.Rating < 1 || rec.Rating > 5 {
		return fmt.Errorf("%w: got %d", ErrInvalidRating, rec.Rating)
	}

	if rec.ID == "" {
		rec.ID = domain.NewFeedbackID()
	}
	rec.Label = domain.LabelForRating(rec.Rating)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if err := e.store.SaveFeedback(ctx, rec); err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}

	e.logger.Debug("feedback recorded",
		"feedback_id", rec.ID,
		"interaction_id", rec.InteractionID,
		"rating", rec.Rating,
		"label", rec.Label)
	return nil
}

// DriftReport compares recent feedback quality against the baseline built
// from the earliest feedback. Until the baseline window has filled, the
// report carries recent metrics only and never flags drift. A metric whose
// baseline is zero is excluded from comparison.
func (e *Engine) DriftReport(ctx context.Context) (*domain.DriftReport, error) {
	all, err := e.store.ListFeedback(ctx, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}

	report := &domain.DriftReport{GeneratedAt: time.Now().UTC()}

	recent := all
	if len(recent) > e.cfg.RecentWindow {
		recent = recent[len(recent)-e.cfg.RecentWindow:]
	}
	report.Recent = e.windowMetrics(ctx, recent)

	if len(all) < e.cfg.BaselineWindow {
		return report, nil
	}
	report.Baseline = e.windowMetrics(ctx, all[:e.cfg.BaselineWindow])

	for _, m := range []struct {
		name             string
		baseline, recent float64
	}{
		{"avg_rating", report.Baseline.AvgRating, report.Recent.AvgRating},
		{"positive_rate", report.Baseline.PositiveRate, report.Recent.PositiveRate},
		{"negative_rate", report.Baseline.NegativeRate, report.Recent.NegativeRate},
		{"agreement_rate", report.Baseline.AgreementRate, report.Recent.AgreementRate},
	} {
		if m.baseline == 0 {
			continue
		}
		changePct := math.Abs((m.recent-m.baseline)/m.baseline) * 100
		metric := domain.DriftMetric{
			Name:      m.name,
			Baseline:  m.baseline,
			Recent:    m.recent,
			ChangePct: changePct,
			Drifted:   changePct > e.cfg.DriftThresholdPct,
		}
		if metric.Drifted {
			report.Drifted = true
		}
		report.Metrics = append(report.Metrics, metric)
	}

	if report.Drifted {
		e.logger.Warn("feedback quality drift detected",
			"baseline_samples", report.Baseline.Samples,
			"recent_samples", report.Recent.Samples)
	}
	return report, nil
}

// Recommendations analyzes the most recent feedback against recorded risk
// scores and, when the false positive or false negative rate is high enough,
// proposes nudged thresholds for the aggregate policy rules. The returned
// records are advisory only.
func (e *Engine) Recommendations(ctx context.Context, rules []config.RuleConfig) ([]domain.ThresholdRecommendation, error) {
	all, err := e.store.ListFeedback(ctx, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	if len(all) > optimizerWindow {
		all = all[len(all)-optimizerWindow:]
	}
	if len(all) == 0 {
		return nil, nil
	}

	var falsePositives, falseNegatives int
	for _, rec := range all {
		risk := e.riskFor(ctx, rec.InteractionID)
		if rec.Rating >= 4 && risk > flaggedCut {
			falsePositives++
		}
		if rec.Rating <= 2 && risk < safeCut {
			falseNegatives++
		}
	}

	total := float64(len(all))
	fpRate := float64(falsePositives) / total
	fnRate := float64(falseNegatives) / total

	var step float64
	var reason string
	switch {
	case fpRate > tuneTrigger:
		step = tuneStep
		reason = fmt.Sprintf("false positive rate %.2f over last %d feedback samples; raising thresholds", fpRate, len(all))
	case fnRate > tuneTrigger:
		step = -tuneStep
		reason = fmt.Sprintf("false negative rate %.2f over last %d feedback samples; lowering thresholds", fnRate, len(all))
	default:
		return nil, nil
	}

	now := time.Now().UTC()
	var recs []domain.ThresholdRecommendation
	for _, rule := range rules {
		if rule.Category != string(domain.CategoryAggregate) {
			continue
		}
		bounds, ok := tuneBounds[rule.Action]
		if !ok {
			continue
		}
		recommended := rule.Threshold + step
		if recommended > bounds.upper {
			recommended = bounds.upper
		}
		if recommended < bounds.lower {
			recommended = bounds.lower
		}
		recommended = math.Round(recommended*100) / 100

		// A threshold already at or past its bound has nowhere to go in
		// the signaled direction.
		if step > 0 && recommended <= rule.Threshold {
			continue
		}
		if step < 0 && recommended >= rule.Threshold {
			continue
		}

		recs = append(recs, domain.ThresholdRecommendation{
			RuleID:      rule.ID,
			Current:     rule.Threshold,
			Recommended: recommended,
			Reason:      reason,
			CreatedAt:   now,
		})
	}

	if len(recs) > 0 {
		e.logger.Info("threshold recommendations generated",
			"count", len(recs),
			"fp_rate", fpRate,
			"fn_rate", fnRate)
	}
	return recs, nil
}

// windowMetrics summarizes one slice of feedback. Agreement joins each
// record to its audit entry; interactions the trail does not know count as
// unscored.
func (e *Engine) windowMetrics(ctx context.Context, records []*domain.FeedbackRecord) domain.QualityMetrics {
	metrics := domain.QualityMetrics{Samples: len(records)}
	if len(records) == 0 {
		return metrics
	}

	var ratingSum, positive, negative, agreed int
	for _, rec := range records {
		ratingSum += rec.Rating
		switch rec.Label {
		case domain.FeedbackPositive:
			positive++
		case domain.FeedbackNegative:
			negative++
		}

		predictedRisky := e.riskFor(ctx, rec.InteractionID) >= e.cfg.FlagThreshold
		humanNegative := rec.Rating <= 2
		if predictedRisky == humanNegative {
			agreed++
		}
	}

	n := float64(len(records))
	metrics.AvgRating = float64(ratingSum) / n
	metrics.PositiveRate = float64(positive) / n
	metrics.NegativeRate = float64(negative) / n
	metrics.AgreementRate = float64(agreed) / n
	return metrics
}

// riskFor returns the recorded aggregate risk for an interaction, or zero
// when the audit trail has no entry for it.
func (e *Engine) riskFor(ctx context.Context, interactionID string) float64 {
	entry, err := e.store.GetEntry(ctx, interactionID)
	if err != nil {
		return 0
	}
	return entry.Risk.Aggregate
}
