package detectors

import (
	"context"
	"regexp"

	"github.com/tjfontaine/llm-governor/internal/domain"
	"github.com/tjfontaine/llm-governor/internal/risk"
)

var unsafePatterns = []struct {
	re         *regexp.Regexp
	confidence float64
	signal     string
}{
	// Violence
	{regexp.MustCompile(`(?i)(make|build|construct)\s+(a\s+)?(bomb|weapon|explosive)`), 0.95, "violence: weapon construction"},
	{regexp.MustCompile(`(?i)how\s+to\s+(kill|attack|assault)\b`), 0.85, "violence: instructions to harm"},

	// Self-harm
	{regexp.MustCompile(`(?i)(hurt|harm|kill)\s+(myself|yourself)`), 0.90, "self-harm: direct reference"},

	// Illegal activity
	{regexp.MustCompile(`(?i)how\s+to\s+(hack|exploit|bypass)`), 0.85, "illegal: intrusion instructions"},
	{regexp.MustCompile(`(?i)create\s+(malware|virus|ransomware)`), 0.90, "illegal: malware creation"},
	{regexp.MustCompile(`(?i)illegal\s+(activity|substance|drugs)`), 0.70, "illegal: explicit reference"},
	{regexp.MustCompile(`(?i)launder(ing)?\s+money|money\s+launder(ing)?`), 0.85, "illegal: money laundering"},
	{regexp.MustCompile(`(?i)steal\s+(credit\s+card|identit(y|ies)|password)`), 0.85, "illegal: theft instructions"},

	// Hate
	{regexp.MustCompile(`(?i)(inferior|subhuman)\s+(race|people|group)`), 0.90, "hate: dehumanizing language"},
}

// UnsafeContentDetector classifies the completion against harmful-content
// categories. The score is the highest-confidence matched category.
type UnsafeContentDetector struct{}

func NewUnsafeContentDetector() *UnsafeContentDetector {
	return &UnsafeContentDetector{}
}

func (d *UnsafeContentDetector) Name() string {
	return "unsafe_content"
}

func (d *UnsafeContentDetector) Category() domain.RiskCategory {
	return domain.CategoryUnsafeContent
}

func (d *UnsafeContentDetector) Detect(ctx context.Context, in *risk.Input) (*risk.Result, error) {
	var best float64
	var evidence []domain.Evidence

	for _, p := range unsafePatterns {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		match := p.re.FindString(in.Completion)
		if match == "" {
			continue
		}
		if p.confidence > best {
			best = p.confidence
		}
		evidence = append(evidence, domain.Evidence{
			Category:   domain.CategoryUnsafeContent,
			Signal:     p.signal,
			Snippet:    truncate(match, 80),
			Location:   domain.LocationCompletion,
			Confidence: p.confidence,
		})
	}

	// The score is the max category confidence, not count-scaled: one
	// severe category is enough.
	return &risk.Result{
		Score:    best,
		Evidence: evidence,
	}, nil
}
