// Package detectors holds the built-in risk detectors. All pattern tables
// are compiled once at startup, never during a request.
package detectors

import (
	"context"
	"regexp"

	"github.com/tjfontaine/llm-governor/internal/domain"
	"github.com/tjfontaine/llm-governor/internal/risk"
)

var injectionPatterns = []struct {
	re         *regexp.Regexp
	confidence float64
	signal     string
}{
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`), 0.95, "override: ignore previous instructions"},
	{regexp.MustCompile(`(?i)disregard\s+(all|any|previous|prior|above)(\s+(instructions|rules|guidelines))?`), 0.85, "override: disregard instructions"},
	{regexp.MustCompile(`(?i)forget\s+everything`), 0.85, "override: forget everything"},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+`), 0.85, "identity override: you are now"},
	{regexp.MustCompile(`(?i)from\s+now\s+on\s+you\s+(are|will|must|should)`), 0.85, "identity override: from now on"},
	{regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)\s+`), 0.70, "identity override: pretend"},
	{regexp.MustCompile(`(?i)(reveal|show|output|repeat)\s+(your|the)\s+system\s+prompt`), 0.90, "extraction: system prompt"},
	{regexp.MustCompile(`(?i)system\s+prompt`), 0.60, "reference to system prompt"},
	{regexp.MustCompile(`(?i)\[SYSTEM\]`), 0.90, "delimiter injection: [SYSTEM] tag"},
	{regexp.MustCompile(`(?i)<\|im_start\|>system`), 0.95, "delimiter injection: ChatML system tag"},
	{regexp.MustCompile(`(?i)bypass\s+(the\s+)?(safety|security|content)\s+(filter|check|policy|rules)`), 0.95, "explicit bypass attempt"},
	{regexp.MustCompile(`(?i)do\s+anything\s+now`), 0.90, "jailbreak: DAN phrasing"},
}

// InjectionDetector scans the prompt for jailbreak and override phrasings.
// The score is the strongest matched pattern, nudged up for each additional
// distinct match.
type InjectionDetector struct{}

func NewInjectionDetector() *InjectionDetector {
	return &InjectionDetector{}
}

func (d *InjectionDetector) Name() string {
	return "injection"
}

func (d *InjectionDetector) Category() domain.RiskCategory {
	return domain.CategoryInjection
}

func (d *InjectionDetector) Detect(ctx context.Context, in *risk.Input) (*risk.Result, error) {
	var best float64
	var evidence []domain.Evidence

	for _, p := range injectionPatterns {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		match := p.re.FindString(in.Prompt)
		if match == "" {
			continue
		}
		if p.confidence > best {
			best = p.confidence
		}
		evidence = append(evidence, domain.Evidence{
			Category:   domain.CategoryInjection,
			Signal:     p.signal,
			Snippet:    truncate(match, 80),
			Location:   domain.LocationPrompt,
			Confidence: p.confidence,
		})
	}

	return &risk.Result{
		Score:    scaleByCount(best, len(evidence)),
		Evidence: evidence,
	}, nil
}

// scaleByCount nudges the strongest match up by 0.05 per additional match,
// capped at 1.0.
func scaleByCount(best float64, matches int) float64 {
	if matches == 0 {
		return 0
	}
	score := best + 0.05*float64(matches-1)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
