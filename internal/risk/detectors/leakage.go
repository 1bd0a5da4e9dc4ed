package detectors

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/tjfontaine/llm-governor/internal/domain"
	"github.com/tjfontaine/llm-governor/internal/risk"
)

var leakagePatterns = []struct {
	re         *regexp.Regexp
	confidence float64
	signal     string
}{
	// SSN: 123-45-6789 or 123 45 6789
	{regexp.MustCompile(`\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`), 0.90, "PII: Social Security Number"},

	// Credit card numbers (Visa, MC, Amex, Discover, optional spaces/dashes)
	{regexp.MustCompile(`\b4\d{3}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), 0.90, "PII: credit card (Visa)"},
	{regexp.MustCompile(`\b5[1-5]\d{2}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), 0.90, "PII: credit card (Mastercard)"},
	{regexp.MustCompile(`\b3[47]\d{2}[-\s]?\d{6}[-\s]?\d{5}\b`), 0.90, "PII: credit card (Amex)"},
	{regexp.MustCompile(`\b6011[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), 0.90, "PII: credit card (Discover)"},

	// Any bare 16-digit run not caught by the issuer-specific shapes
	{regexp.MustCompile(`\b\d{16}\b`), 0.85, "PII: card-shaped number"},

	// Credential shapes
	{regexp.MustCompile(`(?i)\bapi[_-]?key\b`), 0.70, "credential: api key reference"},
	{regexp.MustCompile(`(?i)password\s*[:=]`), 0.80, "credential: password assignment"},
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), 0.95, "credential: AWS access key id"},
	{regexp.MustCompile(`(?i)bearer\s+[a-z0-9._\-]{20,}`), 0.85, "credential: bearer token"},
}

// candidateTokens picks out long unbroken strings for the entropy check.
var candidateTokens = regexp.MustCompile(`[A-Za-z0-9+/=_\-]{32,}`)

const entropyThreshold = 4.0 // bits per character

// LeakageDetector scans prompt and completion for PII and credential-shaped
// substrings, plus high-entropy strings that look like secrets.
type LeakageDetector struct{}

func NewLeakageDetector() *LeakageDetector {
	return &LeakageDetector{}
}

func (d *LeakageDetector) Name() string {
	return "data_leakage"
}

func (d *LeakageDetector) Category() domain.RiskCategory {
	return domain.CategoryDataLeakage
}

func (d *LeakageDetector) Detect(ctx context.Context, in *risk.Input) (*risk.Result, error) {
	var best float64
	var evidence []domain.Evidence

	scan := func(text, location string) error {
		for _, p := range leakagePatterns {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			match := p.re.FindString(text)
			if match == "" {
				continue
			}
			if p.confidence > best {
				best = p.confidence
			}
			evidence = append(evidence, domain.Evidence{
				Category:   domain.CategoryDataLeakage,
				Signal:     p.signal,
				Snippet:    redact(match),
				Location:   location,
				Confidence: p.confidence,
			})
		}

		for _, token := range candidateTokens.FindAllString(text, 4) {
			if entropy(token) < entropyThreshold {
				continue
			}
			if best < 0.75 {
				best = 0.75
			}
			evidence = append(evidence, domain.Evidence{
				Category:   domain.CategoryDataLeakage,
				Signal:     "credential: high-entropy string",
				Snippet:    redact(token),
				Location:   location,
				Confidence: 0.75,
			})
		}
		return nil
	}

	if err := scan(in.Prompt, domain.LocationPrompt); err != nil {
		return nil, err
	}
	if err := scan(in.Completion, domain.LocationCompletion); err != nil {
		return nil, err
	}

	return &risk.Result{
		Score:    scaleByCount(best, len(evidence)),
		Evidence: evidence,
	}, nil
}

// redact masks all but the last four characters so the audit log never
// echoes the leaked value itself.
func redact(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// entropy is the Shannon entropy of s in bits per character.
func entropy(s string) float64 {
	if s == "" {
		return 0
	}
	var freq [256]int
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	var h float64
	n := float64(len(s))
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}
