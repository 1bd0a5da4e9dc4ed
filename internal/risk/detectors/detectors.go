package detectors

import "github.com/tjfontaine/llm-governor/internal/risk"

// Defaults returns the four built-in detectors, one per risk category.
func Defaults() []risk.Detector {
	return []risk.Detector{
		NewInjectionDetector(),
		NewHallucinationDetector(),
		NewUnsafeContentDetector(),
		NewLeakageDetector(),
	}
}
