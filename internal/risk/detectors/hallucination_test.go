package detectors

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/tjfontaine/llm-governor/internal/risk"
)

func TestHallucinationDetector_UncertaintyMarkers(t *testing.T) {
	d := NewHallucinationDetector()
	ctx := context.Background()

	tests := []struct {
		name       string
		completion string
		wantScore  float64
		wantSignal string
	}{
		{
			"no hedging",
			"Paris is the capital of France.",
			0, "",
		},
		{
			"single marker",
			"I think the answer is 42.",
			0.15, "",
		},
		{
			"three markers",
			"Maybe it was 1903, though the date is unclear and I think it varies by source.",
			0.45, "high uncertainty markers",
		},
		{
			"score capped",
			"I think it might be X, but maybe Y. Possibly Z, though I'm not sure and it's unclear.",
			0.6, "high uncertainty markers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := d.Detect(ctx, &risk.Input{Completion: tt.completion})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(result.Score-tt.wantScore) > 1e-9 {
				t.Errorf("score = %.2f, want %.2f", result.Score, tt.wantScore)
			}
			if tt.wantSignal == "" {
				return
			}
			found := false
			for _, e := range result.Evidence {
				if strings.Contains(e.Signal, tt.wantSignal) {
					found = true
				}
			}
			if !found {
				t.Errorf("no evidence signal containing %q in %+v", tt.wantSignal, result.Evidence)
			}
		})
	}
}

func TestHallucinationDetector_Contradiction(t *testing.T) {
	d := NewHallucinationDetector()

	result, err := d.Detect(context.Background(), &risk.Input{
		Completion: "The figure rose steadily. However, later data disagrees, but the trend held.",
	})
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, e := range result.Evidence {
		if strings.Contains(e.Signal, "contradiction") {
			found = true
		}
	}
	if !found {
		t.Errorf("no contradiction evidence in %+v", result.Evidence)
	}
	// Contradiction is evidence only; it does not move the score.
	if result.Score != 0 {
		t.Errorf("score = %.2f, want 0 without uncertainty markers", result.Score)
	}
}

func TestHallucinationDetector_ConfidenceLanguageMismatch(t *testing.T) {
	d := NewHallucinationDetector()

	result, err := d.Detect(context.Background(), &risk.Input{
		Completion: "I think this is definitely the right answer.",
	})
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, e := range result.Evidence {
		if strings.Contains(e.Signal, "confidence-language mismatch") {
			found = true
		}
	}
	if !found {
		t.Errorf("no mismatch evidence in %+v", result.Evidence)
	}
}
