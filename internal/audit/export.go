package audit

import (
	"context"
	"time"

	"github.com/tjfontaine/llm-governor/internal/domain"
	"github.com/tjfontaine/llm-governor/internal/storage"
)

// Report is a compliance export covering one time range. It summarizes the
// recorded decisions and carries the verification result for the covered
// portion of the chain.
type Report struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	GeneratedAt time.Time `json:"generated_at"`

	TotalInteractions  uint64            `json:"total_interactions"`
	FailedInteractions uint64            `json:"failed_interactions"`
	ByAction           map[string]uint64 `json:"by_action"`
	ByCategory         map[string]uint64 `json:"by_category"`
	BySeverity         map[string]uint64 `json:"by_severity"`

	TotalCost float64            `json:"total_cost"`
	Currency  string             `json:"currency"`
	Anomalies []domain.CostPoint `json:"anomalies"`

	Chain *VerifyResult `json:"chain"`
}

// ExportReport builds a compliance report for entries created in [from, to].
// Zero bounds are open-ended.
func ExportReport(ctx context.Context, store storage.AuditStore, from, to time.Time) (*Report, error) {
	report := &Report{
		From:        from,
		To:          to,
		GeneratedAt: time.Now().UTC(),
		ByAction:    make(map[string]uint64),
		ByCategory:  make(map[string]uint64),
		BySeverity:  make(map[string]uint64),
	}

	var firstSeq, lastSeq uint64
	err := store.ScanEntries(ctx, 1, 0, func(entry *domain.AuditEntry) error {
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			return nil
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			return nil
		}

		if firstSeq == 0 {
			firstSeq = entry.Seq
		}
		lastSeq = entry.Seq

		report.TotalInteractions++
		if entry.Interaction.Failed() {
			report.FailedInteractions++
		}
		report.ByAction[string(entry.Decision.Action)]++
		if entry.Decision.Category != "" {
			report.ByCategory[string(entry.Decision.Category)]++
		}
		report.BySeverity[string(entry.Risk.Severity)]++
		report.TotalCost += entry.Cost.Amount
		if report.Currency == "" {
			report.Currency = entry.Cost.Currency
		}
		if entry.Cost.Anomaly {
			report.Anomalies = append(report.Anomalies, domain.CostPoint{
				InteractionID: entry.InteractionID,
				Model:         entry.Interaction.Model,
				Amount:        entry.Cost.Amount,
				Anomaly:       true,
				ZScore:        entry.Cost.ZScore,
				CreatedAt:     entry.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if firstSeq == 0 {
		report.Chain = &VerifyResult{Valid: true}
		return report, nil
	}

	chain, err := Verify(ctx, store, firstSeq, lastSeq)
	if err != nil {
		return nil, err
	}
	report.Chain = chain

	return report, nil
}
