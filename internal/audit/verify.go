package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/tjfontaine/llm-governor/internal/domain"
	"github.com/tjfontaine/llm-governor/internal/storage"
)

var errStopScan = errors.New("stop scan")

// VerifyResult reports the outcome of a chain verification pass.
type VerifyResult struct {
	Valid     bool       `json:"valid"`
	FromSeq   uint64     `json:"from_seq"`
	ToSeq     uint64     `json:"to_seq"`
	Checked   uint64     `json:"checked"`
	Violation *Violation `json:"violation,omitempty"`
}

// Violation describes the first broken link found in the chain.
type Violation struct {
	Seq    uint64 `json:"seq"`
	Reason string `json:"reason"`
}

// Verify walks the chain between fromSeq and toSeq (zero toSeq means the
// tail) and recomputes every link. It returns the first violation found;
// a store error aborts the walk instead.
func Verify(ctx context.Context, store storage.AuditStore, fromSeq, toSeq uint64) (*VerifyResult, error) {
	if fromSeq == 0 {
		fromSeq = 1
	}

	expectedPrev := genesisHash()
	if fromSeq > 1 {
		anchor, err := store.EntryBySeq(ctx, fromSeq-1)
		if err != nil {
			return nil, fmt.Errorf("failed to load verification anchor: %w", err)
		}
		expectedPrev = anchor.Hash
	}

	result := &VerifyResult{Valid: true, FromSeq: fromSeq, ToSeq: toSeq}
	prevSeq := fromSeq - 1

	err := store.ScanEntries(ctx, fromSeq, toSeq, func(entry *domain.AuditEntry) error {
		if entry.Seq != prevSeq+1 {
			result.flag(entry.Seq, fmt.Sprintf("sequence gap: expected %d, got %d", prevSeq+1, entry.Seq))
			return errStopScan
		}
		if entry.InteractionID != entry.Interaction.ID {
			result.flag(entry.Seq, fmt.Sprintf("interaction id mismatch: %s vs %s", entry.InteractionID, entry.Interaction.ID))
			return errStopScan
		}
		if entry.PrevHash != expectedPrev {
			result.flag(entry.Seq, fmt.Sprintf("prev_hash mismatch: expected %s, got %s", short(expectedPrev), short(entry.PrevHash)))
			return errStopScan
		}
		if computed := computeHash(entry); entry.Hash != computed {
			result.flag(entry.Seq, fmt.Sprintf("hash mismatch: expected %s, got %s", short(computed), short(entry.Hash)))
			return errStopScan
		}

		expectedPrev = entry.Hash
		prevSeq = entry.Seq
		result.Checked++
		result.ToSeq = entry.Seq
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return nil, err
	}

	return result, nil
}

func (r *VerifyResult) flag(seq uint64, reason string) {
	r.Valid = false
	r.Violation = &Violation{Seq: seq, Reason: reason}
}

func short(hash string) string {
	if len(hash) > 16 {
		return hash[:16] + "..."
	}
	return hash
}
