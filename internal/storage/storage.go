// Package storage defines the persistence ports for the audit trail and
// feedback records, with sqlite and in-memory implementations in
// subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tjfontaine/llm-governor/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// AuditStore is the durable home of the hash chain. Implementations must
// keep entries append-only: nothing updates or deletes a stored entry.
type AuditStore interface {
	// AppendEntry persists a new chain entry. An entry for the same
	// interaction ID is rejected with *domain.DuplicateInteractionError.
	AppendEntry(ctx context.Context, entry *domain.AuditEntry) error

	// LastEntry returns the chain tail, or nil when the chain is empty.
	LastEntry(ctx context.Context) (*domain.AuditEntry, error)

	// EntryBySeq returns the entry at a chain position.
	EntryBySeq(ctx context.Context, seq uint64) (*domain.AuditEntry, error)

	// GetEntry returns the entry for an interaction.
	GetEntry(ctx context.Context, interactionID string) (*domain.AuditEntry, error)

	// ScanEntries replays entries in ascending seq order through fn,
	// bounded inclusively by fromSeq and toSeq (zero toSeq means the
	// tail). fn returning an error stops the scan.
	ScanEntries(ctx context.Context, fromSeq, toSeq uint64, fn func(*domain.AuditEntry) error) error

	// ListEntries returns entries matching the filter, newest first.
	ListEntries(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEntry, error)

	// CostSeries returns the per-interaction cost points in ascending
	// append order within the time range.
	CostSeries(ctx context.Context, from, to time.Time, limit int) ([]domain.CostPoint, error)

	// Stats aggregates the governed history.
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// FeedbackStore persists human feedback separately from the audit chain.
type FeedbackStore interface {
	SaveFeedback(ctx context.Context, rec *domain.FeedbackRecord) error

	// ListFeedback returns feedback records in submission order, oldest
	// first. A zero limit means all.
	ListFeedback(ctx context.Context, limit, offset int) ([]*domain.FeedbackRecord, error)

	// FeedbackForInteraction returns all feedback tied to one interaction.
	FeedbackForInteraction(ctx context.Context, interactionID string) ([]*domain.FeedbackRecord, error)
}

// Store bundles the two ports; both backends implement it.
type Store interface {
	AuditStore
	FeedbackStore
}

// Stats is the aggregate view the control plane serves.
type Stats struct {
	TotalInteractions  uint64            `json:"total_interactions"`
	FailedInteractions uint64            `json:"failed_interactions"`
	ByAction           map[string]uint64 `json:"by_action"`
	BySeverity         map[string]uint64 `json:"by_severity"`
	TotalCost          float64           `json:"total_cost"`
	TotalTokens        uint64            `json:"total_tokens"`
	AnomalyCount       uint64            `json:"anomaly_count"`
	AvgLatencyMs       float64           `json:"avg_latency_ms"`
}
