// Package memory provides an in-memory implementation of storage.Store,
// used in tests and for ephemeral deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tjfontaine/llm-governor/internal/domain"
	"github.com/tjfontaine/llm-governor/internal/storage"
)

// Store keeps the audit chain and feedback records in process memory.
// Entries are held in append order, which matches sequence order.
type Store struct {
	mu            sync.RWMutex
	entries       []*domain.AuditEntry
	byInteraction map[string]*domain.AuditEntry
	bySeq         map[uint64]*domain.AuditEntry
	feedback      []*domain.FeedbackRecord
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		byInteraction: make(map[string]*domain.AuditEntry),
		bySeq:         make(map[uint64]*domain.AuditEntry),
	}
}

func (s *Store) AppendEntry(ctx context.Context, entry *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byInteraction[entry.InteractionID]; ok {
		return &domain.DuplicateInteractionError{InteractionID: entry.InteractionID, Seq: existing.Seq}
	}

	s.entries = append(s.entries, entry)
	s.byInteraction[entry.InteractionID] = entry
	s.bySeq[entry.Seq] = entry
	return nil
}

func (s *Store) LastEntry(ctx context.Context) (*domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return nil, nil
	}
	return s.entries[len(s.entries)-1], nil
}

func (s *Store) EntryBySeq(ctx context.Context, seq uint64) (*domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.bySeq[seq]
	if !ok {
		return nil, fmt.Errorf("audit entry seq %d: %w", seq, storage.ErrNotFound)
	}
	return entry, nil
}

func (s *Store) GetEntry(ctx context.Context, interactionID string) (*domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.byInteraction[interactionID]
	if !ok {
		return nil, fmt.Errorf("audit entry for %s: %w", interactionID, storage.ErrNotFound)
	}
	return entry, nil
}

func (s *Store) ScanEntries(ctx context.Context, fromSeq, toSeq uint64, fn func(*domain.AuditEntry) error) error {
	s.mu.RLock()
	snapshot := make([]*domain.AuditEntry, len(s.entries))
	copy(snapshot, s.entries)
	s.mu.RUnlock()

	for _, entry := range snapshot {
		if entry.Seq < fromSeq {
			continue
		}
		if toSeq > 0 && entry.Seq > toSeq {
			break
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.AuditEntry
	// Newest first
	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		if !entryMatches(entry, filter) {
			continue
		}
		matched = append(matched, entry)
	}

	start := filter.Offset
	if start >= len(matched) {
		return nil, nil
	}

	limit := filter.Limit
	if limit == 0 {
		limit = 100
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	return matched[start:end], nil
}

func entryMatches(entry *domain.AuditEntry, filter domain.AuditFilter) bool {
	if !filter.From.IsZero() && entry.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && entry.CreatedAt.After(filter.To) {
		return false
	}
	if filter.Action != "" && entry.Decision.Action != filter.Action {
		return false
	}
	if filter.Category != "" && entry.Decision.Category != filter.Category {
		return false
	}
	if filter.Model != "" && entry.Interaction.Model != filter.Model {
		return false
	}
	if filter.Anomaly && !entry.Cost.Anomaly {
		return false
	}
	return true
}

func (s *Store) CostSeries(ctx context.Context, from, to time.Time, limit int) ([]domain.CostPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var points []domain.CostPoint
	for _, entry := range s.entries {
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		points = append(points, domain.CostPoint{
			InteractionID: entry.InteractionID,
			Model:         entry.Interaction.Model,
			Amount:        entry.Cost.Amount,
			Anomaly:       entry.Cost.Anomaly,
			ZScore:        entry.Cost.ZScore,
			CreatedAt:     entry.CreatedAt,
		})
		if limit > 0 && len(points) >= limit {
			break
		}
	}
	return points, nil
}

func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		ByAction:   make(map[string]uint64),
		BySeverity: make(map[string]uint64),
	}

	var totalLatency time.Duration
	for _, entry := range s.entries {
		stats.TotalInteractions++
		if entry.Interaction.Failed() {
			stats.FailedInteractions++
		}
		stats.ByAction[string(entry.Decision.Action)]++
		stats.BySeverity[string(entry.Risk.Severity)]++
		stats.TotalCost += entry.Cost.Amount
		stats.TotalTokens += uint64(entry.Cost.TotalTokens)
		if entry.Cost.Anomaly {
			stats.AnomalyCount++
		}
		totalLatency += entry.Interaction.Latency
	}

	if stats.TotalInteractions > 0 {
		stats.AvgLatencyMs = float64(totalLatency.Nanoseconds()) /
			float64(stats.TotalInteractions) / float64(time.Millisecond)
	}

	return stats, nil
}

func (s *Store) SaveFeedback(ctx context.Context, rec *domain.FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.feedback = append(s.feedback, rec)
	return nil
}

func (s *Store) ListFeedback(ctx context.Context, limit, offset int) ([]*domain.FeedbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset >= len(s.feedback) {
		return nil, nil
	}

	end := len(s.feedback)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]*domain.FeedbackRecord, end-offset)
	copy(out, s.feedback[offset:end])
	return out, nil
}

func (s *Store) FeedbackForInteraction(ctx context.Context, interactionID string) ([]*domain.FeedbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.FeedbackRecord
	for _, rec := range s.feedback {
		if rec.InteractionID == interactionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) Close() error {
	return nil
}
