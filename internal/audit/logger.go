// Package audit maintains the append-only, hash-chained audit trail. Every
// governed interaction produces exactly one entry; the chain makes any
// after-the-fact modification detectable.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tjfontaine/llm-governor/internal/config"
	"github.com/tjfontaine/llm-governor/internal/domain"
	"github.com/tjfontaine/llm-governor/internal/storage"
)

const genesisInput = "llm-governor-genesis"

// Logger appends entries to the audit chain. A single mutex serializes
// appends, so the chain order is the order in which appends complete.
type Logger struct {
	mu       sync.Mutex
	store    storage.AuditStore
	logger   *slog.Logger
	mode     string
	attempts int
	backoff  time.Duration
	seq      uint64
	prevHash string
}

// NewLogger creates a chain logger on top of the given store, resuming the
// hash chain from the last persisted entry.
func NewLogger(ctx context.Context, store storage.AuditStore, cfg config.AuditConfig, logger *slog.Logger) (*Logger, error) {
	l := &Logger{
		store:    store,
		logger:   logger,
		mode:     cfg.Mode,
		attempts: cfg.RetryAttempts,
		backoff:  cfg.RetryBackoff,
		prevHash: genesisHash(),
	}
	if l.attempts < 1 {
		l.attempts = 1
	}

	last, err := store.LastEntry(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load chain tail: %w", err)
	}
	if last != nil {
		l.seq = last.Seq
		l.prevHash = last.Hash
	}

	return l, nil
}

// Strict reports whether a failed append must fail the whole interaction.
func (l *Logger) Strict() bool {
	return l.mode != config.AuditBestEffort
}

// Append records one completed interaction on the chain. On persistence
// failure the in-memory chain state is left untouched, so the next append
// reuses the sequence number and the chain stays gap-free.
func (l *Logger) Append(ctx context.Context, interaction *domain.Interaction, risk *domain.RiskAssessment, decision *domain.PolicyDecision, cost *domain.CostRecord) (*domain.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := &domain.AuditEntry{
		Seq:           l.seq + 1,
		InteractionID: interaction.ID,
		Interaction:   *interaction,
		Risk:          *risk,
		Decision:      *decision,
		Cost:          *cost,
		PrevHash:      l.prevHash,
		CreatedAt:     time.Now().UTC(),
	}
	entry.Hash = computeHash(entry)

	if err := l.persist(ctx, entry); err != nil {
		return nil, err
	}

	l.seq = entry.Seq
	l.prevHash = entry.Hash
	return entry, nil
}

func (l *Logger) persist(ctx context.Context, entry *domain.AuditEntry) error {
	backoff := l.backoff
	var err error
	for attempt := 1; attempt <= l.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return &domain.AuditWriteError{InteractionID: entry.InteractionID, Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		err = l.store.AppendEntry(ctx, entry)
		if err == nil {
			return nil
		}

		// A duplicate interaction ID is permanent, not transient.
		var dup *domain.DuplicateInteractionError
		if errors.As(err, &dup) {
			return err
		}

		l.logger.Warn("audit append failed",
			"interaction_id", entry.InteractionID,
			"seq", entry.Seq,
			"attempt", attempt,
			"error", err)
	}

	return &domain.AuditWriteError{InteractionID: entry.InteractionID, Err: err}
}

// Seq returns the sequence number of the most recently appended entry.
func (l *Logger) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

func genesisHash() string {
	h := sha256.Sum256([]byte(genesisInput))
	return fmt.Sprintf("%x", h)
}

func computeHash(e *domain.AuditEntry) string {
	clone := *e
	clone.Hash = "" // hash is computed with this field empty
	data, _ := json.Marshal(clone)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}
