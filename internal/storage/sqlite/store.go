// Package sqlite persists the audit chain and feedback records in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/llm-governor/internal/domain"
	"github.com/tjfontaine/llm-governor/internal/storage"
)

// Store is the SQLite implementation of storage.Store. Audit rows carry the
// full entry JSON for hash verification plus denormalized columns for
// filtering and aggregate queries.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a new SQLite store.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS audit_entries (
			seq INTEGER PRIMARY KEY,
			interaction_id TEXT NOT NULL UNIQUE,
			correlation_id TEXT,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			status TEXT NOT NULL,
			action TEXT NOT NULL,
			rule_id TEXT NOT NULL,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			aggregate_risk REAL NOT NULL,
			amount REAL NOT NULL,
			anomaly INTEGER NOT NULL DEFAULT 0,
			z_score REAL NOT NULL DEFAULT 0,
			latency_ns INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			entry TEXT NOT NULL,
			prev_hash TEXT NOT NULL,
			hash TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			id TEXT PRIMARY KEY,
			interaction_id TEXT NOT NULL,
			rating INTEGER NOT NULL,
			label TEXT NOT NULL,
			comment TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_entries(action)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_category ON audit_entries(category)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_model ON audit_entries(model)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_entries(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_interaction ON feedback(interaction_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// AppendEntry persists a chain entry. The caller (the audit logger) holds the
// chain lock, so the duplicate pre-check and insert do not race; the UNIQUE
// constraint still backs this at the database level.
func (s *Store) AppendEntry(ctx context.Context, entry *domain.AuditEntry) error {
	var existing uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT seq FROM audit_entries WHERE interaction_id = ?`,
		entry.InteractionID).Scan(&existing)
	if err == nil {
		return &domain.DuplicateInteractionError{InteractionID: entry.InteractionID, Seq: existing}
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check for duplicate entry: %w", err)
	}

	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	query := `INSERT INTO audit_entries (
		seq, interaction_id, correlation_id, provider, model, status,
		action, rule_id, category, severity, aggregate_risk,
		amount, anomaly, z_score, latency_ns, total_tokens,
		entry, prev_hash, hash, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		entry.Seq, entry.InteractionID, entry.Interaction.CorrelationID,
		entry.Interaction.Provider, entry.Interaction.Model, entry.Interaction.Status,
		entry.Decision.Action, entry.Decision.RuleID, entry.Decision.Category,
		entry.Risk.Severity, entry.Risk.Aggregate,
		entry.Cost.Amount, boolToInt(entry.Cost.Anomaly), entry.Cost.ZScore,
		entry.Interaction.Latency, entry.Cost.TotalTokens,
		string(encoded), entry.PrevHash, entry.Hash, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

func (s *Store) LastEntry(ctx context.Context) (*domain.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT entry FROM audit_entries ORDER BY seq DESC LIMIT 1`)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chain tail: %w", err)
	}
	return entry, nil
}

func (s *Store) EntryBySeq(ctx context.Context, seq uint64) (*domain.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT entry FROM audit_entries WHERE seq = ?`, seq)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("audit entry seq %d: %w", seq, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return entry, nil
}

func (s *Store) GetEntry(ctx context.Context, interactionID string) (*domain.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT entry FROM audit_entries WHERE interaction_id = ?`, interactionID)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("audit entry for %s: %w", interactionID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return entry, nil
}

func (s *Store) ScanEntries(ctx context.Context, fromSeq, toSeq uint64, fn func(*domain.AuditEntry) error) error {
	query := `SELECT entry FROM audit_entries WHERE seq >= ?`
	args := []any{fromSeq}
	if toSeq > 0 {
		query += ` AND seq <= ?`
		args = append(args, toSeq)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to scan audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var encoded string
		if err := rows.Scan(&encoded); err != nil {
			return fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry, err := decodeEntry(encoded)
		if err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
	}

	return rows.Err()
}

func (s *Store) ListEntries(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEntry, error) {
	var conds []string
	var args []any

	if !filter.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, filter.To)
	}
	if filter.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.Model != "" {
		conds = append(conds, "model = ?")
		args = append(args, filter.Model)
	}
	if filter.Anomaly {
		conds = append(conds, "anomaly = 1")
	}

	query := `SELECT entry FROM audit_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY seq DESC LIMIT ? OFFSET ?`

	limit := filter.Limit
	if limit == 0 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var encoded string
		if err := rows.Scan(&encoded); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry, err := decodeEntry(encoded)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (s *Store) CostSeries(ctx context.Context, from, to time.Time, limit int) ([]domain.CostPoint, error) {
	var conds []string
	var args []any

	if !from.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, from)
	}
	if !to.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, to)
	}

	query := `SELECT interaction_id, model, amount, anomaly, z_score, created_at FROM audit_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY seq ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cost series: %w", err)
	}
	defer rows.Close()

	var points []domain.CostPoint
	for rows.Next() {
		var p domain.CostPoint
		var anomaly int
		if err := rows.Scan(&p.InteractionID, &p.Model, &p.Amount, &anomaly, &p.ZScore, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cost point: %w", err)
		}
		p.Anomaly = anomaly != 0
		points = append(points, p)
	}

	return points, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{
		ByAction:   make(map[string]uint64),
		BySeverity: make(map[string]uint64),
	}

	row := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(amount), 0),
		COALESCE(SUM(total_tokens), 0),
		COALESCE(SUM(anomaly), 0),
		COALESCE(AVG(latency_ns), 0)
	FROM audit_entries`)

	var avgLatencyNs float64
	if err := row.Scan(&stats.TotalInteractions, &stats.FailedInteractions,
		&stats.TotalCost, &stats.TotalTokens, &stats.AnomalyCount, &avgLatencyNs); err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	stats.AvgLatencyMs = avgLatencyNs / float64(time.Millisecond)

	rows, err := s.db.QueryContext(ctx, `SELECT action, COUNT(*) FROM audit_entries GROUP BY action`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate actions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var action string
		var count uint64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		stats.ByAction[action] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sevRows, err := s.db.QueryContext(ctx, `SELECT severity, COUNT(*) FROM audit_entries GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate severities: %w", err)
	}
	defer sevRows.Close()
	for sevRows.Next() {
		var severity string
		var count uint64
		if err := sevRows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan severity count: %w", err)
		}
		stats.BySeverity[severity] = count
	}

	return stats, sevRows.Err()
}

func (s *Store) SaveFeedback(ctx context.Context, rec *domain.FeedbackRecord) error {
	query := `INSERT INTO feedback (id, interaction_id, rating, label, comment, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.InteractionID, rec.Rating, string(rec.Label), rec.Comment, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}

	return nil
}

func (s *Store) ListFeedback(ctx context.Context, limit, offset int) ([]*domain.FeedbackRecord, error) {
	if limit == 0 {
		limit = -1 // sqlite: no limit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, interaction_id, rating, label, comment, created_at
		 FROM feedback ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	return scanFeedback(rows)
}

func (s *Store) FeedbackForInteraction(ctx context.Context, interactionID string) ([]*domain.FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, interaction_id, rating, label, comment, created_at
		 FROM feedback WHERE interaction_id = ? ORDER BY created_at ASC`,
		interactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	return scanFeedback(rows)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func scanFeedback(rows *sql.Rows) ([]*domain.FeedbackRecord, error) {
	var records []*domain.FeedbackRecord
	for rows.Next() {
		var rec domain.FeedbackRecord
		var comment sql.NullString
		if err := rows.Scan(&rec.ID, &rec.InteractionID, &rec.Rating, &rec.Label, &comment, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		rec.Comment = comment.String
		records = append(records, &rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.AuditEntry, error) {
	var encoded string
	if err := row.Scan(&encoded); err != nil {
		return nil, err
	}
	return decodeEntry(encoded)
}

func decodeEntry(encoded string) (*domain.AuditEntry, error) {
	var entry domain.AuditEntry
	if err := json.Unmarshal([]byte(encoded), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit entry: %w", err)
	}
	return &entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
