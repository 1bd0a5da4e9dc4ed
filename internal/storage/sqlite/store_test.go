package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/tjfontaine/llm-governor/internal/domain"
	"github.com/tjfontaine/llm-governor/internal/storage"
)

func testEntry(seq uint64, interactionID string) *domain.AuditEntry {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Minute)
	return &domain.AuditEntry{
		Seq:           seq,
		InteractionID: interactionID,
		Interaction: domain.Interaction{
			ID:            interactionID,
			CorrelationID: "corr-" + interactionID,
			Provider:      "openai",
			Model:         "gpt-4",
			ServedModel:   "gpt-4",
			Prompt:        "What is the capital of France?",
			Completion:    "Paris.",
			Usage:         domain.Usage{PromptTokens: 7, CompletionTokens: 2, TotalTokens: 9},
			Latency:       42 * time.Millisecond,
			Attempts:      1,
			Status:        domain.InteractionCompleted,
			CreatedAt:     now,
		},
		Risk: domain.RiskAssessment{
			InteractionID: interactionID,
			Aggregate:     0.1,
			Severity:      domain.SeveritySafe,
			Confidence:    0.5,
			CreatedAt:     now,
		},
		Decision: domain.PolicyDecision{
			InteractionID:  interactionID,
			State:          domain.EnforcementEnforced,
			Action:         domain.ActionAllow,
			RuleID:         "default_allow",
			Reason:         "No policy violations detected",
			ResponseSource: domain.SourceOriginal,
			CreatedAt:      now,
		},
		Cost: domain.CostRecord{
			InteractionID: interactionID,
			Model:         "gpt-4",
			Currency:      "USD",
			TotalTokens:   9,
			Amount:        0.00027,
			CreatedAt:     now,
		},
		PrevHash:  "prev-" + interactionID,
		Hash:      "hash-" + interactionID,
		CreatedAt: now,
	}
}

func TestSQLiteStore_AppendAndGetEntry(t *testing.T) {
	// Use in-memory SQLite with shared cache for testing
	store, err := New("file:memdb1?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	entry := testEntry(1, "int_aaa111")
	if err := store.AppendEntry(context.Background(), entry); err != nil {
		t.Fatalf("AppendEntry() error = %v", err)
	}

	retrieved, err := store.GetEntry(context.Background(), "int_aaa111")
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}

	if retrieved.Seq != 1 {
		t.Errorf("Seq = %d, want 1", retrieved.Seq)
	}
	if retrieved.Hash != entry.Hash {
		t.Errorf("Hash = %v, want %v", retrieved.Hash, entry.Hash)
	}
	if retrieved.Interaction.Completion != "Paris." {
		t.Errorf("Completion = %v, want Paris.", retrieved.Interaction.Completion)
	}
	if retrieved.Decision.Action != domain.ActionAllow {
		t.Errorf("Action = %v, want %v", retrieved.Decision.Action, domain.ActionAllow)
	}
}

func TestSQLiteStore_AppendDuplicate(t *testing.T) {
	store, err := New("file:memdb2?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	if err := store.AppendEntry(context.Background(), testEntry(1, "int_dup")); err != nil {
		t.Fatalf("AppendEntry() error = %v", err)
	}

	err = store.AppendEntry(context.Background(), testEntry(2, "int_dup"))
	if err == nil {
		t.Fatal("AppendEntry() expected error for duplicate interaction ID")
	}

	var dup *domain.DuplicateInteractionError
	if !errors.As(err, &dup) {
		t.Fatalf("AppendEntry() error = %T, want *domain.DuplicateInteractionError", err)
	}
	if dup.Seq != 1 {
		t.Errorf("duplicate Seq = %d, want 1", dup.Seq)
	}
}

func TestSQLiteStore_LastEntry(t *testing.T) {
	store, err := New("file:memdb3?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	last, err := store.LastEntry(context.Background())
	if err != nil {
		t.Fatalf("LastEntry() error = %v", err)
	}
	if last != nil {
		t.Fatalf("LastEntry() = %+v, want nil for empty chain", last)
	}

	for seq := uint64(1); seq <= 3; seq++ {
		if err := store.AppendEntry(context.Background(), testEntry(seq, fmt.Sprintf("int_%d", seq))); err != nil {
			t.Fatalf("AppendEntry() error = %v", err)
		}
	}

	last, err = store.LastEntry(context.Background())
	if err != nil {
		t.Fatalf("LastEntry() error = %v", err)
	}
	if last.Seq != 3 {
		t.Errorf("LastEntry() Seq = %d, want 3", last.Seq)
	}
}

func TestSQLiteStore_ScanEntries(t *testing.T) {
	store, err := New("file:memdb4?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	for seq := uint64(1); seq <= 5; seq++ {
		if err := store.AppendEntry(context.Background(), testEntry(seq, fmt.Sprintf("int_%d", seq))); err != nil {
			t.Fatalf("AppendEntry() error = %v", err)
		}
	}

	var seqs []uint64
	err = store.ScanEntries(context.Background(), 2, 4, func(e *domain.AuditEntry) error {
		seqs = append(seqs, e.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanEntries() error = %v", err)
	}

	if len(seqs) != 3 {
		t.Fatalf("ScanEntries() count = %d, want 3", len(seqs))
	}
	for i, seq := range seqs {
		if want := uint64(i + 2); seq != want {
			t.Errorf("seqs[%d] = %d, want %d", i, seq, want)
		}
	}

	// Zero toSeq scans to the tail
	var all []uint64
	err = store.ScanEntries(context.Background(), 1, 0, func(e *domain.AuditEntry) error {
		all = append(all, e.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanEntries() error = %v", err)
	}
	if len(all) != 5 {
		t.Errorf("ScanEntries() count = %d, want 5", len(all))
	}
}

func TestSQLiteStore_ScanEntriesCallbackStops(t *testing.T) {
	store, err := New("file:memdb5?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	for seq := uint64(1); seq <= 3; seq++ {
		if err := store.AppendEntry(context.Background(), testEntry(seq, fmt.Sprintf("int_%d", seq))); err != nil {
			t.Fatalf("AppendEntry() error = %v", err)
		}
	}

	stop := errors.New("stop")
	count := 0
	err = store.ScanEntries(context.Background(), 1, 0, func(e *domain.AuditEntry) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("ScanEntries() error = %v, want stop", err)
	}
	if count != 2 {
		t.Errorf("callback count = %d, want 2", count)
	}
}

func TestSQLiteStore_ListEntriesFilter(t *testing.T) {
	store, err := New("file:memdb6?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	blocked := testEntry(1, "int_blocked")
	blocked.Decision.Action = domain.ActionBlock
	blocked.Decision.RuleID = "critical_risk_block"
	if err := store.AppendEntry(context.Background(), blocked); err != nil {
		t.Fatalf("AppendEntry() error = %v", err)
	}

	anomalous := testEntry(2, "int_anomaly")
	anomalous.Cost.Anomaly = true
	anomalous.Cost.ZScore = 4.2
	if err := store.AppendEntry(context.Background(), anomalous); err != nil {
		t.Fatalf("AppendEntry() error = %v", err)
	}

	if err := store.AppendEntry(context.Background(), testEntry(3, "int_plain")); err != nil {
		t.Fatalf("AppendEntry() error = %v", err)
	}

	entries, err := store.ListEntries(context.Background(), domain.AuditFilter{Action: domain.ActionBlock})
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if len(entries) != 1 || entries[0].InteractionID != "int_blocked" {
		t.Errorf("ListEntries(action=block) = %d entries, want int_blocked only", len(entries))
	}

	entries, err = store.ListEntries(context.Background(), domain.AuditFilter{Anomaly: true})
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if len(entries) != 1 || entries[0].InteractionID != "int_anomaly" {
		t.Errorf("ListEntries(anomaly) = %d entries, want int_anomaly only", len(entries))
	}

	// Unfiltered listing is newest first
	entries, err = store.ListEntries(context.Background(), domain.AuditFilter{})
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("ListEntries() count = %d, want 3", len(entries))
	}
	if entries[0].Seq != 3 || entries[2].Seq != 1 {
		t.Errorf("ListEntries() order = [%d %d %d], want newest first", entries[0].Seq, entries[1].Seq, entries[2].Seq)
	}

	entries, err = store.ListEntries(context.Background(), domain.AuditFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Seq != 2 {
		t.Errorf("ListEntries(limit=2 offset=1) = %d entries starting at seq %d, want 2 starting at 2", len(entries), entries[0].Seq)
	}
}

func TestSQLiteStore_CostSeries(t *testing.T) {
	store, err := New("file:memdb7?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	for seq := uint64(1); seq <= 4; seq++ {
		entry := testEntry(seq, fmt.Sprintf("int_%d", seq))
		entry.Cost.Amount = float64(seq) * 0.01
		if err := store.AppendEntry(context.Background(), entry); err != nil {
			t.Fatalf("AppendEntry() error = %v", err)
		}
	}

	points, err := store.CostSeries(context.Background(), time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("CostSeries() error = %v", err)
	}
	if len(points) != 4 {
		t.Fatalf("CostSeries() count = %d, want 4", len(points))
	}
	if points[0].Amount != 0.01 || points[3].Amount != 0.04 {
		t.Errorf("CostSeries() amounts = [%v ... %v], want ascending 0.01..0.04", points[0].Amount, points[3].Amount)
	}

	points, err = store.CostSeries(context.Background(), time.Time{}, time.Time{}, 2)
	if err != nil {
		t.Fatalf("CostSeries() error = %v", err)
	}
	if len(points) != 2 {
		t.Errorf("CostSeries(limit=2) count = %d, want 2", len(points))
	}
}

func TestSQLiteStore_Stats(t *testing.T) {
	store, err := New("file:memdb8?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	allow := testEntry(1, "int_allow")
	if err := store.AppendEntry(context.Background(), allow); err != nil {
		t.Fatalf("AppendEntry() error = %v", err)
	}

	block := testEntry(2, "int_block")
	block.Decision.Action = domain.ActionBlock
	block.Risk.Severity = domain.SeverityCritical
	block.Cost.Anomaly = true
	if err := store.AppendEntry(context.Background(), block); err != nil {
		t.Fatalf("AppendEntry() error = %v", err)
	}

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	if stats.TotalInteractions != 2 {
		t.Errorf("TotalInteractions = %d, want 2", stats.TotalInteractions)
	}
	if stats.ByAction["allow"] != 1 || stats.ByAction["block"] != 1 {
		t.Errorf("ByAction = %v, want allow:1 block:1", stats.ByAction)
	}
	if stats.BySeverity["critical"] != 1 {
		t.Errorf("BySeverity = %v, want critical:1", stats.BySeverity)
	}
	if stats.AnomalyCount != 1 {
		t.Errorf("AnomalyCount = %d, want 1", stats.AnomalyCount)
	}
	if stats.TotalTokens != 18 {
		t.Errorf("TotalTokens = %d, want 18", stats.TotalTokens)
	}
}

func TestSQLiteStore_Feedback(t *testing.T) {
	store, err := New("file:memdb9?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := &domain.FeedbackRecord{
			ID:            fmt.Sprintf("fb_%d", i),
			InteractionID: "int_shared",
			Rating:        i + 2,
			Label:         domain.LabelForRating(i + 2),
			Comment:       "comment",
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}
		if err := store.SaveFeedback(context.Background(), rec); err != nil {
			t.Fatalf("SaveFeedback() error = %v", err)
		}
	}

	records, err := store.ListFeedback(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("ListFeedback() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("ListFeedback() count = %d, want 3", len(records))
	}
	if records[0].ID != "fb_0" || records[2].ID != "fb_2" {
		t.Errorf("ListFeedback() order = [%s ... %s], want submission order", records[0].ID, records[2].ID)
	}

	records, err = store.ListFeedback(context.Background(), 2, 1)
	if err != nil {
		t.Fatalf("ListFeedback() error = %v", err)
	}
	if len(records) != 2 || records[0].ID != "fb_1" {
		t.Errorf("ListFeedback(limit=2 offset=1) = %d records starting at %s, want 2 starting at fb_1", len(records), records[0].ID)
	}

	forInt, err := store.FeedbackForInteraction(context.Background(), "int_shared")
	if err != nil {
		t.Fatalf("FeedbackForInteraction() error = %v", err)
	}
	if len(forInt) != 3 {
		t.Errorf("FeedbackForInteraction() count = %d, want 3", len(forInt))
	}
}

func TestSQLiteStore_NotFound(t *testing.T) {
	store, err := New("file:memdb10?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	_, err = store.GetEntry(context.Background(), "int_missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetEntry() error = %v, want ErrNotFound", err)
	}

	_, err = store.EntryBySeq(context.Background(), 99)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("EntryBySeq() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_Persistence(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "governor-*.db")
	if err != nil {
		t.Fatalf("CreateTemp() error = %v", err)
	}
	defer os.Remove(tmpfile.Name())
	tmpfile.Close()

	store, err := New(tmpfile.Name())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := store.AppendEntry(context.Background(), testEntry(1, "int_persist")); err != nil {
		t.Fatalf("AppendEntry() error = %v", err)
	}
	store.Close()

	// Reopen and verify data persisted
	store2, err := New(tmpfile.Name())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store2.Close()

	last, err := store2.LastEntry(context.Background())
	if err != nil {
		t.Fatalf("LastEntry() error = %v", err)
	}
	if last == nil || last.InteractionID != "int_persist" {
		t.Errorf("LastEntry() = %+v, want int_persist", last)
	}
}
