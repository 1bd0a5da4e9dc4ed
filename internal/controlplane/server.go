// Package controlplane serves the read side of the governor: the query API
// that dashboards and compliance tooling consume. Everything here reads from
// the audit trail and the live engines; POST /feedback is the single mutating
// route.
package controlplane

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/llm-governor/internal/audit"
	"github.com/tjfontaine/llm-governor/internal/config"
	"github.com/tjfontaine/llm-governor/internal/cost"
	"github.com/tjfontaine/llm-governor/internal/domain"
	"github.com/tjfontaine/llm-governor/internal/feedback"
	"github.com/tjfontaine/llm-governor/internal/storage"
)

// Deps wires the server to the stores and engines it reports on.
type Deps struct {
	Store    storage.Store
	Feedback *feedback.Engine
	Cost     *cost.Monitor
	Audit    *audit.Logger

	// Rules returns the current policy rules, so recommendations always
	// reflect the live (possibly hot-reloaded) configuration
	Rules func() []config.RuleConfig

	Logger *slog.Logger
}

// Server is mounted under /api on the shared listener.
type Server struct {
	router    *chi.Mux
	deps      Deps
	startTime time.Time
}

// NewServer builds the control plane router.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		startTime: time.Now(),
	}
	s.routes()
	return s
}

// Paths are relative to the mount point; the outer router carries the shared
// middleware chain.
func (s *Server) routes() {
	s.router.Get("/interactions", s.handleListInteractions)
	s.router.Get("/interactions/{id}", s.handleGetInteraction)
	s.router.Get("/costs/series", s.handleCostSeries)
	s.router.Get("/drift", s.handleDrift)
	s.router.Get("/stats", s.handleStats)
	s.router.Get("/audit/verify", s.handleVerify)
	s.router.Get("/audit/report", s.handleReport)
	s.router.Get("/recommendations", s.handleRecommendations)
	s.router.Post("/feedback", s.handleSubmitFeedback)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// InteractionSummary is one row of the interaction listing.
type InteractionSummary struct {
	InteractionID string    `json:"interaction_id"`
	Seq           uint64    `json:"seq"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Status        string    `json:"status"`
	Action        string    `json:"action"`
	RuleID        string    `json:"rule_id"`
	Aggregate     float64   `json:"aggregate"`
	Severity      string    `json:"severity"`
	Cost          float64   `json:"cost"`
	Anomaly       bool      `json:"anomaly,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	entries, err := s.deps.Store.ListEntries(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	summaries := make([]InteractionSummary, 0, len(entries))
	for _, entry := range entries {
		summaries = append(summaries, InteractionSummary{
			InteractionID: entry.InteractionID,
			Seq:           entry.Seq,
			Provider:      entry.Interaction.Provider,
			Model:         entry.Interaction.Model,
			Status:        string(entry.Interaction.Status),
			Action:        string(entry.Decision.Action),
			RuleID:        entry.Decision.RuleID,
			Aggregate:     entry.Risk.Aggregate,
			Severity:      string(entry.Risk.Severity),
			Cost:          entry.Cost.Amount,
			Anomaly:       entry.Cost.Anomaly,
			CreatedAt:     entry.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"interactions": summaries,
		"count":        len(summaries),
	})
}

// InteractionDetail is the full audited tuple plus any feedback on it.
type InteractionDetail struct {
	domain.InteractionBundle
	Feedback []*domain.FeedbackRecord `json:"feedback"`
}

func (s *Server) handleGetInteraction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, err := s.deps.Store.GetEntry(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no audited interaction "+id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	fb, err := s.deps.Store.FeedbackForInteraction(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	if fb == nil {
		fb = []*domain.FeedbackRecord{}
	}

	writeJSON(w, http.StatusOK, InteractionDetail{
		InteractionBundle: domain.InteractionBundle{
			Interaction: entry.Interaction,
			Risk:        entry.Risk,
			Decision:    entry.Decision,
			Cost:        entry.Cost,
			Seq:         entry.Seq,
		},
		Feedback: fb,
	})
}

func (s *Server) handleCostSeries(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	limit, err := parseIntParam(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	points, err := s.deps.Store.CostSeries(r.Context(), from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	if points == nil {
		points = []domain.CostPoint{}
	}

	anomalies := 0
	for _, p := range points {
		if p.Anomaly {
			anomalies++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"series":    points,
		"count":     len(points),
		"anomalies": anomalies,
	})
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Feedback.DriftReport(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "drift_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// StatsResponse aggregates the governed history for the health view.
type StatsResponse struct {
	Uptime       string           `json:"uptime"`
	Interactions *storage.Stats   `json:"interactions"`
	CostWindow   cost.WindowStats `json:"cost_window"`
	Audit        AuditStatus      `json:"audit"`
}

// AuditStatus reports the chain head and the configured write mode.
type AuditStatus struct {
	Entries uint64 `json:"entries"`
	Mode    string `json:"mode"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	mode := config.AuditBestEffort
	if s.deps.Audit.Strict() {
		mode = config.AuditStrict
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Uptime:       time.Since(s.startTime).String(),
		Interactions: stats,
		CostWindow:   s.deps.Cost.Stats(),
		Audit: AuditStatus{
			Entries: s.deps.Audit.Seq(),
			Mode:    mode,
		},
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	fromSeq, err := parseUintParam(r, "from_seq")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	toSeq, err := parseUintParam(r, "to_seq")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := audit.Verify(r.Context(), s.deps.Store, fromSeq, toSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "verify_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	report, err := audit.ExportReport(r.Context(), s.deps.Store, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "report_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := s.deps.Feedback.Recommendations(r.Context(), s.deps.Rules())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "recommendation_error", err.Error())
		return
	}
	if recs == nil {
		recs = []domain.ThresholdRecommendation{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recommendations": recs,
		"count":           len(recs),
	})
}

func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InteractionID string `json:"interaction_id"`
		Rating        int    `json:"rating"`
		Comment       string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body: "+err.Error())
		return
	}

	rec := &domain.FeedbackRecord{
		InteractionID: req.InteractionID,
		Rating:        req.Rating,
		Comment:       req.Comment,
	}
	if err := s.deps.Feedback.Submit(r.Context(), rec); err != nil {
		if errors.Is(err, feedback.ErrInvalidRating) || errors.Is(err, feedback.ErrMissingInteraction) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "feedback_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

func filterFromQuery(r *http.Request) (domain.AuditFilter, error) {
	var filter domain.AuditFilter
	var err error

	if filter.From, err = parseTimeParam(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = parseTimeParam(r, "to"); err != nil {
		return filter, err
	}
	if filter.Limit, err = parseIntParam(r, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = parseIntParam(r, "offset"); err != nil {
		return filter, err
	}

	q := r.URL.Query()
	filter.Action = domain.PolicyAction(q.Get("action"))
	filter.Category = domain.RiskCategory(q.Get("category"))
	filter.Model = q.Get("model")
	filter.Anomaly = q.Get("anomaly") == "true"

	return filter, nil
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339", name)
	}
	return t, nil
}

func parseIntParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func parseUintParam(r *http.Request, name string) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"type":    errType,
			"message": message,
		},
	})
}
