// Package frontdoor serves the governed data plane: the completion endpoint
// applications call instead of reaching the provider directly. Every request
// is run through the full governance pipeline, and the enforcement decision
// is part of the response body, not the status code. A blocked completion is
// still HTTP 200; the caller reads action and response_source to see what
// happened.
package frontdoor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/llm-governor/internal/domain"
	"github.com/tjfontaine/llm-governor/internal/pipeline"
	"github.com/tjfontaine/llm-governor/internal/server"
)

// Processor runs one request through the governance pipeline.
type Processor interface {
	Process(ctx context.Context, req *domain.Request) (*pipeline.Result, error)
}

// Handler serves POST /v1/completions.
type Handler struct {
	pipeline Processor
	logger   *slog.Logger
}

// NewHandler creates the data plane handler.
func NewHandler(p Processor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{pipeline: p, logger: logger}
}

// Mount registers the data plane routes on the router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/v1/completions", h.HandleCompletion)
}

// CompletionResponse is the caller-visible result of one governed call.
type CompletionResponse struct {
	InteractionID string `json:"interaction_id"`
	Model         string `json:"model"`

	// Response is the final text after enforcement. For block and fallback
	// it is the configured synthetic message, for rewrite the re-invoked
	// completion.
	Response string `json:"response"`

	Action         string `json:"action"`
	Blocked        bool   `json:"blocked"`
	ResponseSource string `json:"response_source"`
	RuleID         string `json:"rule_id"`
	Reason         string `json:"reason,omitempty"`

	Risk RiskSummary `json:"risk"`
	Cost CostSummary `json:"cost"`

	LatencyMS int64 `json:"latency_ms"`

	// DegradedAudit warns that this interaction has no persisted audit
	// entry (best-effort mode only)
	DegradedAudit bool `json:"degraded_audit,omitempty"`
}

// RiskSummary is the risk slice of a completion response.
type RiskSummary struct {
	Aggregate  float64           `json:"aggregate"`
	Severity   string            `json:"severity"`
	Scores     domain.RiskScores `json:"scores"`
	Confidence float64           `json:"confidence"`
	NotScored  []string          `json:"not_scored,omitempty"`
}

// CostSummary is the cost slice of a completion response.
type CostSummary struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	TotalTokens int     `json:"total_tokens"`
	Estimated   bool    `json:"estimated,omitempty"`
	Anomaly     bool    `json:"anomaly,omitempty"`
}

// HandleCompletion handles POST /v1/completions.
func (h *Handler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	var req domain.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body: "+err.Error())
		return
	}

	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "model is required")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
		return
	}

	result, err := h.pipeline.Process(r.Context(), &req)
	if err != nil {
		server.AddError(r.Context(), err)
		var auditErr *domain.AuditWriteError
		if errors.As(err, &auditErr) {
			writeError(w, http.StatusServiceUnavailable, "audit_unavailable", "audit trail write failed, request not served")
			return
		}
		writeError(w, http.StatusInternalServerError, "governance_error", err.Error())
		return
	}

	server.AddLogField(r.Context(), "interaction_id", result.Interaction.ID)
	server.AddLogField(r.Context(), "action", string(result.Decision.Action))

	// A provider failure that policy left alone has nothing to serve. When
	// policy substituted a synthetic response the failure is governed data
	// and the decision goes out as usual.
	if result.Interaction.Failed() && result.Decision.ResponseSource == domain.SourceOriginal {
		h.writeProviderFailure(w, result)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(result))
}

// writeProviderFailure reports an upstream failure the policy did not paper
// over. The interaction ID still goes out so the caller can find the audited
// record.
func (h *Handler) writeProviderFailure(w http.ResponseWriter, result *pipeline.Result) {
	status := http.StatusBadGateway
	message := "provider call failed"

	if perr := result.Interaction.Error; perr != nil {
		message = perr.Message
		switch perr.Kind {
		case domain.ProviderErrRateLimit:
			status = http.StatusTooManyRequests
		case domain.ProviderErrTimeout:
			status = http.StatusGatewayTimeout
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"type":    "provider_error",
			"message": message,
		},
		"interaction_id": result.Interaction.ID,
	})
}

func toResponse(result *pipeline.Result) CompletionResponse {
	inter := result.Interaction
	resp := CompletionResponse{
		InteractionID:  inter.ID,
		Model:          inter.Model,
		Response:       result.Decision.FinalResponse,
		Action:         string(result.Decision.Action),
		Blocked:        result.Decision.Blocked(),
		ResponseSource: string(result.Decision.ResponseSource),
		RuleID:         result.Decision.RuleID,
		Reason:         result.Decision.Reason,
		LatencyMS:      inter.Latency.Milliseconds(),
		DegradedAudit:  result.DegradedAudit,
	}

	if result.Risk != nil {
		resp.Risk = RiskSummary{
			Aggregate:  result.Risk.Aggregate,
			Severity:   string(result.Risk.Severity),
			Scores:     result.Risk.Scores,
			Confidence: result.Risk.Confidence,
			NotScored:  result.Risk.Unavailable,
		}
	}
	if result.Cost != nil {
		resp.Cost = CostSummary{
			Amount:      result.Cost.Amount,
			Currency:    result.Cost.Currency,
			TotalTokens: result.Cost.TotalTokens,
			Estimated:   result.Cost.Estimated,
			Anomaly:     result.Cost.Anomaly,
		}
	}
	return resp
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
