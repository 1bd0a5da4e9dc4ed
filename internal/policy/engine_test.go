package policy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/tjfontaine/llm-governor/internal/config"
	"github.com/tjfontaine/llm-governor/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicyConfig() config.PolicyConfig {
	return config.PolicyConfig{
		Rules:           config.DefaultRules(),
		BlockedMessage:  config.DefaultBlockedMessage,
		FallbackMessage: config.DefaultFallbackMessage,
		RewritePrefix:   config.DefaultRewritePrefix,
	}
}

func testInteraction() *domain.Interaction {
	return &domain.Interaction{
		ID:         "int_original",
		Provider:   "mock",
		Model:      "gpt-4",
		Prompt:     "Tell me about chemistry",
		Completion: "Chemistry is the study of matter.",
		Status:     domain.InteractionCompleted,
	}
}

func assessmentWith(aggregate float64) *domain.RiskAssessment {
	return &domain.RiskAssessment{
		InteractionID: "int_original",
		Aggregate:     aggregate,
		Severity:      domain.SeverityForScore(aggregate),
	}
}

type stubGateway struct {
	calls    int
	lastReq  *domain.Request
	response *domain.Interaction
	err      error
}

func (s *stubGateway) Send(_ context.Context, req *domain.Request) (*domain.Interaction, error) {
	s.calls++
	s.lastReq = req
	return s.response, s.err
}

type stubAssessor struct {
	aggregate float64
}

func (s *stubAssessor) Assess(_ context.Context, interaction *domain.Interaction) *domain.RiskAssessment {
	return &domain.RiskAssessment{
		InteractionID: interaction.ID,
		Aggregate:     s.aggregate,
		Severity:      domain.SeverityForScore(s.aggregate),
	}
}

func TestEvaluateLadder(t *testing.T) {
	engine := NewEngine(testPolicyConfig(), nil, nil, discardLogger())

	tests := []struct {
		name       string
		aggregate  float64
		wantAction domain.PolicyAction
		wantRule   string
		wantReason string
	}{
		{"critical blocks", 0.95, domain.ActionBlock, "critical-risk-block", "Blocked due to critical risk"},
		{"exactly at block threshold", 0.7, domain.ActionBlock, "critical-risk-block", "Blocked due to critical risk"},
		{"high falls back", 0.65, domain.ActionFallback, "high-risk-fallback", "Fallback triggered for high risk"},
		{"medium rewrites", 0.4, domain.ActionRewrite, "medium-risk-rewrite", "Prompt rewritten due to medium risk"},
		{"low allows by default", 0.1, domain.ActionAllow, DefaultRuleID, "No policy violations detected"},
		{"zero allows", 0, domain.ActionAllow, DefaultRuleID, "No policy violations detected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := engine.Evaluate(assessmentWith(tt.aggregate))

			if decision.Action != tt.wantAction {
				t.Errorf("action = %q, want %q", decision.Action, tt.wantAction)
			}
			if decision.RuleID != tt.wantRule {
				t.Errorf("rule = %q, want %q", decision.RuleID, tt.wantRule)
			}
			if decision.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", decision.Reason, tt.wantReason)
			}
			if decision.State != domain.EnforcementEvaluated {
				t.Errorf("state = %q, want evaluated", decision.State)
			}
			if decision.Score != tt.aggregate {
				t.Errorf("score = %v, want %v", decision.Score, tt.aggregate)
			}
		})
	}
}

// A block rule that matches must produce exactly a block, no matter what the
// other category scores look like.
func TestEvaluateBlockPrecedence(t *testing.T) {
	cfg := testPolicyConfig()
	cfg.Rules = []config.RuleConfig{
		{ID: "only-block", Category: "aggregate", Threshold: 0.7, Action: "block"},
	}
	engine := NewEngine(cfg, nil, nil, discardLogger())

	assessment := &domain.RiskAssessment{
		InteractionID: "int_original",
		Scores: domain.RiskScores{
			Injection:     0.72,
			Hallucination: 0.45,
			UnsafeContent: 0.3,
			DataLeakage:   0.1,
		},
		Aggregate: 0.72,
		Severity:  domain.SeverityCritical,
	}

	decision := engine.Evaluate(assessment)
	if decision.Action != domain.ActionBlock {
		t.Fatalf("action = %q, want block", decision.Action)
	}
	if decision.RuleID != "only-block" {
		t.Errorf("rule = %q, want only-block", decision.RuleID)
	}
	if decision.Threshold != 0.7 {
		t.Errorf("threshold = %v, want 0.7", decision.Threshold)
	}
}

// Two rules with the same threshold: the earlier one wins even when a later
// rule prescribes a more severe action.
func TestEvaluateTiesBrokenByOrder(t *testing.T) {
	cfg := testPolicyConfig()
	cfg.Rules = []config.RuleConfig{
		{ID: "soften-first", Category: "aggregate", Threshold: 0.5, Action: "fallback"},
		{ID: "block-second", Category: "aggregate", Threshold: 0.5, Action: "block"},
	}
	engine := NewEngine(cfg, nil, nil, discardLogger())

	decision := engine.Evaluate(assessmentWith(0.9))
	if decision.Action != domain.ActionFallback {
		t.Errorf("action = %q, want fallback (first rule in order)", decision.Action)
	}
	if decision.RuleID != "soften-first" {
		t.Errorf("rule = %q, want soften-first", decision.RuleID)
	}
}

func TestEvaluateCategoryRule(t *testing.T) {
	cfg := testPolicyConfig()
	cfg.Rules = []config.RuleConfig{
		{ID: "leak-block", Category: "data_leakage", Threshold: 0.5, Action: "block"},
		{ID: "risk-fallback", Category: "aggregate", Threshold: 0.6, Action: "fallback"},
	}
	engine := NewEngine(cfg, nil, nil, discardLogger())

	assessment := &domain.RiskAssessment{
		InteractionID: "int_original",
		Scores:        domain.RiskScores{DataLeakage: 0.8},
		Aggregate:     0.8,
		Severity:      domain.SeverityCritical,
	}

	decision := engine.Evaluate(assessment)
	if decision.Action != domain.ActionBlock {
		t.Fatalf("action = %q, want block", decision.Action)
	}
	if decision.Category != domain.CategoryDataLeakage {
		t.Errorf("category = %q, want data_leakage", decision.Category)
	}
	if decision.Score != 0.8 {
		t.Errorf("score = %v, want the category score 0.8", decision.Score)
	}
	if decision.Reason != "Blocked due to data_leakage risk" {
		t.Errorf("reason = %q", decision.Reason)
	}
}

func TestEnforceAllowPassesOriginal(t *testing.T) {
	engine := NewEngine(testPolicyConfig(), nil, nil, discardLogger())
	interaction := testInteraction()
	decision := engine.Evaluate(assessmentWith(0))

	rewrite, err := engine.Enforce(context.Background(), interaction, decision)
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if rewrite != nil {
		t.Errorf("rewrite interaction = %+v, want nil", rewrite)
	}
	if decision.State != domain.EnforcementEnforced {
		t.Errorf("state = %q, want enforced", decision.State)
	}
	if decision.ResponseSource != domain.SourceOriginal {
		t.Errorf("source = %q, want original", decision.ResponseSource)
	}
	if decision.FinalResponse != interaction.Completion {
		t.Errorf("final response = %q, want the original completion", decision.FinalResponse)
	}
}

func TestEnforceBlockSubstitutesRefusal(t *testing.T) {
	engine := NewEngine(testPolicyConfig(), nil, nil, discardLogger())
	interaction := testInteraction()
	decision := engine.Evaluate(assessmentWith(0.95))

	if _, err := engine.Enforce(context.Background(), interaction, decision); err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if decision.ResponseSource != domain.SourceRefusal {
		t.Errorf("source = %q, want refusal", decision.ResponseSource)
	}
	if decision.FinalResponse != config.DefaultBlockedMessage {
		t.Errorf("final response = %q, want the blocked message", decision.FinalResponse)
	}
	if strings.Contains(decision.FinalResponse, interaction.Completion) {
		t.Error("blocked response leaked the original completion")
	}
}

func TestEnforceFallbackSubstitutesSafeDefault(t *testing.T) {
	engine := NewEngine(testPolicyConfig(), nil, nil, discardLogger())
	decision := engine.Evaluate(assessmentWith(0.65))

	if _, err := engine.Enforce(context.Background(), testInteraction(), decision); err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if decision.ResponseSource != domain.SourceFallback {
		t.Errorf("source = %q, want fallback", decision.ResponseSource)
	}
	if decision.FinalResponse != config.DefaultFallbackMessage {
		t.Errorf("final response = %q, want the fallback message", decision.FinalResponse)
	}
}

func TestEnforceRewriteUsesSanitizedPrompt(t *testing.T) {
	gw := &stubGateway{response: &domain.Interaction{
		ID:         "int_rewrite",
		Provider:   "mock",
		Model:      "gpt-4",
		Completion: "A safer answer.",
		Status:     domain.InteractionCompleted,
	}}
	engine := NewEngine(testPolicyConfig(), gw, &stubAssessor{aggregate: 0.1}, discardLogger())
	interaction := testInteraction()
	decision := engine.Evaluate(assessmentWith(0.4))

	rewrite, err := engine.Enforce(context.Background(), interaction, decision)
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}

	if gw.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", gw.calls)
	}
	wantPrompt := config.DefaultRewritePrefix + interaction.Prompt
	if gw.lastReq.Prompt != wantPrompt {
		t.Errorf("rewrite prompt = %q, want %q", gw.lastReq.Prompt, wantPrompt)
	}
	if gw.lastReq.Model != interaction.Model {
		t.Errorf("rewrite model = %q, want %q", gw.lastReq.Model, interaction.Model)
	}

	if rewrite == nil || rewrite.ID != "int_rewrite" {
		t.Fatalf("rewrite interaction = %+v, want int_rewrite", rewrite)
	}
	if decision.Action != domain.ActionRewrite {
		t.Errorf("action = %q, want rewrite", decision.Action)
	}
	if decision.ResponseSource != domain.SourceRewritten {
		t.Errorf("source = %q, want rewritten", decision.ResponseSource)
	}
	if decision.FinalResponse != "A safer answer." {
		t.Errorf("final response = %q", decision.FinalResponse)
	}
	if decision.RewriteInteractionID != "int_rewrite" {
		t.Errorf("rewrite interaction id = %q", decision.RewriteInteractionID)
	}
	if decision.Downgraded {
		t.Error("decision marked downgraded on a successful rewrite")
	}
}

// A rewritten completion that still scores at or above the block threshold is
// downgraded to a block, with no second rewrite attempt.
func TestEnforceRewriteDowngradesToBlock(t *testing.T) {
	gw := &stubGateway{response: &domain.Interaction{
		ID:         "int_rewrite",
		Model:      "gpt-4",
		Completion: "Still a risky answer.",
		Status:     domain.InteractionCompleted,
	}}
	engine := NewEngine(testPolicyConfig(), gw, &stubAssessor{aggregate: 0.85}, discardLogger())
	decision := engine.Evaluate(assessmentWith(0.4))

	rewrite, err := engine.Enforce(context.Background(), testInteraction(), decision)
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}

	if gw.calls != 1 {
		t.Fatalf("gateway calls = %d, want exactly 1", gw.calls)
	}
	if decision.Action != domain.ActionBlock {
		t.Errorf("action = %q, want block", decision.Action)
	}
	if !decision.Downgraded {
		t.Error("decision not marked downgraded")
	}
	if decision.ResponseSource != domain.SourceRefusal {
		t.Errorf("source = %q, want refusal", decision.ResponseSource)
	}
	if decision.FinalResponse != config.DefaultBlockedMessage {
		t.Errorf("final response = %q, want the blocked message", decision.FinalResponse)
	}
	if !strings.Contains(decision.Reason, "downgraded to block") {
		t.Errorf("reason = %q, want downgrade noted", decision.Reason)
	}
	if rewrite == nil {
		t.Error("rewrite interaction not returned for accounting")
	}
}

func TestEnforceRewriteFailureDowngrades(t *testing.T) {
	gw := &stubGateway{
		response: &domain.Interaction{
			ID:     "int_rewrite",
			Model:  "gpt-4",
			Status: domain.InteractionFailed,
			Error:  domain.NewProviderError(domain.ProviderErrTimeout, "mock", "deadline exceeded"),
		},
		err: errors.New("mock: timeout: deadline exceeded"),
	}
	engine := NewEngine(testPolicyConfig(), gw, &stubAssessor{aggregate: 0}, discardLogger())
	decision := engine.Evaluate(assessmentWith(0.4))

	rewrite, err := engine.Enforce(context.Background(), testInteraction(), decision)
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}

	if gw.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", gw.calls)
	}
	if decision.Action != domain.ActionBlock || !decision.Downgraded {
		t.Errorf("decision = %q downgraded=%v, want downgraded block", decision.Action, decision.Downgraded)
	}
	// The failed call is still returned so the pipeline can account for it
	if rewrite == nil || rewrite.ID != "int_rewrite" {
		t.Errorf("rewrite interaction = %+v, want the failed call", rewrite)
	}
	if decision.RewriteInteractionID != "int_rewrite" {
		t.Errorf("rewrite interaction id = %q", decision.RewriteInteractionID)
	}
}

func TestEnforceRewriteWithoutGatewayDowngrades(t *testing.T) {
	engine := NewEngine(testPolicyConfig(), nil, nil, discardLogger())
	decision := engine.Evaluate(assessmentWith(0.4))

	rewrite, err := engine.Enforce(context.Background(), testInteraction(), decision)
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if rewrite != nil {
		t.Errorf("rewrite interaction = %+v, want nil", rewrite)
	}
	if decision.Action != domain.ActionBlock || !decision.Downgraded {
		t.Errorf("decision = %q downgraded=%v, want downgraded block", decision.Action, decision.Downgraded)
	}
}

// The downgrade threshold comes from the highest-priority block rule, not a
// hardcoded band.
func TestRewriteDowngradeUsesBlockRuleThreshold(t *testing.T) {
	cfg := testPolicyConfig()
	cfg.Rules = []config.RuleConfig{
		{ID: "medium-rewrite", Category: "aggregate", Threshold: 0.3, Action: "rewrite"},
		{ID: "late-block", Category: "aggregate", Threshold: 0.8, Action: "block"},
	}
	gw := &stubGateway{response: &domain.Interaction{
		ID:         "int_rewrite",
		Model:      "gpt-4",
		Completion: "Toned down but not clean.",
		Status:     domain.InteractionCompleted,
	}}
	// 0.75 clears the default critical band but not this ladder's block rule
	engine := NewEngine(cfg, gw, &stubAssessor{aggregate: 0.75}, discardLogger())
	decision := engine.Evaluate(assessmentWith(0.4))

	if _, err := engine.Enforce(context.Background(), testInteraction(), decision); err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if decision.Action != domain.ActionRewrite {
		t.Errorf("action = %q, want rewrite to stand below the 0.8 block threshold", decision.Action)
	}
	if decision.Downgraded {
		t.Error("decision downgraded below the configured block threshold")
	}
}

func TestEnforceStateMachine(t *testing.T) {
	engine := NewEngine(testPolicyConfig(), nil, nil, discardLogger())
	interaction := testInteraction()

	pending := &domain.PolicyDecision{
		InteractionID: interaction.ID,
		State:         domain.EnforcementPending,
	}
	if _, err := engine.Enforce(context.Background(), interaction, pending); err == nil {
		t.Error("Enforce() accepted a decision that was never evaluated")
	}

	decision := engine.Evaluate(assessmentWith(0))
	if _, err := engine.Enforce(context.Background(), interaction, decision); err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if _, err := engine.Enforce(context.Background(), interaction, decision); err == nil {
		t.Error("Enforce() accepted an already-enforced decision")
	}
}
