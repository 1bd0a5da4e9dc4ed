// Package policy maps risk assessments onto enforcement actions.
//
// Rules are an ordered list; the first rule whose target score meets its
// threshold decides the action, so rule order is itself policy. Enforcement
// substitutes synthetic responses for block and fallback, and re-invokes the
// gateway at most once for rewrite.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/llm-governor/internal/config"
	"github.com/tjfontaine/llm-governor/internal/domain"
)

// DefaultRuleID marks decisions where no configured rule matched.
const DefaultRuleID = "default-allow"

// defaultBlockThreshold is the downgrade threshold when the rule ladder has
// no block rule at all.
const defaultBlockThreshold = 0.7

// Invoker is the gateway surface the rewrite action needs. The pipeline wires
// the real gateway; tests substitute a stub.
type Invoker interface {
	Send(ctx context.Context, req *domain.Request) (*domain.Interaction, error)
}

// Assessor re-scores a rewritten completion so enforcement can tell whether
// the rewrite actually reduced the risk.
type Assessor interface {
	Assess(ctx context.Context, interaction *domain.Interaction) *domain.RiskAssessment
}

// Rule is one compiled enforcement rule.
type Rule struct {
	ID        string
	Category  domain.RiskCategory
	Threshold float64
	Action    domain.PolicyAction
}

// Engine evaluates the ordered rule list and applies the chosen action. Rule
// evaluation is stateless per call; one Engine serves concurrent interactions
// without locking.
type Engine struct {
	rules           []Rule
	blockedMessage  string
	fallbackMessage string
	rewritePrefix   string

	// blockThreshold is the highest-priority block rule's threshold. A
	// rewrite whose reassessed aggregate still reaches it is downgraded
	// to a block.
	blockThreshold float64

	gateway  Invoker
	assessor Assessor
	logger   *slog.Logger
}

// NewEngine compiles the configured rules. The config package has already
// validated them, so compilation is a straight translation. Gateway and
// assessor may be nil when the deployment has no rewrite rule; a rewrite
// decision without them downgrades to a block.
func NewEngine(cfg config.PolicyConfig, gateway Invoker, assessor Assessor, logger *slog.Logger) *Engine {
	rules := make([]Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, Rule{
			ID:        r.ID,
			Category:  domain.RiskCategory(r.Category),
			Threshold: r.Threshold,
			Action:    domain.PolicyAction(r.Action),
		})
	}

	blockThreshold := defaultBlockThreshold
	for _, r := range rules {
		if r.Action == domain.ActionBlock {
			blockThreshold = r.Threshold
			break
		}
	}

	return &Engine{
		rules:           rules,
		blockedMessage:  cfg.BlockedMessage,
		fallbackMessage: cfg.FallbackMessage,
		rewritePrefix:   cfg.RewritePrefix,
		blockThreshold:  blockThreshold,
		gateway:         gateway,
		assessor:        assessor,
		logger:          logger,
	}
}

// Rules returns the compiled rule ladder in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate walks the rules in order and returns the first match as an
// evaluated decision. Ties between rules are broken by position in the list,
// never by score magnitude. No matching rule means allow.
func (e *Engine) Evaluate(assessment *domain.RiskAssessment) *domain.PolicyDecision {
	now := time.Now().UTC()

	for _, rule := range e.rules {
		score := scoreFor(rule.Category, assessment)
		if score < rule.Threshold {
			continue
		}
		return &domain.PolicyDecision{
			InteractionID: assessment.InteractionID,
			State:         domain.EnforcementEvaluated,
			Action:        rule.Action,
			RuleID:        rule.ID,
			Category:      rule.Category,
			Threshold:     rule.Threshold,
			Score:         score,
			Reason:        reasonFor(rule.Action, riskLabel(rule.Category, assessment)),
			CreatedAt:     now,
		}
	}

	return &domain.PolicyDecision{
		InteractionID: assessment.InteractionID,
		State:         domain.EnforcementEvaluated,
		Action:        domain.ActionAllow,
		RuleID:        DefaultRuleID,
		Category:      domain.CategoryAggregate,
		Score:         assessment.Aggregate,
		Reason:        "No policy violations detected",
		CreatedAt:     now,
	}
}

// Enforce applies the evaluated decision's action and moves it to enforced.
// For rewrite it re-invokes the gateway exactly once with the sanitization
// prefix and re-assesses the result; a rewrite that fails, or whose
// reassessed aggregate still reaches the block threshold, is downgraded to a
// block. The returned interaction is the rewrite call when one was made, nil
// otherwise.
func (e *Engine) Enforce(ctx context.Context, interaction *domain.Interaction, decision *domain.PolicyDecision) (*domain.Interaction, error) {
	if decision.State != domain.EnforcementEvaluated {
		return nil, fmt.Errorf("cannot enforce decision in state %q", decision.State)
	}
	decision.State = domain.EnforcementEnforced

	switch decision.Action {
	case domain.ActionAllow:
		decision.ResponseSource = domain.SourceOriginal
		decision.FinalResponse = interaction.Completion
		return nil, nil

	case domain.ActionBlock:
		decision.ResponseSource = domain.SourceRefusal
		decision.FinalResponse = e.blockedMessage
		return nil, nil

	case domain.ActionFallback:
		decision.ResponseSource = domain.SourceFallback
		decision.FinalResponse = e.fallbackMessage
		return nil, nil

	case domain.ActionRewrite:
		return e.rewrite(ctx, interaction, decision)
	}

	return nil, fmt.Errorf("unknown policy action %q", decision.Action)
}

// rewrite re-issues the provider call with the sanitization prefix prepended
// to the original prompt. There is no second retry: either the rewritten
// completion scores below the block threshold or the decision becomes a
// block.
func (e *Engine) rewrite(ctx context.Context, interaction *domain.Interaction, decision *domain.PolicyDecision) (*domain.Interaction, error) {
	if e.gateway == nil || e.assessor == nil {
		e.logger.Warn("rewrite requested but no gateway wired, downgrading to block",
			"interaction_id", interaction.ID,
			"rule_id", decision.RuleID)
		e.downgrade(decision)
		return nil, nil
	}

	req := &domain.Request{
		Model:         interaction.Model,
		Prompt:        e.rewritePrefix + interaction.Prompt,
		CorrelationID: interaction.CorrelationID,
	}

	rewritten, err := e.gateway.Send(ctx, req)
	if rewritten != nil {
		decision.RewriteInteractionID = rewritten.ID
	}
	if err != nil || rewritten == nil || rewritten.Failed() {
		e.logger.Warn("rewrite call failed, downgrading to block",
			"interaction_id", interaction.ID,
			"error", err)
		e.downgrade(decision)
		return rewritten, nil
	}

	reassessed := e.assessor.Assess(ctx, rewritten)
	if reassessed.Aggregate >= e.blockThreshold {
		e.logger.Info("rewrite still above block threshold, downgrading",
			"interaction_id", interaction.ID,
			"rewrite_interaction_id", rewritten.ID,
			"aggregate", reassessed.Aggregate,
			"threshold", e.blockThreshold)
		e.downgrade(decision)
		return rewritten, nil
	}

	decision.ResponseSource = domain.SourceRewritten
	decision.FinalResponse = rewritten.Completion
	return rewritten, nil
}

func (e *Engine) downgrade(decision *domain.PolicyDecision) {
	decision.Action = domain.ActionBlock
	decision.Downgraded = true
	decision.ResponseSource = domain.SourceRefusal
	decision.FinalResponse = e.blockedMessage
	decision.Reason += "; downgraded to block"
}

// scoreFor selects the assessed value a rule's threshold is compared against.
func scoreFor(category domain.RiskCategory, assessment *domain.RiskAssessment) float64 {
	if category == domain.CategoryAggregate {
		return assessment.Aggregate
	}
	return assessment.Scores.ForCategory(category)
}

// riskLabel names the risk a reason string refers to: the rule's category,
// or the severity band for aggregate rules.
func riskLabel(category domain.RiskCategory, assessment *domain.RiskAssessment) string {
	if category == domain.CategoryAggregate {
		return string(assessment.Severity)
	}
	return string(category)
}

func reasonFor(action domain.PolicyAction, label string) string {
	switch action {
	case domain.ActionBlock:
		return fmt.Sprintf("Blocked due to %s risk", label)
	case domain.ActionFallback:
		return fmt.Sprintf("Fallback triggered for %s risk", label)
	case domain.ActionRewrite:
		return fmt.Sprintf("Prompt rewritten due to %s risk", label)
	default:
		return "Policy check passed"
	}
}
