// Package pipeline runs one LLM call through the full governance sequence:
// provider call, risk assessment, policy evaluation and enforcement, cost
// recording, audit append. The stages are fixed and ordered; what varies per
// deployment is the configuration each stage carries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tjfontaine/llm-governor/internal/audit"
	"github.com/tjfontaine/llm-governor/internal/cost"
	"github.com/tjfontaine/llm-governor/internal/domain"
	"github.com/tjfontaine/llm-governor/internal/policy"
)

var tracer = otel.Tracer("llm-governor/pipeline")

// Invoker issues provider calls. The concrete gateway satisfies it; tests
// substitute scripted fakes.
type Invoker interface {
	Send(ctx context.Context, req *domain.Request) (*domain.Interaction, error)
}

// Assessor scores an interaction across the risk categories.
type Assessor interface {
	Assess(ctx context.Context, interaction *domain.Interaction) *domain.RiskAssessment
}

// Deps are the stage implementations a pipeline composes.
type Deps struct {
	Gateway Invoker
	Risk    Assessor
	Policy  *policy.Engine
	Cost    *cost.Monitor
	Audit   *audit.Logger
	Logger  *slog.Logger
}

// Pipeline is the per-request unit of work. Process is safe for concurrent
// use: every interaction is independent, and the stages that share state
// (cost window, audit chain) serialize internally.
type Pipeline struct {
	gateway Invoker
	risk    Assessor
	policy  *policy.Engine
	cost    *cost.Monitor
	audit   *audit.Logger
	logger  *slog.Logger
}

// Result is everything one governed call produced. Entry is nil when the
// audit append was degraded; Rewrite is the re-invocation interaction when
// enforcement made one.
type Result struct {
	Interaction   *domain.Interaction
	Risk          *domain.RiskAssessment
	Decision      *domain.PolicyDecision
	Cost          *domain.CostRecord
	Entry         *domain.AuditEntry
	Rewrite       *domain.Interaction
	DegradedAudit bool
}

// New assembles a pipeline from its stages.
func New(deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		gateway: deps.Gateway,
		risk:    deps.Risk,
		policy:  deps.Policy,
		cost:    deps.Cost,
		audit:   deps.Audit,
		logger:  logger,
	}
}

// Process governs one call end to end. A provider failure does not stop the
// sequence: the failed interaction is still assessed, decided, priced, and
// audited, with the failure recorded on the interaction itself. Once the
// provider call has been issued, caller cancellation no longer aborts the
// remaining stages; the governed record is always completed.
//
// In strict audit mode a failed append returns the assembled result together
// with the error, so the caller knows the response must not be served. In
// best effort mode the result comes back with DegradedAudit set instead.
func (p *Pipeline) Process(ctx context.Context, req *domain.Request) (*Result, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}

	ctx, span := tracer.Start(ctx, "pipeline.process")
	defer span.End()

	gwCtx, gwSpan := tracer.Start(ctx, "gateway.send")
	interaction, sendErr := p.gateway.Send(gwCtx, req)
	gwSpan.End()
	if interaction == nil {
		return nil, fmt.Errorf("gateway returned no interaction: %w", sendErr)
	}
	if sendErr != nil {
		p.logger.Warn("provider call failed, governing the failure",
			"interaction_id", interaction.ID,
			"model", req.Model,
			"error", sendErr)
	}

	// The provider call is out; from here the record gets finished whether
	// or not the caller is still waiting.
	tail := context.WithoutCancel(ctx)

	riskCtx, riskSpan := tracer.Start(tail, "risk.assess")
	assessment := p.risk.Assess(riskCtx, interaction)
	riskSpan.End()

	decision := p.policy.Evaluate(assessment)

	enfCtx, enfSpan := tracer.Start(tail, "policy.enforce")
	rewrite, err := p.policy.Enforce(enfCtx, interaction, decision)
	enfSpan.End()
	if err != nil {
		return nil, fmt.Errorf("enforce policy: %w", err)
	}

	// Bill the whole exchange: a rewrite's tokens belong to the same
	// governed call.
	usage := interaction.Usage
	if rewrite != nil {
		usage = usage.Add(rewrite.Usage)
	}
	costRec := p.cost.Record(interaction, usage)

	result := &Result{
		Interaction: interaction,
		Risk:        assessment,
		Decision:    decision,
		Cost:        costRec,
		Rewrite:     rewrite,
	}

	auditCtx, auditSpan := tracer.Start(tail, "audit.append")
	entry, err := p.audit.Append(auditCtx, interaction, assessment, decision, costRec)
	auditSpan.End()
	if err != nil {
		if p.audit.Strict() {
			span.SetAttributes(attribute.Bool("audit.failed", true))
			return result, fmt.Errorf("audit append: %w", err)
		}
		p.logger.Error("audit degraded, serving response without a persisted entry",
			"interaction_id", interaction.ID,
			"error", err)
		result.DegradedAudit = true
	} else {
		result.Entry = entry
	}

	span.SetAttributes(
		attribute.String("interaction.id", interaction.ID),
		attribute.String("decision.action", string(decision.Action)),
		attribute.Bool("decision.blocked", decision.Blocked()),
	)

	p.logger.Debug("interaction governed",
		"interaction_id", interaction.ID,
		"action", decision.Action,
		"rule_id", decision.RuleID,
		"aggregate", assessment.Aggregate,
		"cost", costRec.Amount,
		"degraded_audit", result.DegradedAudit)

	return result, nil
}
