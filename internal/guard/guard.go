// Package guard runs risk evaluation around a protected action and enforces
// the resulting decision.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/riskguard/internal/challenge"
	"github.com/opensource-finance/riskguard/internal/decision"
	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/rules"
)

// Evaluation phases, used in logs and metrics.
const (
	PhaseBefore  = "before"
	PhaseAfter   = "after_success"
	PhaseFailure = "on_failure"
)

// Invocation describes one guarded call.
type Invocation struct {
	// Context builds the risk context. It is called once per evaluation.
	Context func() *domain.RiskContext

	// Overrides tweaks rules for this invocation only.
	Overrides domain.RuleOverrideSet

	// EvaluateBefore is ignored when EvaluateOnFailure is set.
	EvaluateBefore       bool
	EvaluateOnFailure    bool
	EvaluateAfterSuccess bool
}

func (inv Invocation) riskContext() *domain.RiskContext {
	if inv.Context == nil {
		return &domain.RiskContext{}
	}
	if rc := inv.Context(); rc != nil {
		return rc
	}
	return &domain.RiskContext{}
}

// Assessment is the outcome of scoring without enforcement.
type Assessment struct {
	Risk        *domain.RiskContext
	Result      *domain.RiskResult
	HardRuleHit *domain.HardRuleHit
	Decision    domain.Decision
	Reason      string
	Policy      domain.ChallengePolicy
}

func (a *Assessment) challengeContext() *challenge.Context {
	return &challenge.Context{
		Risk:        a.Risk,
		Result:      a.Result,
		Decision:    a.Decision,
		Reason:      a.Reason,
		HardRuleHit: a.HardRuleHit,
		Policy:      a.Policy,
	}
}

// Processor evaluates invocations and applies handlers to their decisions.
type Processor struct {
	engine    *rules.Engine
	profile   decision.Profile
	hardRules *decision.HardRuleEvaluator

	challengeHandler challenge.ChallengeHandler
	blockHandler     challenge.BlockHandler
	policy           challenge.PolicyStrategy
	listeners        []challenge.OutcomeListener
	telemetry        *challenge.Telemetry

	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a Processor.
type Option func(*Processor)

// WithChallengeHandler sets the CHALLENGE handler.
func WithChallengeHandler(h challenge.ChallengeHandler) Option {
	return func(p *Processor) { p.challengeHandler = h }
}

// WithBlockHandler sets the BLOCK handler.
func WithBlockHandler(h challenge.BlockHandler) Option {
	return func(p *Processor) { p.blockHandler = h }
}

// WithPolicy sets the challenge policy strategy.
func WithPolicy(s challenge.PolicyStrategy) Option {
	return func(p *Processor) { p.policy = s }
}

// WithListeners appends outcome listeners. They run in order.
func WithListeners(listeners ...challenge.OutcomeListener) Option {
	return func(p *Processor) { p.listeners = append(p.listeners, listeners...) }
}

// WithTelemetry enables Prometheus metrics. The telemetry records outcomes
// itself, so listing it again in WithListeners has no extra effect.
func WithTelemetry(t *challenge.Telemetry) Option {
	return func(p *Processor) { p.telemetry = t }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Processor) { p.tracer = tracer }
}

// NewProcessor creates a processor. Without handler options CHALLENGE and
// BLOCK raise the default decision errors.
func NewProcessor(engine *rules.Engine, profile decision.Profile, hardRules *decision.HardRuleEvaluator, opts ...Option) *Processor {
	p := &Processor{
		engine:           engine,
		profile:          profile,
		hardRules:        hardRules,
		challengeHandler: challenge.DefaultChallengeHandler{},
		blockHandler:     challenge.DefaultBlockHandler{},
		policy:           challenge.StaticPolicy(domain.DefaultChallengePolicy()),
		logger:           slog.Default(),
		tracer:           otel.Tracer("riskguard-guard"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.challengeHandler == nil {
		p.challengeHandler = challenge.DefaultChallengeHandler{}
	}
	if p.blockHandler == nil {
		p.blockHandler = challenge.DefaultBlockHandler{}
	}
	return p
}

// Assess scores rc and decides, without running any handler.
func (p *Processor) Assess(ctx context.Context, rc *domain.RiskContext, overrides domain.RuleOverrideSet) (*Assessment, error) {
	if rc == nil {
		rc = &domain.RiskContext{}
	}

	ctx, span := p.tracer.Start(ctx, "riskguard.evaluate",
		trace.WithAttributes(
			attribute.String("riskguard.action", rc.Action),
		),
	)
	defer span.End()

	result, err := p.engine.EvaluateWith(ctx, rc, overrides)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation failed")
		return nil, fmt.Errorf("risk evaluation failed: %w", err)
	}

	var hit *domain.HardRuleHit
	if p.hardRules != nil {
		hit, _ = p.hardRules.Evaluate(result)
	}

	a := &Assessment{
		Risk:        rc,
		Result:      result,
		HardRuleHit: hit,
		Decision:    p.profile.Resolve(result.Score, hit),
		Reason:      decision.FormatReason(result, hit),
		Policy:      p.policy.Resolve(result, hit),
	}

	span.SetAttributes(
		attribute.Int("riskguard.score", result.Score),
		attribute.String("riskguard.decision", string(a.Decision)),
	)
	if hit != nil {
		span.SetAttributes(attribute.String("riskguard.hard_rule", hit.RuleName))
	}
	p.telemetry.ObserveDecision(a.Decision, result.Score)
	return a, nil
}

// verdict is what enforcement tells Run to do next.
type verdict struct {
	halt  bool
	value any
	err   error

	// failed is set when scoring itself failed.
	failed bool
}

// enforce evaluates the invocation and applies the matching handler.
func (p *Processor) enforce(ctx context.Context, phase string, inv Invocation) verdict {
	a, err := p.Assess(ctx, inv.riskContext(), inv.Overrides)
	if err != nil {
		p.telemetry.ObserveEvaluationError(phase)
		p.logger.Error("risk evaluation failed",
			"phase", phase,
			"error", err,
		)
		return verdict{halt: true, err: err, failed: true}
	}

	p.logger.Debug("risk decision",
		"phase", phase,
		"action", a.Risk.Action,
		"user_id", a.Risk.UserID,
		"ip", a.Risk.IP,
		"decision", a.Decision,
		"score", a.Result.Score,
	)

	if a.Decision == domain.DecisionAllow {
		return verdict{}
	}

	c := a.challengeContext()
	var res domain.ChallengeResolution
	if a.Decision == domain.DecisionBlock {
		res = p.blockHandler.HandleBlock(ctx, c)
	} else {
		res = p.challengeHandler.HandleChallenge(ctx, c)
	}

	p.logger.Info("risk decision enforced",
		"phase", phase,
		"action", a.Risk.Action,
		"decision", a.Decision,
		"score", a.Result.Score,
		"resolution", res.Type.String(),
		"reason", a.Reason,
	)

	if res.Outcome != nil {
		p.notify(ctx, res.Outcome, c)
	}

	switch res.Type {
	case domain.ResolutionProceed:
		return verdict{}
	case domain.ResolutionReturn:
		return verdict{halt: true, value: res.Value}
	case domain.ResolutionThrow:
		if res.Err != nil {
			return verdict{halt: true, err: res.Err}
		}
	}
	return verdict{halt: true, err: domain.NewDecisionError(a.Decision, a.Reason, res.Outcome)}
}

func (p *Processor) notify(ctx context.Context, outcome *domain.ChallengeOutcome, c *challenge.Context) {
	_ = p.telemetry.OnOutcome(ctx, outcome, c)
	for _, l := range p.listeners {
		if t, ok := l.(*challenge.Telemetry); ok && t == p.telemetry {
			continue
		}
		p.notifyOne(ctx, l, outcome, c)
	}
}

func (p *Processor) notifyOne(ctx context.Context, l challenge.OutcomeListener, outcome *domain.ChallengeOutcome, c *challenge.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.telemetry.ObserveListenerFailure()
			p.logger.Error("outcome listener panicked",
				"outcome_id", outcome.ID,
				"panic", r,
			)
		}
	}()
	if err := l.OnOutcome(ctx, outcome, c); err != nil {
		p.telemetry.ObserveListenerFailure()
		p.logger.Warn("outcome listener failed",
			"outcome_id", outcome.ID,
			"error", err,
		)
	}
}

// Run executes action under inv. The evaluation phases are:
//
//   - before the action, when EvaluateBefore is set and EvaluateOnFailure is not;
//   - after a successful action, when EvaluateAfterSuccess is set;
//   - after a failed action, when EvaluateOnFailure is set.
//
// A halting resolution replaces the action's result. A PROCEED on failure
// returns the original error.
func (p *Processor) Run(ctx context.Context, inv Invocation, action func(context.Context) (any, error)) (any, error) {
	if inv.EvaluateBefore && !inv.EvaluateOnFailure {
		if v := p.enforce(ctx, PhaseBefore, inv); v.halt {
			return v.value, v.err
		}
	}

	value, actionErr := action(ctx)
	if actionErr != nil {
		if !inv.EvaluateOnFailure {
			return value, actionErr
		}
		v := p.enforce(ctx, PhaseFailure, inv)
		if !v.halt {
			return value, actionErr
		}
		if v.failed {
			return value, errors.Join(actionErr, v.err)
		}
		return v.value, v.err
	}

	if inv.EvaluateAfterSuccess {
		if v := p.enforce(ctx, PhaseAfter, inv); v.halt {
			return v.value, v.err
		}
	}
	return value, nil
}

// Guard is Run with a typed result. A substitute value that is not a T is
// reported as an error.
func Guard[T any](ctx context.Context, p *Processor, inv Invocation, action func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := p.Run(ctx, inv, func(ctx context.Context) (any, error) {
		return action(ctx)
	})
	if v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		if err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("guard: substitute value %T is not a %T", v, zero)
	}
	return t, err
}
