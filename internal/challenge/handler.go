// Package challenge resolves CHALLENGE and BLOCK decisions into outcomes.
package challenge

import (
	"context"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// Context is what a handler or listener sees about a non-allow decision.
type Context struct {
	Risk        *domain.RiskContext
	Result      *domain.RiskResult
	Decision    domain.Decision
	Reason      string
	HardRuleHit *domain.HardRuleHit
	Policy      domain.ChallengePolicy
}

// Subject returns the identity escalation and auditing key on: the user
// id when known, else the IP.
func (c *Context) Subject() string {
	if c == nil || c.Risk == nil {
		return ""
	}
	if c.Risk.UserID != "" {
		return c.Risk.UserID
	}
	return c.Risk.IP
}

// Score returns the total risk score, or 0 without a result.
func (c *Context) Score() int {
	if c == nil || c.Result == nil {
		return 0
	}
	return c.Result.Score
}

// ChallengeHandler resolves CHALLENGE decisions.
type ChallengeHandler interface {
	HandleChallenge(ctx context.Context, c *Context) domain.ChallengeResolution
}

// BlockHandler resolves BLOCK decisions.
type BlockHandler interface {
	HandleBlock(ctx context.Context, c *Context) domain.ChallengeResolution
}

// ChallengeHandlerFunc adapts a function to ChallengeHandler.
type ChallengeHandlerFunc func(ctx context.Context, c *Context) domain.ChallengeResolution

func (f ChallengeHandlerFunc) HandleChallenge(ctx context.Context, c *Context) domain.ChallengeResolution {
	return f(ctx, c)
}

// BlockHandlerFunc adapts a function to BlockHandler.
type BlockHandlerFunc func(ctx context.Context, c *Context) domain.ChallengeResolution

func (f BlockHandlerFunc) HandleBlock(ctx context.Context, c *Context) domain.ChallengeResolution {
	return f(ctx, c)
}

// DefaultChallengeHandler raises a challenge-required error.
type DefaultChallengeHandler struct{}

func (DefaultChallengeHandler) HandleChallenge(ctx context.Context, c *Context) domain.ChallengeResolution {
	outcome := domain.ChallengeOutcomeOf().
		Message(c.Reason).
		TTL(c.Policy.TTLFor(domain.DecisionChallenge)).
		Meta("score", c.Score()).
		Build()
	return domain.Throw(domain.NewDecisionError(domain.DecisionChallenge, c.Reason, outcome), outcome)
}

// DefaultBlockHandler raises a blocked error. Whether the block is permanent
// follows the policy.
type DefaultBlockHandler struct{}

func (DefaultBlockHandler) HandleBlock(ctx context.Context, c *Context) domain.ChallengeResolution {
	outcome := domain.BlockOutcome().
		Message(c.Reason).
		TTL(c.Policy.TTLFor(domain.DecisionBlock)).
		Permanent(c.Policy.PermanentBlockEnabled).
		Meta("score", c.Score()).
		Build()
	return domain.Throw(domain.NewDecisionError(domain.DecisionBlock, c.Reason, outcome), outcome)
}
