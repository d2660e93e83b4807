package challenge

import (
	"github.com/opensource-finance/riskguard/internal/domain"
)

// PolicyStrategy picks the challenge policy for a scored action.
type PolicyStrategy interface {
	Resolve(result *domain.RiskResult, hit *domain.HardRuleHit) domain.ChallengePolicy
}

// StaticPolicy always returns the same policy.
type StaticPolicy domain.ChallengePolicy

func (p StaticPolicy) Resolve(*domain.RiskResult, *domain.HardRuleHit) domain.ChallengePolicy {
	return domain.ChallengePolicy(p)
}

// HardRulePolicy swaps in a dedicated policy when a named hard rule fired.
type HardRulePolicy struct {
	Base   domain.ChallengePolicy
	ByRule map[string]domain.ChallengePolicy
}

func (p HardRulePolicy) Resolve(result *domain.RiskResult, hit *domain.HardRuleHit) domain.ChallengePolicy {
	if hit != nil {
		if policy, ok := p.ByRule[hit.RuleName]; ok {
			return policy
		}
	}
	return p.Base
}

// NewPolicyStrategy returns a HardRulePolicy when per-rule policies are
// configured and a StaticPolicy otherwise.
func NewPolicyStrategy(cfg domain.DecisionConfig) PolicyStrategy {
	if len(cfg.HardRulePolicies) == 0 {
		return StaticPolicy(cfg.Policy)
	}
	return HardRulePolicy{Base: cfg.Policy, ByRule: cfg.HardRulePolicies}
}
