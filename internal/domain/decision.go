package domain

import (
	"fmt"
	"strings"
)

// Decision is the verdict for a scored action.
type Decision string

const (
	DecisionAllow     Decision = "ALLOW"
	DecisionChallenge Decision = "CHALLENGE"
	DecisionBlock     Decision = "BLOCK"
)

// ParseDecision parses a decision name case-insensitively.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToUpper(strings.TrimSpace(s))); d {
	case DecisionAllow, DecisionChallenge, DecisionBlock:
		return d, nil
	default:
		return "", fmt.Errorf("unknown decision: %q", s)
	}
}

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	return d == DecisionAllow || d == DecisionChallenge || d == DecisionBlock
}

// HardRuleConfig forces a decision when the triggered-rule pattern matches,
// regardless of the score.
type HardRuleConfig struct {
	Name   string          `json:"name" yaml:"name"`
	Match  map[string]bool `json:"match" yaml:"match"`
	Action Decision        `json:"action" yaml:"action"`
}

// HardRuleHit records which hard rule matched and what it decided.
type HardRuleHit struct {
	RuleName string   `json:"ruleName"`
	Decision Decision `json:"decision"`
}

// DefaultHardRuleName is the built-in hard rule that blocks a single user
// hammered from many addresses.
const DefaultHardRuleName = "distributed-user-attack"

// DefaultHardRules returns the built-in hard rules.
func DefaultHardRules() []HardRuleConfig {
	return []HardRuleConfig{
		{
			Name:   DefaultHardRuleName,
			Match:  map[string]bool{"IP_VELOCITY": false, "USER_VELOCITY": true},
			Action: DecisionBlock,
		},
	}
}
