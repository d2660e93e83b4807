package decision

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// HardRuleEvaluator forces a decision when the set of fired rules matches a
// configured pattern, bypassing the score thresholds.
type HardRuleEvaluator struct {
	rules []domain.HardRuleConfig
}

// NewHardRuleEvaluator merges the built-in hard rules with configs.
// A config whose name matches a built-in replaces it in place; other configs
// are appended in order. Match keys are normalised like rule codes.
func NewHardRuleEvaluator(configs []domain.HardRuleConfig) (*HardRuleEvaluator, error) {
	merged := domain.DefaultHardRules()
	index := make(map[string]int, len(merged))
	for i, r := range merged {
		index[r.Name] = i
	}

	for _, cfg := range configs {
		name := strings.TrimSpace(cfg.Name)
		if name == "" {
			return nil, fmt.Errorf("hard rule without name")
		}
		action, err := domain.ParseDecision(string(cfg.Action))
		if err != nil {
			return nil, fmt.Errorf("hard rule %s: %w", name, err)
		}
		r := domain.HardRuleConfig{Name: name, Match: cfg.Match, Action: action}
		if i, ok := index[name]; ok {
			merged[i] = r
			continue
		}
		index[name] = len(merged)
		merged = append(merged, r)
	}

	for i := range merged {
		merged[i].Match = normalizeMatch(merged[i].Match)
	}
	return &HardRuleEvaluator{rules: merged}, nil
}

func normalizeMatch(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[domain.NormalizeCode(k)] = v
	}
	return out
}

// Rules returns the effective hard rules in evaluation order.
func (e *HardRuleEvaluator) Rules() []domain.HardRuleConfig {
	out := make([]domain.HardRuleConfig, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate returns the first hard rule whose pattern matches result's flags.
// A rule matches only if every key it names was recorded with the expected
// value; a rule that never ran cannot satisfy a false expectation. Rules
// with an empty pattern never match.
func (e *HardRuleEvaluator) Evaluate(result *domain.RiskResult) (*domain.HardRuleHit, bool) {
	if result == nil {
		return nil, false
	}
	flags := make(map[string]bool, len(result.Rules))
	for _, rs := range result.Rules {
		flags[domain.NormalizeCode(rs.Code)] = rs.Triggered
	}

	for _, r := range e.rules {
		if matches(r.Match, flags) {
			return &domain.HardRuleHit{RuleName: r.Name, Decision: r.Action}, true
		}
	}
	return nil, false
}

func matches(pattern, flags map[string]bool) bool {
	if len(pattern) == 0 {
		return false
	}
	for code, want := range pattern {
		got, ok := flags[code]
		if !ok || got != want {
			return false
		}
	}
	return true
}
