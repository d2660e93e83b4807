// Package rules provides the risk rules and the engine that aggregates them.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// Engine runs every registered rule in registration order and sums their scores.
type Engine struct {
	mu    sync.RWMutex
	rules []registeredRule
	codes map[string]struct{}
}

type registeredRule struct {
	code string
	rule Rule
}

// NewEngine creates an engine with the given rules registered in order.
func NewEngine(rules ...Rule) (*Engine, error) {
	e := &Engine{codes: make(map[string]struct{})}
	for _, r := range rules {
		if err := e.Register(r); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Register appends a rule. Empty and duplicate codes are rejected.
func (e *Engine) Register(r Rule) error {
	if r == nil {
		return fmt.Errorf("%w: nil rule", domain.ErrInvalidRule)
	}
	code := domain.NormalizeCode(r.Code())
	if code == "" {
		return fmt.Errorf("%w: empty code", domain.ErrInvalidRule)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.codes[code]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateRule, code)
	}
	e.codes[code] = struct{}{}
	e.rules = append(e.rules, registeredRule{code: code, rule: r})
	return nil
}

// Codes returns the registered rule codes in registration order.
func (e *Engine) Codes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	codes := make([]string, len(e.rules))
	for i, r := range e.rules {
		codes[i] = r.code
	}
	return codes
}

// RulesCount returns the number of registered rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Evaluate scores rc. enabled and properties are keyed by rule code; codes are
// normalised before lookup. A rule error aborts the pass and no partial
// result is returned.
func (e *Engine) Evaluate(ctx context.Context, rc *domain.RiskContext, enabled map[string]bool, properties map[string]map[string]string) (*domain.RiskResult, error) {
	e.mu.RLock()
	rules := make([]registeredRule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	enabledByCode := make(map[string]bool, len(enabled))
	for code, on := range enabled {
		enabledByCode[domain.NormalizeCode(code)] = on
	}
	propsByCode := make(map[string]map[string]string, len(properties))
	for code, p := range properties {
		propsByCode[domain.NormalizeCode(code)] = p
	}

	result := &domain.RiskResult{
		Reasons: []string{},
		Rules:   make([]domain.RuleScore, 0, len(rules)),
	}

	for _, r := range rules {
		on, ok := enabledByCode[r.code]
		if !ok {
			on = r.rule.DefaultEnabled()
		}
		if !on {
			result.Rules = append(result.Rules, domain.RuleScore{Code: r.code})
			continue
		}

		score, err := r.rule.Evaluate(ctx, rc, NewProperties(propsByCode[r.code]))
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.code, err)
		}
		if score < 0 {
			score = 0
		}

		triggered := score > 0
		result.Rules = append(result.Rules, domain.RuleScore{Code: r.code, Score: score, Triggered: triggered})
		if triggered {
			result.Reasons = append(result.Reasons, fmt.Sprintf("%s:%d", r.code, score))
			result.Score += score
		}
	}

	return result, nil
}

// EvaluateWith scores rc under an override set.
func (e *Engine) EvaluateWith(ctx context.Context, rc *domain.RiskContext, overrides domain.RuleOverrideSet) (*domain.RiskResult, error) {
	return e.Evaluate(ctx, rc, overrides.Enabled(), overrides.Properties())
}
