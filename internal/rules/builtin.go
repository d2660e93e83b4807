package rules

import (
	"fmt"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/window"
)

// BuiltinRules builds the standard rule set from configuration, followed by
// any configured expression rules, in a stable registration order.
func BuiltinRules(cfg domain.RulesConfig, windows *window.Manager) ([]Rule, error) {
	loc, err := LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	rules := []Rule{
		NewIPVelocityRule(windows, velocitySettings(cfg.IPVelocity)),
		NewUserVelocityRule(windows, velocitySettings(cfg.UserVelocity), cfg.UserVelocity.ExcludedActions),
		NewBruteForceRule(windows, velocitySettings(cfg.BruteForce)),
		NewCredentialStuffingRule(windows, velocitySettings(cfg.CredentialStuffing)),
		NewNightTimeRule(NightTimeSettings{
			Enabled:   cfg.NightTime.Enabled,
			StartHour: cfg.NightTime.StartHour,
			EndHour:   cfg.NightTime.EndHour,
			Score:     cfg.NightTime.Score,
		}, loc),
	}

	for _, ec := range cfg.Expressions {
		r, err := NewExpressionRule(ec, loc)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// LoadLocation resolves a time zone name. Empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid rules timezone %q: %w", name, err)
	}
	return loc, nil
}

func velocitySettings(c domain.VelocityRuleConfig) VelocitySettings {
	return VelocitySettings{
		Enabled: c.Enabled,
		Window:  c.Window,
		Max:     c.Max,
		Score:   c.Score,
	}
}
