package rules

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/store"
	"github.com/opensource-finance/riskguard/internal/window"
)

func newWindows() *window.Manager {
	return window.NewManager(store.NewMemoryStore(), window.Sliding)
}

func evaluateN(t *testing.T, r Rule, rc *domain.RiskContext, props Properties, n int) []int {
	t.Helper()
	scores := make([]int, n)
	for i := range scores {
		s, err := r.Evaluate(context.Background(), rc, props)
		if err != nil {
			t.Fatalf("evaluation %d failed: %v", i+1, err)
		}
		scores[i] = s
	}
	return scores
}

func TestUserVelocityEndToEnd(t *testing.T) {
	rule := NewUserVelocityRule(newWindows(), VelocitySettings{Enabled: true, Window: 60 * time.Second, Max: 10, Score: 35}, nil)
	engine, err := NewEngine(rule)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	rc := &domain.RiskContext{Action: "login", UserID: "u-1", IP: "10.0.0.1"}
	for i := 1; i <= 10; i++ {
		res, err := engine.Evaluate(context.Background(), rc, nil, nil)
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		if res.Score != 0 {
			t.Fatalf("call %d: expected score 0, got %d", i, res.Score)
		}
	}

	res, _ := engine.Evaluate(context.Background(), rc, nil, nil)
	if res.Score != 35 {
		t.Errorf("11th call: expected score 35, got %d", res.Score)
	}
	if fmt.Sprint(res.Reasons) != "[USER_VELOCITY:35]" {
		t.Errorf("unexpected reasons: %v", res.Reasons)
	}
}

func TestCountingRulesFireStrictlyAboveMax(t *testing.T) {
	settings := VelocitySettings{Enabled: true, Window: time.Minute, Max: 3, Score: 20}
	rc := &domain.RiskContext{Action: "login", UserID: "u-1", IP: "10.0.0.1"}

	rules := []Rule{
		NewIPVelocityRule(newWindows(), settings),
		NewUserVelocityRule(newWindows(), settings, nil),
		NewBruteForceRule(newWindows(), settings),
	}
	for _, r := range rules {
		t.Run(r.Code(), func(t *testing.T) {
			scores := evaluateN(t, r, rc, nil, 4)
			if fmt.Sprint(scores) != "[0 0 0 20]" {
				t.Errorf("expected [0 0 0 20], got %v", scores)
			}
		})
	}
}

func TestCredentialStuffingFiresAtMax(t *testing.T) {
	rule := NewCredentialStuffingRule(newWindows(), VelocitySettings{Enabled: true, Window: 5 * time.Minute, Max: 3, Score: 70})
	ctx := context.Background()

	var scores []int
	for _, user := range []string{"a", "b", "b", "c", "d"} {
		s, err := rule.Evaluate(ctx, &domain.RiskContext{UserID: user, IP: "192.0.2.7"}, nil)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		scores = append(scores, s)
	}
	if fmt.Sprint(scores) != "[0 0 0 70 70]" {
		t.Errorf("expected [0 0 0 70 70], got %v", scores)
	}

	if s, _ := rule.Evaluate(ctx, &domain.RiskContext{UserID: "a"}, nil); s != 0 {
		t.Error("expected no score without an ip")
	}
	if s, _ := rule.Evaluate(ctx, &domain.RiskContext{IP: "192.0.2.7"}, nil); s != 0 {
		t.Error("expected no score without a user")
	}
}

func TestVelocityRulesIgnoreBlankSubject(t *testing.T) {
	settings := VelocitySettings{Enabled: true, Window: time.Minute, Max: 0, Score: 10}
	user := NewUserVelocityRule(newWindows(), settings, nil)
	ip := NewIPVelocityRule(newWindows(), settings)

	if s, _ := user.Evaluate(context.Background(), &domain.RiskContext{UserID: "  ", IP: "1.1.1.1"}, nil); s != 0 {
		t.Errorf("USER_VELOCITY fired for blank user: %d", s)
	}
	if s, _ := ip.Evaluate(context.Background(), &domain.RiskContext{UserID: "u"}, nil); s != 0 {
		t.Errorf("IP_VELOCITY fired for blank ip: %d", s)
	}
}

func TestUserVelocityExcludedActions(t *testing.T) {
	settings := VelocitySettings{Enabled: true, Window: time.Minute, Max: 0, Score: 10}
	rule := NewUserVelocityRule(newWindows(), settings, []string{"heartbeat"})
	ctx := context.Background()

	if s, _ := rule.Evaluate(ctx, &domain.RiskContext{Action: "HEARTBEAT", UserID: "u"}, nil); s != 0 {
		t.Error("baseline excluded action should not score")
	}

	props := NewProperties(map[string]string{"excludedactions": "read, list"})
	if s, _ := rule.Evaluate(ctx, &domain.RiskContext{Action: "heartbeat", UserID: "u"}, props); s != 10 {
		t.Errorf("override should replace the baseline, got %d", s)
	}
	if s, _ := rule.Evaluate(ctx, &domain.RiskContext{Action: "list", UserID: "u"}, props); s != 0 {
		t.Error("override excluded action should not score")
	}
}

func TestVelocityPropertyOverrides(t *testing.T) {
	rule := NewIPVelocityRule(newWindows(), VelocitySettings{Enabled: true, Window: time.Minute, Max: 100, Score: 50})
	props := NewProperties(map[string]string{"max-per-window": "1", "score": "7", "windowseconds": "30"})
	scores := evaluateN(t, rule, &domain.RiskContext{IP: "10.1.1.1"}, props, 2)
	if fmt.Sprint(scores) != "[0 7]" {
		t.Errorf("expected [0 7], got %v", scores)
	}

	bad := NewProperties(map[string]string{"maxperwindow": "lots"})
	scores = evaluateN(t, rule, &domain.RiskContext{IP: "10.2.2.2"}, bad, 2)
	if fmt.Sprint(scores) != "[0 0]" {
		t.Errorf("invalid property should fall back to the baseline, got %v", scores)
	}
}

func TestNightTimeRule(t *testing.T) {
	rule := NewNightTimeRule(NightTimeSettings{Enabled: true, StartHour: 22, EndHour: 4, Score: 15}, time.UTC)
	ctx := context.Background()

	cases := []struct {
		hour int
		want int
	}{
		{23, 15},
		{2, 15},
		{12, 0},
		{22, 15},
		{4, 0},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("hour=%d", tc.hour), func(t *testing.T) {
			rc := &domain.RiskContext{Timestamp: time.Date(2025, 6, 1, tc.hour, 30, 0, 0, time.UTC)}
			got, _ := rule.Evaluate(ctx, rc, nil)
			if got != tc.want {
				t.Errorf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestNightTimeRuleOverridesAndClock(t *testing.T) {
	ctx := context.Background()
	loc := time.FixedZone("UTC+3", 3*3600)
	rule := NewNightTimeRule(NightTimeSettings{Enabled: true, StartHour: 2, EndHour: 6, Score: 15}, loc).
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }) // 03:00 local

	if got, _ := rule.Evaluate(ctx, &domain.RiskContext{}, nil); got != 15 {
		t.Errorf("expected clock fallback in local zone to fire, got %d", got)
	}

	off := NewProperties(map[string]string{"enabled": "false"})
	if got, _ := rule.Evaluate(ctx, &domain.RiskContext{}, off); got != 0 {
		t.Errorf("expected disabled by property, got %d", got)
	}

	allDay := NewProperties(map[string]string{"startHour": "9", "endHour": "9", "riskScore": "5"})
	if got, _ := rule.Evaluate(ctx, &domain.RiskContext{}, allDay); got != 5 {
		t.Errorf("equal hours cover the whole day, got %d", got)
	}

	clamped := NewProperties(map[string]string{"startHour": "-4", "endHour": "99"})
	// window becomes [0, 23): 03:00 local is inside
	if got, _ := rule.Evaluate(ctx, &domain.RiskContext{}, clamped); got != 15 {
		t.Errorf("expected clamped window to fire, got %d", got)
	}
}

func TestInHourWindow(t *testing.T) {
	if !InHourWindow(0, 22, 4) || InHourWindow(4, 22, 4) || !InHourWindow(3, 3, 3) {
		t.Error("unexpected wrap-around window result")
	}
	if InHourWindow(1, 2, 6) || !InHourWindow(5, 2, 6) {
		t.Error("unexpected plain window result")
	}
}

func TestExpressionRule(t *testing.T) {
	ctx := context.Background()

	rule, err := NewExpressionRule(domain.ExpressionRuleConfig{
		Code:       "big-transfer",
		Expression: `action == "transfer" && double(attributes["amount"]) > 1000.0`,
		Score:      40,
		Enabled:    true,
	}, time.UTC)
	if err != nil {
		t.Fatalf("NewExpressionRule failed: %v", err)
	}
	if rule.Code() != "BIG_TRANSFER" {
		t.Errorf("expected normalised code, got %s", rule.Code())
	}

	big := &domain.RiskContext{Action: "transfer", Attributes: domain.NewAttributes().Set("amount", 5000.0)}
	if got, err := rule.Evaluate(ctx, big, nil); err != nil || got != 40 {
		t.Errorf("expected 40, got %d (%v)", got, err)
	}

	small := &domain.RiskContext{Action: "transfer", Attributes: domain.NewAttributes().Set("amount", 10.0)}
	if got, _ := rule.Evaluate(ctx, small, nil); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}

	if _, err := rule.Evaluate(ctx, &domain.RiskContext{Action: "transfer"}, nil); err == nil {
		t.Error("expected missing attribute to surface as an error")
	}
}

func TestExpressionRuleOptionalAttribute(t *testing.T) {
	ctx := context.Background()

	rule, err := NewExpressionRule(domain.ExpressionRuleConfig{
		Code:       "BIG_TRANSFER",
		Expression: `has(attributes.amount) && double(attributes.amount) > 1000.0`,
		Score:      40,
		Enabled:    true,
	}, time.UTC)
	if err != nil {
		t.Fatalf("NewExpressionRule failed: %v", err)
	}

	got, err := rule.Evaluate(ctx, &domain.RiskContext{Action: "transfer"}, nil)
	if err != nil {
		t.Fatalf("expected guarded expression to tolerate missing attribute, got %v", err)
	}
	if got != 0 {
		t.Errorf("expected 0, got %d", got)
	}

	big := &domain.RiskContext{Action: "transfer", Attributes: domain.NewAttributes().Set("amount", 5000.0)}
	if got, err := rule.Evaluate(ctx, big, nil); err != nil || got != 40 {
		t.Errorf("expected 40, got %d (%v)", got, err)
	}
}

func TestExpressionRuleRejectsNonBool(t *testing.T) {
	_, err := NewExpressionRule(domain.ExpressionRuleConfig{Code: "X", Expression: "hour + 1"}, nil)
	if err == nil {
		t.Error("expected non-bool expression to be rejected")
	}
	_, err = NewExpressionRule(domain.ExpressionRuleConfig{Code: "X", Expression: "this is not CEL !!!"}, nil)
	if err == nil {
		t.Error("expected invalid expression to be rejected")
	}
	_, err = NewExpressionRule(domain.ExpressionRuleConfig{Expression: "true"}, nil)
	if err == nil {
		t.Error("expected missing code to be rejected")
	}
}

func TestBuiltinRules(t *testing.T) {
	cfg := domain.DefaultConfig().Rules
	cfg.Timezone = "UTC"
	cfg.Expressions = []domain.ExpressionRuleConfig{{Code: "ADMIN_ACTION", Expression: `action == "admin"`, Score: 10, Enabled: true}}

	rules, err := BuiltinRules(cfg, newWindows())
	if err != nil {
		t.Fatalf("BuiltinRules failed: %v", err)
	}
	engine, err := NewEngine(rules...)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	want := "[IP_VELOCITY USER_VELOCITY BRUTE_FORCE CREDENTIAL_STUFFING NIGHT_TIME ADMIN_ACTION]"
	if got := fmt.Sprint(engine.Codes()); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}

	cfg.Timezone = "Mars/Olympus_Mons"
	if _, err := BuiltinRules(cfg, newWindows()); err == nil {
		t.Error("expected invalid timezone to fail")
	}
}
