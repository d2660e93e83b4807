package rules

import (
	"context"
	"strings"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/window"
)

// Rule codes.
const (
	CodeIPVelocity         = "IP_VELOCITY"
	CodeUserVelocity       = "USER_VELOCITY"
	CodeBruteForce         = "BRUTE_FORCE"
	CodeCredentialStuffing = "CREDENTIAL_STUFFING"
	CodeNightTime          = "NIGHT_TIME"
)

// Counter key prefixes. The store may add its own namespace in front.
const (
	KeyIPVelocity         = "velocity:ip:"
	KeyUserVelocity       = "velocity:user:"
	KeyBruteForce         = "bruteforce:user:"
	KeyCredentialStuffing = "credstuff:ip:"
)

// VelocitySettings is the baseline of a counting rule.
type VelocitySettings struct {
	Enabled bool
	Window  time.Duration
	Max     int
	Score   int
}

// countingRule fires when a per-subject counter strictly exceeds max.
type countingRule struct {
	code      string
	keyPrefix string
	settings  VelocitySettings
	maxKeys   []string
	subject   func(*domain.RiskContext) string
	windows   *window.Manager
}

func (r *countingRule) Code() string         { return r.code }
func (r *countingRule) DefaultEnabled() bool { return r.settings.Enabled }

func (r *countingRule) count(ctx context.Context, rc *domain.RiskContext, props Properties) (int, error) {
	subject := strings.TrimSpace(r.subject(rc))
	if subject == "" {
		return 0, nil
	}

	win := props.Duration(r.settings.Window, "windowSeconds", "window")
	limit := props.Int(r.settings.Max, r.maxKeys...)
	score := props.Int(r.settings.Score, "riskScore", "score")

	n, err := r.windows.IncrementInWindow(ctx, r.keyPrefix+subject, win)
	if err != nil {
		return 0, err
	}
	if n > int64(limit) {
		return score, nil
	}
	return 0, nil
}

func ipOf(rc *domain.RiskContext) string {
	if rc == nil {
		return ""
	}
	return rc.IP
}

func userOf(rc *domain.RiskContext) string {
	if rc == nil {
		return ""
	}
	return rc.UserID
}

// IPVelocityRule counts requests per IP address.
type IPVelocityRule struct{ countingRule }

// NewIPVelocityRule creates the IP_VELOCITY rule.
// Properties: windowSeconds|window, maxPerWindow|max, riskScore|score.
func NewIPVelocityRule(windows *window.Manager, s VelocitySettings) *IPVelocityRule {
	return &IPVelocityRule{countingRule{
		code:      CodeIPVelocity,
		keyPrefix: KeyIPVelocity,
		settings:  s,
		maxKeys:   []string{"maxPerWindow", "max"},
		subject:   ipOf,
		windows:   windows,
	}}
}

func (r *IPVelocityRule) Evaluate(ctx context.Context, rc *domain.RiskContext, props Properties) (int, error) {
	return r.count(ctx, rc, props)
}

// UserVelocityRule counts requests per user id. Excluded actions are
// neither counted nor scored.
type UserVelocityRule struct {
	countingRule
	excluded []string
}

// NewUserVelocityRule creates the USER_VELOCITY rule.
// Properties: windowSeconds|window, maxPerWindow|max, riskScore|score and
// excludedActions, a comma list that replaces the baseline when non-empty.
func NewUserVelocityRule(windows *window.Manager, s VelocitySettings, excludedActions []string) *UserVelocityRule {
	return &UserVelocityRule{
		countingRule: countingRule{
			code:      CodeUserVelocity,
			keyPrefix: KeyUserVelocity,
			settings:  s,
			maxKeys:   []string{"maxPerWindow", "max"},
			subject:   userOf,
			windows:   windows,
		},
		excluded: excludedActions,
	}
}

func (r *UserVelocityRule) Evaluate(ctx context.Context, rc *domain.RiskContext, props Properties) (int, error) {
	excluded := r.excluded
	if override := props.List("excludedActions"); len(override) > 0 {
		excluded = override
	}
	if rc != nil {
		for _, a := range excluded {
			if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(rc.Action)) {
				return 0, nil
			}
		}
	}
	return r.count(ctx, rc, props)
}

// BruteForceRule counts attempts per user id. It is meant to be evaluated
// only after a failed attempt.
type BruteForceRule struct{ countingRule }

// NewBruteForceRule creates the BRUTE_FORCE rule.
// Properties: windowSeconds|window, maxAttempts|maxFail, riskScore|score.
func NewBruteForceRule(windows *window.Manager, s VelocitySettings) *BruteForceRule {
	return &BruteForceRule{countingRule{
		code:      CodeBruteForce,
		keyPrefix: KeyBruteForce,
		settings:  s,
		maxKeys:   []string{"maxAttempts", "maxFail"},
		subject:   userOf,
		windows:   windows,
	}}
}

func (r *BruteForceRule) Evaluate(ctx context.Context, rc *domain.RiskContext, props Properties) (int, error) {
	return r.count(ctx, rc, props)
}

// CredentialStuffingRule tracks how many distinct users were tried from one
// IP. Unlike the counting rules it fires when the count reaches max.
type CredentialStuffingRule struct {
	settings VelocitySettings
	windows  *window.Manager
}

// NewCredentialStuffingRule creates the CREDENTIAL_STUFFING rule.
// Properties: windowSeconds|window, maxDistinctUsers|max, riskScore|score.
func NewCredentialStuffingRule(windows *window.Manager, s VelocitySettings) *CredentialStuffingRule {
	return &CredentialStuffingRule{settings: s, windows: windows}
}

func (r *CredentialStuffingRule) Code() string         { return CodeCredentialStuffing }
func (r *CredentialStuffingRule) DefaultEnabled() bool { return r.settings.Enabled }

func (r *CredentialStuffingRule) Evaluate(ctx context.Context, rc *domain.RiskContext, props Properties) (int, error) {
	ip := strings.TrimSpace(ipOf(rc))
	user := strings.TrimSpace(userOf(rc))
	if ip == "" || user == "" {
		return 0, nil
	}

	win := props.Duration(r.settings.Window, "windowSeconds", "window")
	limit := props.Int(r.settings.Max, "maxDistinctUsers", "max")
	score := props.Int(r.settings.Score, "riskScore", "score")

	key := KeyCredentialStuffing + ip
	if err := r.windows.AddDistinctInWindow(ctx, key, user, win); err != nil {
		return 0, err
	}
	n, err := r.windows.DistinctCount(ctx, key)
	if err != nil {
		return 0, err
	}
	if n >= int64(limit) {
		return score, nil
	}
	return 0, nil
}
