// Package decision turns a risk result into ALLOW, CHALLENGE or BLOCK.
package decision

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// Profile maps a total score to a decision with two thresholds.
type Profile struct {
	// Scores at or above ChallengeThreshold are challenged.
	ChallengeThreshold int

	// Scores at or above BlockThreshold are blocked.
	BlockThreshold int
}

// NewProfile creates a profile, rejecting a block threshold below the
// challenge threshold.
func NewProfile(challenge, block int) (Profile, error) {
	if block < challenge {
		return Profile{}, fmt.Errorf("block threshold %d is below challenge threshold %d", block, challenge)
	}
	return Profile{ChallengeThreshold: challenge, BlockThreshold: block}, nil
}

// Decide applies the thresholds.
func (p Profile) Decide(score int) domain.Decision {
	switch {
	case score >= p.BlockThreshold:
		return domain.DecisionBlock
	case score >= p.ChallengeThreshold:
		return domain.DecisionChallenge
	default:
		return domain.DecisionAllow
	}
}

// Resolve is Decide with a hard rule hit taking precedence over the score.
func (p Profile) Resolve(score int, hit *domain.HardRuleHit) domain.Decision {
	if hit != nil && hit.Decision.Valid() {
		return hit.Decision
	}
	return p.Decide(score)
}

// FormatReason renders the human readable reason for a decision:
//
//	[HardRule:distributed-user-attack -> BLOCK] [USER_VELOCITY:35] states={ip-velocity=false, user-velocity=true}
//
// The hard rule prefix is only present when hit is non-nil.
func FormatReason(result *domain.RiskResult, hit *domain.HardRuleHit) string {
	var b strings.Builder
	if hit != nil {
		fmt.Fprintf(&b, "[HardRule:%s -> %s] ", hit.RuleName, hit.Decision)
	}
	b.WriteString("[")
	if result != nil {
		b.WriteString(strings.Join(result.Reasons, ", "))
	}
	b.WriteString("] states=")
	b.WriteString(FormatFlags(result))
	return b.String()
}

// FormatFlags renders rule flags in registration order with display codes,
// e.g. {ip-velocity=false, user-velocity=true}.
func FormatFlags(result *domain.RiskResult) string {
	var b strings.Builder
	b.WriteString("{")
	if result != nil {
		for i, rs := range result.Rules {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%t", DisplayCode(rs.Code), rs.Triggered)
		}
	}
	b.WriteString("}")
	return b.String()
}

// DisplayCode turns IP_VELOCITY into ip-velocity.
func DisplayCode(code string) string {
	return strings.ReplaceAll(strings.ToLower(code), "_", "-")
}
