package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChallengePolicy carries the lifetimes and escalation settings applied
// to challenge and block outcomes.
type ChallengePolicy struct {
	ChallengeTTL          time.Duration `json:"challengeTtl" yaml:"challengeTtl"`
	TemporaryBlockTTL     time.Duration `json:"temporaryBlockTtl" yaml:"temporaryBlockTtl"`
	PermanentBlockTTL     time.Duration `json:"permanentBlockTtl" yaml:"permanentBlockTtl"`
	EscalationThreshold   int           `json:"escalationThreshold" yaml:"escalationThreshold"`
	PermanentBlockEnabled bool          `json:"permanentBlockEnabled" yaml:"permanentBlockEnabled"`
}

// DefaultChallengePolicy returns the stock policy: 5 minute challenges,
// 15 minute temporary blocks, one year permanent blocks, escalation after 3.
func DefaultChallengePolicy() ChallengePolicy {
	return ChallengePolicy{
		ChallengeTTL:          5 * time.Minute,
		TemporaryBlockTTL:     15 * time.Minute,
		PermanentBlockTTL:     365 * 24 * time.Hour,
		EscalationThreshold:   3,
		PermanentBlockEnabled: true,
	}
}

// NewChallengePolicy validates and returns a policy.
func NewChallengePolicy(challenge, tempBlock, permBlock time.Duration, escalation int, permanent bool) (ChallengePolicy, error) {
	p := ChallengePolicy{
		ChallengeTTL:          challenge,
		TemporaryBlockTTL:     tempBlock,
		PermanentBlockTTL:     permBlock,
		EscalationThreshold:   escalation,
		PermanentBlockEnabled: permanent,
	}
	return p, p.Validate()
}

// Validate rejects negative durations and thresholds.
func (p ChallengePolicy) Validate() error {
	if p.ChallengeTTL < 0 || p.TemporaryBlockTTL < 0 || p.PermanentBlockTTL < 0 {
		return fmt.Errorf("challenge policy durations must not be negative")
	}
	if p.EscalationThreshold < 0 {
		return fmt.Errorf("escalation threshold must be >= 0, got %d", p.EscalationThreshold)
	}
	return nil
}

// TTLFor returns how long an outcome with the given status should last.
func (p ChallengePolicy) TTLFor(status Decision) time.Duration {
	switch status {
	case DecisionChallenge:
		return p.ChallengeTTL
	case DecisionBlock:
		if p.PermanentBlockEnabled {
			return p.PermanentBlockTTL
		}
		return p.TemporaryBlockTTL
	default:
		return 0
	}
}

// ChallengeOutcome describes the effect of a challenge or block.
type ChallengeOutcome struct {
	ID        string        `json:"id"`
	Status    Decision      `json:"status"`
	Message   string        `json:"message"`
	TTL       time.Duration `json:"ttl"`
	Permanent bool          `json:"permanent"`
	Metadata  *Attributes   `json:"metadata"`
}

// OutcomeBuilder assembles a ChallengeOutcome.
type OutcomeBuilder struct {
	out ChallengeOutcome
}

// NewOutcome starts building an outcome with the given status.
func NewOutcome(status Decision) *OutcomeBuilder {
	return &OutcomeBuilder{out: ChallengeOutcome{Status: status, Metadata: NewAttributes()}}
}

// AllowOutcome, ChallengeOutcomeOf and BlockOutcome are status specific shortcuts.
func AllowOutcome() *OutcomeBuilder { return NewOutcome(DecisionAllow) }
func ChallengeOutcomeOf() *OutcomeBuilder { return NewOutcome(DecisionChallenge) }
func BlockOutcome() *OutcomeBuilder { return NewOutcome(DecisionBlock) }

func (b *OutcomeBuilder) Message(msg string) *OutcomeBuilder {
	b.out.Message = msg
	return b
}

func (b *OutcomeBuilder) TTL(ttl time.Duration) *OutcomeBuilder {
	b.out.TTL = ttl
	return b
}

func (b *OutcomeBuilder) Permanent(permanent bool) *OutcomeBuilder {
	b.out.Permanent = permanent
	return b
}

func (b *OutcomeBuilder) Meta(key string, value any) *OutcomeBuilder {
	b.out.Metadata.Set(key, value)
	return b
}

// Build returns the finished outcome with a fresh ID. The builder may not be
// reused afterwards.
func (b *OutcomeBuilder) Build() *ChallengeOutcome {
	out := b.out
	out.ID = uuid.New().String()
	return &out
}

// ResolutionType tells the orchestrator what to do after a handler ran.
// The zero value means the handler resolved nothing.
type ResolutionType int

const (
	ResolutionProceed ResolutionType = iota + 1
	ResolutionReturn
	ResolutionThrow
)

func (t ResolutionType) String() string {
	switch t {
	case ResolutionProceed:
		return "PROCEED"
	case ResolutionReturn:
		return "RETURN"
	case ResolutionThrow:
		return "THROW"
	default:
		return "UNRESOLVED"
	}
}

// ChallengeResolution is the instruction returned by a challenge or block handler.
type ChallengeResolution struct {
	Type    ResolutionType
	Value   any
	Err     error
	Outcome *ChallengeOutcome
}

var proceed = ChallengeResolution{Type: ResolutionProceed}

// Proceed lets the invocation continue without recording an outcome.
func Proceed() ChallengeResolution { return proceed }

// ProceedWith lets the invocation continue but still reports an outcome.
func ProceedWith(outcome *ChallengeOutcome) ChallengeResolution {
	return ChallengeResolution{Type: ResolutionProceed, Outcome: outcome}
}

// Return substitutes value for the invocation's result.
func Return(value any, outcome *ChallengeOutcome) ChallengeResolution {
	return ChallengeResolution{Type: ResolutionReturn, Value: value, Outcome: outcome}
}

// Throw fails the invocation with err. A nil err makes the orchestrator use
// its default decision error.
func Throw(err error, outcome *ChallengeOutcome) ChallengeResolution {
	return ChallengeResolution{Type: ResolutionThrow, Err: err, Outcome: outcome}
}
