package domain

import "errors"

var (
	// ErrBlocked is matched by decision errors raised for BLOCK outcomes.
	ErrBlocked = errors.New("request blocked")

	// ErrChallengeRequired is matched by decision errors raised for CHALLENGE outcomes.
	ErrChallengeRequired = errors.New("verification required")

	// ErrStoreUnavailable wraps counter store backend failures.
	ErrStoreUnavailable = errors.New("counter store unavailable")

	// ErrUnsupported is returned by store operations a backend cannot answer.
	ErrUnsupported = errors.New("operation not supported by store")

	ErrInvalidRule   = errors.New("invalid rule")
	ErrDuplicateRule = errors.New("duplicate rule code")

	// ErrNotFound is returned by repositories for unknown IDs.
	ErrNotFound = errors.New("not found")
)

// DecisionError is raised when a BLOCK or CHALLENGE is enforced by exception.
type DecisionError struct {
	Decision Decision
	Reason   string
	Outcome  *ChallengeOutcome
}

// NewDecisionError creates the default error for a non-allow decision.
func NewDecisionError(d Decision, reason string, outcome *ChallengeOutcome) *DecisionError {
	return &DecisionError{Decision: d, Reason: reason, Outcome: outcome}
}

func (e *DecisionError) Error() string {
	if e.Decision == DecisionChallenge {
		return ErrChallengeRequired.Error() + ": " + e.Reason
	}
	return ErrBlocked.Error() + ": " + e.Reason
}

// Is makes errors.Is match ErrBlocked or ErrChallengeRequired.
func (e *DecisionError) Is(target error) bool {
	switch target {
	case ErrBlocked:
		return e.Decision == DecisionBlock
	case ErrChallengeRequired:
		return e.Decision == DecisionChallenge
	}
	return false
}
