package challenge

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/window"
)

// KeyBlockCount prefixes the per-subject block counters.
const KeyBlockCount = "blocks:subject:"

// fallbackEscalationWindow applies when neither the handler nor the policy
// sets a window.
const fallbackEscalationWindow = 24 * time.Hour

// EscalatingBlockHandler issues temporary blocks and turns them permanent
// once the same subject has been blocked EscalationThreshold times within
// the escalation window.
type EscalatingBlockHandler struct {
	windows *window.Manager
	window  time.Duration
	logger  *slog.Logger

	// Respond turns the finished outcome into a resolution.
	// Defaults to raising a blocked error.
	Respond func(ctx context.Context, c *Context, outcome *domain.ChallengeOutcome) domain.ChallengeResolution
}

// NewEscalatingBlockHandler counts blocks through windows over escalationWindow.
// A non-positive escalationWindow counts over the policy's TemporaryBlockTTL,
// or 24 hours when that is unset too.
func NewEscalatingBlockHandler(windows *window.Manager, escalationWindow time.Duration, logger *slog.Logger) *EscalatingBlockHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EscalatingBlockHandler{
		windows: windows,
		window:  escalationWindow,
		logger:  logger,
		Respond: throwBlocked,
	}
}

func throwBlocked(_ context.Context, c *Context, outcome *domain.ChallengeOutcome) domain.ChallengeResolution {
	return domain.Throw(domain.NewDecisionError(domain.DecisionBlock, c.Reason, outcome), outcome)
}

func (h *EscalatingBlockHandler) windowFor(policy domain.ChallengePolicy) time.Duration {
	switch {
	case h.window > 0:
		return h.window
	case policy.TemporaryBlockTTL > 0:
		return policy.TemporaryBlockTTL
	default:
		return fallbackEscalationWindow
	}
}

// HandleBlock implements BlockHandler.
func (h *EscalatingBlockHandler) HandleBlock(ctx context.Context, c *Context) domain.ChallengeResolution {
	policy := c.Policy
	subject := c.Subject()

	var blocks int64
	permanent := false
	switch {
	case !policy.PermanentBlockEnabled:
	case policy.EscalationThreshold == 0:
		permanent = true
	case subject != "":
		n, err := h.windows.IncrementInWindow(ctx, KeyBlockCount+subject, h.windowFor(policy))
		if err != nil {
			h.logger.Warn("block escalation counter unavailable",
				"subject", subject,
				"error", err,
			)
		}
		blocks = n
		permanent = n >= int64(policy.EscalationThreshold)
	}

	ttl := policy.TemporaryBlockTTL
	if permanent {
		ttl = policy.PermanentBlockTTL
	}

	outcome := domain.BlockOutcome().
		Message(c.Reason).
		TTL(ttl).
		Permanent(permanent).
		Meta("score", c.Score()).
		Meta("subject", subject).
		Meta("blockCount", blocks).
		Build()

	if permanent {
		h.logger.Info("block escalated to permanent",
			"subject", subject,
			"block_count", blocks,
			"outcome_id", outcome.ID,
		)
	}

	respond := h.Respond
	if respond == nil {
		respond = throwBlocked
	}
	return respond(ctx, c, outcome)
}
