package rules

import (
	"context"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// NightTimeSettings is the baseline of the night time rule.
type NightTimeSettings struct {
	Enabled   bool
	StartHour int
	EndHour   int
	Score     int
}

// NightTimeRule adds a fixed score to actions inside an hour window.
// Windows may wrap midnight (22 to 4); equal hours cover the whole day.
// It is stateless and never touches the counter store.
type NightTimeRule struct {
	settings NightTimeSettings
	loc      *time.Location
	now      func() time.Time
}

// NewNightTimeRule creates the NIGHT_TIME rule. A nil loc means UTC.
// Properties: enabled, startHour, endHour, riskScore|score.
func NewNightTimeRule(s NightTimeSettings, loc *time.Location) *NightTimeRule {
	if loc == nil {
		loc = time.UTC
	}
	return &NightTimeRule{settings: s, loc: loc, now: time.Now}
}

// WithClock replaces the clock used when the context has no timestamp.
func (r *NightTimeRule) WithClock(now func() time.Time) *NightTimeRule {
	r.now = now
	return r
}

func (r *NightTimeRule) Code() string         { return CodeNightTime }
func (r *NightTimeRule) DefaultEnabled() bool { return r.settings.Enabled }

func (r *NightTimeRule) Evaluate(ctx context.Context, rc *domain.RiskContext, props Properties) (int, error) {
	if !props.Bool(true, "enabled") {
		return 0, nil
	}
	start := clampHour(props.Int(r.settings.StartHour, "startHour"))
	end := clampHour(props.Int(r.settings.EndHour, "endHour"))
	score := props.Int(r.settings.Score, "riskScore", "score")

	at := r.now()
	if rc != nil && !rc.Timestamp.IsZero() {
		at = rc.Timestamp
	}
	if InHourWindow(at.In(r.loc).Hour(), start, end) {
		return score, nil
	}
	return 0, nil
}

// InHourWindow reports whether hour falls in [start, end), wrapping past
// midnight when start > end. start == end covers every hour.
func InHourWindow(hour, start, end int) bool {
	switch {
	case start == end:
		return true
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}

func clampHour(h int) int {
	if h < 0 {
		return 0
	}
	if h > 23 {
		return 23
	}
	return h
}
