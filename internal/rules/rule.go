package rules

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// Rule scores one aspect of a RiskContext.
type Rule interface {
	// Code is the stable upper-case identifier, e.g. "IP_VELOCITY".
	Code() string

	// DefaultEnabled applies when an invocation does not override the rule.
	DefaultEnabled() bool

	// Evaluate returns a score >= 0. Zero means the rule did not fire.
	Evaluate(ctx context.Context, rc *domain.RiskContext, props Properties) (int, error)
}

// Properties are the per-invocation overrides for a single rule.
// Keys are matched case-insensitively with '-' and '_' ignored, so
// "maxPerWindow", "max-per-window" and "MAX_PER_WINDOW" are the same key.
type Properties map[string]string

// NewProperties normalises raw override keys.
func NewProperties(raw map[string]string) Properties {
	p := make(Properties, len(raw))
	for k, v := range raw {
		p[propertyKey(k)] = v
	}
	return p
}

func propertyKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer("-", "", "_", "").Replace(k)
}

// Lookup returns the first present value among keys.
func (p Properties) Lookup(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := p[propertyKey(k)]; ok {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// Int reads an integer property, falling back to def when missing or invalid.
func (p Properties) Int(def int, keys ...string) int {
	v, ok := p.Lookup(keys...)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid integer rule property", "keys", keys, "value", v)
		return def
	}
	return n
}

// Bool reads a boolean property.
func (p Properties) Bool(def bool, keys ...string) bool {
	v, ok := p.Lookup(keys...)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring invalid boolean rule property", "keys", keys, "value", v)
		return def
	}
	return b
}

// Duration reads a window property. Plain integers are seconds, anything
// else is parsed as a Go duration ("90s", "5m").
func (p Properties) Duration(def time.Duration, keys ...string) time.Duration {
	v, ok := p.Lookup(keys...)
	if !ok || v == "" {
		return def
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("ignoring invalid duration rule property", "keys", keys, "value", v)
		return def
	}
	return d
}

// List reads a comma separated property. Blank items are dropped.
func (p Properties) List(keys ...string) []string {
	v, ok := p.Lookup(keys...)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
