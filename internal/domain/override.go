package domain

import (
	"log/slog"
	"strings"
)

// NormalizeCode canonicalises a rule code: trimmed, upper case, with dashes
// and spaces mapped to underscores. "ip-velocity" becomes "IP_VELOCITY".
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.NewReplacer("-", "_", " ", "_").Replace(code)
	return strings.ToUpper(code)
}

// RuleOverrideSet carries per-invocation enable flags and properties for rules.
// The zero value is an empty set. Sets are never mutated after construction.
type RuleOverrideSet struct {
	enabled    map[string]bool
	properties map[string]map[string]string
}

// NewRuleOverrideSet copies the given maps into a new set, normalising codes.
func NewRuleOverrideSet(enabled map[string]bool, properties map[string]map[string]string) RuleOverrideSet {
	s := RuleOverrideSet{
		enabled:    make(map[string]bool, len(enabled)),
		properties: make(map[string]map[string]string, len(properties)),
	}
	for code, on := range enabled {
		s.enabled[NormalizeCode(code)] = on
	}
	for code, props := range properties {
		dst := s.properties[NormalizeCode(code)]
		if dst == nil {
			dst = make(map[string]string, len(props))
			s.properties[NormalizeCode(code)] = dst
		}
		for k, v := range props {
			dst[k] = v
		}
	}
	return s
}

// Enabled returns a copy of the enable overrides.
func (s RuleOverrideSet) Enabled() map[string]bool {
	out := make(map[string]bool, len(s.enabled))
	for k, v := range s.enabled {
		out[k] = v
	}
	return out
}

// Properties returns a deep copy of the property overrides.
func (s RuleOverrideSet) Properties() map[string]map[string]string {
	out := make(map[string]map[string]string, len(s.properties))
	for code, props := range s.properties {
		cp := make(map[string]string, len(props))
		for k, v := range props {
			cp[k] = v
		}
		out[code] = cp
	}
	return out
}

// IsEmpty reports whether the set overrides nothing.
func (s RuleOverrideSet) IsEmpty() bool {
	return len(s.enabled) == 0 && len(s.properties) == 0
}

// Merge layers other on top of s. Entries from other win key by key.
func (s RuleOverrideSet) Merge(other RuleOverrideSet) RuleOverrideSet {
	enabled := s.Enabled()
	for k, v := range other.enabled {
		enabled[k] = v
	}
	props := s.Properties()
	for code, p := range other.properties {
		dst := props[code]
		if dst == nil {
			dst = make(map[string]string, len(p))
			props[code] = dst
		}
		for k, v := range p {
			dst[k] = v
		}
	}
	return RuleOverrideSet{enabled: enabled, properties: props}
}

// ParseOverrides builds an override set from "RULECODE.property=value" entries.
// The property "enabled" toggles the rule; any other property is passed to the
// rule with a lower-cased name. Malformed entries are logged and skipped.
func ParseOverrides(entries []string, logger *slog.Logger) RuleOverrideSet {
	if logger == nil {
		logger = slog.Default()
	}
	enabled := make(map[string]bool)
	props := make(map[string]map[string]string)

	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		dot := strings.Index(entry, ".")
		eq := strings.Index(entry, "=")
		if dot <= 0 || eq <= dot+1 {
			logger.Warn("skipping malformed rule override", "entry", raw)
			continue
		}

		code := NormalizeCode(entry[:dot])
		prop := strings.ToLower(strings.TrimSpace(entry[dot+1 : eq]))
		value := strings.TrimSpace(entry[eq+1:])
		if code == "" || prop == "" {
			logger.Warn("skipping malformed rule override", "entry", raw)
			continue
		}

		if prop == "enabled" {
			enabled[code] = strings.EqualFold(value, "true")
			continue
		}
		if props[code] == nil {
			props[code] = make(map[string]string)
		}
		props[code][prop] = value
	}

	return RuleOverrideSet{enabled: enabled, properties: props}
}
