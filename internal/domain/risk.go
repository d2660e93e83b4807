// Package domain defines the core interfaces and types for riskguard.
package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// RiskContext describes a single action being scored.
// It is built fresh for every evaluation and never shared between calls.
type RiskContext struct {
	Action string `json:"action"`
	UserID string `json:"userId,omitempty"`
	IP     string `json:"ip,omitempty"`

	// Timestamp is the moment the action happened. Zero means unknown,
	// in which case time based rules fall back to their own clock.
	Timestamp time.Time `json:"timestamp,omitzero"`

	Attributes *Attributes `json:"attributes,omitempty"`
}

// Attr returns an attribute value, or nil if the context has none.
func (rc *RiskContext) Attr(key string) any {
	if rc == nil || rc.Attributes == nil {
		return nil
	}
	v, _ := rc.Attributes.Get(key)
	return v
}

// Attributes is a string keyed map that remembers insertion order.
type Attributes struct {
	keys   []string
	values map[string]any
}

// NewAttributes creates an empty ordered attribute map.
func NewAttributes() *Attributes {
	return &Attributes{values: make(map[string]any)}
}

// Set stores a value. Re-setting an existing key keeps its position.
func (a *Attributes) Set(key string, value any) *Attributes {
	if a.values == nil {
		a.values = make(map[string]any)
	}
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
	return a
}

// Get returns the value stored under key.
func (a *Attributes) Get(key string) (any, bool) {
	if a == nil {
		return nil, false
	}
	v, ok := a.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (a *Attributes) Keys() []string {
	if a == nil {
		return nil
	}
	out := make([]string, len(a.keys))
	copy(out, a.keys)
	return out
}

// Len returns the number of attributes.
func (a *Attributes) Len() int {
	if a == nil {
		return 0
	}
	return len(a.keys)
}

// Map returns an unordered copy of the attributes.
func (a *Attributes) Map() map[string]any {
	out := make(map[string]any, a.Len())
	if a == nil {
		return out
	}
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

// MarshalJSON writes the attributes as a JSON object in insertion order.
func (a *Attributes) MarshalJSON() ([]byte, error) {
	return marshalOrdered(a.Keys(), func(k string) any { return a.values[k] })
}

// UnmarshalJSON reads a JSON object, keeping the document's key order.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	keys, values, err := unmarshalOrdered(data)
	if err != nil {
		return err
	}
	a.keys = keys
	a.values = values
	return nil
}

// RuleScore is the outcome of one registered rule within a RiskResult.
type RuleScore struct {
	Code      string `json:"code"`
	Score     int    `json:"score"`
	Triggered bool   `json:"triggered"`
}

// RiskResult is the aggregate output of one rule engine pass.
// Rules holds exactly one entry per registered rule, in registration order,
// including disabled rules which are recorded with a zero score.
type RiskResult struct {
	Score   int         `json:"score"`
	Reasons []string    `json:"reasons"`
	Rules   []RuleScore `json:"rules"`
}

// RuleScores returns the per-rule scores keyed by rule code.
func (r *RiskResult) RuleScores() map[string]int {
	out := make(map[string]int, len(r.Rules))
	for _, rs := range r.Rules {
		out[rs.Code] = rs.Score
	}
	return out
}

// RuleFlags returns whether each rule fired, keyed by rule code.
func (r *RiskResult) RuleFlags() map[string]bool {
	out := make(map[string]bool, len(r.Rules))
	for _, rs := range r.Rules {
		out[rs.Code] = rs.Triggered
	}
	return out
}

// ScoreOf returns the score recorded for a rule code.
func (r *RiskResult) ScoreOf(code string) int {
	code = NormalizeCode(code)
	for _, rs := range r.Rules {
		if rs.Code == code {
			return rs.Score
		}
	}
	return 0
}

// Flag reports whether a rule fired and whether it was recorded at all.
func (r *RiskResult) Flag(code string) (triggered, present bool) {
	code = NormalizeCode(code)
	for _, rs := range r.Rules {
		if rs.Code == code {
			return rs.Triggered, true
		}
	}
	return false, false
}

func marshalOrdered(keys []string, value func(string) any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(value(k))
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func unmarshalOrdered(data []byte) ([]string, map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	values := make(map[string]any)
	var keys []string

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if tok == nil {
		return nil, values, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, errors.New("attributes: expected JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		if _, seen := values[key]; !seen {
			keys = append(keys, key)
		}
		values[key] = v
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return keys, values, nil
}
