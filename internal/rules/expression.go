package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/riskguard/internal/domain"
)

// ExpressionRule fires a fixed score when a CEL expression over the risk
// context evaluates to true.
//
// Available variables:
//
//	action      string
//	user_id     string
//	ip          string
//	hour        int     hour of day in the rule's location
//	weekday     int     0 = Sunday
//	attributes  map(string, dyn)
//
// Selecting an attribute the request did not send is a CEL "no such key"
// error, and a rule error aborts the whole evaluation. Guard optional
// attributes with has():
//
//	has(attributes.amount) && double(attributes.amount) > 1000.0
type ExpressionRule struct {
	code       string
	expression string
	score      int
	enabled    bool
	loc        *time.Location
	program    cel.Program
	now        func() time.Time
}

var expressionEnv = func() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("ip", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("attributes", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("rules: building CEL environment: %v", err))
	}
	return env
}()

// NewExpressionRule compiles cfg.Expression. The expression must return bool.
func NewExpressionRule(cfg domain.ExpressionRuleConfig, loc *time.Location) (*ExpressionRule, error) {
	code := domain.NormalizeCode(cfg.Code)
	if code == "" {
		return nil, fmt.Errorf("%w: expression rule without code", domain.ErrInvalidRule)
	}

	ast, issues := expressionEnv.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", code, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", code, ast.OutputType())
	}

	program, err := expressionEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", code, err)
	}

	if loc == nil {
		loc = time.UTC
	}
	return &ExpressionRule{
		code:       code,
		expression: cfg.Expression,
		score:      cfg.Score,
		enabled:    cfg.Enabled,
		loc:        loc,
		program:    program,
		now:        time.Now,
	}, nil
}

func (r *ExpressionRule) Code() string         { return r.code }
func (r *ExpressionRule) DefaultEnabled() bool { return r.enabled }

// Expression returns the source expression.
func (r *ExpressionRule) Expression() string { return r.expression }

func (r *ExpressionRule) Evaluate(ctx context.Context, rc *domain.RiskContext, props Properties) (int, error) {
	if rc == nil {
		rc = &domain.RiskContext{}
	}
	at := rc.Timestamp
	if at.IsZero() {
		at = r.now()
	}
	at = at.In(r.loc)

	out, _, err := r.program.ContextEval(ctx, map[string]any{
		"action":     rc.Action,
		"user_id":    rc.UserID,
		"ip":         rc.IP,
		"hour":       int64(at.Hour()),
		"weekday":    int64(at.Weekday()),
		"attributes": rc.Attributes.Map(),
	})
	if err != nil {
		return 0, fmt.Errorf("evaluating %q: %w", r.expression, err)
	}

	hit, ok := out.(types.Bool)
	if !ok {
		return 0, fmt.Errorf("expression %q returned %s, want bool", r.expression, out.Type())
	}
	if !hit {
		return 0, nil
	}
	return props.Int(r.score, "riskScore", "score"), nil
}
