// Package matheval implements the MATH_EVAL tool: a
// sandboxed, unit-aware arithmetic evaluator built on expr-lang rather than
// a bespoke parser, consistent with the verifier's rule engine
// (internal/verifier) using the same library for the same reason —
// declarative, no eval-of-Go-code risk.
package matheval

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/cortexhq/cortex/internal/domain"
	"github.com/cortexhq/cortex/internal/tools"
)

// Params is the MATH_EVAL tool's parameter schema.
type Params struct {
	Expression string             `json:"expression" jsonschema:"required,description=Arithmetic expression using named variables"`
	Vars       map[string]float64 `json:"vars,omitempty" jsonschema:"description=Named numeric variables referenced by expression"`
	Unit       string             `json:"unit,omitempty" jsonschema:"description=Expected unit label carried through to the PCN, not evaluated"`
}

// unitSuffixes lists known unit labels. Execute does not reference it: no
// suffix is stripped, so a literal such as "12.5kg" inside the expression
// fails to compile. Units travel only through the separate "unit" argument,
// passed through unconverted.
var unitSuffixes = []string{"kg", "km", "ms", "s", "%", "usd", "m"}

// Tool implements tools.Tool for MATH_EVAL.
type Tool struct{}

func New() *Tool { return &Tool{} }

func (t *Tool) Name() domain.ToolName { return domain.ToolMathEval }

func (t *Tool) Execute(ctx context.Context, args map[string]any) domain.ToolOutcome {
	exprStr, _ := args["expression"].(string)
	if strings.TrimSpace(exprStr) == "" {
		return tools.Failed("parse_error", "expression is required")
	}

	env := map[string]float64{}
	if rawVars, ok := args["vars"].(map[string]any); ok {
		for k, v := range rawVars {
			f, ok := toFloat(v)
			if !ok {
				return tools.Failed("parse_error", fmt.Sprintf("variable %q is not numeric", k))
			}
			env[k] = f
		}
	}

	program, err := expr.Compile(sanitize(exprStr), expr.Env(env), expr.AsFloat64())
	if err != nil {
		return tools.Failed("parse_error", "could not compile expression: "+err.Error())
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return tools.Failed("parse_error", "could not evaluate expression: "+err.Error())
	}

	value, ok := out.(float64)
	if !ok {
		return tools.Failed("parse_error", "expression did not evaluate to a number")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return tools.Failed("domain_error", "expression evaluated outside the real number domain (division by zero?)")
	}

	unit, _ := args["unit"].(string)
	return tools.Ok(value, map[string]any{"unit": unit})
}

// sanitize trims surrounding whitespace. It does no filtering of its own:
// the expression goes to expr-lang as written, with no env functions
// registered.
func sanitize(s string) string {
	return strings.TrimSpace(s)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
