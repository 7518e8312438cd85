package pipeline

import (
	"strings"

	"github.com/mattjoyce/runway/internal/expr"
	"github.com/mattjoyce/runway/internal/template"
)

// DefaultCondition applies when a job or step has no if-condition.
const DefaultCondition = "succeeded()"

// StatusFunctions are the job status checks available to conditions. Each
// takes no arguments.
var StatusFunctions = []string{
	"always",
	"cancelled",
	"canceled",
	"failure",
	"failed",
	"success",
	"succeeded",
	"succeededOrFailed",
}

// Named values visible to job and step conditions.
var (
	JobConditionValues  = []string{"github", "needs"}
	StepConditionValues = []string{"github", "needs", "strategy", "matrix", "steps", "env", "job"}
)

func parseNamedValues(names []string) []expr.NamedValueInfo {
	out := make([]expr.NamedValueInfo, 0, len(names))
	for _, n := range names {
		out = append(out, expr.NamedValue(n, nil))
	}
	return out
}

func parseStatusFunctions() []expr.FunctionInfo {
	out := make([]expr.FunctionInfo, 0, len(StatusFunctions))
	for _, n := range StatusFunctions {
		out = append(out, expr.FunctionInfo{
			Name: n,
			Evaluate: func(*expr.EvaluationContext, []expr.Node) (any, error) {
				return true, nil
			},
		})
	}
	return out
}

// ConvertToIfCondition validates a condition and returns the expression to
// evaluate at runtime. A blank condition becomes succeeded(); a condition
// that calls no status function is wrapped in and(succeeded(), ...).
func ConvertToIfCondition(ctx *template.Context, t template.Token, isJob bool) (string, bool) {
	var condition string
	switch x := t.(type) {
	case *template.BasicExpressionToken:
		condition = x.Expression
	case template.LiteralToken:
		if _, isNull := x.(*template.NullToken); !isNull {
			condition = x.String()
		}
	default:
		unexpectedType(ctx, t, "if", template.TypeString)
		return "", false
	}

	if strings.TrimSpace(condition) == "" {
		return DefaultCondition, true
	}

	names := StepConditionValues
	if isJob {
		names = JobConditionValues
	}
	root, err := expr.CreateTree(condition, ctx.Trace, parseNamedValues(names), parseStatusFunctions())
	if err != nil {
		ctx.Error(t, err)
		return "", false
	}
	if callsStatusFunction(root) {
		return condition, true
	}
	return "and(" + DefaultCondition + ", " + condition + ")", true
}

func callsStatusFunction(root expr.Node) bool {
	found := false
	expr.Walk(root, func(n expr.Node) bool {
		fn, ok := n.(*expr.FunctionNode)
		if ok && fn.Kind == expr.FuncExtension {
			for _, s := range StatusFunctions {
				if strings.EqualFold(fn.Name(), s) {
					found = true
				}
			}
		}
		return !found
	})
	return found
}
