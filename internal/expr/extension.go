package expr

import "math"

// MaxParameters is the open upper bound for variadic functions.
const MaxParameters = math.MaxInt32

// NamedValueInfo registers a named value such as github or matrix.
// Evaluate receives the node's own name as written in the expression.
type NamedValueInfo struct {
	Name     string
	Evaluate func(ctx *EvaluationContext, name string) (any, error)
}

// FunctionInfo registers an extension function. Evaluate receives the
// unevaluated argument nodes so it can decide which ones to evaluate.
type FunctionInfo struct {
	Name          string
	MinParameters int
	MaxParameters int
	Evaluate      func(ctx *EvaluationContext, args []Node) (any, error)
}

// NamedValue is a convenience constructor for a named value that returns a
// fixed value.
func NamedValue(name string, value any) NamedValueInfo {
	return NamedValueInfo{
		Name: name,
		Evaluate: func(*EvaluationContext, string) (any, error) {
			return value, nil
		},
	}
}

// StateNamedValue resolves name by looking it up in the evaluation state,
// which must be a map[string]any.
func StateNamedValue(name string) NamedValueInfo {
	return NamedValueInfo{
		Name: name,
		Evaluate: func(ctx *EvaluationContext, n string) (any, error) {
			m, ok := ctx.State.(map[string]any)
			if !ok {
				return nil, nil
			}
			if v, ok := objectGet(m, n); ok {
				return v, nil
			}
			return nil, nil
		},
	}
}

func namedValueNames(infos []NamedValueInfo) []string {
	out := make([]string, 0, len(infos))
	for _, i := range infos {
		out = append(out, i.Name)
	}
	return out
}

func functionNames(infos []FunctionInfo) []string {
	out := make([]string, 0, len(infos))
	for _, i := range infos {
		out = append(out, i.Name)
	}
	return out
}
