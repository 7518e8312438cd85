package expr

import (
	"errors"
	"fmt"
)

// ErrNotRoot is returned when a tree entry point is called on a child node.
var ErrNotRoot = errors.New("expression entry points may only be called on the root node")

// EvaluationContext carries the trace sink, the caller's state and the
// per-node result cache for one evaluation.
type EvaluationContext struct {
	Trace   TraceWriter
	State   any
	Results map[Node]EvaluationResult
}

// NewEvaluationContext returns a fresh context. A nil trace discards output.
func NewEvaluationContext(trace TraceWriter, state any) *EvaluationContext {
	if trace == nil {
		trace = NoopTrace{}
	}
	return &EvaluationContext{
		Trace:   trace,
		State:   state,
		Results: make(map[Node]EvaluationResult),
	}
}

// EvaluateBoolean evaluates root and converts the result to a bool. The
// canonical and realized expressions are written to trace.
func EvaluateBoolean(root Node, trace TraceWriter, state any) (bool, error) {
	if root.Container() != nil {
		return false, ErrNotRoot
	}
	ctx := NewEvaluationContext(trace, state)
	ctx.Trace.Info("Evaluating: " + root.ConvertToExpression())
	result, err := evaluateBoolean(ctx, root)
	if err != nil {
		return false, err
	}
	ctx.Trace.Info(fmt.Sprintf("%s => %s", root.ConvertToRealizedExpression(ctx), formatBool(result)))
	return result, nil
}

// EvaluateTree evaluates root and returns the canonical result.
func EvaluateTree(root Node, trace TraceWriter, state any) (EvaluationResult, error) {
	if root.Container() != nil {
		return EvaluationResult{}, ErrNotRoot
	}
	ctx := NewEvaluationContext(trace, state)
	ctx.Trace.Info("Evaluating: " + root.ConvertToExpression())
	result, err := Evaluate(ctx, root)
	if err != nil {
		return EvaluationResult{}, err
	}
	ctx.Trace.Info(fmt.Sprintf("%s => %s", root.ConvertToRealizedExpression(ctx), result.realizedExpression()))
	return result, nil
}

// Evaluate evaluates a single node within ctx. Extension functions use it to
// evaluate their arguments. The first result for a node is cached.
func Evaluate(ctx *EvaluationContext, n Node) (EvaluationResult, error) {
	level := n.Level()
	ctx.Trace.Verbose(fmt.Sprintf("%sEvaluating %s:", indent(level), n.Name()))

	var (
		raw any
		err error
	)
	switch t := n.(type) {
	case *LiteralNode:
		raw = t.Value
	case *NamedValueNode:
		if t.info.Evaluate == nil {
			return EvaluationResult{}, fmt.Errorf("named value %s has no implementation", t.name)
		}
		raw, err = t.info.Evaluate(ctx, t.name)
	case *IndexerNode:
		raw, err = evaluateIndexer(ctx, t)
	case *FunctionNode:
		raw, err = evaluateFunction(ctx, t)
	default:
		err = fmt.Errorf("unexpected node type %T", n)
	}
	if err != nil {
		return EvaluationResult{}, err
	}

	result, err := NewResult(ctx, level, raw)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("%s: %w", n.Name(), err)
	}
	if _, ok := ctx.Results[n]; !ok {
		ctx.Results[n] = result
	}
	return result, nil
}

func evaluateBoolean(ctx *EvaluationContext, n Node) (bool, error) {
	r, err := Evaluate(ctx, n)
	if err != nil {
		return false, err
	}
	return r.ConvertToBoolean(ctx), nil
}

func evaluateString(ctx *EvaluationContext, n Node) (string, error) {
	r, err := Evaluate(ctx, n)
	if err != nil {
		return "", err
	}
	return r.ConvertToString(ctx)
}

// evaluateIndexer returns nil for anything that cannot be indexed, an index
// of the wrong type, or an index out of range.
func evaluateIndexer(ctx *EvaluationContext, n *IndexerNode) (any, error) {
	params := n.Parameters()
	item, err := Evaluate(ctx, params[0])
	if err != nil {
		return nil, err
	}

	switch item.Kind {
	case KindArray:
		index, err := Evaluate(ctx, params[1])
		if err != nil {
			return nil, err
		}
		if index.Kind != KindNumber && (index.Kind != KindString || index.Value.(string) == "") {
			return nil, nil
		}
		d, ok := index.TryConvertToNumber(ctx)
		if !ok || !d.IsInteger() || d.Sign() < 0 || d.IntPart() >= int64(arrayLen(item.Value)) {
			return nil, nil
		}
		return arrayAt(item.Value, int(d.IntPart())), nil

	case KindObject:
		index, err := Evaluate(ctx, params[1])
		if err != nil {
			return nil, err
		}
		key, ok := index.TryConvertToString(ctx)
		if !ok {
			return nil, nil
		}
		v, _ := objectGet(item.Value, key)
		return v, nil
	}
	return nil, nil
}
