package template

import (
	"fmt"

	"github.com/mattjoyce/runway/internal/expr"
	"github.com/shopspring/decimal"
)

// Evaluate returns a copy of t with every expression resolved against
// ctx.State. Insert directives splice the mapping they evaluate to into the
// parent mapping.
func Evaluate(ctx *Context, t Token) (Token, error) {
	switch x := t.(type) {
	case nil:
		return nil, nil
	case *BasicExpressionToken:
		return EvaluateExpression(ctx, x)
	case *SequenceToken:
		out := &SequenceToken{Position: x.Position}
		for _, item := range x.Items {
			v, err := Evaluate(ctx, item)
			if err != nil {
				return nil, err
			}
			out.Items = append(out.Items, v)
		}
		return out, nil
	case *MappingToken:
		out := &MappingToken{Position: x.Position}
		for _, p := range x.Pairs {
			if err := evaluatePair(ctx, out, p); err != nil {
				return nil, err
			}
		}
		return out, nil
	case *InsertExpressionToken:
		return nil, fmt.Errorf("%s: the insert directive is only valid as a mapping key", positionString(ctx, t))
	}
	return t.Clone(false), nil
}

func evaluatePair(ctx *Context, out *MappingToken, p Pair) error {
	if _, ok := p.Key.(*InsertExpressionToken); ok {
		v, err := Evaluate(ctx, p.Value)
		if err != nil {
			return err
		}
		inserted, ok := v.(*MappingToken)
		if !ok {
			return fmt.Errorf("%s: expected the insert directive value to be a mapping, found %s", positionString(ctx, p.Value), v.Type())
		}
		out.Pairs = append(out.Pairs, inserted.Pairs...)
		return nil
	}

	key, err := Evaluate(ctx, p.Key)
	if err != nil {
		return err
	}
	if _, ok := key.(LiteralToken); !ok {
		return fmt.Errorf("%s: a mapping key must evaluate to a string, found %s", positionString(ctx, p.Key), key.Type())
	}
	value, err := Evaluate(ctx, p.Value)
	if err != nil {
		return err
	}
	out.Pairs = append(out.Pairs, Pair{Key: &StringToken{Position: key.Pos(), Value: key.String()}, Value: value})
	return nil
}

// EvaluateExpression evaluates a single expression token.
func EvaluateExpression(ctx *Context, t *BasicExpressionToken) (Token, error) {
	root, err := expr.CreateTree(t.Expression, ctx.Trace, ctx.NamedValues, ctx.Functions)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", positionString(ctx, t), err)
	}
	if root == nil {
		return &NullToken{Position: t.Position}, nil
	}
	result, err := expr.EvaluateTree(root, ctx.Trace, ctx.State)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", positionString(ctx, t), err)
	}
	return FromResult(result.Kind, result.Value, t.Position)
}

// EvaluateBoolean evaluates a condition expression.
func EvaluateBoolean(ctx *Context, expression string) (bool, error) {
	root, err := expr.CreateTree(expression, ctx.Trace, ctx.NamedValues, ctx.Functions)
	if err != nil {
		return false, err
	}
	if root == nil {
		return false, nil
	}
	return expr.EvaluateBoolean(root, ctx.Trace, ctx.State)
}

// FromResult converts an evaluated value into a token tree.
func FromResult(kind expr.ValueKind, value any, p Position) (Token, error) {
	switch kind {
	case expr.KindNull:
		return &NullToken{Position: p}, nil
	case expr.KindBoolean:
		return &BooleanToken{Position: p, Value: value.(bool)}, nil
	case expr.KindNumber:
		return &NumberToken{Position: p, Value: value.(decimal.Decimal).InexactFloat64()}, nil
	case expr.KindString:
		return &StringToken{Position: p, Value: value.(string)}, nil
	case expr.KindVersion:
		return &StringToken{Position: p, Value: value.(expr.Version).String()}, nil
	case expr.KindArray:
		seq := &SequenceToken{Position: p}
		for _, item := range expr.ArrayItems(value) {
			t, err := fromRaw(item, p)
			if err != nil {
				return nil, err
			}
			seq.Items = append(seq.Items, t)
		}
		return seq, nil
	case expr.KindObject:
		m := &MappingToken{Position: p}
		for _, k := range expr.ObjectKeys(value) {
			v, _ := expr.ObjectGet(value, k)
			t, err := fromRaw(v, p)
			if err != nil {
				return nil, err
			}
			m.Pairs = append(m.Pairs, Pair{Key: &StringToken{Position: p, Value: k}, Value: t})
		}
		return m, nil
	}
	return nil, fmt.Errorf("unexpected value kind %s", kind)
}

func fromRaw(v any, p Position) (Token, error) {
	canonical, kind, err := expr.Canonicalize(v)
	if err != nil {
		return nil, err
	}
	return FromResult(kind, canonical, p)
}

func positionString(ctx *Context, t Token) string {
	if s := ctx.prefix(t); s != "" {
		return s
	}
	return "expression"
}
