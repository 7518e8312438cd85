package expr

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FunctionKind is the closed set of built-in functions. Extension functions
// share FuncExtension and dispatch through their FunctionInfo.
type FunctionKind int

const (
	FuncExtension FunctionKind = iota
	FuncAnd
	FuncOr
	FuncNot
	FuncXor
	FuncEq
	FuncNe
	FuncGt
	FuncGe
	FuncLt
	FuncLe
	FuncContains
	FuncStartsWith
	FuncEndsWith
	FuncIn
	FuncNotIn
	FuncFormat
	FuncJoin
	FuncToJSON
	FuncFromJSON
)

type wellKnownFunction struct {
	kind FunctionKind
	name string
	min  int
	max  int
}

var wellKnownFunctions = map[string]wellKnownFunction{}

func init() {
	for _, f := range []wellKnownFunction{
		{FuncAnd, "and", 2, MaxParameters},
		{FuncOr, "or", 2, MaxParameters},
		{FuncNot, "not", 1, 1},
		{FuncXor, "xor", 2, 2},
		{FuncEq, "eq", 2, 2},
		{FuncNe, "ne", 2, 2},
		{FuncGt, "gt", 2, 2},
		{FuncGe, "ge", 2, 2},
		{FuncLt, "lt", 2, 2},
		{FuncLe, "le", 2, 2},
		{FuncContains, "contains", 2, 2},
		{FuncStartsWith, "startsWith", 2, 2},
		{FuncEndsWith, "endsWith", 2, 2},
		{FuncIn, "in", 1, MaxParameters},
		{FuncNotIn, "notIn", 1, MaxParameters},
		{FuncFormat, "format", 1, MaxParameters},
		{FuncJoin, "join", 1, 2},
		{FuncToJSON, "toJSON", 1, 1},
		{FuncFromJSON, "fromJSON", 1, 1},
	} {
		wellKnownFunctions[strings.ToLower(f.name)] = f
	}
}

func lookupWellKnown(name string) (wellKnownFunction, bool) {
	f, ok := wellKnownFunctions[strings.ToLower(name)]
	return f, ok
}

// traceFullyRealized reports whether the realized expression shows the
// function's result instead of its realized arguments.
func (k FunctionKind) traceFullyRealized() bool {
	switch k {
	case FuncExtension, FuncFormat, FuncJoin, FuncToJSON, FuncFromJSON:
		return true
	}
	return false
}

func evaluateFunction(ctx *EvaluationContext, n *FunctionNode) (any, error) {
	args := n.Parameters()
	switch n.Kind {
	case FuncAnd:
		for _, p := range args {
			b, err := evaluateBoolean(ctx, p)
			if err != nil || !b {
				return false, err
			}
		}
		return true, nil

	case FuncOr:
		for _, p := range args {
			b, err := evaluateBoolean(ctx, p)
			if err != nil || b {
				return b, err
			}
		}
		return false, nil

	case FuncNot:
		b, err := evaluateBoolean(ctx, args[0])
		return !b, err

	case FuncXor:
		a, err := evaluateBoolean(ctx, args[0])
		if err != nil {
			return nil, err
		}
		b, err := evaluateBoolean(ctx, args[1])
		if err != nil {
			return nil, err
		}
		return a != b, nil

	case FuncEq, FuncNe:
		left, right, err := evaluatePair(ctx, args)
		if err != nil {
			return nil, err
		}
		eq := left.Equals(ctx, right)
		if n.Kind == FuncNe {
			return !eq, nil
		}
		return eq, nil

	case FuncGt, FuncGe, FuncLt, FuncLe:
		left, right, err := evaluatePair(ctx, args)
		if err != nil {
			return nil, err
		}
		c, err := left.CompareTo(ctx, right)
		if err != nil {
			return nil, err
		}
		switch n.Kind {
		case FuncGt:
			return c > 0, nil
		case FuncGe:
			return c >= 0, nil
		case FuncLt:
			return c < 0, nil
		default:
			return c <= 0, nil
		}

	case FuncContains:
		return evaluateContains(ctx, args)

	case FuncStartsWith, FuncEndsWith:
		left, err := evaluateString(ctx, args[0])
		if err != nil {
			return nil, err
		}
		right, err := evaluateString(ctx, args[1])
		if err != nil {
			return nil, err
		}
		l, r := strings.ToUpper(left), strings.ToUpper(right)
		if n.Kind == FuncStartsWith {
			return strings.HasPrefix(l, r), nil
		}
		return strings.HasSuffix(l, r), nil

	case FuncIn, FuncNotIn:
		left, err := Evaluate(ctx, args[0])
		if err != nil {
			return nil, err
		}
		found := false
		for _, p := range args[1:] {
			right, err := Evaluate(ctx, p)
			if err != nil {
				return nil, err
			}
			if left.Equals(ctx, right) {
				found = true
				break
			}
		}
		if n.Kind == FuncNotIn {
			return !found, nil
		}
		return found, nil

	case FuncFormat:
		return evaluateFormat(ctx, args)

	case FuncJoin:
		return evaluateJoin(ctx, args)

	case FuncToJSON:
		v, err := Evaluate(ctx, args[0])
		if err != nil {
			return nil, err
		}
		b, err := json.MarshalIndent(ToPlain(v.Value), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("toJSON: %w", err)
		}
		return string(b), nil

	case FuncFromJSON:
		s, err := evaluateString(ctx, args[0])
		if err != nil {
			return nil, err
		}
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		var out any
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("fromJSON: %w", err)
		}
		return fromJSONNumbers(out), nil

	case FuncExtension:
		if n.ext == nil || n.ext.Evaluate == nil {
			return nil, fmt.Errorf("function %s has no implementation", n.name)
		}
		return n.ext.Evaluate(ctx, args)
	}

	return nil, fmt.Errorf("unexpected function kind %d", n.Kind)
}

func evaluatePair(ctx *EvaluationContext, args []Node) (EvaluationResult, EvaluationResult, error) {
	left, err := Evaluate(ctx, args[0])
	if err != nil {
		return EvaluationResult{}, EvaluationResult{}, err
	}
	right, err := Evaluate(ctx, args[1])
	if err != nil {
		return EvaluationResult{}, EvaluationResult{}, err
	}
	return left, right, nil
}

func evaluateContains(ctx *EvaluationContext, args []Node) (any, error) {
	left, err := Evaluate(ctx, args[0])
	if err != nil {
		return nil, err
	}
	if left.Kind == KindArray {
		right, err := Evaluate(ctx, args[1])
		if err != nil {
			return nil, err
		}
		for i := 0; i < arrayLen(left.Value); i++ {
			item, err := NewResult(ctx, left.level+1, arrayAt(left.Value, i))
			if err != nil {
				return nil, err
			}
			if item.Equals(ctx, right) {
				return true, nil
			}
		}
		return false, nil
	}

	l, err := left.ConvertToString(ctx)
	if err != nil {
		return nil, err
	}
	r, err := evaluateString(ctx, args[1])
	if err != nil {
		return nil, err
	}
	return strings.Contains(strings.ToUpper(l), strings.ToUpper(r)), nil
}

// evaluateFormat substitutes {N} placeholders. Braces are escaped by
// doubling them.
func evaluateFormat(ctx *EvaluationContext, args []Node) (any, error) {
	format, err := evaluateString(ctx, args[0])
	if err != nil {
		return nil, err
	}

	values := make([]*string, len(args)-1)
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		switch c {
		case '{':
			if i+1 < len(format) && format[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(format[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("The following format string is invalid: %s", format)
			}
			var idx int
			if _, err := fmt.Sscanf(format[i+1:i+end], "%d", &idx); err != nil || fmt.Sprint(idx) != format[i+1:i+end] {
				return nil, fmt.Errorf("The following format string is invalid: %s", format)
			}
			if idx < 0 || idx >= len(values) {
				return nil, fmt.Errorf("The following format string references more arguments than were supplied: %s", format)
			}
			if values[idx] == nil {
				s, err := evaluateString(ctx, args[idx+1])
				if err != nil {
					return nil, err
				}
				values[idx] = &s
			}
			b.WriteString(*values[idx])
			i += end
		case '}':
			if i+1 < len(format) && format[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("The following format string is invalid: %s", format)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func evaluateJoin(ctx *EvaluationContext, args []Node) (any, error) {
	sep := ","
	if len(args) > 1 {
		s, err := evaluateString(ctx, args[1])
		if err != nil {
			return nil, err
		}
		sep = s
	}

	v, err := Evaluate(ctx, args[0])
	if err != nil {
		return nil, err
	}
	if v.Kind != KindArray {
		s, _ := v.TryConvertToString(ctx)
		return s, nil
	}

	parts := make([]string, 0, arrayLen(v.Value))
	for i := 0; i < arrayLen(v.Value); i++ {
		item, err := NewResult(ctx, v.level+1, arrayAt(v.Value, i))
		if err != nil {
			return nil, err
		}
		s, _ := item.TryConvertToString(ctx)
		parts = append(parts, s)
	}
	return strings.Join(parts, sep), nil
}

// ToPlain converts canonical values into JSON-friendly Go values.
func ToPlain(v any) any {
	switch t := v.(type) {
	case decimal.Decimal:
		return json.Number(formatNumber(t))
	case Version:
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = ToPlain(x)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = ToPlain(x)
		}
		return out
	}
	return v
}

func fromJSONNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if d, err := decimal.NewFromString(t.String()); err == nil {
			return d
		}
		return t.String()
	case []any:
		for i, x := range t {
			t[i] = fromJSONNumbers(x)
		}
	case map[string]any:
		for k, x := range t {
			t[k] = fromJSONNumbers(x)
		}
	}
	return v
}
