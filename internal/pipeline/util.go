package pipeline

import (
	"math"
	"strconv"
	"strings"

	"github.com/mattjoyce/runway/internal/template"
)

func unexpectedType(ctx *template.Context, t template.Token, what string, want template.TokenType) {
	ctx.Errorf(t, "Unexpected type '%s' encountered while reading '%s'. The type '%s' was expected.", typeName(t), what, want)
}

func typeName(t template.Token) string {
	if t == nil {
		return "Null"
	}
	return t.Type().String()
}

func assertMapping(ctx *template.Context, t template.Token, what string) (*template.MappingToken, bool) {
	if m, ok := t.(*template.MappingToken); ok {
		return m, true
	}
	unexpectedType(ctx, t, what, template.TypeMapping)
	return nil, false
}

func assertSequence(ctx *template.Context, t template.Token, what string) (*template.SequenceToken, bool) {
	if s, ok := t.(*template.SequenceToken); ok {
		return s, true
	}
	unexpectedType(ctx, t, what, template.TypeSequence)
	return nil, false
}

func assertLiteral(ctx *template.Context, t template.Token, what string) (template.LiteralToken, bool) {
	if l, ok := t.(template.LiteralToken); ok {
		return l, true
	}
	unexpectedType(ctx, t, what, template.TypeString)
	return nil, false
}

// assertScalar accepts a literal or a basic expression.
func assertScalar(ctx *template.Context, t template.Token, what string) (template.Token, bool) {
	switch t.(type) {
	case template.LiteralToken, *template.BasicExpressionToken:
		return t, true
	}
	unexpectedType(ctx, t, what, template.TypeString)
	return nil, false
}

func unexpectedValue(ctx *template.Context, t template.LiteralToken, what string) {
	ctx.Errorf(t, "Unexpected value '%s' for %s", t.String(), what)
}

func isExpression(t template.Token) bool {
	_, ok := t.(template.ExpressionToken)
	return ok
}

// containsExpression reports whether any token in the tree is an expression.
func containsExpression(t template.Token) bool {
	switch x := t.(type) {
	case template.ExpressionToken:
		return true
	case *template.SequenceToken:
		for _, item := range x.Items {
			if containsExpression(item) {
				return true
			}
		}
	case *template.MappingToken:
		for _, p := range x.Pairs {
			if containsExpression(p.Key) || containsExpression(p.Value) {
				return true
			}
		}
	}
	return false
}

// convertToInt reads a non-negative integer literal: a whole number token or
// a string of digits. Expressions are skipped when allowed.
func convertToInt(ctx *template.Context, t template.Token, what, errFormat string, allowExpressions bool, minValue int) (int, bool) {
	if allowExpressions && isExpression(t) {
		return 0, false
	}
	lit, ok := assertLiteral(ctx, t, what)
	if !ok {
		return 0, false
	}

	value, valid := 0, false
	switch x := lit.(type) {
	case *template.NumberToken:
		if x.Value >= 0 && x.Value <= math.MaxInt32 && x.Value == math.Trunc(x.Value) {
			value, valid = int(x.Value), true
		}
	case *template.StringToken:
		if isDigits(x.Value) {
			if n, err := strconv.ParseInt(x.Value, 10, 32); err == nil {
				value, valid = int(n), true
			}
		}
	}
	if valid && value >= minValue {
		return value, true
	}
	ctx.Errorf(lit, errFormat, lit.String())
	return 0, false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

// convertToBool reads a boolean literal or the strings "true" and "false".
func convertToBool(ctx *template.Context, t template.Token, what string) (bool, bool) {
	lit, ok := assertLiteral(ctx, t, what)
	if !ok {
		return false, false
	}
	switch x := lit.(type) {
	case *template.BooleanToken:
		return x.Value, true
	case *template.StringToken:
		switch {
		case strings.EqualFold(x.Value, "true"):
			return true, true
		case strings.EqualFold(x.Value, "false"):
			return false, true
		}
	}
	ctx.Errorf(lit, "Invalid boolean '%s' for %s", lit.String(), what)
	return false, false
}
