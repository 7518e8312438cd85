package template

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/runway/internal/expr"
	"github.com/shopspring/decimal"
)

const (
	openExpression  = "${{"
	closeExpression = "}}"
	insertDirective = "insert"
)

// errStop aborts materialization after a fatal content error has already
// been recorded in the context.
var errStop = errors.New("stop")

// Read materializes the document behind r into a token tree. Content errors
// (malformed input, bad expressions, duplicate keys, exceeded limits) are
// recorded in ctx.Errors and may leave a nil or partial result. The returned
// error is reserved for reader protocol violations.
func Read(ctx *Context, r ObjectReader) (Token, error) {
	m := &materializer{ctx: ctx, r: r}

	if err := r.ValidateStart(); err != nil {
		return nil, m.fatal(err)
	}

	value, err := m.readValue()
	if err != nil {
		if errors.Is(err, errStop) {
			return nil, nil
		}
		return nil, err
	}

	if err := r.ValidateEnd(); err != nil {
		return nil, m.fatal(err)
	}
	return value, nil
}

type materializer struct {
	ctx *Context
	r   ObjectReader
}

// fatal passes protocol errors through and records anything else.
func (m *materializer) fatal(err error) error {
	if errors.Is(err, ErrReaderProtocol) {
		return err
	}
	m.ctx.Error(nil, err)
	return nil
}

func (m *materializer) stop(t Token, err error) error {
	m.ctx.Error(t, err)
	return errStop
}

func (m *materializer) readValue() (Token, error) {
	mem := m.ctx.Memory
	if err := mem.IncrementEvents(); err != nil {
		return nil, m.stop(nil, err)
	}

	if lit, ok := m.r.AllowScalar(); ok {
		if err := mem.AddBytes(lit.String()); err != nil {
			return nil, m.stop(lit, err)
		}
		t := m.parseScalar(lit, false)
		return t, nil
	}

	if seq, ok := m.r.AllowSequenceStart(); ok {
		if err := mem.IncrementDepth(); err != nil {
			return nil, m.stop(seq, err)
		}
		for !m.r.AllowSequenceEnd() {
			item, err := m.readValue()
			if err != nil {
				return nil, err
			}
			seq.Items = append(seq.Items, item)
		}
		mem.DecrementDepth()
		return seq, nil
	}

	if mapping, ok := m.r.AllowMappingStart(); ok {
		if err := mem.IncrementDepth(); err != nil {
			return nil, m.stop(mapping, err)
		}
		if err := m.readMapping(mapping); err != nil {
			return nil, err
		}
		mem.DecrementDepth()
		return mapping, nil
	}

	if err := m.r.Err(); err != nil {
		return nil, m.stop(nil, err)
	}
	return nil, fmt.Errorf("%w: expected a scalar, sequence or mapping", ErrReaderProtocol)
}

func (m *materializer) readMapping(mapping *MappingToken) error {
	seen := make(map[string]struct{})
	for !m.r.AllowMappingEnd() {
		if err := m.ctx.Memory.IncrementEvents(); err != nil {
			return m.stop(mapping, err)
		}

		lit, ok := m.r.AllowScalar()
		if !ok {
			// Complex keys are read and discarded along with their value.
			key, err := m.readValue()
			if err != nil {
				return err
			}
			m.ctx.Errorf(key, "A mapping key must be a string")
			if _, err := m.readValue(); err != nil {
				return err
			}
			continue
		}
		if err := m.ctx.Memory.AddBytes(lit.String()); err != nil {
			return m.stop(lit, err)
		}
		key := m.parseScalar(lit, true)

		value, err := m.readValue()
		if err != nil {
			return err
		}

		if _, isLiteral := key.(LiteralToken); isLiteral {
			name := strings.ToLower(key.String())
			if _, dup := seen[name]; dup {
				m.ctx.Errorf(key, "'%s' is already defined", key.String())
				continue
			}
			seen[name] = struct{}{}
			key = &StringToken{Position: key.Pos(), Value: key.String()}
		}
		mapping.Pairs = append(mapping.Pairs, Pair{Key: key, Value: value})
	}
	return nil
}

type segment struct {
	expression bool
	text       string
}

// parseScalar turns a string scalar containing ${{ }} into an expression
// token. Anything that fails validation is recorded and returned as the
// original literal.
func (m *materializer) parseScalar(lit LiteralToken, allowInsert bool) Token {
	str, ok := lit.(*StringToken)
	if !ok || !strings.Contains(str.Value, openExpression) {
		return lit
	}

	segments, ok := splitSegments(str.Value)
	if !ok {
		m.ctx.Errorf(lit, "The expression is not closed. An unescaped ${{ sequence was found, but the closing }} sequence was not found.")
		return lit
	}

	if len(segments) == 1 && segments[0].expression {
		e := segments[0].text
		switch {
		case e == insertDirective:
			if allowInsert {
				return &InsertExpressionToken{Position: lit.Pos()}
			}
			m.ctx.Errorf(lit, "The directive '%s' is not allowed in this context. Directives are not supported for expressions that are embedded within a string. Directives are only supported when the entire value is an expression.", insertDirective)
			return lit
		case e == "":
			m.ctx.Errorf(lit, "An expression was expected")
			return lit
		}

		root, err := expr.CreateTree(e, m.ctx.Trace, m.ctx.NamedValues, m.ctx.Functions)
		if err != nil {
			m.ctx.Error(lit, err)
			return lit
		}
		if folded, ok := foldLiteral(root, lit.Pos()); ok {
			return folded
		}
		return &BasicExpressionToken{Position: lit.Pos(), Expression: e}
	}

	var (
		format strings.Builder
		args   []string
	)
	for _, seg := range segments {
		if !seg.expression {
			format.WriteString(escapeFormatLiteral(seg.text))
			continue
		}
		switch seg.text {
		case "":
			m.ctx.Errorf(lit, "An expression was expected")
			return lit
		case insertDirective:
			m.ctx.Errorf(lit, "The directive '%s' is not allowed in this context. Directives are not supported for expressions that are embedded within a string. Directives are only supported when the entire value is an expression.", insertDirective)
			return lit
		}
		if _, err := expr.CreateTree(seg.text, m.ctx.Trace, m.ctx.NamedValues, m.ctx.Functions); err != nil {
			m.ctx.Error(lit, err)
			return lit
		}
		fmt.Fprintf(&format, "{%d}", len(args))
		args = append(args, seg.text)
	}

	e := fmt.Sprintf("format('%s', %s)", format.String(), strings.Join(args, ", "))
	return &BasicExpressionToken{Position: lit.Pos(), Expression: e}
}

// splitSegments separates literal text from ${{ }} expressions. Closing
// braces inside single-quoted strings do not end an expression.
func splitSegments(raw string) ([]segment, bool) {
	var out []segment
	i := 0
	for i < len(raw) {
		start := strings.Index(raw[i:], openExpression)
		if start < 0 {
			out = append(out, segment{text: raw[i:]})
			break
		}
		start += i
		if start > i {
			out = append(out, segment{text: raw[i:start]})
		}

		end := -1
		inString := false
		for j := start + len(openExpression); j < len(raw); j++ {
			c := raw[j]
			if c == '\'' {
				inString = !inString
			} else if !inString && c == '}' && j+1 < len(raw) && raw[j+1] == '}' {
				end = j
				break
			}
		}
		if end < 0 {
			return nil, false
		}
		out = append(out, segment{expression: true, text: strings.TrimSpace(raw[start+len(openExpression) : end])})
		i = end + len(closeExpression)
	}
	return out, true
}

func escapeFormatLiteral(s string) string {
	s = strings.ReplaceAll(s, "'", "''")
	s = strings.ReplaceAll(s, "{", "{{")
	return strings.ReplaceAll(s, "}", "}}")
}

// foldLiteral turns ${{ 'text' }}, ${{ 1 }} and ${{ true }} into literal
// tokens.
func foldLiteral(root expr.Node, p Position) (Token, bool) {
	lit, ok := root.(*expr.LiteralNode)
	if !ok {
		return nil, false
	}
	switch v := lit.Value.(type) {
	case bool:
		return &BooleanToken{Position: p, Value: v}, true
	case string:
		return &StringToken{Position: p, Value: v}, true
	case decimal.Decimal:
		return &NumberToken{Position: p, Value: v.InexactFloat64()}, true
	case expr.Version:
		return &StringToken{Position: p, Value: v.String()}, true
	}
	return nil, false
}
