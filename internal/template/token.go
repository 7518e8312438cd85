// Package template reads workflow documents into a typed token tree and
// evaluates the expressions embedded in that tree.
package template

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TokenType enumerates the template token variants.
type TokenType int

const (
	TypeNull TokenType = iota
	TypeBoolean
	TypeNumber
	TypeString
	TypeBasicExpression
	TypeInsertExpression
	TypeSequence
	TypeMapping
)

func (t TokenType) String() string {
	switch t {
	case TypeNull:
		return "Null"
	case TypeBoolean:
		return "Boolean"
	case TypeNumber:
		return "Number"
	case TypeString:
		return "String"
	case TypeBasicExpression:
		return "BasicExpression"
	case TypeInsertExpression:
		return "InsertExpression"
	case TypeSequence:
		return "Sequence"
	case TypeMapping:
		return "Mapping"
	}
	return "Unknown"
}

// Position locates a token in its source file. FileID indexes the
// context file table; 0 means unknown.
type Position struct {
	FileID int
	Line   int
	Column int
}

// Token is a node of the template tree.
type Token interface {
	Type() TokenType
	Pos() Position
	// Clone deep-copies the token. omitSource drops position information.
	Clone(omitSource bool) Token
	// String is the canonical scalar rendering. Null is "null", booleans
	// are "true" or "false".
	String() string
}

// LiteralToken marks the scalar variants.
type LiteralToken interface {
	Token
	literal()
}

// ExpressionToken marks the expression variants.
type ExpressionToken interface {
	Token
	expression()
}

type NullToken struct{ Position Position }

type BooleanToken struct {
	Position Position
	Value    bool
}

type NumberToken struct {
	Position Position
	Value    float64
}

type StringToken struct {
	Position Position
	Value    string
}

// BasicExpressionToken holds an expression evaluated at runtime.
type BasicExpressionToken struct {
	Position   Position
	Expression string
}

// InsertExpressionToken is the ${{ insert }} directive used as a mapping
// key; its value mapping is merged into the parent.
type InsertExpressionToken struct{ Position Position }

type SequenceToken struct {
	Position Position
	Items    []Token
}

// Pair is one mapping entry. Keys are literal or expression tokens.
type Pair struct {
	Key   Token
	Value Token
}

// MappingToken preserves insertion order.
type MappingToken struct {
	Position Position
	Pairs    []Pair
}

func (*NullToken) Type() TokenType             { return TypeNull }
func (*BooleanToken) Type() TokenType          { return TypeBoolean }
func (*NumberToken) Type() TokenType           { return TypeNumber }
func (*StringToken) Type() TokenType           { return TypeString }
func (*BasicExpressionToken) Type() TokenType  { return TypeBasicExpression }
func (*InsertExpressionToken) Type() TokenType { return TypeInsertExpression }
func (*SequenceToken) Type() TokenType         { return TypeSequence }
func (*MappingToken) Type() TokenType          { return TypeMapping }

func (t *NullToken) Pos() Position             { return t.Position }
func (t *BooleanToken) Pos() Position          { return t.Position }
func (t *NumberToken) Pos() Position           { return t.Position }
func (t *StringToken) Pos() Position           { return t.Position }
func (t *BasicExpressionToken) Pos() Position  { return t.Position }
func (t *InsertExpressionToken) Pos() Position { return t.Position }
func (t *SequenceToken) Pos() Position         { return t.Position }
func (t *MappingToken) Pos() Position          { return t.Position }

func (*NullToken) literal()    {}
func (*BooleanToken) literal() {}
func (*NumberToken) literal()  {}
func (*StringToken) literal()  {}

func (*BasicExpressionToken) expression()  {}
func (*InsertExpressionToken) expression() {}

func (t *NullToken) String() string { return "null" }

func (t *BooleanToken) String() string {
	if t.Value {
		return "true"
	}
	return "false"
}

func (t *NumberToken) String() string {
	return strconv.FormatFloat(t.Value, 'f', -1, 64)
}

func (t *StringToken) String() string { return t.Value }

func (t *BasicExpressionToken) String() string {
	return fmt.Sprintf("${{ %s }}", t.Expression)
}

func (t *InsertExpressionToken) String() string { return "${{ insert }}" }

func (t *SequenceToken) String() string { return "Sequence" }

func (t *MappingToken) String() string { return "Mapping" }

func pos(p Position, omit bool) Position {
	if omit {
		return Position{}
	}
	return p
}

func (t *NullToken) Clone(omit bool) Token { return &NullToken{Position: pos(t.Position, omit)} }

func (t *BooleanToken) Clone(omit bool) Token {
	return &BooleanToken{Position: pos(t.Position, omit), Value: t.Value}
}

func (t *NumberToken) Clone(omit bool) Token {
	return &NumberToken{Position: pos(t.Position, omit), Value: t.Value}
}

func (t *StringToken) Clone(omit bool) Token {
	return &StringToken{Position: pos(t.Position, omit), Value: t.Value}
}

func (t *BasicExpressionToken) Clone(omit bool) Token {
	return &BasicExpressionToken{Position: pos(t.Position, omit), Expression: t.Expression}
}

func (t *InsertExpressionToken) Clone(omit bool) Token {
	return &InsertExpressionToken{Position: pos(t.Position, omit)}
}

func (t *SequenceToken) Clone(omit bool) Token {
	out := &SequenceToken{Position: pos(t.Position, omit), Items: make([]Token, len(t.Items))}
	for i, item := range t.Items {
		out.Items[i] = item.Clone(omit)
	}
	return out
}

func (t *MappingToken) Clone(omit bool) Token {
	out := &MappingToken{Position: pos(t.Position, omit), Pairs: make([]Pair, len(t.Pairs))}
	for i, p := range t.Pairs {
		out.Pairs[i] = Pair{Key: p.Key.Clone(omit), Value: p.Value.Clone(omit)}
	}
	return out
}

// Get returns the value for a literal key, matched case-insensitively.
func (t *MappingToken) Get(key string) (Token, bool) {
	for _, p := range t.Pairs {
		if _, ok := p.Key.(LiteralToken); ok && strings.EqualFold(p.Key.String(), key) {
			return p.Value, true
		}
	}
	return nil, false
}

// Add appends a pair with a string key.
func (t *MappingToken) Add(key string, value Token) {
	t.Pairs = append(t.Pairs, Pair{Key: &StringToken{Value: key}, Value: value})
}

// Equal compares two token trees structurally, ignoring positions.
// Mappings compare as unordered sets of keys.
func Equal(a, b Token) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Type() != b.Type() {
		return false
	}
	switch x := a.(type) {
	case *NullToken:
		return true
	case *BooleanToken:
		return x.Value == b.(*BooleanToken).Value
	case *NumberToken:
		return x.Value == b.(*NumberToken).Value
	case *StringToken:
		return x.Value == b.(*StringToken).Value
	case *BasicExpressionToken:
		return x.Expression == b.(*BasicExpressionToken).Expression
	case *InsertExpressionToken:
		return true
	case *SequenceToken:
		y := b.(*SequenceToken)
		if len(x.Items) != len(y.Items) {
			return false
		}
		for i := range x.Items {
			if !Equal(x.Items[i], y.Items[i]) {
				return false
			}
		}
		return true
	case *MappingToken:
		y := b.(*MappingToken)
		if len(x.Pairs) != len(y.Pairs) {
			return false
		}
		for _, p := range x.Pairs {
			found := false
			for _, q := range y.Pairs {
				if Equal(p.Key, q.Key) {
					if !Equal(p.Value, q.Value) {
						return false
					}
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
	return false
}

// ToContextData converts a token tree into plain Go values: nil, bool,
// float64, string, []any and map[string]any. Expression tokens render as
// their ${{ }} text.
func ToContextData(t Token) any {
	switch x := t.(type) {
	case nil, *NullToken:
		return nil
	case *BooleanToken:
		return x.Value
	case *NumberToken:
		return x.Value
	case *StringToken:
		return x.Value
	case *SequenceToken:
		out := make([]any, 0, len(x.Items))
		for _, item := range x.Items {
			out = append(out, ToContextData(item))
		}
		return out
	case *MappingToken:
		out := make(map[string]any, len(x.Pairs))
		for _, p := range x.Pairs {
			out[p.Key.String()] = ToContextData(p.Value)
		}
		return out
	default:
		return t.String()
	}
}

// FromContextData converts plain Go values back into tokens. Map keys are
// sorted so the result is deterministic.
func FromContextData(v any) (Token, error) {
	switch x := v.(type) {
	case nil:
		return &NullToken{}, nil
	case bool:
		return &BooleanToken{Value: x}, nil
	case float64:
		return &NumberToken{Value: x}, nil
	case int:
		return &NumberToken{Value: float64(x)}, nil
	case int64:
		return &NumberToken{Value: float64(x)}, nil
	case string:
		return &StringToken{Value: x}, nil
	case []any:
		seq := &SequenceToken{}
		for _, item := range x {
			t, err := FromContextData(item)
			if err != nil {
				return nil, err
			}
			seq.Items = append(seq.Items, t)
		}
		return seq, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := &MappingToken{}
		for _, k := range keys {
			t, err := FromContextData(x[k])
			if err != nil {
				return nil, err
			}
			m.Add(k, t)
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported context data type %T", v)
}
