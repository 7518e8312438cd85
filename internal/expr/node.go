package expr

import (
	"fmt"
	"strings"
)

// Node is an element of a parsed expression tree.
type Node interface {
	// Name is "literal", "indexer", or the function or named value name.
	Name() string
	// Container is the enclosing function or indexer, nil for the root.
	Container() ContainerNode
	// Level is the depth below the root; it only drives trace indentation.
	Level() int
	// ConvertToExpression renders the canonical expression text.
	ConvertToExpression() string
	// ConvertToRealizedExpression renders the expression with evaluated
	// values substituted where results are cached in ctx.
	ConvertToRealizedExpression(ctx *EvaluationContext) string

	setContainer(c ContainerNode)
}

// ContainerNode is a node with ordered child parameters.
type ContainerNode interface {
	Node
	Parameters() []Node
	AddParameter(n Node)
	ReplaceParameter(i int, n Node)
}

type nodeBase struct {
	container ContainerNode
}

func (b *nodeBase) Container() ContainerNode { return b.container }

func (b *nodeBase) setContainer(c ContainerNode) { b.container = c }

func (b *nodeBase) Level() int {
	if b.container == nil {
		return 0
	}
	return b.container.Level() + 1
}

type params struct {
	items []Node
}

func (p *params) add(owner ContainerNode, n Node) {
	p.items = append(p.items, n)
	n.setContainer(owner)
}

func (p *params) replace(owner ContainerNode, i int, n Node) {
	p.items[i] = n
	n.setContainer(owner)
}

// LiteralNode holds a bool, decimal.Decimal, string or Version.
type LiteralNode struct {
	nodeBase
	Value any
}

// NewLiteralNode wraps a lexer value.
func NewLiteralNode(v any) *LiteralNode {
	return &LiteralNode{Value: v}
}

func (n *LiteralNode) Name() string { return "literal" }

func (n *LiteralNode) ConvertToExpression() string {
	return literalExpression(n.Value)
}

func (n *LiteralNode) ConvertToRealizedExpression(*EvaluationContext) string {
	return n.ConvertToExpression()
}

// NamedValueNode resolves through a registered NamedValueInfo.
type NamedValueNode struct {
	nodeBase
	name string
	info NamedValueInfo
}

func (n *NamedValueNode) Name() string { return n.name }

func (n *NamedValueNode) ConvertToExpression() string { return n.name }

func (n *NamedValueNode) ConvertToRealizedExpression(ctx *EvaluationContext) string {
	if r, ok := ctx.Results[n]; ok {
		return r.realizedExpression()
	}
	return n.name
}

// IndexerNode has two parameters: the object and the index.
type IndexerNode struct {
	nodeBase
	params
}

func (n *IndexerNode) Name() string                  { return "indexer" }
func (n *IndexerNode) Parameters() []Node            { return n.items }
func (n *IndexerNode) AddParameter(c Node)           { n.add(n, c) }
func (n *IndexerNode) ReplaceParameter(i int, c Node) { n.replace(n, i, c) }

func (n *IndexerNode) ConvertToExpression() string {
	return fmt.Sprintf("%s[%s]", expressionOf(n.items, 0), expressionOf(n.items, 1))
}

func (n *IndexerNode) ConvertToRealizedExpression(ctx *EvaluationContext) string {
	if r, ok := ctx.Results[n]; ok {
		return r.realizedExpression()
	}
	return n.ConvertToExpression()
}

// FunctionNode is a call to a well-known or extension function.
type FunctionNode struct {
	nodeBase
	params
	Kind FunctionKind
	name string
	ext  *FunctionInfo
}

func (n *FunctionNode) Name() string                  { return n.name }
func (n *FunctionNode) Parameters() []Node            { return n.items }
func (n *FunctionNode) AddParameter(c Node)           { n.add(n, c) }
func (n *FunctionNode) ReplaceParameter(i int, c Node) { n.replace(n, i, c) }

func (n *FunctionNode) ConvertToExpression() string {
	parts := make([]string, len(n.items))
	for i, p := range n.items {
		parts[i] = p.ConvertToExpression()
	}
	return fmt.Sprintf("%s(%s)", n.name, strings.Join(parts, ", "))
}

func (n *FunctionNode) ConvertToRealizedExpression(ctx *EvaluationContext) string {
	if n.Kind.traceFullyRealized() {
		if r, ok := ctx.Results[n]; ok {
			return r.realizedExpression()
		}
	}
	parts := make([]string, len(n.items))
	for i, p := range n.items {
		parts[i] = p.ConvertToRealizedExpression(ctx)
	}
	return fmt.Sprintf("%s(%s)", n.name, strings.Join(parts, ", "))
}

func expressionOf(items []Node, i int) string {
	if i < len(items) {
		return items[i].ConvertToExpression()
	}
	return ""
}

func literalExpression(v any) string {
	switch t := v.(type) {
	case bool:
		return formatBool(t)
	case string:
		return quoteString(t)
	case Version:
		return "v" + t.String()
	default:
		if s, ok := numberString(v); ok {
			return s
		}
		return fmt.Sprint(v)
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Walk visits n and its descendants depth first. It stops descending when
// fn returns false.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	if c, ok := n.(ContainerNode); ok {
		for _, p := range c.Parameters() {
			Walk(p, fn)
		}
	}
}
