package expr

import (
	"fmt"
	"strings"
)

// ParseErrorKind classifies a parse failure.
type ParseErrorKind int

const (
	ErrExpectedPropertyName ParseErrorKind = iota
	ErrExpectedStartParameter
	ErrUnclosedFunction
	ErrUnclosedIndexer
	ErrUnexpectedSymbol
	ErrUnrecognizedValue
)

func (k ParseErrorKind) description() string {
	switch k {
	case ErrExpectedPropertyName:
		return "Expected property name to follow deference operator"
	case ErrExpectedStartParameter:
		return "Expected '(' to follow function"
	case ErrUnclosedFunction:
		return "Unclosed function"
	case ErrUnclosedIndexer:
		return "Unclosed indexer"
	case ErrUnexpectedSymbol:
		return "Unexpected symbol"
	default:
		return "Unrecognized value"
	}
}

// ParseError locates a syntax error within an expression.
type ParseError struct {
	Kind       ParseErrorKind
	RawToken   string
	Position   int // 1-based
	Expression string
}

func newParseError(kind ParseErrorKind, tok *Token, expression string) *ParseError {
	e := &ParseError{Kind: kind, Expression: expression}
	if tok != nil {
		e.RawToken = tok.RawValue
		e.Position = tok.Index + 1
	}
	return e
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: '%s'. Located at position %d within condition expression: %s",
		e.Kind.description(), e.RawToken, e.Position, e.Expression)
}

type containerInfo struct {
	node  ContainerNode
	token *Token
}

type parser struct {
	expression  string
	lexer       *Lexer
	trace       TraceWriter
	namedValues map[string]NamedValueInfo
	functions   map[string]*FunctionInfo
	containers  []containerInfo
	token       *Token
	last        *Token
	root        Node
}

// CreateTree parses expression in a single left-to-right pass. Named values
// and extension functions are resolved case-insensitively. An empty
// expression yields a nil node and no error.
func CreateTree(expression string, trace TraceWriter, namedValues []NamedValueInfo, functions []FunctionInfo) (Node, error) {
	if trace == nil {
		trace = NoopTrace{}
	}
	p := &parser{
		expression:  expression,
		lexer:       NewLexer(expression, namedValueNames(namedValues), functionNames(functions)),
		trace:       trace,
		namedValues: make(map[string]NamedValueInfo, len(namedValues)),
		functions:   make(map[string]*FunctionInfo, len(functions)),
	}
	for _, nv := range namedValues {
		p.namedValues[strings.ToLower(nv.Name)] = nv
	}
	for i := range functions {
		p.functions[strings.ToLower(functions[i].Name)] = &functions[i]
	}

	trace.Info(fmt.Sprintf("Parsing: <%s>", expression))
	for p.next() {
		var err error
		switch p.token.Kind {
		case TokenStartIndex:
			err = p.handleStartIndex()
		case TokenEndIndex:
			err = p.handleEndIndex()
		case TokenEndParameter:
			err = p.handleEndParameter()
		case TokenSeparator:
			err = p.handleSeparator()
		case TokenDereference:
			err = p.handleDereference()
		case TokenWellKnownFunction, TokenExtensionFunction:
			err = p.handleFunction()
		case TokenBoolean, TokenNumber, TokenVersion, TokenString, TokenExtensionNamedValue:
			err = p.handleValue()
		case TokenUnrecognized:
			err = newParseError(ErrUnrecognizedValue, p.token, expression)
		default:
			err = newParseError(ErrUnexpectedSymbol, p.token, expression)
		}
		if err != nil {
			return nil, err
		}
	}

	if len(p.containers) > 0 {
		top := p.containers[len(p.containers)-1]
		if _, ok := top.node.(*FunctionNode); ok {
			return nil, newParseError(ErrUnclosedFunction, top.token, expression)
		}
		return nil, newParseError(ErrUnclosedIndexer, top.token, expression)
	}

	return p.root, nil
}

func (p *parser) next() bool {
	p.last = p.token
	tok, ok := p.lexer.TryGetNextToken()
	if !ok {
		return false
	}
	p.token = tok

	depth := len(p.containers)
	if depth > 0 {
		switch tok.Kind {
		case TokenStartParameter, TokenEndParameter, TokenEndIndex:
			depth--
		}
	}
	switch tok.Kind {
	case TokenBoolean, TokenNumber, TokenVersion, TokenString:
		p.trace.Verbose(fmt.Sprintf("%s%s %s", indent(depth), tok.Kind, literalExpression(tok.ParsedValue)))
	case TokenPropertyName, TokenUnrecognized:
		p.trace.Verbose(fmt.Sprintf("%s%s '%s'", indent(depth), tok.Kind, tok.RawValue))
	default:
		p.trace.Verbose(indent(depth) + tok.RawValue)
	}
	return true
}

func (p *parser) lastKindIs(kinds ...TokenKind) bool {
	if p.last == nil {
		return false
	}
	for _, k := range kinds {
		if p.last.Kind == k {
			return true
		}
	}
	return false
}

func (p *parser) top() *containerInfo {
	if len(p.containers) == 0 {
		return nil
	}
	return &p.containers[len(p.containers)-1]
}

// wrapInIndexer replaces the most recent operand with an indexer over it.
func (p *parser) wrapInIndexer() *IndexerNode {
	indexer := &IndexerNode{}
	var obj Node
	if top := p.top(); top != nil {
		params := top.node.Parameters()
		i := len(params) - 1
		obj = params[i]
		top.node.ReplaceParameter(i, indexer)
	} else {
		obj = p.root
		p.root = indexer
	}
	indexer.AddParameter(obj)
	return indexer
}

func (p *parser) followsOperand() bool {
	return p.lastKindIs(TokenEndParameter, TokenEndIndex, TokenPropertyName, TokenExtensionNamedValue)
}

func (p *parser) handleStartIndex() error {
	if !p.followsOperand() {
		return newParseError(ErrUnexpectedSymbol, p.token, p.expression)
	}
	indexer := p.wrapInIndexer()
	p.containers = append(p.containers, containerInfo{node: indexer, token: p.token})
	return nil
}

func (p *parser) handleDereference() error {
	if !p.followsOperand() {
		return newParseError(ErrUnexpectedSymbol, p.token, p.expression)
	}
	indexer := p.wrapInIndexer()

	if !p.next() {
		return newParseError(ErrExpectedPropertyName, p.last, p.expression)
	}
	if p.token.Kind != TokenPropertyName {
		return newParseError(ErrUnexpectedSymbol, p.token, p.expression)
	}
	indexer.AddParameter(NewLiteralNode(p.token.RawValue))
	return nil
}

func (p *parser) handleEndParameter() error {
	top := p.top()
	if top == nil {
		return newParseError(ErrUnexpectedSymbol, p.token, p.expression)
	}
	fn, ok := top.node.(*FunctionNode)
	if !ok || p.lastKindIs(TokenSeparator) {
		return newParseError(ErrUnexpectedSymbol, p.token, p.expression)
	}
	if n := len(fn.Parameters()); n < p.minParams(fn) || n > p.maxParams(fn) {
		return newParseError(ErrUnexpectedSymbol, p.token, p.expression)
	}
	p.containers = p.containers[:len(p.containers)-1]
	return nil
}

func (p *parser) handleEndIndex() error {
	top := p.top()
	if top == nil {
		return newParseError(ErrUnexpectedSymbol, p.token, p.expression)
	}
	indexer, ok := top.node.(*IndexerNode)
	if !ok || len(indexer.Parameters()) != 2 {
		return newParseError(ErrUnexpectedSymbol, p.token, p.expression)
	}
	p.containers = p.containers[:len(p.containers)-1]
	return nil
}

func (p *parser) handleValue() error {
	if p.last != nil && !p.lastKindIs(TokenStartIndex, TokenStartParameter, TokenSeparator) {
		return newParseError(ErrUnexpectedSymbol, p.token, p.expression)
	}

	var node Node
	if p.token.Kind == TokenExtensionNamedValue {
		info := p.namedValues[strings.ToLower(p.token.RawValue)]
		node = &NamedValueNode{name: info.Name, info: info}
	} else {
		node = NewLiteralNode(p.token.ParsedValue)
	}
	p.attach(node)
	return nil
}

func (p *parser) handleSeparator() error {
	top := p.top()
	if top == nil {
		return newParseError(ErrUnexpectedSymbol, p.token, p.expression)
	}
	fn, ok := top.node.(*FunctionNode)
	if !ok || len(fn.Parameters()) < 1 || len(fn.Parameters()) >= p.maxParams(fn) || p.lastKindIs(TokenSeparator) {
		return newParseError(ErrUnexpectedSymbol, p.token, p.expression)
	}
	return nil
}

func (p *parser) handleFunction() error {
	if p.last != nil && !p.lastKindIs(TokenSeparator, TokenStartIndex, TokenStartParameter) {
		return newParseError(ErrUnexpectedSymbol, p.token, p.expression)
	}

	var node *FunctionNode
	if p.token.Kind == TokenWellKnownFunction {
		wk, _ := lookupWellKnown(p.token.RawValue)
		node = &FunctionNode{Kind: wk.kind, name: wk.name}
	} else {
		info := p.functions[strings.ToLower(p.token.RawValue)]
		node = &FunctionNode{Kind: FuncExtension, name: info.Name, ext: info}
	}
	p.attach(node)
	p.containers = append(p.containers, containerInfo{node: node, token: p.token})

	if !p.next() || p.token.Kind != TokenStartParameter {
		return newParseError(ErrExpectedStartParameter, p.last, p.expression)
	}
	return nil
}

func (p *parser) attach(n Node) {
	if p.root == nil {
		p.root = n
		return
	}
	p.top().node.AddParameter(n)
}

func (p *parser) minParams(fn *FunctionNode) int {
	if fn.ext != nil {
		return fn.ext.MinParameters
	}
	wk, _ := lookupWellKnown(fn.name)
	return wk.min
}

func (p *parser) maxParams(fn *FunctionNode) int {
	if fn.ext != nil {
		return fn.ext.MaxParameters
	}
	wk, _ := lookupWellKnown(fn.name)
	return wk.max
}
