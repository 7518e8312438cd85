package template

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// YAMLReader streams the first document of a YAML file. Aliases are
// resolved in place; plain scalars follow the YAML 1.2 core schema.
type YAMLReader struct {
	streamReader
}

// NewYAMLReader parses content. A syntax error is returned immediately.
func NewYAMLReader(fileID int, content []byte) (*YAMLReader, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	var root *yaml.Node
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		root = doc.Content[0]
	}
	return &YAMLReader{streamReader{src: &yamlSource{fileID: fileID, root: root}}}, nil
}

type yamlFrame struct {
	node *yaml.Node
	next int
}

type yamlSource struct {
	fileID int
	root   *yaml.Node
	state  int
	stack  []*yamlFrame
}

func (s *yamlSource) next() (event, bool, error) {
	switch s.state {
	case 0:
		s.state = 1
		return event{kind: eventDocumentStart}, true, nil
	case 1:
		s.state = 2
		if s.root == nil {
			return event{kind: eventScalar, token: &NullToken{Position: Position{FileID: s.fileID}}}, true, nil
		}
		return s.value(s.root)
	case 2:
		if len(s.stack) == 0 {
			s.state = 3
			return event{kind: eventDocumentEnd}, true, nil
		}
		top := s.stack[len(s.stack)-1]
		if top.next < len(top.node.Content) {
			child := top.node.Content[top.next]
			top.next++
			return s.value(child)
		}
		s.stack = s.stack[:len(s.stack)-1]
		if top.node.Kind == yaml.MappingNode {
			return event{kind: eventMappingEnd}, true, nil
		}
		return event{kind: eventSequenceEnd}, true, nil
	}
	return event{}, false, nil
}

func (s *yamlSource) value(n *yaml.Node) (event, bool, error) {
	for n.Kind == yaml.AliasNode {
		if n.Alias == nil {
			return event{}, false, fmt.Errorf("line %d: unresolved alias", n.Line)
		}
		n = n.Alias
	}

	p := Position{FileID: s.fileID, Line: n.Line, Column: n.Column}
	switch n.Kind {
	case yaml.MappingNode:
		s.stack = append(s.stack, &yamlFrame{node: n})
		return event{kind: eventMappingStart, token: &MappingToken{Position: p}}, true, nil
	case yaml.SequenceNode:
		s.stack = append(s.stack, &yamlFrame{node: n})
		return event{kind: eventSequenceStart, token: &SequenceToken{Position: p}}, true, nil
	case yaml.ScalarNode:
		return event{kind: eventScalar, token: yamlScalar(n, p)}, true, nil
	}
	return event{}, false, fmt.Errorf("line %d: unexpected yaml node kind %d", n.Line, n.Kind)
}

var (
	yamlNull  = regexp.MustCompile(`^(null|Null|NULL|~|)$`)
	yamlTrue  = regexp.MustCompile(`^(true|True|TRUE)$`)
	yamlFalse = regexp.MustCompile(`^(false|False|FALSE)$`)
	yamlInt   = regexp.MustCompile(`^([-+]?[0-9]+|0o[0-7]+|0x[0-9a-fA-F]+)$`)
	yamlFloat = regexp.MustCompile(`^([-+]?(\.[0-9]+|[0-9]+(\.[0-9]*)?)([eE][-+]?[0-9]+)?|[-+]?\.(inf|Inf|INF)|\.(nan|NaN|NAN))$`)
)

// yamlScalar types a scalar. Quoted and block scalars are always strings;
// an explicit tag wins over the plain-scalar rules.
func yamlScalar(n *yaml.Node, p Position) LiteralToken {
	tag := n.Tag
	if n.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle|yaml.LiteralStyle|yaml.FoldedStyle) != 0 && !explicitTag(n) {
		return &StringToken{Position: p, Value: n.Value}
	}
	if !explicitTag(n) {
		tag = ""
		switch {
		case yamlNull.MatchString(n.Value):
			tag = "!!null"
		case yamlTrue.MatchString(n.Value), yamlFalse.MatchString(n.Value):
			tag = "!!bool"
		case yamlInt.MatchString(n.Value):
			tag = "!!int"
		case yamlFloat.MatchString(n.Value):
			tag = "!!float"
		}
	}

	switch tag {
	case "!!null":
		return &NullToken{Position: p}
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err == nil {
			return &BooleanToken{Position: p, Value: b}
		}
	case "!!int", "!!float":
		var f float64
		if err := n.Decode(&f); err == nil {
			return &NumberToken{Position: p, Value: f}
		}
	}
	return &StringToken{Position: p, Value: n.Value}
}

// explicitTag reports whether the document itself tagged the node, as in
// "!!str 123".
func explicitTag(n *yaml.Node) bool {
	return n.Tag != "" && n.Style&yaml.TaggedStyle != 0 && strings.HasPrefix(n.Tag, "!!")
}
