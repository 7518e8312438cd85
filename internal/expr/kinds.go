// Package expr implements the condition expression language used by
// workflow documents: a lexer, a parser producing a Node tree, and an
// evaluator with loose typing between seven value kinds.
package expr

// ValueKind classifies an evaluated value.
type ValueKind int

const (
	KindArray ValueKind = iota
	KindBoolean
	KindNull
	KindNumber
	KindObject
	KindString
	KindVersion
)

func (k ValueKind) String() string {
	switch k {
	case KindArray:
		return "Array"
	case KindBoolean:
		return "Boolean"
	case KindNull:
		return "Null"
	case KindNumber:
		return "Number"
	case KindObject:
		return "Object"
	case KindString:
		return "String"
	case KindVersion:
		return "Version"
	default:
		return "Unknown"
	}
}
