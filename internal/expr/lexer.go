package expr

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// TokenKind identifies a lexical token.
type TokenKind int

const (
	TokenStartIndex TokenKind = iota
	TokenStartParameter
	TokenEndIndex
	TokenEndParameter
	TokenSeparator
	TokenDereference

	TokenBoolean
	TokenNumber
	TokenVersion
	TokenString

	TokenPropertyName
	TokenWellKnownFunction
	TokenExtensionNamedValue
	TokenExtensionFunction

	TokenUnrecognized
)

var tokenKindNames = map[TokenKind]string{
	TokenStartIndex:          "StartIndex",
	TokenStartParameter:      "StartParameter",
	TokenEndIndex:            "EndIndex",
	TokenEndParameter:        "EndParameter",
	TokenSeparator:           "Separator",
	TokenDereference:         "Dereference",
	TokenBoolean:             "Boolean",
	TokenNumber:              "Number",
	TokenVersion:             "Version",
	TokenString:              "String",
	TokenPropertyName:        "PropertyName",
	TokenWellKnownFunction:   "WellKnownFunction",
	TokenExtensionNamedValue: "ExtensionNamedValue",
	TokenExtensionFunction:   "ExtensionFunction",
	TokenUnrecognized:        "Unrecognized",
}

func (k TokenKind) String() string {
	if s, ok := tokenKindNames[k]; ok {
		return s
	}
	return "Unknown"
}

// Token is an immutable lexical unit. Index is the 0-based offset of the
// first character within the expression.
type Token struct {
	Kind        TokenKind
	RawValue    string
	Index       int
	ParsedValue any
}

// numberPattern allows a sign and a decimal point but no thousands separator.
var numberPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)$`)

// Lexer splits an expression into tokens. Keywords are classified against
// the well-known functions and the extension names it was built with.
type Lexer struct {
	expression  string
	index       int
	last        *Token
	namedValues map[string]struct{}
	functions   map[string]struct{}
}

// NewLexer builds a lexer. Extension names are matched case-insensitively.
func NewLexer(expression string, namedValues, functions []string) *Lexer {
	l := &Lexer{
		expression:  expression,
		namedValues: make(map[string]struct{}, len(namedValues)),
		functions:   make(map[string]struct{}, len(functions)),
	}
	for _, n := range namedValues {
		l.namedValues[strings.ToLower(n)] = struct{}{}
	}
	for _, f := range functions {
		l.functions[strings.ToLower(f)] = struct{}{}
	}
	return l
}

// TryGetNextToken returns the next token, or false at end of input.
// Malformed input yields an Unrecognized token rather than an error.
func (l *Lexer) TryGetNextToken() (*Token, bool) {
	for l.index < len(l.expression) && isSpace(l.expression[l.index]) {
		l.index++
	}
	if l.index >= len(l.expression) {
		return nil, false
	}

	var tok *Token
	c := l.expression[l.index]
	switch c {
	case '[':
		tok = l.punctuation(TokenStartIndex)
	case '(':
		tok = l.punctuation(TokenStartParameter)
	case ']':
		tok = l.punctuation(TokenEndIndex)
	case ')':
		tok = l.punctuation(TokenEndParameter)
	case ',':
		tok = l.punctuation(TokenSeparator)
	case '.':
		if l.last == nil || l.last.Kind == TokenSeparator || l.last.Kind == TokenStartIndex || l.last.Kind == TokenStartParameter {
			tok = l.readNumberOrVersion()
		} else {
			tok = l.punctuation(TokenDereference)
		}
	case '\'':
		tok = l.readString()
	default:
		switch {
		case c == '-' || c == '+' || (c >= '0' && c <= '9'):
			tok = l.readNumberOrVersion()
		case isKeywordStart(c):
			tok = l.readKeyword()
		default:
			tok = l.readUnrecognized()
		}
	}

	l.last = tok
	return tok, true
}

func (l *Lexer) punctuation(kind TokenKind) *Token {
	tok := &Token{Kind: kind, RawValue: l.expression[l.index : l.index+1], Index: l.index}
	l.index++
	return tok
}

func (l *Lexer) readNumberOrVersion() *Token {
	start := l.index
	periods := 0
	for l.index < len(l.expression) {
		c := l.expression[l.index]
		if isSpace(c) || isBoundary(c) {
			break
		}
		if c == '.' {
			periods++
		}
		l.index++
	}

	raw := l.expression[start:l.index]
	if periods >= 2 {
		if v, ok := ParseVersion(raw); ok {
			return &Token{Kind: TokenVersion, RawValue: raw, Index: start, ParsedValue: v}
		}
	} else if d, ok := parseNumberLiteral(raw); ok {
		return &Token{Kind: TokenNumber, RawValue: raw, Index: start, ParsedValue: d}
	}
	return &Token{Kind: TokenUnrecognized, RawValue: raw, Index: start}
}

func parseNumberLiteral(raw string) (decimal.Decimal, bool) {
	if !numberPattern.MatchString(raw) {
		return decimal.Zero, false
	}
	return parseDecimal(raw)
}

// parseDecimal normalizes sign and bare points before handing off to the
// decimal parser.
func parseDecimal(s string) (decimal.Decimal, bool) {
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	s = strings.TrimSuffix(s, ".")
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if neg {
		d = d.Neg()
	}
	return d, true
}

func (l *Lexer) readString() *Token {
	start := l.index
	l.index++ // opening quote

	var b strings.Builder
	for l.index < len(l.expression) {
		c := l.expression[l.index]
		if c == '\'' {
			if l.index+1 < len(l.expression) && l.expression[l.index+1] == '\'' {
				b.WriteByte('\'')
				l.index += 2
				continue
			}
			l.index++
			return &Token{Kind: TokenString, RawValue: l.expression[start:l.index], Index: start, ParsedValue: b.String()}
		}
		b.WriteByte(c)
		l.index++
	}

	// unterminated
	return &Token{Kind: TokenUnrecognized, RawValue: l.expression[start:], Index: start}
}

func (l *Lexer) readKeyword() *Token {
	start := l.index
	for l.index < len(l.expression) && isKeywordChar(l.expression[l.index]) {
		l.index++
	}
	raw := l.expression[start:l.index]

	if l.last != nil && l.last.Kind == TokenDereference {
		return &Token{Kind: TokenPropertyName, RawValue: raw, Index: start}
	}

	lower := strings.ToLower(raw)
	switch lower {
	case "true":
		return &Token{Kind: TokenBoolean, RawValue: raw, Index: start, ParsedValue: true}
	case "false":
		return &Token{Kind: TokenBoolean, RawValue: raw, Index: start, ParsedValue: false}
	}
	if _, ok := lookupWellKnown(lower); ok {
		return &Token{Kind: TokenWellKnownFunction, RawValue: raw, Index: start}
	}
	if _, ok := l.namedValues[lower]; ok {
		return &Token{Kind: TokenExtensionNamedValue, RawValue: raw, Index: start}
	}
	if _, ok := l.functions[lower]; ok {
		return &Token{Kind: TokenExtensionFunction, RawValue: raw, Index: start}
	}
	return &Token{Kind: TokenUnrecognized, RawValue: raw, Index: start}
}

func (l *Lexer) readUnrecognized() *Token {
	start := l.index
	for l.index < len(l.expression) {
		c := l.expression[l.index]
		if isSpace(c) || isBoundary(c) || c == '.' {
			break
		}
		l.index++
	}
	if l.index == start {
		l.index++
	}
	return &Token{Kind: TokenUnrecognized, RawValue: l.expression[start:l.index], Index: start}
}

func isSpace(c byte) bool {
	return unicode.IsSpace(rune(c))
}

func isBoundary(c byte) bool {
	switch c {
	case '[', '(', ']', ')', ',':
		return true
	}
	return false
}

func isKeywordStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isKeywordChar(c byte) bool {
	return isKeywordStart(c) || (c >= '0' && c <= '9') || c == '-'
}
