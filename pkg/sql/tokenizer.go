// Package sql provides the SQL lexing and statement checks used by the safety validator.
package sql

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	ErrUnterminatedString     = errors.New("unterminated string literal")
	ErrUnterminatedIdentifier = errors.New("unterminated quoted identifier")
	ErrUnterminatedComment    = errors.New("unterminated block comment")
	ErrUnbalancedParens       = errors.New("unbalanced parentheses")
)

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokenWord        TokenKind = iota // keyword or bare identifier
	TokenQuotedIdent                  // "name", `name` or [name]
	TokenString                       // 'literal'; Text holds the unescaped value
	TokenNumber
	TokenSymbol // operators and other punctuation
	TokenComma
	TokenDot
	TokenLParen
	TokenRParen
	TokenSemicolon
)

// Token is one lexical unit. Depth is the parenthesis nesting level the token
// appears at; a '(' carries the depth outside it.
type Token struct {
	Kind  TokenKind
	Text  string
	Pos   int
	Depth int
}

// Upper returns the token text upper-cased.
func (t Token) Upper() string {
	return strings.ToUpper(t.Text)
}

// IsWord reports whether t is a bare word equal to kw (case-insensitive).
func (t Token) IsWord(kw string) bool {
	return t.Kind == TokenWord && strings.EqualFold(t.Text, kw)
}

// IsName reports whether t can name a table or column.
func (t Token) IsName() bool {
	return t.Kind == TokenWord || t.Kind == TokenQuotedIdent
}

// Tokenize splits a query into tokens. Comments are dropped.
func Tokenize(query string) ([]Token, error) {
	var tokens []Token
	runes := []rune(query)
	depth := 0

	emit := func(kind TokenKind, text string, pos int) {
		tokens = append(tokens, Token{Kind: kind, Text: text, Pos: pos, Depth: depth})
	}

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}

		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			j := i + 2
			for j+1 < len(runes) && !(runes[j] == '*' && runes[j+1] == '/') {
				j++
			}
			if j+1 >= len(runes) {
				return nil, fmt.Errorf("%w at offset %d", ErrUnterminatedComment, i)
			}
			i = j + 2

		case r == '\'':
			start := i
			var b strings.Builder
			i++
			closed := false
			for i < len(runes) {
				if runes[i] == '\'' {
					if i+1 < len(runes) && runes[i+1] == '\'' {
						b.WriteRune('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w at offset %d", ErrUnterminatedString, start)
			}
			emit(TokenString, b.String(), start)

		case r == '"' || r == '`' || r == '[':
			closer := r
			if r == '[' {
				closer = ']'
			}
			start := i
			var b strings.Builder
			i++
			closed := false
			for i < len(runes) {
				if runes[i] == closer {
					if i+1 < len(runes) && runes[i+1] == closer {
						b.WriteRune(closer)
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w at offset %d", ErrUnterminatedIdentifier, start)
			}
			emit(TokenQuotedIdent, b.String(), start)

		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '$') {
				i++
			}
			emit(TokenWord, string(runes[start:i]), start)

		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				j := i + 1
				if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
					j++
				}
				if j < len(runes) && unicode.IsDigit(runes[j]) {
					i = j
					for i < len(runes) && unicode.IsDigit(runes[i]) {
						i++
					}
				}
			}
			emit(TokenNumber, string(runes[start:i]), start)

		case r == '(':
			emit(TokenLParen, "(", i)
			depth++
			i++

		case r == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unexpected ')' at offset %d", ErrUnbalancedParens, i)
			}
			emit(TokenRParen, ")", i)
			i++

		case r == ',':
			emit(TokenComma, ",", i)
			i++

		case r == '.':
			emit(TokenDot, ".", i)
			i++

		case r == ';':
			emit(TokenSemicolon, ";", i)
			i++

		default:
			start := i
			i++
			if i < len(runes) && isOperatorPair(r, runes[i]) {
				i++
			}
			emit(TokenSymbol, string(runes[start:i]), start)
		}
	}

	if depth != 0 {
		return nil, fmt.Errorf("%w: %d unclosed '('", ErrUnbalancedParens, depth)
	}
	return tokens, nil
}

func isOperatorPair(a, b rune) bool {
	switch string([]rune{a, b}) {
	case "<=", ">=", "<>", "!=", "||", "::", "==", "->", "<<", ">>":
		return true
	}
	return false
}
