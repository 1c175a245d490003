package dice

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokInt
	tokDice
	tokHigh
	tokLow
	tokReroll
	tokTimes
	tokAt
	tokComma
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
	tokSemicolon
	tokLabel
	tokMacro
)

type token struct {
	kind  tokenKind
	text  string
	value int
	pos   int
	end   int
}

var letterTokens = map[string]tokenKind{
	"d": tokDice,
	"h": tokHigh,
	"l": tokLow,
	"r": tokReroll,
	"x": tokTimes,
}

var symbolTokens = map[byte]tokenKind{
	'@': tokAt,
	',': tokComma,
	'+': tokPlus,
	'-': tokMinus,
	'*': tokStar,
	'/': tokSlash,
	'(': tokLParen,
	')': tokRParen,
	';': tokSemicolon,
}

func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isDigit(c):
			start := i
			for i < len(input) && isDigit(input[i]) {
				i++
			}
			text := input[start:i]
			value, err := strconv.Atoi(text)
			if err != nil {
				if errors.Is(err, strconv.ErrRange) {
					return nil, &LiteralError{Literal: text, Reason: "integer out of range"}
				}
				return nil, malformed("bad number %q", text)
			}
			tokens = append(tokens, token{kind: tokInt, text: text, value: value, pos: start, end: i})
		case isLetter(c):
			start := i
			for i < len(input) && isLetter(input[i]) {
				i++
			}
			word := strings.ToLower(input[start:i])
			kind, ok := letterTokens[word]
			if !ok {
				return nil, malformed("unknown name %q", input[start:i])
			}
			tokens = append(tokens, token{kind: kind, text: word, pos: start, end: i})
		case c == '"' || c == '\'':
			end := strings.IndexByte(input[i+1:], c)
			if end < 0 {
				return nil, &LiteralError{Literal: input[i:], Reason: "unterminated quote"}
			}
			label := input[i+1 : i+1+end]
			tokens = append(tokens, token{kind: tokLabel, text: label, pos: i, end: i + end + 2})
			i += end + 2
		case c == '{':
			end, err := matchBrace(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokMacro, text: input[i+1 : end], pos: i, end: end + 1})
			i = end + 1
		default:
			kind, ok := symbolTokens[c]
			if !ok {
				r, _ := utf8.DecodeRuneInString(input[i:])
				return nil, malformed("unexpected character %q at %d", r, i)
			}
			tokens = append(tokens, token{kind: kind, text: string(c), pos: i, end: i + 1})
			i++
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(input), end: len(input)})
	return tokens, nil
}

func matchBrace(input string, open int) (int, error) {
	depth := 0
	for i := open; i < len(input); i++ {
		switch input[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, malformed("unterminated macro starting at %d", open)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}
