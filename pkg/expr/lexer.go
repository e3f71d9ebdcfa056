// Package expr implements the small expression language used by condition
// nodes and the {{path}} templates used in node configuration.
//
// Grammar, lowest precedence first:
//
//	expr    = cmp { ("&&" | "||") cmp }
//	cmp     = unary [ ("==" | "!=" | ">" | "<" | ">=" | "<=") unary ]
//	unary   = "!" unary | primary
//	primary = "{{" path "}}" | number | string | "true" | "false" | "null" | word | "(" expr ")"
//
// && and || share one level and group left to right, so
// `{{a}} || {{b}} && {{c}}` reads as `({{a}} || {{b}}) && {{c}}`.
// Bare words evaluate to themselves as strings, so `{{status}} == active` compares
// against the string "active".
package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokRef
	tokNumber
	tokString
	tokWord
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// SyntaxError reports a malformed expression.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d: %s", e.Pos, e.Msg)
}

var twoCharOps = []string{"&&", "||", "==", "!=", ">=", "<="}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case strings.HasPrefix(src[i:], "{{"):
			end := strings.Index(src[i+2:], "}}")
			if end < 0 {
				return nil, &SyntaxError{Pos: i, Msg: "unterminated {{"}
			}
			path := strings.TrimSpace(src[i+2 : i+2+end])
			if path == "" {
				return nil, &SyntaxError{Pos: i, Msg: "empty field reference"}
			}
			toks = append(toks, token{kind: tokRef, text: path, pos: i})
			i += end + 4
		case c == '"' || c == '\'':
			s, n, err := lexString(src[i:], c)
			if err != nil {
				return nil, &SyntaxError{Pos: i, Msg: err.Error()}
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i})
			i += n
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case isOpStart(c):
			op := string(c)
			for _, two := range twoCharOps {
				if strings.HasPrefix(src[i:], two) {
					op = two
					break
				}
			}
			if op == "&" || op == "|" || op == "=" {
				return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected %q", op)}
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		case c == '-' || c == '.' || unicode.IsDigit(rune(c)):
			j := i + 1
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.' || src[j] == 'e' || src[j] == 'E') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:j], pos: i})
			i = j
		default:
			j := i
			for j < len(src) && isWordByte(src[j]) {
				j++
			}
			if j == i {
				return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
			}
			toks = append(toks, token{kind: tokWord, text: src[i:j], pos: i})
			i = j
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

func lexString(s string, quote byte) (string, int, error) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(s[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated string")
}

func isOpStart(c byte) bool {
	return c == '&' || c == '|' || c == '=' || c == '!' || c == '>' || c == '<'
}

func isWordByte(c byte) bool {
	return c == '_' || c == '.' || c == '-' || c == ':' || c == '/' ||
		unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}
