package validator

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokNone tokenKind = iota
	tokIdent
	tokQuotedIdent
	tokString
	tokNumber
	tokParam
	tokPunct
)

type token struct {
	kind  tokenKind
	text  string // identifier value with quotes removed, or punctuation text
	upper string // upper-cased text for unquoted identifiers
	pos   int
}

func (t token) isWord(words ...string) bool {
	if t.kind != tokIdent {
		return false
	}
	for _, w := range words {
		if t.upper == w {
			return true
		}
	}
	return false
}

func (t token) isPunct(p string) bool {
	return t.kind == tokPunct && t.text == p
}

func (t token) isIdent() bool {
	return t.kind == tokIdent || t.kind == tokQuotedIdent
}

// lex splits a query into tokens, dropping whitespace and comments.
func lex(query string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(query) {
		c := query[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			i++

		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			end := strings.IndexByte(query[i:], '\n')
			if end == -1 {
				i = len(query)
			} else {
				i += end + 1
			}

		case c == '/' && i+1 < len(query) && query[i+1] == '*':
			end := strings.Index(query[i+2:], "*/")
			if end == -1 {
				return nil, fmt.Errorf("unterminated comment at offset %d", i)
			}
			i += end + 4

		case c == '\'':
			end, err := scanQuoted(query, i, '\'')
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: query[i+1 : end-1], pos: i})
			i = end

		case c == '"' || c == '`':
			end, err := scanQuoted(query, i, c)
			if err != nil {
				return nil, err
			}
			raw := query[i+1 : end-1]
			raw = strings.ReplaceAll(raw, string([]byte{c, c}), string(c))
			tokens = append(tokens, token{kind: tokQuotedIdent, text: raw, upper: strings.ToUpper(raw), pos: i})
			i = end

		case c == '$':
			// $1 positional parameter or $tag$...$tag$ dollar-quoted string.
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			if j > i+1 {
				tokens = append(tokens, token{kind: tokParam, text: query[i:j], pos: i})
				i = j
				continue
			}
			for j < len(query) && isIdentPart(rune(query[j])) {
				j++
			}
			if j < len(query) && query[j] == '$' {
				tag := query[i : j+1]
				end := strings.Index(query[j+1:], tag)
				if end == -1 {
					return nil, fmt.Errorf("unterminated dollar-quoted string at offset %d", i)
				}
				tokens = append(tokens, token{kind: tokString, text: query[j+1 : j+1+end], pos: i})
				i = j + 1 + end + len(tag)
				continue
			}
			tokens = append(tokens, token{kind: tokPunct, text: "$", pos: i})
			i++

		case c == '?':
			tokens = append(tokens, token{kind: tokParam, text: "?", pos: i})
			i++

		case isDigit(c) || (c == '.' && i+1 < len(query) && isDigit(query[i+1]) && !prevIsIdent(tokens)):
			j := scanNumber(query, i)
			tokens = append(tokens, token{kind: tokNumber, text: query[i:j], pos: i})
			i = j

		default:
			r, size := utf8.DecodeRuneInString(query[i:])
			if isIdentStart(r) {
				j := i + size
				for j < len(query) {
					r2, s2 := utf8.DecodeRuneInString(query[j:])
					if !isIdentPart(r2) {
						break
					}
					j += s2
				}
				word := query[i:j]
				tokens = append(tokens, token{kind: tokIdent, text: word, upper: strings.ToUpper(word), pos: i})
				i = j
				continue
			}
			if i+1 < len(query) {
				two := query[i : i+2]
				switch two {
				case "::", "->", "<=", ">=", "<>", "!=", "||", "=>", "==":
					tokens = append(tokens, token{kind: tokPunct, text: two, pos: i})
					i += 2
					continue
				}
			}
			tokens = append(tokens, token{kind: tokPunct, text: string(r), pos: i})
			i += size
		}
	}
	return tokens, nil
}

// scanQuoted returns the offset just past the closing quote. Doubled quotes
// and backslash escapes are treated as part of the literal.
func scanQuoted(query string, start int, quote byte) (int, error) {
	i := start + 1
	for i < len(query) {
		switch query[i] {
		case '\\':
			i += 2
			continue
		case quote:
			if i+1 < len(query) && query[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, nil
		}
		i++
	}
	return 0, fmt.Errorf("unterminated quoted literal at offset %d", start)
}

func prevIsIdent(tokens []token) bool {
	if len(tokens) == 0 {
		return false
	}
	last := tokens[len(tokens)-1]
	return last.isIdent() || last.isPunct(")")
}

// scanNumber returns the offset just past a numeric literal starting at i.
func scanNumber(query string, i int) int {
	j := i
	if j+1 < len(query) && query[j] == '0' && (query[j+1] == 'x' || query[j+1] == 'X') {
		j += 2
		for j < len(query) && (isDigit(query[j]) || isHexLetter(query[j])) {
			j++
		}
		return j
	}
	for j < len(query) && (isDigit(query[j]) || query[j] == '.') {
		j++
	}
	if j < len(query) && (query[j] == 'e' || query[j] == 'E') {
		k := j + 1
		if k < len(query) && (query[k] == '+' || query[k] == '-') {
			k++
		}
		if k < len(query) && isDigit(query[k]) {
			j = k
			for j < len(query) && isDigit(query[j]) {
				j++
			}
		}
	}
	return j
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHexLetter(c byte) bool {
	return c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// matchParens maps every "(" index to its closing ")" index. Unbalanced
// opening parens map to len(tokens).
func matchParens(tokens []token) []int {
	pair := make([]int, len(tokens))
	var stack []int
	for i, t := range tokens {
		pair[i] = -1
		switch {
		case t.isPunct("("):
			stack = append(stack, i)
		case t.isPunct(")"):
			if len(stack) > 0 {
				open := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				pair[open] = i
				pair[i] = open
			}
		}
	}
	for _, open := range stack {
		pair[open] = len(tokens)
	}
	return pair
}
