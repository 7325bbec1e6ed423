package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tkEOF    tokenKind = iota
	tkName             // identifiers and keywords
	tkInt              // 42
	tkFloat            // 0.5, 1e3
	tkString           // 'text' or "text"
	tkOp               // operators and punctuation
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tkEOF:
		return "end of expression"
	case tkString:
		return fmt.Sprintf("string %q", t.text)
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

// Longest operators first so "//" wins over "/".
var operators = []string{
	"**", "//", "==", "!=", "<=", ">=", ":=", "->",
	"(", ")", "[", "]", "{", "}", ",", ".", ":", ";",
	"<", ">", "+", "-", "*", "/", "%", "=", "!", "&", "|", "^", "~", "@",
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)
	i := 0

	for i < len(runes) {
		ch := runes[i]

		if unicode.IsSpace(ch) {
			i++
			continue
		}

		if ch == '\'' || ch == '"' {
			s, n, err := readString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tkString, s, i})
			i = n
			continue
		}

		if isDigit(ch) {
			text, isFloat, n, err := readNumber(runes, i)
			if err != nil {
				return nil, err
			}
			kind := tkInt
			if isFloat {
				kind = tkFloat
			}
			tokens = append(tokens, token{kind, text, i})
			i = n
			continue
		}

		if isIdentStart(ch) {
			n := i
			for n < len(runes) && isIdentPart(runes[n]) {
				n++
			}
			tokens = append(tokens, token{tkName, string(runes[i:n]), i})
			i = n
			continue
		}

		matched := false
		rest := string(runes[i:])
		for _, op := range operators {
			if strings.HasPrefix(rest, op) {
				tokens = append(tokens, token{tkOp, op, i})
				i += len([]rune(op))
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), i)
		}
	}

	tokens = append(tokens, token{kind: tkEOF, pos: len(runes)})
	return tokens, nil
}

func readString(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	var sb strings.Builder
	i := start + 1
	for i < len(runes) {
		ch := runes[i]
		if ch == '\\' && i+1 < len(runes) {
			switch next := runes[i+1]; next {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case 'r':
				sb.WriteRune('\r')
			case '\\', '\'', '"':
				sb.WriteRune(next)
			default:
				sb.WriteRune('\\')
				sb.WriteRune(next)
			}
			i += 2
			continue
		}
		if ch == quote {
			return sb.String(), i + 1, nil
		}
		sb.WriteRune(ch)
		i++
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

func readNumber(runes []rune, start int) (string, bool, int, error) {
	i := start
	isFloat := false
	for i < len(runes) && isDigit(runes[i]) {
		i++
	}
	if i+1 < len(runes) && runes[i] == '.' && isDigit(runes[i+1]) {
		isFloat = true
		i++
		for i < len(runes) && isDigit(runes[i]) {
			i++
		}
	}
	if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
		j := i + 1
		if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
			j++
		}
		if j < len(runes) && isDigit(runes[j]) {
			isFloat = true
			i = j
			for i < len(runes) && isDigit(runes[i]) {
				i++
			}
		}
	}
	if i < len(runes) && isIdentStart(runes[i]) {
		return "", false, 0, fmt.Errorf("invalid number literal at position %d", start)
	}
	return string(runes[start:i]), isFloat, i, nil
}

func isDigit(ch rune) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch rune) bool { return unicode.IsLetter(ch) || ch == '_' }
func isIdentPart(ch rune) bool  { return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' }
