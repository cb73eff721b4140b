package guard

import "strings"

// tokenKind classifies a lexed token.
type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuotedIdent
	tokString
	tokNumber
	tokPunct
)

// token is one lexical unit. String literals and comments never produce
// word tokens, so keywords hidden inside them are invisible to the rules.
type token struct {
	kind  tokenKind
	text  string // identifiers are lowercased; punctuation is the raw byte
	start int
	end   int
	depth int // parenthesis depth at the token
}

// upper returns the token text uppercased, for keyword comparisons.
func (t token) upper() string {
	return strings.ToUpper(t.text)
}

func (t token) isWord(kw string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, kw)
}

func (t token) isPunct(p string) bool {
	return t.kind == tokPunct && t.text == p
}

// lex tokenizes sql in one pass. Unterminated literals or comments run to
// the end of input.
func lex(sql string) []token {
	var (
		toks  []token
		depth int
	)
	n := len(sql)
	pos := 0
	for pos < n {
		ch := sql[pos]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f':
			pos++
		case ch == '\'':
			next := skipSingleQuoted(sql, pos, n, false)
			toks = append(toks, token{kind: tokString, start: pos, end: next, depth: depth})
			pos = next
		case (ch == 'e' || ch == 'E') && pos+1 < n && sql[pos+1] == '\'':
			next := skipSingleQuoted(sql, pos+1, n, true)
			toks = append(toks, token{kind: tokString, start: pos, end: next, depth: depth})
			pos = next
		case ch == '"':
			id, next := readDoubleQuoted(sql, pos, n)
			toks = append(toks, token{kind: tokQuotedIdent, text: strings.ToLower(id), start: pos, end: next, depth: depth})
			pos = next
		case ch == '$' && isDollarQuoteStart(sql, pos, n):
			next := skipDollarQuoted(sql, pos, n)
			toks = append(toks, token{kind: tokString, start: pos, end: next, depth: depth})
			pos = next
		case isBlockCommentStart(sql, pos, n):
			pos = skipBlockComment(sql, pos, n)
		case isLineCommentStart(sql, pos, n):
			pos = skipLineComment(sql, pos, n)
		case isIdentStart(ch):
			word, next := readBareword(sql, pos, n)
			toks = append(toks, token{kind: tokWord, text: strings.ToLower(word), start: pos, end: next, depth: depth})
			pos = next
		case ch >= '0' && ch <= '9':
			next := readNumber(sql, pos, n)
			toks = append(toks, token{kind: tokNumber, text: sql[pos:next], start: pos, end: next, depth: depth})
			pos = next
		default:
			if ch == ')' && depth > 0 {
				depth--
			}
			toks = append(toks, token{kind: tokPunct, text: string(ch), start: pos, end: pos + 1, depth: depth})
			if ch == '(' {
				depth++
			}
			pos++
		}
	}
	return toks
}

// isBlockCommentStart returns true if pos is at the start of a block comment.
func isBlockCommentStart(sql string, pos, n int) bool {
	return sql[pos] == '/' && pos+1 < n && sql[pos+1] == '*'
}

// isLineCommentStart returns true if pos is at the start of a line comment.
func isLineCommentStart(sql string, pos, n int) bool {
	return sql[pos] == '-' && pos+1 < n && sql[pos+1] == '-'
}

// skipSingleQuoted advances past a single-quoted literal starting at pos.
// '' is always an escaped quote; with backslash set, \x escapes too.
func skipSingleQuoted(sql string, pos, n int, backslash bool) int {
	pos++ // opening quote
	for pos < n {
		switch sql[pos] {
		case '\\':
			if backslash {
				pos += 2
				continue
			}
		case '\'':
			pos++
			if pos < n && sql[pos] == '\'' {
				pos++
				continue
			}
			return pos
		}
		pos++
	}
	return n
}

// readDoubleQuoted reads a double-quoted identifier; "" is an escaped quote.
func readDoubleQuoted(sql string, pos, n int) (id string, next int) {
	pos++ // opening quote
	var b strings.Builder
	for pos < n {
		if sql[pos] == '"' {
			pos++
			if pos < n && sql[pos] == '"' {
				b.WriteByte('"')
				pos++
				continue
			}
			return b.String(), pos
		}
		b.WriteByte(sql[pos])
		pos++
	}
	return b.String(), pos
}

// isDollarQuoteStart reports whether pos begins $$ or $tag$.
func isDollarQuoteStart(sql string, pos, n int) bool {
	i := pos + 1
	if i < n && sql[i] == '$' {
		return true
	}
	if i >= n || !isIdentStart(sql[i]) {
		return false
	}
	for i < n && isIdentChar(sql[i]) {
		i++
	}
	return i < n && sql[i] == '$'
}

// skipDollarQuoted advances past a dollar-quoted literal.
func skipDollarQuoted(sql string, pos, n int) int {
	end := strings.IndexByte(sql[pos+1:], '$')
	tag := sql[pos : pos+end+2]
	body := pos + len(tag)
	closing := strings.Index(sql[body:], tag)
	if closing < 0 {
		return n
	}
	return body + closing + len(tag)
}

// skipBlockComment advances past a /* ... */ block comment.
func skipBlockComment(sql string, pos, n int) int {
	pos += 2
	for pos+1 < n {
		if sql[pos] == '*' && sql[pos+1] == '/' {
			return pos + 2
		}
		pos++
	}
	return n
}

// skipLineComment advances past a -- line comment to end of line.
func skipLineComment(sql string, pos, n int) int {
	pos += 2
	for pos < n && sql[pos] != '\n' {
		pos++
	}
	return pos
}

// readBareword reads an unquoted identifier (letters, digits, underscores, $).
func readBareword(sql string, pos, n int) (word string, next int) {
	start := pos
	for pos < n && (isIdentChar(sql[pos]) || sql[pos] == '$') {
		pos++
	}
	return sql[start:pos], pos
}

// readNumber reads a numeric literal, including a decimal point or exponent.
func readNumber(sql string, pos, n int) int {
	for pos < n {
		ch := sql[pos]
		if (ch >= '0' && ch <= '9') || ch == '.' || ch == '_' {
			pos++
			continue
		}
		if (ch == 'e' || ch == 'E') && pos+1 < n && (isDigit(sql[pos+1]) || sql[pos+1] == '-' || sql[pos+1] == '+') {
			pos += 2
			continue
		}
		break
	}
	return pos
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// isIdentStart returns true if ch can start an identifier (letter or underscore).
func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch >= 0x80
}

// isIdentChar returns true if ch can continue an identifier.
func isIdentChar(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}
