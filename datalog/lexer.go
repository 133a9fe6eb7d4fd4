package datalog

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokFloat
	tokString
	tokDirective
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	pos  Pos
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokString:
		return strconv.Quote(t.text)
	default:
		return "`" + t.text + "`"
	}
}

// two-character punctuation, checked before single characters
var punct2 = []string{":-", "!=", "<=", ">=", "=>"}

const punct1 = "(){},.:!=<>+-*/%"

type lexer struct {
	src  string
	file string
	off  int
	line int
	col  int
}

func lex(file, src string) ([]token, error) {
	l := &lexer{src: src, file: file, line: 1, col: 1}
	var toks []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks, nil
		}
	}
}

func (l *lexer) pos() Pos { return Pos{File: l.file, Line: l.line, Col: l.col} }

func (l *lexer) peekByte(n int) byte {
	if l.off+n < len(l.src) {
		return l.src[l.off+n]
	}
	return 0
}

func (l *lexer) advance(n int) {
	for range n {
		if l.off >= len(l.src) {
			return
		}
		if l.src[l.off] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.off++
	}
}

func (l *lexer) skipSpace() error {
	for l.off < len(l.src) {
		c := l.src[l.off]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance(1)
		case c == '#':
			l.skipLine()
		case c == '/' && l.peekByte(1) == '/':
			l.skipLine()
		case c == '/' && l.peekByte(1) == '*':
			start := l.pos()
			end := strings.Index(l.src[l.off+2:], "*/")
			if end < 0 {
				return &RuleSetError{Pos: start, Reason: "unterminated block comment"}
			}
			l.advance(end + 4)
		default:
			return nil
		}
	}
	return nil
}

func (l *lexer) skipLine() {
	for l.off < len(l.src) && l.src[l.off] != '\n' {
		l.advance(1)
	}
}

func (l *lexer) next() (token, error) {
	if err := l.skipSpace(); err != nil {
		return token{}, err
	}
	start := l.pos()
	if l.off >= len(l.src) {
		return token{kind: tokEOF, pos: start}, nil
	}
	c := l.src[l.off]
	switch {
	case c == '"':
		return l.lexString(start)
	case isDigit(c):
		return l.lexNumber(start), nil
	case c == '.' && isIdentStart(l.peekByte(1)):
		l.advance(1)
		name := l.lexIdentText()
		return token{kind: tokDirective, text: "." + name, pos: start}, nil
	case isIdentStart(c):
		return token{kind: tokIdent, text: l.lexIdentText(), pos: start}, nil
	}
	for _, p := range punct2 {
		if strings.HasPrefix(l.src[l.off:], p) {
			l.advance(2)
			return token{kind: tokPunct, text: p, pos: start}, nil
		}
	}
	if strings.IndexByte(punct1, c) >= 0 {
		l.advance(1)
		return token{kind: tokPunct, text: string(c), pos: start}, nil
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.off:])
	return token{}, &RuleSetError{Pos: start, Reason: "unexpected character " + strconv.QuoteRune(r)}
}

func (l *lexer) lexIdentText() string {
	begin := l.off
	for l.off < len(l.src) && isIdentPart(l.src[l.off]) {
		l.advance(1)
	}
	return l.src[begin:l.off]
}

func (l *lexer) lexNumber(start Pos) token {
	begin := l.off
	kind := tokNumber
	for l.off < len(l.src) && isDigit(l.src[l.off]) {
		l.advance(1)
	}
	if l.peekByte(0) == '.' && isDigit(l.peekByte(1)) {
		kind = tokFloat
		l.advance(1)
		for l.off < len(l.src) && isDigit(l.src[l.off]) {
			l.advance(1)
		}
	}
	if c := l.peekByte(0); c == 'e' || c == 'E' {
		n := 1
		if s := l.peekByte(1); s == '+' || s == '-' {
			n = 2
		}
		if isDigit(l.peekByte(n)) {
			kind = tokFloat
			l.advance(n)
			for l.off < len(l.src) && isDigit(l.src[l.off]) {
				l.advance(1)
			}
		}
	}
	return token{kind: kind, text: l.src[begin:l.off], pos: start}
}

func (l *lexer) lexString(start Pos) (token, error) {
	i := l.off + 1
	for i < len(l.src) {
		switch l.src[i] {
		case '\\':
			i += 2
			continue
		case '\n':
			return token{}, &RuleSetError{Pos: start, Reason: "newline in string literal"}
		case '"':
			raw := l.src[l.off : i+1]
			s, err := strconv.Unquote(raw)
			if err != nil {
				return token{}, &RuleSetError{Pos: start, Reason: "invalid string literal " + raw}
			}
			l.advance(i + 1 - l.off)
			return token{kind: tokString, text: s, pos: start}, nil
		}
		i++
	}
	return token{}, &RuleSetError{Pos: start, Reason: "unterminated string literal"}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c < utf8.RuneSelf && unicode.IsLetter(rune(c)))
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }
