// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kore

import "fmt"

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokID
	tokSymbolID
	tokSetVarID
	tokString
	tokLBrace
	tokRBrace
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokColon
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokID:
		return "identifier"
	case tokSymbolID:
		return "symbol identifier"
	case tokSetVarID:
		return "set variable"
	case tokString:
		return "string literal"
	case tokLBrace:
		return "'{'"
	case tokRBrace:
		return "'}'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokLBracket:
		return "'['"
	case tokRBracket:
		return "']'"
	case tokComma:
		return "','"
	case tokColon:
		return "':'"
	default:
		return fmt.Sprintf("token(%d)", int(k))
	}
}

var punctuation = map[byte]tokenKind{
	'{': tokLBrace, '}': tokRBrace,
	'(': tokLParen, ')': tokRParen,
	'[': tokLBracket, ']': tokRBracket,
	',': tokComma, ':': tokColon,
}

type token struct {
	kind      tokenKind
	text      string
	line, col int
}

// lexer splits KORE text into tokens. Whitespace and both comment forms
// are skipped.
type lexer struct {
	src  string
	pos  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) errorf(line, col int, format string, args ...any) error {
	return &SyntaxError{Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

func (l *lexer) peekByte(off int) byte {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.pos < len(l.src); i++ {
		if l.src[l.pos] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.pos++
	}
}

func (l *lexer) skipSpace() error {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			l.advance(1)
		case c == '/' && l.peekByte(1) == '/':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.advance(1)
			}
		case c == '/' && l.peekByte(1) == '*':
			line, col := l.line, l.col
			l.advance(2)
			for {
				if l.pos >= len(l.src) {
					return l.errorf(line, col, "unterminated block comment")
				}
				if l.src[l.pos] == '*' && l.peekByte(1) == '/' {
					l.advance(2)
					break
				}
				l.advance(1)
			}
		default:
			return nil
		}
	}
	return nil
}

func (l *lexer) next() (token, error) {
	if err := l.skipSpace(); err != nil {
		return token{}, err
	}
	line, col := l.line, l.col
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: line, col: col}, nil
	}

	c := l.src[l.pos]
	if kind, ok := punctuation[c]; ok {
		l.advance(1)
		return token{kind: kind, text: string(c), line: line, col: col}, nil
	}

	switch {
	case c == '"':
		return l.lexString(line, col)
	case c == '\\':
		return l.lexID(tokSymbolID, 1, line, col)
	case c == '@':
		return l.lexID(tokSetVarID, 1, line, col)
	case isLetter(c):
		return l.lexID(tokID, 0, line, col)
	default:
		return token{}, l.errorf(line, col, "unexpected character %q", c)
	}
}

func (l *lexer) lexID(kind tokenKind, prefix, line, col int) (token, error) {
	start := l.pos
	if prefix > 0 {
		l.advance(prefix)
		if !isLetter(l.peekByte(0)) {
			return token{}, l.errorf(line, col, "expected identifier after %q", l.src[start])
		}
	}
	l.advance(1)
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if !isLetter(c) && !(c >= '0' && c <= '9') && c != '\'' && c != '-' {
			break
		}
		l.advance(1)
	}
	return token{kind: kind, text: l.src[start:l.pos], line: line, col: col}, nil
}

func (l *lexer) lexString(line, col int) (token, error) {
	start := l.pos
	l.advance(1)
	for {
		if l.pos >= len(l.src) || l.src[l.pos] == '\n' {
			return token{}, l.errorf(line, col, "unterminated string literal")
		}
		switch l.src[l.pos] {
		case '\\':
			l.advance(2)
		case '"':
			l.advance(1)
			return token{kind: tokString, text: l.src[start:l.pos], line: line, col: col}, nil
		default:
			l.advance(1)
		}
	}
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
