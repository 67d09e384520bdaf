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

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Quote returns s as a KORE string literal, including the surrounding
// double quotes.
//
// Printable ASCII passes through. Quote, backslash, tab, newline, form feed
// and carriage return use their short escapes. Every other code point is
// written as \xHH, \uHHHH or \UHHHHHHHH, whichever is shortest.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\f':
			b.WriteString(`\f`)
		case '\r':
			b.WriteString(`\r`)
		default:
			switch {
			case r >= 32 && r <= 126:
				b.WriteRune(r)
			case r <= 0xff:
				fmt.Fprintf(&b, `\x%02x`, r)
			case r <= 0xffff:
				fmt.Fprintf(&b, `\u%04x`, r)
			default:
				fmt.Fprintf(&b, `\U%08x`, r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Unquote reverses Quote. The input must include the surrounding quotes.
func Unquote(lit string) (string, error) {
	if len(lit) < 2 || lit[0] != '"' || lit[len(lit)-1] != '"' {
		return "", fmt.Errorf("%w: string literal must be double quoted", ErrMalformed)
	}
	body := lit[1 : len(lit)-1]
	if !strings.ContainsRune(body, '\\') {
		return body, nil
	}

	var b strings.Builder
	b.Grow(len(body))
	for i := 0; i < len(body); {
		c := body[i]
		if c != '\\' {
			r, size := utf8.DecodeRuneInString(body[i:])
			b.WriteRune(r)
			i += size
			continue
		}
		if i+1 >= len(body) {
			return "", fmt.Errorf("%w: trailing backslash in string literal", ErrMalformed)
		}
		esc := body[i+1]
		i += 2
		switch esc {
		case '"', '\\':
			b.WriteByte(esc)
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'f':
			b.WriteByte('\f')
		case 'r':
			b.WriteByte('\r')
		case 'x', 'u', 'U':
			width := map[byte]int{'x': 2, 'u': 4, 'U': 8}[esc]
			if i+width > len(body) {
				return "", fmt.Errorf("%w: short \\%c escape", ErrMalformed, esc)
			}
			code, err := strconv.ParseUint(body[i:i+width], 16, 32)
			if err != nil || code > utf8.MaxRune {
				return "", fmt.Errorf("%w: bad \\%c escape %q", ErrMalformed, esc, body[i:i+width])
			}
			b.WriteRune(rune(code))
			i += width
		default:
			return "", fmt.Errorf("%w: unknown escape \\%c", ErrMalformed, esc)
		}
	}
	return b.String(), nil
}
