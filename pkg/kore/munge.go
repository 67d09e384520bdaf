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
	"strings"
)

// mungeTable maps each character that is not valid in a KORE identifier
// to its four-character code.
var mungeTable = map[rune]string{
	' ':  "Spce",
	'!':  "Bang",
	'"':  "Quot",
	'#':  "Hash",
	'$':  "Dolr",
	'%':  "Perc",
	'&':  "And-",
	'\'': "Apos",
	'(':  "LPar",
	')':  "RPar",
	'*':  "Star",
	'+':  "Plus",
	',':  "Comm",
	'-':  "Hyph",
	'.':  "Stop",
	'/':  "Slsh",
	':':  "Coln",
	';':  "SCln",
	'<':  "-LT-",
	'=':  "Eqls",
	'>':  "-GT-",
	'?':  "Ques",
	'@':  "-AT-",
	'[':  "LSqB",
	'\\': "Bash",
	']':  "RSqB",
	'^':  "Xor-",
	'_':  "Unds",
	'`':  "BQuo",
	'{':  "LBra",
	'|':  "Pipe",
	'}':  "RBra",
	'~':  "Tild",
}

var unmungeTable = func() map[string]rune {
	out := make(map[string]rune, len(mungeTable))
	for r, code := range mungeTable {
		out[code] = r
	}
	return out
}()

// LabelPrefix is prepended to munged K labels to form symbol names.
const LabelPrefix = "Lbl"

// Munge encodes a K label into the identifier alphabet.
//
// Letters and digits are copied. Every maximal run of other characters is
// wrapped in one pair of single quotes, with each character replaced by
// its four-character code:
//
//	Munge("_+Int_") == "'UndsPlus'Int'Unds'"
//
// Munge fails with ErrInvalidIdentifier for characters that have no code.
func Munge(label string) (string, error) {
	var b strings.Builder
	quoted := false
	for _, r := range label {
		if isIDChar(r) {
			if quoted {
				b.WriteByte('\'')
				quoted = false
			}
			b.WriteRune(r)
			continue
		}
		code, ok := mungeTable[r]
		if !ok {
			return "", fmt.Errorf("%w: cannot munge %q in %q", ErrInvalidIdentifier, r, label)
		}
		if !quoted {
			b.WriteByte('\'')
			quoted = true
		}
		b.WriteString(code)
	}
	if quoted {
		b.WriteByte('\'')
	}
	return b.String(), nil
}

// Unmunge reverses Munge.
func Unmunge(symbol string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(symbol); {
		if symbol[i] != '\'' {
			b.WriteByte(symbol[i])
			i++
			continue
		}
		i++
		for {
			if i >= len(symbol) {
				return "", fmt.Errorf("%w: unterminated quote in %q", ErrInvalidIdentifier, symbol)
			}
			if symbol[i] == '\'' {
				i++
				break
			}
			if i+4 > len(symbol) {
				return "", fmt.Errorf("%w: truncated code in %q", ErrInvalidIdentifier, symbol)
			}
			r, ok := unmungeTable[symbol[i:i+4]]
			if !ok {
				return "", fmt.Errorf("%w: unknown code %q in %q", ErrInvalidIdentifier, symbol[i:i+4], symbol)
			}
			b.WriteRune(r)
			i += 4
		}
	}
	return b.String(), nil
}

// LabelSymbol returns the KORE symbol name of a K label, e.g. `<k>` becomes
// `Lbl'-LT-'k'-GT-'`.
func LabelSymbol(label string) (string, error) {
	munged, err := Munge(label)
	if err != nil {
		return "", err
	}
	return LabelPrefix + munged, nil
}

// SymbolLabel reverses LabelSymbol.
func SymbolLabel(symbol string) (string, error) {
	rest, ok := strings.CutPrefix(symbol, LabelPrefix)
	if !ok {
		return "", fmt.Errorf("%w: %q has no %s prefix", ErrInvalidIdentifier, symbol, LabelPrefix)
	}
	return Unmunge(rest)
}

func isIDChar(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}
