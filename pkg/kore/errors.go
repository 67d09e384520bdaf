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
	"errors"
	"fmt"
)

// Sentinel errors for pattern construction, encoding and parsing.
var (
	// ErrInvalidIdentifier indicates a name that is not a valid KORE identifier.
	ErrInvalidIdentifier = errors.New("kore: invalid identifier")

	// ErrMalformed indicates a structurally invalid pattern or sort.
	ErrMalformed = errors.New("kore: malformed term")

	// ErrUnknownTag indicates a JSON node whose "tag" is not a KORE node kind.
	ErrUnknownTag = errors.New("kore: unknown tag")

	// ErrUnsupportedFormat indicates a JSON envelope that is not KORE version 1.
	ErrUnsupportedFormat = errors.New("kore: unsupported format")
)

// SyntaxError reports a failure to parse KORE text.
type SyntaxError struct {
	// Line is the 1-indexed line of the offending token.
	Line int

	// Col is the 1-indexed column of the offending token.
	Col int

	// Msg describes what was expected.
	Msg string
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("kore: syntax error at %d:%d: %s", e.Line, e.Col, e.Msg)
}
