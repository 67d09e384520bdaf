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
	"regexp"
	"strings"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

var (
	idPattern       = regexp.MustCompile(`^[a-zA-Z][0-9a-zA-Z'-]*$`)
	symbolIDPattern = regexp.MustCompile(`^\\?[a-zA-Z][0-9a-zA-Z'-]*$`)
	setVarIDPattern = regexp.MustCompile(`^@[a-zA-Z][0-9a-zA-Z'-]*$`)
)

// CheckID returns an error if s is not a KORE identifier.
func CheckID(s string) error {
	if !idPattern.MatchString(s) {
		return fmt.Errorf("%w: expected identifier, got %q", ErrInvalidIdentifier, s)
	}
	return nil
}

// CheckSymbolID returns an error if s is not a KORE symbol identifier.
//
// Symbol identifiers are identifiers optionally prefixed with a backslash,
// which marks the built-in matching-logic symbols.
func CheckSymbolID(s string) error {
	if !symbolIDPattern.MatchString(s) {
		return fmt.Errorf("%w: expected symbol identifier, got %q", ErrInvalidIdentifier, s)
	}
	return nil
}

// CheckSetVarID returns an error if s is not a KORE set variable identifier.
func CheckSetVarID(s string) error {
	if !setVarIDPattern.MatchString(s) {
		return fmt.Errorf("%w: expected set variable identifier, got %q", ErrInvalidIdentifier, s)
	}
	return nil
}

// =============================================================================
// SORTS
// =============================================================================

// Kore is implemented by every node with a KORE textual form.
//
// The interface is sealed: only types in this package implement it.
type Kore interface {
	write(b *strings.Builder)
}

// missing is printed in place of a nil sort or child pattern. It is not
// valid KORE, so the text of an unchecked tree fails to parse back.
const missing = "<missing>"

// Text returns the KORE concrete syntax of k.
//
// Text never panics. A nil sort or child is printed as "<missing>"; run
// Check first when the result must be valid KORE.
func Text(k Kore) string {
	if k == nil {
		return missing
	}
	var b strings.Builder
	k.write(&b)
	return b.String()
}

// Sort is a KORE sort, either a SortVar or a SortApp.
type Sort interface {
	Kore
	isSort()
}

// SortVar is a sort variable such as `S` or `R`.
type SortVar struct {
	Name string
}

// SortApp is an applied sort constructor such as `SortInt{}` or
// `SortMap{SortKey{}, SortValue{}}`.
type SortApp struct {
	Name  string
	Sorts []Sort
}

// NewSortApp builds a SortApp, copying sorts.
func NewSortApp(name string, sorts ...Sort) SortApp {
	return SortApp{Name: name, Sorts: copySorts(sorts)}
}

func (SortVar) isSort() {}
func (SortApp) isSort() {}

func (s SortVar) write(b *strings.Builder) {
	b.WriteString(s.Name)
}

func (s SortApp) write(b *strings.Builder) {
	b.WriteString(s.Name)
	b.WriteByte('{')
	writeSorts(b, s.Sorts)
	b.WriteByte('}')
}

func writeSorts(b *strings.Builder, sorts []Sort) {
	for i, s := range sorts {
		if i > 0 {
			b.WriteString(", ")
		}
		writeSort(b, s)
	}
}

func writeSort(b *strings.Builder, s Sort) {
	if s == nil {
		b.WriteString(missing)
		return
	}
	s.write(b)
}

func copySorts(sorts []Sort) []Sort {
	if len(sorts) == 0 {
		return nil
	}
	out := make([]Sort, len(sorts))
	copy(out, sorts)
	return out
}

func checkSort(s Sort) error {
	switch s := s.(type) {
	case SortVar:
		return CheckID(s.Name)
	case SortApp:
		if err := CheckID(s.Name); err != nil {
			return err
		}
		for _, arg := range s.Sorts {
			if err := checkSort(arg); err != nil {
				return err
			}
		}
		return nil
	case nil:
		return fmt.Errorf("%w: missing sort", ErrMalformed)
	default:
		return fmt.Errorf("%w: unknown sort type %T", ErrMalformed, s)
	}
}
