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
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// EqualSort reports whether two sorts are structurally equal.
func EqualSort(a, b Sort) bool {
	switch a := a.(type) {
	case SortVar:
		b, ok := b.(SortVar)
		return ok && a.Name == b.Name
	case SortApp:
		b, ok := b.(SortApp)
		return ok && a.Name == b.Name && equalSorts(a.Sorts, b.Sorts)
	case nil:
		return b == nil
	default:
		return false
	}
}

func equalSorts(a, b []Sort) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !EqualSort(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Equal reports whether two patterns are structurally equal.
//
// Description:
//
//	Comparison is deep and order-sensitive for argument lists. A nil
//	pattern equals only another nil pattern, which is how absent optional
//	fields compare. Equal is the equality to use for patterns: the ==
//	operator panics on App values because they hold slices.
func Equal(a, b Pattern) bool {
	switch a := a.(type) {
	case nil:
		return b == nil
	case EVar:
		b, ok := b.(EVar)
		return ok && a.Name == b.Name && EqualSort(a.Sort, b.Sort)
	case SVar:
		b, ok := b.(SVar)
		return ok && a.Name == b.Name && EqualSort(a.Sort, b.Sort)
	case String:
		b, ok := b.(String)
		return ok && a.Value == b.Value
	case DV:
		b, ok := b.(DV)
		return ok && a.Value == b.Value && EqualSort(a.Sort, b.Sort)
	case App:
		b, ok := b.(App)
		return ok && a.Symbol == b.Symbol && equalSorts(a.Sorts, b.Sorts) && equalPatterns(a.Args, b.Args)
	case Top:
		b, ok := b.(Top)
		return ok && EqualSort(a.Sort, b.Sort)
	case Bottom:
		b, ok := b.(Bottom)
		return ok && EqualSort(a.Sort, b.Sort)
	case Not:
		b, ok := b.(Not)
		return ok && EqualSort(a.Sort, b.Sort) && Equal(a.Pattern, b.Pattern)
	case And:
		b, ok := b.(And)
		return ok && EqualSort(a.Sort, b.Sort) && Equal(a.Left, b.Left) && Equal(a.Right, b.Right)
	case Or:
		b, ok := b.(Or)
		return ok && EqualSort(a.Sort, b.Sort) && Equal(a.Left, b.Left) && Equal(a.Right, b.Right)
	case Implies:
		b, ok := b.(Implies)
		return ok && EqualSort(a.Sort, b.Sort) && Equal(a.Left, b.Left) && Equal(a.Right, b.Right)
	case Iff:
		b, ok := b.(Iff)
		return ok && EqualSort(a.Sort, b.Sort) && Equal(a.Left, b.Left) && Equal(a.Right, b.Right)
	case Exists:
		b, ok := b.(Exists)
		return ok && EqualSort(a.Sort, b.Sort) && Equal(a.Var, b.Var) && Equal(a.Pattern, b.Pattern)
	case Forall:
		b, ok := b.(Forall)
		return ok && EqualSort(a.Sort, b.Sort) && Equal(a.Var, b.Var) && Equal(a.Pattern, b.Pattern)
	case Mu:
		b, ok := b.(Mu)
		return ok && Equal(a.Var, b.Var) && Equal(a.Pattern, b.Pattern)
	case Nu:
		b, ok := b.(Nu)
		return ok && Equal(a.Var, b.Var) && Equal(a.Pattern, b.Pattern)
	case Ceil:
		b, ok := b.(Ceil)
		return ok && EqualSort(a.OpSort, b.OpSort) && EqualSort(a.Sort, b.Sort) && Equal(a.Pattern, b.Pattern)
	case Floor:
		b, ok := b.(Floor)
		return ok && EqualSort(a.OpSort, b.OpSort) && EqualSort(a.Sort, b.Sort) && Equal(a.Pattern, b.Pattern)
	case Equals:
		b, ok := b.(Equals)
		return ok && EqualSort(a.OpSort, b.OpSort) && EqualSort(a.Sort, b.Sort) &&
			Equal(a.Left, b.Left) && Equal(a.Right, b.Right)
	case In:
		b, ok := b.(In)
		return ok && EqualSort(a.OpSort, b.OpSort) && EqualSort(a.Sort, b.Sort) &&
			Equal(a.Left, b.Left) && Equal(a.Right, b.Right)
	case Next:
		b, ok := b.(Next)
		return ok && EqualSort(a.Sort, b.Sort) && Equal(a.Pattern, b.Pattern)
	case Rewrites:
		b, ok := b.(Rewrites)
		return ok && EqualSort(a.Sort, b.Sort) && Equal(a.Left, b.Left) && Equal(a.Right, b.Right)
	default:
		return false
	}
}

func equalPatterns(a, b []Pattern) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Hash returns a 64-bit structural hash of p.
//
// Equal patterns hash equally. The hash is computed over the KORE text,
// which is canonical for a given tree, so it is stable across processes.
// Hash of nil is 0. Unchecked trees with nil sorts or children still hash;
// see Text.
func Hash(p Pattern) uint64 {
	if p == nil {
		return 0
	}
	return xxhash.Sum64String(Text(p))
}

// Check validates every identifier and sort in p.
//
// Description:
//
//	Construction of pattern values is unchecked. Check walks the tree and
//	reports the first identifier that does not match the KORE grammar or
//	the first missing child. Arity is not checked.
//
// Outputs:
//
//	error - Wraps ErrInvalidIdentifier or ErrMalformed, nil if p is valid.
func Check(p Pattern) error {
	switch p := p.(type) {
	case nil:
		return fmt.Errorf("%w: missing pattern", ErrMalformed)
	case EVar:
		if err := CheckID(p.Name); err != nil {
			return err
		}
		return checkSort(p.Sort)
	case SVar:
		if err := CheckSetVarID(p.Name); err != nil {
			return err
		}
		return checkSort(p.Sort)
	case String:
		return checkValue(p.Value)
	case DV:
		if err := checkValue(p.Value); err != nil {
			return err
		}
		return checkSort(p.Sort)
	case App:
		if err := CheckSymbolID(p.Symbol); err != nil {
			return err
		}
		for _, s := range p.Sorts {
			if err := checkSort(s); err != nil {
				return err
			}
		}
		for _, arg := range p.Args {
			if err := Check(arg); err != nil {
				return err
			}
		}
		return nil
	case Top:
		return checkSort(p.Sort)
	case Bottom:
		return checkSort(p.Sort)
	case Not:
		return checkAll([]Sort{p.Sort}, p.Pattern)
	case And:
		return checkAll([]Sort{p.Sort}, p.Left, p.Right)
	case Or:
		return checkAll([]Sort{p.Sort}, p.Left, p.Right)
	case Implies:
		return checkAll([]Sort{p.Sort}, p.Left, p.Right)
	case Iff:
		return checkAll([]Sort{p.Sort}, p.Left, p.Right)
	case Exists:
		return checkAll([]Sort{p.Sort}, p.Var, p.Pattern)
	case Forall:
		return checkAll([]Sort{p.Sort}, p.Var, p.Pattern)
	case Mu:
		return checkAll(nil, p.Var, p.Pattern)
	case Nu:
		return checkAll(nil, p.Var, p.Pattern)
	case Ceil:
		return checkAll([]Sort{p.OpSort, p.Sort}, p.Pattern)
	case Floor:
		return checkAll([]Sort{p.OpSort, p.Sort}, p.Pattern)
	case Equals:
		return checkAll([]Sort{p.OpSort, p.Sort}, p.Left, p.Right)
	case In:
		return checkAll([]Sort{p.OpSort, p.Sort}, p.Left, p.Right)
	case Next:
		return checkAll([]Sort{p.Sort}, p.Pattern)
	case Rewrites:
		return checkAll([]Sort{p.Sort}, p.Left, p.Right)
	default:
		return fmt.Errorf("%w: unknown pattern type %T", ErrMalformed, p)
	}
}

// checkValue rejects literals that the text and JSON encoders cannot
// represent exactly.
func checkValue(v string) error {
	if !utf8.ValidString(v) {
		return fmt.Errorf("%w: string literal %q is not valid UTF-8", ErrMalformed, v)
	}
	return nil
}

func checkAll(sorts []Sort, ps ...Pattern) error {
	for _, s := range sorts {
		if err := checkSort(s); err != nil {
			return err
		}
	}
	for _, p := range ps {
		if err := Check(p); err != nil {
			return err
		}
	}
	return nil
}
