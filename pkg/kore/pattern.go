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

import "strings"

// Pattern is a KORE pattern: a term or a matching-logic formula.
//
// The interface is sealed. Switch on the concrete type to inspect a
// pattern:
//
//	switch p := p.(type) {
//	case kore.App:
//	    fmt.Println(p.Symbol, len(p.Args))
//	case kore.EVar:
//	    fmt.Println(p.Name)
//	}
type Pattern interface {
	Kore

	// Patterns returns the direct subpatterns in order.
	Patterns() []Pattern

	isPattern()
}

// =============================================================================
// LEAVES
// =============================================================================

// EVar is an element variable `X : S`.
type EVar struct {
	Name string
	Sort Sort
}

// SVar is a set variable `@X : S`. Name includes the leading '@'.
type SVar struct {
	Name string
	Sort Sort
}

// String is a string literal. It only occurs as the payload of a domain
// value or as an attribute argument.
type String struct {
	Value string
}

// DV is a domain value `\dv{S}("literal")`.
type DV struct {
	Sort  Sort
	Value string
}

// App applies a symbol to sort parameters and arguments.
type App struct {
	Symbol string
	Sorts  []Sort
	Args   []Pattern
}

// NewApp builds an App, copying sorts and args.
func NewApp(symbol string, sorts []Sort, args ...Pattern) App {
	return App{Symbol: symbol, Sorts: copySorts(sorts), Args: copyPatterns(args)}
}

// =============================================================================
// CONNECTIVES
// =============================================================================

// Top is `\top{S}()`.
type Top struct {
	Sort Sort
}

// Bottom is `\bottom{S}()`.
type Bottom struct {
	Sort Sort
}

// Not is `\not{S}(P)`.
type Not struct {
	Sort    Sort
	Pattern Pattern
}

// And is `\and{S}(L, R)`.
type And struct {
	Sort        Sort
	Left, Right Pattern
}

// Or is `\or{S}(L, R)`.
type Or struct {
	Sort        Sort
	Left, Right Pattern
}

// Implies is `\implies{S}(L, R)`.
type Implies struct {
	Sort        Sort
	Left, Right Pattern
}

// Iff is `\iff{S}(L, R)`.
type Iff struct {
	Sort        Sort
	Left, Right Pattern
}

// =============================================================================
// BINDERS
// =============================================================================

// Exists is `\exists{S}(X : S', P)`.
type Exists struct {
	Sort    Sort
	Var     EVar
	Pattern Pattern
}

// Forall is `\forall{S}(X : S', P)`.
type Forall struct {
	Sort    Sort
	Var     EVar
	Pattern Pattern
}

// Mu is the least fixpoint `\mu{}(@X : S, P)`.
type Mu struct {
	Var     SVar
	Pattern Pattern
}

// Nu is the greatest fixpoint `\nu{}(@X : S, P)`.
type Nu struct {
	Var     SVar
	Pattern Pattern
}

// =============================================================================
// PREDICATES
// =============================================================================

// Ceil is `\ceil{OpSort, Sort}(P)`.
type Ceil struct {
	OpSort, Sort Sort
	Pattern      Pattern
}

// Floor is `\floor{OpSort, Sort}(P)`.
type Floor struct {
	OpSort, Sort Sort
	Pattern      Pattern
}

// Equals is `\equals{OpSort, Sort}(L, R)`.
type Equals struct {
	OpSort, Sort Sort
	Left, Right  Pattern
}

// In is `\in{OpSort, Sort}(L, R)`.
type In struct {
	OpSort, Sort Sort
	Left, Right  Pattern
}

// =============================================================================
// REWRITING
// =============================================================================

// Next is `\next{S}(P)`.
type Next struct {
	Sort    Sort
	Pattern Pattern
}

// Rewrites is `\rewrites{S}(L, R)`.
type Rewrites struct {
	Sort        Sort
	Left, Right Pattern
}

// =============================================================================
// SUBPATTERNS
// =============================================================================

func (EVar) Patterns() []Pattern       { return nil }
func (SVar) Patterns() []Pattern       { return nil }
func (String) Patterns() []Pattern     { return nil }
func (DV) Patterns() []Pattern         { return nil }
func (p App) Patterns() []Pattern      { return copyPatterns(p.Args) }
func (Top) Patterns() []Pattern        { return nil }
func (Bottom) Patterns() []Pattern     { return nil }
func (p Not) Patterns() []Pattern      { return []Pattern{p.Pattern} }
func (p And) Patterns() []Pattern      { return []Pattern{p.Left, p.Right} }
func (p Or) Patterns() []Pattern       { return []Pattern{p.Left, p.Right} }
func (p Implies) Patterns() []Pattern  { return []Pattern{p.Left, p.Right} }
func (p Iff) Patterns() []Pattern      { return []Pattern{p.Left, p.Right} }
func (p Exists) Patterns() []Pattern   { return []Pattern{p.Pattern} }
func (p Forall) Patterns() []Pattern   { return []Pattern{p.Pattern} }
func (p Mu) Patterns() []Pattern       { return []Pattern{p.Pattern} }
func (p Nu) Patterns() []Pattern       { return []Pattern{p.Pattern} }
func (p Ceil) Patterns() []Pattern     { return []Pattern{p.Pattern} }
func (p Floor) Patterns() []Pattern    { return []Pattern{p.Pattern} }
func (p Equals) Patterns() []Pattern   { return []Pattern{p.Left, p.Right} }
func (p In) Patterns() []Pattern       { return []Pattern{p.Left, p.Right} }
func (p Next) Patterns() []Pattern     { return []Pattern{p.Pattern} }
func (p Rewrites) Patterns() []Pattern { return []Pattern{p.Left, p.Right} }

func (EVar) isPattern()     {}
func (SVar) isPattern()     {}
func (String) isPattern()   {}
func (DV) isPattern()       {}
func (App) isPattern()      {}
func (Top) isPattern()      {}
func (Bottom) isPattern()   {}
func (Not) isPattern()      {}
func (And) isPattern()      {}
func (Or) isPattern()       {}
func (Implies) isPattern()  {}
func (Iff) isPattern()      {}
func (Exists) isPattern()   {}
func (Forall) isPattern()   {}
func (Mu) isPattern()       {}
func (Nu) isPattern()       {}
func (Ceil) isPattern()     {}
func (Floor) isPattern()    {}
func (Equals) isPattern()   {}
func (In) isPattern()       {}
func (Next) isPattern()     {}
func (Rewrites) isPattern() {}

func copyPatterns(ps []Pattern) []Pattern {
	if len(ps) == 0 {
		return nil
	}
	out := make([]Pattern, len(ps))
	copy(out, ps)
	return out
}

// =============================================================================
// TEXT
// =============================================================================

func (p EVar) write(b *strings.Builder) {
	b.WriteString(p.Name)
	b.WriteString(" : ")
	writeSort(b, p.Sort)
}

func (p SVar) write(b *strings.Builder) {
	b.WriteString(p.Name)
	b.WriteString(" : ")
	writeSort(b, p.Sort)
}

func (p String) write(b *strings.Builder) {
	b.WriteString(Quote(p.Value))
}

func (p DV) write(b *strings.Builder) {
	writeML(b, `\dv`, []Sort{p.Sort}, String{Value: p.Value})
}

func (p App) write(b *strings.Builder) {
	b.WriteString(p.Symbol)
	b.WriteByte('{')
	writeSorts(b, p.Sorts)
	b.WriteString("}(")
	writePatterns(b, p.Args)
	b.WriteByte(')')
}

func (p Top) write(b *strings.Builder)     { writeML(b, `\top`, []Sort{p.Sort}) }
func (p Bottom) write(b *strings.Builder)  { writeML(b, `\bottom`, []Sort{p.Sort}) }
func (p Not) write(b *strings.Builder)     { writeML(b, `\not`, []Sort{p.Sort}, p.Pattern) }
func (p And) write(b *strings.Builder)     { writeML(b, `\and`, []Sort{p.Sort}, p.Left, p.Right) }
func (p Or) write(b *strings.Builder)      { writeML(b, `\or`, []Sort{p.Sort}, p.Left, p.Right) }
func (p Implies) write(b *strings.Builder) { writeML(b, `\implies`, []Sort{p.Sort}, p.Left, p.Right) }
func (p Iff) write(b *strings.Builder)     { writeML(b, `\iff`, []Sort{p.Sort}, p.Left, p.Right) }
func (p Exists) write(b *strings.Builder)  { writeML(b, `\exists`, []Sort{p.Sort}, p.Var, p.Pattern) }
func (p Forall) write(b *strings.Builder)  { writeML(b, `\forall`, []Sort{p.Sort}, p.Var, p.Pattern) }
func (p Mu) write(b *strings.Builder)      { writeML(b, `\mu`, nil, p.Var, p.Pattern) }
func (p Nu) write(b *strings.Builder)      { writeML(b, `\nu`, nil, p.Var, p.Pattern) }
func (p Ceil) write(b *strings.Builder)    { writeML(b, `\ceil`, []Sort{p.OpSort, p.Sort}, p.Pattern) }
func (p Floor) write(b *strings.Builder)   { writeML(b, `\floor`, []Sort{p.OpSort, p.Sort}, p.Pattern) }
func (p Equals) write(b *strings.Builder) {
	writeML(b, `\equals`, []Sort{p.OpSort, p.Sort}, p.Left, p.Right)
}
func (p In) write(b *strings.Builder)   { writeML(b, `\in`, []Sort{p.OpSort, p.Sort}, p.Left, p.Right) }
func (p Next) write(b *strings.Builder) { writeML(b, `\next`, []Sort{p.Sort}, p.Pattern) }
func (p Rewrites) write(b *strings.Builder) {
	writeML(b, `\rewrites`, []Sort{p.Sort}, p.Left, p.Right)
}

func writeML(b *strings.Builder, symbol string, sorts []Sort, args ...Pattern) {
	b.WriteString(symbol)
	b.WriteByte('{')
	writeSorts(b, sorts)
	b.WriteString("}(")
	writePatterns(b, args)
	b.WriteByte(')')
}

func writePatterns(b *strings.Builder, ps []Pattern) {
	for i, p := range ps {
		if i > 0 {
			b.WriteString(", ")
		}
		writePattern(b, p)
	}
}

func writePattern(b *strings.Builder, p Pattern) {
	if p == nil {
		b.WriteString(missing)
		return
	}
	p.write(b)
}
