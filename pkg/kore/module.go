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

// Sentence is a top-level declaration inside a Module.
type Sentence interface {
	Kore

	// Attributes returns the sentence's attribute list.
	Attributes() []App

	isSentence()
}

// Import is `import NAME [attrs]`.
type Import struct {
	Module string
	Attrs  []App
}

// SortDecl is `sort NAME{VARS} [attrs]`, or `hooked-sort` when Hooked.
type SortDecl struct {
	Name   string
	Vars   []SortVar
	Attrs  []App
	Hooked bool
}

// SymbolDecl is `symbol NAME{VARS}(PARAMS) : SORT [attrs]`, or
// `hooked-symbol` when Hooked.
type SymbolDecl struct {
	Name       string
	Vars       []SortVar
	ParamSorts []Sort
	Sort       Sort
	Attrs      []App
	Hooked     bool
}

// Axiom is `axiom{VARS} PATTERN [attrs]`.
type Axiom struct {
	Vars    []SortVar
	Pattern Pattern
	Attrs   []App
}

// Claim is `claim{VARS} PATTERN [attrs]`.
type Claim struct {
	Vars    []SortVar
	Pattern Pattern
	Attrs   []App
}

func (s Import) Attributes() []App     { return s.Attrs }
func (s SortDecl) Attributes() []App   { return s.Attrs }
func (s SymbolDecl) Attributes() []App { return s.Attrs }
func (s Axiom) Attributes() []App      { return s.Attrs }
func (s Claim) Attributes() []App      { return s.Attrs }

func (Import) isSentence()     {}
func (SortDecl) isSentence()   {}
func (SymbolDecl) isSentence() {}
func (Axiom) isSentence()      {}
func (Claim) isSentence()      {}

func (s Import) write(b *strings.Builder) {
	b.WriteString("import ")
	b.WriteString(s.Module)
	writeAttrs(b, s.Attrs)
}

func (s SortDecl) write(b *strings.Builder) {
	if s.Hooked {
		b.WriteString("hooked-sort ")
	} else {
		b.WriteString("sort ")
	}
	b.WriteString(s.Name)
	writeSortVars(b, s.Vars)
	writeAttrs(b, s.Attrs)
}

func (s SymbolDecl) write(b *strings.Builder) {
	if s.Hooked {
		b.WriteString("hooked-symbol ")
	} else {
		b.WriteString("symbol ")
	}
	b.WriteString(s.Name)
	writeSortVars(b, s.Vars)
	b.WriteByte('(')
	writeSorts(b, s.ParamSorts)
	b.WriteString(") : ")
	writeSort(b, s.Sort)
	writeAttrs(b, s.Attrs)
}

func (s Axiom) write(b *strings.Builder) { writeAxiomLike(b, "axiom", s.Vars, s.Pattern, s.Attrs) }
func (s Claim) write(b *strings.Builder) { writeAxiomLike(b, "claim", s.Vars, s.Pattern, s.Attrs) }

func writeAxiomLike(b *strings.Builder, keyword string, vars []SortVar, p Pattern, attrs []App) {
	b.WriteString(keyword)
	writeSortVars(b, vars)
	b.WriteByte(' ')
	writePattern(b, p)
	writeAttrs(b, attrs)
}

func writeSortVars(b *strings.Builder, vars []SortVar) {
	b.WriteByte('{')
	for i, v := range vars {
		if i > 0 {
			b.WriteString(", ")
		}
		v.write(b)
	}
	b.WriteByte('}')
}

func writeAttrs(b *strings.Builder, attrs []App) {
	b.WriteString(" [")
	for i, a := range attrs {
		if i > 0 {
			b.WriteString(", ")
		}
		a.write(b)
	}
	b.WriteByte(']')
}

// =============================================================================
// MODULES
// =============================================================================

// Module is a named list of sentences. Its text form is what add-module
// sends to the server.
type Module struct {
	Name      string
	Sentences []Sentence
	Attrs     []App
}

func (m Module) write(b *strings.Builder) {
	b.WriteString("module ")
	b.WriteString(m.Name)
	for _, s := range m.Sentences {
		b.WriteString("\n    ")
		s.write(b)
	}
	b.WriteString("\nendmodule")
	writeAttrs(b, m.Attrs)
}

// Axioms returns the module's axioms in declaration order.
func (m Module) Axioms() []Axiom {
	var out []Axiom
	for _, s := range m.Sentences {
		if a, ok := s.(Axiom); ok {
			out = append(out, a)
		}
	}
	return out
}

// SymbolDecls returns the module's symbol declarations in declaration order.
func (m Module) SymbolDecls() []SymbolDecl {
	var out []SymbolDecl
	for _, s := range m.Sentences {
		if d, ok := s.(SymbolDecl); ok {
			out = append(out, d)
		}
	}
	return out
}

// Definition is a list of modules with definition-level attributes.
type Definition struct {
	Modules []Module
	Attrs   []App
}

func (d Definition) write(b *strings.Builder) {
	b.WriteByte('[')
	for i, a := range d.Attrs {
		if i > 0 {
			b.WriteString(", ")
		}
		a.write(b)
	}
	b.WriteByte(']')
	for _, m := range d.Modules {
		b.WriteString("\n\n")
		m.write(b)
	}
}

// Module returns the module with the given name.
func (d Definition) Module(name string) (Module, bool) {
	for _, m := range d.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return Module{}, false
}

// SymbolTable maps every declared symbol name to its declaration. Later
// declarations shadow earlier ones.
func (d Definition) SymbolTable() map[string]SymbolDecl {
	out := make(map[string]SymbolDecl)
	for _, m := range d.Modules {
		for _, decl := range m.SymbolDecls() {
			out[decl.Name] = decl
		}
	}
	return out
}

// Attr returns the first attribute with the given symbol name.
func Attr(attrs []App, name string) (App, bool) {
	for _, a := range attrs {
		if a.Symbol == name {
			return a, true
		}
	}
	return App{}, false
}
