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

// ParsePattern parses a single KORE pattern from src.
//
// Description:
//
//	Accepts the full pattern language printed by Text. Trailing input
//	after the pattern is an error. Alias applications and the
//	\left-assoc / \right-assoc sugar are not supported.
//
// Outputs:
//
//	Pattern - The parsed tree.
//	error - A *SyntaxError carrying the line and column of the failure.
func ParsePattern(src string) (Pattern, error) {
	p, err := newParser(src)
	if err != nil {
		return nil, err
	}
	pat, err := p.pattern()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return pat, nil
}

// ParseSort parses a single KORE sort from src.
func ParseSort(src string) (Sort, error) {
	p, err := newParser(src)
	if err != nil {
		return nil, err
	}
	s, err := p.sort()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseModule parses a single `module ... endmodule [...]` block.
func ParseModule(src string) (Module, error) {
	p, err := newParser(src)
	if err != nil {
		return Module{}, err
	}
	m, err := p.module()
	if err != nil {
		return Module{}, err
	}
	if err := p.expectEOF(); err != nil {
		return Module{}, err
	}
	return m, nil
}

// ParseDefinition parses a definition: an attribute list followed by zero
// or more modules.
func ParseDefinition(src string) (Definition, error) {
	p, err := newParser(src)
	if err != nil {
		return Definition{}, err
	}
	attrs, err := p.attrs()
	if err != nil {
		return Definition{}, err
	}
	def := Definition{Attrs: attrs}
	for p.tok.kind != tokEOF {
		m, err := p.module()
		if err != nil {
			return Definition{}, err
		}
		def.Modules = append(def.Modules, m)
	}
	return def, nil
}

// =============================================================================
// PARSER
// =============================================================================

type parser struct {
	lex *lexer
	tok token
}

func newParser(src string) (*parser, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.consume(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *parser) consume() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Line: p.tok.line, Col: p.tok.col, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) unexpected(want string) error {
	switch p.tok.kind {
	case tokID, tokSymbolID, tokSetVarID, tokString:
		return p.errorf("expected %s, got %s %s", want, p.tok.kind, p.tok.text)
	default:
		return p.errorf("expected %s, got %s", want, p.tok.kind)
	}
}

func (p *parser) expect(kind tokenKind) (string, error) {
	if p.tok.kind != kind {
		return "", p.unexpected(kind.String())
	}
	text := p.tok.text
	return text, p.consume()
}

func (p *parser) expectKeyword(kw string) error {
	if p.tok.kind != tokID || p.tok.text != kw {
		return p.unexpected(fmt.Sprintf("%q", kw))
	}
	return p.consume()
}

func (p *parser) expectEOF() error {
	if p.tok.kind != tokEOF {
		return p.unexpected("end of input")
	}
	return nil
}

// list parses `open item (, item)* end`, allowing an empty list.
func (p *parser) list(open, end tokenKind, item func() error) error {
	if _, err := p.expect(open); err != nil {
		return err
	}
	if p.tok.kind == end {
		return p.consume()
	}
	for {
		if err := item(); err != nil {
			return err
		}
		if p.tok.kind == end {
			return p.consume()
		}
		if _, err := p.expect(tokComma); err != nil {
			return err
		}
	}
}

// =============================================================================
// SORTS
// =============================================================================

func (p *parser) sort() (Sort, error) {
	name, err := p.expect(tokID)
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokLBrace {
		return SortVar{Name: name}, nil
	}
	sorts, err := p.sorts(tokLBrace, tokRBrace)
	if err != nil {
		return nil, err
	}
	return SortApp{Name: name, Sorts: sorts}, nil
}

func (p *parser) sorts(open, end tokenKind) ([]Sort, error) {
	var out []Sort
	err := p.list(open, end, func() error {
		s, err := p.sort()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func (p *parser) sortVars() ([]SortVar, error) {
	var out []SortVar
	err := p.list(tokLBrace, tokRBrace, func() error {
		name, err := p.expect(tokID)
		if err != nil {
			return err
		}
		out = append(out, SortVar{Name: name})
		return nil
	})
	return out, err
}

// =============================================================================
// PATTERNS
// =============================================================================

func (p *parser) pattern() (Pattern, error) {
	switch p.tok.kind {
	case tokString:
		lit := p.tok.text
		line, col := p.tok.line, p.tok.col
		if err := p.consume(); err != nil {
			return nil, err
		}
		value, err := Unquote(lit)
		if err != nil {
			return nil, &SyntaxError{Line: line, Col: col, Msg: err.Error()}
		}
		return String{Value: value}, nil
	case tokSetVarID:
		v, err := p.setVar()
		if err != nil {
			return nil, err
		}
		return v, nil
	case tokSymbolID:
		return p.ml()
	case tokID:
		name := p.tok.text
		if err := p.consume(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokColon {
			if err := p.consume(); err != nil {
				return nil, err
			}
			sort, err := p.sort()
			if err != nil {
				return nil, err
			}
			return EVar{Name: name, Sort: sort}, nil
		}
		return p.app(name)
	default:
		return nil, p.unexpected("pattern")
	}
}

func (p *parser) app(symbol string) (App, error) {
	sorts, err := p.sorts(tokLBrace, tokRBrace)
	if err != nil {
		return App{}, err
	}
	args, err := p.patterns(-1)
	if err != nil {
		return App{}, err
	}
	return App{Symbol: symbol, Sorts: sorts, Args: args}, nil
}

// patterns parses a parenthesized argument list. When want is not
// negative the list must have exactly that many elements.
func (p *parser) patterns(want int) ([]Pattern, error) {
	line, col := p.tok.line, p.tok.col
	var out []Pattern
	err := p.list(tokLParen, tokRParen, func() error {
		pat, err := p.pattern()
		if err != nil {
			return err
		}
		out = append(out, pat)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if want >= 0 && len(out) != want {
		return nil, &SyntaxError{Line: line, Col: col, Msg: fmt.Sprintf("expected %d arguments, got %d", want, len(out))}
	}
	return out, nil
}

func (p *parser) elemVar() (EVar, error) {
	name, err := p.expect(tokID)
	if err != nil {
		return EVar{}, err
	}
	if _, err := p.expect(tokColon); err != nil {
		return EVar{}, err
	}
	sort, err := p.sort()
	if err != nil {
		return EVar{}, err
	}
	return EVar{Name: name, Sort: sort}, nil
}

func (p *parser) setVar() (SVar, error) {
	name, err := p.expect(tokSetVarID)
	if err != nil {
		return SVar{}, err
	}
	if _, err := p.expect(tokColon); err != nil {
		return SVar{}, err
	}
	sort, err := p.sort()
	if err != nil {
		return SVar{}, err
	}
	return SVar{Name: name, Sort: sort}, nil
}

// mlSorts parses the sort parameter list of a built-in symbol and checks
// its length.
func (p *parser) mlSorts(symbol string, want int) ([]Sort, error) {
	line, col := p.tok.line, p.tok.col
	sorts, err := p.sorts(tokLBrace, tokRBrace)
	if err != nil {
		return nil, err
	}
	if len(sorts) != want {
		return nil, &SyntaxError{Line: line, Col: col, Msg: fmt.Sprintf("%s expects %d sort parameters, got %d", symbol, want, len(sorts))}
	}
	return sorts, nil
}

// binderBody parses `(VAR, PATTERN)` where VAR is read by readVar.
func binderBody[V any](p *parser, readVar func() (V, error)) (V, Pattern, error) {
	var zero V
	if _, err := p.expect(tokLParen); err != nil {
		return zero, nil, err
	}
	v, err := readVar()
	if err != nil {
		return zero, nil, err
	}
	if _, err := p.expect(tokComma); err != nil {
		return zero, nil, err
	}
	body, err := p.pattern()
	if err != nil {
		return zero, nil, err
	}
	if _, err := p.expect(tokRParen); err != nil {
		return zero, nil, err
	}
	return v, body, nil
}

func (p *parser) ml() (Pattern, error) {
	symbol := p.tok.text
	line, col := p.tok.line, p.tok.col
	if err := p.consume(); err != nil {
		return nil, err
	}

	switch symbol {
	case `\exists`, `\forall`:
		sorts, err := p.mlSorts(symbol, 1)
		if err != nil {
			return nil, err
		}
		v, body, err := binderBody(p, p.elemVar)
		if err != nil {
			return nil, err
		}
		if symbol == `\exists` {
			return Exists{Sort: sorts[0], Var: v, Pattern: body}, nil
		}
		return Forall{Sort: sorts[0], Var: v, Pattern: body}, nil
	case `\mu`, `\nu`:
		if _, err := p.mlSorts(symbol, 0); err != nil {
			return nil, err
		}
		v, body, err := binderBody(p, p.setVar)
		if err != nil {
			return nil, err
		}
		if symbol == `\mu` {
			return Mu{Var: v, Pattern: body}, nil
		}
		return Nu{Var: v, Pattern: body}, nil
	case `\dv`:
		sorts, err := p.mlSorts(symbol, 1)
		if err != nil {
			return nil, err
		}
		args, err := p.patterns(1)
		if err != nil {
			return nil, err
		}
		value, ok := args[0].(String)
		if !ok {
			return nil, &SyntaxError{Line: line, Col: col, Msg: `\dv expects a string literal`}
		}
		return DV{Sort: sorts[0], Value: value.Value}, nil
	}

	shape, ok := mlShapes[symbol]
	if !ok {
		return nil, &SyntaxError{Line: line, Col: col, Msg: fmt.Sprintf("unsupported symbol %s", symbol)}
	}
	sorts, err := p.mlSorts(symbol, shape.sorts)
	if err != nil {
		return nil, err
	}
	args, err := p.patterns(shape.args)
	if err != nil {
		return nil, err
	}
	return shape.build(sorts, args), nil
}

type mlShape struct {
	sorts, args int
	build       func(sorts []Sort, args []Pattern) Pattern
}

var mlShapes = map[string]mlShape{
	`\top`:    {1, 0, func(s []Sort, _ []Pattern) Pattern { return Top{Sort: s[0]} }},
	`\bottom`: {1, 0, func(s []Sort, _ []Pattern) Pattern { return Bottom{Sort: s[0]} }},
	`\not`:    {1, 1, func(s []Sort, a []Pattern) Pattern { return Not{Sort: s[0], Pattern: a[0]} }},
	`\and`:    {1, 2, func(s []Sort, a []Pattern) Pattern { return And{Sort: s[0], Left: a[0], Right: a[1]} }},
	`\or`:     {1, 2, func(s []Sort, a []Pattern) Pattern { return Or{Sort: s[0], Left: a[0], Right: a[1]} }},
	`\implies`: {1, 2, func(s []Sort, a []Pattern) Pattern {
		return Implies{Sort: s[0], Left: a[0], Right: a[1]}
	}},
	`\iff`:  {1, 2, func(s []Sort, a []Pattern) Pattern { return Iff{Sort: s[0], Left: a[0], Right: a[1]} }},
	`\ceil`: {2, 1, func(s []Sort, a []Pattern) Pattern { return Ceil{OpSort: s[0], Sort: s[1], Pattern: a[0]} }},
	`\floor`: {2, 1, func(s []Sort, a []Pattern) Pattern {
		return Floor{OpSort: s[0], Sort: s[1], Pattern: a[0]}
	}},
	`\equals`: {2, 2, func(s []Sort, a []Pattern) Pattern {
		return Equals{OpSort: s[0], Sort: s[1], Left: a[0], Right: a[1]}
	}},
	`\in`: {2, 2, func(s []Sort, a []Pattern) Pattern {
		return In{OpSort: s[0], Sort: s[1], Left: a[0], Right: a[1]}
	}},
	`\next`: {1, 1, func(s []Sort, a []Pattern) Pattern { return Next{Sort: s[0], Pattern: a[0]} }},
	`\rewrites`: {1, 2, func(s []Sort, a []Pattern) Pattern {
		return Rewrites{Sort: s[0], Left: a[0], Right: a[1]}
	}},
}

// =============================================================================
// SENTENCES
// =============================================================================

func (p *parser) attrs() ([]App, error) {
	var out []App
	err := p.list(tokLBracket, tokRBracket, func() error {
		if p.tok.kind != tokID && p.tok.kind != tokSymbolID {
			return p.unexpected("attribute")
		}
		name := p.tok.text
		if err := p.consume(); err != nil {
			return err
		}
		a, err := p.app(name)
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func (p *parser) module() (Module, error) {
	if err := p.expectKeyword("module"); err != nil {
		return Module{}, err
	}
	name, err := p.expect(tokID)
	if err != nil {
		return Module{}, err
	}
	m := Module{Name: name}
	for {
		if p.tok.kind == tokID && p.tok.text == "endmodule" {
			if err := p.consume(); err != nil {
				return Module{}, err
			}
			break
		}
		s, err := p.sentence()
		if err != nil {
			return Module{}, err
		}
		m.Sentences = append(m.Sentences, s)
	}
	if m.Attrs, err = p.attrs(); err != nil {
		return Module{}, err
	}
	return m, nil
}

func (p *parser) sentence() (Sentence, error) {
	if p.tok.kind != tokID {
		return nil, p.unexpected("sentence")
	}
	keyword := p.tok.text
	switch keyword {
	case "import":
		if err := p.consume(); err != nil {
			return nil, err
		}
		name, err := p.expect(tokID)
		if err != nil {
			return nil, err
		}
		attrs, err := p.attrs()
		if err != nil {
			return nil, err
		}
		return Import{Module: name, Attrs: attrs}, nil
	case "sort", "hooked-sort":
		if err := p.consume(); err != nil {
			return nil, err
		}
		name, err := p.expect(tokID)
		if err != nil {
			return nil, err
		}
		vars, err := p.sortVars()
		if err != nil {
			return nil, err
		}
		attrs, err := p.attrs()
		if err != nil {
			return nil, err
		}
		return SortDecl{Name: name, Vars: vars, Attrs: attrs, Hooked: keyword == "hooked-sort"}, nil
	case "symbol", "hooked-symbol":
		return p.symbolDecl(keyword == "hooked-symbol")
	case "axiom", "claim":
		if err := p.consume(); err != nil {
			return nil, err
		}
		vars, err := p.sortVars()
		if err != nil {
			return nil, err
		}
		pat, err := p.pattern()
		if err != nil {
			return nil, err
		}
		attrs, err := p.attrs()
		if err != nil {
			return nil, err
		}
		if keyword == "claim" {
			return Claim{Vars: vars, Pattern: pat, Attrs: attrs}, nil
		}
		return Axiom{Vars: vars, Pattern: pat, Attrs: attrs}, nil
	case "alias":
		return nil, p.errorf("alias declarations are not supported")
	default:
		return nil, p.unexpected("sentence")
	}
}

func (p *parser) symbolDecl(hooked bool) (Sentence, error) {
	if err := p.consume(); err != nil {
		return nil, err
	}
	name, err := p.expect(tokID)
	if err != nil {
		return nil, err
	}
	vars, err := p.sortVars()
	if err != nil {
		return nil, err
	}
	params, err := p.sorts(tokLParen, tokRParen)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokColon); err != nil {
		return nil, err
	}
	sort, err := p.sort()
	if err != nil {
		return nil, err
	}
	attrs, err := p.attrs()
	if err != nil {
		return nil, err
	}
	return SymbolDecl{Name: name, Vars: vars, ParamSorts: params, Sort: sort, Attrs: attrs, Hooked: hooked}, nil
}
