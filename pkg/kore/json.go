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
	"bytes"
	"encoding/json"
	"fmt"
)

// =============================================================================
// ENCODING
// =============================================================================

// MarshalPattern returns the KORE JSON encoding of p.
//
// Object keys are emitted in sorted order, so equal patterns encode to
// identical bytes.
func MarshalPattern(p Pattern) ([]byte, error) {
	v, err := patternJSON(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// MarshalSort returns the KORE JSON encoding of s.
func MarshalSort(s Sort) ([]byte, error) {
	v, err := sortJSON(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

type object = map[string]any

func sortJSON(s Sort) (object, error) {
	switch s := s.(type) {
	case SortVar:
		return object{"tag": "SortVar", "name": s.Name}, nil
	case SortApp:
		args, err := sortsJSON(s.Sorts)
		if err != nil {
			return nil, err
		}
		return object{"tag": "SortApp", "name": s.Name, "args": args}, nil
	case nil:
		return nil, fmt.Errorf("%w: missing sort", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: unknown sort type %T", ErrMalformed, s)
	}
}

func sortsJSON(sorts []Sort) ([]any, error) {
	out := make([]any, 0, len(sorts))
	for _, s := range sorts {
		v, err := sortJSON(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func patternJSON(p Pattern) (object, error) {
	switch p := p.(type) {
	case nil:
		return nil, fmt.Errorf("%w: missing pattern", ErrMalformed)
	case EVar:
		return variableJSON("EVar", p.Name, p.Sort)
	case SVar:
		return variableJSON("SVar", p.Name, p.Sort)
	case String:
		return object{"tag": "String", "value": p.Value}, nil
	case DV:
		sort, err := sortJSON(p.Sort)
		if err != nil {
			return nil, err
		}
		return object{"tag": "DV", "sort": sort, "value": p.Value}, nil
	case App:
		sorts, err := sortsJSON(p.Sorts)
		if err != nil {
			return nil, err
		}
		args := make([]any, 0, len(p.Args))
		for _, arg := range p.Args {
			v, err := patternJSON(arg)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return object{"tag": "App", "name": p.Symbol, "sorts": sorts, "args": args}, nil
	case Top:
		return nullaryJSON("Top", p.Sort)
	case Bottom:
		return nullaryJSON("Bottom", p.Sort)
	case Not:
		return buildJSON("Not", fields{"sort": p.Sort}, fields{"arg": p.Pattern})
	case And:
		return buildJSON("And", fields{"sort": p.Sort}, fields{"first": p.Left, "second": p.Right})
	case Or:
		return buildJSON("Or", fields{"sort": p.Sort}, fields{"first": p.Left, "second": p.Right})
	case Implies:
		return buildJSON("Implies", fields{"sort": p.Sort}, fields{"first": p.Left, "second": p.Right})
	case Iff:
		return buildJSON("Iff", fields{"sort": p.Sort}, fields{"first": p.Left, "second": p.Right})
	case Exists:
		return binderJSON("Exists", p.Sort, p.Var.Name, p.Var.Sort, p.Pattern)
	case Forall:
		return binderJSON("Forall", p.Sort, p.Var.Name, p.Var.Sort, p.Pattern)
	case Mu:
		return binderJSON("Mu", nil, p.Var.Name, p.Var.Sort, p.Pattern)
	case Nu:
		return binderJSON("Nu", nil, p.Var.Name, p.Var.Sort, p.Pattern)
	case Ceil:
		return buildJSON("Ceil", fields{"argSort": p.OpSort, "sort": p.Sort}, fields{"arg": p.Pattern})
	case Floor:
		return buildJSON("Floor", fields{"argSort": p.OpSort, "sort": p.Sort}, fields{"arg": p.Pattern})
	case Equals:
		return buildJSON("Equals", fields{"argSort": p.OpSort, "sort": p.Sort}, fields{"first": p.Left, "second": p.Right})
	case In:
		return buildJSON("In", fields{"argSort": p.OpSort, "sort": p.Sort}, fields{"first": p.Left, "second": p.Right})
	case Next:
		return buildJSON("Next", fields{"sort": p.Sort}, fields{"dest": p.Pattern})
	case Rewrites:
		return buildJSON("Rewrites", fields{"sort": p.Sort}, fields{"source": p.Left, "dest": p.Right})
	default:
		return nil, fmt.Errorf("%w: unknown pattern type %T", ErrMalformed, p)
	}
}

// fields maps JSON keys to sorts or patterns.
type fields map[string]any

func buildJSON(tag string, sorts fields, patterns fields) (object, error) {
	out := object{"tag": tag}
	for key, s := range sorts {
		s, _ := s.(Sort)
		v, err := sortJSON(s)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", tag, key, err)
		}
		out[key] = v
	}
	for key, p := range patterns {
		p, _ := p.(Pattern)
		v, err := patternJSON(p)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", tag, key, err)
		}
		out[key] = v
	}
	return out, nil
}

func nullaryJSON(tag string, sort Sort) (object, error) {
	return buildJSON(tag, fields{"sort": sort}, nil)
}

func variableJSON(tag, name string, sort Sort) (object, error) {
	v, err := sortJSON(sort)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", tag, name, err)
	}
	return object{"tag": tag, "name": name, "sort": v}, nil
}

func binderJSON(tag string, sort Sort, name string, varSort Sort, body Pattern) (object, error) {
	sorts := fields{"varSort": varSort}
	if sort != nil {
		sorts["sort"] = sort
	}
	out, err := buildJSON(tag, sorts, fields{"arg": body})
	if err != nil {
		return nil, err
	}
	out["var"] = name
	return out, nil
}

// =============================================================================
// DECODING
// =============================================================================

// UnmarshalPattern decodes a KORE JSON pattern.
//
// Description:
//
//	Every field required by the node's tag must be present and non-null.
//	Unknown keys are ignored. An unknown tag wraps ErrUnknownTag, a missing
//	or mistyped field wraps ErrMalformed.
func UnmarshalPattern(data []byte) (Pattern, error) {
	return decodePattern(data)
}

// UnmarshalSort decodes a KORE JSON sort.
func UnmarshalSort(data []byte) (Sort, error) {
	return decodeSort(data)
}

type jsonNode struct {
	Tag     string             `json:"tag"`
	Name    *string            `json:"name"`
	Value   *string            `json:"value"`
	Var     *string            `json:"var"`
	Sort    json.RawMessage    `json:"sort"`
	ArgSort json.RawMessage    `json:"argSort"`
	VarSort json.RawMessage    `json:"varSort"`
	Arg     json.RawMessage    `json:"arg"`
	First   json.RawMessage    `json:"first"`
	Second  json.RawMessage    `json:"second"`
	Source  json.RawMessage    `json:"source"`
	Dest    json.RawMessage    `json:"dest"`
	Sorts   *[]json.RawMessage `json:"sorts"`
	Args    *[]json.RawMessage `json:"args"`
}

func readNode(data []byte) (*jsonNode, error) {
	if isNull(data) {
		return nil, fmt.Errorf("%w: expected object, got null", ErrMalformed)
	}
	var n jsonNode
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if n.Tag == "" {
		return nil, fmt.Errorf("%w: missing tag", ErrMalformed)
	}
	return &n, nil
}

func isNull(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}

func decodeSort(data []byte) (Sort, error) {
	n, err := readNode(data)
	if err != nil {
		return nil, err
	}
	switch n.Tag {
	case "SortVar":
		name, err := n.str("name", n.Name)
		if err != nil {
			return nil, err
		}
		return SortVar{Name: name}, nil
	case "SortApp":
		name, err := n.str("name", n.Name)
		if err != nil {
			return nil, err
		}
		if n.Args == nil {
			return nil, fmt.Errorf("%w: SortApp: missing args", ErrMalformed)
		}
		sorts, err := decodeSorts(*n.Args)
		if err != nil {
			return nil, err
		}
		return SortApp{Name: name, Sorts: sorts}, nil
	default:
		return nil, fmt.Errorf("%w: %q is not a sort", ErrUnknownTag, n.Tag)
	}
}

func decodeSorts(raw []json.RawMessage) ([]Sort, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]Sort, len(raw))
	for i, r := range raw {
		s, err := decodeSort(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (n *jsonNode) str(key string, v *string) (string, error) {
	if v == nil {
		return "", fmt.Errorf("%w: %s: missing %s", ErrMalformed, n.Tag, key)
	}
	return *v, nil
}

func (n *jsonNode) sort(key string, raw json.RawMessage) (Sort, error) {
	if isNull(raw) {
		return nil, fmt.Errorf("%w: %s: missing %s", ErrMalformed, n.Tag, key)
	}
	return decodeSort(raw)
}

func (n *jsonNode) pattern(key string, raw json.RawMessage) (Pattern, error) {
	if isNull(raw) {
		return nil, fmt.Errorf("%w: %s: missing %s", ErrMalformed, n.Tag, key)
	}
	return decodePattern(raw)
}

func decodePattern(data []byte) (Pattern, error) {
	n, err := readNode(data)
	if err != nil {
		return nil, err
	}
	switch n.Tag {
	case "EVar", "SVar":
		name, err := n.str("name", n.Name)
		if err != nil {
			return nil, err
		}
		sort, err := n.sort("sort", n.Sort)
		if err != nil {
			return nil, err
		}
		if n.Tag == "SVar" {
			return SVar{Name: name, Sort: sort}, nil
		}
		return EVar{Name: name, Sort: sort}, nil
	case "String":
		value, err := n.str("value", n.Value)
		if err != nil {
			return nil, err
		}
		return String{Value: value}, nil
	case "DV":
		sort, err := n.sort("sort", n.Sort)
		if err != nil {
			return nil, err
		}
		value, err := n.str("value", n.Value)
		if err != nil {
			return nil, err
		}
		return DV{Sort: sort, Value: value}, nil
	case "App":
		return n.app()
	case "Top", "Bottom":
		sort, err := n.sort("sort", n.Sort)
		if err != nil {
			return nil, err
		}
		if n.Tag == "Top" {
			return Top{Sort: sort}, nil
		}
		return Bottom{Sort: sort}, nil
	case "Not", "Next":
		return n.unary()
	case "And", "Or", "Implies", "Iff", "Rewrites":
		return n.binary()
	case "Exists", "Forall", "Mu", "Nu":
		return n.binder()
	case "Ceil", "Floor", "Equals", "In":
		return n.predicate()
	case "SortVar", "SortApp":
		return nil, fmt.Errorf("%w: %q is a sort, not a pattern", ErrUnknownTag, n.Tag)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, n.Tag)
	}
}

func (n *jsonNode) app() (Pattern, error) {
	symbol, err := n.str("name", n.Name)
	if err != nil {
		return nil, err
	}
	if n.Sorts == nil {
		return nil, fmt.Errorf("%w: App %s: missing sorts", ErrMalformed, symbol)
	}
	if n.Args == nil {
		return nil, fmt.Errorf("%w: App %s: missing args", ErrMalformed, symbol)
	}
	sorts, err := decodeSorts(*n.Sorts)
	if err != nil {
		return nil, err
	}
	var args []Pattern
	if len(*n.Args) > 0 {
		args = make([]Pattern, len(*n.Args))
		for i, raw := range *n.Args {
			if args[i], err = n.pattern("args", raw); err != nil {
				return nil, err
			}
		}
	}
	return App{Symbol: symbol, Sorts: sorts, Args: args}, nil
}

func (n *jsonNode) unary() (Pattern, error) {
	sort, err := n.sort("sort", n.Sort)
	if err != nil {
		return nil, err
	}
	if n.Tag == "Next" {
		dest, err := n.pattern("dest", n.Dest)
		if err != nil {
			return nil, err
		}
		return Next{Sort: sort, Pattern: dest}, nil
	}
	arg, err := n.pattern("arg", n.Arg)
	if err != nil {
		return nil, err
	}
	return Not{Sort: sort, Pattern: arg}, nil
}

func (n *jsonNode) binary() (Pattern, error) {
	sort, err := n.sort("sort", n.Sort)
	if err != nil {
		return nil, err
	}
	leftKey, rightKey := "first", "second"
	leftRaw, rightRaw := n.First, n.Second
	if n.Tag == "Rewrites" {
		leftKey, rightKey = "source", "dest"
		leftRaw, rightRaw = n.Source, n.Dest
	}
	left, err := n.pattern(leftKey, leftRaw)
	if err != nil {
		return nil, err
	}
	right, err := n.pattern(rightKey, rightRaw)
	if err != nil {
		return nil, err
	}
	switch n.Tag {
	case "And":
		return And{Sort: sort, Left: left, Right: right}, nil
	case "Or":
		return Or{Sort: sort, Left: left, Right: right}, nil
	case "Implies":
		return Implies{Sort: sort, Left: left, Right: right}, nil
	case "Iff":
		return Iff{Sort: sort, Left: left, Right: right}, nil
	default:
		return Rewrites{Sort: sort, Left: left, Right: right}, nil
	}
}

func (n *jsonNode) binder() (Pattern, error) {
	name, err := n.str("var", n.Var)
	if err != nil {
		return nil, err
	}
	varSort, err := n.sort("varSort", n.VarSort)
	if err != nil {
		return nil, err
	}
	body, err := n.pattern("arg", n.Arg)
	if err != nil {
		return nil, err
	}
	switch n.Tag {
	case "Mu":
		return Mu{Var: SVar{Name: name, Sort: varSort}, Pattern: body}, nil
	case "Nu":
		return Nu{Var: SVar{Name: name, Sort: varSort}, Pattern: body}, nil
	}
	sort, err := n.sort("sort", n.Sort)
	if err != nil {
		return nil, err
	}
	if n.Tag == "Exists" {
		return Exists{Sort: sort, Var: EVar{Name: name, Sort: varSort}, Pattern: body}, nil
	}
	return Forall{Sort: sort, Var: EVar{Name: name, Sort: varSort}, Pattern: body}, nil
}

func (n *jsonNode) predicate() (Pattern, error) {
	opSort, err := n.sort("argSort", n.ArgSort)
	if err != nil {
		return nil, err
	}
	sort, err := n.sort("sort", n.Sort)
	if err != nil {
		return nil, err
	}
	switch n.Tag {
	case "Ceil", "Floor":
		arg, err := n.pattern("arg", n.Arg)
		if err != nil {
			return nil, err
		}
		if n.Tag == "Ceil" {
			return Ceil{OpSort: opSort, Sort: sort, Pattern: arg}, nil
		}
		return Floor{OpSort: opSort, Sort: sort, Pattern: arg}, nil
	}
	left, err := n.pattern("first", n.First)
	if err != nil {
		return nil, err
	}
	right, err := n.pattern("second", n.Second)
	if err != nil {
		return nil, err
	}
	if n.Tag == "Equals" {
		return Equals{OpSort: opSort, Sort: sort, Left: left, Right: right}, nil
	}
	return In{OpSort: opSort, Sort: sort, Left: left, Right: right}, nil
}

// =============================================================================
// ENVELOPE
// =============================================================================

const (
	// EnvelopeFormat is the only accepted value of the envelope "format" key.
	EnvelopeFormat = "KORE"

	// EnvelopeVersion is the only accepted value of the envelope "version" key.
	EnvelopeVersion = 1
)

// Envelope wraps a term for the wire: {"format":"KORE","version":1,"term":...}.
//
// Envelope implements json.Marshaler and json.Unmarshaler so it can be
// used directly as a request or response field.
type Envelope struct {
	Term Pattern
}

type envelopeJSON struct {
	Format  *string         `json:"format"`
	Version *int            `json:"version"`
	Term    json.RawMessage `json:"term"`
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	term, err := patternJSON(e.Term)
	if err != nil {
		return nil, err
	}
	return json.Marshal(object{
		"format":  EnvelopeFormat,
		"version": EnvelopeVersion,
		"term":    term,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return fmt.Errorf("%w: expected envelope, got null", ErrMalformed)
	}
	var raw envelopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Format == nil || *raw.Format != EnvelopeFormat {
		return fmt.Errorf("%w: format %s", ErrUnsupportedFormat, describe(raw.Format))
	}
	if raw.Version == nil || *raw.Version != EnvelopeVersion {
		return fmt.Errorf("%w: version %s", ErrUnsupportedFormat, describe(raw.Version))
	}
	if isNull(raw.Term) {
		return fmt.Errorf("%w: envelope: missing term", ErrMalformed)
	}
	term, err := decodePattern(raw.Term)
	if err != nil {
		return err
	}
	e.Term = term
	return nil
}

func describe[T any](v *T) string {
	if v == nil {
		return "missing"
	}
	return fmt.Sprintf("%v", *v)
}
