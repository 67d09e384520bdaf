// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package korerpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AleutianAI/korerpc/pkg/kore"
)

// Wire method names.
const (
	MethodExecute   = "execute"
	MethodImplies   = "implies"
	MethodSimplify  = "simplify"
	MethodAddModule = "add-module"
	MethodGetModel  = "get-model"
)

// =============================================================================
// REQUEST PARAMETERS
// =============================================================================

// Optional fields are omitted when unset so the server's defaults apply.
type executeParams struct {
	State                    kore.Envelope `json:"state"`
	MaxDepth                 *int          `json:"max-depth,omitempty"`
	CutPointRules            []string      `json:"cut-point-rules,omitempty"`
	TerminalRules            []string      `json:"terminal-rules,omitempty"`
	MoveToTerminalOnly       bool          `json:"move-to-terminal-only,omitempty"`
	StepTimeout              *int64        `json:"step-timeout,omitempty"`
	MovingAverageStepTimeout bool          `json:"moving-average-step-timeout,omitempty"`
}

type impliesParams struct {
	Antecedent kore.Envelope `json:"antecedent"`
	Consequent kore.Envelope `json:"consequent"`
}

type stateParams struct {
	State kore.Envelope `json:"state"`
}

type addModuleParams struct {
	Module string `json:"module"`
}

// ExecuteOption sets an optional execute parameter.
type ExecuteOption func(*executeParams)

// WithMaxDepth stops execution after n rewrite steps. n must be >= 0.
func WithMaxDepth(n int) ExecuteOption {
	return func(p *executeParams) { p.MaxDepth = &n }
}

// WithCutPointRules stops execution before any of the given rules would
// apply, reporting the state the rule would produce.
func WithCutPointRules(ids ...string) ExecuteOption {
	return func(p *executeParams) { p.CutPointRules = append(p.CutPointRules, ids...) }
}

// WithTerminalRules stops execution after any of the given rules applies.
func WithTerminalRules(ids ...string) ExecuteOption {
	return func(p *executeParams) { p.TerminalRules = append(p.TerminalRules, ids...) }
}

// WithMoveToTerminalOnly asks the server to take a terminal step only
// when it is the sole successor.
func WithMoveToTerminalOnly(enabled bool) ExecuteOption {
	return func(p *executeParams) { p.MoveToTerminalOnly = enabled }
}

// WithStepTimeout aborts execution when a single step takes longer than
// d. The server receives whole milliseconds; d must be at least 1ms.
func WithStepTimeout(d time.Duration) ExecuteOption {
	return func(p *executeParams) {
		ms := d.Milliseconds()
		p.StepTimeout = &ms
	}
}

// WithMovingAverageStepTimeout aborts execution when a step takes much
// longer than the moving average of previous steps.
func WithMovingAverageStepTimeout(enabled bool) ExecuteOption {
	return func(p *executeParams) { p.MovingAverageStepTimeout = enabled }
}

func newExecuteParams(term kore.Pattern, opts []ExecuteOption) (executeParams, error) {
	p := executeParams{State: kore.Envelope{Term: term}}
	for _, opt := range opts {
		opt(&p)
	}
	if p.MaxDepth != nil && *p.MaxDepth < 0 {
		return p, fmt.Errorf("%w: max depth %d is negative", ErrInvalidArgument, *p.MaxDepth)
	}
	if p.StepTimeout != nil && *p.StepTimeout < 1 {
		return p, fmt.Errorf("%w: step timeout must be at least 1ms", ErrInvalidArgument)
	}
	return p, nil
}

// =============================================================================
// RESULT DECODING
// =============================================================================

// fieldReader reads the members of one JSON object, telling an absent
// member apart from an explicit null.
type fieldReader struct {
	method string
	path   string
	fields map[string]json.RawMessage
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func readObject(method, path string, raw json.RawMessage) (fieldReader, error) {
	r := fieldReader{method: method, path: path}
	if len(raw) == 0 || isNull(raw) {
		return r, r.errorf("", nil, "expected object, got null")
	}
	if err := json.Unmarshal(raw, &r.fields); err != nil {
		return r, r.errorf("", err, "expected object")
	}
	return r, nil
}

func (r fieldReader) name(key string) string {
	switch {
	case r.path == "":
		return key
	case key == "":
		return r.path
	default:
		return r.path + "." + key
	}
}

func (r fieldReader) errorf(key string, err error, format string, args ...any) error {
	return &DecodeError{Method: r.method, Field: r.name(key), Reason: fmt.Sprintf(format, args...), Err: err}
}

// lookup returns a member and whether it is present. An explicit null
// counts as present.
func (r fieldReader) lookup(key string) (json.RawMessage, bool) {
	raw, ok := r.fields[key]
	return raw, ok
}

// given reports whether key is present with a non-null value.
func (r fieldReader) given(key string) bool {
	raw, ok := r.fields[key]
	return ok && !isNull(raw)
}

func (r fieldReader) required(key string) (json.RawMessage, error) {
	raw, ok := r.fields[key]
	if !ok {
		return nil, r.errorf(key, nil, "missing")
	}
	if isNull(raw) {
		return nil, r.errorf(key, nil, "must not be null")
	}
	return raw, nil
}

func (r fieldReader) text(key string) (string, error) {
	raw, err := r.required(key)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", r.errorf(key, err, "expected string")
	}
	return s, nil
}

func (r fieldReader) integer(key string) (int, error) {
	raw, err := r.required(key)
	if err != nil {
		return 0, err
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, r.errorf(key, err, "expected integer")
	}
	return n, nil
}

func (r fieldReader) boolean(key string) (bool, error) {
	raw, err := r.required(key)
	if err != nil {
		return false, err
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, r.errorf(key, err, "expected boolean")
	}
	return b, nil
}

// pattern decodes a required term envelope.
func (r fieldReader) pattern(key string) (kore.Pattern, error) {
	raw, err := r.required(key)
	if err != nil {
		return nil, err
	}
	var env kore.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, r.errorf(key, err, "invalid term")
	}
	return env.Term, nil
}

// optionalPattern decodes an envelope that may be absent. An explicit
// null is rejected: an absent field must be omitted.
func (r fieldReader) optionalPattern(key string) (kore.Pattern, error) {
	if _, ok := r.lookup(key); !ok {
		return nil, nil
	}
	return r.pattern(key)
}

// nullablePattern decodes an envelope that must be present but may be
// null, the explicit "no value" marker.
func (r fieldReader) nullablePattern(key string) (kore.Pattern, error) {
	raw, ok := r.lookup(key)
	if !ok {
		return nil, r.errorf(key, nil, "missing")
	}
	if isNull(raw) {
		return nil, nil
	}
	return r.pattern(key)
}

func (r fieldReader) state(key string) (State, error) {
	raw, err := r.required(key)
	if err != nil {
		return State{}, err
	}
	return decodeState(r.method, r.name(key), raw)
}

func (r fieldReader) states(key string) ([]State, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(r.fields[key], &raws); err != nil {
		return nil, r.errorf(key, err, "expected array")
	}
	states := make([]State, 0, len(raws))
	for i, raw := range raws {
		s, err := decodeState(r.method, fmt.Sprintf("%s[%d]", r.name(key), i), raw)
		if err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, nil
}

func decodeState(method, path string, raw json.RawMessage) (State, error) {
	r, err := readObject(method, path, raw)
	if err != nil {
		return State{}, err
	}
	var s State
	if s.Term, err = r.pattern("term"); err != nil {
		return State{}, err
	}
	if s.Substitution, err = r.optionalPattern("substitution"); err != nil {
		return State{}, err
	}
	if s.Predicate, err = r.optionalPattern("predicate"); err != nil {
		return State{}, err
	}
	return s, nil
}

// decodeExecuteResult decodes an execute result.
//
// Description:
//
//	Reads "reason" first and then only the fields that reason allows.
//	Next-state counts are enforced per reason: at least two for
//	branching, exactly one for cut-point-rule, none otherwise. A rule id
//	is required for cut-point-rule and terminal-rule and rejected for
//	the other reasons. When the request carried a depth bound, the
//	reported depth may not exceed it, and a depth-bound result must
//	report exactly the bound.
//
// Inputs:
//
//	raw - The JSON-RPC result member.
//	maxDepth - The requested bound, or nil if none was sent.
//
// Outputs:
//
//	ExecuteResult - One of the six result variants.
//	error - A *DecodeError if the result is malformed.
func decodeExecuteResult(raw json.RawMessage, maxDepth *int) (ExecuteResult, error) {
	r, err := readObject(MethodExecute, "", raw)
	if err != nil {
		return nil, err
	}

	text, err := r.text("reason")
	if err != nil {
		return nil, err
	}
	reason, ok := ParseStopReason(text)
	if !ok {
		return nil, r.errorf("reason", nil, "unknown reason %q", text)
	}

	depth, err := r.integer("depth")
	if err != nil {
		return nil, err
	}
	if depth < 0 {
		return nil, r.errorf("depth", nil, "negative depth %d", depth)
	}
	if maxDepth != nil {
		if depth > *maxDepth {
			return nil, r.errorf("depth", nil, "depth %d exceeds requested bound %d", depth, *maxDepth)
		}
		if reason == ReasonDepthBound && depth != *maxDepth {
			return nil, r.errorf("depth", nil, "depth-bound result at depth %d, requested bound %d", depth, *maxDepth)
		}
	}

	state, err := r.state("state")
	if err != nil {
		return nil, err
	}

	var next []State
	if r.given("next-states") {
		if next, err = r.states("next-states"); err != nil {
			return nil, err
		}
	}
	switch reason {
	case ReasonBranching:
		if len(next) < 2 {
			return nil, r.errorf("next-states", nil, "%s requires at least 2 next states, got %d", reason, len(next))
		}
	case ReasonCutPointRule:
		if len(next) != 1 {
			return nil, r.errorf("next-states", nil, "%s requires exactly 1 next state, got %d", reason, len(next))
		}
	default:
		if len(next) != 0 {
			return nil, r.errorf("next-states", nil, "%s allows no next states, got %d", reason, len(next))
		}
	}

	var rule string
	switch reason {
	case ReasonCutPointRule, ReasonTerminalRule:
		if rule, err = r.text("rule"); err != nil {
			return nil, err
		}
	default:
		if r.given("rule") {
			return nil, r.errorf("rule", nil, "not allowed for %s", reason)
		}
	}

	switch reason {
	case ReasonBranching:
		return BranchingResult{State: state, Depth: depth, NextStates: next}, nil
	case ReasonDepthBound:
		return DepthBoundResult{State: state, Depth: depth}, nil
	case ReasonStuck:
		return StuckResult{State: state, Depth: depth}, nil
	case ReasonCutPointRule:
		return CutPointResult{State: state, Depth: depth, NextState: next[0], Rule: rule}, nil
	case ReasonTerminalRule:
		return TerminalResult{State: state, Depth: depth, Rule: rule}, nil
	default:
		return AbortedResult{State: state, Depth: depth}, nil
	}
}

// decodeImpliesResult decodes an implies result.
//
// The condition is read from "condition", which is null or an object
// with both "substitution" and "predicate". Servers that send
// "substitution" and "predicate" at the top level instead must send
// both, each null or a term, and both null or both terms. A satisfiable
// implication always carries its witness, so a null condition is only
// accepted when "satisfiable" is false.
func decodeImpliesResult(raw json.RawMessage) (ImpliesResult, error) {
	r, err := readObject(MethodImplies, "", raw)
	if err != nil {
		return ImpliesResult{}, err
	}

	var res ImpliesResult
	if res.Satisfiable, err = r.boolean("satisfiable"); err != nil {
		return ImpliesResult{}, err
	}
	if res.Implication, err = r.pattern("implication"); err != nil {
		return ImpliesResult{}, err
	}

	if condition, ok := r.lookup("condition"); ok {
		if isNull(condition) {
			if res.Satisfiable {
				return ImpliesResult{}, r.errorf("condition", nil, "null for a satisfiable implication")
			}
			return res, nil
		}
		c, err := readObject(MethodImplies, "condition", condition)
		if err != nil {
			return ImpliesResult{}, err
		}
		if res.Substitution, err = c.pattern("substitution"); err != nil {
			return ImpliesResult{}, err
		}
		if res.Predicate, err = c.pattern("predicate"); err != nil {
			return ImpliesResult{}, err
		}
		return res, nil
	}

	_, hasSubst := r.lookup("substitution")
	_, hasPred := r.lookup("predicate")
	if !hasSubst && !hasPred {
		return ImpliesResult{}, r.errorf("condition", nil, "missing")
	}
	if res.Substitution, err = r.nullablePattern("substitution"); err != nil {
		return ImpliesResult{}, err
	}
	if res.Predicate, err = r.nullablePattern("predicate"); err != nil {
		return ImpliesResult{}, err
	}
	if (res.Substitution == nil) != (res.Predicate == nil) {
		return ImpliesResult{}, r.errorf("", nil, "substitution and predicate must both be null or both be terms")
	}
	if res.Satisfiable && res.Substitution == nil {
		return ImpliesResult{}, r.errorf("substitution", nil, "null for a satisfiable implication")
	}
	return res, nil
}

func decodeSimplifyResult(raw json.RawMessage) (kore.Pattern, error) {
	r, err := readObject(MethodSimplify, "", raw)
	if err != nil {
		return nil, err
	}
	return r.pattern("state")
}

func decodeAddModuleResult(raw json.RawMessage) error {
	_, err := readObject(MethodAddModule, "", raw)
	return err
}

func decodeGetModelResult(raw json.RawMessage) (GetModelResult, error) {
	r, err := readObject(MethodGetModel, "", raw)
	if err != nil {
		return GetModelResult{}, err
	}

	text, err := r.text("satisfiable")
	if err != nil {
		return GetModelResult{}, err
	}
	res := GetModelResult{Satisfiable: Satisfiability(text)}
	switch res.Satisfiable {
	case Sat, Unsat, Unknown:
	default:
		return GetModelResult{}, r.errorf("satisfiable", nil, "unknown value %q", text)
	}

	if !r.given("substitution") {
		return res, nil
	}
	if res.Satisfiable != Sat {
		return GetModelResult{}, r.errorf("substitution", nil, "not allowed when satisfiable is %s", text)
	}
	if res.Substitution, err = r.pattern("substitution"); err != nil {
		return GetModelResult{}, err
	}
	return res, nil
}
