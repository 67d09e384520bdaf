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
	"fmt"

	"github.com/AleutianAI/korerpc/pkg/kore"
)

// =============================================================================
// STATE
// =============================================================================

// State is one symbolic configuration: a term plus the substitution and
// path condition accumulated to reach it.
//
// Substitution and Predicate are nil when the server did not send them.
// A nil field is not equal to a present \top.
type State struct {
	Term         kore.Pattern
	Substitution kore.Pattern
	Predicate    kore.Pattern
}

// Equal reports whether all three fields are structurally equal.
func (s State) Equal(other State) bool {
	return kore.Equal(s.Term, other.Term) &&
		kore.Equal(s.Substitution, other.Substitution) &&
		kore.Equal(s.Predicate, other.Predicate)
}

// String renders the state as KORE text, for diagnostics.
func (s State) String() string {
	text := func(p kore.Pattern) string {
		if p == nil {
			return "<none>"
		}
		return kore.Text(p)
	}
	return fmt.Sprintf("term: %s, substitution: %s, predicate: %s",
		text(s.Term), text(s.Substitution), text(s.Predicate))
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// =============================================================================
// EXECUTE RESULT
// =============================================================================

// StopReason is the "reason" discriminant of an execute result.
type StopReason string

const (
	ReasonBranching    StopReason = "branching"
	ReasonDepthBound   StopReason = "depth-bound"
	ReasonStuck        StopReason = "stuck"
	ReasonCutPointRule StopReason = "cut-point-rule"
	ReasonTerminalRule StopReason = "terminal-rule"
	ReasonAborted      StopReason = "aborted"
)

// ParseStopReason maps a wire reason to a StopReason. The short forms
// "cut-point" and "terminal" are accepted.
func ParseStopReason(s string) (StopReason, bool) {
	switch StopReason(s) {
	case ReasonBranching, ReasonDepthBound, ReasonStuck, ReasonCutPointRule, ReasonTerminalRule, ReasonAborted:
		return StopReason(s), true
	}
	switch s {
	case "cut-point":
		return ReasonCutPointRule, true
	case "terminal":
		return ReasonTerminalRule, true
	}
	return "", false
}

// ExecuteResult is the outcome of one execute request. It is one of
// BranchingResult, DepthBoundResult, StuckResult, CutPointResult,
// TerminalResult or AbortedResult.
//
//	switch r := result.(type) {
//	case korerpc.BranchingResult:
//	    explore(r.NextStates)
//	case korerpc.CutPointResult:
//	    record(r.Rule, r.NextState)
//	}
type ExecuteResult interface {
	// Reason returns the discriminant.
	Reason() StopReason

	// FinalState returns the state execution stopped in.
	FinalState() State

	// FinalDepth returns the number of steps taken.
	FinalDepth() int

	// Successors returns the next states: two or more for branching, one
	// for a cut point, none otherwise.
	Successors() []State

	isExecuteResult()
}

// BranchingResult reports two or more successors the backend could not
// choose between.
type BranchingResult struct {
	State      State
	Depth      int
	NextStates []State
}

// DepthBoundResult reports that the requested depth bound was reached.
type DepthBoundResult struct {
	State State
	Depth int
}

// StuckResult reports that no rule applies to State.
type StuckResult struct {
	State State
	Depth int
}

// CutPointResult reports that a cut-point rule matched. NextState is the
// result of applying Rule to State.
type CutPointResult struct {
	State     State
	Depth     int
	NextState State
	Rule      string
}

// TerminalResult reports that a terminal rule fired.
type TerminalResult struct {
	State State
	Depth int
	Rule  string
}

// AbortedResult reports that execution stopped for a reason outside the
// other variants, such as an undecidable unification.
type AbortedResult struct {
	State State
	Depth int
}

func (BranchingResult) Reason() StopReason  { return ReasonBranching }
func (DepthBoundResult) Reason() StopReason { return ReasonDepthBound }
func (StuckResult) Reason() StopReason      { return ReasonStuck }
func (CutPointResult) Reason() StopReason   { return ReasonCutPointRule }
func (TerminalResult) Reason() StopReason   { return ReasonTerminalRule }
func (AbortedResult) Reason() StopReason    { return ReasonAborted }

func (r BranchingResult) FinalState() State  { return r.State }
func (r DepthBoundResult) FinalState() State { return r.State }
func (r StuckResult) FinalState() State      { return r.State }
func (r CutPointResult) FinalState() State   { return r.State }
func (r TerminalResult) FinalState() State   { return r.State }
func (r AbortedResult) FinalState() State    { return r.State }

func (r BranchingResult) FinalDepth() int  { return r.Depth }
func (r DepthBoundResult) FinalDepth() int { return r.Depth }
func (r StuckResult) FinalDepth() int      { return r.Depth }
func (r CutPointResult) FinalDepth() int   { return r.Depth }
func (r TerminalResult) FinalDepth() int   { return r.Depth }
func (r AbortedResult) FinalDepth() int    { return r.Depth }

func (r BranchingResult) Successors() []State {
	return append([]State(nil), r.NextStates...)
}

func (DepthBoundResult) Successors() []State { return nil }
func (StuckResult) Successors() []State      { return nil }
func (r CutPointResult) Successors() []State { return []State{r.NextState} }
func (TerminalResult) Successors() []State   { return nil }
func (AbortedResult) Successors() []State    { return nil }

func (BranchingResult) isExecuteResult()  {}
func (DepthBoundResult) isExecuteResult() {}
func (StuckResult) isExecuteResult()      {}
func (CutPointResult) isExecuteResult()   {}
func (TerminalResult) isExecuteResult()   {}
func (AbortedResult) isExecuteResult()    {}

// EqualExecuteResults reports whether a and b are the same variant with
// structurally equal fields.
func EqualExecuteResults(a, b ExecuteResult) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Reason() != b.Reason() || a.FinalDepth() != b.FinalDepth() || !a.FinalState().Equal(b.FinalState()) {
		return false
	}
	if !equalStates(a.Successors(), b.Successors()) {
		return false
	}
	switch a := a.(type) {
	case CutPointResult:
		return a.Rule == b.(CutPointResult).Rule
	case TerminalResult:
		return a.Rule == b.(TerminalResult).Rule
	}
	return true
}

// =============================================================================
// IMPLIES RESULT
// =============================================================================

// ImpliesResult is the outcome of an implication check.
//
// Substitution and Predicate are both set or both nil. When Satisfiable
// is true they witness the implication. When it is false they describe
// the condition under which it fails, and are nil when the implication
// fails outright.
type ImpliesResult struct {
	Satisfiable  bool
	Implication  kore.Pattern
	Substitution kore.Pattern
	Predicate    kore.Pattern
}

// Equal reports whether the two results are structurally equal.
func (r ImpliesResult) Equal(other ImpliesResult) bool {
	return r.Satisfiable == other.Satisfiable &&
		kore.Equal(r.Implication, other.Implication) &&
		kore.Equal(r.Substitution, other.Substitution) &&
		kore.Equal(r.Predicate, other.Predicate)
}

// =============================================================================
// GET-MODEL RESULT
// =============================================================================

// Satisfiability is the "satisfiable" field of a get-model result.
type Satisfiability string

const (
	Sat     Satisfiability = "Sat"
	Unsat   Satisfiability = "Unsat"
	Unknown Satisfiability = "Unknown"
)

// GetModelResult is the outcome of a get-model request.
//
// Substitution is set only when Satisfiable is Sat, and may be nil even
// then when the model is trivial.
type GetModelResult struct {
	Satisfiable  Satisfiability
	Substitution kore.Pattern
}

// Equal reports whether the two results are structurally equal.
func (r GetModelResult) Equal(other GetModelResult) bool {
	return r.Satisfiable == other.Satisfiable && kore.Equal(r.Substitution, other.Substitution)
}
