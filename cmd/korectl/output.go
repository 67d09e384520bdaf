// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/AleutianAI/korerpc/pkg/kore"
	"github.com/AleutianAI/korerpc/pkg/korerpc"
	"github.com/AleutianAI/korerpc/pkg/ux"
)

// Results are printed as "key: value" lines with patterns in KORE text.

func printOptional(p *ux.Printer, key string, pattern kore.Pattern) {
	if pattern != nil {
		p.Field(key, kore.Text(pattern))
	}
}

func printState(p *ux.Printer, prefix string, s korerpc.State) {
	p.Field(prefix+".term", kore.Text(s.Term))
	printOptional(p, prefix+".substitution", s.Substitution)
	printOptional(p, prefix+".predicate", s.Predicate)
}

func printExecuteResult(p *ux.Printer, r korerpc.ExecuteResult) {
	p.Field("reason", string(r.Reason()))
	p.Field("depth", fmt.Sprint(r.FinalDepth()))
	switch r := r.(type) {
	case korerpc.CutPointResult:
		p.Field("rule", r.Rule)
	case korerpc.TerminalResult:
		p.Field("rule", r.Rule)
	}
	printState(p, "state", r.FinalState())
	for i, next := range r.Successors() {
		printState(p, fmt.Sprintf("next-states[%d]", i), next)
	}
}

func printImpliesResult(p *ux.Printer, r korerpc.ImpliesResult) {
	p.Field("satisfiable", fmt.Sprint(r.Satisfiable))
	p.Field("implication", kore.Text(r.Implication))
	if r.Substitution == nil {
		p.Field("condition", "none")
		return
	}
	printOptional(p, "condition.substitution", r.Substitution)
	printOptional(p, "condition.predicate", r.Predicate)
}

func printGetModelResult(p *ux.Printer, r korerpc.GetModelResult) {
	p.Field("satisfiable", string(r.Satisfiable))
	printOptional(p, "substitution", r.Substitution)
}
