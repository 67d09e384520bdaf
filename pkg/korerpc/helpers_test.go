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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/korerpc/pkg/jsonrpc"
	"github.com/AleutianAI/korerpc/pkg/kore"
)

var (
	intTop = kore.Top{Sort: kore.SortInt}
	varX   = kore.EVar{Name: "X", Sort: kore.SortInt}
	varY   = kore.EVar{Name: "Y", Sort: kore.SortInt}
)

// term builds <generatedTop><k> n ~> K </k> GCC </generatedTop>.
func term(n int64) kore.Pattern {
	return kore.NewApp("Lbl'-LT-'generatedTop'-GT-'", nil,
		kore.NewApp("Lbl'-LT-'k'-GT-'", nil,
			kore.KSeq(kore.Inj(kore.SortInt, kore.SortKItem, kore.IntDV(n)), kore.EVar{Name: "K", Sort: kore.SortK}),
		),
		kore.EVar{Name: "GCC", Sort: kore.SortApp{Name: "SortGeneratedCounterCell"}},
	)
}

func state(n int64) State {
	return State{Term: term(n)}
}

// wireState is the JSON shape of a State.
func wireState(s State) map[string]any {
	m := map[string]any{"term": kore.Envelope{Term: s.Term}}
	if s.Substitution != nil {
		m["substitution"] = kore.Envelope{Term: s.Substitution}
	}
	if s.Predicate != nil {
		m["predicate"] = kore.Envelope{Term: s.Predicate}
	}
	return m
}

func wireStates(states ...State) []any {
	out := make([]any, len(states))
	for i, s := range states {
		out[i] = wireState(s)
	}
	return out
}

func env(p kore.Pattern) kore.Envelope {
	return kore.Envelope{Term: p}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// paramTerm decodes a term envelope from request params on the server
// side, reporting failures as invalid params.
func paramTerm(params json.RawMessage, key string) (kore.Pattern, *jsonrpc.ResponseError) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(params, &fields); err != nil {
		return nil, &jsonrpc.ResponseError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}
	var e kore.Envelope
	if err := json.Unmarshal(fields[key], &e); err != nil {
		return nil, &jsonrpc.ResponseError{Code: jsonrpc.CodeInvalidParams, Message: key + ": " + err.Error()}
	}
	return e.Term, nil
}

// unwrap decodes a request parameter holding a term envelope.
func unwrap(t *testing.T, params json.RawMessage, key string) kore.Pattern {
	t.Helper()
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(params, &fields))
	var e kore.Envelope
	require.NoError(t, json.Unmarshal(fields[key], &e))
	return e.Term
}
