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
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/AleutianAI/korerpc/pkg/jsonrpc"
	"github.com/AleutianAI/korerpc/pkg/jsonrpc/jsonrpctest"
	"github.com/AleutianAI/korerpc/pkg/kore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newClient(t *testing.T, handler jsonrpctest.Handler, opts ...Option) (*Client, *jsonrpctest.Server) {
	t.Helper()
	srv := jsonrpctest.NewServer(handler, jsonrpc.FramingLine)
	t.Cleanup(srv.Close)
	tr, err := jsonrpc.DialTCP(context.Background(), srv.Addr())
	require.NoError(t, err)
	c, err := New(tr, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

// reply answers every request with result.
func reply(result any) jsonrpctest.Handler {
	return func(string, json.RawMessage) (any, *jsonrpc.ResponseError) {
		return result, nil
	}
}

func callParams(t *testing.T, call jsonrpctest.Call) map[string]json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(call.Params, &m))
	return m
}

// =============================================================================
// EXECUTE
// =============================================================================

func TestClient_Execute(t *testing.T) {
	a, b, c, d := state(0), state(1), state(2), state(3)

	t.Run("branching at the depth bound", func(t *testing.T) {
		client, srv := newClient(t, reply(map[string]any{
			"reason": "branching", "depth": 3, "state": wireState(b), "next-states": wireStates(c, d),
		}))

		got, err := client.Execute(context.Background(), a.Term, WithMaxDepth(3))
		require.NoError(t, err)
		want := BranchingResult{State: b, Depth: 3, NextStates: []State{c, d}}
		assert.True(t, EqualExecuteResults(want, got), "got %#v", got)

		calls := srv.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, MethodExecute, calls[0].Method)
		p := callParams(t, calls[0])
		assert.JSONEq(t, `3`, string(p["max-depth"]))
		assert.NotContains(t, p, "cut-point-rules")
		assert.NotContains(t, p, "terminal-rules")
		assert.True(t, kore.Equal(a.Term, unwrap(t, calls[0].Params, "state")))
	})

	t.Run("stuck without a bound", func(t *testing.T) {
		client, srv := newClient(t, reply(map[string]any{
			"reason": "stuck", "depth": 1, "state": wireState(a),
		}))

		got, err := client.Execute(context.Background(), a.Term)
		require.NoError(t, err)
		assert.True(t, EqualExecuteResults(StuckResult{State: a, Depth: 1}, got), "got %#v", got)
		assert.Empty(t, got.Successors())

		p := callParams(t, srv.Calls()[0])
		assert.NotContains(t, p, "max-depth")
		assert.Len(t, p, 1)
	})

	t.Run("cut point", func(t *testing.T) {
		client, srv := newClient(t, reply(map[string]any{
			"reason": "cut-point-rule", "depth": 1, "state": wireState(state(5)),
			"next-states": wireStates(state(6)), "rule": "KORE-RPC-TEST.r56",
		}))

		got, err := client.Execute(context.Background(), term(4), WithCutPointRules("KORE-RPC-TEST.r56"))
		require.NoError(t, err)
		cut, ok := got.(CutPointResult)
		require.True(t, ok, "got %T", got)
		assert.Equal(t, "KORE-RPC-TEST.r56", cut.Rule)
		assert.True(t, cut.NextState.Equal(state(6)))
		assert.JSONEq(t, `["KORE-RPC-TEST.r56"]`, string(callParams(t, srv.Calls()[0])["cut-point-rules"]))
	})

	t.Run("terminal", func(t *testing.T) {
		client, _ := newClient(t, reply(map[string]any{
			"reason": "terminal-rule", "depth": 2, "state": wireState(state(6)), "rule": "KORE-RPC-TEST.r56",
		}))

		got, err := client.Execute(context.Background(), term(4), WithTerminalRules("KORE-RPC-TEST.r56"))
		require.NoError(t, err)
		want := TerminalResult{State: state(6), Depth: 2, Rule: "KORE-RPC-TEST.r56"}
		assert.True(t, EqualExecuteResults(want, got), "got %#v", got)
	})

	t.Run("malformed discriminant leaves the connection usable", func(t *testing.T) {
		var mu sync.Mutex
		n := 0
		client, srv := newClient(t, func(string, json.RawMessage) (any, *jsonrpc.ResponseError) {
			mu.Lock()
			defer mu.Unlock()
			n++
			if n == 1 {
				return map[string]any{"reason": "branching", "depth": 1, "state": wireState(b), "next-states": wireStates(c)}, nil
			}
			return map[string]any{"reason": "stuck", "depth": 0, "state": wireState(b)}, nil
		})

		_, err := client.Execute(context.Background(), a.Term)
		require.True(t, IsDecodeError(err), "got %v", err)
		assert.False(t, jsonrpc.IsTransportError(err))

		_, err = client.Execute(context.Background(), a.Term)
		require.NoError(t, err)
		assert.Equal(t, 1, srv.Accepted())
	})
}

// =============================================================================
// IMPLIES
// =============================================================================

// implier answers implies requests: equal operands are satisfiable with
// a trivial witness, a variable antecedent yields a refutation, and a
// variable consequent is indeterminate.
func implier(_ string, raw json.RawMessage) (any, *jsonrpc.ResponseError) {
	ante, err := paramTerm(raw, "antecedent")
	if err != nil {
		return nil, err
	}
	cons, err := paramTerm(raw, "consequent")
	if err != nil {
		return nil, err
	}
	implication := kore.Implies{Sort: kore.SortInt, Left: ante, Right: cons}
	top := kore.Top{Sort: kore.SortInt}
	switch {
	case kore.Equal(ante, cons):
		return map[string]any{"satisfiable": true, "implication": env(implication),
			"condition": map[string]any{"substitution": env(top), "predicate": env(top)}}, nil
	case isVar(cons):
		return nil, &jsonrpc.ResponseError{Code: CodeImplicationIndeterminate, Message: "Implication check error",
			Data: json.RawMessage(`"The check implication step expects the antecedent term to be function-like."`)}
	case isVar(ante):
		return map[string]any{"satisfiable": false, "implication": env(implication),
			"condition": map[string]any{"substitution": env(top),
				"predicate": env(kore.Equals{OpSort: kore.SortInt, Sort: kore.SortInt, Left: ante, Right: cons})}}, nil
	default:
		return map[string]any{"satisfiable": false, "implication": env(implication), "condition": nil}, nil
	}
}

func isVar(p kore.Pattern) bool {
	_, ok := p.(kore.EVar)
	return ok
}

func TestClient_Implies(t *testing.T) {
	client, _ := newClient(t, implier)
	ctx := context.Background()

	t.Run("unconstrained variable yields a witness", func(t *testing.T) {
		got, err := client.Implies(ctx, varX, kore.IntDV(0))
		require.NoError(t, err)
		want := ImpliesResult{
			Satisfiable:  false,
			Implication:  kore.Implies{Sort: kore.SortInt, Left: varX, Right: kore.IntDV(0)},
			Substitution: intTop,
			Predicate:    kore.Equals{OpSort: kore.SortInt, Sort: kore.SortInt, Left: varX, Right: kore.IntDV(0)},
		}
		assert.True(t, want.Equal(got), "got %#v", got)
	})

	t.Run("refuted without condition", func(t *testing.T) {
		got, err := client.Implies(ctx, kore.IntDV(0), kore.IntDV(1))
		require.NoError(t, err)
		assert.False(t, got.Satisfiable)
		assert.Nil(t, got.Substitution)
		assert.Nil(t, got.Predicate)
	})

	t.Run("reflexive on ground patterns", func(t *testing.T) {
		for _, p := range []kore.Pattern{kore.IntDV(0), kore.IntDV(-7), term(3), intTop} {
			got, err := client.Implies(ctx, p, p)
			require.NoError(t, err)
			assert.True(t, got.Satisfiable, kore.Text(p))
		}
	})

	t.Run("indeterminate", func(t *testing.T) {
		for _, ante := range []kore.Pattern{kore.IntDV(0), varX} {
			_, err := client.Implies(ctx, ante, varY)
			require.ErrorIs(t, err, ErrImplicationIndeterminate)

			var kce *KoreClientError
			require.ErrorAs(t, err, &kce)
			assert.Equal(t, -32003, kce.Code)
			assert.Equal(t, "Implication check error", kce.Message)
			assert.True(t, kce.IsImplicationIndeterminate())
			assert.Equal(t, MethodImplies, kce.Method)
		}
	})
}

// =============================================================================
// ERRORS
// =============================================================================

func TestClient_ErrorCodeFidelity(t *testing.T) {
	tests := []struct {
		code int
		kind Kind
	}{
		{-32003, KindImplicationIndeterminate},
		{-32601, KindMethodNotFound},
		{-32602, KindInvalidParams},
		{-32700, KindParseError},
		{-32600, KindInvalidRequest},
		{-32603, KindInternalError},
		{-32001, KindGeneric},
		{-32002, KindGeneric},
		{-1, KindGeneric},
		{8, KindGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			client, _ := newClient(t, func(string, json.RawMessage) (any, *jsonrpc.ResponseError) {
				return nil, &jsonrpc.ResponseError{Code: tt.code, Message: "  verbatim message\n"}
			})

			_, err := client.Simplify(context.Background(), intTop)
			var kce *KoreClientError
			require.ErrorAs(t, err, &kce)
			assert.Equal(t, tt.code, kce.Code)
			assert.Equal(t, "  verbatim message\n", kce.Message)
			assert.Equal(t, tt.kind, kce.Kind)
			assert.Equal(t, tt.code == -32003, errors.Is(err, ErrImplicationIndeterminate))
			assert.False(t, jsonrpc.IsTransportError(err))
			assert.False(t, IsDecodeError(err))
		})
	}
}

func TestClient_InvalidArguments(t *testing.T) {
	client, srv := newClient(t, reply(map[string]any{}))
	ctx := context.Background()

	_, err := client.Execute(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = client.Execute(ctx, term(0), WithMaxDepth(-1))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = client.Implies(ctx, intTop, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = client.Simplify(ctx, kore.EVar{Name: "1x", Sort: kore.SortInt})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, kore.ErrInvalidIdentifier)

	_, err = client.GetModel(ctx, kore.Top{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = client.Implies(ctx, kore.StringDV("a\xffb"), intTop)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, kore.ErrMalformed)

	err = client.AddModule(ctx, kore.Module{Name: "bad name"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	//nolint:staticcheck // a nil context is the case under test
	_, err = client.Simplify(nil, intTop)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Empty(t, srv.Calls())

	_, err = New(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestClient_TransportErrors(t *testing.T) {
	t.Run("closed", func(t *testing.T) {
		client, _ := newClient(t, reply(map[string]any{"state": env(intTop)}))
		require.NoError(t, client.Close())

		_, err := client.Simplify(context.Background(), intTop)
		assert.ErrorIs(t, err, jsonrpc.ErrClosed)
		assert.True(t, jsonrpc.IsTransportError(err))
		var kce *KoreClientError
		assert.NotErrorAs(t, err, &kce)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		client, _ := newClient(t, func(string, json.RawMessage) (any, *jsonrpc.ResponseError) {
			<-release
			return map[string]any{}, nil
		})
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := client.GetModel(ctx, intTop)
		assert.ErrorIs(t, err, jsonrpc.ErrTimeout)
		assert.True(t, jsonrpc.IsTransportError(err))
	})

	t.Run("connection lost is not retried", func(t *testing.T) {
		client, srv := newClient(t, reply(jsonrpctest.Drop{}))

		_, err := client.Simplify(context.Background(), intTop)
		assert.ErrorIs(t, err, jsonrpc.ErrConnectionLost)
		assert.Len(t, srv.Calls(), 1)
	})
}

// =============================================================================
// SIMPLIFY, GET-MODEL
// =============================================================================

// simplifyAnd removes \top conjuncts.
func simplifyAnd(p kore.Pattern) kore.Pattern {
	and, ok := p.(kore.And)
	if !ok {
		return p
	}
	left, right := simplifyAnd(and.Left), simplifyAnd(and.Right)
	if _, ok := left.(kore.Top); ok {
		return right
	}
	if _, ok := right.(kore.Top); ok {
		return left
	}
	return kore.And{Sort: and.Sort, Left: left, Right: right}
}

func TestClient_SimplifyIdempotent(t *testing.T) {
	client, _ := newClient(t, func(_ string, raw json.RawMessage) (any, *jsonrpc.ResponseError) {
		p, err := paramTerm(raw, "state")
		if err != nil {
			return nil, err
		}
		return map[string]any{"state": env(simplifyAnd(p))}, nil
	})
	ctx := context.Background()

	inputs := []kore.Pattern{
		kore.And{Sort: kore.SortInt, Left: intTop, Right: intTop},
		kore.And{Sort: kore.SortInt, Left: varX, Right: intTop},
		kore.And{Sort: kore.SortInt, Left: kore.And{Sort: kore.SortInt, Left: intTop, Right: varX}, Right: varY},
		term(1),
	}
	for _, p := range inputs {
		once, err := client.Simplify(ctx, p)
		require.NoError(t, err)
		twice, err := client.Simplify(ctx, once)
		require.NoError(t, err)
		assert.True(t, kore.Equal(once, twice), "%s: %s != %s", kore.Text(p), kore.Text(once), kore.Text(twice))
	}

	got, err := client.Simplify(ctx, inputs[0])
	require.NoError(t, err)
	assert.True(t, kore.Equal(intTop, got))
}

func TestClient_GetModel(t *testing.T) {
	subst := kore.Equals{OpSort: kore.SortInt, Sort: kore.SortInt, Left: varX, Right: kore.IntDV(3)}
	client, srv := newClient(t, reply(map[string]any{"satisfiable": "Sat", "substitution": env(subst)}))

	got, err := client.GetModel(context.Background(), varX)
	require.NoError(t, err)
	assert.Equal(t, Sat, got.Satisfiable)
	assert.True(t, kore.Equal(subst, got.Substitution))
	assert.Equal(t, MethodGetModel, srv.Calls()[0].Method)
}

// =============================================================================
// ADD-MODULE AND SESSION
// =============================================================================

// moduleServer rejects a module name it has already seen.
func moduleServer() jsonrpctest.Handler {
	var mu sync.Mutex
	seen := map[string]bool{}
	return func(method string, raw json.RawMessage) (any, *jsonrpc.ResponseError) {
		switch method {
		case MethodAddModule:
			var p addModuleParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, &jsonrpc.ResponseError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
			}
			m, err := kore.ParseModule(p.Module)
			if err != nil {
				return nil, &jsonrpc.ResponseError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[m.Name] {
				return nil, &jsonrpc.ResponseError{Code: 8, Message: "Duplicate module", Data: json.RawMessage(`"` + m.Name + `"`)}
			}
			seen[m.Name] = true
			return map[string]any{}, nil
		case "crash":
			return jsonrpctest.Drop{}, nil
		}
		return nil, &jsonrpc.ResponseError{Code: jsonrpc.CodeMethodNotFound, Message: "Method not found"}
	}
}

func TestClient_AddModule(t *testing.T) {
	client, srv := newClient(t, moduleServer())
	ctx := context.Background()

	module := kore.Module{Name: "HELLO"}
	require.NoError(t, client.AddModule(ctx, module))
	assert.Equal(t, []string{"HELLO"}, client.Session())
	var sent addModuleParams
	require.NoError(t, json.Unmarshal(srv.Calls()[0].Params, &sent))
	assert.Equal(t, kore.Text(module), sent.Module)

	err := client.AddModule(ctx, module)
	var kce *KoreClientError
	require.ErrorAs(t, err, &kce)
	assert.Equal(t, 8, kce.Code)
	assert.Equal(t, "Duplicate module", kce.Message)
	assert.Equal(t, KindGeneric, kce.Kind)
	assert.Equal(t, []string{"HELLO"}, client.Session())
}

func TestClient_SessionResetsOnReconnect(t *testing.T) {
	srv := jsonrpctest.NewServer(moduleServer(), jsonrpc.FramingLine)
	defer srv.Close()
	tr, err := jsonrpc.DialTCP(context.Background(), srv.Addr(), jsonrpc.WithReconnect(true))
	require.NoError(t, err)
	client, err := New(tr)
	require.NoError(t, err)
	defer client.Close()
	ctx := context.Background()

	require.NoError(t, client.AddModule(ctx, kore.Module{Name: "A"}))
	require.NoError(t, client.AddModule(ctx, kore.Module{Name: "B"}))
	assert.Equal(t, []string{"A", "B"}, client.Session())

	_, err = tr.Call(ctx, "crash", struct{}{})
	require.ErrorIs(t, err, jsonrpc.ErrConnectionLost)

	require.NoError(t, client.AddModule(ctx, kore.Module{Name: "C"}))
	assert.Equal(t, []string{"C"}, client.Session())
	assert.Equal(t, uint64(2), tr.Generation())
}

// =============================================================================
// TELEMETRY
// =============================================================================

func findMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %s not recorded", name)
	return metricdata.Metrics{}
}

func TestClient_Telemetry(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(ctx)
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	defer tp.Shutdown(ctx)

	client, _ := newClient(t, func(method string, raw json.RawMessage) (any, *jsonrpc.ResponseError) {
		if method == MethodImplies {
			return implier(method, raw)
		}
		return map[string]any{"reason": "depth-bound", "depth": 3, "state": wireState(state(3))}, nil
	}, WithMeterProvider(mp), WithTracerProvider(tp))

	_, err := client.Execute(ctx, term(0), WithMaxDepth(3))
	require.NoError(t, err)
	_, err = client.Implies(ctx, kore.IntDV(0), varX)
	require.ErrorIs(t, err, ErrImplicationIndeterminate)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	total, ok := findMetric(t, rm, "korerpc_request_total").Data.(metricdata.Sum[int64])
	require.True(t, ok)
	classes := map[string]int64{}
	for _, dp := range total.DataPoints {
		method, _ := dp.Attributes.Value(attribute.Key("method"))
		class, _ := dp.Attributes.Value(attribute.Key("error_class"))
		classes[method.AsString()+"/"+class.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{"execute/none": 1, "implies/protocol": 1}, classes)

	depth, ok := findMetric(t, rm, "korerpc_execute_depth").Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, depth.DataPoints, 1)
	assert.Equal(t, uint64(1), depth.DataPoints[0].Count)
	assert.Equal(t, int64(3), depth.DataPoints[0].Sum)

	_, ok = findMetric(t, rm, "korerpc_request_duration_seconds").Data.(metricdata.Histogram[float64])
	assert.True(t, ok)

	ended := spans.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "Client.execute", ended[0].Name())
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Equal(t, "Client.implies", ended[1].Name())
	assert.Equal(t, codes.Error, ended[1].Status().Code)
}
