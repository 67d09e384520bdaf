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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/korerpc/pkg/config"
	"github.com/AleutianAI/korerpc/pkg/jsonrpc"
	"github.com/AleutianAI/korerpc/pkg/jsonrpc/jsonrpctest"
	"github.com/AleutianAI/korerpc/pkg/kore"
	"github.com/AleutianAI/korerpc/pkg/korerpc"
)

// =============================================================================
// Helpers
// =============================================================================

var (
	intTop = kore.Top{Sort: kore.SortInt}
	varX   = kore.EVar{Name: "X", Sort: kore.SortInt}
)

func env(p kore.Pattern) kore.Envelope {
	return kore.Envelope{Term: p}
}

// serve starts a line-framed server and writes a config file pointing at
// it. It returns the config path.
func serve(t *testing.T, handler jsonrpctest.Handler, edit func(*config.ClientConfig)) (string, *jsonrpctest.Server) {
	t.Helper()
	srv := jsonrpctest.NewServer(handler, jsonrpc.FramingLine)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.Logging.Level = "error"
	if edit != nil {
		edit(&cfg)
	}
	path := filepath.Join(t.TempDir(), "korectl.yaml")
	require.NoError(t, config.Save(path, cfg))
	return path, srv
}

// korectl runs one invocation and returns its standard output.
func korectl(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writePattern(t *testing.T, p kore.Pattern) string {
	t.Helper()
	return writeFile(t, "pattern.kore", kore.Text(p))
}

func paramFields(t *testing.T, params json.RawMessage) map[string]json.RawMessage {
	t.Helper()
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(params, &fields))
	return fields
}

// =============================================================================
// Requests
// =============================================================================

func TestSimplify(t *testing.T) {
	cfgPath, srv := serve(t, func(method string, params json.RawMessage) (any, *jsonrpc.ResponseError) {
		return map[string]any{"state": env(intTop)}, nil
	}, nil)
	input := writePattern(t, kore.And{Sort: kore.SortInt, Left: intTop, Right: intTop})

	out, err := korectl(t, "--config", cfgPath, "simplify", input)
	require.NoError(t, err)
	assert.Equal(t, kore.Text(intTop)+"\n", out)

	calls := srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, korerpc.MethodSimplify, calls[0].Method)
}

func TestExecute_Flags(t *testing.T) {
	cfgPath, srv := serve(t, func(method string, params json.RawMessage) (any, *jsonrpc.ResponseError) {
		return map[string]any{
			"reason": "stuck",
			"depth":  2,
			"state":  map[string]any{"term": env(intTop), "predicate": env(intTop)},
		}, nil
	}, nil)
	input := writePattern(t, intTop)

	out, err := korectl(t, "--config", cfgPath, "execute", input,
		"--max-depth", "5",
		"--cut-point-rule", "A",
		"--cut-point-rule", "B",
		"--step-timeout", "250ms")
	require.NoError(t, err)

	text := kore.Text(intTop)
	assert.Equal(t, "reason: stuck\ndepth: 2\nstate.term: "+text+"\nstate.predicate: "+text+"\n", out)

	calls := srv.Calls()
	require.Len(t, calls, 1)
	fields := paramFields(t, calls[0].Params)
	assert.JSONEq(t, `5`, string(fields["max-depth"]))
	assert.JSONEq(t, `["A","B"]`, string(fields["cut-point-rules"]))
	assert.JSONEq(t, `250`, string(fields["step-timeout"]))
	assert.NotContains(t, fields, "terminal-rules")
	assert.NotContains(t, fields, "move-to-terminal-only")
}

func TestExecute_Branching(t *testing.T) {
	cfgPath, _ := serve(t, func(method string, params json.RawMessage) (any, *jsonrpc.ResponseError) {
		return map[string]any{
			"reason": "branching",
			"depth":  1,
			"state":  map[string]any{"term": env(intTop)},
			"next-states": []any{
				map[string]any{"term": env(intTop)},
				map[string]any{"term": env(varX)},
			},
		}, nil
	}, nil)

	out, err := korectl(t, "--config", cfgPath, "execute", writePattern(t, intTop))
	require.NoError(t, err)
	assert.Contains(t, out, "reason: branching\n")
	assert.Contains(t, out, "next-states[0].term: "+kore.Text(intTop)+"\n")
	assert.Contains(t, out, "next-states[1].term: "+kore.Text(varX)+"\n")
}

func TestExecute_JSONInput(t *testing.T) {
	var got []kore.Pattern
	cfgPath, srv := serve(t, func(method string, params json.RawMessage) (any, *jsonrpc.ResponseError) {
		return map[string]any{"reason": "stuck", "depth": 0, "state": map[string]any{"term": env(intTop)}}, nil
	}, nil)

	bare, err := kore.MarshalPattern(varX)
	require.NoError(t, err)
	wrapped, err := json.Marshal(env(varX))
	require.NoError(t, err)

	for _, input := range [][]byte{bare, wrapped} {
		_, err := korectl(t, "--config", cfgPath, "--json", "execute", writeFile(t, "state.json", string(input)))
		require.NoError(t, err)
	}

	for _, call := range srv.Calls() {
		var e kore.Envelope
		require.NoError(t, json.Unmarshal(paramFields(t, call.Params)["state"], &e))
		got = append(got, e.Term)
	}
	require.Len(t, got, 2)
	for _, p := range got {
		assert.True(t, kore.Equal(varX, p))
	}
}

func TestImplies(t *testing.T) {
	eq := kore.Equals{OpSort: kore.SortInt, Sort: kore.SortInt, Left: varX, Right: kore.IntDV(0)}
	cfgPath, srv := serve(t, func(method string, params json.RawMessage) (any, *jsonrpc.ResponseError) {
		return map[string]any{
			"satisfiable": true,
			"implication": env(intTop),
			"condition": map[string]any{
				"substitution": env(eq),
				"predicate":    env(intTop),
			},
		}, nil
	}, nil)

	out, err := korectl(t, "--config", cfgPath, "implies", writePattern(t, intTop), writePattern(t, varX))
	require.NoError(t, err)
	assert.Equal(t,
		"satisfiable: true\n"+
			"implication: "+kore.Text(intTop)+"\n"+
			"condition.substitution: "+kore.Text(eq)+"\n"+
			"condition.predicate: "+kore.Text(intTop)+"\n",
		out)
	require.Len(t, srv.Calls(), 1)
	assert.Equal(t, korerpc.MethodImplies, srv.Calls()[0].Method)
}

func TestImplies_Indeterminate(t *testing.T) {
	cfgPath, _ := serve(t, func(method string, params json.RawMessage) (any, *jsonrpc.ResponseError) {
		return nil, &jsonrpc.ResponseError{Code: korerpc.CodeImplicationIndeterminate, Message: "Implication indeterminate"}
	}, nil)

	_, err := korectl(t, "--config", cfgPath, "implies", writePattern(t, intTop), writePattern(t, varX))
	require.Error(t, err)
	assert.ErrorIs(t, err, korerpc.ErrImplicationIndeterminate)

	var stderr bytes.Buffer
	assert.Equal(t, exitProtocol, reportError(&stderr, err))
	assert.Equal(t, "Error: server error -32003: Implication indeterminate\n", stderr.String())
}

func TestAddModule(t *testing.T) {
	cfgPath, srv := serve(t, func(method string, params json.RawMessage) (any, *jsonrpc.ResponseError) {
		return map[string]any{}, nil
	}, nil)
	input := writeFile(t, "hello.kore", "module HELLO\nendmodule []")

	out, err := korectl(t, "--config", cfgPath, "add-module", input)
	require.NoError(t, err)
	assert.Equal(t, "added module HELLO\n", out)
	require.Len(t, srv.Calls(), 1)
	assert.Equal(t, korerpc.MethodAddModule, srv.Calls()[0].Method)
}

func TestGetModel(t *testing.T) {
	cfgPath, _ := serve(t, func(method string, params json.RawMessage) (any, *jsonrpc.ResponseError) {
		return map[string]any{"satisfiable": "Unsat"}, nil
	}, nil)

	out, err := korectl(t, "--config", cfgPath, "get-model", writePattern(t, intTop))
	require.NoError(t, err)
	assert.Equal(t, "satisfiable: Unsat\n", out)
}

// =============================================================================
// Configuration
// =============================================================================

func TestFlagOverrides_CreateConfig(t *testing.T) {
	srv := jsonrpctest.NewServer(func(method string, params json.RawMessage) (any, *jsonrpc.ResponseError) {
		return map[string]any{"satisfiable": "Unknown"}, nil
	}, jsonrpc.FramingLine)
	t.Cleanup(srv.Close)
	host, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)

	cfgPath := filepath.Join(t.TempDir(), "nested", "korectl.yaml")
	out, err := korectl(t, "--config", cfgPath, "--host", host, "--port", port, "--timeout", "10s",
		"get-model", writePattern(t, intTop))
	require.NoError(t, err)
	assert.Equal(t, "satisfiable: Unknown\n", out)

	// The created file holds defaults, not the overrides.
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestFlagOverrides_Invalid(t *testing.T) {
	cfgPath, srv := serve(t, func(method string, params json.RawMessage) (any, *jsonrpc.ResponseError) {
		return map[string]any{}, nil
	}, nil)

	_, err := korectl(t, "--config", cfgPath, "--port", "70000", "simplify", writePattern(t, intTop))
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Zero(t, srv.Accepted())
}

func TestConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(l.Addr().String())
	require.NoError(t, l.Close())

	cfgPath := filepath.Join(t.TempDir(), "korectl.yaml")
	_, err = korectl(t, "--config", cfgPath, "--host", "127.0.0.1", "--port", port,
		"simplify", writePattern(t, intTop))
	require.Error(t, err)
	assert.True(t, jsonrpc.IsTransportError(err))

	var stderr bytes.Buffer
	assert.Equal(t, exitFailure, reportError(&stderr, err))
}

func TestInputErrors(t *testing.T) {
	cfgPath, srv := serve(t, func(method string, params json.RawMessage) (any, *jsonrpc.ResponseError) {
		return map[string]any{}, nil
	}, nil)

	tests := []struct {
		name string
		args []string
	}{
		{"missing file", []string{"simplify", filepath.Join(t.TempDir(), "absent.kore")}},
		{"bad text", []string{"simplify", writeFile(t, "bad.kore", `\and{`)}},
		{"bad json", []string{"--json", "simplify", writeFile(t, "bad.json", `{"tag":`)}},
		{"bad module", []string{"add-module", writeFile(t, "bad.kore", "module M\n")}},
		{"wrong arg count", []string{"implies", writePattern(t, intTop)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := korectl(t, append([]string{"--config", cfgPath}, tt.args...)...)
			assert.Error(t, err)
		})
	}
	assert.Zero(t, srv.Accepted())
}

// =============================================================================
// Bug Reports
// =============================================================================

func TestBugReport_RecordAndExport(t *testing.T) {
	dbDir := filepath.Join(t.TempDir(), "bugs")
	cfgPath, _ := serve(t, func(method string, params json.RawMessage) (any, *jsonrpc.ResponseError) {
		return map[string]any{"state": env(intTop)}, nil
	}, func(cfg *config.ClientConfig) {
		cfg.BugReport.Dir = dbDir
	})

	_, err := korectl(t, "--config", cfgPath, "simplify", writePattern(t, intTop))
	require.NoError(t, err)

	outDir := filepath.Join(t.TempDir(), "report")
	out, err := korectl(t, "--config", cfgPath, "bug-report", "export", dbDir, outDir)
	require.NoError(t, err)
	assert.Equal(t, "exported 2 messages to "+outDir+"\n", out)

	files, err := filepath.Glob(filepath.Join(outDir, "*", "*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestReportError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
		code int
	}{
		{
			name: "server error with data",
			err: &korerpc.KoreClientError{
				Method: korerpc.MethodExecute, Code: -32002, Message: "Could not verify pattern",
				Data: json.RawMessage(`{"context":"x"}`),
			},
			want: "Error: server error -32002: Could not verify pattern\n  data: {\"context\":\"x\"}\n",
			code: exitProtocol,
		},
		{
			name: "other",
			err:  errors.New("boom"),
			want: "Error: boom\n",
			code: exitFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			assert.Equal(t, tt.code, reportError(&buf, tt.err))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}
