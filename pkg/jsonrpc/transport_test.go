// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jsonrpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/korerpc/pkg/jsonrpc"
	"github.com/AleutianAI/korerpc/pkg/jsonrpc/jsonrpctest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// echo answers every method with its params wrapped under "echo".
func echo(method string, params json.RawMessage) (any, *jsonrpc.ResponseError) {
	return map[string]any{"method": method, "echo": params}, nil
}

func dial(t *testing.T, srv *jsonrpctest.Server, opts ...jsonrpc.Option) *jsonrpc.Transport {
	t.Helper()
	tr, err := jsonrpc.DialTCP(context.Background(), srv.Addr(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestCall_Framings(t *testing.T) {
	for _, framing := range []jsonrpc.Framing{jsonrpc.FramingLine, jsonrpc.FramingHeader} {
		t.Run(framing.String(), func(t *testing.T) {
			srv := jsonrpctest.NewServer(echo, framing)
			defer srv.Close()
			tr := dial(t, srv, jsonrpc.WithFraming(framing))

			result, err := tr.Call(context.Background(), "simplify", map[string]int{"x": 1})
			require.NoError(t, err)
			assert.JSONEq(t, `{"method":"simplify","echo":{"x":1}}`, string(result))

			calls := srv.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, "simplify", calls[0].Method)
			assert.Equal(t, uint64(1), tr.Generation())
		})
	}
}

func TestCall_ResponseErrorKeepsConnection(t *testing.T) {
	srv := jsonrpctest.NewServer(func(method string, _ json.RawMessage) (any, *jsonrpc.ResponseError) {
		if method == "implies" {
			return nil, &jsonrpc.ResponseError{Code: -32003, Message: "Implication check error", Data: json.RawMessage(`"indeterminate"`)}
		}
		return map[string]any{}, nil
	}, jsonrpc.FramingLine)
	defer srv.Close()
	tr := dial(t, srv)

	_, err := tr.Call(context.Background(), "implies", struct{}{})
	var rpcErr *jsonrpc.ResponseError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32003, rpcErr.Code)
	assert.Equal(t, "Implication check error", rpcErr.Message)
	assert.JSONEq(t, `"indeterminate"`, string(rpcErr.Data))
	assert.False(t, jsonrpc.IsTransportError(err))

	_, err = tr.Call(context.Background(), "simplify", struct{}{})
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Accepted())
}

func TestCall_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `not json`, jsonrpc.ErrFraming},
		{"no result or error", `{"jsonrpc":"2.0","id":1}`, jsonrpc.ErrFraming},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"result":{}}`, jsonrpc.ErrFraming},
		{"missing id", `{"jsonrpc":"2.0","result":{}}`, jsonrpc.ErrFraming},
		{"string id", `{"jsonrpc":"2.0","id":"1","result":{}}`, jsonrpc.ErrFraming},
		{"other id", `{"jsonrpc":"2.0","id":999,"result":{}}`, jsonrpc.ErrIDMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := jsonrpctest.NewServer(func(string, json.RawMessage) (any, *jsonrpc.ResponseError) {
				return jsonrpctest.Raw(tt.raw), nil
			}, jsonrpc.FramingLine)
			defer srv.Close()
			tr := dial(t, srv)

			_, err := tr.Call(context.Background(), "execute", struct{}{})
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, jsonrpc.IsTransportError(err))

			// The connection is discarded and, without reconnect, not replaced.
			_, err = tr.Call(context.Background(), "execute", struct{}{})
			assert.ErrorIs(t, err, jsonrpc.ErrConnectionLost)
			assert.Equal(t, 1, srv.Accepted())
		})
	}
}

func TestCall_NullIDError(t *testing.T) {
	srv := jsonrpctest.NewServer(func(string, json.RawMessage) (any, *jsonrpc.ResponseError) {
		return jsonrpctest.Raw(`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`), nil
	}, jsonrpc.FramingLine)
	defer srv.Close()
	tr := dial(t, srv)

	_, err := tr.Call(context.Background(), "execute", struct{}{})
	var rpcErr *jsonrpc.ResponseError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc.CodeParseError, rpcErr.Code)
}

func TestCall_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := jsonrpctest.NewServer(func(string, json.RawMessage) (any, *jsonrpc.ResponseError) {
		<-release
		return map[string]any{}, nil
	}, jsonrpc.FramingLine)
	defer srv.Close()
	defer close(release)

	t.Run("context deadline", func(t *testing.T) {
		tr := dial(t, srv)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := tr.Call(ctx, "execute", struct{}{})
		assert.ErrorIs(t, err, jsonrpc.ErrTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("default timeout", func(t *testing.T) {
		tr := dial(t, srv, jsonrpc.WithTimeout(50*time.Millisecond))
		_, err := tr.Call(context.Background(), "execute", struct{}{})
		assert.ErrorIs(t, err, jsonrpc.ErrTimeout)
	})

	t.Run("cancel", func(t *testing.T) {
		tr := dial(t, srv)
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(50*time.Millisecond, cancel)

		_, err := tr.Call(ctx, "execute", struct{}{})
		assert.ErrorIs(t, err, jsonrpc.ErrCanceled)
	})
}

func TestClose_AbortsInFlightCall(t *testing.T) {
	release := make(chan struct{})
	srv := jsonrpctest.NewServer(func(string, json.RawMessage) (any, *jsonrpc.ResponseError) {
		<-release
		return map[string]any{}, nil
	}, jsonrpc.FramingLine)
	defer srv.Close()
	defer close(release)
	tr := dial(t, srv)

	errc := make(chan error, 1)
	go func() {
		_, err := tr.Call(context.Background(), "execute", struct{}{})
		errc <- err
	}()
	require.Eventually(t, func() bool { return len(srv.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, tr.Close())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, jsonrpc.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("call not aborted by Close")
	}

	_, err := tr.Call(context.Background(), "execute", struct{}{})
	assert.ErrorIs(t, err, jsonrpc.ErrClosed)
	assert.NoError(t, tr.Close())
}

func TestReconnect(t *testing.T) {
	handler := func(method string, _ json.RawMessage) (any, *jsonrpc.ResponseError) {
		if method == "crash" {
			return jsonrpctest.Drop{}, nil
		}
		return map[string]any{}, nil
	}

	t.Run("enabled", func(t *testing.T) {
		srv := jsonrpctest.NewServer(handler, jsonrpc.FramingLine)
		defer srv.Close()
		tr := dial(t, srv, jsonrpc.WithReconnect(true))

		_, err := tr.Call(context.Background(), "crash", struct{}{})
		assert.ErrorIs(t, err, jsonrpc.ErrConnectionLost)
		assert.Equal(t, 1, len(srv.Calls()), "failed request must not be retried")

		_, err = tr.Call(context.Background(), "simplify", struct{}{})
		require.NoError(t, err)
		assert.Equal(t, uint64(2), tr.Generation())
		assert.Equal(t, 2, srv.Accepted())
	})

	t.Run("disabled", func(t *testing.T) {
		srv := jsonrpctest.NewServer(handler, jsonrpc.FramingLine)
		defer srv.Close()
		tr := dial(t, srv)

		_, err := tr.Call(context.Background(), "crash", struct{}{})
		assert.ErrorIs(t, err, jsonrpc.ErrConnectionLost)

		_, err = tr.Call(context.Background(), "simplify", struct{}{})
		assert.ErrorIs(t, err, jsonrpc.ErrConnectionLost)
		assert.Equal(t, uint64(1), tr.Generation())
		assert.Equal(t, 1, srv.Accepted())
	})
}

func TestDialTCP_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = jsonrpc.DialTCP(context.Background(), addr)
	assert.ErrorIs(t, err, jsonrpc.ErrConnectionLost)

	var te *jsonrpc.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "dial", te.Op)
}

func TestNewConn(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	tr := jsonrpc.NewConn(client)
	defer tr.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn := jsonrpc.NewStreamConn(server, jsonrpc.FramingLine)
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req jsonrpc.Request
		if json.Unmarshal(data, &req) != nil {
			return
		}
		_ = conn.WriteMessage([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
	}()

	result, err := tr.Call(context.Background(), "get-model", struct{}{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
	<-done
}

type memRecorder struct {
	mu        sync.Mutex
	requests  map[int64][]byte
	responses map[int64][]byte
}

func (r *memRecorder) RecordRequest(id int64, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[id] = append([]byte(nil), body...)
	return nil
}

func (r *memRecorder) RecordResponse(id int64, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[id] = append([]byte(nil), body...)
	return nil
}

type failingRecorder struct{}

func (failingRecorder) RecordRequest(int64, []byte) error  { return errors.New("disk full") }
func (failingRecorder) RecordResponse(int64, []byte) error { return errors.New("disk full") }

func TestRecorder(t *testing.T) {
	srv := jsonrpctest.NewServer(echo, jsonrpc.FramingLine)
	defer srv.Close()

	rec := &memRecorder{requests: map[int64][]byte{}, responses: map[int64][]byte{}}
	tr := dial(t, srv, jsonrpc.WithRecorder(rec))

	_, err := tr.Call(context.Background(), "add-module", map[string]string{"module": "module M endmodule []"})
	require.NoError(t, err)

	require.Contains(t, rec.requests, int64(1))
	require.Contains(t, rec.responses, int64(1))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"add-module","params":{"module":"module M endmodule []"}}`, string(rec.requests[1]))

	t.Run("recorder failure does not fail the call", func(t *testing.T) {
		tr := dial(t, srv, jsonrpc.WithRecorder(failingRecorder{}))
		_, err := tr.Call(context.Background(), "simplify", struct{}{})
		assert.NoError(t, err)
	})
}

func TestCall_Serialized(t *testing.T) {
	var mu sync.Mutex
	inflight, peak := 0, 0
	srv := jsonrpctest.NewServer(func(string, json.RawMessage) (any, *jsonrpc.ResponseError) {
		mu.Lock()
		inflight++
		if inflight > peak {
			peak = inflight
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		inflight--
		mu.Unlock()
		return map[string]any{}, nil
	}, jsonrpc.FramingLine)
	defer srv.Close()
	tr := dial(t, srv)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Call(context.Background(), "execute", struct{}{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, srv.Calls(), 8)
	assert.Equal(t, 1, peak)
}

func TestWebSocket(t *testing.T) {
	srv := jsonrpctest.NewWebSocketServer(func(method string, params json.RawMessage) (any, *jsonrpc.ResponseError) {
		if method == "crash" {
			return jsonrpctest.Drop{}, nil
		}
		return echo(method, params)
	})
	defer srv.Close()

	tr, err := jsonrpc.DialWebSocket(context.Background(), srv.URL(), nil, jsonrpc.WithReconnect(true))
	require.NoError(t, err)
	defer tr.Close()

	result, err := tr.Call(context.Background(), "simplify", map[string]int{"n": 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"simplify","echo":{"n":3}}`, string(result))

	_, err = tr.Call(context.Background(), "crash", struct{}{})
	assert.ErrorIs(t, err, jsonrpc.ErrConnectionLost)

	_, err = tr.Call(context.Background(), "simplify", struct{}{})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tr.Generation())
}

func TestParseFraming(t *testing.T) {
	f, err := jsonrpc.ParseFraming("header")
	require.NoError(t, err)
	assert.Equal(t, jsonrpc.FramingHeader, f)

	f, err = jsonrpc.ParseFraming("")
	require.NoError(t, err)
	assert.Equal(t, jsonrpc.FramingLine, f)

	_, err = jsonrpc.ParseFraming("chunked")
	assert.Error(t, err)
}
