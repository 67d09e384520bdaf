// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jsonrpctest provides a scripted JSON-RPC server for tests.
//
// A Server answers each request by calling a Handler. It listens on a
// loopback TCP port (NewServer) or behind a WebSocket endpoint
// (NewWebSocketServer), records every call, and can drop its connections
// on demand to exercise reconnect handling.
package jsonrpctest

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/korerpc/pkg/jsonrpc"
)

// Handler answers one request. Return a result or a non-nil error.
//
// A result of type Raw is written to the connection verbatim instead of
// being wrapped in a response. A result of type Drop closes the
// connection without answering.
type Handler func(method string, params json.RawMessage) (any, *jsonrpc.ResponseError)

// Raw is a pre-encoded message written as-is.
type Raw []byte

// Drop makes the server close the connection instead of responding.
type Drop struct{}

// Call is one request received by a Server.
type Call struct {
	Method string
	Params json.RawMessage
}

// Server is a scripted JSON-RPC server.
type Server struct {
	handler Handler
	framing jsonrpc.Framing

	ln   net.Listener
	http *httptest.Server

	mu       sync.Mutex
	conns    map[jsonrpc.MessageConn]struct{}
	calls    []Call
	accepted int
	closed   bool
	wg       sync.WaitGroup
}

// NewServer starts a TCP server on a loopback port.
func NewServer(handler Handler, framing jsonrpc.Framing) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("jsonrpctest: listen: " + err.Error())
	}
	s := &Server{
		handler: handler,
		framing: framing,
		ln:      ln,
		conns:   make(map[jsonrpc.MessageConn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s
}

// NewWebSocketServer starts a WebSocket server on a loopback port.
func NewWebSocketServer(handler Handler) *Server {
	s := &Server{
		handler: handler,
		conns:   make(map[jsonrpc.MessageConn]struct{}),
	}
	upgrader := websocket.Upgrader{}
	s.http = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := jsonrpc.NewWebSocketConn(ws)
		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.serve(conn)
	}))
	return s
}

// Addr returns the TCP address of a server made by NewServer.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// URL returns the ws:// endpoint of a server made by NewWebSocketServer.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http")
}

// Calls returns the requests received so far, in order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// DropConnections closes every live connection.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]jsonrpc.MessageConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Close stops the server and waits for its goroutines.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.DropConnections()
	if s.http != nil {
		s.http.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		conn := jsonrpc.NewStreamConn(nc, s.framing)
		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		go s.serve(conn)
	}
}

// track registers conn and adds it to the wait group. It reports false
// once the server is closed.
func (s *Server) track(conn jsonrpc.MessageConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.accepted++
	s.wg.Add(1)
	return true
}

type request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      json.RawMessage        `json:"id"`
	Result  any                    `json:"result,omitempty"`
	Error   *jsonrpc.ResponseError `json:"error,omitempty"`
}

func (s *Server) serve(conn jsonrpc.MessageConn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}

		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: req.Method, Params: req.Params})
		s.mu.Unlock()

		result, rpcErr := s.handler(req.Method, req.Params)

		var out []byte
		switch r := result.(type) {
		case Drop:
			return
		case Raw:
			out = r
		default:
			resp := response{JSONRPC: jsonrpc.Version, ID: req.ID, Error: rpcErr}
			if rpcErr == nil {
				resp.Result = result
				if result == nil {
					resp.Result = struct{}{}
				}
			}
			if out, err = json.Marshal(resp); err != nil {
				return
			}
		}
		if err := conn.WriteMessage(out); err != nil {
			return
		}
	}
}
