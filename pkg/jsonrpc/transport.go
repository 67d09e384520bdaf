// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/korerpc/pkg/logging"
)

// DialFunc opens a new connection.
type DialFunc func(ctx context.Context) (MessageConn, error)

// Recorder receives the raw bytes of every exchanged message.
//
// Errors are logged and otherwise ignored; a failing recorder never fails
// a call.
type Recorder interface {
	RecordRequest(id int64, body []byte) error
	RecordResponse(id int64, body []byte) error
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *logging.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithRecorder records every request and response body.
func WithRecorder(r Recorder) Option {
	return func(t *Transport) { t.recorder = r }
}

// WithReconnect lets the call after a connection failure dial a new
// connection instead of failing with ErrConnectionLost.
func WithReconnect(enabled bool) Option {
	return func(t *Transport) { t.reconnect = enabled }
}

// WithTimeout bounds calls whose context has no deadline. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) { t.timeout = d }
}

// WithFraming selects the stream framing used by DialTCP and NewConn.
func WithFraming(f Framing) Option {
	return func(t *Transport) { t.framing = f }
}

// =============================================================================
// TRANSPORT
// =============================================================================

// Transport is a synchronous JSON-RPC client connection.
//
// Description:
//
//	Holds at most one live MessageConn. Calls are serialized: a call waits
//	for the previous one to finish before writing its request. The
//	connection is dialed lazily on first use (or eagerly by Connect) and
//	discarded after any transport failure.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Transport struct {
	dial      DialFunc
	logger    *logging.Logger
	recorder  Recorder
	reconnect bool
	timeout   time.Duration
	framing   Framing

	// inflight holds a token while a call is running.
	inflight chan struct{}
	nextID   atomic.Int64

	mu         sync.Mutex
	conn       MessageConn
	generation uint64
	dialed     bool
	closed     bool
}

// New returns a Transport that dials with dial on first use.
func New(dial DialFunc, opts ...Option) *Transport {
	t := &Transport{
		dial:     dial,
		logger:   logging.Nop(),
		inflight: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewConn returns a Transport over an already open connection.
//
// The transport cannot redial: once nc fails, every call fails with
// ErrConnectionLost. Framing comes from WithFraming.
func NewConn(nc net.Conn, opts ...Option) *Transport {
	t := New(nil, opts...)
	t.conn = NewStreamConn(nc, t.framing)
	t.generation = 1
	t.dialed = true
	return t
}

// DialTCP connects to a kore-rpc server listening on addr.
//
// Description:
//
//	Dials immediately so configuration errors surface before the first
//	call. With WithReconnect, later calls redial the same address after a
//	connection failure.
//
// Inputs:
//
//	ctx - Bounds the initial dial.
//	addr - host:port of the server.
//	opts - Transport options.
//
// Outputs:
//
//	*Transport - Connected transport. Close it when done.
//	error - A *TransportError wrapping ErrConnectionLost if the dial fails.
func DialTCP(ctx context.Context, addr string, opts ...Option) (*Transport, error) {
	t := New(nil, opts...)
	t.dial = func(ctx context.Context) (MessageConn, error) {
		var d net.Dialer
		nc, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return NewStreamConn(nc, t.framing), nil
	}
	if err := t.Connect(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Connect dials if the transport has no live connection.
func (t *Transport) Connect(ctx context.Context) error {
	_, err := t.connection(ctx)
	return err
}

// Generation counts successful dials. It changes exactly when the server
// session behind the transport may have changed.
func (t *Transport) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// Call sends one request and waits for its response.
//
// Description:
//
//	Marshals params, writes the request and reads exactly one response.
//	The response id must equal the request id; a null id is accepted only
//	on error responses. Cancelling ctx, its deadline expiring, or Close
//	aborts the exchange.
//
// Inputs:
//
//	ctx - Cancellation and deadline for this call.
//	method - The remote method name.
//	params - Marshaled as the "params" member.
//
// Outputs:
//
//	json.RawMessage - The "result" member on success.
//	error - *ResponseError for a JSON-RPC error response, *TransportError
//	  for a transport failure, or a plain error if params cannot be marshaled.
//
// Thread Safety:
//
//	Safe for concurrent use. Calls are serialized.
func (t *Transport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if ctx == nil {
		return nil, errors.New("jsonrpc: ctx must not be nil")
	}
	if _, ok := ctx.Deadline(); !ok && t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	select {
	case t.inflight <- struct{}{}:
	case <-ctx.Done():
		return nil, &TransportError{Op: "call", Err: contextError(ctx)}
	}
	defer func() { <-t.inflight }()

	id := t.nextID.Add(1)
	body, err := json.Marshal(Request{JSONRPC: Version, ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: marshal %s request: %w", method, err)
	}

	conn, err := t.connection(ctx)
	if err != nil {
		return nil, err
	}

	// Closing the connection is the only way to unblock its I/O.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		if !stop() && ctx.Err() != nil {
			t.drop(conn)
		}
	}()

	t.record(id, body, t.recorderRequest)
	t.logger.Debug("jsonrpc request", "method", method, "id", id, "bytes", len(body))

	if err := conn.WriteMessage(body); err != nil {
		return nil, t.fail(ctx, conn, "write", err)
	}
	data, err := conn.ReadMessage()
	if err != nil {
		return nil, t.fail(ctx, conn, "read", err)
	}

	t.record(id, data, t.recorderResponse)
	t.logger.Debug("jsonrpc response", "method", method, "id", id, "bytes", len(data))

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, t.fail(ctx, conn, "decode", fmt.Errorf("%w: %v", ErrFraming, err))
	}
	if resp.JSONRPC != Version {
		return nil, t.fail(ctx, conn, "decode", fmt.Errorf("%w: jsonrpc version %q", ErrFraming, resp.JSONRPC))
	}
	switch {
	case resp.ID == nil && resp.Error == nil:
		return nil, t.fail(ctx, conn, "decode", fmt.Errorf("%w: response without id", ErrFraming))
	case resp.ID != nil && *resp.ID != id:
		return nil, t.fail(ctx, conn, "decode", fmt.Errorf("%w: sent %d, received %d", ErrIDMismatch, id, *resp.ID))
	}

	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Result == nil {
		return nil, t.fail(ctx, conn, "decode", fmt.Errorf("%w: response has neither result nor error", ErrFraming))
	}
	return resp.Result, nil
}

// Close closes the transport and aborts the in-flight call, if any.
// Later calls fail with ErrClosed. Close is idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	t.logger.Debug("jsonrpc transport closed")
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// connection returns the live connection, dialing if allowed.
func (t *Transport) connection(ctx context.Context) (MessageConn, error) {
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return nil, &TransportError{Op: "call", Err: ErrClosed}
	case t.conn != nil:
		conn := t.conn
		t.mu.Unlock()
		return conn, nil
	case t.dial == nil || (t.dialed && !t.reconnect):
		t.mu.Unlock()
		return nil, &TransportError{Op: "call", Err: ErrConnectionLost}
	}
	redial := t.dialed
	t.mu.Unlock()

	// Dial without the lock so Close is never blocked behind it.
	conn, err := t.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TransportError{Op: "dial", Err: contextError(ctx)}
		}
		return nil, &TransportError{Op: "dial", Err: fmt.Errorf("%w: %w", ErrConnectionLost, err)}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return nil, &TransportError{Op: "dial", Err: ErrClosed}
	}
	t.conn = conn
	t.dialed = true
	t.generation++
	generation := t.generation
	t.mu.Unlock()

	if redial {
		t.logger.Warn("jsonrpc reconnected", "generation", generation)
	} else {
		t.logger.Debug("jsonrpc connected", "generation", generation)
	}
	return conn, nil
}

// drop discards conn if it is still the live connection.
func (t *Transport) drop(conn MessageConn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	_ = conn.Close()
}

// fail drops the connection and classifies err.
func (t *Transport) fail(ctx context.Context, conn MessageConn, op string, err error) error {
	t.drop(conn)

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()

	var netErr net.Error
	switch {
	case closed:
		err = fmt.Errorf("%w: %w", ErrClosed, err)
	case ctx.Err() != nil:
		err = contextError(ctx)
	case errors.Is(err, ErrFraming), errors.Is(err, ErrIDMismatch):
	case errors.As(err, &netErr) && netErr.Timeout():
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		err = fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}

	if !closed {
		t.logger.Warn("jsonrpc connection dropped", "op", op, "error", err)
	}
	return &TransportError{Op: op, Err: err}
}

func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
	return fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
}

// =============================================================================
// RECORDING
// =============================================================================

func (t *Transport) recorderRequest(id int64, body []byte) error {
	return t.recorder.RecordRequest(id, body)
}

func (t *Transport) recorderResponse(id int64, body []byte) error {
	return t.recorder.RecordResponse(id, body)
}

func (t *Transport) record(id int64, body []byte, fn func(int64, []byte) error) {
	if t.recorder == nil {
		return
	}
	if err := fn(id, body); err != nil {
		t.logger.Warn("jsonrpc recorder failed", "id", id, "error", err)
	}
}
