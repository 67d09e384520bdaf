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
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/korerpc/pkg/jsonrpc"
	"github.com/AleutianAI/korerpc/pkg/kore"
)

// Transport carries one JSON-RPC exchange at a time. *jsonrpc.Transport
// implements it.
type Transport interface {
	// Call sends one request and returns the raw result. A server error is
	// returned as *jsonrpc.ResponseError.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Generation counts successful connections. A change means a new
	// server session.
	Generation() uint64

	// Close aborts any pending call and releases the connection.
	Close() error
}

var _ Transport = (*jsonrpc.Transport)(nil)

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// WithMeterProvider sets the meter provider. Default: otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *clientOptions) { o.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider. Default: otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *clientOptions) { o.tracerProvider = tp }
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a kore-rpc client bound to one server session.
//
// Description:
//
//	Each operation sends exactly one request and blocks until the
//	response arrives, ctx ends, or the transport is closed. Nothing is
//	retried. Concurrent calls are serialized by the transport.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Client struct {
	transport Transport
	inst      *instruments

	mu         sync.Mutex
	generation uint64
	modules    []string
}

// New creates a Client over transport.
//
// Inputs:
//
//	transport - A connected or lazily dialing transport. Must not be nil.
//	opts - Client options.
//
// Outputs:
//
//	*Client - The client. Close it to release the transport.
//	error - Non-nil if transport is nil or the metrics cannot be created.
func New(transport Transport, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: transport must not be nil", ErrInvalidArgument)
	}
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	inst, err := newInstruments(o.meterProvider, o.tracerProvider)
	if err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}
	return &Client{
		transport:  transport,
		inst:       inst,
		generation: transport.Generation(),
	}, nil
}

// Close closes the transport, aborting a pending call.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Session returns the names of the modules added in the current server
// session, in the order they were added.
func (c *Client) Session() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncSessionLocked()
	return append([]string(nil), c.modules...)
}

// syncSessionLocked forgets added modules once the transport has
// reconnected. Caller must hold c.mu.
func (c *Client) syncSessionLocked() {
	if g := c.transport.Generation(); g != c.generation {
		c.generation = g
		c.modules = nil
	}
}

// call performs one traced exchange and decodes the result.
func (c *Client) call(ctx context.Context, method string, params any, decode func(context.Context, json.RawMessage) error) error {
	if ctx == nil {
		return fmt.Errorf("%w: ctx must not be nil", ErrInvalidArgument)
	}
	ctx, span := c.inst.startRequestSpan(ctx, method)
	defer span.End()
	start := time.Now()

	raw, err := c.transport.Call(ctx, method, params)
	var rpcErr *jsonrpc.ResponseError
	switch {
	case errors.As(err, &rpcErr):
		err = newKoreClientError(method, rpcErr)
	case err == nil:
		err = decode(ctx, raw)
	}

	c.inst.finishRequest(ctx, span, method, start, err)
	return err
}

func checkPattern(name string, p kore.Pattern) error {
	if p == nil {
		return fmt.Errorf("%w: %s must not be nil", ErrInvalidArgument, name)
	}
	if err := kore.Check(p); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidArgument, name, err)
	}
	return nil
}

// Execute rewrites term until a stopping condition is met.
//
// Description:
//
//	Sends an execute request. The server stops on the first of: the
//	depth bound, two or more successors (branching), no successor
//	(stuck), a cut-point rule about to apply, a terminal rule applied,
//	or an internal abort.
//
// Inputs:
//
//	ctx - Bounds the request.
//	term - The starting term. Must not be nil.
//	opts - Optional parameters; unset ones are omitted from the request.
//
// Outputs:
//
//	ExecuteResult - One of the six result variants.
//	error - ErrInvalidArgument, *KoreClientError, *DecodeError or a
//	transport error.
//
// Example:
//
//	res, err := client.Execute(ctx, term, korerpc.WithMaxDepth(3))
//	if b, ok := res.(korerpc.BranchingResult); ok {
//	    fmt.Println(len(b.NextStates))
//	}
func (c *Client) Execute(ctx context.Context, term kore.Pattern, opts ...ExecuteOption) (ExecuteResult, error) {
	if err := checkPattern("term", term); err != nil {
		return nil, err
	}
	params, err := newExecuteParams(term, opts)
	if err != nil {
		return nil, err
	}

	var result ExecuteResult
	err = c.call(ctx, MethodExecute, params, func(ctx context.Context, raw json.RawMessage) error {
		var err error
		result, err = decodeExecuteResult(raw, params.MaxDepth)
		if err == nil {
			c.inst.recordExecute(ctx, trace.SpanFromContext(ctx), result)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Implies checks whether antecedent implies consequent.
//
// A false Satisfiable is an answer, not an error. When the server cannot
// decide, the error is a *KoreClientError matching
// ErrImplicationIndeterminate.
func (c *Client) Implies(ctx context.Context, antecedent, consequent kore.Pattern) (ImpliesResult, error) {
	if err := checkPattern("antecedent", antecedent); err != nil {
		return ImpliesResult{}, err
	}
	if err := checkPattern("consequent", consequent); err != nil {
		return ImpliesResult{}, err
	}

	params := impliesParams{
		Antecedent: kore.Envelope{Term: antecedent},
		Consequent: kore.Envelope{Term: consequent},
	}
	var result ImpliesResult
	err := c.call(ctx, MethodImplies, params, func(_ context.Context, raw json.RawMessage) error {
		var err error
		result, err = decodeImpliesResult(raw)
		return err
	})
	if err != nil {
		return ImpliesResult{}, err
	}
	return result, nil
}

// Simplify returns the server's normal form of pattern.
func (c *Client) Simplify(ctx context.Context, pattern kore.Pattern) (kore.Pattern, error) {
	if err := checkPattern("pattern", pattern); err != nil {
		return nil, err
	}

	var result kore.Pattern
	err := c.call(ctx, MethodSimplify, stateParams{State: kore.Envelope{Term: pattern}}, func(_ context.Context, raw json.RawMessage) error {
		var err error
		result, err = decodeSimplifyResult(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddModule adds module to the server session.
//
// Description:
//
//	Sends the module's KORE text. On success the module name is
//	appended to Session(). Adding a module the session already has is
//	reported by the server as an error and is not recorded.
//
// Inputs:
//
//	ctx - Bounds the request.
//	module - The module to add. Its name must be a valid identifier.
//
// Outputs:
//
//	error - ErrInvalidArgument, *KoreClientError, *DecodeError or a
//	transport error.
func (c *Client) AddModule(ctx context.Context, module kore.Module) error {
	if err := kore.CheckID(module.Name); err != nil {
		return fmt.Errorf("%w: module name: %w", ErrInvalidArgument, err)
	}

	err := c.call(ctx, MethodAddModule, addModuleParams{Module: kore.Text(module)}, func(_ context.Context, raw json.RawMessage) error {
		return decodeAddModuleResult(raw)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncSessionLocked()
	c.modules = append(c.modules, module.Name)
	return nil
}

// GetModel asks the server for a satisfying assignment of pattern.
//
// The substitution is set only when the result is Sat.
func (c *Client) GetModel(ctx context.Context, pattern kore.Pattern) (GetModelResult, error) {
	if err := checkPattern("pattern", pattern); err != nil {
		return GetModelResult{}, err
	}

	var result GetModelResult
	err := c.call(ctx, MethodGetModel, stateParams{State: kore.Envelope{Term: pattern}}, func(_ context.Context, raw json.RawMessage) error {
		var err error
		result, err = decodeGetModelResult(raw)
		return err
	})
	if err != nil {
		return GetModelResult{}, err
	}
	return result, nil
}
