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
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/korerpc/pkg/jsonrpc"
	"github.com/AleutianAI/korerpc/pkg/kore"
)

// Pool spreads execute requests over several clients, each with its own
// connection and server session.
//
// Thread Safety:
//
//	Safe for concurrent use. Each client serves one request at a time.
type Pool struct {
	clients []*Client
	idle    chan *Client
}

// NewPool creates a pool over clients. At least one client is required.
func NewPool(clients ...*Client) (*Pool, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("%w: pool needs at least one client", ErrInvalidArgument)
	}
	p := &Pool{
		clients: append([]*Client(nil), clients...),
		idle:    make(chan *Client, len(clients)),
	}
	for _, c := range p.clients {
		if c == nil {
			return nil, fmt.Errorf("%w: nil client", ErrInvalidArgument)
		}
	}
	for _, c := range p.clients {
		p.idle <- c
	}
	return p, nil
}

// Size returns the number of clients.
func (p *Pool) Size() int {
	return len(p.clients)
}

func (p *Pool) acquire(ctx context.Context) (*Client, error) {
	select {
	case c := <-p.idle:
		return c, nil
	case <-ctx.Done():
		return nil, acquireError(ctx)
	}
}

// acquireError classifies a wait for an idle client that ended with ctx,
// the same way the transport classifies an interrupted call.
func acquireError(ctx context.Context) error {
	sentinel := jsonrpc.ErrCanceled
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		sentinel = jsonrpc.ErrTimeout
	}
	return &jsonrpc.TransportError{Op: "acquire", Err: fmt.Errorf("%w: %w", sentinel, ctx.Err())}
}

func (p *Pool) release(c *Client) {
	p.idle <- c
}

// Execute runs one execute request on the first idle client.
func (p *Pool) Execute(ctx context.Context, term kore.Pattern, opts ...ExecuteOption) (ExecuteResult, error) {
	c, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.release(c)
	return c.Execute(ctx, term, opts...)
}

// ExecuteAll executes every term, at most Size() at a time.
//
// Description:
//
//	Results are returned in the order of terms. After the first failure
//	no further terms are dispatched. Requests already in flight are not
//	canceled, so every client keeps its connection and server session.
//	The first error is returned and the results are nil in that case.
//
// Inputs:
//
//	ctx - Bounds every request.
//	terms - Starting terms.
//	opts - Applied to every request.
//
// Outputs:
//
//	[]ExecuteResult - One result per term.
//	error - The first error encountered.
func (p *Pool) ExecuteAll(ctx context.Context, terms []kore.Pattern, opts ...ExecuteOption) ([]ExecuteResult, error) {
	results := make([]ExecuteResult, len(terms))
	var (
		g      errgroup.Group
		failed atomic.Bool
	)
	g.SetLimit(len(p.clients))
	for i, term := range terms {
		if failed.Load() {
			break
		}
		g.Go(func() error {
			if failed.Load() {
				return nil
			}
			res, err := p.Execute(ctx, term, opts...)
			if err != nil {
				failed.Store(true)
				return fmt.Errorf("term %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// AddModule adds module to every client's session concurrently.
//
// All clients are attempted; the errors of those that failed are joined.
func (p *Pool) AddModule(ctx context.Context, module kore.Module) error {
	errs := make([]error, len(p.clients))
	var g errgroup.Group
	for i, c := range p.clients {
		g.Go(func() error {
			if err := c.AddModule(ctx, module); err != nil {
				errs[i] = fmt.Errorf("client %d: %w", i, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Close closes every client.
func (p *Pool) Close() error {
	errs := make([]error, 0, len(p.clients))
	for _, c := range p.clients {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
