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
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// wsConn sends each message as one WebSocket text frame.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// NewWebSocketConn wraps an established WebSocket connection.
func NewWebSocketConn(ws *websocket.Conn) MessageConn {
	return &wsConn{ws: ws}
}

// WriteMessage writes data as a single text frame.
func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// ReadMessage returns the payload of the next data frame.
func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close closes the underlying network connection without a close
// handshake, which unblocks a pending read immediately.
func (c *wsConn) Close() error {
	return c.ws.NetConn().Close()
}

// DialWebSocket connects to a kore-rpc server behind a WebSocket endpoint
// such as ws://localhost:31337/rpc.
//
// Description:
//
//	Dials immediately. The framing option is ignored: every message is
//	one text frame. With WithReconnect, later calls redial url after a
//	connection failure.
//
// Inputs:
//
//	ctx - Bounds the initial dial and handshake.
//	url - ws:// or wss:// endpoint.
//	header - Extra handshake headers, may be nil.
//	opts - Transport options.
//
// Outputs:
//
//	*Transport - Connected transport. Close it when done.
//	error - A *TransportError wrapping ErrConnectionLost if the dial fails.
func DialWebSocket(ctx context.Context, url string, header http.Header, opts ...Option) (*Transport, error) {
	dial := func(ctx context.Context) (MessageConn, error) {
		ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
			}
			return nil, err
		}
		return NewWebSocketConn(ws), nil
	}
	t := New(dial, opts...)
	if err := t.Connect(ctx); err != nil {
		return nil, err
	}
	return t, nil
}
