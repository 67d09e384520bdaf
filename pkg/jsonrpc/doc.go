// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jsonrpc implements the JSON-RPC 2.0 client transport used to talk
// to a kore-rpc server.
//
// # Call Discipline
//
// A Transport carries at most one request at a time. Call writes a request,
// blocks until the matching response arrives, and returns its raw result.
// Concurrent callers queue behind the in-flight call. There is no
// pipelining and no notification handling.
//
// # Framing
//
// Two stream framings are supported over any net.Conn:
//
//   - FramingLine: each message is one JSON value. Writes are newline
//     terminated; reads accept any whitespace between values.
//   - FramingHeader: each message is preceded by a `Content-Length` header
//     block, as in the language server protocol.
//
// DialWebSocket sends each message as one WebSocket text frame instead.
//
// # Failures
//
// Transport failures are returned as *TransportError wrapping one of the
// sentinels ErrClosed, ErrTimeout, ErrCanceled, ErrConnectionLost,
// ErrFraming or ErrIDMismatch. After any transport failure the connection
// is discarded: it may hold a late response that would desynchronize the
// stream. Requests are never retried. With WithReconnect the next Call
// dials a fresh connection and Generation increases; without it every
// later Call fails with ErrConnectionLost.
//
// A JSON-RPC error response is not a transport failure. It is returned as
// *ResponseError and the connection stays usable.
//
// # Thread Safety
//
// Transport is safe for concurrent use. Close may be called at any time
// and aborts the in-flight call.
package jsonrpc
