// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package korerpc is a client for the kore-rpc JSON-RPC interface of a
// K symbolic execution backend.
//
// A Client issues one request at a time over a jsonrpc.Transport and
// turns each response into a typed result:
//
//	execute    -> ExecuteResult (BranchingResult, DepthBoundResult, ...)
//	implies    -> ImpliesResult
//	simplify   -> kore.Pattern
//	add-module -> nothing; the module is recorded in Session()
//	get-model  -> GetModelResult
//
// # Errors
//
// Every failure falls in exactly one of three classes:
//
//   - *DecodeError: the server answered, but the result does not have the
//     shape the method requires (missing reason, wrong number of next
//     states, a bad term envelope).
//   - *KoreClientError: the server answered with a JSON-RPC error. Code
//     and Message are kept verbatim; Kind classifies the known codes and
//     errors.Is(err, ErrImplicationIndeterminate) matches code -32003.
//   - *jsonrpc.TransportError: the exchange did not complete. Nothing is
//     retried; callers decide whether to reconnect.
//
// # Session
//
// Modules added with AddModule change server-side state for the lifetime
// of the connection. The Client keeps the list of added module names and
// forgets it when the transport reconnects, because a new connection is a
// new server session.
//
// # Instrumentation
//
// Each call opens an OpenTelemetry span and records request duration and
// count. Execute additionally records the depth reached. Providers default
// to the global ones; see WithMeterProvider and WithTracerProvider.
package korerpc
