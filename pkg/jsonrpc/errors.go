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
	"errors"
	"fmt"
)

// Sentinel errors wrapped by TransportError.
var (
	// ErrClosed indicates the transport was closed before or during the call.
	ErrClosed = errors.New("transport closed")

	// ErrTimeout indicates the call's deadline expired.
	ErrTimeout = errors.New("request timeout")

	// ErrCanceled indicates the call's context was canceled.
	ErrCanceled = errors.New("request canceled")

	// ErrConnectionLost indicates the connection failed or could not be
	// established.
	ErrConnectionLost = errors.New("connection lost")

	// ErrFraming indicates a message that could not be read as a JSON-RPC
	// response.
	ErrFraming = errors.New("malformed message")

	// ErrIDMismatch indicates a response whose id does not match the
	// in-flight request.
	ErrIDMismatch = errors.New("response id mismatch")
)

// TransportError reports a failure to complete a request/response exchange.
//
// Use errors.Is with the sentinels above to classify it.
type TransportError struct {
	// Op is the step that failed: "dial", "write", "read", "decode" or "call".
	Op string

	// Err wraps one of the sentinels and, where available, the cause.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("jsonrpc %s: %v", e.Op, e.Err)
}

// Unwrap returns the wrapped error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is or wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
