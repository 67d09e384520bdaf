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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AleutianAI/korerpc/pkg/jsonrpc"
)

// CodeImplicationIndeterminate is the kore-rpc error code for an
// implication check the backend could not decide.
const CodeImplicationIndeterminate = -32003

// Sentinel errors.
var (
	// ErrImplicationIndeterminate matches a *KoreClientError with code -32003.
	ErrImplicationIndeterminate = errors.New("implication indeterminate")

	// ErrInvalidArgument indicates a violated precondition, such as a
	// negative depth bound or a nil pattern. No request is sent.
	ErrInvalidArgument = errors.New("invalid argument")
)

// =============================================================================
// KORE CLIENT ERROR
// =============================================================================

// Kind classifies a server-reported error code.
type Kind int

const (
	// KindGeneric is any code without a more specific kind.
	KindGeneric Kind = iota
	KindImplicationIndeterminate
	KindMethodNotFound
	KindInvalidParams
	KindParseError
	KindInvalidRequest
	KindInternalError
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindGeneric:
		return "generic"
	case KindImplicationIndeterminate:
		return "implication-indeterminate"
	case KindMethodNotFound:
		return "method-not-found"
	case KindInvalidParams:
		return "invalid-params"
	case KindParseError:
		return "parse-error"
	case KindInvalidRequest:
		return "invalid-request"
	case KindInternalError:
		return "internal-error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// KindOf returns the kind for a JSON-RPC error code.
func KindOf(code int) Kind {
	switch code {
	case CodeImplicationIndeterminate:
		return KindImplicationIndeterminate
	case jsonrpc.CodeMethodNotFound:
		return KindMethodNotFound
	case jsonrpc.CodeInvalidParams:
		return KindInvalidParams
	case jsonrpc.CodeParseError:
		return KindParseError
	case jsonrpc.CodeInvalidRequest:
		return KindInvalidRequest
	case jsonrpc.CodeInternalError:
		return KindInternalError
	default:
		return KindGeneric
	}
}

// KoreClientError is an error reported by the kore-rpc server.
//
// Code, Message and Data are the server's error object unchanged.
type KoreClientError struct {
	// Method is the request method that failed.
	Method string

	// Code is the JSON-RPC error code.
	Code int

	// Message is the error message from the server.
	Message string

	// Data contains optional additional data about the error.
	Data json.RawMessage

	// Kind classifies Code.
	Kind Kind
}

func newKoreClientError(method string, e *jsonrpc.ResponseError) *KoreClientError {
	return &KoreClientError{
		Method:  method,
		Code:    e.Code,
		Message: e.Message,
		Data:    e.Data,
		Kind:    KindOf(e.Code),
	}
}

// Error implements the error interface.
func (e *KoreClientError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("kore-rpc %s error %d: %s (data: %s)", e.Method, e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("kore-rpc %s error %d: %s", e.Method, e.Code, e.Message)
}

// Is lets errors.Is(err, ErrImplicationIndeterminate) match code -32003.
func (e *KoreClientError) Is(target error) bool {
	return target == ErrImplicationIndeterminate && e.Kind == KindImplicationIndeterminate
}

// IsImplicationIndeterminate returns true if the backend could not decide
// an implication.
func (e *KoreClientError) IsImplicationIndeterminate() bool {
	return e.Kind == KindImplicationIndeterminate
}

// IsMethodNotFound returns true if the server does not support the method.
func (e *KoreClientError) IsMethodNotFound() bool {
	return e.Kind == KindMethodNotFound
}

// IsInvalidParams returns true if the server rejected the parameters.
func (e *KoreClientError) IsInvalidParams() bool {
	return e.Kind == KindInvalidParams
}

// IsParseError returns true if the server could not parse the request.
func (e *KoreClientError) IsParseError() bool {
	return e.Kind == KindParseError
}

// IsInternalError returns true for a JSON-RPC internal error.
func (e *KoreClientError) IsInternalError() bool {
	return e.Kind == KindInternalError
}

// =============================================================================
// DECODE ERROR
// =============================================================================

// DecodeError reports a response whose result does not have the shape
// the method requires.
type DecodeError struct {
	// Method is the request method whose result failed to decode.
	Method string

	// Field is the offending result field, or "" for the result itself.
	Field string

	// Reason describes what was wrong.
	Reason string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode %s result", e.Method)
	if e.Field != "" {
		msg += fmt.Sprintf(": field %q", e.Field)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is or wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// errorClass names the failure class of err for metrics and spans.
func errorClass(err error) string {
	var kce *KoreClientError
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &kce):
		return "protocol"
	case IsDecodeError(err):
		return "decode"
	case jsonrpc.IsTransportError(err):
		return "transport"
	case errors.Is(err, ErrInvalidArgument):
		return "argument"
	default:
		return "other"
	}
}
