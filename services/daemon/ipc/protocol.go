// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ipc implements the daemon's local request/response protocol: a
// unix socket server framing one JSON request and one JSON response per
// round trip, dispatched to handlers by method name.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxMessageBytes bounds a single protocol message in either direction.
const MaxMessageBytes = 64 * 1024

// Request is the client envelope.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the server envelope. Exactly one of Result or Error/Code is
// populated depending on OK.
type Response struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Error codes carried in failure responses. Clients branch on these, so
// they are part of the wire contract.
const (
	CodeParseError     = "parse_error"
	CodeInvalidRequest = "invalid_request"
	CodeMethodNotFound = "method_not_found"
	CodeInvalidParams  = "invalid_params"
	CodeNotFound       = "not_found"
	CodeRateLimited    = "rate_limited"
	CodeQueueFull      = "queue_full"
	CodeBackendError   = "backend_error"
	CodeConfigError    = "config_error"
	CodeInternalError  = "internal_error"
)

// Success wraps a handler result in the success envelope.
func Success(result any) Response {
	return Response{OK: true, Result: result}
}

// Failure builds a failure envelope.
func Failure(code, message string) Response {
	return Response{OK: false, Error: message, Code: code}
}

// Error is a handler failure carrying its wire code. Handlers return it to
// control the code field; any other error maps to internal_error.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Errorf builds a coded handler error.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// responseFor maps a handler outcome to the wire envelope.
func responseFor(result any, err error) Response {
	if err == nil {
		return Success(result)
	}
	var coded *Error
	if errors.As(err, &coded) {
		return Failure(coded.Code, coded.Message)
	}
	return Failure(CodeInternalError, err.Error())
}
