// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cortexlinux/cortexd/pkg/logging"
	"github.com/cortexlinux/cortexd/services/daemon/observability"
)

// Handler serves one method. The returned value is wrapped in the success
// envelope; an *Error sets the failure code, any other error maps to
// internal_error.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// ServerOptions tunes the listener.
type ServerOptions struct {
	// SocketPath is the unix socket the server binds.
	SocketPath string

	// Timeout bounds how long a connection may take to deliver its
	// request and accept its response. Default 5s.
	Timeout time.Duration
}

// Server accepts local connections and dispatches framed requests. One
// request and one response per connection; the transport stays simple so
// clients never need connection reuse logic.
type Server struct {
	opts     ServerOptions
	handlers map[string]Handler
	mu       sync.RWMutex
	listener net.Listener
	wg       sync.WaitGroup
	closing  chan struct{}
	metrics  *observability.Metrics
	log      *logging.Logger
}

// NewServer constructs the server. Call Register before Start.
func NewServer(opts ServerOptions, metrics *observability.Metrics, log *logging.Logger) *Server {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if log == nil {
		log = logging.Default()
	}
	return &Server{
		opts:     opts,
		handlers: make(map[string]Handler),
		closing:  make(chan struct{}),
		metrics:  metrics,
		log:      log.Component("ipc"),
	}
}

// Register binds a handler to a method name. Re-registration overwrites,
// last registration wins; the overwrite is logged because it is almost
// always a wiring mistake.
func (s *Server) Register(method string, h Handler) {
	s.mu.Lock()
	if _, exists := s.handlers[method]; exists {
		s.log.Warn("method re-registered, previous handler replaced", "method", method)
	}
	s.handlers[method] = h
	s.mu.Unlock()
}

// Start binds the socket and launches the accept loop. Failure to bind is
// fatal to startup; a stale socket file from a previous run is removed
// first.
func (s *Server) Start() error {
	path := s.opts.SocketPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove stale socket %s: %w", path, err)
		}
		s.log.Info("removed stale socket", "path", path)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to bind socket %s: %w", path, err)
	}
	// Local clients run under arbitrary users.
	if err := os.Chmod(path, 0o666); err != nil {
		ln.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.listener = ln
	s.wg.Add(1)
	go s.acceptLoop()
	s.log.Info("IPC server listening", "path", path)
	return nil
}

// Stop closes the listener and waits for in-flight connections, up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) error {
	close(s.closing)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("IPC server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(s.opts.Timeout))

	raw, err := readMessage(conn)
	if err != nil {
		if errors.Is(err, errMessageTooLarge) {
			s.writeResponse(conn, Failure(CodeInvalidRequest,
				fmt.Sprintf("Message exceeds maximum size (%d bytes)", MaxMessageBytes)))
			s.metrics.RecordIPCError(CodeInvalidRequest)
			return
		}
		s.log.Debug("failed to read request", "error", err)
		return
	}

	resp := s.Handle(context.Background(), raw)
	s.writeResponse(conn, resp)
}

// Handle parses and dispatches one raw request, returning the response
// envelope. Exposed separately from the transport so tests and alternate
// listeners can drive dispatch directly.
func (s *Server) Handle(ctx context.Context, raw []byte) Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		s.metrics.RecordIPCError(CodeParseError)
		return Failure(CodeParseError, "failed to parse request: "+err.Error())
	}
	if strings.TrimSpace(req.Method) == "" {
		s.metrics.RecordIPCError(CodeInvalidRequest)
		return Failure(CodeInvalidRequest, "method is required")
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		s.metrics.RecordIPCError(CodeMethodNotFound)
		return Failure(CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}

	s.metrics.RecordIPCRequest(req.Method)
	resp := s.dispatch(ctx, req.Method, handler, req.Params)
	if !resp.OK {
		s.metrics.RecordIPCError(resp.Code)
	}
	return resp
}

// dispatch invokes the handler with a panic barrier. A panicking handler
// produces an internal_error response instead of killing the serving loop.
func (s *Server) dispatch(ctx context.Context, method string, handler Handler, params json.RawMessage) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panicked", "method", method, "panic", fmt.Sprintf("%v", r))
			resp = Failure(CodeInternalError, "internal error")
		}
	}()
	result, err := handler(ctx, params)
	return responseFor(result, err)
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to marshal response", "error", err)
		data = []byte(`{"ok":false,"error":"internal error","code":"internal_error"}`)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		s.log.Debug("failed to write response", "error", err)
	}
}

var errMessageTooLarge = errors.New("message too large")

// readMessage reads one newline-delimited request. A client may also send
// its request and half-close without a trailing newline. The size bound
// applies to the payload, excluding the delimiter.
func readMessage(conn net.Conn) ([]byte, error) {
	br := bufio.NewReaderSize(io.LimitReader(conn, MaxMessageBytes+1), 4096)
	data, err := br.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	data = bytes.TrimSuffix(data, []byte("\n"))
	if len(data) > MaxMessageBytes {
		return nil, errMessageTooLarge
	}
	if len(data) == 0 {
		return nil, io.EOF
	}
	return data, nil
}
