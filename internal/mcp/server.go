// Package mcp exposes plan validation, explanation and execution as tools
// over JSON-RPC 2.0, on stdio or SSE.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/stevehiehn/taskdsl/internal/registry"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "taskdsl"
	serverVersion   = "0.1.0"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// JSONRPCRequest is a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server answers MCP requests. Plans run against the base registry, with
// per-call fixtures layered on top.
type Server struct {
	workDir  string
	plansDir string
	base     *registry.Registry
	logger   *zap.Logger
}

type Option func(*Server)

// WithWorkDir sets the directory relative plan paths resolve against.
func WithWorkDir(dir string) Option {
	return func(s *Server) { s.workDir = dir }
}

// WithPlansDir publishes every plan in dir as its own tool.
func WithPlansDir(dir string) Option {
	return func(s *Server) { s.plansDir = dir }
}

func WithRegistry(reg *registry.Registry) Option {
	return func(s *Server) { s.base = reg }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{workDir: ".", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.base == nil {
		s.base = registry.Core(s.logger)
	}
	s.logger = s.logger.With(zap.String("component", "mcp"))
	return s
}

// Serve reads one request per line from r and writes responses to w until
// r is exhausted or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var req JSONRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn("unparseable request", zap.Error(err))
			writeResponse(w, &JSONRPCResponse{
				JSONRPC: "2.0",
				Error:   &RPCError{Code: codeParseError, Message: "Parse error"},
			})
			continue
		}
		if isNotification(req) {
			continue
		}
		writeResponse(w, s.handle(ctx, req))
	}
	return scanner.Err()
}

func (s *Server) handle(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	s.logger.Debug("request", zap.String("method", req.Method))
	resp := s.dispatch(ctx, req)
	resp.JSONRPC = "2.0"
	resp.ID = req.ID
	return resp
}

// isNotification reports whether req carries no id. JSON-RPC never answers
// notifications, whatever their method.
func isNotification(req JSONRPCRequest) bool {
	return req.ID == nil
}

func writeResponse(w io.Writer, resp *JSONRPCResponse) {
	data, _ := json.Marshal(resp)
	fmt.Fprintf(w, "%s\n", data)
}
