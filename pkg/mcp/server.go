// Package mcp exposes scheduler status and manual task runs to MCP clients
// over stdio JSON-RPC.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/dixie/pkg/executor"
	"github.com/pario-ai/dixie/pkg/logger"
	"github.com/pario-ai/dixie/pkg/models"
	"github.com/pario-ai/dixie/pkg/tasks"
)

// Budget reports per-service status and recommendations.
type Budget interface {
	Services() []string
	Status(ctx context.Context, service string) (models.BudgetStatus, error)
	Recommend(ctx context.Context) (models.Recommendation, error)
}

// History reads past usage and task executions.
type History interface {
	Summary(ctx context.Context, days int) ([]models.UsageSummary, error)
	Executions(ctx context.Context, since time.Time) ([]models.TaskExecutionResult, error)
}

// Catalog lists registered tasks.
type Catalog interface {
	List() []tasks.Definition
}

// Runner runs a single task on request.
type Runner interface {
	RunTask(ctx context.Context, name string, opts executor.RunOptions) (models.TaskExecutionResult, error)
}

// Deps are the collaborators tools read from. Runner may be nil, which
// disables dixie_run.
type Deps struct {
	Budget  Budget
	History History
	Catalog Catalog
	Runner  Runner
}

// Server is a minimal MCP server that communicates over stdio using JSON-RPC 2.0.
type Server struct {
	deps    Deps
	version string
	log     *zap.Logger
}

// New creates a Server.
func New(deps Deps, version string, log *zap.Logger) *Server {
	return &Server{deps: deps, version: version, log: logger.OrNop(log)}
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, Response{
				JSONRPC: "2.0",
				Error:   &RPCError{Code: CodeParseError, Message: "parse error"},
			})
			continue
		}
		if req.JSONRPC != "2.0" {
			s.writeResponse(w, Response{
				JSONRPC: "2.0",
				ID:      req.ID,
				Error:   &RPCError{Code: CodeInvalidRequest, Message: "jsonrpc must be 2.0"},
			})
			continue
		}

		resp := s.dispatch(ctx, &req)
		if resp == nil {
			continue
		}
		s.writeResponse(w, *resp)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return s.reply(req, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "dixie", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
			Instructions:    "Inspect quota pressure and background task history. dixie_run never runs dangerous tasks.",
		})
	case "ping":
		return s.reply(req, map[string]any{})
	case "tools/list":
		return s.reply(req, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	}
	if len(req.ID) == 0 {
		// notifications/initialized and friends
		return nil
	}
	return s.fail(req, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
}

func (s *Server) reply(req *Request, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) fail(req *Request, code int, msg string) *Response {
	return &Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: code, Message: msg}}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.fail(req, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return s.reply(req, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}
	s.log.Debug("tool call", zap.String("tool", params.Name))
	return s.reply(req, handler(ctx, s, params.Arguments))
}

func (s *Server) writeResponse(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("marshal response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.log.Error("write response", zap.Error(err))
	}
}
