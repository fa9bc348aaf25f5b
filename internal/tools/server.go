// Package tools exposes the environment service as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/p-arndt/pyexec/internal/config"
	"github.com/p-arndt/pyexec/internal/observability"
)

const ServerName = "pyexec"

type Options struct {
	Version string
	Metrics *observability.MetricsCollector
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

type Server struct {
	envs    Environments
	metrics *observability.MetricsCollector
	tracer  trace.Tracer
	logger  *slog.Logger
	server  *mcp.Server
}

func NewServer(envs Environments, opts Options) *Server {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		envs:    envs,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		logger:  opts.Logger,
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer("")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.server = mcp.NewServer(
		&mcp.Implementation{Name: ServerName, Version: version},
		&mcp.ServerOptions{Instructions: instructions(envs.Policy())},
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// RunStdio serves the tools on stdin/stdout until ctx is done or the client
// disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func instructions(policy string) string {
	text := "pyexec runs Python code in persistent project environments managed by uv. " +
		"Reuse the same env_id across calls to keep installed packages and files. " +
		"When env_id is omitted, an environment bound to the current session is used. " +
		"After generating images or data files, call read_file to show them."
	if policy == config.PolicyStrict {
		return text + " Environments must be created with create_env before any other tool uses them."
	}
	return text + " Environments are created automatically on first use."
}

// addTool registers a tool whose handler errors are rendered as coded tool
// errors. Every call is traced and counted.
func addTool[In any](s *Server, tool *mcp.Tool, h func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, error)) {
	name := tool.Name
	mcp.AddTool(s.server, tool, func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		ctx, span := s.tracer.Start(ctx, "tool."+name, trace.WithAttributes(attribute.String("mcp.tool", name)))
		defer span.End()
		done := s.metrics.ToolCallStarted(name)

		res, err := h(ctx, req, in)
		if err != nil {
			code := ErrorCode(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
			done(code)
			if code == CodeInternalError {
				s.logger.Error("tool call failed", "tool", name, "request_id", requestID(req), "error", err)
			} else {
				s.logger.Info("tool call rejected", "tool", name, "request_id", requestID(req), "code", code, "error", err)
			}
			return errorResult(code, err), nil, nil
		}
		done(CodeOK)
		return res, nil, nil
	})
}

// requestID returns the X-Request-ID of the HTTP request carrying req, or ""
// on transports without headers.
func requestID(req *mcp.CallToolRequest) string {
	if req == nil || req.Extra == nil || req.Extra.Header == nil {
		return ""
	}
	return req.Extra.Header.Get("X-Request-ID")
}

// jsonResult renders v as both text and structured content.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
		StructuredContent: v,
	}, nil
}
