package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/guillermoBallester/auditsql/internal/core/port"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// inflightCall is what the before-hook hands to the after/error hooks.
type inflightCall struct {
	start time.Time
	span  trace.Span
}

// callTracker pairs tool call start and end events by JSON-RPC id.
type callTracker struct {
	logger *slog.Logger
	tracer trace.Tracer
	inst   port.Instrumentation
	calls  sync.Map // id -> *inflightCall
}

// ToolCallHooks creates MCP hooks that log tool calls and record spans and
// the tool duration metric. Statement outcomes are logged by the query
// service; these hooks only see the tool envelope.
func ToolCallHooks(logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.Hooks {
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	t := &callTracker{logger: logger, tracer: tracer, inst: inst}

	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(t.begin)
	hooks.AddAfterCallTool(t.complete)
	hooks.AddOnError(t.fail)
	return hooks
}

func (t *callTracker) begin(ctx context.Context, id any, req *mcp.CallToolRequest) {
	call := &inflightCall{start: time.Now()}
	if t.tracer != nil {
		attrs := []attribute.KeyValue{
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("mcp.tool", req.Params.Name),
		}
		if mode, ok := req.GetArguments()["execution_plan_mode"].(string); ok && mode != "" {
			attrs = append(attrs, attribute.String("db.query.plan_mode", mode))
		}
		_, call.span = t.tracer.Start(ctx, "mcp.tool.call", trace.WithAttributes(attrs...))
	}
	t.calls.Store(id, call)
}

// finish removes the call record and reports its duration and span. Both
// are zero when the before-hook never ran for id.
func (t *callTracker) finish(ctx context.Context, id any) (time.Duration, trace.Span) {
	v, ok := t.calls.LoadAndDelete(id)
	if !ok {
		return 0, nil
	}
	call := v.(*inflightCall)
	elapsed := time.Since(call.start)
	t.inst.RecordToolDuration(ctx, float64(elapsed.Milliseconds()))
	return elapsed, call.span
}

func (t *callTracker) complete(ctx context.Context, id any, req *mcp.CallToolRequest, result any) {
	elapsed, span := t.finish(ctx, id)

	// Rejected or failed statements come back as IsError results: an
	// expected outcome for the caller, not a server fault.
	toolErr := false
	if r, ok := result.(*mcp.CallToolResult); ok {
		toolErr = r.IsError
	}

	level := slog.LevelInfo
	if toolErr {
		level = slog.LevelWarn
	}
	t.logger.LogAttrs(ctx, level, "tool call",
		slog.String("rpc.method", "tools/call"),
		slog.String("mcp.tool", req.Params.Name),
		slog.Duration("duration", elapsed),
		slog.Bool("error", toolErr),
	)

	if span == nil {
		return
	}
	if toolErr {
		span.SetStatus(codes.Error, "tool returned error")
		span.RecordError(fmt.Errorf("tool %s returned error", req.Params.Name))
	}
	span.End()
}

func (t *callTracker) fail(ctx context.Context, id any, _ mcp.MCPMethod, message any, err error) {
	elapsed, span := t.finish(ctx, id)

	if req, ok := message.(*mcp.CallToolRequest); ok {
		t.logger.LogAttrs(ctx, slog.LevelError, "tool call",
			slog.String("rpc.method", "tools/call"),
			slog.String("mcp.tool", req.Params.Name),
			slog.Duration("duration", elapsed),
			slog.Bool("error", true),
			slog.String("error.message", err.Error()),
		)
	}

	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
	}
}
