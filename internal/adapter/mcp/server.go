package mcp

import (
	"log/slog"

	"github.com/guillermoBallester/auditsql/internal/core/port"
	"github.com/guillermoBallester/auditsql/internal/core/service"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

// NewServer creates an MCPServer with tools and logging hooks. Statements
// submitted through it are attributed to identity.
func NewServer(version, identity string, query *service.QueryService, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(ToolCallHooks(logger, tracer, inst)),
	)

	RegisterTools(s, query, identity)

	return s
}
