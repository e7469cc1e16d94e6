package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/guillermoBallester/auditsql/internal/core/domain"
	"github.com/guillermoBallester/auditsql/internal/core/service"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server metadata
const serverName = "auditsql"

// Tool descriptions
const (
	descExecuteQuery = "Execute a read-only T-SQL statement against the production SQL Server and return every result set. " +
		"Statements containing INSERT, UPDATE, DELETE, DROP, ALTER, TRUNCATE, CREATE, EXEC, EXECUTE, GRANT, REVOKE or DENY " +
		"outside literals and comments, or naming sp_* / xp_* procedures, are rejected before reaching the server. " +
		"The session runs with read-only intent and READ UNCOMMITTED isolation, so it never blocks writers. A server-side timeout is enforced. " +
		"Every call, successful or not, is recorded in a tamper-evident audit trail; the response carries the historyId " +
		"and integrityHash of that record."

	descExecuteQuerySQL = "T-SQL to execute (SELECT statements only). Keywords inside string literals and comments are ignored."

	descPlanMode = "Execution plan capture: 'none' (default) returns rows only; 'estimated' returns the estimated plan " +
		"XML without running the statement; 'actual' runs the statement and also returns the actual plan XML."

	descQueryHistory = "List recent audited executions, newest first, including their integrity hash and, once published, " +
		"the ledger reference."

	descQueryHistoryLimit = "Maximum number of entries to return (defaults to the server's history limit)"

	descVerifyAuditEntry = "Recompute the integrity hash of a stored audit entry and report whether it still matches. " +
		"valid=false means the record was altered after it was written."

	descVerifyAuditEntryID = "historyId of the entry to verify"
)

func RegisterTools(s *server.MCPServer, query *service.QueryService, identity string) {
	s.AddTool(
		mcp.NewTool("execute_query",
			mcp.WithDescription(descExecuteQuery),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description(descExecuteQuerySQL),
			),
			mcp.WithString("execution_plan_mode",
				mcp.Description(descPlanMode),
				mcp.Enum("none", "estimated", "actual"),
			),
		),
		executeQueryHandler(query, identity),
	)

	s.AddTool(
		mcp.NewTool("query_history",
			mcp.WithDescription(descQueryHistory),
			mcp.WithNumber("limit",
				mcp.Description(descQueryHistoryLimit),
			),
		),
		queryHistoryHandler(query),
	)

	s.AddTool(
		mcp.NewTool("verify_audit_entry",
			mcp.WithDescription(descVerifyAuditEntry),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description(descVerifyAuditEntryID),
			),
		),
		verifyAuditEntryHandler(query),
	)
}

func executeQueryHandler(query *service.QueryService, identity string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, ok := request.GetArguments()["sql"].(string)
		if !ok || sql == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}

		rawMode, _ := request.GetArguments()["execution_plan_mode"].(string)
		mode, err := domain.ParseExecutionPlanMode(rawMode)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		exec, err := query.Execute(ctx, service.Submission{
			SQL:               sql,
			RequestedBy:       identity,
			Source:            domain.SourceAI,
			ExecutionPlanMode: mode,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}

		data, err := json.Marshal(exec)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		result := mcp.NewToolResultText(string(data))
		result.IsError = !exec.Result.Succeeded
		return result, nil
	}
}

func queryHistoryHandler(query *service.QueryService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := 0
		if v, ok := request.GetArguments()["limit"].(float64); ok {
			if v < 0 {
				return mcp.NewToolResultError("limit must not be negative"), nil
			}
			limit = int(v)
		}

		entries, err := query.History(ctx, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list history: %v", err)), nil
		}

		data, err := json.Marshal(entries)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func verifyAuditEntryHandler(query *service.QueryService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, ok := request.GetArguments()["id"].(string)
		if !ok || raw == "" {
			return mcp.NewToolResultError("id is required"), nil
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid id %q: %v", raw, err)), nil
		}

		v, err := query.Verify(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return mcp.NewToolResultError(fmt.Sprintf("no audit entry with id %s", id)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("verification failed: %v", err)), nil
		}

		data, err := json.Marshal(v)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}
