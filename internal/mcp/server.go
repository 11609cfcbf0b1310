// Package mcpserver exposes the database access operations as MCP tools so
// that AI agents can explore a SQL Server database read-only.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/koustreak/mssqlgate/internal/errs"
	"github.com/koustreak/mssqlgate/internal/logger"
	"github.com/koustreak/mssqlgate/internal/schema"
)

const serverName = "mssqlgate"

// Backend is the set of operations exposed as tools. *service.Service
// implements it.
type Backend interface {
	TestConnection(ctx context.Context) (schema.ConnectionInfo, error)
	ListTables(ctx context.Context) (schema.Listing[schema.Table], error)
	ListViews(ctx context.Context) (schema.Listing[schema.View], error)
	ListStoredProcedures(ctx context.Context) (schema.Listing[schema.StoredProcedure], error)
	ListTriggers(ctx context.Context) (schema.Listing[schema.Trigger], error)
	ListFunctions(ctx context.Context) (schema.Listing[schema.Function], error)
	GetTableSchema(ctx context.Context, schemaName, tableName string) (schema.TableSchema, error)
	GetObjectDefinition(ctx context.Context, schemaName, objectName, objectType string) (schema.ObjectDefinition, error)
	ExecuteSelectQuery(ctx context.Context, query string) (schema.QueryResult, error)
}

// Server is the MCP server.
type Server struct {
	mcp     *server.MCPServer
	backend Backend
	log     *logger.Logger
}

// New creates the MCP server with every tool registered.
func New(backend Backend, version string, log *logger.Logger) (*Server, error) {
	if backend == nil {
		return nil, errs.New(errs.ErrKindConfiguration, "mcp backend is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		backend: backend,
		log:     log.With().Str("component", "mcp").Logger(),
	}

	s.mcp = server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Read-only access to one SQL Server database. "+
			"Only single SELECT statements are accepted by execute_select_query."),
	)
	s.registerCatalogTools()
	s.registerQueryTools()
	return s, nil
}

// MCP returns the underlying server, for transports other than stdio.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio serves on stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	s.log.Info("starting mcp stdio server")
	return server.ServeStdio(s.mcp)
}

// ── Helpers ────────────────────────────────────────────────

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// result turns an operation outcome into a tool result. Operation errors
// are already sanitized and become tool errors the agent can read.
func (s *Server) result(tool string, v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		s.log.DebugWith("tool call failed", err, map[string]interface{}{"tool": tool})
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(v)
}
