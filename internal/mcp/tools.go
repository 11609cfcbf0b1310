package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/koustreak/mssqlgate/internal/schema"
)

func (s *Server) registerCatalogTools() {
	s.mcp.AddTool(mcp.NewTool("test_connection",
		mcp.WithDescription("Check connectivity and report the server version, current database and login"),
	), s.handleTestConnection)

	s.mcp.AddTool(mcp.NewTool("list_tables",
		mcp.WithDescription("List user tables with row counts and sizes"),
	), s.handleListTables)

	s.mcp.AddTool(mcp.NewTool("list_views",
		mcp.WithDescription("List user views with their definitions"),
	), s.handleListViews)

	s.mcp.AddTool(mcp.NewTool("list_stored_procedures",
		mcp.WithDescription("List stored procedures with creation and modification times"),
	), s.handleListStoredProcedures)

	s.mcp.AddTool(mcp.NewTool("list_triggers",
		mcp.WithDescription("List DML triggers with their table, events and enabled state"),
	), s.handleListTriggers)

	s.mcp.AddTool(mcp.NewTool("list_functions",
		mcp.WithDescription("List user-defined functions with their return types"),
	), s.handleListFunctions)

	s.mcp.AddTool(mcp.NewTool("get_table_schema",
		mcp.WithDescription("Get columns, indexes and foreign keys of a table. A missing table returns no columns."),
		mcp.WithString("schema_name", mcp.Description("Schema name, e.g. dbo"), mcp.Required()),
		mcp.WithString("table_name", mcp.Description("Table name"), mcp.Required()),
	), s.handleGetTableSchema)

	s.mcp.AddTool(mcp.NewTool("get_object_definition",
		mcp.WithDescription("Get the SQL source of a table, view, procedure, function or trigger"),
		mcp.WithString("schema_name", mcp.Description("Schema name, e.g. dbo"), mcp.Required()),
		mcp.WithString("object_name", mcp.Description("Object name"), mcp.Required()),
		mcp.WithString("object_type", mcp.Description("Object type"), mcp.Required(),
			mcp.Enum(objectTypeNames()...)),
	), s.handleGetObjectDefinition)
}

func (s *Server) registerQueryTools() {
	s.mcp.AddTool(mcp.NewTool("execute_select_query",
		mcp.WithDescription("Run one read-only SELECT statement. Comments, multiple statements "+
			"and data-modifying keywords are rejected. Results are capped."),
		mcp.WithString("query", mcp.Description("A single SELECT statement"), mcp.Required()),
	), s.handleExecuteSelectQuery)
}

func (s *Server) handleTestConnection(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info, err := s.backend.TestConnection(ctx)
	return s.result("test_connection", info, err)
}

func (s *Server) handleListTables(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l, err := s.backend.ListTables(ctx)
	return s.result("list_tables", l, err)
}

func (s *Server) handleListViews(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l, err := s.backend.ListViews(ctx)
	return s.result("list_views", l, err)
}

func (s *Server) handleListStoredProcedures(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l, err := s.backend.ListStoredProcedures(ctx)
	return s.result("list_stored_procedures", l, err)
}

func (s *Server) handleListTriggers(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l, err := s.backend.ListTriggers(ctx)
	return s.result("list_triggers", l, err)
}

func (s *Server) handleListFunctions(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l, err := s.backend.ListFunctions(ctx)
	return s.result("list_functions", l, err)
}

func (s *Server) handleGetTableSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	schemaName, err := req.RequireString("schema_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tableName, err := req.RequireString("table_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ts, err := s.backend.GetTableSchema(ctx, schemaName, tableName)
	return s.result("get_table_schema", ts, err)
}

func (s *Server) handleGetObjectDefinition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := make([]string, 0, 3)
	for _, key := range []string{"schema_name", "object_name", "object_type"} {
		v, err := req.RequireString(key)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		args = append(args, v)
	}
	def, err := s.backend.GetObjectDefinition(ctx, args[0], args[1], args[2])
	return s.result("get_object_definition", def, err)
}

func (s *Server) handleExecuteSelectQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.backend.ExecuteSelectQuery(ctx, query)
	return s.result("execute_select_query", res, err)
}

func objectTypeNames() []string {
	names := make([]string, len(schema.ObjectTypes))
	for i, t := range schema.ObjectTypes {
		names[i] = string(t)
	}
	return names
}
