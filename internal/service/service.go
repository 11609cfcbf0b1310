// Package service is the database access facade: nine read-only operations
// over the pooled SQL Server handle.
//
// Every operation acquires the handle from a HandleSource (normally the
// pool manager), which creates or repairs it as needed. Ad-hoc SQL passes
// the statement classifier before any handle is acquired. Errors leave the
// package as *errs.Error with credentials scrubbed from message and cause.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/koustreak/mssqlgate/internal/config"
	"github.com/koustreak/mssqlgate/internal/database"
	"github.com/koustreak/mssqlgate/internal/errs"
	"github.com/koustreak/mssqlgate/internal/logger"
	"github.com/koustreak/mssqlgate/internal/redact"
	"github.com/koustreak/mssqlgate/internal/schema"
	"github.com/koustreak/mssqlgate/internal/sqlguard"
)

// maxIdentifierLength is SQL Server's sysname length.
const maxIdentifierLength = 128

// HandleSource hands out a live handle. *pool.Manager implements it.
type HandleSource interface {
	Acquire(ctx context.Context) (database.Handle, error)
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Service implements the database access operations.
// It is safe for concurrent use.
type Service struct {
	cfg    config.Config
	source HandleSource
	log    *logger.Logger
}

// New returns a Service reading through source. cfg supplies the row cap.
func New(cfg config.Config, source HandleSource, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		cfg:    cfg,
		source: source,
		log:    log.With().Str("component", "service").Logger(),
	}
}

// TestConnection reports the server version, database and login in use.
func (s *Service) TestConnection(ctx context.Context) (schema.ConnectionInfo, error) {
	const op = "test_connection"
	r, err := s.reader(ctx, op)
	if err != nil {
		return schema.ConnectionInfo{}, err
	}
	info, err := r.ConnectionInfo(ctx)
	if err != nil {
		return schema.ConnectionInfo{}, s.fail(op, err)
	}
	return info, nil
}

func (s *Service) ListTables(ctx context.Context) (schema.Listing[schema.Table], error) {
	return listing(ctx, s, "list_tables", schema.Reader.ListTables)
}

func (s *Service) ListViews(ctx context.Context) (schema.Listing[schema.View], error) {
	return listing(ctx, s, "list_views", schema.Reader.ListViews)
}

func (s *Service) ListStoredProcedures(ctx context.Context) (schema.Listing[schema.StoredProcedure], error) {
	return listing(ctx, s, "list_stored_procedures", schema.Reader.ListStoredProcedures)
}

func (s *Service) ListTriggers(ctx context.Context) (schema.Listing[schema.Trigger], error) {
	return listing(ctx, s, "list_triggers", schema.Reader.ListTriggers)
}

func (s *Service) ListFunctions(ctx context.Context) (schema.Listing[schema.Function], error) {
	return listing(ctx, s, "list_functions", schema.Reader.ListFunctions)
}

// GetTableSchema returns the columns, indexes and foreign keys of a table.
// A table that does not exist yields empty Columns and no error.
func (s *Service) GetTableSchema(ctx context.Context, schemaName, tableName string) (schema.TableSchema, error) {
	const op = "get_table_schema"
	if err := validateIdentifiers("schema_name", schemaName, "table_name", tableName); err != nil {
		return schema.TableSchema{}, s.fail(op, err)
	}

	r, err := s.reader(ctx, op)
	if err != nil {
		return schema.TableSchema{}, err
	}
	ts, err := r.InspectTable(ctx, schemaName, tableName)
	if err != nil {
		return schema.TableSchema{}, s.fail(op, err)
	}
	return ts, nil
}

// GetObjectDefinition returns the source and metadata of one object.
// objectType is one of schema.ObjectTypes, matched case-insensitively.
// An object that does not exist yields Exists=false and no error.
func (s *Service) GetObjectDefinition(ctx context.Context, schemaName, objectName, objectType string) (schema.ObjectDefinition, error) {
	const op = "get_object_definition"
	if err := validateIdentifiers("schema_name", schemaName, "object_name", objectName); err != nil {
		return schema.ObjectDefinition{}, s.fail(op, err)
	}
	typ, ok := schema.ParseObjectType(objectType)
	if !ok {
		return schema.ObjectDefinition{}, s.fail(op, errs.New(errs.ErrKindInvalidInput,
			fmt.Sprintf("object_type %q is not one of %s", objectType, objectTypeList())))
	}

	r, err := s.reader(ctx, op)
	if err != nil {
		return schema.ObjectDefinition{}, err
	}
	def, err := r.ObjectDefinition(ctx, schemaName, objectName, typ)
	if err != nil {
		return schema.ObjectDefinition{}, s.fail(op, err)
	}
	return def, nil
}

// ExecuteSelectQuery runs caller-supplied SQL after the statement
// classifier admits it. Rejected statements never reach the pool. At most
// MaxResultRows rows are returned; Truncated reports whether more existed.
func (s *Service) ExecuteSelectQuery(ctx context.Context, query string) (schema.QueryResult, error) {
	const op = "execute_select_query"
	verdict := sqlguard.Classify(query)
	if !verdict.Allowed {
		return schema.QueryResult{}, s.fail(op, errs.New(errs.ErrKindQueryRejected, verdict.Reason))
	}

	h, err := s.acquire(ctx, op)
	if err != nil {
		return schema.QueryResult{}, err
	}
	rows, err := h.Query(ctx, verdict.Query)
	if err != nil {
		return schema.QueryResult{}, s.fail(op, err)
	}
	cols, data, truncated, err := database.ScanRows(rows, s.cfg.MaxResultRows)
	if err != nil {
		return schema.QueryResult{}, s.fail(op, err)
	}

	if truncated {
		s.log.InfoWith("query result truncated", map[string]interface{}{
			"op":              op,
			"max_result_rows": s.cfg.MaxResultRows,
		})
	}
	return schema.QueryResult{
		Columns:   cols,
		Rows:      data,
		RowCount:  len(data),
		Truncated: truncated,
	}, nil
}

// Close shuts down the handle source when it supports shutdown. Close
// failures of the underlying pool are logged by the source, not returned.
func (s *Service) Close(ctx context.Context) error {
	sd, ok := s.source.(shutdowner)
	if !ok {
		return nil
	}
	if err := sd.Shutdown(ctx); err != nil {
		return s.fail("close", err)
	}
	return nil
}

// --- internal helpers ---

func listing[T any](ctx context.Context, s *Service, op string,
	list func(schema.Reader, context.Context) (schema.Listing[T], error)) (schema.Listing[T], error) {
	r, err := s.reader(ctx, op)
	if err != nil {
		return schema.Listing[T]{}, err
	}
	l, err := list(r, ctx)
	if err != nil {
		return schema.Listing[T]{}, s.fail(op, err)
	}
	return l, nil
}

func (s *Service) acquire(ctx context.Context, op string) (database.Handle, error) {
	h, err := s.source.Acquire(ctx)
	if err != nil {
		return nil, s.fail(op, err)
	}
	return h, nil
}

func (s *Service) reader(ctx context.Context, op string) (schema.Reader, error) {
	h, err := s.acquire(ctx, op)
	if err != nil {
		return nil, err
	}
	return schema.NewIntrospector(h, s.cfg.MaxResultRows), nil
}

// fail is the single exit for operation errors. It rebuilds err as an
// *errs.Error whose message and cause text are sanitized, and logs it.
func (s *Service) fail(op string, err error) error {
	kind, msg, cause := errs.ErrKindQueryFailed, op+" failed", err
	var e *errs.Error
	if errors.As(err, &e) {
		kind, msg, cause = e.Kind, e.Message, e.Cause
		if kind == errs.ErrKindUnknown {
			kind = errs.ErrKindQueryFailed
		}
	}
	out := errs.Wrap(kind, redact.String(msg), redact.Error(cause))

	fields := map[string]interface{}{"op": op, "kind": kind.String()}
	switch kind {
	case errs.ErrKindInvalidInput, errs.ErrKindQueryRejected:
		s.log.DebugWith("operation refused", out, fields)
	default:
		s.log.WarnWith("operation failed", out, fields)
	}
	return out
}

func validateIdentifiers(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := validateIdentifier(pairs[i], pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// validateIdentifier accepts any non-empty sysname-length string without
// control characters. Identifiers are always bound as parameters.
func validateIdentifier(field, v string) error {
	switch {
	case strings.TrimSpace(v) == "":
		return errs.New(errs.ErrKindInvalidInput, field+" must not be empty")
	case utf8.RuneCountInString(v) > maxIdentifierLength:
		return errs.New(errs.ErrKindInvalidInput,
			fmt.Sprintf("%s exceeds %d characters", field, maxIdentifierLength))
	case strings.IndexFunc(v, unicode.IsControl) >= 0:
		return errs.New(errs.ErrKindInvalidInput, field+" contains control characters")
	}
	return nil
}

func objectTypeList() string {
	names := make([]string, len(schema.ObjectTypes))
	for i, t := range schema.ObjectTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
