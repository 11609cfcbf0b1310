package service_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/mssqlgate/internal/config"
	"github.com/koustreak/mssqlgate/internal/database"
	"github.com/koustreak/mssqlgate/internal/database/dbtest"
	"github.com/koustreak/mssqlgate/internal/errs"
	"github.com/koustreak/mssqlgate/internal/logger"
	"github.com/koustreak/mssqlgate/internal/pool"
	"github.com/koustreak/mssqlgate/internal/service"
)

type fixture struct {
	svc    *service.Service
	dialer *dbtest.Dialer
	pool   *pool.Manager
	logs   *bytes.Buffer
}

func newFixture(t *testing.T, respond dbtest.Responder, maxRows int) *fixture {
	t.Helper()
	cfg := config.New(config.Settings{
		Server:        "db.example.com",
		Database:      "Sales",
		Username:      "reader",
		Password:      "Sup3rSecret",
		MaxResultRows: &maxRows,
	})

	logs := &bytes.Buffer{}
	log := logger.New(&logger.Config{Level: "debug", Format: "json", Output: logs})
	d := &dbtest.Dialer{Respond: respond}
	m := pool.New(cfg, d.Dial, log)
	svc := service.New(cfg, m, log)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	return &fixture{svc: svc, dialer: d, pool: m, logs: logs}
}

// queryCalls counts Query invocations across every handle the dialer made.
func (f *fixture) queryCalls() int {
	n := 0
	for _, h := range f.dialer.Handles() {
		n += len(h.Calls())
	}
	return n
}

func tablesResponder(query string, _ []any) dbtest.Result {
	if strings.Contains(query, "FROM sys.tables t") {
		return dbtest.Result{
			Columns: []string{"schema_name", "table_name", "row_count", "size_bytes"},
			Rows:    [][]any{{"dbo", "Customers", int64(3), int64(8192)}},
		}
	}
	return dbtest.Result{}
}

func TestExecuteSelectQuery_RejectedNeverReachesPool(t *testing.T) {
	f := newFixture(t, nil, 1000)

	_, err := f.svc.ExecuteSelectQuery(context.Background(), "DROP TABLE Users")
	require.Error(t, err)
	assert.True(t, errs.IsQueryRejected(err))
	assert.Contains(t, err.Error(), "only SELECT statements are allowed")

	assert.Equal(t, 0, f.dialer.Dials())
	assert.Equal(t, 0, f.queryCalls())
	assert.Equal(t, pool.StateAbsent, f.pool.State())
}

func TestExecuteSelectQuery_StackedStatementRejected(t *testing.T) {
	f := newFixture(t, nil, 1000)

	_, err := f.svc.ExecuteSelectQuery(context.Background(), "SELECT 1; DELETE FROM Users")
	require.Error(t, err)
	assert.True(t, errs.IsQueryRejected(err))
	assert.Equal(t, 0, f.dialer.Dials())
}

func TestExecuteSelectQuery_Truncates(t *testing.T) {
	data := make([][]any, 1500)
	for i := range data {
		data[i] = []any{int64(i), fmt.Sprintf("name-%d", i)}
	}
	f := newFixture(t, func(string, []any) dbtest.Result {
		return dbtest.Result{Columns: []string{"id", "name"}, Rows: data}
	}, 1000)

	res, err := f.svc.ExecuteSelectQuery(context.Background(), "SELECT id, name FROM Users")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, res.Columns)
	assert.Len(t, res.Rows, 1000)
	assert.Equal(t, 1000, res.RowCount)
	assert.True(t, res.Truncated)
	assert.Equal(t, map[string]any{"id": int64(999), "name": "name-999"}, res.Rows[999])
}

func TestExecuteSelectQuery_RunsOriginalText(t *testing.T) {
	const q = "  select   TOP 5 *\n FROM dbo.Users "
	f := newFixture(t, func(string, []any) dbtest.Result {
		return dbtest.Result{Columns: []string{"id"}, Rows: [][]any{{int64(1)}}}
	}, 1000)

	res, err := f.svc.ExecuteSelectQuery(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.Equal(t, 1, res.RowCount)

	calls := f.dialer.Last().Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, q, calls[0].SQL)
}

func TestExecuteSelectQuery_ZeroCap(t *testing.T) {
	f := newFixture(t, func(string, []any) dbtest.Result {
		return dbtest.Result{Columns: []string{"id"}, Rows: [][]any{{int64(1)}}}
	}, 0)

	res, err := f.svc.ExecuteSelectQuery(context.Background(), "SELECT id FROM t")
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.True(t, res.Truncated)
}

func TestExecuteSelectQuery_ErrorIsSanitized(t *testing.T) {
	f := newFixture(t, func(string, []any) dbtest.Result {
		return dbtest.Result{Err: errors.New("login error: Server=db;Password=Sup3rSecret;Encrypt=true")}
	}, 1000)

	_, err := f.svc.ExecuteSelectQuery(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.True(t, errs.IsQueryFailed(err))
	assert.NotContains(t, err.Error(), "Sup3rSecret")
	assert.Contains(t, err.Error(), "Password=***")
	assert.NotContains(t, f.logs.String(), "Sup3rSecret")
}

func TestExecuteSelectQuery_KeepsDriverKind(t *testing.T) {
	f := newFixture(t, func(string, []any) dbtest.Result {
		return dbtest.Result{Err: errs.Wrap(errs.ErrKindTimeout, "query failed: timed out", context.DeadlineExceeded)}
	}, 1000)

	_, err := f.svc.ExecuteSelectQuery(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.True(t, errs.IsTimeout(err))
	assert.True(t, errs.IsQueryExecution(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListTables(t *testing.T) {
	f := newFixture(t, tablesResponder, 1000)

	got, err := f.svc.ListTables(context.Background())
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Customers", got.Items[0].Name)
	assert.Equal(t, "8.0 KiB", got.Items[0].SizeInfo)
	assert.False(t, got.Truncated)
}

func TestListTables_RepairsUnhealthyHandleTransparently(t *testing.T) {
	f := newFixture(t, tablesResponder, 1000)

	_, err := f.svc.ListTables(context.Background())
	require.NoError(t, err)
	f.dialer.Last().MarkUnhealthy()

	got, err := f.svc.ListTables(context.Background())
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)

	assert.Equal(t, 1, f.pool.Stats().Repairs)
	assert.Equal(t, 2, f.dialer.Dials())
	assert.Equal(t, 1, f.dialer.Handles()[0].CloseCount())
}

func TestListOperations(t *testing.T) {
	f := newFixture(t, nil, 1000)
	ctx := context.Background()

	views, err := f.svc.ListViews(ctx)
	require.NoError(t, err)
	assert.Empty(t, views.Items)

	procs, err := f.svc.ListStoredProcedures(ctx)
	require.NoError(t, err)
	assert.Empty(t, procs.Items)

	triggers, err := f.svc.ListTriggers(ctx)
	require.NoError(t, err)
	assert.Empty(t, triggers.Items)

	funcs, err := f.svc.ListFunctions(ctx)
	require.NoError(t, err)
	assert.Empty(t, funcs.Items)

	assert.Equal(t, 1, f.dialer.Dials())
	assert.Equal(t, 4, f.queryCalls())
}

func TestGetTableSchema_MissingTable(t *testing.T) {
	f := newFixture(t, nil, 1000)

	got, err := f.svc.GetTableSchema(context.Background(), "dbo", "DoesNotExist")
	require.NoError(t, err)
	assert.Empty(t, got.Columns)
	assert.Equal(t, "DoesNotExist", got.Name)
}

func TestGetTableSchema_Validation(t *testing.T) {
	tests := []struct {
		name          string
		schema, table string
		want          string
	}{
		{"empty schema", "", "Users", "schema_name must not be empty"},
		{"blank table", "dbo", "   ", "table_name must not be empty"},
		{"too long", "dbo", strings.Repeat("x", 129), "table_name exceeds 128 characters"},
		{"control char", "dbo\x00", "Users", "schema_name contains control characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, 1000)
			_, err := f.svc.GetTableSchema(context.Background(), tt.schema, tt.table)
			require.Error(t, err)
			assert.True(t, errs.IsInvalidInput(err))
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, 0, f.dialer.Dials())
		})
	}
}

func TestGetTableSchema_AcceptsUnicodeIdentifiers(t *testing.T) {
	f := newFixture(t, nil, 1000)

	_, err := f.svc.GetTableSchema(context.Background(), "ventes", strings.Repeat("é", 128))
	require.NoError(t, err)
}

func TestGetObjectDefinition(t *testing.T) {
	f := newFixture(t, nil, 1000)

	got, err := f.svc.GetObjectDefinition(context.Background(), "dbo", "usp_Missing", "PROCEDURE")
	require.NoError(t, err)
	assert.False(t, got.Exists)
	assert.Equal(t, "procedure", string(got.ObjectType))
}

func TestGetObjectDefinition_UnknownType(t *testing.T) {
	f := newFixture(t, nil, 1000)

	_, err := f.svc.GetObjectDefinition(context.Background(), "dbo", "x", "sequence")
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
	assert.Contains(t, err.Error(), "table, view, procedure, function, trigger")
	assert.Equal(t, 0, f.dialer.Dials())
}

func TestTestConnection(t *testing.T) {
	f := newFixture(t, func(q string, _ []any) dbtest.Result {
		if strings.Contains(q, "@@VERSION") {
			return dbtest.Result{
				Columns: []string{"server_version", "current_database", "login_name"},
				Rows:    [][]any{{"Microsoft SQL Server 2022", "Sales", "reader"}},
			}
		}
		return dbtest.Result{}
	}, 1000)

	info, err := f.svc.TestConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Sales", info.CurrentDatabase)
	assert.Equal(t, "reader", info.LoginName)
}

func TestTestConnection_DialFailure(t *testing.T) {
	f := newFixture(t, nil, 1000)
	f.dialer.FailNext(errors.New("server=db;user id=reader;password=Sup3rSecret: connection refused"))

	_, err := f.svc.TestConnection(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsConnectionFailed(err))
	assert.NotContains(t, err.Error(), "Sup3rSecret")
	assert.NotContains(t, f.logs.String(), "Sup3rSecret")

	_, err = f.svc.TestConnection(context.Background())
	require.NoError(t, err, "the next call retries the dial")
	assert.Equal(t, 2, f.dialer.Dials())
}

func TestConcurrentFirstCallsShareOnePool(t *testing.T) {
	f := newFixture(t, tablesResponder, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ListTables(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.dialer.Dials())
}

func TestClose(t *testing.T) {
	f := newFixture(t, tablesResponder, 1000)

	_, err := f.svc.ListTables(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.svc.Close(context.Background()))
	assert.Equal(t, pool.StateClosed, f.pool.State())
	assert.Equal(t, 1, f.dialer.Last().CloseCount())

	_, err = f.svc.ListTables(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsShutdown(err))
}

type staticSource struct{ h *dbtest.Handle }

func (s staticSource) Acquire(context.Context) (database.Handle, error) { return s.h, nil }

func TestClose_SourceWithoutShutdown(t *testing.T) {
	svc := service.New(config.New(config.Settings{}), staticSource{h: dbtest.NewHandle("h", nil)}, nil)
	assert.NoError(t, svc.Close(context.Background()))
}
