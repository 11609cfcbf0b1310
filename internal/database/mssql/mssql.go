// Package mssql implements database.Handle for SQL Server and Azure SQL on
// top of database/sql and go-mssqldb.
package mssql

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/koustreak/mssqlgate/internal/config"
	"github.com/koustreak/mssqlgate/internal/database"
	"github.com/koustreak/mssqlgate/internal/errs"
	"github.com/koustreak/mssqlgate/internal/redact"
)

const defaultConnMaxIdleTime = 30 * time.Second

// Handle implements database.Handle over a *sql.DB pool.
type Handle struct {
	id      string
	db      *sql.DB
	timeout time.Duration

	connected atomic.Bool
	healthy   atomic.Bool
}

var _ database.Handle = (*Handle)(nil)

// Dial opens a pool for cfg, verifies it with a round trip, and warms up
// cfg.PoolMin connections. It is the production pool.Dialer.
//
// Errors are *errs.Error with credentials stripped from their text.
func Dial(ctx context.Context, cfg config.Config) (database.Handle, error) {
	if err := cfg.CheckAuth(); err != nil {
		return nil, err
	}

	connector, err := newConnector(cfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "invalid connection settings", redact.Error(err))
	}

	db := sql.OpenDB(connector)
	configurePool(db, cfg)

	if cfg.ConnectionTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectionTimeout())
		defer cancel()
	}

	if err := warmUp(ctx, db, cfg.PoolMin); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to connect to "+cfg.Server, redact.Error(err))
	}

	return newHandle(db, cfg), nil
}

func newHandle(db *sql.DB, cfg config.Config) *Handle {
	h := &Handle{
		id:      uuid.NewString(),
		db:      db,
		timeout: cfg.QueryTimeout(),
	}
	h.connected.Store(true)
	h.healthy.Store(true)
	return h
}

// configurePool applies the pool bounds. database/sql has no minimum idle
// floor, so PoolMin is honoured by warmUp instead.
func configurePool(db *sql.DB, cfg config.Config) {
	db.SetMaxOpenConns(cfg.PoolMax)
	db.SetMaxIdleConns(cfg.PoolMax)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)
}

// warmUp pings the server, then opens n connections at once so they sit idle
// in the pool for the first queries.
func warmUp(ctx context.Context, db *sql.DB, n int) error {
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	conns := make([]*sql.Conn, 0, n)
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()
	for i := 0; i < n; i++ {
		c, err := db.Conn(ctx)
		if err != nil {
			return err
		}
		conns = append(conns, c)
	}
	return nil
}

func (h *Handle) ID() string      { return h.id }
func (h *Handle) Connected() bool { return h.connected.Load() }
func (h *Handle) Healthy() bool   { return h.healthy.Load() }

// Query runs sql under the configured query timeout. The deadline stays
// armed until the returned Rows is closed.
func (h *Handle) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	if !h.connected.Load() {
		return nil, errs.New(errs.ErrKindConnectionFailed, "connection pool is closed")
	}

	cancel := context.CancelFunc(func() {})
	if h.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		cancel()
		return nil, h.observe(mapError(err, "query failed"))
	}
	return &mssqlRows{rows: rows, cancel: cancel, h: h}, nil
}

// Close shuts the pool down. Further queries fail with a connection error.
func (h *Handle) Close() error {
	if !h.connected.Swap(false) {
		return nil
	}
	h.healthy.Store(false)
	if err := h.db.Close(); err != nil {
		return errs.Wrap(errs.ErrKindConnectionFailed, "failed to close connection pool", redact.Error(err))
	}
	return nil
}

// observe marks the handle unhealthy after a connection-class failure so
// the pool manager repairs it on the next acquisition.
func (h *Handle) observe(err error) error {
	if errs.IsConnectionFailed(err) {
		h.healthy.Store(false)
	}
	return err
}

// --- mssqlRows wraps *sql.Rows ---

type mssqlRows struct {
	rows   *sql.Rows
	cancel context.CancelFunc
	h      *Handle
}

func (r *mssqlRows) Next() bool { return r.rows.Next() }

func (r *mssqlRows) Scan(dest ...any) error {
	return mapError(r.rows.Scan(dest...), "failed to scan row")
}

func (r *mssqlRows) Columns() ([]string, error) {
	cols, err := r.rows.Columns()
	return cols, mapError(err, "failed to read columns")
}

func (r *mssqlRows) Close() {
	_ = r.rows.Close()
	r.cancel()
}

func (r *mssqlRows) Err() error {
	return r.h.observe(mapError(r.rows.Err(), "error during row iteration"))
}
