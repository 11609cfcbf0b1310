// Package dbtest provides in-memory doubles for database.Handle and the pool
// dialer, with call counters for asserting what reached the "network".
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/koustreak/mssqlgate/internal/config"
	"github.com/koustreak/mssqlgate/internal/database"
)

// Result is what a Responder returns for one query.
type Result struct {
	Columns []string
	Rows    [][]any
	Err     error // returned by Query
	IterErr error // returned by Rows.Err after iteration
}

// Responder produces the result for a query. It must be safe for concurrent use.
type Responder func(query string, args []any) Result

// Call records one Query invocation.
type Call struct {
	SQL  string
	Args []any
}

// Handle is a fake database.Handle.
type Handle struct {
	id      string
	respond Responder

	connected atomic.Bool
	healthy   atomic.Bool

	mu       sync.Mutex
	calls    []Call
	closes   int
	closeErr error
}

var _ database.Handle = (*Handle)(nil)

// NewHandle returns a connected, healthy handle answering with respond.
// A nil respond answers every query with an empty result.
func NewHandle(id string, respond Responder) *Handle {
	if respond == nil {
		respond = func(string, []any) Result { return Result{} }
	}
	h := &Handle{id: id, respond: respond}
	h.connected.Store(true)
	h.healthy.Store(true)
	return h
}

func (h *Handle) ID() string      { return h.id }
func (h *Handle) Connected() bool { return h.connected.Load() }
func (h *Handle) Healthy() bool   { return h.healthy.Load() }

// MarkUnhealthy simulates a connection-level failure observed by the pool.
func (h *Handle) MarkUnhealthy() { h.healthy.Store(false) }

// Disconnect simulates the pool dropping its connections.
func (h *Handle) Disconnect() { h.connected.Store(false) }

// SetCloseError makes Close return err.
func (h *Handle) SetCloseError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeErr = err
}

func (h *Handle) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	h.mu.Lock()
	h.calls = append(h.calls, Call{SQL: query, Args: args})
	h.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := h.respond(query, args)
	if res.Err != nil {
		return nil, res.Err
	}
	return NewRows(res.Columns, res.Rows, res.IterErr), nil
}

func (h *Handle) Close() error {
	h.connected.Store(false)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	return h.closeErr
}

// Calls returns a copy of every Query invocation so far.
func (h *Handle) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Call(nil), h.calls...)
}

// CloseCount reports how many times Close was called.
func (h *Handle) CloseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

// Rows is a fake database.Rows over in-memory values.
type Rows struct {
	columns []string
	data    [][]any
	pos     int
	iterErr error
	closed  bool
	read    int
}

var _ database.Rows = (*Rows)(nil)

// NewRows returns rows yielding data in order.
func NewRows(columns []string, data [][]any, iterErr error) *Rows {
	return &Rows{columns: columns, data: data, iterErr: iterErr}
}

func (r *Rows) Next() bool {
	if r.closed || r.pos >= len(r.data) {
		return false
	}
	r.pos++
	r.read++
	return true
}

func (r *Rows) Columns() ([]string, error) { return r.columns, nil }
func (r *Rows) Close()                     { r.closed = true }
func (r *Rows) Err() error                 { return r.iterErr }

// Closed reports whether Close was called.
func (r *Rows) Closed() bool { return r.closed }

// Read reports how many rows Next has advanced over.
func (r *Rows) Read() int { return r.read }

func (r *Rows) Scan(dest ...any) error {
	if r.pos == 0 || r.pos > len(r.data) {
		return fmt.Errorf("dbtest: Scan called without a current row")
	}
	row := r.data[r.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("dbtest: expected %d destinations, got %d", len(row), len(dest))
	}
	for i := range dest {
		if err := assign(dest[i], row[i]); err != nil {
			return fmt.Errorf("dbtest: column %d: %w", i, err)
		}
	}
	return nil
}

// assign stores v into the pointer dest, in the spirit of database/sql's
// conversions: Scanners get the raw value, nil zeroes the destination,
// pointer destinations are allocated, and numeric kinds convert.
func assign(dest, v any) error {
	if s, ok := dest.(sql.Scanner); ok {
		return s.Scan(v)
	}

	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("destination must be a non-nil pointer, got %T", dest)
	}
	dv = dv.Elem()

	if v == nil {
		dv.Set(reflect.Zero(dv.Type()))
		return nil
	}

	sv := reflect.ValueOf(v)
	switch {
	case sv.Type().AssignableTo(dv.Type()):
		dv.Set(sv)
	case dv.Kind() == reflect.Ptr:
		nv := reflect.New(dv.Type().Elem())
		if err := assign(nv.Interface(), v); err != nil {
			return err
		}
		dv.Set(nv)
	case dv.Kind() == reflect.String && sv.Kind() != reflect.String:
		return fmt.Errorf("cannot store %T in %s", v, dv.Type())
	case sv.Type().ConvertibleTo(dv.Type()):
		dv.Set(sv.Convert(dv.Type()))
	default:
		return fmt.Errorf("cannot store %T in %s", v, dv.Type())
	}
	return nil
}

// Dialer is a counting stand-in for the pool's dial function.
type Dialer struct {
	// Respond is installed on every handle this dialer creates.
	Respond Responder

	// Gate, when non-nil, blocks each dial until it is closed or receives.
	Gate chan struct{}

	mu      sync.Mutex
	dials   int
	errs    []error
	handles []*Handle
}

// FailNext queues errors returned by the next dials, in order.
func (d *Dialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, errs...)
}

// Dial matches pool.Dialer.
func (d *Dialer) Dial(ctx context.Context, _ config.Config) (database.Handle, error) {
	if d.Gate != nil {
		select {
		case <-d.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return nil, err
	}
	h := NewHandle(fmt.Sprintf("handle-%d", d.dials), d.Respond)
	d.handles = append(d.handles, h)
	return h, nil
}

// Dials reports how many times Dial was called.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Handles returns every handle created so far, oldest first.
func (d *Dialer) Handles() []*Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Handle(nil), d.handles...)
}

// Last returns the most recently created handle, or nil.
func (d *Dialer) Last() *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.handles) == 0 {
		return nil
	}
	return d.handles[len(d.handles)-1]
}
