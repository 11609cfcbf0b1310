package database

import "context"

// Handle is one live connection pool. It is owned by the pool manager and
// never handed past the service boundary.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Handle interface {
	// ID identifies this pool instance in logs.
	ID() string

	// Connected reports whether the pool is open (false after Close).
	Connected() bool

	// Healthy reports whether the pool has not observed a connection-level
	// failure since it was created.
	Healthy() bool

	// Query executes a SQL statement that returns rows. Errors are *errs.Error.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// Close releases all resources held by the pool.
	Close() error
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Columns returns the column names of the result set.
	Columns() ([]string, error)

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}
