package mssql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/koustreak/mssqlgate/internal/errs"
)

// SQL Server error numbers
// Full list: https://learn.microsoft.com/sql/relational-databases/errors-events/database-engine-events-and-errors
const (
	errLoginFailed       = 18456
	errCannotOpenDB      = 4060
	errUntrustedDomain   = 18452
	errObjectPermission  = 229
	errColumnPermission  = 230
	errStatementDenied   = 262
	errUserNoPermission  = 297
	errViewServerState   = 300
	errClientSideTimeout = -2
)

// mapError converts a go-mssqldb error into an *errs.Error.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg+": timed out", err)
	}

	var sqlErr mssqldb.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Number {
		case errLoginFailed, errCannotOpenDB, errUntrustedDomain:
			return errs.Wrap(errs.ErrKindConnectionFailed,
				fmt.Sprintf("connection error: %s", sqlErr.Message), err)
		case errObjectPermission, errColumnPermission, errStatementDenied,
			errUserNoPermission, errViewServerState:
			return errs.Wrap(errs.ErrKindPermissionDenied,
				fmt.Sprintf("permission denied: %s", sqlErr.Message), err)
		case errClientSideTimeout:
			return errs.Wrap(errs.ErrKindTimeout, msg+": timed out", err)
		}
		return errs.Wrap(errs.ErrKindQueryFailed,
			fmt.Sprintf("query error: %s", sqlErr.Message), err)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg+": connection lost", err)
	}

	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}
