package repository

import (
	"fmt"
	"net"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xenking/ordergenie-engine/internal/domain/order"
)

// PostgreSQL error codes that indicate a conflicting concurrent transaction.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// PostgreSQL error classes and codes that mean the server could not serve the
// statement right now: connection exceptions, insufficient resources and
// operator intervention such as a shutdown.
const (
	classConnectionException  = "08"
	classInsufficientResource = "53"
	codeAdminShutdown         = "57P01"
	codeCrashShutdown         = "57P02"
	codeCannotConnectNow      = "57P03"
)

// mapError marks transaction aborts caused by concurrent writers with
// order.ErrConcurrentUpdate and transport failures with order.ErrUnavailable
// so the service retries them. Everything else passes through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeSerializationFailure,
			pgErr.Code == codeDeadlockDetected,
			pgErr.Code == codeLockNotAvailable:
			return fmt.Errorf("%w: %w", order.ErrConcurrentUpdate, err)
		case strings.HasPrefix(pgErr.Code, classConnectionException),
			strings.HasPrefix(pgErr.Code, classInsufficientResource),
			pgErr.Code == codeAdminShutdown,
			pgErr.Code == codeCrashShutdown,
			pgErr.Code == codeCannotConnectNow:
			return fmt.Errorf("%w: %w", order.ErrUnavailable, err)
		default:
			return err
		}
	}

	var (
		connectErr *pgconn.ConnectError
		netErr     net.Error
	)
	if errors.As(err, &connectErr) || errors.As(err, &netErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", order.ErrUnavailable, err)
	}
	return err
}
