package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/phrazzld/paygate/internal/store"
)

// PostgreSQL SQLSTATE codes mapped to store errors.
const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
	checkViolationCode      = "23514"
	notNullViolationCode    = "23502"
	adminShutdownCode       = "57P01"
	cannotConnectNowCode    = "57P03"
)

// MapError translates a database error into the store error taxonomy,
// keeping the original in the chain. Errors it does not recognise are
// returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	if isConnectionError(err) {
		return fmt.Errorf("%w: %w", store.ErrConnection, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode:
			return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
		case foreignKeyViolationCode:
			return fmt.Errorf("%w: %s references a missing row", store.ErrInvalidEntity, pgErr.ConstraintName)
		case checkViolationCode:
			return fmt.Errorf("%w: check %s failed", store.ErrInvalidEntity, pgErr.ConstraintName)
		case notNullViolationCode:
			return fmt.Errorf("%w: %s.%s is required", store.ErrInvalidEntity, pgErr.TableName, pgErr.ColumnName)
		}
	}

	return err
}

// isConnectionError reports failures to reach the server, as opposed to
// errors the server returned for a statement.
func isConnectionError(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 covers connection exceptions.
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" {
			return true
		}
		return pgErr.Code == adminShutdownCode || pgErr.Code == cannotConnectNowCode
	}
	return false
}
