package dbx

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err came from a unique index.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Wrap classifies a driver error: no rows becomes common.ErrorNotFound, a
// unique violation becomes common.ErrorConflict, anything else is wrapped as
// a db error.
func Wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return common.ErrorNotFound
	case IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", common.ErrorConflict, err)
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

// RequireRows returns common.ErrorNotFound when a write touched nothing.
func RequireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	switch n {
	case 0:
		return common.ErrorNotFound
	default:
		return nil
	}
}
