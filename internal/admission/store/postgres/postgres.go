// Package postgres implements the admission stores on PostgreSQL via lib/pq.
//
// Unlike the SQLite stores there is no write worker: Postgres serialises the
// conditional point decrement on the row lock, so every store method is a
// single statement against the pool.
package postgres

import (
	"errors"

	"github.com/lib/pq"
)

// checkViolation is SQLSTATE 23514. The accounts.point_balance CHECK raises
// it if a decrement ever slips past the WHERE guard.
const checkViolation = "23514"

func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == checkViolation
}
