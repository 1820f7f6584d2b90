package store

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// StoreError wraps a database transport or constraint failure. Primary-key
// duplicates do not surface as errors: the insert statements absorb them
// with ON CONFLICT DO NOTHING (see I3/I4).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// DataError reports an unexpected structural issue in already-persisted
// data — a row that violates an invariant the writer is supposed to
// guarantee. Treated as a bug, not a transient failure: surfaced rather than
// retried.
type DataError struct {
	Op  string
	Err error
}

func (e *DataError) Error() string { return fmt.Sprintf("store: data: %s: %v", e.Op, e.Err) }
func (e *DataError) Unwrap() error { return e.Err }

// uniqueViolationSQLState is Postgres's SQLSTATE for unique_violation.
const uniqueViolationSQLState = "23505"

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation. No code path in this package calls it; duplicate inserts are
// absorbed by ON CONFLICT DO NOTHING instead (I3).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolationSQLState
	}
	return false
}
