package ledger

import "fmt"

// dialect hides the handful of places postgres and sqlite disagree on
// syntax so the rest of sqlStore can be written once. Both backends share
// one schema (migrations/001_init_postgres.sql and
// migrations/001_init_sqlite.sql) and one set of queries modulo these
// differences.
type dialect struct {
	name string // "postgres" or "sqlite"
}

// placeholder returns the parameter marker for position i (1-based).
func (d dialect) placeholder(i int) string {
	if d.name == "postgres" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// forUpdate returns the row-locking clause used when reading the balance
// row inside a write transaction. sqlite has no row-level locking — its
// single-writer transaction semantics already serialize writers, so the
// clause is simply omitted there.
func (d dialect) forUpdate() string {
	if d.name == "postgres" {
		return "FOR UPDATE"
	}
	return ""
}

// useLastInsertID reports whether this dialect should use
// sql.Result.LastInsertId (sqlite) instead of a RETURNING clause
// (postgres).
func (d dialect) useLastInsertID() bool {
	return d.name != "postgres"
}
