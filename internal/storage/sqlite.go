package storage

import (
	"database/sql/driver"
	"strings"

	"modernc.org/sqlite"
)

// foldCase is the SQLite counterpart of LOWER that folds every script. The
// built-in LOWER only changes ASCII letters.
const foldCase = "fold_case"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(foldCase, 1,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			switch v := args[0].(type) {
			case string:
				return strings.ToLower(v), nil
			case []byte:
				return strings.ToLower(string(v)), nil
			default:
				return v, nil
			}
		})
}

// Fold returns an SQL expression lowercasing column the way strings.ToLower
// does, so it can be compared against a pattern lowercased in Go.
func (db *DB) Fold(column string) string {
	if db.driver == DriverSQLite {
		return foldCase + "(" + column + ")"
	}
	return "LOWER(" + column + ")"
}
