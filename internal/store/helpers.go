package store

import (
	"github.com/jmoiron/sqlx"
)

// sqlxIn expands a `WHERE id IN (?)` placeholder for a slice argument.
func sqlxIn(query string, args ...interface{}) (string, []interface{}, error) {
	return sqlx.In(query, args...)
}
