package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// Querier abstracts database operations for both database and transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// IsTxDone checks if the transaction was already committed or rolled back.
func IsTxDone(err error) bool {
	return errors.Is(err, sql.ErrTxDone)
}

// UniqueViolation reports whether err is a unique or primary key conflict
// from any supported driver and returns the key name when the driver exposes it.
func UniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	if number, message, ok := mysqlNumber(err); ok {
		if number == mysqlDuplicateEntry {
			return ExtractDuplicateKeyName(message), true
		}
		return "", false
	}
	if code, constraint, ok := postgresCode(err); ok {
		return constraint, code == pgUniqueViolation
	}
	if code, message, ok := sqliteCode(err); ok {
		if sqliteUniqueViolation(code, message) {
			return sqliteConstraintName(message), true
		}
	}
	return "", false
}

// ForeignKeyViolation reports whether err is a referential integrity failure.
func ForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if number, _, ok := mysqlNumber(err); ok {
		return number == mysqlRowIsReferenced || number == mysqlNoReferencedRow
	}
	if code, _, ok := postgresCode(err); ok {
		return code == pgForeignKeyViolation
	}
	if code, message, ok := sqliteCode(err); ok {
		return sqliteForeignKeyViolation(code, message)
	}
	return false
}

func normalizeIsolationName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}
