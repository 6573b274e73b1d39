package db

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var regexpCache sync.Map

func init() {
	// SQLite parses "x REGEXP y" as regexp(y, x) but ships no implementation.
	sqlite.MustRegisterDeterministicScalarFunction("regexp", 2, sqliteRegexp)
}

func sqliteRegexp(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	pattern, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("regexp pattern must be text")
	}
	var subject string
	switch v := args[1].(type) {
	case string:
		subject = v
	case []byte:
		subject = string(v)
	default:
		subject = fmt.Sprint(v)
	}

	var re *regexp.Regexp
	if cached, ok := regexpCache.Load(pattern); ok {
		re = cached.(*regexp.Regexp)
	} else {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regexp %q: %w", pattern, err)
		}
		regexpCache.Store(pattern, compiled)
		re = compiled
	}
	if re.MatchString(subject) {
		return int64(1), nil
	}
	return int64(0), nil
}

// NewSQLite opens an embedded SQLite database.
// DSN format: "file:/path/app.db?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
func NewSQLite(dsn string) (*SQLDatabase, error) {
	config := DefaultConfig()
	config.DSN = dsn
	return NewSQLiteWithConfig(config)
}

// NewSQLiteWithConfig opens an embedded SQLite database with custom configuration.
// In-memory databases are private to one connection, so their pool is pinned
// to a single connection.
func NewSQLiteWithConfig(config *Config) (*SQLDatabase, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.Driver = DriverSQLite
	if strings.Contains(config.DSN, ":memory:") || strings.Contains(config.DSN, "mode=memory") {
		config.MaxOpenConnections = 1
		config.MaxIdleConnections = 1
		config.ConnMaxLifetime = -1
		config.ConnMaxIdleTime = -1
	}
	return openSQL(string(DriverSQLite), config)
}

func sqliteCode(err error) (int, string, bool) {
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code(), liteErr.Error(), true
	}
	return 0, "", false
}

func sqliteUniqueViolation(code int, message string) bool {
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(message, "UNIQUE constraint failed")
	}
	return false
}

func sqliteForeignKeyViolation(code int, message string) bool {
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(message, "FOREIGN KEY constraint failed")
	}
	return false
}

// sqliteConstraintName pulls "table.column" out of
// "UNIQUE constraint failed: table.column".
func sqliteConstraintName(message string) string {
	const marker = "constraint failed: "
	idx := strings.LastIndex(message, marker)
	if idx == -1 {
		return ""
	}
	name := message[idx+len(marker):]
	if end := strings.IndexAny(name, " ("); end != -1 {
		name = name[:end]
	}
	return name
}
