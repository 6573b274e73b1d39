package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// NewPostgreSQL opens a PostgreSQL pool through lib/pq.
// DSN format: "user=postgres password=password host=localhost port=5432 dbname=dbname sslmode=disable"
func NewPostgreSQL(dsn string) (*SQLDatabase, error) {
	config := DefaultConfig()
	config.DSN = dsn
	return NewPostgreSQLWithConfig(config)
}

// NewPostgreSQLWithConfig opens a PostgreSQL pool. Driver pgx selects the
// jackc/pgx database/sql adapter, anything else uses lib/pq.
func NewPostgreSQLWithConfig(config *Config) (*SQLDatabase, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	driverName := string(DriverPostgres)
	if config.Driver == DriverPgx {
		driverName = string(DriverPgx)
	} else {
		config.Driver = DriverPostgres
	}
	return openSQL(driverName, config)
}

// postgresCode extracts the SQLSTATE and constraint name from either driver.
func postgresCode(err error) (code string, constraint string, ok bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName, true
	}
	return "", "", false
}
