package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Driver names a supported database backend.
type Driver string

const (
	// DriverPostgres uses github.com/lib/pq.
	DriverPostgres Driver = "postgres"
	// DriverPgx uses the database/sql adapter of github.com/jackc/pgx/v5.
	DriverPgx Driver = "pgx"
	// DriverMySQL uses github.com/go-sql-driver/mysql.
	DriverMySQL Driver = "mysql"
	// DriverSQLite uses the pure Go modernc.org/sqlite.
	DriverSQLite Driver = "sqlite"
)

// IsPostgres reports whether the driver talks to PostgreSQL.
func (d Driver) IsPostgres() bool {
	return d == DriverPostgres || d == DriverPgx
}

// Config holds the connection pool configuration shared by every backend.
type Config struct {
	// Driver selects the backend. Default: postgres
	Driver Driver `yaml:"driver"`

	// DSN is the data source name in the driver's own format.
	DSN string `yaml:"dsn"`

	// MaxOpenConnections is the maximum number of open connections to the database
	// Default: 25
	MaxOpenConnections int `yaml:"maxOpenConnections"`

	// MaxIdleConnections is the maximum number of connections in the idle connection pool
	// Default: 5
	MaxIdleConnections int `yaml:"maxIdleConnections"`

	// ConnMaxLifetime is the maximum amount of time a connection may be reused
	// Default: 5 minutes
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`

	// ConnMaxIdleTime is the maximum amount of time a connection may be idle
	// Default: 10 minutes
	ConnMaxIdleTime time.Duration `yaml:"connMaxIdleTime"`

	// PingTimeout bounds the connectivity check done on open
	// Default: 5 seconds
	PingTimeout time.Duration `yaml:"pingTimeout"`
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() *Config {
	return &Config{
		Driver:             DriverPostgres,
		MaxOpenConnections: 25,
		MaxIdleConnections: 5,
		ConnMaxLifetime:    5 * time.Minute,
		ConnMaxIdleTime:    10 * time.Minute,
		PingTimeout:        5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Driver == "" {
		c.Driver = def.Driver
	}
	if c.MaxOpenConnections == 0 {
		c.MaxOpenConnections = def.MaxOpenConnections
	}
	if c.MaxIdleConnections == 0 {
		c.MaxIdleConnections = def.MaxIdleConnections
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = def.PingTimeout
	}
}

// Database is a pooled connection handle.
type Database interface {
	Querier
	BeginTx(ctx context.Context, opts *TxOptions) (Transaction, error)
	Ping(ctx context.Context) error
	Close() error
	Stats() Stats
	Driver() Driver
}

// Transaction is a unit of work bound to one connection.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Rows is the result of a query.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
	Columns() ([]string, error)
}

// Row is the result of a single-row query.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// IsolationLevel is the transaction isolation level.
type IsolationLevel int

const (
	// IsolationDefault leaves the level to the server.
	IsolationDefault IsolationLevel = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

var isolationNames = map[IsolationLevel]string{
	IsolationDefault:         "DEFAULT",
	IsolationReadUncommitted: "READ UNCOMMITTED",
	IsolationReadCommitted:   "READ COMMITTED",
	IsolationRepeatableRead:  "REPEATABLE READ",
	IsolationSerializable:    "SERIALIZABLE",
}

func (l IsolationLevel) String() string {
	if name, ok := isolationNames[l]; ok {
		return name
	}
	return fmt.Sprintf("IsolationLevel(%d)", int(l))
}

// ParseIsolationLevel accepts names like "READ COMMITTED" or "read_committed".
func ParseIsolationLevel(name string) (IsolationLevel, error) {
	normalized := normalizeIsolationName(name)
	if normalized == "" {
		return IsolationDefault, nil
	}
	for level, n := range isolationNames {
		if n == normalized {
			return level, nil
		}
	}
	return IsolationDefault, fmt.Errorf("unknown isolation level %q", name)
}

// TxOptions holds the options of a new transaction.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

// ConvertTxOptions maps TxOptions onto database/sql options.
func ConvertTxOptions(opts *TxOptions) *sql.TxOptions {
	if opts == nil {
		return nil
	}
	out := &sql.TxOptions{ReadOnly: opts.ReadOnly}
	switch opts.Isolation {
	case IsolationReadUncommitted:
		out.Isolation = sql.LevelReadUncommitted
	case IsolationReadCommitted:
		out.Isolation = sql.LevelReadCommitted
	case IsolationRepeatableRead:
		out.Isolation = sql.LevelRepeatableRead
	case IsolationSerializable:
		out.Isolation = sql.LevelSerializable
	default:
		out.Isolation = sql.LevelDefault
	}
	return out
}

// Stats is a snapshot of pool statistics.
type Stats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	WaitDuration       time.Duration
	MaxIdleClosed      int64
	MaxLifetimeClosed  int64
}

// ConvertSQLStats copies database/sql pool statistics.
func ConvertSQLStats(s sql.DBStats) Stats {
	return Stats{
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
		MaxIdleClosed:      s.MaxIdleClosed,
		MaxLifetimeClosed:  s.MaxLifetimeClosed,
	}
}

// Open creates a pooled database for the configured driver and verifies the
// connection.
func Open(config *Config) (Database, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.applyDefaults()

	var (
		database *SQLDatabase
		err      error
	)
	switch config.Driver {
	case DriverPostgres, DriverPgx:
		database, err = NewPostgreSQLWithConfig(config)
	case DriverMySQL:
		database, err = NewMySQLWithConfig(config)
	case DriverSQLite:
		database, err = NewSQLiteWithConfig(config)
	default:
		return nil, fmt.Errorf("unsupported driver %q", config.Driver)
	}
	if err != nil {
		return nil, err
	}
	return database, nil
}

// SQLDatabase implements Database over database/sql. The backend files only
// differ in how they open the pool and classify errors.
type SQLDatabase struct {
	db     *sql.DB
	driver Driver
	config *Config
	mu     sync.RWMutex
}

func openSQL(driverName string, config *Config) (*SQLDatabase, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("DSN cannot be empty")
	}
	config.applyDefaults()

	db, err := sql.Open(driverName, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConnections)
	db.SetMaxIdleConns(config.MaxIdleConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQLDatabase{db: db, driver: config.Driver, config: config}, nil
}

// NewWithDB wraps an existing pool.
func NewWithDB(db *sql.DB, driver Driver) (*SQLDatabase, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	config := DefaultConfig()
	config.Driver = driver

	ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQLDatabase{db: db, driver: driver, config: config}, nil
}

// Driver returns the backend driver.
func (d *SQLDatabase) Driver() Driver {
	return d.driver
}

// GetConfig returns the pool configuration.
func (d *SQLDatabase) GetConfig() *Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Query executes a query that returns rows
func (d *SQLDatabase) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return &sqlRows{rows: rows}, nil
}

// QueryRow executes a query that returns at most one row
func (d *SQLDatabase) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return &sqlRow{row: d.db.QueryRowContext(ctx, query, args...)}
}

// Exec executes a query that doesn't return rows
func (d *SQLDatabase) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("exec failed: %w", err)
	}
	return result, nil
}

// BeginTx starts a new transaction with the given options
func (d *SQLDatabase) BeginTx(ctx context.Context, opts *TxOptions) (Transaction, error) {
	sqlOpts := ConvertTxOptions(opts)
	if d.driver == DriverSQLite && sqlOpts != nil {
		// SQLite transactions are always serializable.
		sqlOpts = &sql.TxOptions{}
	}
	tx, err := d.db.BeginTx(ctx, sqlOpts)
	if err != nil {
		return nil, fmt.Errorf("begin transaction failed: %w", err)
	}
	return &sqlTransaction{tx: tx}, nil
}

// Ping verifies a connection to the database is still alive
func (d *SQLDatabase) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// Close closes the database connection
func (d *SQLDatabase) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	return nil
}

// Stats returns database statistics
func (d *SQLDatabase) Stats() Stats {
	return ConvertSQLStats(d.db.Stats())
}

// DB returns the underlying pool.
func (d *SQLDatabase) DB() *sql.DB {
	return d.db
}

type sqlRows struct {
	rows *sql.Rows
}

func (r *sqlRows) Next() bool {
	return r.rows.Next()
}

func (r *sqlRows) Scan(dest ...interface{}) error {
	if err := r.rows.Scan(dest...); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

func (r *sqlRows) Close() error {
	if err := r.rows.Close(); err != nil {
		return fmt.Errorf("close rows failed: %w", err)
	}
	return nil
}

func (r *sqlRows) Err() error {
	return r.rows.Err()
}

func (r *sqlRows) Columns() ([]string, error) {
	cols, err := r.rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns failed: %w", err)
	}
	return cols, nil
}

type sqlRow struct {
	row *sql.Row
}

func (r *sqlRow) Scan(dest ...interface{}) error {
	if err := r.row.Scan(dest...); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

type sqlTransaction struct {
	tx *sql.Tx
}

func (t *sqlTransaction) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transaction query failed: %w", err)
	}
	return &sqlRows{rows: rows}, nil
}

func (t *sqlTransaction) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return &sqlRow{row: t.tx.QueryRowContext(ctx, query, args...)}
}

func (t *sqlTransaction) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transaction exec failed: %w", err)
	}
	return result, nil
}

func (t *sqlTransaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

func (t *sqlTransaction) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return nil
}
