package repository

import (
	"context"
	"time"

	"github.com/VENIZIA-AI/ignis-sub007/internal/common/cache"
	"github.com/VENIZIA-AI/ignis-sub007/internal/common/db"
	"github.com/VENIZIA-AI/ignis-sub007/internal/common/metrics"
	"github.com/VENIZIA-AI/ignis-sub007/internal/model"
	"github.com/VENIZIA-AI/ignis-sub007/internal/query"
	"github.com/VENIZIA-AI/ignis-sub007/internal/relation"
	"github.com/VENIZIA-AI/ignis-sub007/internal/transaction"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/errors"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/filter"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/utils/logger"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"
)

const (
	defaultCacheTTL      = 10 * time.Minute
	defaultCacheEmptyTTL = time.Minute
)

// DataSource binds an entity registry to one database. Repositories created
// from it share its compiler, resolver and transaction manager.
type DataSource struct {
	provider     db.Provider
	registry     *model.Registry
	compiler     *query.Compiler
	resolver     *relation.Resolver
	transactions *transaction.Manager

	cache         cache.Cache
	cacheTTL      time.Duration
	cacheEmptyTTL time.Duration
}

// Option configures a DataSource.
type Option func(*DataSource)

// WithCache enables the FindByID read-through cache. Zero durations fall back
// to the defaults.
func WithCache(c cache.Cache, ttl, emptyTTL time.Duration) Option {
	return func(ds *DataSource) {
		ds.cache = c
		if ttl > 0 {
			ds.cacheTTL = ttl
		}
		if emptyTTL > 0 {
			ds.cacheEmptyTTL = emptyTTL
		}
	}
}

// WithDefaultIsolation sets the isolation level of transactions that do not
// request one.
func WithDefaultIsolation(level db.IsolationLevel) Option {
	return func(ds *DataSource) {
		ds.transactions.WithDefaultIsolation(level)
	}
}

// NewDataSource creates a data source. The dialect follows the driver of the
// provider's current database.
func NewDataSource(provider db.Provider, registry *model.Registry, opts ...Option) (*DataSource, error) {
	database, err := db.CurrentDatabase(provider)
	if err != nil {
		return nil, err
	}
	dialect, err := query.DialectFor(database.Driver())
	if err != nil {
		return nil, err
	}
	if err := registry.Check(); err != nil {
		return nil, err
	}
	ds := &DataSource{
		provider:      provider,
		registry:      registry,
		compiler:      query.NewCompiler(dialect),
		transactions:  transaction.NewManager(provider),
		cacheTTL:      defaultCacheTTL,
		cacheEmptyTTL: defaultCacheEmptyTTL,
	}
	ds.resolver = relation.NewResolver(registry, ds.compiler, ds)
	for _, opt := range opts {
		opt(ds)
	}
	return ds, nil
}

// Registry returns the entity registry.
func (ds *DataSource) Registry() *model.Registry {
	return ds.registry
}

// Dialect returns the SQL dialect in use.
func (ds *DataSource) Dialect() query.Dialect {
	return ds.compiler.Dialect()
}

// BeginTransaction opens an explicit transaction.
func (ds *DataSource) BeginTransaction(ctx context.Context, opts *transaction.Options) (*transaction.Transaction, error) {
	return ds.transactions.Begin(ctx, opts)
}

// Repository returns the read-write repository of an entity.
func (ds *DataSource) Repository(name string) (*Repository, error) {
	entity, err := ds.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return &Repository{reader{ds: ds, entity: entity}}, nil
}

// ReadOnly returns a repository of an entity that rejects every mutation.
func (ds *DataSource) ReadOnly(name string) (*ReadableRepository, error) {
	entity, err := ds.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return &ReadableRepository{reader{ds: ds, entity: entity}}, nil
}

// Fetch implements relation.Fetcher.
func (ds *DataSource) Fetch(ctx context.Context, entity *model.Entity, f *filter.Filter, tx *transaction.Transaction) ([]model.Record, error) {
	return ds.find(ctx, entity, f, &Options{Transaction: tx})
}

// querier picks the connection of a call. An ended transaction is an error,
// never a silent fallback to the pool.
func (ds *DataSource) querier(opts *Options) (db.Querier, error) {
	if tx := opts.tx(); tx != nil {
		return tx.Querier()
	}
	return db.GetProviderQuerier(ds.provider, nil)
}

// callContext tags ctx with the transaction id of the call, if any.
func callContext(ctx context.Context, opts *Options) context.Context {
	if tx := opts.tx(); tx != nil {
		return tx.Context(ctx)
	}
	return ctx
}

// effectiveWhere ANDs the entity's default filter ahead of where.
func (ds *DataSource) effectiveWhere(entity *model.Entity, where filter.Where, opts *Options) filter.Where {
	if opts.skipDefaultFilter() || len(entity.DefaultFilter) == 0 {
		return where
	}
	return filter.And(entity.DefaultFilter, where)
}

func (ds *DataSource) queryRecords(ctx context.Context, q db.Querier, entity *model.Entity, op string, stmt sq.Sqlizer, fields []string) ([]model.Record, error) {
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return nil, errors.Wrapf(err, errors.InvalidFilter, "%s %s: %v", op, entity.Name, err)
	}
	start := time.Now()
	rows, err := q.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, ds.statementError(ctx, entity, op, sqlStr, err)
	}
	defer rows.Close()
	out, err := scanRecords(ds.Dialect(), entity, rows, fields)
	if err != nil {
		return nil, ds.statementError(ctx, entity, op, sqlStr, err)
	}
	logStatement(ctx, entity, op, sqlStr, len(args), start)
	return out, nil
}

func (ds *DataSource) execStatement(ctx context.Context, q db.Querier, entity *model.Entity, op string, stmt sq.Sqlizer) (db.Result, error) {
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return nil, errors.Wrapf(err, errors.InvalidFilter, "%s %s: %v", op, entity.Name, err)
	}
	start := time.Now()
	res, err := q.Exec(ctx, sqlStr, args...)
	if err != nil {
		return nil, ds.statementError(ctx, entity, op, sqlStr, err)
	}
	logStatement(ctx, entity, op, sqlStr, len(args), start)
	return res, nil
}

func logStatement(ctx context.Context, entity *model.Entity, op, sqlStr string, args int, start time.Time) {
	logger.Debug(ctx, "repository statement",
		zap.String("entity", entity.Name),
		zap.String("op", op),
		zap.String("sql", sqlStr),
		zap.Int("args", args),
		zap.Duration("elapsed", time.Since(start)),
	)
	metrics.ObserveStatement(entity.Name, op, time.Since(start))
}

// statementError maps a backend failure to a coded error that still wraps the
// driver error.
func (ds *DataSource) statementError(ctx context.Context, entity *model.Entity, op, sqlStr string, err error) error {
	logger.Error(ctx, "repository statement failed",
		zap.String("entity", entity.Name),
		zap.String("op", op),
		zap.String("sql", sqlStr),
		zap.Error(err),
	)
	metrics.StatementFailed(entity.Name, op)
	var out *errors.Error
	if key, ok := db.UniqueViolation(err); ok {
		out = errors.Wrapf(err, errors.RecordAlreadyExists, "%s %s: duplicate key %s", op, entity.Name, key)
	} else if db.ForeignKeyViolation(err) {
		out = errors.Wrapf(err, errors.ForeignKeyViolation, "%s %s: foreign key violation", op, entity.Name)
	} else {
		out = errors.Wrapf(err, errors.DatabaseError, "%s %s failed: %v", op, entity.Name, err)
	}
	return out.WithDetail("op", op).WithDetail("entity", entity.Name)
}

// withinTransaction runs fn on the caller's transaction, or on a fresh one
// that is committed when fn succeeds and rolled back otherwise.
func (ds *DataSource) withinTransaction(ctx context.Context, opts *Options, fn func(ctx context.Context, opts *Options) error) error {
	if opts.tx() != nil {
		return fn(ctx, opts)
	}
	tx, err := ds.transactions.Begin(ctx, nil)
	if err != nil {
		return err
	}
	inner := Options{Transaction: tx}
	if opts != nil {
		inner.ShouldReturn = opts.ShouldReturn
		inner.ShouldSkipDefaultFilter = opts.ShouldSkipDefaultFilter
	}
	if err := fn(tx.Context(ctx), &inner); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			logger.Error(tx.Context(ctx), "rollback after failed operation", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return nil
}
