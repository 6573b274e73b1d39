package repository

import (
	"context"

	"github.com/VENIZIA-AI/ignis-sub007/internal/model"
	"github.com/VENIZIA-AI/ignis-sub007/internal/query"
	"github.com/VENIZIA-AI/ignis-sub007/internal/relation"
	"github.com/VENIZIA-AI/ignis-sub007/internal/transaction"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/filter"

	sq "github.com/Masterminds/squirrel"
	"github.com/zeromicro/go-zero/core/mr"
)

// reader carries the query operations shared by every repository kind.
type reader struct {
	ds     *DataSource
	entity *model.Entity
}

// findPlan is a filter compiled against one entity, ready to run.
type findPlan struct {
	query   *query.Query
	include []filter.Inclusion
	// added are join keys selected only for inclusion.
	added []string
}

// plan validates and compiles f, including every nested include, before any
// statement reaches the database.
func (ds *DataSource) plan(entity *model.Entity, f *filter.Filter, opts *Options) (*findPlan, error) {
	scoped := f.Clone()
	scoped.Where = ds.effectiveWhere(entity, scoped.Where, opts)
	keys, err := relation.RequiredKeys(entity, scoped.Include)
	if err != nil {
		return nil, err
	}
	var added []string
	scoped.Fields, added = relation.EnsureFields(scoped.Fields, keys...)
	q, err := ds.compiler.Compile(entity, scoped)
	if err != nil {
		return nil, err
	}
	if err := ds.resolver.Validate(entity, scoped.Include); err != nil {
		return nil, err
	}
	return &findPlan{query: q, include: scoped.Include, added: added}, nil
}

func (ds *DataSource) find(ctx context.Context, entity *model.Entity, f *filter.Filter, opts *Options) ([]model.Record, error) {
	p, err := ds.plan(entity, f, opts)
	if err != nil {
		return nil, err
	}
	q, err := ds.querier(opts)
	if err != nil {
		return nil, err
	}
	ctx = callContext(ctx, opts)
	rows, err := ds.queryRecords(ctx, q, entity, "find", ds.compiler.SelectBuilder(entity, p.query), p.query.Fields)
	if err != nil {
		return nil, err
	}
	if len(p.include) == 0 {
		return rows, nil
	}
	rows, err = ds.resolver.Resolve(ctx, entity, rows, p.include, opts.tx())
	if err != nil {
		return nil, err
	}
	relation.Strip(rows, p.added)
	return rows, nil
}

func (ds *DataSource) count(ctx context.Context, entity *model.Entity, where filter.Where, opts *Options) (int64, error) {
	pred, err := ds.compiler.CompileWhere(entity, ds.effectiveWhere(entity, where, opts))
	if err != nil {
		return 0, err
	}
	q, err := ds.querier(opts)
	if err != nil {
		return 0, err
	}
	ctx = callContext(ctx, opts)
	sqlStr, args, err := ds.compiler.CountBuilder(entity, pred).ToSql()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.QueryRow(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, ds.statementError(ctx, entity, "count", sqlStr, err)
	}
	return n, nil
}

// Entity returns the entity descriptor of the repository.
func (r *reader) Entity() *model.Entity {
	return r.entity
}

// BeginTransaction opens an explicit transaction on the repository's data source.
func (r *reader) BeginTransaction(ctx context.Context, opts *transaction.Options) (*transaction.Transaction, error) {
	return r.ds.BeginTransaction(ctx, opts)
}

// Find returns the rows matching f, with includes attached.
func (r *reader) Find(ctx context.Context, f *filter.Filter, opts *Options) ([]model.Record, error) {
	return r.ds.find(ctx, r.entity, f, opts)
}

// FindOne returns the first row matching f, or nil.
func (r *reader) FindOne(ctx context.Context, f *filter.Filter, opts *Options) (model.Record, error) {
	one := f.Clone()
	one.Limit = filter.Int(1)
	rows, err := r.ds.find(ctx, r.entity, one, opts)
	if err != nil {
		return nil, err
	}
	return firstOrNil(rows), nil
}

// FindByID returns the row with the primary key id, or nil. The key equality
// is merged ahead of any where in f.
func (r *reader) FindByID(ctx context.Context, id any, f *filter.Filter, opts *Options) (model.Record, error) {
	if r.cacheable(f, opts) {
		return r.findByIDCached(ctx, id, opts)
	}
	return r.findByID(ctx, id, f, opts)
}

func (r *reader) findByID(ctx context.Context, id any, f *filter.Filter, opts *Options) (model.Record, error) {
	one := f.Clone()
	one.Where = filter.And(filter.Where{r.entity.PrimaryKey: id}, one.Where)
	one.Limit = filter.Int(1)
	one.Skip, one.Offset = nil, nil
	rows, err := r.ds.find(ctx, r.entity, one, opts)
	if err != nil {
		return nil, err
	}
	return firstOrNil(rows), nil
}

// Count returns the number of rows matching where.
func (r *reader) Count(ctx context.Context, where filter.Where, opts *Options) (int64, error) {
	return r.ds.count(ctx, r.entity, where, opts)
}

// Exists reports whether any row matches where.
func (r *reader) Exists(ctx context.Context, where filter.Where, opts *Options) (bool, error) {
	pred, err := r.ds.compiler.CompileWhere(r.entity, r.ds.effectiveWhere(r.entity, where, opts))
	if err != nil {
		return false, err
	}
	q, err := r.ds.querier(opts)
	if err != nil {
		return false, err
	}
	ctx = callContext(ctx, opts)
	pk := r.entity.PrimaryKey
	stmt := sq.Select(r.ds.compiler.Column(r.entity, pk)).
		From(r.ds.compiler.Table(r.entity)).
		Where(pred).
		Limit(1).
		PlaceholderFormat(r.ds.Dialect().Placeholder())
	rows, err := r.ds.queryRecords(ctx, q, r.entity, "exists", stmt, []string{pk})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// FindWithRange returns a page of rows with its position in the full result
// set. Outside a transaction the page and the total are read concurrently.
func (r *reader) FindWithRange(ctx context.Context, f *filter.Filter, opts *Options) (*RangeResult, error) {
	var where filter.Where
	if f != nil {
		where = f.Where
	}
	var (
		rows  []model.Record
		total int64
	)
	page := func() (err error) {
		rows, err = r.Find(ctx, f, opts)
		return err
	}
	count := func() (err error) {
		total, err = r.Count(ctx, where, opts)
		return err
	}

	if opts.tx() != nil {
		if err := page(); err != nil {
			return nil, err
		}
		if err := count(); err != nil {
			return nil, err
		}
	} else if err := mr.Finish(page, count); err != nil {
		return nil, err
	}

	var start int64
	if skip := f.Clone().OffsetValue(); skip != nil && *skip > 0 {
		start = int64(*skip)
	}
	return &RangeResult{
		Data:  rows,
		Range: Range{Start: start, End: start + int64(len(rows)) - 1, Total: total},
	}, nil
}
