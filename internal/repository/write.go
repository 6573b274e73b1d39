package repository

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/VENIZIA-AI/ignis-sub007/internal/common/db"
	"github.com/VENIZIA-AI/ignis-sub007/internal/model"
	"github.com/VENIZIA-AI/ignis-sub007/internal/query"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/errors"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/filter"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// insertRow is a validated, encoded row ready for INSERT.
type insertRow struct {
	columns []string
	values  []any
	// id is the primary key when known before the insert.
	id any
}

// checkKeys rejects data keys that are not columns of entity.
func checkKeys(entity *model.Entity, data model.Record) error {
	for _, key := range slices.Sorted(maps.Keys(data)) {
		if !entity.HasColumn(key) {
			return errors.Newf(errors.InvalidParams, "unknown field %q on %s", key, entity.Name).
				WithDetail("field", key).
				WithDetail("entity", entity.Name)
		}
	}
	return nil
}

func (ds *DataSource) encodeInsert(entity *model.Entity, data model.Record) (*insertRow, error) {
	if err := checkKeys(entity, data); err != nil {
		return nil, err
	}
	row := &insertRow{}
	pk := entity.PrimaryKey
	for _, col := range entity.Columns {
		raw, ok := data[col.Name]
		if col.Name == pk && (!ok || raw == nil) {
			switch entity.IDStrategy {
			case model.IDUUID:
				raw, ok = uuid.NewString(), true
			case model.IDManual:
				return nil, errors.Newf(errors.InvalidParams, "%s requires a value for %q", entity.Name, pk).
					WithDetail("field", pk)
			}
		}
		if !ok || col.Generated {
			continue
		}
		v, err := encodeValue(ds.Dialect(), col, raw)
		if err != nil {
			return nil, err
		}
		if col.Name == pk {
			row.id = v
		}
		row.columns = append(row.columns, ds.Dialect().Quote(col.Name))
		row.values = append(row.values, v)
	}
	return row, nil
}

// encodeUpdate returns the SET clause of data keyed by quoted column.
func (ds *DataSource) encodeUpdate(entity *model.Entity, data model.Record) (map[string]any, error) {
	if err := checkKeys(entity, data); err != nil {
		return nil, err
	}
	sets := make(map[string]any, len(data))
	for _, col := range entity.Columns {
		raw, ok := data[col.Name]
		if !ok || col.Generated {
			continue
		}
		v, err := encodeValue(ds.Dialect(), col, raw)
		if err != nil {
			return nil, err
		}
		sets[ds.Dialect().Quote(col.Name)] = v
	}
	if len(sets) == 0 {
		return nil, errors.Newf(errors.InvalidParams, "no writable fields to update on %s", entity.Name)
	}
	return sets, nil
}

func (ds *DataSource) returning(entity *model.Entity) string {
	cols := make([]string, len(entity.Columns))
	for i, col := range entity.Columns {
		cols[i] = ds.Dialect().Quote(col.Name)
	}
	return "RETURNING " + strings.Join(cols, ", ")
}

func (ds *DataSource) insertStatement(entity *model.Entity, row *insertRow, returning bool) sq.Sqlizer {
	table := ds.compiler.Table(entity)
	suffix := ""
	if returning {
		suffix = " " + ds.returning(entity)
	}
	if len(row.columns) == 0 {
		if ds.Dialect().SupportsReturning() {
			return sq.Expr("INSERT INTO " + table + " DEFAULT VALUES" + suffix)
		}
		return sq.Expr("INSERT INTO " + table + " () VALUES ()")
	}
	b := sq.Insert(table).
		Columns(row.columns...).
		Values(row.values...).
		PlaceholderFormat(ds.Dialect().Placeholder())
	if returning {
		b = b.Suffix(ds.returning(entity))
	}
	return b
}

// insert writes one encoded row and returns it as stored when asked to.
func (ds *DataSource) insert(ctx context.Context, q db.Querier, entity *model.Entity, op string, row *insertRow, shouldReturn bool) (model.Record, error) {
	if shouldReturn && ds.Dialect().SupportsReturning() {
		rows, err := ds.queryRecords(ctx, q, entity, op, ds.insertStatement(entity, row, true), entity.ColumnNames())
		if err != nil {
			return nil, err
		}
		return firstOrNil(rows), nil
	}
	res, err := ds.execStatement(ctx, q, entity, op, ds.insertStatement(entity, row, false))
	if err != nil {
		return nil, err
	}
	if !shouldReturn {
		return nil, nil
	}
	id := row.id
	if id == nil {
		n, err := res.LastInsertId()
		if err != nil {
			return nil, errors.Wrapf(err, errors.DatabaseError, "%s %s: read generated key: %v", op, entity.Name, err)
		}
		id = n
	}
	rows, err := ds.selectByKeys(ctx, q, entity, op, []any{id})
	if err != nil {
		return nil, err
	}
	return firstOrNil(rows), nil
}

// selectByKeys loads full rows by primary key, ignoring the default filter.
func (ds *DataSource) selectByKeys(ctx context.Context, q db.Querier, entity *model.Entity, op string, keys []any) ([]model.Record, error) {
	if len(keys) == 0 {
		return []model.Record{}, nil
	}
	pred, err := ds.compiler.CompileWhere(entity, filter.Where{entity.PrimaryKey: map[string]any{"inq": keys}})
	if err != nil {
		return nil, err
	}
	fields := entity.ColumnNames()
	stmt := ds.compiler.SelectBuilder(entity, &query.Query{
		Where:  pred,
		Order:  []string{ds.compiler.Column(entity, entity.PrimaryKey) + " ASC"},
		Fields: fields,
	})
	return ds.queryRecords(ctx, q, entity, op, stmt, fields)
}

// matchingKeys returns the primary keys of the rows matching pred.
func (ds *DataSource) matchingKeys(ctx context.Context, q db.Querier, entity *model.Entity, op string, pred query.Predicate) ([]any, error) {
	pk := entity.PrimaryKey
	stmt := ds.compiler.SelectBuilder(entity, &query.Query{Where: pred, Fields: []string{pk}})
	rows, err := ds.queryRecords(ctx, q, entity, op, stmt, []string{pk})
	if err != nil {
		return nil, err
	}
	keys := make([]any, len(rows))
	for i, row := range rows {
		keys[i] = row[pk]
	}
	return keys, nil
}

func (ds *DataSource) keyPredicate(entity *model.Entity, keys []any) (query.Predicate, error) {
	return ds.compiler.CompileWhere(entity, filter.Where{entity.PrimaryKey: map[string]any{"inq": keys}})
}

// update applies data to every row matching where and returns the updated
// rows when the caller asked for them.
func (ds *DataSource) update(ctx context.Context, entity *model.Entity, op string, where filter.Where, data model.Record, opts *Options) ([]model.Record, int64, error) {
	sets, err := ds.encodeUpdate(entity, data)
	if err != nil {
		return nil, 0, err
	}
	pred, err := ds.compiler.CompileWhere(entity, ds.effectiveWhere(entity, where, opts))
	if err != nil {
		return nil, 0, err
	}
	updateWhere := func(pred query.Predicate) sq.UpdateBuilder {
		return sq.Update(ds.compiler.Table(entity)).
			SetMap(sets).
			Where(pred).
			PlaceholderFormat(ds.Dialect().Placeholder())
	}
	stmt := updateWhere(pred)

	if ds.Dialect().SupportsReturning() {
		q, err := ds.querier(opts)
		if err != nil {
			return nil, 0, err
		}
		ctx = callContext(ctx, opts)
		if !opts.shouldReturn() {
			res, err := ds.execStatement(ctx, q, entity, op, stmt)
			if err != nil {
				return nil, 0, err
			}
			n, err := res.RowsAffected()
			return nil, n, err
		}
		rows, err := ds.queryRecords(ctx, q, entity, op, stmt.Suffix(ds.returning(entity)), entity.ColumnNames())
		if err != nil {
			return nil, 0, err
		}
		return rows, int64(len(rows)), nil
	}

	// Without RETURNING the matched keys are captured first so the count does
	// not depend on whether the new values differ from the old ones.
	var rows []model.Record
	var count int64
	err = ds.withinTransaction(ctx, opts, func(ctx context.Context, opts *Options) error {
		q, err := ds.querier(opts)
		if err != nil {
			return err
		}
		keys, err := ds.matchingKeys(ctx, q, entity, op, pred)
		if err != nil || len(keys) == 0 {
			return err
		}
		byKey, err := ds.keyPredicate(entity, keys)
		if err != nil {
			return err
		}
		if _, err := ds.execStatement(ctx, q, entity, op, updateWhere(byKey)); err != nil {
			return err
		}
		count = int64(len(keys))
		if opts.shouldReturn() {
			rows, err = ds.selectByKeys(ctx, q, entity, op, keys)
		}
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	if rows == nil && opts.shouldReturn() {
		rows = []model.Record{}
	}
	return rows, count, nil
}

// remove deletes every row matching where.
func (ds *DataSource) remove(ctx context.Context, entity *model.Entity, op string, where filter.Where, opts *Options) ([]model.Record, int64, error) {
	pred, err := ds.compiler.CompileWhere(entity, ds.effectiveWhere(entity, where, opts))
	if err != nil {
		return nil, 0, err
	}
	deleteWhere := func(pred query.Predicate) sq.DeleteBuilder {
		return sq.Delete(ds.compiler.Table(entity)).
			Where(pred).
			PlaceholderFormat(ds.Dialect().Placeholder())
	}
	stmt := deleteWhere(pred)

	if !opts.shouldReturn() || ds.Dialect().SupportsReturning() {
		q, err := ds.querier(opts)
		if err != nil {
			return nil, 0, err
		}
		ctx = callContext(ctx, opts)
		if !opts.shouldReturn() {
			res, err := ds.execStatement(ctx, q, entity, op, stmt)
			if err != nil {
				return nil, 0, err
			}
			n, err := res.RowsAffected()
			return nil, n, err
		}
		rows, err := ds.queryRecords(ctx, q, entity, op, stmt.Suffix(ds.returning(entity)), entity.ColumnNames())
		if err != nil {
			return nil, 0, err
		}
		return rows, int64(len(rows)), nil
	}

	rows := []model.Record{}
	err = ds.withinTransaction(ctx, opts, func(ctx context.Context, opts *Options) error {
		q, err := ds.querier(opts)
		if err != nil {
			return err
		}
		fields := entity.ColumnNames()
		matched, err := ds.queryRecords(ctx, q, entity, op,
			ds.compiler.SelectBuilder(entity, &query.Query{Where: pred, Fields: fields}), fields)
		if err != nil || len(matched) == 0 {
			return err
		}
		keys := make([]any, len(matched))
		for i, row := range matched {
			keys[i] = row[entity.PrimaryKey]
		}
		byKey, err := ds.keyPredicate(entity, keys)
		if err != nil {
			return err
		}
		if _, err := ds.execStatement(ctx, q, entity, op, deleteWhere(byKey)); err != nil {
			return err
		}
		rows = matched
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return rows, int64(len(rows)), nil
}

func (ds *DataSource) batchResult(rows []model.Record, count int64, opts *Options) *BatchResult {
	if !opts.shouldReturn() {
		return &BatchResult{Count: count}
	}
	if rows == nil {
		rows = []model.Record{}
	}
	return &BatchResult{Count: count, Data: rows}
}

func (ds *DataSource) singleResult(rows []model.Record, count int64, opts *Options) *Result {
	if !opts.shouldReturn() {
		return &Result{Count: count}
	}
	return &Result{Count: count, Data: firstOrNil(rows)}
}

// Create inserts one row and returns it as stored.
func (r *Repository) Create(ctx context.Context, data model.Record, opts *Options) (*Result, error) {
	row, err := r.ds.encodeInsert(r.entity, data)
	if err != nil {
		return nil, err
	}
	q, err := r.ds.querier(opts)
	if err != nil {
		return nil, err
	}
	rec, err := r.ds.insert(callContext(ctx, opts), q, r.entity, "create", row, opts.shouldReturn())
	if err != nil {
		return nil, err
	}
	r.ds.invalidate(ctx, r.entity, opts)
	if !opts.shouldReturn() {
		return &Result{Count: 1}, nil
	}
	return &Result{Count: 1, Data: rec}, nil
}

// CreateAll inserts every row atomically: on the caller's transaction when
// one is given, otherwise on a transaction of its own.
func (r *Repository) CreateAll(ctx context.Context, data []model.Record, opts *Options) (*BatchResult, error) {
	encoded := make([]*insertRow, len(data))
	for i, d := range data {
		row, err := r.ds.encodeInsert(r.entity, d)
		if err != nil {
			return nil, err
		}
		encoded[i] = row
	}
	if len(encoded) == 0 {
		return r.ds.batchResult(nil, 0, opts), nil
	}

	created := make([]model.Record, 0, len(encoded))
	err := r.ds.withinTransaction(ctx, opts, func(ctx context.Context, inner *Options) error {
		q, err := r.ds.querier(inner)
		if err != nil {
			return err
		}
		for _, row := range encoded {
			rec, err := r.ds.insert(callContext(ctx, inner), q, r.entity, "createAll", row, inner.shouldReturn())
			if err != nil {
				return err
			}
			created = append(created, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.ds.invalidate(ctx, r.entity, opts)
	return r.ds.batchResult(created, int64(len(created)), opts), nil
}

// UpdateByID updates the row with the primary key id.
func (r *Repository) UpdateByID(ctx context.Context, id any, data model.Record, opts *Options) (*Result, error) {
	rows, n, err := r.ds.update(ctx, r.entity, "updateById", filter.Where{r.entity.PrimaryKey: id}, data, opts)
	if err != nil {
		return nil, err
	}
	r.ds.invalidateIf(ctx, r.entity, n, opts)
	return r.ds.singleResult(rows, n, opts), nil
}

// UpdateAll updates every row matching where. An empty where matches all rows.
func (r *Repository) UpdateAll(ctx context.Context, where filter.Where, data model.Record, opts *Options) (*BatchResult, error) {
	rows, n, err := r.ds.update(ctx, r.entity, "updateAll", where, data, opts)
	if err != nil {
		return nil, err
	}
	r.ds.invalidateIf(ctx, r.entity, n, opts)
	return r.ds.batchResult(rows, n, opts), nil
}

// UpdateBy is an alias of UpdateAll.
func (r *Repository) UpdateBy(ctx context.Context, where filter.Where, data model.Record, opts *Options) (*BatchResult, error) {
	return r.UpdateAll(ctx, where, data, opts)
}

// DeleteByID deletes the row with the primary key id.
func (r *Repository) DeleteByID(ctx context.Context, id any, opts *Options) (*Result, error) {
	rows, n, err := r.ds.remove(ctx, r.entity, "deleteById", filter.Where{r.entity.PrimaryKey: id}, opts)
	if err != nil {
		return nil, err
	}
	r.ds.invalidateIf(ctx, r.entity, n, opts)
	return r.ds.singleResult(rows, n, opts), nil
}

// DeleteAll deletes every row matching where. An empty where matches all rows.
func (r *Repository) DeleteAll(ctx context.Context, where filter.Where, opts *Options) (*BatchResult, error) {
	rows, n, err := r.ds.remove(ctx, r.entity, "deleteAll", where, opts)
	if err != nil {
		return nil, err
	}
	r.ds.invalidateIf(ctx, r.entity, n, opts)
	return r.ds.batchResult(rows, n, opts), nil
}
