package repository

import (
	"context"
	"time"

	"github.com/VENIZIA-AI/ignis-sub007/internal/model"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/errors"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/filter"
)

// softDeleteData returns the update that marks rows deleted or restored.
func (r *Repository) softDeleteData(op string, deleted bool) (model.Record, error) {
	if r.entity.SoftDelete == nil {
		return nil, errors.Newf(errors.OperationNotAllowed, "%s: %s has no soft delete column", op, r.entity.Name).
			WithDetail("op", op).
			WithDetail("entity", r.entity.Name)
	}
	name := r.entity.SoftDelete.Column
	col, _ := r.entity.Column(name)
	if col.Type == model.TypeBoolean {
		return model.Record{name: deleted}, nil
	}
	if deleted {
		return model.Record{name: time.Now().UTC()}, nil
	}
	return model.Record{name: nil}, nil
}

// SoftDeleteByID marks the row with the primary key id deleted.
func (r *Repository) SoftDeleteByID(ctx context.Context, id any, opts *Options) (*Result, error) {
	data, err := r.softDeleteData("softDeleteById", true)
	if err != nil {
		return nil, err
	}
	rows, n, err := r.ds.update(ctx, r.entity, "softDeleteById", filter.Where{r.entity.PrimaryKey: id}, data, opts)
	if err != nil {
		return nil, err
	}
	r.ds.invalidateIf(ctx, r.entity, n, opts)
	return r.ds.singleResult(rows, n, opts), nil
}

// SoftDeleteAll marks every row matching where deleted.
func (r *Repository) SoftDeleteAll(ctx context.Context, where filter.Where, opts *Options) (*BatchResult, error) {
	data, err := r.softDeleteData("softDeleteAll", true)
	if err != nil {
		return nil, err
	}
	rows, n, err := r.ds.update(ctx, r.entity, "softDeleteAll", where, data, opts)
	if err != nil {
		return nil, err
	}
	r.ds.invalidateIf(ctx, r.entity, n, opts)
	return r.ds.batchResult(rows, n, opts), nil
}

// RestoreByID clears the soft delete mark of a row. The default filter is
// skipped since it usually hides deleted rows.
func (r *Repository) RestoreByID(ctx context.Context, id any, opts *Options) (*Result, error) {
	data, err := r.softDeleteData("restoreById", false)
	if err != nil {
		return nil, err
	}
	restore := Options{ShouldSkipDefaultFilter: true}
	if opts != nil {
		restore.Transaction = opts.Transaction
		restore.ShouldReturn = opts.ShouldReturn
	}
	rows, n, err := r.ds.update(ctx, r.entity, "restoreById", filter.Where{r.entity.PrimaryKey: id}, data, &restore)
	if err != nil {
		return nil, err
	}
	r.ds.invalidateIf(ctx, r.entity, n, opts)
	return r.ds.singleResult(rows, n, &restore), nil
}
