// Package repository is the CRUD and query façade over compiled filters,
// relation inclusion and explicit transactions.
package repository

import (
	"context"

	"github.com/VENIZIA-AI/ignis-sub007/internal/model"
	"github.com/VENIZIA-AI/ignis-sub007/internal/transaction"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/filter"
)

// Options tunes a single repository call.
type Options struct {
	// Transaction runs the call on the transaction's connection. A transaction
	// that is no longer active is rejected, never replaced by the pool.
	Transaction *transaction.Transaction
	// ShouldReturn controls whether mutations return the affected rows.
	// Default: true
	ShouldReturn *bool
	// ShouldSkipDefaultFilter disables the entity's default filter.
	ShouldSkipDefaultFilter bool
}

// Bool returns a pointer to v, for Options.ShouldReturn.
func Bool(v bool) *bool {
	return &v
}

func (o *Options) tx() *transaction.Transaction {
	if o == nil {
		return nil
	}
	return o.Transaction
}

func (o *Options) shouldReturn() bool {
	return o == nil || o.ShouldReturn == nil || *o.ShouldReturn
}

func (o *Options) skipDefaultFilter() bool {
	return o != nil && o.ShouldSkipDefaultFilter
}

// Result is the outcome of a single-row mutation. Data is nil when nothing
// matched or when the caller opted out of returning rows.
type Result struct {
	Count int64        `json:"count"`
	Data  model.Record `json:"data"`
}

// BatchResult is the outcome of a multi-row mutation. Data is an empty list
// when nothing matched and nil only when the caller opted out.
type BatchResult struct {
	Count int64          `json:"count"`
	Data  []model.Record `json:"data"`
}

// Range locates a page inside the full result set. End is inclusive and
// smaller than Start when the page is empty.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
	Total int64 `json:"total"`
}

// RangeResult is a page of rows with its range.
type RangeResult struct {
	Data  []model.Record `json:"data"`
	Range Range          `json:"range"`
}

// Readable is the query capability.
type Readable interface {
	Entity() *model.Entity
	Find(ctx context.Context, f *filter.Filter, opts *Options) ([]model.Record, error)
	FindOne(ctx context.Context, f *filter.Filter, opts *Options) (model.Record, error)
	FindByID(ctx context.Context, id any, f *filter.Filter, opts *Options) (model.Record, error)
	Count(ctx context.Context, where filter.Where, opts *Options) (int64, error)
	Exists(ctx context.Context, where filter.Where, opts *Options) (bool, error)
	FindWithRange(ctx context.Context, f *filter.Filter, opts *Options) (*RangeResult, error)
	BeginTransaction(ctx context.Context, opts *transaction.Options) (*transaction.Transaction, error)
}

// Writable is the mutation capability.
type Writable interface {
	Create(ctx context.Context, data model.Record, opts *Options) (*Result, error)
	CreateAll(ctx context.Context, data []model.Record, opts *Options) (*BatchResult, error)
	UpdateByID(ctx context.Context, id any, data model.Record, opts *Options) (*Result, error)
	UpdateAll(ctx context.Context, where filter.Where, data model.Record, opts *Options) (*BatchResult, error)
	UpdateBy(ctx context.Context, where filter.Where, data model.Record, opts *Options) (*BatchResult, error)
	DeleteByID(ctx context.Context, id any, opts *Options) (*Result, error)
	DeleteAll(ctx context.Context, where filter.Where, opts *Options) (*BatchResult, error)
}

// SoftDeletable marks rows deleted through the entity's soft-delete column.
type SoftDeletable interface {
	SoftDeleteByID(ctx context.Context, id any, opts *Options) (*Result, error)
	SoftDeleteAll(ctx context.Context, where filter.Where, opts *Options) (*BatchResult, error)
	RestoreByID(ctx context.Context, id any, opts *Options) (*Result, error)
}

// CRUD is a full read-write repository.
type CRUD interface {
	Readable
	Writable
}

var (
	_ CRUD          = (*Repository)(nil)
	_ SoftDeletable = (*Repository)(nil)
	_ CRUD          = (*ReadableRepository)(nil)
)

// Repository is the read-write repository of one entity.
type Repository struct {
	reader
}

func firstOrNil(rows []model.Record) model.Record {
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}
