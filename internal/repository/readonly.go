package repository

import (
	"context"

	"github.com/VENIZIA-AI/ignis-sub007/internal/model"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/errors"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/filter"
)

// ScopeReadOnly is the declared scope of a ReadableRepository.
const ScopeReadOnly = "read-only"

// ReadableRepository serves queries and rejects every mutation with
// OperationNotAllowed.
type ReadableRepository struct {
	reader
}

func (r *ReadableRepository) reject(op string) error {
	return errors.Newf(errors.OperationNotAllowed, "%s is not allowed on %s repository of %s", op, ScopeReadOnly, r.entity.Name).
		WithDetail("op", op).
		WithDetail("scope", ScopeReadOnly).
		WithDetail("entity", r.entity.Name)
}

func (r *ReadableRepository) Create(context.Context, model.Record, *Options) (*Result, error) {
	return nil, r.reject("create")
}

func (r *ReadableRepository) CreateAll(context.Context, []model.Record, *Options) (*BatchResult, error) {
	return nil, r.reject("createAll")
}

func (r *ReadableRepository) UpdateByID(context.Context, any, model.Record, *Options) (*Result, error) {
	return nil, r.reject("updateById")
}

func (r *ReadableRepository) UpdateAll(context.Context, filter.Where, model.Record, *Options) (*BatchResult, error) {
	return nil, r.reject("updateAll")
}

func (r *ReadableRepository) UpdateBy(context.Context, filter.Where, model.Record, *Options) (*BatchResult, error) {
	return nil, r.reject("updateBy")
}

func (r *ReadableRepository) DeleteByID(context.Context, any, *Options) (*Result, error) {
	return nil, r.reject("deleteById")
}

func (r *ReadableRepository) DeleteAll(context.Context, filter.Where, *Options) (*BatchResult, error) {
	return nil, r.reject("deleteAll")
}
