package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/VENIZIA-AI/ignis-sub007/internal/common/cache"
	"github.com/VENIZIA-AI/ignis-sub007/internal/model"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/filter"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/utils/logger"

	"go.uber.org/zap"
)

// Cached FindByID entries are keyed by an entity generation. Every committed
// mutation bumps the generation, so stale entries are never read again and
// simply expire.

func generationKey(entity *model.Entity) string {
	return "entity:" + entity.Name + ":generation"
}

func recordKey(entity *model.Entity, generation int64, id any) string {
	return fmt.Sprintf("entity:%s:g%d:id:%v", entity.Name, generation, id)
}

// cacheable reports whether a FindByID call may be served from the cache:
// plain lookups outside transactions only.
func (r *reader) cacheable(f *filter.Filter, opts *Options) bool {
	if r.ds.cache == nil || opts.tx() != nil || opts.skipDefaultFilter() {
		return false
	}
	if f == nil {
		return true
	}
	return len(f.Where) == 0 && f.Fields.IsZero() && len(f.Order) == 0 &&
		len(f.Include) == 0 && f.Limit == nil && f.OffsetValue() == nil
}

func (ds *DataSource) generation(ctx context.Context, entity *model.Entity) (int64, error) {
	raw, err := ds.cache.Get(ctx, generationKey(entity))
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (r *reader) findByIDCached(ctx context.Context, id any, opts *Options) (model.Record, error) {
	gen, err := r.ds.generation(ctx, r.entity)
	if err != nil {
		logger.Warn(ctx, "entity cache unavailable", zap.String("entity", r.entity.Name), zap.Error(err))
		return r.findByID(ctx, id, nil, opts)
	}
	return cache.GetWithCached(ctx, r.ds.cache, recordKey(r.entity, gen, id), r.ds.cacheTTL, r.ds.cacheEmptyTTL,
		func(rec model.Record) bool { return rec == nil },
		func(rec model.Record) (string, error) {
			data, err := json.Marshal(rec)
			return string(data), err
		},
		r.restoreRecord,
		func(ctx context.Context) (model.Record, error) {
			return r.findByID(ctx, id, nil, opts)
		},
	)
}

func (r *reader) restoreRecord(data string) (model.Record, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	rec := make(model.Record, len(raw))
	for name, v := range raw {
		col, ok := r.entity.Column(name)
		if !ok {
			return nil, fmt.Errorf("cached record has unknown field %q", name)
		}
		restored, err := restoreValue(r.ds.Dialect(), col, v)
		if err != nil {
			return nil, err
		}
		rec[name] = restored
	}
	return rec, nil
}

// invalidate bumps the entity generation now, or after commit when the
// mutation ran inside a caller's transaction.
func (ds *DataSource) invalidate(ctx context.Context, entity *model.Entity, opts *Options) {
	if ds.cache == nil {
		return
	}
	bump := func(ctx context.Context) {
		if _, err := ds.cache.Incr(ctx, generationKey(entity)); err != nil {
			logger.Warn(ctx, "entity cache invalidation failed", zap.String("entity", entity.Name), zap.Error(err))
		}
	}
	if tx := opts.tx(); tx != nil {
		tx.OnCommit(bump)
		return
	}
	bump(ctx)
}

func (ds *DataSource) invalidateIf(ctx context.Context, entity *model.Entity, affected int64, opts *Options) {
	if affected > 0 {
		ds.invalidate(ctx, entity, opts)
	}
}
