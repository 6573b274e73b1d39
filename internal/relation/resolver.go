// Package relation resolves include clauses by issuing one keyed
// secondary query per relation and stitching the results onto parent rows.
package relation

import (
	"context"
	"fmt"
	"slices"

	"github.com/VENIZIA-AI/ignis-sub007/internal/model"
	"github.com/VENIZIA-AI/ignis-sub007/internal/query"
	"github.com/VENIZIA-AI/ignis-sub007/internal/transaction"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/errors"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/filter"

	"golang.org/x/sync/errgroup"
)

// Fetcher runs a filter against an entity the same way a repository find
// does: default filter, projection, ordering and nested includes.
type Fetcher interface {
	Fetch(ctx context.Context, entity *model.Entity, f *filter.Filter, tx *transaction.Transaction) ([]model.Record, error)
}

// Resolver attaches related rows to parent rows.
type Resolver struct {
	registry *model.Registry
	compiler *query.Compiler
	fetcher  Fetcher
}

// NewResolver creates a resolver. Secondary queries go through fetcher.
func NewResolver(registry *model.Registry, compiler *query.Compiler, fetcher Fetcher) *Resolver {
	return &Resolver{registry: registry, compiler: compiler, fetcher: fetcher}
}

// Validate checks an include tree without touching the database: relation
// names, target entities and every scope filter must compile.
func (r *Resolver) Validate(entity *model.Entity, include []filter.Inclusion) error {
	for _, inc := range include {
		rel, target, err := r.lookup(entity, inc.Relation)
		if err != nil {
			return err
		}
		if rel.Kind == model.HasManyThrough {
			if _, err := r.registry.Get(rel.Through.Entity); err != nil {
				return err
			}
		}
		if inc.Scope == nil {
			continue
		}
		if _, err := r.compiler.Compile(target, inc.Scope); err != nil {
			return err
		}
		if err := r.Validate(target, inc.Scope.Include); err != nil {
			return err
		}
	}
	return nil
}

// RequiredKeys lists the parent columns the includes join on. A projection
// that omits them must be widened before the parent query runs.
func RequiredKeys(entity *model.Entity, include []filter.Inclusion) ([]string, error) {
	var keys []string
	seen := make(map[string]bool)
	for _, inc := range include {
		rel, ok := entity.Relation(inc.Relation)
		if !ok {
			return nil, unknownRelation(entity, inc.Relation)
		}
		key := entity.PrimaryKey
		if rel.Kind == model.BelongsTo {
			key = rel.ForeignKey
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Resolve returns copies of rows with every included relation attached under
// its name. To-many relations attach a list (empty, never nil); to-one
// relations attach a record or nil. Relations of one level are fetched
// concurrently unless they share a transaction's connection.
func (r *Resolver) Resolve(ctx context.Context, entity *model.Entity, rows []model.Record, include []filter.Inclusion, tx *transaction.Transaction) ([]model.Record, error) {
	out := make([]model.Record, len(rows))
	for i, row := range rows {
		out[i] = row.Clone()
	}
	if len(include) == 0 || len(rows) == 0 {
		if err := r.Validate(entity, include); err != nil {
			return nil, err
		}
		return out, nil
	}

	values := make([][]any, len(include))
	resolve := func(ctx context.Context, i int) error {
		v, err := r.resolveOne(ctx, entity, rows, include[i], tx)
		if err != nil {
			return err
		}
		values[i] = v
		return nil
	}

	if tx != nil {
		for i := range include {
			if err := resolve(ctx, i); err != nil {
				return nil, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i := range include {
			g.Go(func() error { return resolve(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	for i, inc := range include {
		for j := range out {
			out[j][inc.Relation] = values[i][j]
		}
	}
	return out, nil
}

func (r *Resolver) lookup(entity *model.Entity, name string) (model.Relation, *model.Entity, error) {
	rel, ok := entity.Relation(name)
	if !ok {
		return model.Relation{}, nil, unknownRelation(entity, name)
	}
	target, err := r.registry.Get(rel.Target)
	if err != nil {
		return model.Relation{}, nil, err
	}
	return rel, target, nil
}

func (r *Resolver) resolveOne(ctx context.Context, entity *model.Entity, parents []model.Record, inc filter.Inclusion, tx *transaction.Transaction) ([]any, error) {
	rel, target, err := r.lookup(entity, inc.Relation)
	if err != nil {
		return nil, err
	}
	switch rel.Kind {
	case model.HasMany:
		return r.resolveKeyed(ctx, parents, entity.PrimaryKey, target, rel.ForeignKey, inc.Scope, false, tx)
	case model.HasOne:
		return r.resolveKeyed(ctx, parents, entity.PrimaryKey, target, rel.ForeignKey, inc.Scope, true, tx)
	case model.BelongsTo:
		return r.resolveKeyed(ctx, parents, rel.ForeignKey, target, target.PrimaryKey, inc.Scope, true, tx)
	case model.HasManyThrough:
		return r.resolveThrough(ctx, entity, parents, rel, target, inc.Scope, tx)
	}
	return nil, errors.Newf(errors.UnknownRelation, "relation %q has unsupported kind %q", inc.Relation, rel.Kind)
}

// resolveKeyed covers the single hop relations: children whose childKey
// equals the parent's parentKey.
func (r *Resolver) resolveKeyed(ctx context.Context, parents []model.Record, parentKey string, target *model.Entity, childKey string, scope *filter.Filter, single bool, tx *transaction.Transaction) ([]any, error) {
	keys := collectKeys(parents, parentKey)
	var children []model.Record
	var added []string
	if len(keys) > 0 {
		var err error
		children, added, err = r.fetchScoped(ctx, target, scope, childKey, keys, tx)
		if err != nil {
			return nil, err
		}
	}

	groups := make(map[string][]model.Record)
	for _, child := range children {
		if v := child[childKey]; v != nil {
			k := groupKey(v)
			groups[k] = append(groups[k], child)
		}
	}

	values := make([]any, len(parents))
	for i, parent := range parents {
		var group []model.Record
		if v := parent[parentKey]; v != nil {
			group = groups[groupKey(v)]
		}
		values[i] = attach(paginate(group, scope), added, single)
	}
	return values, nil
}

// resolveThrough walks parent -> junction -> target. Targets keep the order
// of the scoped target query.
func (r *Resolver) resolveThrough(ctx context.Context, entity *model.Entity, parents []model.Record, rel model.Relation, target *model.Entity, scope *filter.Filter, tx *transaction.Transaction) ([]any, error) {
	junction, err := r.registry.Get(rel.Through.Entity)
	if err != nil {
		return nil, err
	}
	source, dest := rel.Through.SourceKey, rel.Through.TargetKey

	linked := make(map[string]map[string]bool)
	var children []model.Record
	var added []string
	if keys := collectKeys(parents, entity.PrimaryKey); len(keys) > 0 {
		links, err := r.fetcher.Fetch(ctx, junction, &filter.Filter{
			Where:  filter.Where{source: map[string]any{"inq": keys}},
			Fields: filter.Select(source, dest),
		}, tx)
		if err != nil {
			return nil, err
		}
		for _, link := range links {
			if link[source] == nil || link[dest] == nil {
				continue
			}
			s := groupKey(link[source])
			if linked[s] == nil {
				linked[s] = make(map[string]bool)
			}
			linked[s][groupKey(link[dest])] = true
		}
		if targetKeys := collectKeys(links, dest); len(targetKeys) > 0 {
			children, added, err = r.fetchScoped(ctx, target, scope, target.PrimaryKey, targetKeys, tx)
			if err != nil {
				return nil, err
			}
		}
	}

	values := make([]any, len(parents))
	for i, parent := range parents {
		var group []model.Record
		if v := parent[entity.PrimaryKey]; v != nil {
			targets := linked[groupKey(v)]
			for _, child := range children {
				if targets[groupKey(child[target.PrimaryKey])] {
					group = append(group, child)
				}
			}
		}
		values[i] = attach(paginate(group, scope), added, false)
	}
	return values, nil
}

// fetchScoped runs the scope against target restricted to childKey IN keys.
// Pagination is left out of the query and applied per parent afterwards.
func (r *Resolver) fetchScoped(ctx context.Context, target *model.Entity, scope *filter.Filter, childKey string, keys []any, tx *transaction.Transaction) ([]model.Record, []string, error) {
	f := scope.Clone()
	f.Limit, f.Skip, f.Offset = nil, nil, nil
	f.Where = filter.And(f.Where, filter.Where{childKey: map[string]any{"inq": keys}})
	var added []string
	f.Fields, added = EnsureFields(f.Fields, childKey)
	rows, err := r.fetcher.Fetch(ctx, target, f, tx)
	if err != nil {
		return nil, nil, err
	}
	return rows, added, nil
}

// EnsureFields widens a projection so it contains names. It returns the new
// projection and the names that were not selected before.
func EnsureFields(fields filter.Fields, names ...string) (filter.Fields, []string) {
	if fields.IsZero() {
		return fields, nil
	}
	var added []string
	if len(fields.Names) > 0 {
		out := append([]string(nil), fields.Names...)
		for _, name := range names {
			if !slices.Contains(out, name) {
				out = append(out, name)
				added = append(added, name)
			}
		}
		return filter.Fields{Names: out}, added
	}

	toggles := make(map[string]bool, len(fields.Toggles)+len(names))
	inclusive := false
	for k, v := range fields.Toggles {
		toggles[k] = v
		inclusive = inclusive || v
	}
	for _, name := range names {
		on, listed := toggles[name]
		switch {
		case inclusive && !on:
			toggles[name] = true
			added = append(added, name)
		case !inclusive && listed:
			delete(toggles, name)
			added = append(added, name)
		}
	}
	if len(toggles) == 0 {
		return filter.Fields{}, added
	}
	return filter.Fields{Toggles: toggles}, added
}

// Strip removes keys that were only selected to join on.
func Strip(rows []model.Record, keys []string) {
	if len(keys) == 0 {
		return
	}
	for _, row := range rows {
		for _, k := range keys {
			delete(row, k)
		}
	}
}

func attach(group []model.Record, added []string, single bool) any {
	if single {
		if len(group) == 0 {
			return nil
		}
		rec := group[0].Clone()
		Strip([]model.Record{rec}, added)
		return rec
	}
	out := make([]model.Record, len(group))
	for i, rec := range group {
		out[i] = rec.Clone()
	}
	Strip(out, added)
	return out
}

func paginate(group []model.Record, scope *filter.Filter) []model.Record {
	if scope == nil {
		return group
	}
	if skip := scope.OffsetValue(); skip != nil && *skip > 0 {
		if *skip >= len(group) {
			return nil
		}
		group = group[*skip:]
	}
	if scope.Limit != nil && *scope.Limit >= 0 && *scope.Limit < len(group) {
		group = group[:*scope.Limit]
	}
	return group
}

// collectKeys returns the distinct non-null values of key in first-seen order.
func collectKeys(rows []model.Record, key string) []any {
	seen := make(map[string]bool)
	var keys []any
	for _, row := range rows {
		v := row[key]
		if v == nil {
			continue
		}
		k := groupKey(v)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, v)
		}
	}
	return keys
}

// groupKey makes key values from different drivers comparable.
func groupKey(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

func unknownRelation(entity *model.Entity, name string) error {
	return errors.Newf(errors.UnknownRelation, "unknown relation %q on %s", name, entity.Name).
		WithDetail("relation", name).
		WithDetail("entity", entity.Name)
}
