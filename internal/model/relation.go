package model

import "fmt"

// RelationKind is the cardinality of an association.
type RelationKind string

const (
	// HasMany: target.ForeignKey references source.PrimaryKey; many targets.
	HasMany RelationKind = "hasMany"
	// HasOne: like HasMany but at most one target is attached.
	HasOne RelationKind = "hasOne"
	// BelongsTo: source.ForeignKey references target.PrimaryKey.
	BelongsTo RelationKind = "belongsTo"
	// HasManyThrough: many-to-many through a junction entity.
	HasManyThrough RelationKind = "hasManyThrough"
)

// Junction describes the intermediate entity of a many-to-many relation.
type Junction struct {
	// Entity is the junction entity name.
	Entity string `yaml:"entity"`
	// SourceKey is the junction column referencing the owning entity's key.
	SourceKey string `yaml:"sourceKey"`
	// TargetKey is the junction column referencing the target entity's key.
	TargetKey string `yaml:"targetKey"`
}

// Relation is one entry of an entity's relation map.
type Relation struct {
	Kind   RelationKind `yaml:"kind"`
	Target string       `yaml:"target"`
	// ForeignKey lives on the target for HasMany/HasOne and on the source for
	// BelongsTo. Unused for HasManyThrough.
	ForeignKey string    `yaml:"foreignKey"`
	Through    *Junction `yaml:"through"`
}

func (r Relation) validate() error {
	if r.Target == "" {
		return fmt.Errorf("target is required")
	}
	switch r.Kind {
	case HasMany, HasOne, BelongsTo:
		if r.ForeignKey == "" {
			return fmt.Errorf("%s needs a foreign key", r.Kind)
		}
	case HasManyThrough:
		if r.Through == nil || r.Through.Entity == "" || r.Through.SourceKey == "" || r.Through.TargetKey == "" {
			return fmt.Errorf("hasManyThrough needs a junction entity with source and target keys")
		}
	default:
		return fmt.Errorf("unknown relation kind %q", r.Kind)
	}
	return nil
}
