package model

import (
	"fmt"
	"strings"

	"github.com/VENIZIA-AI/ignis-sub007/pkg/filter"

	"github.com/xeipuuv/gojsonschema"
)

// ColumnType is the semantic type of a column as seen by the filter compiler.
type ColumnType string

const (
	TypeString    ColumnType = "string"
	TypeNumber    ColumnType = "number"
	TypeInteger   ColumnType = "integer"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
	TypeJSON      ColumnType = "json"
	TypeArray     ColumnType = "array"
)

// IsNumeric reports whether values of the type compare numerically.
func (t ColumnType) IsNumeric() bool {
	return t == TypeNumber || t == TypeInteger
}

func (t ColumnType) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeTimestamp, TypeJSON, TypeArray:
		return true
	}
	return false
}

// IDStrategy decides who produces primary key values on create.
type IDStrategy string

const (
	// IDAuto leaves the key to the database (serial / auto increment).
	IDAuto IDStrategy = "auto"
	// IDUUID generates a random UUID when the caller does not provide one.
	IDUUID IDStrategy = "uuid"
	// IDManual requires the caller to supply the key.
	IDManual IDStrategy = "manual"
)

// Column describes one table column.
type Column struct {
	Name string     `yaml:"name"`
	Type ColumnType `yaml:"type"`
	// ElementType is the element type of an array column.
	ElementType ColumnType `yaml:"elementType"`
	// Generated columns are filled by the database and never written.
	Generated bool `yaml:"generated"`
	// Schema is an optional JSON Schema that json column values must match on
	// write.
	Schema string `yaml:"schema"`

	schema *gojsonschema.Schema
}

// SoftDelete configures the soft-delete column of an entity. Timestamp
// columns are set to the deletion time, boolean columns to true.
type SoftDelete struct {
	Column string `yaml:"column"`
}

// Entity is the static metadata for one table.
type Entity struct {
	Name       string              `yaml:"name"`
	Table      string              `yaml:"table"`
	PrimaryKey string              `yaml:"primaryKey"`
	IDStrategy IDStrategy          `yaml:"idStrategy"`
	Columns    []Column            `yaml:"columns"`
	Relations  map[string]Relation `yaml:"relations"`
	// DefaultFilter is AND-ed into every where unless a caller opts out.
	DefaultFilter filter.Where `yaml:"defaultFilter"`
	SoftDelete    *SoftDelete  `yaml:"softDelete"`

	// columnIndex is written only by Validate; lookups never mutate the entity.
	columnIndex map[string]int
}

// Column looks up a column by name.
func (e *Entity) Column(name string) (Column, bool) {
	if e.columnIndex == nil {
		for _, c := range e.Columns {
			if c.Name == name {
				return c, true
			}
		}
		return Column{}, false
	}
	idx, ok := e.columnIndex[name]
	if !ok {
		return Column{}, false
	}
	return e.Columns[idx], true
}

// HasColumn reports whether the entity declares the column.
func (e *Entity) HasColumn(name string) bool {
	_, ok := e.Column(name)
	return ok
}

// ColumnNames returns all column names in declaration order.
func (e *Entity) ColumnNames() []string {
	names := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		names[i] = c.Name
	}
	return names
}

// Relation looks up a relation by name.
func (e *Entity) Relation(name string) (Relation, bool) {
	rel, ok := e.Relations[name]
	return rel, ok
}

// PrimaryColumn returns the primary key column.
func (e *Entity) PrimaryColumn() Column {
	c, _ := e.Column(e.PrimaryKey)
	return c
}

func (e *Entity) buildIndex() {
	e.columnIndex = make(map[string]int, len(e.Columns))
	for i, c := range e.Columns {
		e.columnIndex[c.Name] = i
	}
}

// Validate checks the descriptor for internal consistency and fills defaults.
func (e *Entity) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("entity name is required")
	}
	if e.Table == "" {
		e.Table = e.Name
	}
	if e.PrimaryKey == "" {
		e.PrimaryKey = "id"
	}
	if e.IDStrategy == "" {
		e.IDStrategy = IDAuto
	}
	switch e.IDStrategy {
	case IDAuto, IDUUID, IDManual:
	default:
		return fmt.Errorf("entity %s: unknown id strategy %q", e.Name, e.IDStrategy)
	}
	if len(e.Columns) == 0 {
		return fmt.Errorf("entity %s: at least one column is required", e.Name)
	}

	e.buildIndex()
	if len(e.columnIndex) != len(e.Columns) {
		return fmt.Errorf("entity %s: duplicate column names", e.Name)
	}
	for i := range e.Columns {
		c := &e.Columns[i]
		if !c.Type.valid() {
			return fmt.Errorf("entity %s: column %s has unknown type %q", e.Name, c.Name, c.Type)
		}
		if c.Type == TypeArray && !c.ElementType.valid() {
			return fmt.Errorf("entity %s: array column %s needs an element type", e.Name, c.Name)
		}
		if err := c.compileSchema(); err != nil {
			return fmt.Errorf("entity %s: %w", e.Name, err)
		}
	}
	if !e.HasColumn(e.PrimaryKey) {
		return fmt.Errorf("entity %s: primary key %s is not a column", e.Name, e.PrimaryKey)
	}
	if e.SoftDelete != nil {
		c, ok := e.Column(e.SoftDelete.Column)
		if !ok {
			return fmt.Errorf("entity %s: soft delete column %s is not a column", e.Name, e.SoftDelete.Column)
		}
		if c.Type != TypeTimestamp && c.Type != TypeBoolean {
			return fmt.Errorf("entity %s: soft delete column %s must be a timestamp or boolean", e.Name, c.Name)
		}
	}
	for name, rel := range e.Relations {
		if e.HasColumn(name) {
			return fmt.Errorf("entity %s: relation %s shadows a column", e.Name, name)
		}
		if name == "and" || name == "or" || name == "not" {
			return fmt.Errorf("entity %s: relation name %s is reserved", e.Name, name)
		}
		if err := rel.validate(); err != nil {
			return fmt.Errorf("entity %s: relation %s: %w", e.Name, name, err)
		}
	}
	return nil
}
