package model_test

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/VENIZIA-AI/ignis-sub007/internal/model"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/errors"
)

func TestEntityValidateDefaults(t *testing.T) {
	e := &model.Entity{
		Name:    "Product",
		Columns: []model.Column{{Name: "id", Type: model.TypeInteger}, {Name: "name", Type: model.TypeString}},
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if e.Table != "Product" || e.PrimaryKey != "id" || e.IDStrategy != model.IDAuto {
		t.Fatalf("defaults not applied: %+v", e)
	}
	if c := e.PrimaryColumn(); c.Name != "id" {
		t.Fatalf("primary column = %+v", c)
	}
	if !e.HasColumn("name") || e.HasColumn("price") {
		t.Fatalf("HasColumn mismatch")
	}
}

func TestColumnLookupIsReadOnly(t *testing.T) {
	e := &model.Entity{
		Name:    "Product",
		Columns: []model.Column{{Name: "id", Type: model.TypeInteger}, {Name: "name", Type: model.TypeString}},
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c, ok := e.Column("name"); !ok || c.Type != model.TypeString {
				t.Errorf("Column(name) = %+v, %v", c, ok)
			}
			if _, ok := e.Column("price"); ok {
				t.Errorf("Column(price) found on unvalidated entity")
			}
		}()
	}
	wg.Wait()

	if err := e.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c, ok := e.Column("id"); !ok || c.Type != model.TypeInteger {
		t.Fatalf("Column(id) after validate = %+v, %v", c, ok)
	}
	if e.HasColumn("price") {
		t.Fatalf("HasColumn(price) after validate")
	}
}

func TestEntityValidateErrors(t *testing.T) {
	cols := func(extra ...model.Column) []model.Column {
		return append([]model.Column{{Name: "id", Type: model.TypeInteger}}, extra...)
	}
	tests := []struct {
		name   string
		entity model.Entity
		want   string
	}{
		{"no name", model.Entity{Columns: cols()}, "name is required"},
		{"no columns", model.Entity{Name: "a"}, "at least one column"},
		{"duplicate column", model.Entity{Name: "a", Columns: cols(model.Column{Name: "id", Type: model.TypeString})}, "duplicate"},
		{"bad type", model.Entity{Name: "a", Columns: cols(model.Column{Name: "x", Type: "money"})}, "unknown type"},
		{"array without element", model.Entity{Name: "a", Columns: cols(model.Column{Name: "x", Type: model.TypeArray})}, "element type"},
		{"missing pk", model.Entity{Name: "a", PrimaryKey: "uid", Columns: cols()}, "primary key"},
		{"bad strategy", model.Entity{Name: "a", IDStrategy: "sequence", Columns: cols()}, "id strategy"},
		{
			"soft delete on string",
			model.Entity{Name: "a", Columns: cols(model.Column{Name: "gone", Type: model.TypeString}), SoftDelete: &model.SoftDelete{Column: "gone"}},
			"timestamp or boolean",
		},
		{
			"relation shadows column",
			model.Entity{Name: "a", Columns: cols(), Relations: map[string]model.Relation{"id": {Kind: model.HasMany, Target: "b", ForeignKey: "a_id"}}},
			"shadows",
		},
		{
			"reserved relation name",
			model.Entity{Name: "a", Columns: cols(), Relations: map[string]model.Relation{"or": {Kind: model.HasMany, Target: "b", ForeignKey: "a_id"}}},
			"reserved",
		},
		{"schema on string column", model.Entity{Name: "a", Columns: cols(model.Column{Name: "x", Type: model.TypeString, Schema: `{"type":"object"}`})}, "only allowed on json"},
		{"broken schema", model.Entity{Name: "a", Columns: cols(model.Column{Name: "x", Type: model.TypeJSON, Schema: `{"type":`})}, "invalid schema"},
		{
			"through without junction",
			model.Entity{Name: "a", Columns: cols(), Relations: map[string]model.Relation{"bs": {Kind: model.HasManyThrough, Target: "b"}}},
			"junction",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.entity
			err := e.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRegistryCheck(t *testing.T) {
	product := &model.Entity{
		Name:    "Product",
		Columns: []model.Column{{Name: "id", Type: model.TypeInteger}},
		Relations: map[string]model.Relation{
			"reviews": {Kind: model.HasMany, Target: "Review", ForeignKey: "product_id"},
		},
	}
	if _, err := model.NewRegistry(product); err == nil {
		t.Fatalf("expected unknown target error")
	}

	product = &model.Entity{
		Name:    "Product",
		Columns: []model.Column{{Name: "id", Type: model.TypeInteger}},
		Relations: map[string]model.Relation{
			"reviews": {Kind: model.HasMany, Target: "Review", ForeignKey: "product_id"},
		},
	}
	review := &model.Entity{Name: "Review", Columns: []model.Column{{Name: "id", Type: model.TypeInteger}}}
	if _, err := model.NewRegistry(product, review); err == nil || !strings.Contains(err.Error(), "product_id") {
		t.Fatalf("expected missing foreign key error, got %v", err)
	}

	product = &model.Entity{
		Name:    "Product",
		Columns: []model.Column{{Name: "id", Type: model.TypeInteger}},
		Relations: map[string]model.Relation{
			"reviews": {Kind: model.HasMany, Target: "Review", ForeignKey: "product_id"},
		},
	}
	review = &model.Entity{
		Name:    "Review",
		Columns: []model.Column{{Name: "id", Type: model.TypeInteger}, {Name: "product_id", Type: model.TypeInteger}},
	}
	reg, err := model.NewRegistry(product, review)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if names := reg.Names(); len(names) != 2 || names[0] != "Product" || names[1] != "Review" {
		t.Fatalf("names = %v", names)
	}
	if _, err := reg.Get("Order"); !errors.Is(err, errors.UnknownEntity) {
		t.Fatalf("Get unknown error = %v", err)
	}
	if err := reg.Register(&model.Entity{Name: "Review", Columns: []model.Column{{Name: "id", Type: model.TypeInteger}}}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

const modelYAML = `
entities:
  - name: Product
    table: products
    idStrategy: uuid
    columns:
      - {name: id, type: string}
      - {name: name, type: string}
      - {name: tags, type: array, elementType: string}
      - {name: deleted_at, type: timestamp}
    softDelete: {column: deleted_at}
    defaultFilter:
      deleted_at: null
    relations:
      productChannels: {kind: hasMany, target: ProductChannel, foreignKey: product_id}
      channels:
        kind: hasManyThrough
        target: Channel
        through: {entity: ProductChannel, sourceKey: product_id, targetKey: channel_id}
  - name: Channel
    columns:
      - {name: id, type: integer, generated: true}
      - {name: name, type: string}
  - name: ProductChannel
    table: product_channels
    columns:
      - {name: id, type: integer, generated: true}
      - {name: product_id, type: string}
      - {name: channel_id, type: integer}
    relations:
      channel: {kind: belongsTo, target: Channel, foreignKey: channel_id}
`

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(modelYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	reg, err := model.LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	product, err := reg.Get("Product")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if product.Table != "products" || product.IDStrategy != model.IDUUID {
		t.Fatalf("product = %+v", product)
	}
	tags, ok := product.Column("tags")
	if !ok || tags.ElementType != model.TypeString {
		t.Fatalf("tags column = %+v", tags)
	}
	if v, ok := product.DefaultFilter["deleted_at"]; !ok || v != nil {
		t.Fatalf("default filter = %v", product.DefaultFilter)
	}
	rel, ok := product.Relation("channels")
	if !ok || rel.Kind != model.HasManyThrough || rel.Through.TargetKey != "channel_id" {
		t.Fatalf("channels relation = %+v", rel)
	}
	channel, _ := reg.Get("Channel")
	if channel.Table != "Channel" || !channel.Columns[0].Generated {
		t.Fatalf("channel = %+v", channel)
	}

	if _, err := model.Load([]byte("entities: [")); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := model.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestColumnValidateJSON(t *testing.T) {
	e := &model.Entity{
		Name: "Product",
		Columns: []model.Column{
			{Name: "id", Type: model.TypeInteger},
			{Name: "free", Type: model.TypeJSON},
			{Name: "details", Type: model.TypeJSON, Schema: `{
				"type": "object",
				"required": ["sku"],
				"properties": {"sku": {"type": "string"}, "weight": {"type": "number", "minimum": 0}}
			}`},
		},
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	details, _ := e.Column("details")
	free, _ := e.Column("free")

	tests := []struct {
		name    string
		col     model.Column
		doc     string
		wantErr bool
	}{
		{"matching document", details, `{"sku":"a-1","weight":2.5}`, false},
		{"missing required", details, `{"weight":1}`, true},
		{"wrong type", details, `{"sku":7}`, true},
		{"negative weight", details, `{"sku":"a","weight":-1}`, true},
		{"not an object", details, `[1,2]`, true},
		{"no schema", free, `[1,2]`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.col.ValidateJSON([]byte(tt.doc))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateJSON(%s) = %v, wantErr %v", tt.doc, err, tt.wantErr)
			}
		})
	}
}
