package repository_test

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/VENIZIA-AI/ignis-sub007/internal/common/db"
	"github.com/VENIZIA-AI/ignis-sub007/internal/model"
	"github.com/VENIZIA-AI/ignis-sub007/internal/repository"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/errors"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/filter"
)

var schema = []string{
	`CREATE TABLE items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		group_name TEXT NOT NULL DEFAULT '',
		"nValue" INTEGER,
		tags TEXT,
		meta TEXT,
		created_at DATETIME,
		deleted_at DATETIME
	)`,
	`CREATE TABLE notes (id TEXT PRIMARY KEY, body TEXT NOT NULL, pinned BOOLEAN NOT NULL DEFAULT 0)`,
	`CREATE TABLE products (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)`,
	`CREATE TABLE channels (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)`,
	`CREATE TABLE product_channels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products(id),
		channel_id INTEGER NOT NULL REFERENCES channels(id)
	)`,
}

func catalog(t *testing.T) *model.Registry {
	t.Helper()
	pk := model.Column{Name: "id", Type: model.TypeInteger, Generated: true}
	str := func(name string) model.Column { return model.Column{Name: name, Type: model.TypeString} }
	integer := func(name string) model.Column { return model.Column{Name: name, Type: model.TypeInteger} }
	reg, err := model.NewRegistry(
		&model.Entity{
			Name:  "Item",
			Table: "items",
			Columns: []model.Column{
				pk, str("code"), str("group_name"), integer("nValue"),
				{Name: "tags", Type: model.TypeArray, ElementType: model.TypeString},
				{Name: "meta", Type: model.TypeJSON, Schema: `{"type": "object", "properties": {"level": {"type": "integer"}}}`},
				{Name: "created_at", Type: model.TypeTimestamp},
				{Name: "deleted_at", Type: model.TypeTimestamp},
			},
			DefaultFilter: filter.Where{"deleted_at": nil},
			SoftDelete:    &model.SoftDelete{Column: "deleted_at"},
		},
		&model.Entity{
			Name:       "Note",
			Table:      "notes",
			IDStrategy: model.IDUUID,
			Columns:    []model.Column{str("id"), str("body"), {Name: "pinned", Type: model.TypeBoolean}},
		},
		&model.Entity{
			Name:    "Product",
			Table:   "products",
			Columns: []model.Column{pk, str("name")},
			Relations: map[string]model.Relation{
				"junctionRows": {Kind: model.HasMany, Target: "ProductChannel", ForeignKey: "product_id"},
				"channels": {Kind: model.HasManyThrough, Target: "Channel", Through: &model.Junction{
					Entity: "ProductChannel", SourceKey: "product_id", TargetKey: "channel_id",
				}},
			},
		},
		&model.Entity{Name: "Channel", Table: "channels", Columns: []model.Column{pk, str("name")}},
		&model.Entity{
			Name:      "ProductChannel",
			Table:     "product_channels",
			Columns:   []model.Column{pk, integer("product_id"), integer("channel_id")},
			Relations: map[string]model.Relation{"channel": {Kind: model.BelongsTo, Target: "Channel", ForeignKey: "channel_id"}},
		},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func openDatabase(t *testing.T) *db.SQLDatabase {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repo.db")
	database, err := db.NewSQLite("file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	for _, stmt := range schema {
		if _, err := database.Exec(context.Background(), stmt); err != nil {
			t.Fatalf("schema: %v", err)
		}
	}
	return database
}

func newDataSource(t *testing.T, opts ...repository.Option) (*repository.DataSource, *db.SQLDatabase) {
	t.Helper()
	database := openDatabase(t)
	ds, err := repository.NewDataSource(db.NewStaticProvider(database), catalog(t), opts...)
	if err != nil {
		t.Fatalf("data source: %v", err)
	}
	return ds, database
}

func mustRepo(t *testing.T, ds *repository.DataSource, name string) *repository.Repository {
	t.Helper()
	repo, err := ds.Repository(name)
	if err != nil {
		t.Fatalf("repository %s: %v", name, err)
	}
	return repo
}

func seedItems(t *testing.T, repo *repository.Repository, values ...int64) []model.Record {
	t.Helper()
	out := make([]model.Record, len(values))
	for i, v := range values {
		res, err := repo.Create(context.Background(), model.Record{
			"code":       "code-" + strings.Repeat("x", i+1),
			"group_name": "g",
			"nValue":     v,
		}, nil)
		if err != nil {
			t.Fatalf("create %d: %v", v, err)
		}
		out[i] = res.Data
	}
	return out
}

func nValues(rows []model.Record) []int64 {
	out := make([]int64, len(rows))
	for i, row := range rows {
		out[i], _ = row["nValue"].(int64)
	}
	return out
}

func TestFindOrderingAndPagination(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDataSource(t)
	repo := mustRepo(t, ds, "Item")
	seedItems(t, repo, 300, 100, 200, 400, 500)

	asc, err := repo.Find(ctx, &filter.Filter{Where: filter.Where{"group_name": "g"}, Order: filter.Order{"nValue ASC"}}, nil)
	if err != nil {
		t.Fatalf("find asc: %v", err)
	}
	if got := nValues(asc); !reflect.DeepEqual(got, []int64{100, 200, 300, 400, 500}) {
		t.Fatalf("asc = %v", got)
	}

	page, err := repo.Find(ctx, &filter.Filter{
		Where: filter.Where{"group_name": "g"},
		Order: filter.Order{"nValue ASC"},
		Skip:  filter.Int(2),
		Limit: filter.Int(2),
	}, nil)
	if err != nil {
		t.Fatalf("find page: %v", err)
	}
	if got := nValues(page); !reflect.DeepEqual(got, []int64{300, 400}) {
		t.Fatalf("page = %v", got)
	}

	desc, err := repo.Find(ctx, &filter.Filter{Order: filter.Order{"nValue desc"}}, nil)
	if err != nil {
		t.Fatalf("find desc: %v", err)
	}
	want := nValues(asc)
	for i, j := 0, len(want)-1; i < j; i, j = i+1, j-1 {
		want[i], want[j] = want[j], want[i]
	}
	if got := nValues(desc); !reflect.DeepEqual(got, want) {
		t.Fatalf("desc = %v, want %v", got, want)
	}

	full := nValues(asc)
	for skip := 0; skip <= 6; skip++ {
		for limit := 0; limit <= 6; limit++ {
			rows, err := repo.Find(ctx, &filter.Filter{
				Order: filter.Order{"nValue ASC"},
				Skip:  filter.Int(skip),
				Limit: filter.Int(limit),
			}, nil)
			if err != nil {
				t.Fatalf("skip=%d limit=%d: %v", skip, limit, err)
			}
			lo, hi := min(skip, len(full)), min(skip+limit, len(full))
			if got := nValues(rows); !reflect.DeepEqual(got, full[lo:hi]) {
				t.Fatalf("skip=%d limit=%d got %v, want %v", skip, limit, got, full[lo:hi])
			}
		}
	}
}

func TestSetAndArrayOperatorBoundaries(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDataSource(t)
	repo := mustRepo(t, ds, "Item")
	for i, tags := range [][]string{{"a", "b"}, {"b"}, {}} {
		if _, err := repo.Create(ctx, model.Record{"code": strings.Repeat("t", i+1), "tags": tags}, nil); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	tests := []struct {
		name  string
		where filter.Where
		want  int
	}{
		{"empty where", filter.Where{}, 3},
		{"in empty", filter.Where{"code": map[string]any{"in": []any{}}}, 0},
		{"nin empty", filter.Where{"code": map[string]any{"nin": []any{}}}, 3},
		{"contains empty", filter.Where{"tags": map[string]any{"contains": []any{}}}, 3},
		{"overlaps empty", filter.Where{"tags": map[string]any{"overlaps": []any{}}}, 0},
		{"containedBy empty", filter.Where{"tags": map[string]any{"containedBy": []any{}}}, 1},
		{"contains b", filter.Where{"tags": map[string]any{"contains": []any{"b"}}}, 2},
		{"overlaps a or z", filter.Where{"tags": map[string]any{"overlaps": []any{"a", "z"}}}, 1},
		{"containedBy a b", filter.Where{"tags": map[string]any{"containedBy": []any{"a", "b"}}}, 3},
		{"or with not", filter.Where{"or": []any{
			map[string]any{"code": "t"},
			map[string]any{"not": map[string]any{"code": map[string]any{"like": "t%"}}},
		}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := repo.Find(ctx, &filter.Filter{Where: tt.where}, nil)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if len(rows) != tt.want {
				t.Fatalf("got %d rows, want %d", len(rows), tt.want)
			}
			n, err := repo.Count(ctx, tt.where, nil)
			if err != nil || n != int64(tt.want) {
				t.Fatalf("count = %d, %v", n, err)
			}
		})
	}
}

func TestCreateFindByIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDataSource(t)
	repo := mustRepo(t, ds, "Item")

	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	input := model.Record{
		"code":       "rt",
		"group_name": "g",
		"nValue":     7,
		"tags":       []string{"x", "y"},
		"meta":       map[string]any{"level": 3, "label": "hot", "nested": map[string]any{"ok": true}},
		"created_at": created,
	}
	res, err := repo.Create(ctx, input, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Count != 1 || res.Data["id"] == nil {
		t.Fatalf("create result = %+v", res)
	}

	got, err := repo.FindByID(ctx, res.Data["id"], nil, nil)
	if err != nil || got == nil {
		t.Fatalf("find by id = %v, %v", got, err)
	}
	if got["code"] != "rt" || got["group_name"] != "g" || got["nValue"] != int64(7) {
		t.Fatalf("scalars = %v", got)
	}
	if !reflect.DeepEqual(got["tags"], []any{"x", "y"}) {
		t.Fatalf("tags = %#v", got["tags"])
	}
	wantMeta := map[string]any{"level": int64(3), "label": "hot", "nested": map[string]any{"ok": true}}
	if !reflect.DeepEqual(got["meta"], wantMeta) {
		t.Fatalf("meta = %#v", got["meta"])
	}
	ts, ok := got["created_at"].(time.Time)
	if !ok || !ts.Equal(created) || ts.Location() != time.UTC {
		t.Fatalf("created_at = %#v", got["created_at"])
	}
	if got["deleted_at"] != nil {
		t.Fatalf("deleted_at = %#v", got["deleted_at"])
	}

	byPath, err := repo.Find(ctx, &filter.Filter{Where: filter.Where{"meta.level": map[string]any{"gte": 3}}}, nil)
	if err != nil || len(byPath) != 1 {
		t.Fatalf("json path find = %v, %v", byPath, err)
	}

	missing, err := repo.FindByID(ctx, int64(424242), nil, nil)
	if err != nil || missing != nil {
		t.Fatalf("missing id = %v, %v", missing, err)
	}
}

func TestUUIDStrategyAndBooleans(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDataSource(t)
	notes := mustRepo(t, ds, "Note")

	res, err := notes.Create(ctx, model.Record{"body": "hello", "pinned": true}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id, _ := res.Data["id"].(string)
	if len(id) != 36 || res.Data["pinned"] != true {
		t.Fatalf("created = %#v", res.Data)
	}
	res, err = notes.Create(ctx, model.Record{"id": "fixed", "body": "b"}, nil)
	if err != nil || res.Data["id"] != "fixed" || res.Data["pinned"] != false {
		t.Fatalf("explicit id = %#v, %v", res.Data, err)
	}
	pinned, err := notes.Find(ctx, &filter.Filter{Where: filter.Where{"pinned": true}}, nil)
	if err != nil || len(pinned) != 1 || pinned[0]["id"] != id {
		t.Fatalf("pinned = %v, %v", pinned, err)
	}
}

func TestZeroMatchMutations(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDataSource(t)
	repo := mustRepo(t, ds, "Item")
	seedItems(t, repo, 1)

	nothing := filter.Where{"code": "nope"}
	updated, err := repo.UpdateAll(ctx, nothing, model.Record{"nValue": 9}, nil)
	if err != nil || updated.Count != 0 || updated.Data == nil || len(updated.Data) != 0 {
		t.Fatalf("updateAll = %+v, %v", updated, err)
	}
	deleted, err := repo.DeleteAll(ctx, nothing, nil)
	if err != nil || deleted.Count != 0 || deleted.Data == nil || len(deleted.Data) != 0 {
		t.Fatalf("deleteAll = %+v, %v", deleted, err)
	}
	one, err := repo.DeleteByID(ctx, int64(999), nil)
	if err != nil || one.Count != 0 || one.Data != nil {
		t.Fatalf("deleteById = %+v, %v", one, err)
	}
	one, err = repo.UpdateByID(ctx, int64(999), model.Record{"nValue": 1}, nil)
	if err != nil || one.Count != 0 || one.Data != nil {
		t.Fatalf("updateById = %+v, %v", one, err)
	}
}

func TestDeleteAllIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDataSource(t)
	repo := mustRepo(t, ds, "Item")
	seedItems(t, repo, 1, 2, 3, 4)

	where := filter.Where{"nValue": map[string]any{"gte": 2}}
	first, err := repo.DeleteAll(ctx, where, nil)
	if err != nil || first.Count != 3 || len(first.Data) != 3 {
		t.Fatalf("first deleteAll = %+v, %v", first, err)
	}
	second, err := repo.DeleteAll(ctx, where, nil)
	if err != nil || second.Count != 0 {
		t.Fatalf("second deleteAll = %+v, %v", second, err)
	}
}

func TestShouldReturnFalse(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDataSource(t)
	repo := mustRepo(t, ds, "Item")
	quiet := &repository.Options{ShouldReturn: repository.Bool(false)}

	res, err := repo.Create(ctx, model.Record{"code": "q1", "nValue": 1}, quiet)
	if err != nil || res.Count != 1 || res.Data != nil {
		t.Fatalf("create = %+v, %v", res, err)
	}
	batch, err := repo.CreateAll(ctx, []model.Record{{"code": "q2"}, {"code": "q3"}}, quiet)
	if err != nil || batch.Count != 2 || batch.Data != nil {
		t.Fatalf("createAll = %+v, %v", batch, err)
	}
	batch, err = repo.UpdateAll(ctx, filter.Where{}, model.Record{"nValue": 5}, quiet)
	if err != nil || batch.Count != 3 || batch.Data != nil {
		t.Fatalf("updateAll = %+v, %v", batch, err)
	}
	batch, err = repo.DeleteAll(ctx, filter.Where{"nValue": 5}, quiet)
	if err != nil || batch.Count != 3 || batch.Data != nil {
		t.Fatalf("deleteAll = %+v, %v", batch, err)
	}
}

func TestTransactionCommitMakesRowsVisible(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDataSource(t)
	repo := mustRepo(t, ds, "Item")

	tx, err := repo.BeginTransaction(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	opts := &repository.Options{Transaction: tx}
	for _, code := range []string{"c1", "c2"} {
		if _, err := repo.Create(ctx, model.Record{"code": code}, opts); err != nil {
			t.Fatalf("create %s: %v", code, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	for _, code := range []string{"c1", "c2"} {
		row, err := repo.FindOne(ctx, &filter.Filter{Where: filter.Where{"code": code}}, nil)
		if err != nil || row == nil {
			t.Fatalf("find %s after commit = %v, %v", code, row, err)
		}
	}
}

func TestTransactionUniqueViolationRollsBack(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDataSource(t)
	repo := mustRepo(t, ds, "Item")

	tx, err := ds.BeginTransaction(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	opts := &repository.Options{Transaction: tx}
	if _, err := repo.Create(ctx, model.Record{"code": "X"}, opts); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err = repo.Create(ctx, model.Record{"code": "X"}, opts)
	if !errors.Is(err, errors.RecordAlreadyExists) {
		t.Fatalf("duplicate create error = %v", err)
	}
	if !strings.Contains(err.Error(), "create Item") {
		t.Fatalf("error lacks operation context: %v", err)
	}
	if !tx.IsActive() {
		t.Fatalf("constraint violation ended the transaction: %s", tx.State())
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	row, err := repo.FindOne(ctx, &filter.Filter{Where: filter.Where{"code": "X"}}, nil)
	if err != nil || row != nil {
		t.Fatalf("find after rollback = %v, %v", row, err)
	}
}

func TestTransactionIsolatesUncommittedWrites(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDataSource(t)
	repo := mustRepo(t, ds, "Item")

	tx, err := ds.BeginTransaction(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	inside := &repository.Options{Transaction: tx}
	created, err := repo.Create(ctx, model.Record{"code": "R"}, inside)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	where := &filter.Filter{Where: filter.Where{"code": "R"}}

	row, err := repo.FindOne(ctx, where, inside)
	if err != nil || row == nil || row["id"] != created.Data["id"] {
		t.Fatalf("inside find = %v, %v", row, err)
	}
	row, err = repo.FindOne(ctx, where, nil)
	if err != nil || row != nil {
		t.Fatalf("outside find before commit = %v, %v", row, err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	row, err = repo.FindOne(ctx, where, nil)
	if err != nil || row == nil {
		t.Fatalf("outside find after commit = %v, %v", row, err)
	}
}

func TestEndedTransactionIsRejected(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDataSource(t)
	repo := mustRepo(t, ds, "Item")

	tx, err := ds.BeginTransaction(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	opts := &repository.Options{Transaction: tx}
	if _, err := repo.Create(ctx, model.Record{"code": "late"}, opts); !errors.Is(err, errors.InactiveTransaction) {
		t.Fatalf("create on committed transaction error = %v", err)
	}
	if _, err := repo.Find(ctx, nil, opts); !errors.Is(err, errors.InactiveTransaction) {
		t.Fatalf("find on committed transaction error = %v", err)
	}
	if _, err := repo.DeleteAll(ctx, filter.Where{}, opts); !errors.Is(err, errors.InactiveTransaction) {
		t.Fatalf("deleteAll on committed transaction error = %v", err)
	}
	n, err := repo.Count(ctx, nil, nil)
	if err != nil || n != 0 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

func seedCatalog(t *testing.T, ds *repository.DataSource) {
	t.Helper()
	ctx := context.Background()
	products := mustRepo(t, ds, "Product")
	channels := mustRepo(t, ds, "Channel")
	links := mustRepo(t, ds, "ProductChannel")

	a, err := products.Create(ctx, model.Record{"name": "Product A"}, nil)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := products.Create(ctx, model.Record{"name": "Product B"}, nil); err != nil {
		t.Fatalf("create product: %v", err)
	}
	batch, err := channels.CreateAll(ctx, []model.Record{{"name": "web"}, {"name": "store"}, {"name": "phone"}}, nil)
	if err != nil || batch.Count != 3 {
		t.Fatalf("create channels = %+v, %v", batch, err)
	}
	for _, ch := range batch.Data[:2] {
		if _, err := links.Create(ctx, model.Record{"product_id": a.Data["id"], "channel_id": ch["id"]}, nil); err != nil {
			t.Fatalf("link: %v", err)
		}
	}
}

func TestIncludeJunctionRowsWithNestedChannel(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDataSource(t)
	seedCatalog(t, ds)
	products := mustRepo(t, ds, "Product")

	f, err := filter.Parse([]byte(`{
		"where": {"name": "Product A"},
		"include": [{"relation": "junctionRows", "scope": {"include": [{"relation": "channel"}]}}]
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	product, err := products.FindOne(ctx, f, nil)
	if err != nil || product == nil {
		t.Fatalf("findOne = %v, %v", product, err)
	}
	rows, ok := product["junctionRows"].([]model.Record)
	if !ok || len(rows) != 2 {
		t.Fatalf("junctionRows = %#v", product["junctionRows"])
	}
	var names []string
	for _, row := range rows {
		ch, ok := row["channel"].(model.Record)
		if !ok {
			t.Fatalf("channel not populated: %#v", row)
		}
		names = append(names, ch["name"].(string))
	}
	if !reflect.DeepEqual(names, []string{"web", "store"}) {
		t.Fatalf("channel names = %v", names)
	}

	withThrough, err := products.Find(ctx, &filter.Filter{
		Fields:  filter.Select("name"),
		Order:   filter.Order{"name ASC"},
		Include: []filter.Inclusion{{Relation: "channels", Scope: &filter.Filter{Order: filter.Order{"name DESC"}}}},
	}, nil)
	if err != nil || len(withThrough) != 2 {
		t.Fatalf("find through = %v, %v", withThrough, err)
	}
	if _, leaked := withThrough[0]["id"]; leaked {
		t.Fatalf("join key leaked into projection: %v", withThrough[0])
	}
	if got := withThrough[0]["channels"].([]model.Record); len(got) != 2 || got[0]["name"] != "web" || got[1]["name"] != "store" {
		t.Fatalf("Product A channels = %v", got)
	}
	if got := withThrough[1]["channels"].([]model.Record); got == nil || len(got) != 0 {
		t.Fatalf("Product B channels = %#v", withThrough[1]["channels"])
	}

	_, err = products.Find(ctx, &filter.Filter{Include: []filter.Inclusion{{Relation: "owner"}}}, nil)
	if !errors.Is(err, errors.UnknownRelation) {
		t.Fatalf("unknown relation error = %v", err)
	}
}

func TestDefaultFilterAndSoftDelete(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDataSource(t)
	repo := mustRepo(t, ds, "Item")
	rows := seedItems(t, repo, 1, 2, 3)
	id := rows[0]["id"]

	res, err := repo.SoftDeleteByID(ctx, id, nil)
	if err != nil || res.Count != 1 || res.Data["deleted_at"] == nil {
		t.Fatalf("soft delete = %+v, %v", res, err)
	}
	if n, _ := repo.Count(ctx, nil, nil); n != 2 {
		t.Fatalf("visible count = %d, want 2", n)
	}
	all, err := repo.Find(ctx, nil, &repository.Options{ShouldSkipDefaultFilter: true})
	if err != nil || len(all) != 3 {
		t.Fatalf("find skipping default filter = %d rows, %v", len(all), err)
	}
	if row, _ := repo.FindByID(ctx, id, nil, nil); row != nil {
		t.Fatalf("soft-deleted row still visible: %v", row)
	}

	res, err = repo.RestoreByID(ctx, id, nil)
	if err != nil || res.Count != 1 || res.Data["deleted_at"] != nil {
		t.Fatalf("restore = %+v, %v", res, err)
	}
	batch, err := repo.SoftDeleteAll(ctx, filter.Where{"group_name": "g"}, nil)
	if err != nil || batch.Count != 3 {
		t.Fatalf("soft delete all = %+v, %v", batch, err)
	}
	batch, err = repo.SoftDeleteAll(ctx, filter.Where{"group_name": "g"}, nil)
	if err != nil || batch.Count != 0 {
		t.Fatalf("second soft delete all = %+v, %v", batch, err)
	}

	notes := mustRepo(t, ds, "Note")
	if _, err := notes.SoftDeleteByID(ctx, "x", nil); !errors.Is(err, errors.OperationNotAllowed) {
		t.Fatalf("soft delete without column error = %v", err)
	}
}

func TestReadOnlyRepositoryRejectsMutations(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDataSource(t)
	seedItems(t, mustRepo(t, ds, "Item"), 1)
	ro, err := ds.ReadOnly("Item")
	if err != nil {
		t.Fatalf("read only: %v", err)
	}

	calls := map[string]func() error{
		"create":     func() error { _, err := ro.Create(ctx, model.Record{"code": "n"}, nil); return err },
		"createAll":  func() error { _, err := ro.CreateAll(ctx, nil, nil); return err },
		"updateById": func() error { _, err := ro.UpdateByID(ctx, 1, model.Record{"nValue": 2}, nil); return err },
		"updateAll":  func() error { _, err := ro.UpdateAll(ctx, nil, model.Record{"nValue": 2}, nil); return err },
		"updateBy":   func() error { _, err := ro.UpdateBy(ctx, nil, model.Record{"nValue": 2}, nil); return err },
		"deleteById": func() error { _, err := ro.DeleteByID(ctx, 1, nil); return err },
		"deleteAll":  func() error { _, err := ro.DeleteAll(ctx, nil, nil); return err },
	}
	for op, call := range calls {
		err := call()
		if !errors.Is(err, errors.OperationNotAllowed) {
			t.Fatalf("%s error = %v", op, err)
		}
		if !strings.Contains(err.Error(), op) || !strings.Contains(err.Error(), repository.ScopeReadOnly) {
			t.Fatalf("%s error does not name operation and scope: %v", op, err)
		}
	}
	rows, err := ro.Find(ctx, nil, nil)
	if err != nil || len(rows) != 1 {
		t.Fatalf("read-only find = %v, %v", rows, err)
	}
}

func TestCompileErrorsNeverReachDatabase(t *testing.T) {
	ctx := context.Background()
	ds, database := newDataSource(t)
	repo := mustRepo(t, ds, "Item")
	_ = database.Close()

	tests := []struct {
		name string
		f    *filter.Filter
		code errors.ErrorCode
	}{
		{"unknown field", &filter.Filter{Where: filter.Where{"nope": 1}}, errors.InvalidFilter},
		{"unknown operator", &filter.Filter{Where: filter.Where{"code": map[string]any{"approx": 1}}}, errors.UnknownOperator},
		{"between arity", &filter.Filter{Where: filter.Where{"nValue": map[string]any{"between": []any{1}}}}, errors.InvalidOperand},
		{"negative limit", &filter.Filter{Limit: filter.Int(-1)}, errors.InvalidFilter},
		{"unknown relation", &filter.Filter{Include: []filter.Inclusion{{Relation: "owner"}}}, errors.UnknownRelation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := repo.Find(ctx, tt.f, nil); !errors.Is(err, tt.code) {
				t.Fatalf("error = %v, want code %d", err, tt.code)
			}
		})
	}
	if _, err := repo.Find(ctx, nil, nil); !errors.Is(err, errors.DatabaseError) {
		t.Fatalf("valid filter on closed database error = %v", err)
	}
}

func TestInvalidWriteData(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDataSource(t)
	repo := mustRepo(t, ds, "Item")

	bad := []model.Record{
		{"code": "a", "bogus": 1},
		{"code": "a", "nValue": "seven"},
		{"code": "a", "tags": "not-a-list"},
		{"code": "a", "created_at": "yesterday"},
	}
	for _, data := range bad {
		if _, err := repo.Create(ctx, data, nil); !errors.Is(err, errors.InvalidParams) {
			t.Fatalf("create %v error = %v", data, err)
		}
	}
	if _, err := repo.UpdateAll(ctx, nil, model.Record{"id": 5}, nil); !errors.Is(err, errors.InvalidParams) {
		t.Fatalf("update of generated column only error = %v", err)
	}

	for _, meta := range []any{[]any{1}, map[string]any{"level": "high"}} {
		if _, err := repo.Create(ctx, model.Record{"code": "a", "meta": meta}, nil); !errors.Is(err, errors.ValidationFailed) {
			t.Fatalf("create with meta %v error = %v", meta, err)
		}
	}
	if n, _ := repo.Count(ctx, nil, nil); n != 0 {
		t.Fatalf("rejected writes reached the table: count = %d", n)
	}
}

func TestCreateAllIsAtomic(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDataSource(t)
	repo := mustRepo(t, ds, "Item")

	_, err := repo.CreateAll(ctx, []model.Record{{"code": "ok"}, {"code": "dup"}, {"code": "dup"}}, nil)
	if !errors.Is(err, errors.RecordAlreadyExists) {
		t.Fatalf("createAll error = %v", err)
	}
	if n, _ := repo.Count(ctx, nil, nil); n != 0 {
		t.Fatalf("count after failed createAll = %d", n)
	}

	empty, err := repo.CreateAll(ctx, nil, nil)
	if err != nil || empty.Count != 0 || empty.Data == nil {
		t.Fatalf("empty createAll = %+v, %v", empty, err)
	}
}

func TestFindWithRangeAndExists(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDataSource(t)
	repo := mustRepo(t, ds, "Item")
	seedItems(t, repo, 10, 20, 30, 40, 50)

	res, err := repo.FindWithRange(ctx, &filter.Filter{Order: filter.Order{"nValue ASC"}, Skip: filter.Int(1), Limit: filter.Int(2)}, nil)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if got := nValues(res.Data); !reflect.DeepEqual(got, []int64{20, 30}) {
		t.Fatalf("range data = %v", got)
	}
	if res.Range != (repository.Range{Start: 1, End: 2, Total: 5}) {
		t.Fatalf("range = %+v", res.Range)
	}

	tx, err := ds.BeginTransaction(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	res, err = repo.FindWithRange(ctx, &filter.Filter{Where: filter.Where{"nValue": map[string]any{"gt": 25}}, Skip: filter.Int(10)}, &repository.Options{Transaction: tx})
	if err != nil {
		t.Fatalf("range in transaction: %v", err)
	}
	if len(res.Data) != 0 || res.Range != (repository.Range{Start: 10, End: 9, Total: 3}) {
		t.Fatalf("empty page = %+v", res)
	}

	ok, err := repo.Exists(ctx, filter.Where{"nValue": 40}, nil)
	if err != nil || !ok {
		t.Fatalf("exists 40 = %v, %v", ok, err)
	}
	ok, err = repo.Exists(ctx, filter.Where{"nValue": 41}, nil)
	if err != nil || ok {
		t.Fatalf("exists 41 = %v, %v", ok, err)
	}
}

// seedLevels writes meta documents directly so stored values of every JSON
// type exist regardless of the column schema.
func seedLevels(t *testing.T, database *db.SQLDatabase) {
	t.Helper()
	rows := []struct{ code, meta string }{
		{"object", `{"level": {"a": 1}}`},
		{"text-abc", `{"level": "abc"}`},
		{"true", `{"level": true}`},
		{"int-5", `{"level": 5}`},
		{"array", `{"level": [1]}`},
		{"null", `{"level": null}`},
		{"text-5", `{"level": "5"}`},
		{"real-2.5", `{"level": 2.5}`},
		{"false", `{"level": false}`},
	}
	for _, row := range rows {
		if _, err := database.Exec(context.Background(), `INSERT INTO items (code, meta) VALUES (?, ?)`, row.code, row.meta); err != nil {
			t.Fatalf("seed %s: %v", row.code, err)
		}
	}
}

func codes(records []model.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i], _ = r["code"].(string)
	}
	return out
}

func TestJSONPathOrderingAcrossTypes(t *testing.T) {
	ctx := context.Background()
	ds, database := newDataSource(t)
	repo := mustRepo(t, ds, "Item")
	seedLevels(t, database)

	asc := []string{"null", "false", "true", "real-2.5", "int-5", "text-5", "text-abc", "array", "object"}
	got, err := repo.Find(ctx, &filter.Filter{Order: filter.Order{"meta.level ASC"}}, nil)
	if err != nil {
		t.Fatalf("find asc: %v", err)
	}
	if !reflect.DeepEqual(codes(got), asc) {
		t.Fatalf("asc order = %v, want %v", codes(got), asc)
	}

	desc := make([]string, len(asc))
	for i, code := range asc {
		desc[len(asc)-1-i] = code
	}
	got, err = repo.Find(ctx, &filter.Filter{Order: filter.Order{"meta.level desc"}}, nil)
	if err != nil {
		t.Fatalf("find desc: %v", err)
	}
	if !reflect.DeepEqual(codes(got), desc) {
		t.Fatalf("desc order = %v, want %v", codes(got), desc)
	}
}

func TestJSONPathNumericComparisonsSkipOtherTypes(t *testing.T) {
	ctx := context.Background()
	ds, database := newDataSource(t)
	repo := mustRepo(t, ds, "Item")
	seedLevels(t, database)

	tests := []struct {
		name  string
		where filter.Where
		want  []string
	}{
		{"gt", filter.Where{"meta.level": map[string]any{"gt": 1}}, []string{"real-2.5", "int-5"}},
		{"gte fraction", filter.Where{"meta.level": map[string]any{"gte": 2.5}}, []string{"real-2.5", "int-5"}},
		{"lt", filter.Where{"meta.level": map[string]any{"lt": 10}}, []string{"real-2.5", "int-5"}},
		{"eq number ignores numeric text", filter.Where{"meta.level": 5}, []string{"int-5"}},
		{"between", filter.Where{"meta.level": map[string]any{"between": []any{2, 3}}}, []string{"real-2.5"}},
		{"notBetween", filter.Where{"meta.level": map[string]any{"notBetween": []any{2, 3}}}, []string{"int-5"}},
		{"range over booleans matches nothing", filter.Where{"meta.level": map[string]any{"gte": 0, "lte": 1}}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Find(ctx, &filter.Filter{Where: tt.where, Order: filter.Order{"id ASC"}}, nil)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if !reflect.DeepEqual(codes(got), tt.want) {
				t.Fatalf("codes = %v, want %v", codes(got), tt.want)
			}
			n, err := repo.Count(ctx, tt.where, nil)
			if err != nil || n != int64(len(tt.want)) {
				t.Fatalf("count = %d, %v", n, err)
			}
		})
	}
}
