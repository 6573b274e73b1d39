package query

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/VENIZIA-AI/ignis-sub007/internal/model"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/errors"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/filter"

	sq "github.com/Masterminds/squirrel"
)

// Query is a compiled filter.
type Query struct {
	Where  Predicate
	Order  []string
	Limit  *uint64
	Offset *uint64
	// Fields are the projected column names, never empty.
	Fields []string
}

// Compiler turns filters into SQL for one dialect. It holds no mutable state
// and is safe for concurrent use.
type Compiler struct {
	dialect Dialect
}

// NewCompiler creates a compiler for the dialect.
func NewCompiler(dialect Dialect) *Compiler {
	return &Compiler{dialect: dialect}
}

// Dialect returns the compiler's dialect.
func (c *Compiler) Dialect() Dialect {
	return c.dialect
}

// Compile compiles every section of the filter. Absent sections mean no
// constraint. Includes are left to the relation resolver.
func (c *Compiler) Compile(entity *model.Entity, f *filter.Filter) (*Query, error) {
	if f == nil {
		f = &filter.Filter{}
	}
	where, err := c.CompileWhere(entity, f.Where)
	if err != nil {
		return nil, err
	}
	order, err := c.CompileOrder(entity, f.Order)
	if err != nil {
		return nil, err
	}
	fields, err := c.CompileFields(entity, f.Fields)
	if err != nil {
		return nil, err
	}
	limit, err := bound("limit", f.Limit)
	if err != nil {
		return nil, err
	}
	offset, err := bound("skip", f.OffsetValue())
	if err != nil {
		return nil, err
	}
	return &Query{Where: where, Order: order, Limit: limit, Offset: offset, Fields: fields}, nil
}

func bound(name string, v *int) (*uint64, error) {
	if v == nil {
		return nil, nil
	}
	if *v < 0 {
		return nil, errors.Newf(errors.InvalidFilter, "%s must be a non-negative integer, got %d", name, *v)
	}
	u := uint64(*v)
	return &u, nil
}

// CompileWhere parses and compiles a where object. An empty where is TRUE.
func (c *Compiler) CompileWhere(entity *model.Entity, where filter.Where) (Predicate, error) {
	if len(where) == 0 {
		return True, nil
	}
	node, err := ParseWhere(entity, where)
	if err != nil {
		return nil, err
	}
	return c.CompileNode(entity, node)
}

// CompileNode compiles a parsed where tree.
func (c *Compiler) CompileNode(entity *model.Entity, node Node) (Predicate, error) {
	switch n := node.(type) {
	case AndNode:
		children, err := c.compileChildren(entity, n.Children)
		if err != nil {
			return nil, err
		}
		return And(children...), nil
	case OrNode:
		children, err := c.compileChildren(entity, n.Children)
		if err != nil {
			return nil, err
		}
		return Or(children...), nil
	case NotNode:
		child, err := c.CompileNode(entity, n.Child)
		if err != nil {
			return nil, err
		}
		return Not(child), nil
	case FieldNode:
		preds := make([]Predicate, 0, len(n.Conditions))
		for _, cond := range n.Conditions {
			p, err := c.buildCondition(entity, n.Field, cond)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		}
		return And(preds...), nil
	}
	return nil, errors.Newf(errors.InvalidFilter, "unsupported where node %T", node)
}

func (c *Compiler) compileChildren(entity *model.Entity, nodes []Node) ([]Predicate, error) {
	out := make([]Predicate, 0, len(nodes))
	for _, child := range nodes {
		p, err := c.CompileNode(entity, child)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Column renders the table-qualified, quoted column name.
func (c *Compiler) Column(entity *model.Entity, name string) string {
	return c.dialect.Quote(entity.Table) + "." + c.dialect.Quote(name)
}

// Table renders the quoted table name.
func (c *Compiler) Table(entity *model.Entity) string {
	return c.dialect.Quote(entity.Table)
}

func leaf(ref FieldRef, op Operator, value any, expr, sql string, args ...interface{}) *Leaf {
	return &Leaf{Field: ref.Name, Operator: op, Value: value, Column: expr, sql: sql, args: args}
}

// buildCondition is the operator table: one case per operator.
func (c *Compiler) buildCondition(entity *model.Entity, ref FieldRef, cond Condition) (Predicate, error) {
	col := c.Column(entity, ref.Column.Name)
	op := cond.Operator
	d := c.dialect

	switch op {
	case OpEq, OpIs, OpNe, OpIsn:
		negate := op == OpNe || op == OpIsn
		if cond.Operand == nil {
			expr := col
			if ref.IsJSONPath() {
				expr = d.JSONText(col, ref.Path)
			}
			if negate {
				return leaf(ref, op, nil, expr, expr+" IS NOT NULL"), nil
			}
			return leaf(ref, op, nil, expr, expr+" IS NULL"), nil
		}
		if isDocument(cond.Operand) {
			arg, err := c.encodeDocument(ref, cond.Operand)
			if err != nil {
				return nil, err
			}
			p := Predicate(leaf(ref, op, cond.Operand, col, d.DocumentEquals(col, ref.Column), arg))
			if negate {
				return Not(p), nil
			}
			return p, nil
		}
		expr, args := c.comparisonTarget(col, ref, cond.Operand)
		sym := " = ?"
		if negate {
			sym = " <> ?"
		}
		return leaf(ref, op, cond.Operand, expr, expr+sym, args...), nil

	case OpGt, OpGte, OpLt, OpLte:
		expr, args := c.comparisonTarget(col, ref, cond.Operand)
		return leaf(ref, op, cond.Operand, expr, expr+" "+comparisonSymbol(op)+" ?", args...), nil

	case OpIn, OpNin:
		list := cond.Operand.([]any)
		values := make([]any, 0, len(list))
		hasNull := false
		for _, item := range list {
			if item == nil {
				hasNull = true
				continue
			}
			values = append(values, item)
		}
		if op == OpIn {
			return c.inPredicate(col, ref, values, hasNull), nil
		}
		return c.notInPredicate(col, ref, values, hasNull), nil

	case OpBetween, OpNotBetween:
		bounds := cond.Operand.([]any)
		expr, args := c.comparisonTarget(col, ref, bounds...)
		keyword := " BETWEEN ? AND ?"
		if op == OpNotBetween {
			keyword = " NOT BETWEEN ? AND ?"
		}
		return leaf(ref, op, cond.Operand, expr, expr+keyword, args...), nil

	case OpLike, OpNlike, OpIlike, OpNilike:
		expr := col
		if ref.IsJSONPath() {
			expr = d.JSONText(col, ref.Path)
		}
		ci := op == OpIlike || op == OpNilike
		pattern := d.LikePattern(cond.Operand.(string), ci)
		p := Predicate(leaf(ref, op, cond.Operand, expr, d.Like(expr, ci), pattern))
		if op == OpNlike || op == OpNilike {
			return Not(p), nil
		}
		return p, nil

	case OpRegexp, OpIregexp:
		expr := col
		if ref.IsJSONPath() {
			expr = d.JSONText(col, ref.Path)
		}
		ci := op == OpIregexp
		pattern := d.RegexpPattern(cond.Operand.(string), ci)
		return leaf(ref, op, cond.Operand, expr, d.Regexp(expr, ci), pattern), nil

	case OpContains, OpContainedBy, OpOverlaps:
		values := cond.Operand.([]any)
		if len(values) == 0 {
			switch op {
			case OpContains:
				// Every array contains the empty set.
				return True, nil
			case OpOverlaps:
				return False, nil
			default:
				return leaf(ref, op, cond.Operand, col, d.ArrayIsEmpty(col)), nil
			}
		}
		arg, err := d.EncodeArray(values, ref.Column.ElementType)
		if err != nil {
			return nil, errors.Wrapf(err, errors.InvalidOperand, "field %q: %s: %v", ref.Name, op, err).
				WithDetail("field", ref.Name)
		}
		return leaf(ref, op, cond.Operand, col, d.ArrayPredicate(op, col, ref.Column.ElementType), arg), nil
	}
	return nil, errors.Newf(errors.UnknownOperator, "unsupported operator %d", int(op))
}

func (c *Compiler) inPredicate(col string, ref FieldRef, values []any, hasNull bool) Predicate {
	var preds []Predicate
	if len(values) > 0 {
		expr, args := c.comparisonTarget(col, ref, values...)
		preds = append(preds, leaf(ref, OpIn, values, expr, expr+" IN ("+placeholders(len(args))+")", args...))
	}
	if hasNull {
		expr := c.nullTarget(col, ref)
		preds = append(preds, leaf(ref, OpIn, nil, expr, expr+" IS NULL"))
	}
	// Or of nothing is FALSE: an empty list matches no row.
	return Or(preds...)
}

func (c *Compiler) notInPredicate(col string, ref FieldRef, values []any, hasNull bool) Predicate {
	var preds []Predicate
	if len(values) > 0 {
		expr, args := c.comparisonTarget(col, ref, values...)
		preds = append(preds, leaf(ref, OpNin, values, expr, expr+" NOT IN ("+placeholders(len(args))+")", args...))
	}
	if hasNull {
		expr := c.nullTarget(col, ref)
		preds = append(preds, leaf(ref, OpNin, nil, expr, expr+" IS NOT NULL"))
	}
	// And of nothing is TRUE: excluding nothing keeps every row.
	return And(preds...)
}

func (c *Compiler) nullTarget(col string, ref FieldRef) string {
	if ref.IsJSONPath() {
		return c.dialect.JSONText(col, ref.Path)
	}
	return col
}

// comparisonTarget picks the SQL expression compared against the operands
// and converts the operands to match it. JSON paths compare numerically when
// every operand is a number and as text otherwise.
func (c *Compiler) comparisonTarget(col string, ref FieldRef, operands ...any) (string, []interface{}) {
	args := make([]interface{}, len(operands))
	if !ref.IsJSONPath() {
		for i, v := range operands {
			args[i] = coerceScalar(ref.Column.Type, v)
		}
		return col, args
	}
	numeric := true
	for _, v := range operands {
		if !isNumber(v) {
			numeric = false
			break
		}
	}
	if numeric {
		for i, v := range operands {
			args[i] = v
		}
		return c.dialect.JSONNumber(col, ref.Path), args
	}
	for i, v := range operands {
		args[i] = c.dialect.JSONScalar(v)
	}
	return c.dialect.JSONText(col, ref.Path), args
}

func (c *Compiler) encodeDocument(ref FieldRef, operand any) (interface{}, error) {
	if ref.Column.Type == model.TypeArray {
		list, ok := operand.([]any)
		if !ok {
			return nil, operandError(ref, OpEq, "expects a list for an array column")
		}
		arg, err := c.dialect.EncodeArray(list, ref.Column.ElementType)
		if err != nil {
			return nil, errors.Wrapf(err, errors.InvalidOperand, "field %q: %v", ref.Name, err)
		}
		return arg, nil
	}
	data, err := json.Marshal(operand)
	if err != nil {
		return nil, errors.Wrapf(err, errors.InvalidOperand, "field %q: %v", ref.Name, err)
	}
	return string(data), nil
}

// CompileOrder parses "field [ASC|DESC]" entries. JSON paths only appear in
// ORDER BY, never in the projection.
func (c *Compiler) CompileOrder(entity *model.Entity, order filter.Order) ([]string, error) {
	out := make([]string, 0, len(order))
	for _, entry := range order {
		parts := strings.Fields(entry)
		if len(parts) == 0 || len(parts) > 2 {
			return nil, errors.Newf(errors.InvalidFilter, "invalid order entry %q", entry)
		}
		direction := "ASC"
		if len(parts) == 2 {
			direction = strings.ToUpper(parts[1])
			if direction != "ASC" && direction != "DESC" {
				return nil, errors.Newf(errors.InvalidFilter, "invalid order direction in %q", entry)
			}
		}
		ref, isRelation, err := ResolveField(entity, parts[0])
		if err != nil {
			return nil, err
		}
		if isRelation {
			return nil, errors.Newf(errors.InvalidFilter, "cannot order by relation %q", parts[0])
		}
		col := c.Column(entity, ref.Column.Name)
		if !ref.IsJSONPath() {
			out = append(out, col+" "+direction)
			continue
		}
		for _, expr := range c.dialect.JSONOrder(col, ref.Path) {
			out = append(out, expr+" "+direction)
		}
	}
	return out, nil
}

// CompileFields resolves the projection. A list is taken as given; a map with
// any true value is an inclusion list, otherwise the false keys are excluded.
func (c *Compiler) CompileFields(entity *model.Entity, fields filter.Fields) ([]string, error) {
	if fields.IsZero() {
		return entity.ColumnNames(), nil
	}
	if len(fields.Names) > 0 {
		seen := make(map[string]bool, len(fields.Names))
		out := make([]string, 0, len(fields.Names))
		for _, name := range fields.Names {
			if !entity.HasColumn(name) {
				return nil, errors.Newf(errors.InvalidFilter, "unknown field %q in fields", name).WithDetail("field", name)
			}
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
		return out, nil
	}

	inclusive := false
	for name, on := range fields.Toggles {
		if !entity.HasColumn(name) {
			return nil, errors.Newf(errors.InvalidFilter, "unknown field %q in fields", name).WithDetail("field", name)
		}
		if on {
			inclusive = true
		}
	}
	out := make([]string, 0, len(entity.Columns))
	for _, col := range entity.Columns {
		on, listed := fields.Toggles[col.Name]
		if inclusive && listed && on {
			out = append(out, col.Name)
		}
		if !inclusive && !listed {
			out = append(out, col.Name)
		}
	}
	if len(out) == 0 {
		return nil, errors.Newf(errors.InvalidFilter, "fields excludes every column of %s", entity.Name)
	}
	return out, nil
}

// SelectBuilder builds the SELECT statement of a compiled query.
func (c *Compiler) SelectBuilder(entity *model.Entity, q *Query) sq.SelectBuilder {
	cols := make([]string, len(q.Fields))
	for i, name := range q.Fields {
		cols[i] = c.Column(entity, name)
	}
	b := sq.Select(cols...).From(c.Table(entity)).PlaceholderFormat(c.dialect.Placeholder())
	if q.Where != nil && q.Where != Predicate(True) {
		b = b.Where(q.Where)
	}
	if len(q.Order) > 0 {
		b = b.OrderBy(q.Order...)
	}
	switch {
	case q.Limit != nil:
		b = b.Limit(*q.Limit)
	case q.Offset != nil && c.dialect.MaxLimit() > 0:
		b = b.Limit(c.dialect.MaxLimit())
	}
	if q.Offset != nil {
		b = b.Offset(*q.Offset)
	}
	return b
}

// CountBuilder builds SELECT COUNT(*) for a predicate.
func (c *Compiler) CountBuilder(entity *model.Entity, where Predicate) sq.SelectBuilder {
	b := sq.Select("COUNT(*)").From(c.Table(entity)).PlaceholderFormat(c.dialect.Placeholder())
	if where != nil && where != Predicate(True) {
		b = b.Where(where)
	}
	return b
}

func comparisonSymbol(op Operator) string {
	switch op {
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	default:
		return "<="
	}
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func isNumber(v any) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

func isDocument(v any) bool {
	switch v.(type) {
	case []any, map[string]any:
		return true
	}
	return false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp accepts RFC 3339 and common SQL timestamp layouts.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// coerceScalar converts an operand to the column's storage form. Timestamps
// are bound as UTC time values so every backend compares them as instants.
func coerceScalar(t model.ColumnType, v any) interface{} {
	if t != model.TypeTimestamp {
		return v
	}
	switch ts := v.(type) {
	case time.Time:
		return ts.UTC()
	case string:
		if parsed, ok := ParseTimestamp(ts); ok {
			return parsed
		}
	}
	return v
}
