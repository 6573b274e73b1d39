package query

import (
	"encoding/json"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/VENIZIA-AI/ignis-sub007/internal/model"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/errors"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/filter"
)

// Node is the validated form of a where object. Raw caller maps never reach
// the compiler; they are parsed into this closed set of variants first.
type Node interface {
	isNode()
}

// AndNode is satisfied when every child is. No children means always true.
type AndNode struct {
	Children []Node
}

// OrNode is satisfied when any child is. No children means always false.
type OrNode struct {
	Children []Node
}

// NotNode negates its child.
type NotNode struct {
	Child Node
}

// FieldNode constrains one column or JSON path. Its conditions are AND-ed.
type FieldNode struct {
	Field      FieldRef
	Conditions []Condition
}

// Condition is one operator applied to a normalized operand.
type Condition struct {
	Operator Operator
	Operand  any
}

func (AndNode) isNode()   {}
func (OrNode) isNode()    {}
func (NotNode) isNode()   {}
func (FieldNode) isNode() {}

// FieldRef is a resolved field reference: a column and an optional path into
// a JSON column.
type FieldRef struct {
	Name   string
	Column model.Column
	Path   []string
}

// IsJSONPath reports whether the reference addresses a field inside a JSON
// document rather than a whole column.
func (f FieldRef) IsJSONPath() bool {
	return len(f.Path) > 0
}

var pathSegment = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ResolveField resolves a possibly dotted field name against the entity. The
// second result is true when name is a relation rather than a column.
func ResolveField(entity *model.Entity, name string) (FieldRef, bool, error) {
	parts := strings.Split(name, ".")
	col, ok := entity.Column(parts[0])
	if !ok {
		if len(parts) == 1 {
			if _, isRelation := entity.Relation(name); isRelation {
				return FieldRef{}, true, nil
			}
		}
		return FieldRef{}, false, errors.Newf(errors.InvalidFilter, "unknown field %q on %s", name, entity.Name).
			WithDetail("field", name)
	}
	ref := FieldRef{Name: name, Column: col}
	if len(parts) == 1 {
		return ref, false, nil
	}
	if col.Type != model.TypeJSON {
		return FieldRef{}, false, errors.Newf(errors.InvalidFilter, "field %q: %s is not a json column", name, col.Name).
			WithDetail("field", name)
	}
	for _, seg := range parts[1:] {
		if !pathSegment.MatchString(seg) {
			return FieldRef{}, false, errors.Newf(errors.InvalidFilter, "field %q: invalid path segment %q", name, seg).
				WithDetail("field", name)
		}
	}
	ref.Path = parts[1:]
	return ref, false, nil
}

// ParseWhere validates a where object into a Node tree. Sibling keys are
// combined with AND and visited in sorted order.
func ParseWhere(entity *model.Entity, where filter.Where) (Node, error) {
	return parseObject(entity, where)
}

func parseObject(entity *model.Entity, where map[string]any) (Node, error) {
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	children := make([]Node, 0, len(keys))
	for _, key := range keys {
		value := where[key]
		switch key {
		case KeyAnd, KeyOr:
			items, err := whereList(key, value)
			if err != nil {
				return nil, err
			}
			nodes := make([]Node, 0, len(items))
			for _, item := range items {
				node, err := parseObject(entity, item)
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, node)
			}
			if key == KeyAnd {
				children = append(children, AndNode{Children: nodes})
			} else {
				children = append(children, OrNode{Children: nodes})
			}
		case KeyNot:
			node, err := parseNot(entity, value)
			if err != nil {
				return nil, err
			}
			children = append(children, node)
		default:
			ref, isRelation, err := ResolveField(entity, key)
			if err != nil {
				return nil, err
			}
			if isRelation {
				// Relation filters are applied through include scopes.
				continue
			}
			node, err := parseField(ref, value)
			if err != nil {
				return nil, err
			}
			children = append(children, node)
		}
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return AndNode{Children: children}, nil
}

func parseNot(entity *model.Entity, value any) (Node, error) {
	if obj, ok := asObject(value); ok {
		child, err := parseObject(entity, obj)
		if err != nil {
			return nil, err
		}
		return NotNode{Child: child}, nil
	}
	items, err := whereList(KeyNot, value)
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(items))
	for _, item := range items {
		node, err := parseObject(entity, item)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return NotNode{Child: AndNode{Children: nodes}}, nil
}

func parseField(ref FieldRef, value any) (Node, error) {
	obj, isObject := asObject(value)
	if !isObject {
		operand, err := Normalize(value)
		if err != nil {
			return nil, fieldOperandError(ref, OpEq, err)
		}
		cond, err := checkCondition(ref, OpEq, operand)
		if err != nil {
			return nil, err
		}
		return FieldNode{Field: ref, Conditions: []Condition{cond}}, nil
	}
	if len(obj) == 0 {
		return nil, errors.Newf(errors.InvalidFilter, "field %q: operator object has no operators", ref.Name)
	}

	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}
	sort.Strings(names)

	conds := make([]Condition, 0, len(names))
	for _, name := range names {
		op, err := ParseOperator(name)
		if err != nil {
			return nil, err
		}
		operand, err := Normalize(obj[name])
		if err != nil {
			return nil, fieldOperandError(ref, op, err)
		}
		cond, err := checkCondition(ref, op, operand)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	return FieldNode{Field: ref, Conditions: conds}, nil
}

// checkCondition enforces operand shapes so compile never sees a malformed
// operand.
func checkCondition(ref FieldRef, op Operator, operand any) (Condition, error) {
	list, isList := operand.([]any)
	_, isDoc := operand.(map[string]any)
	wholeDocument := !ref.IsJSONPath() && (ref.Column.Type == model.TypeJSON || ref.Column.Type == model.TypeArray)

	switch op {
	case OpEq, OpNe, OpIs, OpIsn:
		if (isList || isDoc) && !wholeDocument {
			return Condition{}, operandError(ref, op, "expects a scalar value")
		}
	case OpGt, OpGte, OpLt, OpLte:
		if operand == nil || isList || isDoc {
			return Condition{}, operandError(ref, op, "expects a non-null scalar value")
		}
	case OpIn, OpNin:
		if !isList {
			// A single value degrades to equality.
			degraded := OpEq
			if op == OpNin {
				degraded = OpNe
			}
			return checkCondition(ref, degraded, operand)
		}
		for _, item := range list {
			if !isScalar(item) {
				return Condition{}, operandError(ref, op, "expects a list of scalar values")
			}
		}
	case OpBetween, OpNotBetween:
		if !isList || len(list) != 2 {
			return Condition{}, operandError(ref, op, "expects exactly two values")
		}
		if list[0] == nil || list[1] == nil || !isScalar(list[0]) || !isScalar(list[1]) {
			return Condition{}, operandError(ref, op, "bounds must be non-null scalar values")
		}
	case OpLike, OpNlike, OpIlike, OpNilike, OpRegexp, OpIregexp:
		if _, ok := operand.(string); !ok {
			return Condition{}, operandError(ref, op, "expects a string pattern")
		}
		if op == OpRegexp || op == OpIregexp {
			if _, err := regexp.Compile(operand.(string)); err != nil {
				return Condition{}, operandError(ref, op, "invalid regular expression: "+err.Error())
			}
		}
	case OpContains, OpContainedBy, OpOverlaps:
		if ref.IsJSONPath() || ref.Column.Type != model.TypeArray {
			return Condition{}, errors.Newf(errors.InvalidFilter, "operator %s requires an array column, %q is not one", op, ref.Name).
				WithDetail("field", ref.Name)
		}
		if !isList {
			return Condition{}, operandError(ref, op, "expects a list of values")
		}
		for _, item := range list {
			if item == nil || !isScalar(item) {
				return Condition{}, operandError(ref, op, "expects a list of non-null scalar values")
			}
		}
	default:
		return Condition{}, errors.Newf(errors.UnknownOperator, "unsupported operator %d", int(op))
	}
	return Condition{Operator: op, Operand: operand}, nil
}

func operandError(ref FieldRef, op Operator, reason string) error {
	return errors.Newf(errors.InvalidOperand, "field %q: %s %s", ref.Name, op, reason).
		WithDetail("field", ref.Name).
		WithDetail("operator", op.String())
}

func fieldOperandError(ref FieldRef, op Operator, err error) error {
	return errors.Wrapf(err, errors.InvalidOperand, "field %q: %s: %v", ref.Name, op, err).
		WithDetail("field", ref.Name)
}

func whereList(key string, value any) ([]map[string]any, error) {
	switch v := value.(type) {
	case []filter.Where:
		out := make([]map[string]any, len(v))
		for i, w := range v {
			out[i] = w
		}
		return out, nil
	case []map[string]any:
		return v, nil
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			obj, ok := asObject(item)
			if !ok {
				return nil, errors.Newf(errors.InvalidFilter, "%q expects a list of where objects", key)
			}
			out = append(out, obj)
		}
		return out, nil
	}
	return nil, errors.Newf(errors.InvalidFilter, "%q expects a list of where objects", key)
}

func asObject(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case filter.Where:
		return v, true
	case map[string]any:
		return v, true
	}
	return nil, false
}

func isScalar(v any) bool {
	switch v.(type) {
	case []any, map[string]any:
		return false
	}
	return true
}

// Normalize turns caller values into a small set of operand types: nil,
// bool, int64, float64, string, time.Time, []any and map[string]any.
func Normalize(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool, string, int64, float64, time.Time:
		return v, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	case []byte:
		return string(v), nil
	case filter.Where:
		return normalizeMap(v)
	case map[string]any:
		return normalizeMap(v)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return float64(u), nil
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			item, err := Normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			item, err := Normalize(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = item
		}
		return out, nil
	}
	return nil, errors.Newf(errors.InvalidOperand, "unsupported operand type %T", value)
}

func normalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		item, err := Normalize(v)
		if err != nil {
			return nil, err
		}
		out[k] = item
	}
	return out, nil
}
