package query

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/VENIZIA-AI/ignis-sub007/internal/common/db"
	"github.com/VENIZIA-AI/ignis-sub007/internal/model"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
)

// Dialect renders backend specific SQL fragments. Fragments that take a bound
// value contain exactly one "?" placeholder.
type Dialect interface {
	Name() string
	Placeholder() sq.PlaceholderFormat
	Quote(ident string) string
	// SupportsReturning reports whether INSERT/UPDATE/DELETE ... RETURNING works.
	SupportsReturning() bool
	// MaxLimit is the LIMIT to emit when only an offset is requested; zero
	// means OFFSET may stand alone.
	MaxLimit() uint64

	// JSONText extracts the value at path as text; JSON null yields SQL NULL.
	JSONText(expr string, path []string) string
	// JSONNumber extracts the value at path as a number, or NULL when the
	// stored value is not a JSON number. It never raises a cast error.
	JSONNumber(expr string, path []string) string
	// JSONOrder returns the ORDER BY expressions for a JSON path.
	JSONOrder(expr string, path []string) []string
	// JSONScalar adapts a scalar operand compared against JSONText.
	JSONScalar(v any) any

	Like(expr string, caseInsensitive bool) string
	LikePattern(pattern string, caseInsensitive bool) string
	Regexp(expr string, caseInsensitive bool) string
	RegexpPattern(pattern string, caseInsensitive bool) string

	// ArrayPredicate renders contains/containedBy/overlaps against an encoded
	// array operand.
	ArrayPredicate(op Operator, expr string, elem model.ColumnType) string
	ArrayIsEmpty(expr string) string
	// DocumentEquals compares a whole json or array column with an encoded operand.
	DocumentEquals(expr string, col model.Column) string

	EncodeArray(values []any, elem model.ColumnType) (any, error)
	DecodeArray(src any, elem model.ColumnType) ([]any, error)
}

// DialectFor returns the dialect of a database driver.
func DialectFor(driver db.Driver) (Dialect, error) {
	switch driver {
	case db.DriverPostgres, db.DriverPgx:
		return Postgres{}, nil
	case db.DriverMySQL:
		return MySQL{}, nil
	case db.DriverSQLite:
		return SQLite{}, nil
	}
	return nil, fmt.Errorf("no dialect for driver %q", driver)
}

// Postgres renders PostgreSQL. JSON columns are expected to be jsonb and
// array columns native arrays.
type Postgres struct{}

func (Postgres) Name() string                      { return "postgres" }
func (Postgres) Placeholder() sq.PlaceholderFormat { return sq.Dollar }
func (Postgres) SupportsReturning() bool           { return true }
func (Postgres) MaxLimit() uint64                  { return 0 }

func (Postgres) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func pgPath(path []string) string {
	return "'{" + strings.Join(path, ",") + "}'"
}

func (Postgres) JSONText(expr string, path []string) string {
	return expr + " #>> " + pgPath(path)
}

func (Postgres) JSONNumber(expr string, path []string) string {
	p := pgPath(path)
	return "CASE WHEN jsonb_typeof(" + expr + " #> " + p + ") = 'number' THEN (" + expr + " #>> " + p + ")::numeric END"
}

func (Postgres) JSONOrder(expr string, path []string) []string {
	return []string{expr + " #> " + pgPath(path)}
}

func (Postgres) JSONScalar(v any) any {
	return textScalar(v)
}

func (Postgres) Like(expr string, caseInsensitive bool) string {
	if caseInsensitive {
		return expr + " ILIKE ?"
	}
	return expr + " LIKE ?"
}

func (Postgres) LikePattern(pattern string, _ bool) string {
	return pattern
}

func (Postgres) Regexp(expr string, caseInsensitive bool) string {
	if caseInsensitive {
		return expr + " ~* ?"
	}
	return expr + " ~ ?"
}

func (Postgres) RegexpPattern(pattern string, _ bool) string {
	return pattern
}

func (Postgres) ArrayPredicate(op Operator, expr string, elem model.ColumnType) string {
	var sym string
	switch op {
	case OpContains:
		sym = "@>"
	case OpContainedBy:
		sym = "<@"
	default:
		sym = "&&"
	}
	if elem == model.TypeString {
		// varchar(n)[] and text[] only compare after a uniform cast.
		return expr + "::text[] " + sym + " ?::text[]"
	}
	return expr + " " + sym + " ?"
}

func (Postgres) ArrayIsEmpty(expr string) string {
	return "cardinality(" + expr + ") = 0"
}

func (Postgres) DocumentEquals(expr string, col model.Column) string {
	if col.Type == model.TypeArray {
		if col.ElementType == model.TypeString {
			return expr + "::text[] = ?::text[]"
		}
		return expr + " = ?"
	}
	return expr + " = ?::jsonb"
}

func (Postgres) EncodeArray(values []any, elem model.ColumnType) (any, error) {
	typed, err := typedArray(values, elem)
	if err != nil {
		return nil, err
	}
	return pq.Array(typed), nil
}

func (Postgres) DecodeArray(src any, elem model.ColumnType) ([]any, error) {
	if src == nil {
		return nil, nil
	}
	var out []any
	switch elem {
	case model.TypeInteger:
		var arr pq.Int64Array
		if err := arr.Scan(src); err != nil {
			return nil, err
		}
		out = make([]any, len(arr))
		for i, v := range arr {
			out[i] = v
		}
	case model.TypeNumber:
		var arr pq.Float64Array
		if err := arr.Scan(src); err != nil {
			return nil, err
		}
		out = make([]any, len(arr))
		for i, v := range arr {
			out[i] = v
		}
	case model.TypeBoolean:
		var arr pq.BoolArray
		if err := arr.Scan(src); err != nil {
			return nil, err
		}
		out = make([]any, len(arr))
		for i, v := range arr {
			out[i] = v
		}
	default:
		var arr pq.StringArray
		if err := arr.Scan(src); err != nil {
			return nil, err
		}
		out = make([]any, len(arr))
		for i, v := range arr {
			out[i] = v
		}
	}
	return out, nil
}

// MySQL renders MySQL 8. JSON and array columns are JSON columns.
type MySQL struct{}

func (MySQL) Name() string                      { return "mysql" }
func (MySQL) Placeholder() sq.PlaceholderFormat { return sq.Question }
func (MySQL) SupportsReturning() bool           { return false }
func (MySQL) MaxLimit() uint64                  { return math.MaxUint64 }

func (MySQL) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (MySQL) JSONText(expr string, path []string) string {
	extract := "JSON_EXTRACT(" + expr + ", " + jsonPathLiteral(path) + ")"
	return "CASE WHEN JSON_TYPE(" + extract + ") = 'NULL' THEN NULL ELSE JSON_UNQUOTE(" + extract + ") END"
}

func (MySQL) JSONNumber(expr string, path []string) string {
	extract := "JSON_EXTRACT(" + expr + ", " + jsonPathLiteral(path) + ")"
	return "CASE WHEN JSON_TYPE(" + extract + ") IN ('INTEGER', 'UNSIGNED INTEGER', 'DOUBLE', 'DECIMAL') THEN CAST(" + extract + " AS DECIMAL(65,30)) END"
}

func (MySQL) JSONOrder(expr string, path []string) []string {
	return []string{"JSON_EXTRACT(" + expr + ", " + jsonPathLiteral(path) + ")"}
}

func (MySQL) JSONScalar(v any) any {
	return textScalar(v)
}

func (MySQL) Like(expr string, caseInsensitive bool) string {
	if caseInsensitive {
		return "LOWER(" + expr + ") LIKE LOWER(?)"
	}
	return expr + " COLLATE utf8mb4_bin LIKE ?"
}

func (MySQL) LikePattern(pattern string, _ bool) string {
	return pattern
}

func (MySQL) Regexp(expr string, caseInsensitive bool) string {
	if caseInsensitive {
		return "REGEXP_LIKE(" + expr + ", ?, 'i')"
	}
	return "REGEXP_LIKE(" + expr + ", ?, 'c')"
}

func (MySQL) RegexpPattern(pattern string, _ bool) string {
	return pattern
}

func (MySQL) ArrayPredicate(op Operator, expr string, _ model.ColumnType) string {
	switch op {
	case OpContains:
		return "JSON_CONTAINS(" + expr + ", CAST(? AS JSON))"
	case OpContainedBy:
		return "JSON_CONTAINS(CAST(? AS JSON), " + expr + ")"
	default:
		return "JSON_OVERLAPS(" + expr + ", CAST(? AS JSON))"
	}
}

func (MySQL) ArrayIsEmpty(expr string) string {
	return "JSON_LENGTH(" + expr + ") = 0"
}

func (MySQL) DocumentEquals(expr string, _ model.Column) string {
	return expr + " = CAST(? AS JSON)"
}

func (MySQL) EncodeArray(values []any, elem model.ColumnType) (any, error) {
	return encodeJSONArray(values, elem)
}

func (MySQL) DecodeArray(src any, elem model.ColumnType) ([]any, error) {
	return decodeJSONArray(src, elem)
}

// SQLite renders SQLite with the JSON1 functions. JSON and array columns hold
// JSON text.
type SQLite struct{}

func (SQLite) Name() string                      { return "sqlite" }
func (SQLite) Placeholder() sq.PlaceholderFormat { return sq.Question }
func (SQLite) SupportsReturning() bool           { return true }
func (SQLite) MaxLimit() uint64                  { return math.MaxInt64 }

func (SQLite) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (SQLite) JSONText(expr string, path []string) string {
	return "json_extract(" + expr + ", " + jsonPathLiteral(path) + ")"
}

func (SQLite) JSONNumber(expr string, path []string) string {
	p := jsonPathLiteral(path)
	return "CASE WHEN json_type(" + expr + ", " + p + ") IN ('integer', 'real') THEN json_extract(" + expr + ", " + p + ") END"
}

// JSONOrder sorts by JSON type rank first (null < boolean < number < string <
// array < object) and by value within a type.
func (SQLite) JSONOrder(expr string, path []string) []string {
	p := jsonPathLiteral(path)
	rank := "CASE json_type(" + expr + ", " + p + ") WHEN 'null' THEN 0 WHEN 'false' THEN 1 WHEN 'true' THEN 1 " +
		"WHEN 'integer' THEN 2 WHEN 'real' THEN 2 WHEN 'text' THEN 3 WHEN 'array' THEN 4 WHEN 'object' THEN 5 END"
	return []string{rank, "json_extract(" + expr + ", " + p + ")"}
}

func (SQLite) JSONScalar(v any) any {
	switch t := v.(type) {
	case bool:
		// json_extract yields 1/0 for JSON booleans.
		if t {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func (SQLite) Like(expr string, caseInsensitive bool) string {
	if caseInsensitive {
		return expr + ` LIKE ? ESCAPE '\'`
	}
	return expr + " GLOB ?"
}

// LikePattern translates a case-sensitive LIKE pattern into GLOB syntax.
func (SQLite) LikePattern(pattern string, caseInsensitive bool) string {
	if caseInsensitive {
		return pattern
	}
	return likeToGlob(pattern)
}

func (SQLite) Regexp(expr string, _ bool) string {
	return "regexp(?, " + expr + ")"
}

func (SQLite) RegexpPattern(pattern string, caseInsensitive bool) string {
	if caseInsensitive {
		return "(?i)" + pattern
	}
	return pattern
}

func (SQLite) ArrayPredicate(op Operator, expr string, _ model.ColumnType) string {
	switch op {
	case OpContains:
		return "(" + expr + " IS NOT NULL AND NOT EXISTS (SELECT 1 FROM json_each(?) AS v WHERE v.value NOT IN (SELECT e.value FROM json_each(" + expr + ") AS e)))"
	case OpContainedBy:
		return "(" + expr + " IS NOT NULL AND NOT EXISTS (SELECT 1 FROM json_each(" + expr + ") AS e WHERE e.value NOT IN (SELECT v.value FROM json_each(?) AS v)))"
	default:
		return "EXISTS (SELECT 1 FROM json_each(" + expr + ") AS e WHERE e.value IN (SELECT v.value FROM json_each(?) AS v))"
	}
}

func (SQLite) ArrayIsEmpty(expr string) string {
	return "json_array_length(" + expr + ") = 0"
}

func (SQLite) DocumentEquals(expr string, _ model.Column) string {
	return "json(" + expr + ") = json(?)"
}

func (SQLite) EncodeArray(values []any, elem model.ColumnType) (any, error) {
	return encodeJSONArray(values, elem)
}

func (SQLite) DecodeArray(src any, elem model.ColumnType) ([]any, error) {
	return decodeJSONArray(src, elem)
}

// jsonPathLiteral renders a MySQL/SQLite JSON path such as '$.a[0]."1b"'.
func jsonPathLiteral(path []string) string {
	var b strings.Builder
	b.WriteString("'$")
	for _, seg := range path {
		switch {
		case isDigits(seg):
			b.WriteString("[" + seg + "]")
		case seg[0] >= '0' && seg[0] <= '9':
			b.WriteString(`."` + seg + `"`)
		default:
			b.WriteString("." + seg)
		}
	}
	b.WriteString("'")
	return b.String()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// likeToGlob converts LIKE wildcards (% and _, backslash escapes) into GLOB
// wildcards, escaping GLOB metacharacters in the literal parts.
func likeToGlob(pattern string) string {
	var b strings.Builder
	escaped := false
	for _, r := range pattern {
		if escaped {
			b.WriteString(globLiteral(r))
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '%':
			b.WriteByte('*')
		case '_':
			b.WriteByte('?')
		default:
			b.WriteString(globLiteral(r))
		}
	}
	if escaped {
		b.WriteString(globLiteral('\\'))
	}
	return b.String()
}

func globLiteral(r rune) string {
	switch r {
	case '*', '?', '[':
		return "[" + string(r) + "]"
	}
	return string(r)
}

// textScalar renders operands compared against text extracted from JSON.
func textScalar(v any) any {
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func typedArray(values []any, elem model.ColumnType) (any, error) {
	switch elem {
	case model.TypeInteger:
		out := make([]int64, len(values))
		for i, v := range values {
			n, ok := toInt64(v)
			if !ok {
				return nil, fmt.Errorf("element %d: expected integer, got %T", i, v)
			}
			out[i] = n
		}
		return out, nil
	case model.TypeNumber:
		out := make([]float64, len(values))
		for i, v := range values {
			f, ok := toFloat64(v)
			if !ok {
				return nil, fmt.Errorf("element %d: expected number, got %T", i, v)
			}
			out[i] = f
		}
		return out, nil
	case model.TypeBoolean:
		out := make([]bool, len(values))
		for i, v := range values {
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("element %d: expected boolean, got %T", i, v)
			}
			out[i] = b
		}
		return out, nil
	default:
		out := make([]string, len(values))
		for i, v := range values {
			switch t := v.(type) {
			case string:
				out[i] = t
			case time.Time:
				out[i] = t.UTC().Format(time.RFC3339Nano)
			default:
				return nil, fmt.Errorf("element %d: expected string, got %T", i, v)
			}
		}
		return out, nil
	}
}

func encodeJSONArray(values []any, elem model.ColumnType) (any, error) {
	typed, err := typedArray(values, elem)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(typed)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeJSONArray(src any, elem model.ColumnType) ([]any, error) {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil, nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return nil, fmt.Errorf("cannot decode array from %T", src)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]any, len(raw))
	for i, item := range raw {
		var target any
		switch elem {
		case model.TypeInteger:
			var n int64
			if err := json.Unmarshal(item, &n); err != nil {
				return nil, err
			}
			target = n
		case model.TypeNumber:
			var f float64
			if err := json.Unmarshal(item, &f); err != nil {
				return nil, err
			}
			target = f
		case model.TypeBoolean:
			var b bool
			if err := json.Unmarshal(item, &b); err != nil {
				return nil, err
			}
			target = b
		default:
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				return nil, err
			}
			target = s
		}
		out[i] = target
	}
	return out, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) && n >= math.MinInt64 && n <= math.MaxInt64 {
			return int64(n), true
		}
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
