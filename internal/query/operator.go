package query

import (
	"sort"

	"github.com/VENIZIA-AI/ignis-sub007/pkg/errors"
)

// Operator is a field-level filter operator. The set is closed: every value
// is handled by the switch in buildCondition.
type Operator int

const (
	OpEq Operator = iota + 1
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpIs
	OpIsn
	OpIn
	OpNin
	OpBetween
	OpNotBetween
	OpLike
	OpNlike
	OpIlike
	OpNilike
	OpRegexp
	OpIregexp
	OpContains
	OpContainedBy
	OpOverlaps
)

// operatorNames is the JSON vocabulary. Aliases map onto the same operator.
var operatorNames = map[string]Operator{
	"eq":          OpEq,
	"ne":          OpNe,
	"neq":         OpNe,
	"gt":          OpGt,
	"gte":         OpGte,
	"lt":          OpLt,
	"lte":         OpLte,
	"is":          OpIs,
	"isn":         OpIsn,
	"in":          OpIn,
	"inq":         OpIn,
	"nin":         OpNin,
	"between":     OpBetween,
	"notBetween":  OpNotBetween,
	"like":        OpLike,
	"nlike":       OpNlike,
	"ilike":       OpIlike,
	"nilike":      OpNilike,
	"regexp":      OpRegexp,
	"iregexp":     OpIregexp,
	"contains":    OpContains,
	"containedBy": OpContainedBy,
	"overlaps":    OpOverlaps,
}

var canonicalNames = map[Operator]string{
	OpEq:          "eq",
	OpNe:          "ne",
	OpGt:          "gt",
	OpGte:         "gte",
	OpLt:          "lt",
	OpLte:         "lte",
	OpIs:          "is",
	OpIsn:         "isn",
	OpIn:          "in",
	OpNin:         "nin",
	OpBetween:     "between",
	OpNotBetween:  "notBetween",
	OpLike:        "like",
	OpNlike:       "nlike",
	OpIlike:       "ilike",
	OpNilike:      "nilike",
	OpRegexp:      "regexp",
	OpIregexp:     "iregexp",
	OpContains:    "contains",
	OpContainedBy: "containedBy",
	OpOverlaps:    "overlaps",
}

// Logical where keys. They combine child where objects, not field values.
const (
	KeyAnd = "and"
	KeyOr  = "or"
	KeyNot = "not"
)

// ParseOperator resolves a JSON operator name.
func ParseOperator(name string) (Operator, error) {
	op, ok := operatorNames[name]
	if !ok {
		return 0, errors.Newf(errors.UnknownOperator, "unknown operator %q", name).
			WithDetail("operator", name)
	}
	return op, nil
}

// OperatorNames lists every accepted operator name, aliases included.
func OperatorNames() []string {
	names := make([]string, 0, len(operatorNames))
	for name := range operatorNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (o Operator) String() string {
	if name, ok := canonicalNames[o]; ok {
		return name
	}
	return "unknown"
}

// IsNumeric reports whether the operator orders values. Applied to a JSON
// path these compile against a guarded numeric extraction.
func (o Operator) IsNumeric() bool {
	switch o {
	case OpGt, OpGte, OpLt, OpLte, OpBetween, OpNotBetween:
		return true
	}
	return false
}

// IsArray reports whether the operator works on array columns.
func (o Operator) IsArray() bool {
	switch o {
	case OpContains, OpContainedBy, OpOverlaps:
		return true
	}
	return false
}

// IsPattern reports whether the operator matches text patterns.
func (o Operator) IsPattern() bool {
	switch o {
	case OpLike, OpNlike, OpIlike, OpNilike, OpRegexp, OpIregexp:
		return true
	}
	return false
}
