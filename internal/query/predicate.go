package query

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Predicate is a compiled boolean condition. It renders with "?" placeholders;
// statement builders rewrite them to the dialect's format.
type Predicate interface {
	sq.Sqlizer
	isPredicate()
}

// Constant is an always-true or always-false predicate.
type Constant bool

const (
	True  Constant = true
	False Constant = false
)

// ToSql renders the constant as a portable tautology or contradiction.
func (c Constant) ToSql() (string, []interface{}, error) {
	if c {
		return "1=1", nil, nil
	}
	return "1=0", nil, nil
}

// Leaf is one operator applied to one field.
type Leaf struct {
	Field    string
	Operator Operator
	Value    any
	// Column is the SQL expression the operator was applied to.
	Column string

	sql  string
	args []interface{}
}

// ToSql returns the rendered condition.
func (l *Leaf) ToSql() (string, []interface{}, error) {
	return l.sql, l.args, nil
}

// Conjunction selects how a Combinator joins its children.
type Conjunction string

const (
	ConjunctionAnd Conjunction = "AND"
	ConjunctionOr  Conjunction = "OR"
)

// Combinator joins child predicates. Build it with And or Or so constants are
// folded away.
type Combinator struct {
	Kind     Conjunction
	Children []Predicate
}

// ToSql renders "(a AND b)" style groups. An empty group renders as its
// identity element.
func (c *Combinator) ToSql() (string, []interface{}, error) {
	if len(c.Children) == 0 {
		if c.Kind == ConjunctionOr {
			return False.ToSql()
		}
		return True.ToSql()
	}
	parts := make([]string, 0, len(c.Children))
	var args []interface{}
	for _, child := range c.Children {
		sql, childArgs, err := child.ToSql()
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		args = append(args, childArgs...)
	}
	if len(parts) == 1 {
		return parts[0], args, nil
	}
	return "(" + strings.Join(parts, " "+string(c.Kind)+" ") + ")", args, nil
}

// Negation is NOT child.
type Negation struct {
	Child Predicate
}

// ToSql renders NOT (child).
func (n *Negation) ToSql() (string, []interface{}, error) {
	sql, args, err := n.Child.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + sql + ")", args, nil
}

func (Constant) isPredicate()    {}
func (*Leaf) isPredicate()       {}
func (*Combinator) isPredicate() {}
func (*Negation) isPredicate()   {}

// And conjoins predicates. TRUE children are dropped and any FALSE child
// makes the whole conjunction FALSE; no children yields TRUE.
func And(children ...Predicate) Predicate {
	kept := make([]Predicate, 0, len(children))
	for _, child := range children {
		switch c := child.(type) {
		case nil:
			continue
		case Constant:
			if !c {
				return False
			}
			continue
		case *Combinator:
			if c.Kind == ConjunctionAnd {
				kept = append(kept, c.Children...)
				continue
			}
		}
		kept = append(kept, child)
	}
	switch len(kept) {
	case 0:
		return True
	case 1:
		return kept[0]
	}
	return &Combinator{Kind: ConjunctionAnd, Children: kept}
}

// Or disjoins predicates. FALSE children are dropped and any TRUE child makes
// the whole disjunction TRUE; no children yields FALSE.
func Or(children ...Predicate) Predicate {
	kept := make([]Predicate, 0, len(children))
	for _, child := range children {
		switch c := child.(type) {
		case nil:
			continue
		case Constant:
			if c {
				return True
			}
			continue
		case *Combinator:
			if c.Kind == ConjunctionOr {
				kept = append(kept, c.Children...)
				continue
			}
		}
		kept = append(kept, child)
	}
	switch len(kept) {
	case 0:
		return False
	case 1:
		return kept[0]
	}
	return &Combinator{Kind: ConjunctionOr, Children: kept}
}

// Not negates a predicate, flipping constants.
func Not(child Predicate) Predicate {
	switch c := child.(type) {
	case Constant:
		return !c
	case *Negation:
		return c.Child
	}
	return &Negation{Child: child}
}
