package storage

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Operator compares a record field to a Where value.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
)

// Connector joins a clause to everything before it.
type Connector string

const (
	And Connector = "AND"
	Or  Connector = "OR"
)

// Where is one filter clause. Zero Operator means OpEq and zero Connector
// means And. The connector of the first clause is ignored.
//
// A list of clauses reduces strictly left to right:
//
//	((c0 <conn1> c1) <conn2> c2) ...
//
// There is no precedence and no grouping.
type Where struct {
	Field     string
	Value     any
	Operator  Operator
	Connector Connector
}

// Eq is shorthand for an equality clause.
func Eq(field string, value any) Where {
	return Where{Field: field, Value: value, Operator: OpEq}
}

// OrWhere returns w joined with OR.
func (w Where) OrWhere() Where {
	w.Connector = Or
	return w
}

func (w Where) Op() Operator {
	if w.Operator == "" {
		return OpEq
	}
	return w.Operator
}

func (w Where) Conn() Connector {
	if w.Connector == "" {
		return And
	}
	return w.Connector
}

// Validate reports unknown operators or connectors.
func Validate(where []Where) error {
	for i, w := range where {
		if w.Field == "" {
			return fmt.Errorf("storage: where[%d] has no field", i)
		}
		switch w.Op() {
		case OpEq, OpNe, OpIn, OpContains, OpGt, OpGte, OpLt, OpLte:
		default:
			return fmt.Errorf("storage: where[%d] unknown operator %q", i, w.Operator)
		}
		switch w.Conn() {
		case And, Or:
		default:
			return fmt.Errorf("storage: where[%d] unknown connector %q", i, w.Connector)
		}
	}
	return nil
}

// Match evaluates where against r. An empty clause list matches everything.
func Match(r Record, where []Where) bool {
	if len(where) == 0 {
		return true
	}
	acc := matchClause(r, where[0])
	for _, w := range where[1:] {
		if w.Conn() == Or {
			acc = acc || matchClause(r, w)
		} else {
			acc = acc && matchClause(r, w)
		}
	}
	return acc
}

func matchClause(r Record, w Where) bool {
	v, present := r[w.Field]
	switch w.Op() {
	case OpEq:
		return equal(v, w.Value)
	case OpNe:
		return !equal(v, w.Value)
	case OpIn:
		return anyEqual(v, w.Value)
	case OpContains:
		return contains(v, w.Value)
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false
		}
		c, ok := compare(v, w.Value)
		if !ok {
			return false
		}
		switch w.Op() {
		case OpGt:
			return c > 0
		case OpGte:
			return c >= 0
		case OpLt:
			return c < 0
		default:
			return c <= 0
		}
	}
	return false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return isNil(a) && isNil(b)
	}
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

func anyEqual(v, list any) bool {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return equal(v, list)
	}
	for i := 0; i < rv.Len(); i++ {
		if equal(v, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}

func contains(v, needle any) bool {
	if s, ok := v.(string); ok {
		n, ok := needle.(string)
		return ok && strings.Contains(s, n)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if equal(rv.Index(i).Interface(), needle) {
				return true
			}
		}
	}
	return false
}

// compare orders numbers, times (including RFC 3339 strings compared to
// times) and strings. ok is false when the values are not comparable.
func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return cmpFloat(fa, fb), true
		}
		return 0, false
	}
	ta, aIsTime := a.(time.Time)
	tb, bIsTime := b.(time.Time)
	if aIsTime || bIsTime {
		if !aIsTime {
			ta, aIsTime = parseTime(a)
		}
		if !bIsTime {
			tb, bIsTime = parseTime(b)
		}
		if !aIsTime || !bIsTime {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func parseTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, err == nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
