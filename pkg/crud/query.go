package crud

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/devserve/devserve/pkg/resterr"
	"github.com/devserve/devserve/pkg/storage"
)

// joinMode says how a multi-clause where combines its conditions.
type joinMode int

const (
	joinAnd joinMode = iota
	joinOr
)

// condition is one parsed where clause.
type condition struct {
	prop string
	op   string
	// value is the JSON-decoded right-hand side; for "in" it is the
	// decoded candidate list.
	value any
	list  []any
}

// whereFilter is a full parsed where parameter.
type whereFilter struct {
	mode       joinMode
	conditions []condition
}

// Clause operators, longest first so "<=" wins over "<".
var operators = []string{"<=", ">=", "<", ">", "=", " like ", " in "}

// parseWhere parses a where parameter: clauses joined uniformly by " AND "
// or " OR ", each `prop<op>value` with a JSON-encoded value. The "in"
// operator takes a parenthesized value list. Join keywords and word
// operators match regardless of letter case.
func parseWhere(raw string) (*whereFilter, error) {
	filter := &whereFilter{mode: joinAnd}

	clauses := splitKeyword(raw, " and ")
	if len(clauses) == 1 {
		if or := splitKeyword(raw, " or "); len(or) > 1 {
			filter.mode = joinOr
			clauses = or
		}
	}

	for _, clause := range clauses {
		cond, err := parseClause(clause)
		if err != nil {
			return nil, err
		}
		filter.conditions = append(filter.conditions, cond)
	}
	return filter, nil
}

func parseClause(clause string) (condition, error) {
	lower := strings.ToLower(clause)
	for _, op := range operators {
		idx := strings.Index(lower, op)
		if idx <= 0 {
			continue
		}
		prop := strings.TrimSpace(clause[:idx])
		rhs := strings.TrimSpace(clause[idx+len(op):])
		cond := condition{prop: prop, op: strings.TrimSpace(op)}

		if cond.op == "in" {
			if !strings.HasPrefix(rhs, "(") || !strings.HasSuffix(rhs, ")") {
				return condition{}, &resterr.RequestError{Message: "Query error: in expects a value list"}
			}
			var list []any
			if err := json.Unmarshal([]byte("["+rhs[1:len(rhs)-1]+"]"), &list); err != nil {
				return condition{}, &resterr.RequestError{Message: "Query error: " + clause}
			}
			cond.list = list
			return cond, nil
		}

		var value any
		if err := json.Unmarshal([]byte(rhs), &value); err != nil {
			return condition{}, &resterr.RequestError{Message: "Query error: " + clause}
		}
		cond.value = value
		return cond, nil
	}
	return condition{}, &resterr.RequestError{Message: "Query error: " + clause}
}

// splitKeyword splits raw on a keyword, matching case-insensitively while
// preserving the original text of each part. keyword must be lowercase.
func splitKeyword(raw, keyword string) []string {
	lower := strings.ToLower(raw)
	var parts []string
	start := 0
	for {
		idx := strings.Index(lower[start:], keyword)
		if idx < 0 {
			break
		}
		idx += start
		parts = append(parts, raw[start:idx])
		start = idx + len(keyword)
	}
	return append(parts, raw[start:])
}

// apply keeps the records matched by the filter.
func (f *whereFilter) apply(records []storage.Record) []storage.Record {
	out := make([]storage.Record, 0, len(records))
	for _, record := range records {
		if f.matches(record) {
			out = append(out, record)
		}
	}
	return out
}

func (f *whereFilter) matches(record storage.Record) bool {
	for _, cond := range f.conditions {
		matched := cond.matches(record)
		if f.mode == joinAnd && !matched {
			return false
		}
		if f.mode == joinOr && matched {
			return true
		}
	}
	return f.mode == joinAnd
}

func (c condition) matches(record storage.Record) bool {
	have, ok := record[c.prop]
	if !ok {
		return false
	}

	switch c.op {
	case "=":
		return storage.LooseEqual(have, c.value)
	case "like":
		haveStr, hok := have.(string)
		wantStr, wok := c.value.(string)
		if !hok || !wok {
			return false
		}
		return strings.Contains(strings.ToLower(haveStr), strings.ToLower(wantStr))
	case "in":
		for _, candidate := range c.list {
			if storage.LooseEqual(have, candidate) {
				return true
			}
		}
		return false
	case "<", "<=", ">", ">=":
		cmp, ok := compareValues(have, c.value)
		if !ok {
			return false
		}
		switch c.op {
		case "<":
			return cmp < 0
		case "<=":
			return cmp <= 0
		case ">":
			return cmp > 0
		default:
			return cmp >= 0
		}
	}
	return false
}

// compareValues orders two values: numerically when both are numbers,
// lexically when both are strings.
func compareValues(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// renderValue is used for deterministic composite keys.
func renderValue(v any) string {
	return fmt.Sprint(v)
}
