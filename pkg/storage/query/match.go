package query

import (
	"fmt"
	"strings"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/storage"
)

// Match reports whether doc satisfies filter. An empty filter matches every
// document.
func Match(doc document.Document, filter document.Document) (bool, error) {
	for _, e := range filter {
		ok, err := matchElement(doc, e.Key, e.Value)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchElement(doc document.Document, key string, value any) (bool, error) {
	switch key {
	case "$and", "$or", "$nor":
		clauses, ok := asArray(value)
		if !ok {
			return false, fmt.Errorf("%s requires an array", key)
		}
		return matchLogical(doc, key, clauses)
	}
	if strings.HasPrefix(key, "$") {
		return false, fmt.Errorf("%w: %s", storage.ErrUnsupportedOperator, key)
	}

	actual, present := Lookup(doc, key)
	if ops, ok := asDocument(value); ok && isOperatorDocument(ops) {
		for _, op := range ops {
			ok, err := matchOperator(actual, present, op.Key, op.Value)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	return matchEquals(actual, present, value), nil
}

func matchLogical(doc document.Document, op string, clauses []any) (bool, error) {
	for _, c := range clauses {
		sub, ok := asDocument(c)
		if !ok {
			return false, fmt.Errorf("%s clauses must be documents", op)
		}
		matched, err := Match(doc, sub)
		if err != nil {
			return false, err
		}
		switch {
		case op == "$and" && !matched:
			return false, nil
		case op == "$or" && matched:
			return true, nil
		case op == "$nor" && matched:
			return false, nil
		}
	}
	return op != "$or", nil
}

func matchOperator(actual any, present bool, op string, operand any) (bool, error) {
	switch op {
	case "$eq":
		return matchEquals(actual, present, operand), nil
	case "$ne":
		return !matchEquals(actual, present, operand), nil
	case "$gt", "$gte", "$lt", "$lte":
		if !present {
			return false, nil
		}
		return matchOrdered(actual, op, operand), nil
	case "$in", "$nin":
		values, ok := asArray(operand)
		if !ok {
			return false, fmt.Errorf("%s requires an array", op)
		}
		in := false
		for _, v := range values {
			if matchEquals(actual, present, v) {
				in = true
				break
			}
		}
		if op == "$in" {
			return in, nil
		}
		return !in, nil
	case "$exists":
		want, ok := operand.(bool)
		if !ok {
			if f, isNum := toFloat(operand); isNum {
				want = f != 0
			} else {
				return false, fmt.Errorf("$exists requires a boolean")
			}
		}
		return present == want, nil
	default:
		return false, fmt.Errorf("%w: %s", storage.ErrUnsupportedOperator, op)
	}
}

func matchEquals(actual any, present bool, want any) bool {
	if !present {
		return want == nil
	}
	if Equal(actual, want) {
		return true
	}
	if arr, ok := asArray(actual); ok {
		for _, v := range arr {
			if Equal(v, want) {
				return true
			}
		}
	}
	return false
}

func matchOrdered(actual any, op string, operand any) bool {
	check := func(v any) bool {
		c, ok := Compare(v, operand)
		if !ok {
			return false
		}
		switch op {
		case "$gt":
			return c > 0
		case "$gte":
			return c >= 0
		case "$lt":
			return c < 0
		default:
			return c <= 0
		}
	}
	if arr, ok := asArray(actual); ok {
		for _, v := range arr {
			if check(v) {
				return true
			}
		}
		return false
	}
	return check(actual)
}

func isOperatorDocument(d document.Document) bool {
	if len(d) == 0 {
		return false
	}
	for _, e := range d {
		if !strings.HasPrefix(e.Key, "$") {
			return false
		}
	}
	return true
}

// Lookup resolves a dotted path inside doc.
func Lookup(doc document.Document, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, p := range parts {
		d, ok := asDocument(cur)
		if !ok {
			return nil, false
		}
		cur, ok = d.Lookup(p)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
