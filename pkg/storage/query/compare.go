package query

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/platinummonkey/chronicle/pkg/document"
)

// Equal reports whether two values are equal under document semantics:
// numbers compare by value regardless of width and nested documents compare
// field by field.
func Equal(a, b any) bool {
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	da, aok := asDocument(a)
	db, bok := asDocument(b)
	if aok && bok {
		if len(da) != len(db) {
			return false
		}
		for _, e := range da {
			v, ok := db.Lookup(e.Key)
			if !ok || !Equal(e.Value, v) {
				return false
			}
		}
		return true
	}
	la, aok := asArray(a)
	lb, bok := asArray(b)
	if aok && bok {
		if len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !Equal(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two scalar values. The boolean is false when the values are
// not comparable (different type classes, documents, arrays).
func Compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, true
		}
		return 0, false
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		return cmpFloat(fa, fb), true
	}
	switch va := a.(type) {
	case string:
		vb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(va, vb), true
	case bool:
		vb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case va == vb:
			return 0, true
		case !va:
			return -1, true
		default:
			return 1, true
		}
	case bson.ObjectID:
		vb, ok := b.(bson.ObjectID)
		if !ok {
			return 0, false
		}
		return bytes.Compare(va[:], vb[:]), true
	}
	if ta, ok := toTime(a); ok {
		tb, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	return 0, false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
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
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case bson.DateTime:
		return t.Time(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	}
	return time.Time{}, false
}

func asDocument(v any) (document.Document, bool) {
	switch d := v.(type) {
	case document.Document:
		return d, true
	case bson.D:
		return document.Document(d), true
	case *document.Document:
		if d == nil {
			return nil, false
		}
		return *d, true
	case bson.M:
		return document.FromMap(d), true
	case map[string]any:
		return document.FromMap(d), true
	}
	return nil, false
}

func asArray(v any) ([]any, bool) {
	switch a := v.(type) {
	case bson.A:
		return a, true
	case []any:
		return a, true
	}
	return nil, false
}

// IDKey returns a canonical string for an _id value. Numerically equal ids
// of different widths share a key, as they do in MongoDB.
func IDKey(id any) (string, error) {
	switch v := id.(type) {
	case bson.ObjectID:
		return "oid:" + v.Hex(), nil
	case string:
		return "str:" + v, nil
	}
	if f, ok := toFloat(id); ok {
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return fmt.Sprintf("num:%d", int64(f)), nil
		}
		return fmt.Sprintf("num:%g", f), nil
	}
	data, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: id}}, true, false)
	if err != nil {
		return "", fmt.Errorf("unsupported _id value %v: %w", id, err)
	}
	return "ext:" + string(data), nil
}

// IDFromFilter returns the _id a filter pins by plain equality, if any.
func IDFromFilter(filter document.Document) (any, bool) {
	v, ok := filter.Lookup(document.IDField)
	if !ok {
		return nil, false
	}
	if ops, isDoc := asDocument(v); isDoc && isOperatorDocument(ops) {
		if len(ops) == 1 {
			if eq, ok := ops.Lookup("$eq"); ok {
				return eq, true
			}
		}
		return nil, false
	}
	return v, true
}
