package query

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/storage"
)

// IsOperatorModifier reports whether modifier uses update operators rather
// than being a replacement document.
func IsOperatorModifier(modifier document.Document) bool {
	for _, e := range modifier {
		if strings.HasPrefix(e.Key, "$") {
			return true
		}
	}
	return false
}

// Apply applies modifier to doc in place. inserting enables $setOnInsert.
// Replacement documents keep the existing _id.
func Apply(doc *document.Document, modifier document.Document, inserting bool) error {
	if !IsOperatorModifier(modifier) {
		id, hasID := doc.Lookup(document.IDField)
		replacement := modifier.Clone()
		if hasID {
			replacement.Remove(document.IDField)
			out := document.New(document.IDField, id)
			*doc = append(out, replacement...)
		} else {
			*doc = replacement
		}
		return nil
	}

	for _, op := range modifier {
		fields, ok := asDocument(op.Value)
		if !ok {
			return fmt.Errorf("%s requires a document", op.Key)
		}
		for _, f := range fields {
			if f.Key == document.IDField && op.Key != "$setOnInsert" {
				if cur, ok := doc.Lookup(document.IDField); ok && !Equal(cur, f.Value) {
					return fmt.Errorf("cannot modify immutable field %s", document.IDField)
				}
			}
			var err error
			switch op.Key {
			case "$set":
				err = setPath(doc, f.Key, f.Value)
			case "$setOnInsert":
				if inserting {
					err = setPath(doc, f.Key, f.Value)
				}
			case "$unset":
				unsetPath(doc, f.Key)
			case "$inc":
				err = incPath(doc, f.Key, f.Value)
			default:
				return fmt.Errorf("%w: %s", storage.ErrUnsupportedOperator, op.Key)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// UpsertSeed builds the document an upsert starts from: the equality fields
// of filter.
func UpsertSeed(filter document.Document) document.Document {
	seed := document.Document{}
	for _, e := range filter {
		if strings.HasPrefix(e.Key, "$") {
			continue
		}
		if ops, ok := asDocument(e.Value); ok && isOperatorDocument(ops) {
			if v, ok := ops.Lookup("$eq"); ok {
				_ = setPath(&seed, e.Key, v)
			}
			continue
		}
		_ = setPath(&seed, e.Key, e.Value)
	}
	return seed
}

func setPath(doc *document.Document, path string, value any) error {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		doc.Set(head, value)
		return nil
	}
	child := document.Document{}
	if cur, ok := doc.Lookup(head); ok {
		d, isDoc := asDocument(cur)
		if !isDoc {
			return fmt.Errorf("cannot create field %q in non-document value at %q", rest, head)
		}
		child = d.Clone()
	}
	if err := setPath(&child, rest, value); err != nil {
		return err
	}
	doc.Set(head, bson.D(child))
	return nil
}

func unsetPath(doc *document.Document, path string) {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		doc.Remove(head)
		return
	}
	cur, ok := doc.Lookup(head)
	if !ok {
		return
	}
	d, isDoc := asDocument(cur)
	if !isDoc {
		return
	}
	child := d.Clone()
	unsetPath(&child, rest)
	doc.Set(head, bson.D(child))
}

func incPath(doc *document.Document, path string, delta any) error {
	if _, ok := toFloat(delta); !ok {
		return fmt.Errorf("cannot increment with non-numeric argument %v", delta)
	}
	cur, ok := Lookup(*doc, path)
	if !ok {
		return setPath(doc, path, delta)
	}
	sum, err := add(cur, delta)
	if err != nil {
		return fmt.Errorf("cannot apply $inc to %q: %w", path, err)
	}
	return setPath(doc, path, sum)
}

// add keeps the operand width where possible: int32 stays int32 until it
// overflows, anything involving a float becomes float64.
func add(a, b any) (any, error) {
	if _, ok := toFloat(a); !ok {
		return nil, fmt.Errorf("field has non-numeric type %T", a)
	}
	_, aFloat := a.(float64)
	_, bFloat := b.(float64)
	_, aF32 := a.(float32)
	_, bF32 := b.(float32)
	if aFloat || bFloat || aF32 || bF32 {
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return fa + fb, nil
	}
	ia, _ := toInt64(a)
	ib, _ := toInt64(b)
	sum := ia + ib
	_, a32 := a.(int32)
	_, b32 := b.(int32)
	_, bInt := b.(int)
	if a32 && (b32 || bInt) && sum <= math.MaxInt32 && sum >= math.MinInt32 {
		return int32(sum), nil
	}
	return sum, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint:
		return int64(n), true
	}
	return 0, false
}

// Project applies an inclusion or exclusion projection. _id is kept unless
// explicitly excluded.
func Project(doc document.Document, projection document.Document) document.Document {
	if len(projection) == 0 {
		return doc
	}
	include := false
	for _, e := range projection {
		if e.Key == document.IDField {
			continue
		}
		include = truthy(e.Value)
		break
	}
	keepID := true
	if v, ok := projection.Lookup(document.IDField); ok {
		keepID = truthy(v)
	}

	out := document.Document{}
	for _, e := range doc {
		if e.Key == document.IDField {
			if keepID {
				out = append(out, e)
			}
			continue
		}
		v, listed := projection.Lookup(e.Key)
		switch {
		case include && listed && truthy(v):
			out = append(out, e)
		case !include && !listed:
			out = append(out, e)
		}
	}
	return out
}

func truthy(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return v != nil
}

// Sort orders docs in place by a sort specification such as
// {"_version": -1, "name": 1}. Missing fields sort first.
func Sort(docs []document.Document, spec document.Document) {
	if len(spec) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, key := range spec {
			dir := 1
			if f, ok := toFloat(key.Value); ok && f < 0 {
				dir = -1
			}
			a, aok := Lookup(docs[i], key.Key)
			b, bok := Lookup(docs[j], key.Key)
			switch {
			case !aok && !bok:
				continue
			case !aok:
				return dir > 0
			case !bok:
				return dir < 0
			}
			c, ok := Compare(a, b)
			if !ok || c == 0 {
				continue
			}
			return c*dir < 0
		}
		return false
	})
}
