package document

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// IDField is the reserved identity field name.
const IDField = "_id"

// View is a read-only document.
type View interface {
	// Lookup returns the value stored under key.
	Lookup(key string) (any, bool)

	// Keys returns the field names in document order.
	Keys() []string

	// Materialize returns an independent, mutable copy of the view.
	Materialize() (Document, error)
}

// Document is an ordered, mutable mapping of field names to values.
type Document bson.D

// New builds a Document from alternating key/value pairs.
func New(pairs ...any) Document {
	doc := make(Document, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		doc.Set(key, pairs[i+1])
	}
	return doc
}

// FromMap builds a Document from a map. Map iteration order is not stable, so
// callers that care about field order should use New.
func FromMap(m map[string]any) Document {
	doc := make(Document, 0, len(m))
	for k, v := range m {
		doc = append(doc, bson.E{Key: k, Value: v})
	}
	return doc
}

// Lookup implements View.
func (d Document) Lookup(key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Get returns the value for key or nil.
func (d Document) Get(key string) any {
	v, _ := d.Lookup(key)
	return v
}

// Has reports whether key is present.
func (d Document) Has(key string) bool {
	_, ok := d.Lookup(key)
	return ok
}

// Keys implements View.
func (d Document) Keys() []string {
	keys := make([]string, len(d))
	for i, e := range d {
		keys[i] = e.Key
	}
	return keys
}

// Len returns the number of fields.
func (d Document) Len() int {
	return len(d)
}

// Materialize implements View by returning a clone.
func (d Document) Materialize() (Document, error) {
	return d.Clone(), nil
}

// Set replaces the value of an existing field or appends a new one.
func (d *Document) Set(key string, value any) {
	for i := range *d {
		if (*d)[i].Key == key {
			(*d)[i].Value = value
			return
		}
	}
	*d = append(*d, bson.E{Key: key, Value: value})
}

// Remove deletes key. It is a no-op when key is absent.
func (d *Document) Remove(key string) {
	for i := range *d {
		if (*d)[i].Key == key {
			*d = append((*d)[:i], (*d)[i+1:]...)
			return
		}
	}
}

// Rename moves the value of from to to and removes from. If to already
// exists it is overwritten. It is a no-op when from is absent.
func (d *Document) Rename(from, to string) {
	if from == to {
		return
	}
	v, ok := d.Lookup(from)
	if !ok {
		return
	}
	d.Remove(to)
	for i := range *d {
		if (*d)[i].Key == from {
			(*d)[i] = bson.E{Key: to, Value: v}
			return
		}
	}
}

// Clone returns a copy that shares no mutable state with d.
func (d Document) Clone() Document {
	if d == nil {
		return Document{}
	}
	out := make(Document, len(d))
	for i, e := range d {
		out[i] = bson.E{Key: e.Key, Value: cloneValue(e.Value)}
	}
	return out
}

// Map converts the document into a map, recursively converting nested
// documents.
func (d Document) Map() map[string]any {
	m := make(map[string]any, len(d))
	for _, e := range d {
		m[e.Key] = plainValue(e.Value)
	}
	return m
}

// D returns the document as bson.D for drivers.
func (d Document) D() bson.D {
	return bson.D(d)
}

// Clone materializes any view into an owned Document.
func Clone(v View) (Document, error) {
	if v == nil {
		return Document{}, nil
	}
	return v.Materialize()
}

// Rename is the free-function form of Document.Rename.
func Rename(d *Document, from, to string) {
	d.Rename(from, to)
}

// RemoveField is the free-function form of Document.Remove.
func RemoveField(d *Document, name string) {
	d.Remove(name)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case bson.D:
		return bson.D(Document(t).Clone())
	case bson.M:
		m := make(bson.M, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case bson.A:
		a := make(bson.A, len(t))
		for i, vv := range t {
			a[i] = cloneValue(vv)
		}
		return a
	case []any:
		a := make([]any, len(t))
		for i, vv := range t {
			a[i] = cloneValue(vv)
		}
		return a
	case []byte:
		return append([]byte(nil), t...)
	case bson.Raw:
		return append(bson.Raw(nil), t...)
	default:
		return v
	}
}

func plainValue(v any) any {
	switch t := v.(type) {
	case Document:
		return t.Map()
	case bson.D:
		return Document(t).Map()
	case bson.A:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = plainValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = plainValue(vv)
		}
		return out
	default:
		return v
	}
}
