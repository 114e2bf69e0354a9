package document

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ErrReadOnly is returned when a write is attempted on a guarded view.
var ErrReadOnly = errors.New("document: view is read only")

// RawView is a lazily decoded view over encoded BSON bytes. Fields are decoded
// on access; nothing is ever written back into the buffer.
type RawView struct {
	raw bson.Raw
}

// NewRawView wraps encoded BSON. The bytes are validated up front so later
// lookups cannot fail on a malformed buffer.
func NewRawView(data []byte) (*RawView, error) {
	raw := bson.Raw(data)
	if err := raw.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bson document: %w", err)
	}
	return &RawView{raw: raw}, nil
}

// Bytes returns the underlying buffer.
func (v *RawView) Bytes() []byte {
	return v.raw
}

// Lookup implements View.
func (v *RawView) Lookup(key string) (any, bool) {
	rv, err := v.raw.LookupErr(key)
	if err != nil {
		return nil, false
	}
	val, err := decodeValue(rv)
	if err != nil {
		return nil, false
	}
	return val, true
}

// Keys implements View.
func (v *RawView) Keys() []string {
	elems, err := v.raw.Elements()
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(elems))
	for _, e := range elems {
		keys = append(keys, e.Key())
	}
	return keys
}

// Materialize decodes every field into an owned Document.
func (v *RawView) Materialize() (Document, error) {
	var d bson.D
	if err := bson.Unmarshal(v.raw, &d); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return Document(d), nil
}

func decodeValue(rv bson.RawValue) (any, error) {
	// Wrap the single value in a document so the default decoder picks the
	// same Go types Materialize would.
	wrapped, err := bson.Marshal(bson.D{{Key: "v", Value: rv}})
	if err != nil {
		return nil, err
	}
	var d bson.D
	if err := bson.Unmarshal(wrapped, &d); err != nil {
		return nil, err
	}
	if len(d) != 1 {
		return nil, fmt.Errorf("unexpected decoded length %d", len(d))
	}
	return d[0].Value, nil
}

// IdentityView pins the identity field of an underlying view. The identity is
// set once at construction; any later write is rejected with ErrReadOnly.
type IdentityView struct {
	base View
	id   any
}

// WithIdentity returns a view of base whose IDField answers id. A nil id
// leaves the base view's own identity (if any) visible.
func WithIdentity(base View, id any) *IdentityView {
	return &IdentityView{base: base, id: id}
}

// ID returns the pinned identity.
func (v *IdentityView) ID() any {
	return v.id
}

// Set always fails: the view is write-once and construction was the write.
func (v *IdentityView) Set(key string, value any) error {
	return fmt.Errorf("%w: cannot set %q", ErrReadOnly, key)
}

// Lookup implements View.
func (v *IdentityView) Lookup(key string) (any, bool) {
	if key == IDField && v.id != nil {
		return v.id, true
	}
	return v.base.Lookup(key)
}

// Keys implements View. The identity field is listed first when it is pinned
// and absent from the base view.
func (v *IdentityView) Keys() []string {
	keys := v.base.Keys()
	if v.id == nil {
		return keys
	}
	for _, k := range keys {
		if k == IDField {
			return keys
		}
	}
	return append([]string{IDField}, keys...)
}

// Materialize returns an owned Document carrying the pinned identity.
func (v *IdentityView) Materialize() (Document, error) {
	doc, err := v.base.Materialize()
	if err != nil {
		return nil, err
	}
	if v.id == nil {
		return doc, nil
	}
	if doc.Has(IDField) {
		doc.Set(IDField, v.id)
		return doc, nil
	}
	out := make(Document, 0, len(doc)+1)
	out = append(out, bson.E{Key: IDField, Value: v.id})
	return append(out, doc...), nil
}
