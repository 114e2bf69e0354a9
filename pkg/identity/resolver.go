// Package identity decides whether a record needs a freshly generated
// identifier and reads or writes that identifier on the record.
package identity

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/platinummonkey/chronicle/pkg/document"
)

var (
	// ErrNilRecord is returned for a nil record.
	ErrNilRecord = errors.New("identity: record is nil")

	// ErrNoIdentityField is returned when a record has no identity field.
	ErrNoIdentityField = errors.New("identity: record has no identity field")

	// ErrNotAddressable is returned when an identity has to be written onto a
	// record passed by value.
	ErrNotAddressable = errors.New("identity: record must be passed by pointer")
)

// Identifiable is implemented by records that manage their own identity.
type Identifiable interface {
	DocumentID() any
	SetDocumentID(id any)
}

// Generator produces new identities.
type Generator func() any

// NewObjectID is the default Generator: a 12-byte, time-ordered ObjectID.
func NewObjectID() any {
	return bson.NewObjectID()
}

// Resolver reads, generates and assigns record identities.
type Resolver struct {
	generate Generator
}

// NewResolver creates a Resolver. A nil generator falls back to NewObjectID.
func NewResolver(generate Generator) *Resolver {
	if generate == nil {
		generate = NewObjectID
	}
	return &Resolver{generate: generate}
}

// Generate returns a new identity without assigning it.
func (r *Resolver) Generate() any {
	return r.generate()
}

// Resolve returns the record's identity, generating and assigning one first
// when the record has none.
func (r *Resolver) Resolve(record any) (any, error) {
	must, err := r.MustGenerate(record)
	if err != nil {
		return nil, err
	}
	if !must {
		return r.ID(record)
	}
	if err := r.SetID(record, r.Generate()); err != nil {
		return nil, err
	}
	// String fields hold the hex form, so the stored identity must too.
	return r.ID(record)
}

// MustGenerate reports whether the record's identity is absent or unset.
func (r *Resolver) MustGenerate(record any) (bool, error) {
	id, err := r.ID(record)
	if err != nil {
		return false, err
	}
	return IsZero(id), nil
}

// ID returns the record's identity, which may be nil.
func (r *Resolver) ID(record any) (any, error) {
	switch rec := record.(type) {
	case nil:
		return nil, ErrNilRecord
	case Identifiable:
		return rec.DocumentID(), nil
	case *document.Document:
		if rec == nil {
			return nil, ErrNilRecord
		}
		return rec.Get(document.IDField), nil
	case document.View:
		v, _ := rec.Lookup(document.IDField)
		return v, nil
	case map[string]any:
		return rec[document.IDField], nil
	}

	field, err := idField(record)
	if err != nil {
		return nil, err
	}
	if field.Kind() == reflect.Pointer || field.Kind() == reflect.Interface {
		if field.IsNil() {
			return nil, nil
		}
		return field.Elem().Interface(), nil
	}
	return field.Interface(), nil
}

// SetID writes id onto the record.
func (r *Resolver) SetID(record any, id any) error {
	switch rec := record.(type) {
	case nil:
		return ErrNilRecord
	case Identifiable:
		rec.SetDocumentID(id)
		return nil
	case *document.Document:
		if rec == nil {
			return ErrNilRecord
		}
		rec.Set(document.IDField, id)
		return nil
	case map[string]any:
		rec[document.IDField] = id
		return nil
	}

	rv := reflect.ValueOf(record)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return ErrNotAddressable
	}
	field, err := idField(record)
	if err != nil {
		return err
	}
	return assign(field, id)
}

func assign(field reflect.Value, id any) error {
	val := reflect.ValueOf(id)
	switch {
	case field.Kind() == reflect.Interface:
		field.Set(val)
	case field.Kind() == reflect.Pointer && val.Type().AssignableTo(field.Type().Elem()):
		ptr := reflect.New(field.Type().Elem())
		ptr.Elem().Set(val)
		field.Set(ptr)
	case val.Type().AssignableTo(field.Type()):
		field.Set(val)
	case field.Kind() == reflect.String:
		if oid, ok := id.(bson.ObjectID); ok {
			field.SetString(oid.Hex())
			return nil
		}
		field.SetString(fmt.Sprint(id))
	default:
		return fmt.Errorf("identity: cannot assign %T to field of type %s", id, field.Type())
	}
	return nil
}

// idField locates the struct field tagged `bson:"_id"`.
func idField(record any) (reflect.Value, error) {
	rv := reflect.ValueOf(record)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, ErrNilRecord
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: %T", ErrNoIdentityField, record)
	}
	if f, ok := findIDField(rv); ok {
		return f, nil
	}
	return reflect.Value{}, fmt.Errorf("%w: %T", ErrNoIdentityField, record)
}

func findIDField(rv reflect.Value) (reflect.Value, bool) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		name := strings.Split(sf.Tag.Get("bson"), ",")[0]
		if name == document.IDField {
			return rv.Field(i), true
		}
		// Embedded structs such as a shared base model.
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && name == "" {
			if f, ok := findIDField(rv.Field(i)); ok {
				return f, true
			}
		}
	}
	return reflect.Value{}, false
}

// IsZero reports whether id counts as unset.
func IsZero(id any) bool {
	switch v := id.(type) {
	case nil:
		return true
	case bson.ObjectID:
		return v.IsZero()
	case *bson.ObjectID:
		return v == nil || v.IsZero()
	case string:
		return v == ""
	}
	rv := reflect.ValueOf(id)
	if (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) && rv.IsNil() {
		return true
	}
	return false
}
