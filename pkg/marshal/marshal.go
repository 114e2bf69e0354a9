// Package marshal turns application records into documents.
package marshal

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/platinummonkey/chronicle/pkg/document"
)

// Marshaller converts a record into a document view.
type Marshaller interface {
	Marshal(record any) (document.View, error)
}

// Error describes a record that could not be marshalled.
type Error struct {
	Record any
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("unable to marshal %T %+v: %v", e.Record, e.Record, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BSON marshals records with the bson package and returns lazily decoded
// views over the encoded bytes. Documents pass through untouched.
type BSON struct{}

// Marshal implements Marshaller.
func (BSON) Marshal(record any) (document.View, error) {
	switch r := record.(type) {
	case nil:
		return nil, &Error{Record: record, Err: fmt.Errorf("record is nil")}
	case *document.Document:
		if r == nil {
			return nil, &Error{Record: record, Err: fmt.Errorf("record is nil")}
		}
		return *r, nil
	case document.View:
		return r, nil
	case bson.D:
		return document.Document(r), nil
	case bson.Raw:
		return rawView(record, r)
	}

	data, err := bson.Marshal(record)
	if err != nil {
		return nil, &Error{Record: record, Err: err}
	}
	return rawView(record, data)
}

func rawView(record any, data []byte) (document.View, error) {
	view, err := document.NewRawView(data)
	if err != nil {
		return nil, &Error{Record: record, Err: err}
	}
	return view, nil
}
