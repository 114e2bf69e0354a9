// Package codec converts documents to and from canonical Extended JSON, the
// body format of every backend that stores documents as text.
package codec

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/platinummonkey/chronicle/pkg/document"
)

// Marshal encodes doc as canonical Extended JSON. Canonical mode keeps
// number widths, so a version stored as int32 reads back as int32.
func Marshal(doc document.Document) ([]byte, error) {
	data, err := bson.MarshalExtJSON(doc.D(), true, false)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal %v: %w", doc.Get(document.IDField), err)
	}
	return data, nil
}

// Unmarshal decodes an Extended JSON document.
func Unmarshal(data []byte) (document.Document, error) {
	var d bson.D
	if err := bson.UnmarshalExtJSON(data, true, &d); err != nil {
		return nil, fmt.Errorf("codec: unmarshal: %w", err)
	}
	return Normalize(document.Document(d)), nil
}

// Normalize converts driver values into the types documents hold in memory:
// embedded documents become document.Document and dates become UTC
// time.Time.
func Normalize(doc document.Document) document.Document {
	for i := range doc {
		doc[i].Value = normalizeValue(doc[i].Value)
	}
	return doc
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case bson.D:
		return Normalize(document.Document(t))
	case document.Document:
		return Normalize(t)
	case bson.A:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	case bson.DateTime:
		return t.Time().UTC()
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}
