package collection

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/versioning"
)

// Save upserts record by its identity, generating one when unset.
func (c *Collection) Save(ctx context.Context, record any) (storage.WriteResult, error) {
	ctx, op := c.begin(ctx, "save")

	doc, err := c.prepare(ctx, "save", record)
	if err != nil {
		return storage.WriteResult{}, op.end(err)
	}
	res, err := c.live.Save(ctx, doc)
	if err != nil {
		return storage.WriteResult{}, op.end(c.stageErr("save", StageWrite, err))
	}
	op.end(nil)
	return res, nil
}

// Insert stores new records in one driver call. Each record is copied to
// history before the write; there is no batch-level atomicity.
func (c *Collection) Insert(ctx context.Context, records ...any) (storage.WriteResult, error) {
	ctx, op := c.begin(ctx, "insert")

	docs := make([]document.Document, 0, len(records))
	for _, record := range records {
		doc, err := c.prepare(ctx, "insert", record)
		if err != nil {
			return storage.WriteResult{}, op.end(err)
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		op.end(nil)
		return storage.WriteResult{Acknowledged: true}, nil
	}

	res, err := c.live.Insert(ctx, docs...)
	if err != nil {
		return storage.WriteResult{}, op.end(c.stageErr("insert", StageWrite, err))
	}
	op.end(nil)
	return res, nil
}

// InsertDocuments inserts raw documents. Documents without _id get one.
func (c *Collection) InsertDocuments(ctx context.Context, docs ...document.View) (storage.WriteResult, error) {
	records := make([]any, len(docs))
	for i, d := range docs {
		records[i] = d
	}
	return c.Insert(ctx, records...)
}

// InsertExtJSON inserts a document or an array of documents written in
// MongoDB Extended JSON. Every array element is audited on its own.
func (c *Collection) InsertExtJSON(ctx context.Context, data []byte) (storage.WriteResult, error) {
	docs, err := parseExtJSON(data)
	if err != nil {
		return storage.WriteResult{}, c.stageErr("insert", StageMarshal, err)
	}
	return c.InsertDocuments(ctx, docs...)
}

// prepare runs identity, marshalling and the history copy for one record and
// returns the document to write.
func (c *Collection) prepare(ctx context.Context, operation string, record any) (document.Document, error) {
	id, err := c.resolve(record)
	if err != nil {
		return nil, c.stageErr(operation, StageResolve, err)
	}

	view, err := c.marshaller.Marshal(record)
	if err != nil {
		return nil, c.stageErr(operation, StageMarshal, err)
	}
	pinned := document.WithIdentity(view, id)

	out, err := c.copier().Copy(ctx, pinned, c.sink())
	if err != nil {
		return nil, c.stageErr(operation, StageHistory, err)
	}
	if c.Audited() {
		if vr, ok := record.(versioning.VersionedRecord); ok {
			c.stamper.StampRecord(vr)
		}
	}

	doc, err := document.Clone(out)
	if err != nil {
		return nil, c.stageErr(operation, StageMarshal, err)
	}
	return doc, nil
}

// resolve reads or assigns the identity of record. Read-only views cannot
// take an identity, so one is generated and pinned by the caller instead.
func (c *Collection) resolve(record any) (any, error) {
	view, isView := record.(document.View)
	if _, isDoc := record.(*document.Document); !isView || isDoc {
		return c.resolver.Resolve(record)
	}
	id, err := c.resolver.ID(view)
	if err != nil {
		return nil, err
	}
	if id == nil {
		id = c.resolver.Generate()
	}
	return id, nil
}

func parseExtJSON(data []byte) ([]document.View, error) {
	wrapped := make([]byte, 0, len(data)+8)
	wrapped = append(wrapped, `{"v":`...)
	wrapped = append(wrapped, data...)
	wrapped = append(wrapped, '}')

	var holder bson.D
	if err := bson.UnmarshalExtJSON(wrapped, false, &holder); err != nil {
		return nil, fmt.Errorf("invalid extended json: %w", err)
	}
	if len(holder) != 1 {
		return nil, fmt.Errorf("invalid extended json")
	}

	switch v := holder[0].Value.(type) {
	case bson.D:
		return []document.View{document.Document(v)}, nil
	case bson.A:
		out := make([]document.View, 0, len(v))
		for i, elem := range v {
			d, ok := elem.(bson.D)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, not a document", i, elem)
			}
			out = append(out, document.Document(d))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a document or an array of documents, got %T", v)
	}
}
