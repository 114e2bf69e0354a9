package collection

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/storage/query"
)

// FindAndModify is an atomic single-document operation under construction.
type FindAndModify struct {
	c          *Collection
	filter     document.Document
	modifier   document.Document
	projection document.Document
	sort       document.Document
	remove     bool
	returnNew  bool
	upsert     bool
}

// FindAndModify starts an atomic operation on the first document matching
// filter.
func (c *Collection) FindAndModify(filter document.Document) *FindAndModify {
	if filter == nil {
		filter = document.New()
	}
	return &FindAndModify{c: c, filter: filter}
}

// With sets the modifier. A document without operators replaces the target,
// keeping its _id.
func (f *FindAndModify) With(modifier document.Document) *FindAndModify {
	f.modifier = modifier
	return f
}

// Projection limits the fields of the returned document.
func (f *FindAndModify) Projection(projection document.Document) *FindAndModify {
	f.projection = projection
	return f
}

// Sort picks the target when several documents match.
func (f *FindAndModify) Sort(sort document.Document) *FindAndModify {
	f.sort = sort
	return f
}

// Remove deletes the target instead of modifying it.
func (f *FindAndModify) Remove() *FindAndModify {
	f.remove = true
	return f
}

// ReturnNew returns the document after the modification.
func (f *FindAndModify) ReturnNew() *FindAndModify {
	f.returnNew = true
	return f
}

// Upsert inserts a document when nothing matches.
func (f *FindAndModify) Upsert() *FindAndModify {
	f.upsert = true
	return f
}

// Result runs the operation. The returned document is the atomic result as
// the store produced it, before the audit pass.
func (f *FindAndModify) Result(ctx context.Context) (document.Document, bool, error) {
	c := f.c
	if !f.remove && len(f.modifier) == 0 {
		return nil, false, c.stageErr("find_and_modify", StageResolve, ErrNilModifier)
	}

	ctx, op := c.begin(ctx, "find_and_modify")
	opts := f.options()

	if !c.Audited() {
		doc, found, err := c.live.FindAndModify(ctx, f.filter, opts)
		if err != nil {
			return nil, false, op.end(c.stageErr("find_and_modify", StageWrite, err))
		}
		op.end(nil)
		return doc, found, nil
	}

	before, err := c.preImages(ctx, f.filter, storage.FindOptions{Sort: f.sort, Limit: 1})
	if err != nil {
		return nil, false, op.end(c.stageErr("find_and_modify", StageHistory, err))
	}

	doc, found, err := c.live.FindAndModify(ctx, f.filter, opts)
	if err != nil {
		return nil, false, op.end(c.stageErr("find_and_modify", StageWrite, err))
	}

	var targets []document.Document
	switch {
	case len(before) > 0 && found:
		targets = before
	case len(before) == 0 && f.upsert && !f.remove:
		// The upsert created the document; its first state is what history
		// gets.
		lookup := f.filter
		if found {
			if id, ok := doc.Lookup(document.IDField); ok {
				lookup = document.New(document.IDField, id)
			}
		}
		targets, err = c.live.Find(ctx, lookup, storage.FindOptions{Sort: f.sort, Limit: 1})
		if err != nil {
			return doc, found, op.end(c.stageErr("find_and_modify", StageHistory, err))
		}
	}

	if err := c.auditAfterWrite(ctx, targets, !f.remove); err != nil {
		return doc, found, op.end(c.stageErr("find_and_modify", StageHistory, err))
	}
	op.end(nil)
	return doc, found, nil
}

// Decode runs the operation and decodes the result into out.
func (f *FindAndModify) Decode(ctx context.Context, out any) (bool, error) {
	doc, found, err := f.Result(ctx)
	if err != nil || !found {
		return found, err
	}
	data, err := bson.Marshal(doc.D())
	if err != nil {
		return true, f.c.stageErr("find_and_modify", StageMarshal, err)
	}
	if err := bson.Unmarshal(data, out); err != nil {
		return true, f.c.stageErr("find_and_modify", StageMarshal, fmt.Errorf("decode into %T: %w", out, err))
	}
	return true, nil
}

func (f *FindAndModify) options() storage.FindAndModifyOptions {
	modifier := f.modifier
	if len(modifier) > 0 && !query.IsOperatorModifier(modifier) {
		modifier = modifier.Clone()
		modifier.Remove(document.IDField)
	}
	return storage.FindAndModifyOptions{
		Projection: f.projection,
		Sort:       f.sort,
		Update:     modifier,
		Remove:     f.remove,
		ReturnNew:  f.returnNew,
		Upsert:     f.upsert,
	}
}
