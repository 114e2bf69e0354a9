package collection

import (
	"context"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/storage/query"
	"github.com/platinummonkey/chronicle/pkg/versioning"
)

// Update is a filter-based update under construction.
type Update struct {
	c      *Collection
	filter document.Document
	upsert bool
	multi  bool
	err    error
}

// Update starts an update of the documents matching filter.
func (c *Collection) Update(filter document.Document) *Update {
	if filter == nil {
		filter = document.New()
	}
	return &Update{c: c, filter: filter}
}

// UpdateID starts an update of the document with the given _id.
func (c *Collection) UpdateID(id any) *Update {
	u := c.Update(document.New(document.IDField, id))
	if id == nil {
		u.err = c.stageErr("update", StageResolve, ErrNilID)
	}
	return u
}

// Upsert inserts a document when nothing matches.
func (u *Update) Upsert() *Update {
	u.upsert = true
	return u
}

// Multi updates every matching document instead of the first.
func (u *Update) Multi() *Update {
	u.multi = true
	return u
}

// With applies an operator modifier such as {"$set": {...}}. Operator
// updates are written directly and are not audited. A modifier without
// operators is a replacement and goes through WithRecord.
func (u *Update) With(ctx context.Context, modifier document.Document) (storage.WriteResult, error) {
	if u.err != nil {
		return storage.WriteResult{}, u.err
	}
	if len(modifier) == 0 {
		return storage.WriteResult{}, u.c.stageErr("update", StageResolve, ErrNilModifier)
	}
	if !query.IsOperatorModifier(modifier) {
		return u.WithRecord(ctx, modifier)
	}

	ctx, op := u.c.begin(ctx, "update")
	if u.c.Audited() {
		op.log.Debug("operator update is not audited")
	}
	res, err := u.c.live.Update(ctx, u.filter, modifier, u.options())
	if err != nil {
		return storage.WriteResult{}, op.end(u.c.stageErr("update", StageWrite, err))
	}
	op.end(nil)
	return res, nil
}

// WithRecord replaces the fields of the matching documents with the fields of
// record. The record's _id is ignored; live identities never change. On
// audited collections the record's version and last-change fields are ignored
// too.
func (u *Update) WithRecord(ctx context.Context, record any) (storage.WriteResult, error) {
	if u.err != nil {
		return storage.WriteResult{}, u.err
	}
	if record == nil {
		return storage.WriteResult{}, u.c.stageErr("update", StageResolve, ErrNilModifier)
	}

	ctx, op := u.c.begin(ctx, "update")

	view, err := u.c.marshaller.Marshal(record)
	if err != nil {
		return storage.WriteResult{}, op.end(u.c.stageErr("update", StageMarshal, err))
	}
	fields, err := document.Clone(view)
	if err != nil {
		return storage.WriteResult{}, op.end(u.c.stageErr("update", StageMarshal, err))
	}
	fields.Remove(document.IDField)
	if u.c.Audited() {
		// Versions only move through the $inc applied after the write.
		fields.Remove(versioning.VersionField)
		fields.Remove(versioning.LastChangeField)
	}
	if fields.Len() == 0 {
		return storage.WriteResult{}, op.end(u.c.stageErr("update", StageResolve, ErrNilModifier))
	}
	modifier := document.New("$set", fields)

	if !u.c.Audited() {
		res, err := u.c.live.Update(ctx, u.filter, modifier, u.options())
		if err != nil {
			return storage.WriteResult{}, op.end(u.c.stageErr("update", StageWrite, err))
		}
		op.end(nil)
		return res, nil
	}

	find := storage.FindOptions{}
	if !u.multi {
		find.Limit = 1
	}
	before, err := u.c.preImages(ctx, u.filter, find)
	if err != nil {
		return storage.WriteResult{}, op.end(u.c.stageErr("update", StageHistory, err))
	}

	res, err := u.c.live.Update(ctx, u.filter, modifier, u.options())
	if err != nil {
		return storage.WriteResult{}, op.end(u.c.stageErr("update", StageWrite, err))
	}

	targets := before
	if res.Matched == 0 {
		targets = nil
	}
	if res.Upserted > 0 && res.UpsertedID != nil {
		created, err := u.c.live.Find(ctx, document.New(document.IDField, res.UpsertedID), storage.FindOptions{Limit: 1})
		if err != nil {
			return res, op.end(u.c.stageErr("update", StageHistory, err))
		}
		targets = append(targets, created...)
	}
	if err := u.c.auditAfterWrite(ctx, targets, true); err != nil {
		return res, op.end(u.c.stageErr("update", StageHistory, err))
	}
	op.end(nil)
	return res, nil
}

func (u *Update) options() storage.UpdateOptions {
	return storage.UpdateOptions{Upsert: u.upsert, Multi: u.multi}
}
