// Package storagetest is a conformance suite for storage backends.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/chronicle"
	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/versioning"
)

// Run checks db against the storage contract. Each subtest uses its own
// collection so a shared database may be passed.
func Run(t *testing.T, db storage.Database) {
	t.Run("InsertFindCount", func(t *testing.T) { testInsertFindCount(t, db) })
	t.Run("Save", func(t *testing.T) { testSave(t, db) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, db) })
	t.Run("FindAndModify", func(t *testing.T) { testFindAndModify(t, db) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, db) })
	t.Run("AuditedWrites", func(t *testing.T) { testAuditedWrites(t, db) })
}

func seed(t *testing.T, coll storage.Collection) {
	t.Helper()
	_, err := coll.Insert(context.Background(),
		document.New("_id", "a", "n", int32(1)),
		document.New("_id", "b", "n", int32(2)),
		document.New("_id", "c", "n", int32(3)),
	)
	require.NoError(t, err)
}

func ids(docs []document.Document) []any {
	out := make([]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Get(document.IDField))
	}
	return out
}

func testInsertFindCount(t *testing.T, db storage.Database) {
	ctx := context.Background()
	coll := db.Collection("conformance_find")
	seed(t, coll)

	docs, err := coll.Find(ctx, document.New("n", document.New("$gt", int32(1))), storage.FindOptions{
		Sort: document.New("n", -1),
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"c", "b"}, ids(docs))

	docs, err = coll.Find(ctx, document.Document{}, storage.FindOptions{Sort: document.New("n", 1), Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, ids(docs))

	n, err := coll.Count(ctx, document.Document{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = coll.Insert(ctx, document.New("_id", "a"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	res, err := coll.Insert(ctx, document.New("n", int32(4)))
	require.NoError(t, err)
	require.Len(t, res.InsertedIDs, 1)
	assert.NotNil(t, res.InsertedIDs[0])
}

func testSave(t *testing.T, db storage.Database) {
	ctx := context.Background()
	coll := db.Collection("conformance_save")
	seed(t, coll)

	_, err := coll.Save(ctx, document.New("_id", "a", "name", "replaced"))
	require.NoError(t, err)
	_, err = coll.Save(ctx, document.New("_id", "z", "name", "new"))
	require.NoError(t, err)

	docs, err := coll.Find(ctx, document.New("_id", "a"), storage.FindOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "replaced", docs[0].Get("name"))
	assert.False(t, docs[0].Has("n"))

	n, err := coll.Count(ctx, document.Document{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func testUpdate(t *testing.T, db storage.Database) {
	ctx := context.Background()
	coll := db.Collection("conformance_update")
	seed(t, coll)

	res, err := coll.Update(ctx,
		document.New("n", document.New("$gte", int32(2))),
		document.New("$inc", document.New("n", int32(10)), "$set", document.New("tag", "x")),
		storage.UpdateOptions{Multi: true},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Matched)

	docs, err := coll.Find(ctx, document.New("tag", "x"), storage.FindOptions{Sort: document.New("n", 1)})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.EqualValues(t, 12, docs[0].Get("n"))
	assert.EqualValues(t, 13, docs[1].Get("n"))

	res, err = coll.Update(ctx, document.New("_id", "a"), document.New("$set", document.New("tag", "y")), storage.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Matched)

	res, err = coll.Update(ctx, document.New("_id", "new"), document.New("$set", document.New("n", int32(7))), storage.UpdateOptions{Upsert: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Upserted)
	assert.Equal(t, "new", res.UpsertedID)

	n, err := coll.Count(ctx, document.New("n", int32(7)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func testFindAndModify(t *testing.T, db storage.Database) {
	ctx := context.Background()
	coll := db.Collection("conformance_fam")
	seed(t, coll)

	doc, ok, err := coll.FindAndModify(ctx, document.New("_id", "b"), storage.FindAndModifyOptions{
		Update:    document.New("$inc", document.New("n", int32(1))),
		ReturnNew: true,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 3, doc.Get("n"))

	doc, ok, err = coll.FindAndModify(ctx, document.New("_id", "b"), storage.FindAndModifyOptions{
		Update: document.New("$set", document.New("n", int32(0))),
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 3, doc.Get("n"))

	doc, ok, err = coll.FindAndModify(ctx, document.New("_id", "c"), storage.FindAndModifyOptions{Remove: true})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c", doc.Get(document.IDField))

	_, ok, err = coll.FindAndModify(ctx, document.New("_id", "missing"), storage.FindAndModifyOptions{
		Update: document.New("$set", document.New("n", int32(1))),
	})
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := coll.Count(ctx, document.Document{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func testDelete(t *testing.T, db storage.Database) {
	ctx := context.Background()
	coll := db.Collection("conformance_delete")
	seed(t, coll)

	res, err := coll.Delete(ctx, document.New("_id", document.New("$in", []any{"a", "c", "missing"})))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Deleted)

	docs, err := coll.Find(ctx, document.Document{}, storage.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []any{"b"}, ids(docs))
}

func testAuditedWrites(t *testing.T, db storage.Database) {
	ctx := context.Background()
	cdb, err := chronicle.New(db, audit.DefaultPolicy())
	require.NoError(t, err)
	users := cdb.Collection("conformance_users")

	_, err = users.Save(ctx, document.New("_id", "u1", "name", "A"))
	require.NoError(t, err)
	_, err = users.Update(document.New("_id", "u1")).WithRecord(ctx, document.New("name", "B"))
	require.NoError(t, err)

	rows, err := users.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "u1", row.Get("_docId"))
		assert.True(t, row.Has(versioning.LastChangeField))
	}

	live, ok, err := users.FindID(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", live.Get("name"))
	assert.EqualValues(t, 2, live.Get(versioning.VersionField))
}
