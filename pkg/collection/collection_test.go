package collection

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/history"
	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/storage/memory"
	"github.com/platinummonkey/chronicle/pkg/versioning"
)

var now = time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)

type user struct {
	ID      bson.ObjectID `bson:"_id,omitempty"`
	Name    string        `bson:"name"`
	Version *int          `bson:"_version,omitempty"`
}

func (u *user) DocumentVersion() *int     { return u.Version }
func (u *user) SetDocumentVersion(v *int) { u.Version = v }

type plain struct {
	ID   string `bson:"_id,omitempty"`
	Name string `bson:"name"`
}

type fixture struct {
	db      *memory.Database
	live    storage.Collection
	history storage.Collection
	coll    *Collection
}

func newFixture(t *testing.T, audited bool, opts ...Option) *fixture {
	t.Helper()
	db := memory.New()
	f := &fixture{
		db:      db,
		live:    db.Collection("users"),
		history: db.Collection(history.Name("users")),
	}
	opts = append([]Option{
		WithStamper(&versioning.Stamper{Now: func() time.Time { return now }}),
	}, opts...)
	if audited {
		opts = append(opts, WithHistory(f.history))
	}
	f.coll = New(f.live, opts...)
	return f
}

func (f *fixture) liveDoc(t *testing.T, id any) document.Document {
	t.Helper()
	docs, err := f.live.Find(context.Background(), document.New("_id", id), storage.FindOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	return docs[0]
}

func (f *fixture) rows(t *testing.T) []document.Document {
	t.Helper()
	rows, err := f.history.Find(context.Background(), document.New(), storage.FindOptions{})
	require.NoError(t, err)
	return rows
}

func version(t *testing.T, d document.View) int64 {
	t.Helper()
	n, ok, err := versioning.Version(d)
	require.NoError(t, err)
	require.True(t, ok, "document has no version")
	return n
}

func TestSave_AssignsIdentityAndAudits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	u := &user{Name: "A"}

	_, err := f.coll.Save(ctx, u)
	require.NoError(t, err)

	require.False(t, u.ID.IsZero())
	require.NotNil(t, u.Version)
	assert.Equal(t, 1, *u.Version)

	live := f.liveDoc(t, u.ID)
	assert.Equal(t, "A", live.Get("name"))
	assert.Equal(t, int64(1), version(t, live))
	assert.Equal(t, now, live.Get(versioning.LastChangeField))

	rows := f.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, u.ID, rows[0].Get(history.RefIDField))
	assert.NotEqual(t, u.ID, rows[0].Get(document.IDField), "history rows get their own identity")
	assert.Equal(t, int64(1), version(t, rows[0]))

	// Saving again bumps both the record and the stored version.
	u.Name = "B"
	_, err = f.coll.Save(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, 2, *u.Version)
	live = f.liveDoc(t, u.ID)
	assert.Equal(t, "B", live.Get("name"))
	assert.Equal(t, int64(2), version(t, live))
	assert.Len(t, f.rows(t), 2)
}

func TestSave_WithoutHistoryLeavesDocumentUnstamped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	u := &user{Name: "A"}

	_, err := f.coll.Save(ctx, u)
	require.NoError(t, err)

	assert.Nil(t, u.Version)
	live := f.liveDoc(t, u.ID)
	assert.False(t, live.Has(versioning.VersionField))
	assert.False(t, live.Has(versioning.LastChangeField))
	assert.Empty(t, f.rows(t))
}

func TestSave_StringIdentityRoundTrips(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	rec := &plain{Name: "A"}

	_, err := f.coll.Save(ctx, rec)
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	live, found, err := f.coll.FindID(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.ID, live.Get(document.IDField))

	rec.Name = "B"
	_, err = f.coll.Save(ctx, rec)
	require.NoError(t, err)

	n, err := f.coll.Count(ctx, document.New())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, "B", f.liveDoc(t, rec.ID).Get("name"))

	rows := f.rows(t)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, rec.ID, row.Get(history.RefIDField))
	}
}

func TestInsert_BatchGetsDistinctIdentities(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	records := make([]any, 500)
	for i := range records {
		records[i] = &plain{Name: "n"}
	}
	res, err := f.coll.Insert(ctx, records...)
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.Inserted)

	seen := make(map[string]struct{})
	for _, r := range records {
		id := r.(*plain).ID
		require.NotEmpty(t, id)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
	assert.Len(t, f.rows(t), 500)
}

func TestInsert_KeepsExistingIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	_, err := f.coll.Insert(ctx, &plain{ID: "p1", Name: "A"})
	require.NoError(t, err)

	live := f.liveDoc(t, "p1")
	assert.Equal(t, "A", live.Get("name"))
}

func TestInsertDocuments_RawViews(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	data, err := bson.Marshal(bson.D{{Key: "name", Value: "raw"}})
	require.NoError(t, err)
	raw, err := document.NewRawView(data)
	require.NoError(t, err)

	res, err := f.coll.InsertDocuments(ctx, raw, document.New("_id", "d2", "name", "doc"))
	require.NoError(t, err)
	require.Len(t, res.InsertedIDs, 2)
	assert.IsType(t, bson.ObjectID{}, res.InsertedIDs[0])
	assert.Equal(t, "d2", res.InsertedIDs[1])

	assert.Equal(t, int64(1), version(t, f.liveDoc(t, res.InsertedIDs[0])))
	assert.Len(t, f.rows(t), 2)
}

func TestInsertExtJSON(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	res, err := f.coll.InsertExtJSON(ctx, []byte(`[{"_id": 1, "name": "a"}, {"_id": 2, "name": "b"}]`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Inserted)
	assert.Len(t, f.rows(t), 2)

	_, err = f.coll.InsertExtJSON(ctx, []byte(`{"_id": 3}`))
	require.NoError(t, err)

	_, err = f.coll.InsertExtJSON(ctx, []byte(`[1, 2]`))
	stage, ok := StageOf(err)
	require.True(t, ok)
	assert.Equal(t, StageMarshal, stage)
}

func TestUpdateWithRecord_ReplacementScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.live.Insert(ctx, document.New("_id", 1, "name", "A", versioning.VersionField, 2))
	require.NoError(t, err)

	res, err := f.coll.Update(document.New("_id", 1)).WithRecord(ctx, document.New("name", "B"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Matched)

	live := f.liveDoc(t, 1)
	assert.Equal(t, "B", live.Get("name"))
	assert.Equal(t, int64(3), version(t, live))
	assert.Equal(t, now, live.Get(versioning.LastChangeField))

	rows := f.rows(t)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, 1, row.Get(history.RefIDField))
	assert.Equal(t, "A", row.Get("name"))
	assert.Equal(t, int64(3), version(t, row))
	assert.Equal(t, now, row.Get(versioning.LastChangeField))
	assert.NotEqual(t, 1, row.Get(document.IDField))
}

func TestUpdateWithRecord_StripsIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.live.Insert(ctx, document.New("_id", "keep", "name", "A"))
	require.NoError(t, err)

	_, err = f.coll.UpdateID("keep").WithRecord(ctx, &plain{ID: "other", Name: "B"})
	require.NoError(t, err)

	live := f.liveDoc(t, "keep")
	assert.Equal(t, "B", live.Get("name"))
	n, err := f.live.Count(ctx, document.New("_id", "other"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateWithRecord_StaleVersionNeverLowersLiveVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	id := bson.NewObjectID()
	_, err := f.live.Insert(ctx, document.New("_id", id, "name", "A", versioning.VersionField, 5))
	require.NoError(t, err)

	stale := 2
	_, err = f.coll.UpdateID(id).WithRecord(ctx, &user{ID: id, Name: "B", Version: &stale})
	require.NoError(t, err)

	live := f.liveDoc(t, id)
	assert.Equal(t, "B", live.Get("name"))
	assert.Equal(t, int64(6), version(t, live))

	rows := f.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0].Get("name"))
	assert.Equal(t, int64(6), version(t, rows[0]))
}

func TestUpdateWithRecord_UnauditedKeepsVersionField(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.live.Insert(ctx, document.New("_id", 1, "name", "A"))
	require.NoError(t, err)

	_, err = f.coll.UpdateID(1).WithRecord(ctx, document.New("name", "B", versioning.VersionField, 7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), version(t, f.liveDoc(t, 1)))
}

func TestUpdateWithRecord_Multi(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.live.Insert(ctx,
		document.New("_id", 1, "group", "g", "name", "a"),
		document.New("_id", 2, "group", "g", "name", "b"),
		document.New("_id", 3, "group", "other", "name", "c"),
	)
	require.NoError(t, err)

	res, err := f.coll.Update(document.New("group", "g")).Multi().WithRecord(ctx, document.New("name", "same"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Matched)

	assert.Len(t, f.rows(t), 2)
	assert.Equal(t, int64(1), version(t, f.liveDoc(t, 1)))
	assert.Equal(t, int64(1), version(t, f.liveDoc(t, 2)))
	assert.False(t, f.liveDoc(t, 3).Has(versioning.VersionField))
}

func TestUpdateWithRecord_Upsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	res, err := f.coll.Update(document.New("name", "new")).Upsert().WithRecord(ctx, document.New("name", "new", "age", 3))
	require.NoError(t, err)
	require.NotNil(t, res.UpsertedID)

	live := f.liveDoc(t, res.UpsertedID)
	assert.Equal(t, int64(1), version(t, live))
	rows := f.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, res.UpsertedID, rows[0].Get(history.RefIDField))
}

func TestUpdateWithRecord_NoMatchWritesNoHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	res, err := f.coll.Update(document.New("_id", "missing")).WithRecord(ctx, document.New("name", "x"))
	require.NoError(t, err)
	assert.Zero(t, res.Matched)
	assert.Empty(t, f.rows(t))
}

func TestUpdateWith_OperatorUpdateIsNotAudited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.live.Insert(ctx, document.New("_id", 1, "n", int32(1)))
	require.NoError(t, err)

	_, err = f.coll.UpdateID(1).With(ctx, document.New("$inc", document.New("n", int32(1))))
	require.NoError(t, err)

	live := f.liveDoc(t, 1)
	assert.Equal(t, int32(2), live.Get("n"))
	assert.False(t, live.Has(versioning.VersionField))
	assert.Empty(t, f.rows(t))
}

func TestUpdateWith_ReplacementDocumentIsAudited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.live.Insert(ctx, document.New("_id", 1, "name", "A"))
	require.NoError(t, err)

	_, err = f.coll.UpdateID(1).With(ctx, document.New("name", "B"))
	require.NoError(t, err)

	assert.Len(t, f.rows(t), 1)
	assert.Equal(t, int64(1), version(t, f.liveDoc(t, 1)))
}

func TestUpdate_ConfigurationErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	_, err := f.coll.Update(document.New()).With(ctx, nil)
	assert.ErrorIs(t, err, ErrNilModifier)

	_, err = f.coll.Update(document.New()).WithRecord(ctx, nil)
	assert.ErrorIs(t, err, ErrNilModifier)

	_, err = f.coll.Update(document.New()).WithRecord(ctx, document.New("_id", 1))
	assert.ErrorIs(t, err, ErrNilModifier)

	_, err = f.coll.UpdateID(nil).With(ctx, document.New("$set", document.New("a", 1)))
	assert.ErrorIs(t, err, ErrNilID)
	stage, _ := StageOf(err)
	assert.Equal(t, StageResolve, stage)
}

func TestUpdate_CorruptVersionFailsBeforeWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.live.Insert(ctx, document.New("_id", 1, "name", "A", versioning.VersionField, "two"))
	require.NoError(t, err)

	_, err = f.coll.UpdateID(1).WithRecord(ctx, document.New("name", "B"))
	require.Error(t, err)
	assert.ErrorIs(t, err, versioning.ErrCorruptVersion)

	assert.Equal(t, "A", f.liveDoc(t, 1).Get("name"))
	assert.Empty(t, f.rows(t))
}

func TestFindAndModify_AuditsAndReturnsUnstampedResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.live.Insert(ctx, document.New("_id", 1, "n", int32(1), versioning.VersionField, int32(4)))
	require.NoError(t, err)

	doc, found, err := f.coll.FindAndModify(document.New("_id", 1)).
		With(document.New("$inc", document.New("n", int32(1)))).
		ReturnNew().
		Result(ctx)
	require.NoError(t, err)
	require.True(t, found)

	// The result is the atomic outcome, before the version bump.
	assert.Equal(t, int32(2), doc.Get("n"))
	assert.Equal(t, int64(4), version(t, doc))

	live := f.liveDoc(t, 1)
	assert.Equal(t, int64(5), version(t, live))

	rows := f.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, int32(1), rows[0].Get("n"))
	assert.Equal(t, int64(5), version(t, rows[0]))
}

func TestFindAndModify_SortPicksTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.live.Insert(ctx,
		document.New("_id", 1, "rank", int32(1)),
		document.New("_id", 2, "rank", int32(9)),
	)
	require.NoError(t, err)

	doc, found, err := f.coll.FindAndModify(document.New()).
		Sort(document.New("rank", -1)).
		With(document.New("$set", document.New("top", true))).
		Result(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, doc.Get("_id"))

	rows := f.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Get(history.RefIDField))
	assert.False(t, f.liveDoc(t, 1).Has(versioning.VersionField))
}

func TestFindAndModify_OnlyModifiedDocumentIsAudited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.live.Insert(ctx,
		document.New("_id", 1, "group", "g", "name", "a"),
		document.New("_id", 2, "group", "g", "name", "b"),
	)
	require.NoError(t, err)

	// Both documents still match the filter after the write.
	doc, found, err := f.coll.FindAndModify(document.New("group", "g")).
		With(document.New("$set", document.New("seen", true))).
		Result(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, doc.Get("_id"))

	rows := f.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Get(history.RefIDField))
	assert.Equal(t, "a", rows[0].Get("name"))
	assert.False(t, rows[0].Has("seen"))

	assert.Equal(t, int64(1), version(t, f.liveDoc(t, 1)))
	other := f.liveDoc(t, 2)
	assert.False(t, other.Has(versioning.VersionField))
	assert.False(t, other.Has("seen"))
}

func TestFindAndModify_RemoveKeepsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.live.Insert(ctx, document.New("_id", 1, "name", "gone", versioning.VersionField, int32(2)))
	require.NoError(t, err)

	doc, found, err := f.coll.FindAndModify(document.New("_id", 1)).Remove().Result(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "gone", doc.Get("name"))

	n, err := f.coll.Count(ctx, document.New())
	require.NoError(t, err)
	assert.Zero(t, n)

	rows, err := f.coll.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "gone", rows[0].Get("name"))
	assert.Equal(t, int64(3), version(t, rows[0]))
}

func TestFindAndModify_Upsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	doc, found, err := f.coll.FindAndModify(document.New("name", "new")).
		With(document.New("$set", document.New("age", int32(1)))).
		Upsert().
		ReturnNew().
		Result(ctx)
	require.NoError(t, err)
	require.True(t, found)

	live := f.liveDoc(t, doc.Get("_id"))
	assert.Equal(t, int64(1), version(t, live))
	assert.Len(t, f.rows(t), 1)
}

func TestFindAndModify_NoMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	_, found, err := f.coll.FindAndModify(document.New("_id", 1)).
		With(document.New("$set", document.New("a", 1))).
		Result(ctx)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, f.rows(t))
}

func TestFindAndModify_NilModifier(t *testing.T) {
	f := newFixture(t, true)

	_, _, err := f.coll.FindAndModify(document.New()).Result(context.Background())
	assert.ErrorIs(t, err, ErrNilModifier)
}

func TestFindAndModify_Decode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.live.Insert(ctx, document.New("_id", "p1", "name", "A"))
	require.NoError(t, err)

	var out plain
	found, err := f.coll.FindAndModify(document.New("_id", "p1")).
		With(document.New("$set", document.New("name", "B"))).
		ReturnNew().
		Decode(ctx, &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, plain{ID: "p1", Name: "B"}, out)
}

type failingInsert struct {
	storage.Collection
	err error
}

func (f failingInsert) Insert(ctx context.Context, docs ...document.Document) (storage.WriteResult, error) {
	return storage.WriteResult{}, f.err
}

func TestSave_HistoryFailureSkipsLiveWrite(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	boom := errors.New("history down")
	coll := New(db.Collection("users"), WithHistory(failingInsert{Collection: db.Collection("users_history"), err: boom}))

	_, err := coll.Save(ctx, &plain{ID: "p1", Name: "A"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	stage, ok := StageOf(err)
	require.True(t, ok)
	assert.Equal(t, StageHistory, stage)

	n, err := db.Collection("users").Count(ctx, document.New())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSave_StoreErrorsKeepIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.coll.Insert(ctx, &plain{ID: "p1"})
	require.NoError(t, err)

	_, err = f.coll.Insert(ctx, &plain{ID: "p1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	stage, _ := StageOf(err)
	assert.Equal(t, StageWrite, stage)
}

func TestSave_MarshalError(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.coll.Save(context.Background(), &struct {
		ID string `bson:"_id"`
		Ch chan int
	}{Ch: make(chan int)})
	require.Error(t, err)
	stage, _ := StageOf(err)
	assert.Equal(t, StageMarshal, stage)
	assert.Empty(t, f.rows(t))
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	u := &user{Name: "v1"}
	for _, name := range []string{"v1", "v2", "v3"} {
		u.Name = name
		_, err := f.coll.Save(ctx, u)
		require.NoError(t, err)
	}

	rows, err := f.coll.History(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, int64(i+1), version(t, row))
	}

	_, err = newFixture(t, false).coll.History(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotAudited)
}

func TestReads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.live.Insert(ctx, document.New("_id", 1, "name", "a"), document.New("_id", 2, "name", "b"))
	require.NoError(t, err)

	assert.Equal(t, "users", f.coll.Name())
	assert.True(t, f.coll.Audited())

	doc, found, err := f.coll.FindID(ctx, 2)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "b", doc.Get("name"))

	_, found, err = f.coll.FindOne(ctx, document.New("name", "zzz"))
	require.NoError(t, err)
	assert.False(t, found)

	docs, err := f.coll.Find(ctx, document.New(), storage.FindOptions{Sort: document.New("name", -1)})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[0].Get("name"))

	res, err := f.coll.RemoveID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Deleted)
	assert.Empty(t, f.rows(t), "plain removal is not audited")

	_, _, err = f.coll.FindID(ctx, nil)
	assert.ErrorIs(t, err, ErrNilID)
}

func TestMetricsAndLogging(t *testing.T) {
	ctx := context.Background()
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	var buf bytes.Buffer
	logger := observability.NewLogger("debug", &buf)
	logger.SetLevel(logrus.DebugLevel)

	f := newFixture(t, true, WithMetrics(metrics), WithLogger(logger))
	_, err := f.coll.Save(ctx, &plain{Name: "A"})
	require.NoError(t, err)
	_, err = f.coll.Update(document.New()).With(ctx, nil)
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.OperationsTotal.WithLabelValues("users", "save", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.HistoryRowsTotal.WithLabelValues("users")))
	assert.Contains(t, buf.String(), `"op_id"`)
	assert.Contains(t, buf.String(), `"collection":"users"`)
}
