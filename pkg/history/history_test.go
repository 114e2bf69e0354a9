package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/versioning"
)

var now = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

type recordingSink struct {
	rows []document.Document
	err  error
}

func (s *recordingSink) Insert(ctx context.Context, row document.Document) error {
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, row)
	return nil
}

func newCopier() *Copier {
	return NewCopier(&versioning.Stamper{Now: func() time.Time { return now }})
}

func TestName(t *testing.T) {
	assert.Equal(t, "users_history", Name("users"))
}

func TestCopy_NoSinkReturnsInputUnchanged(t *testing.T) {
	live := document.New("_id", 1, "name", "A", versioning.VersionField, int32(2))

	out, err := newCopier().Copy(context.Background(), live, nil)
	require.NoError(t, err)
	assert.Equal(t, live, out)
	assert.Equal(t, int32(2), live.Get(versioning.VersionField))
}

func TestCopy_WritesRowAndStampsLive(t *testing.T) {
	sink := &recordingSink{}
	live := document.New("_id", 1, "name", "A", versioning.VersionField, int32(2))

	out, err := newCopier().Copy(context.Background(), live, sink)
	require.NoError(t, err)

	require.Len(t, sink.rows, 1)
	row := sink.rows[0]
	assert.False(t, row.Has(document.IDField))
	assert.Equal(t, 1, row.Get(RefIDField))
	assert.Equal(t, "A", row.Get("name"))
	assert.Equal(t, int32(3), row.Get(versioning.VersionField))
	assert.Equal(t, now, row.Get(versioning.LastChangeField))

	stamped, ok := out.(document.Document)
	require.True(t, ok)
	assert.Equal(t, 1, stamped.Get(document.IDField))
	assert.Equal(t, int32(3), stamped.Get(versioning.VersionField))
	assert.Equal(t, now, stamped.Get(versioning.LastChangeField))

	// Field-equal apart from the identity swap.
	swapped := stamped.Clone()
	swapped.Rename(document.IDField, RefIDField)
	assert.Equal(t, row, swapped)

	// The caller's document is never mutated.
	assert.Equal(t, int32(2), live.Get(versioning.VersionField))
	assert.False(t, live.Has(versioning.LastChangeField))
}

func TestCopy_MaterializesLazyViews(t *testing.T) {
	data, err := bson.Marshal(bson.D{{Key: "name", Value: "A"}})
	require.NoError(t, err)
	raw, err := document.NewRawView(data)
	require.NoError(t, err)
	view := document.WithIdentity(raw, "doc-1")

	sink := &recordingSink{}
	out, err := newCopier().Copy(context.Background(), view, sink)
	require.NoError(t, err)

	stamped, ok := out.(document.Document)
	require.True(t, ok)
	assert.Equal(t, "doc-1", stamped.Get(document.IDField))
	assert.Equal(t, int32(1), stamped.Get(versioning.VersionField))
	assert.Equal(t, "doc-1", sink.rows[0].Get(RefIDField))
	assert.Equal(t, data, []byte(raw.Bytes()))
}

func TestCopy_SinkFailureStopsStamping(t *testing.T) {
	boom := errors.New("boom")
	sink := &recordingSink{err: boom}
	live := document.New("_id", 1)

	out, err := newCopier().Copy(context.Background(), live, sink)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, out)
	assert.False(t, live.Has(versioning.VersionField))
}

func TestCopy_CorruptVersionWritesNothing(t *testing.T) {
	sink := &recordingSink{}
	live := document.New("_id", 1, versioning.VersionField, "two")

	_, err := newCopier().Copy(context.Background(), live, sink)
	assert.ErrorIs(t, err, versioning.ErrCorruptVersion)
	assert.Empty(t, sink.rows)
}

func TestCopy_SinkFunc(t *testing.T) {
	var got document.Document
	sink := SinkFunc(func(ctx context.Context, row document.Document) error {
		got = row
		return nil
	})

	_, err := newCopier().Copy(context.Background(), document.New("_id", "x"), sink)
	require.NoError(t, err)
	assert.Equal(t, "x", got.Get(RefIDField))
}
