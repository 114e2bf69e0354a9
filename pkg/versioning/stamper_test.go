package versioning

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/chronicle/pkg/document"
)

var fixed = time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.UTC)

func fixedStamper() *Stamper {
	return &Stamper{Now: func() time.Time { return fixed }}
}

func TestStampDocument_StartsAtOne(t *testing.T) {
	doc := document.New("_id", 1, "name", "A")

	require.NoError(t, fixedStamper().StampDocument(&doc))

	assert.Equal(t, int32(1), doc.Get(VersionField))
	assert.Equal(t, fixed.Truncate(time.Millisecond), doc.Get(LastChangeField))
}

func TestStampDocument_Increments(t *testing.T) {
	tests := []struct {
		name    string
		current any
		want    any
	}{
		{"int32", int32(2), int32(3)},
		{"int64", int64(41), int32(42)},
		{"int", 7, int32(8)},
		{"integral float", float64(5), int32(6)},
		{"decimal string", "9", int32(10)},
		{"int32 overflow widens", int32(math.MaxInt32), int64(math.MaxInt32) + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := document.New("_id", 1, VersionField, tt.current, LastChangeField, time.Unix(0, 0))
			require.NoError(t, fixedStamper().StampDocument(&doc))
			assert.Equal(t, tt.want, doc.Get(VersionField))
			assert.Equal(t, fixed.Truncate(time.Millisecond), doc.Get(LastChangeField))
		})
	}
}

func TestStampDocument_CorruptVersion(t *testing.T) {
	for _, v := range []any{"abc", 1.5, true, document.New("n", 1), nil} {
		doc := document.New("_id", 1, VersionField, v)
		before := doc.Clone()

		err := fixedStamper().StampDocument(&doc)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCorruptVersion)
		var corrupt *CorruptVersionError
		require.ErrorAs(t, err, &corrupt)
		assert.Equal(t, v, corrupt.Value)
		assert.Equal(t, before, doc, "document must be untouched")
	}
}

func TestStampDocument_ZeroStamperUsesWallClock(t *testing.T) {
	var s Stamper
	doc := document.New()
	start := time.Now().UTC().Add(-time.Second)

	require.NoError(t, s.StampDocument(&doc))

	ts, ok := doc.Get(LastChangeField).(time.Time)
	require.True(t, ok)
	assert.True(t, ts.After(start))
}

type record struct {
	version *int
}

func (r *record) DocumentVersion() *int     { return r.version }
func (r *record) SetDocumentVersion(v *int) { r.version = v }

func TestStampRecord(t *testing.T) {
	r := &record{}
	s := fixedStamper()

	s.StampRecord(r)
	require.NotNil(t, r.version)
	assert.Equal(t, 1, *r.version)

	s.StampRecord(r)
	assert.Equal(t, 2, *r.version)
}

func TestFreeze(t *testing.T) {
	calls := 0
	s := &Stamper{Now: func() time.Time {
		calls++
		return fixed.Add(time.Duration(calls) * time.Second)
	}}
	frozen := s.Freeze()

	a, b := document.New(), document.New()
	require.NoError(t, frozen.StampDocument(&a))
	require.NoError(t, frozen.StampDocument(&b))

	assert.Equal(t, a.Get(LastChangeField), b.Get(LastChangeField))
	assert.Equal(t, 1, calls)
}

func TestVersion(t *testing.T) {
	n, ok, err := Version(document.New(VersionField, int32(4)))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(4), n)

	_, ok, err = Version(document.New())
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = Version(document.New(VersionField, "x"))
	assert.True(t, ok)
	assert.ErrorIs(t, err, ErrCorruptVersion)
}
