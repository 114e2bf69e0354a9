package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/storage"
)

func TestApply_Replacement(t *testing.T) {
	doc := document.New("_id", 1, "name", "A", "age", 3)

	err := Apply(&doc, document.New("_id", 2, "name", "B"), false)
	require.NoError(t, err)
	assert.Equal(t, document.New("_id", 1, "name", "B"), doc)
}

func TestApply_Operators(t *testing.T) {
	doc := document.New("_id", 1, "name", "A", "n", int32(1), "gone", true)

	err := Apply(&doc, document.New(
		"$set", document.New("name", "B", "address.city", "Oslo"),
		"$inc", document.New("n", int32(2), "fresh", int32(5)),
		"$unset", document.New("gone", ""),
		"$setOnInsert", document.New("created", true),
	), false)
	require.NoError(t, err)

	assert.Equal(t, "B", doc.Get("name"))
	assert.Equal(t, int32(3), doc.Get("n"))
	assert.Equal(t, int32(5), doc.Get("fresh"))
	assert.False(t, doc.Has("gone"))
	assert.False(t, doc.Has("created"))
	assert.Equal(t, bson.D{{Key: "city", Value: "Oslo"}}, doc.Get("address"))
}

func TestApply_SetOnInsert(t *testing.T) {
	doc := document.New()
	require.NoError(t, Apply(&doc, document.New("$setOnInsert", document.New("created", true)), true))
	assert.Equal(t, true, doc.Get("created"))
}

func TestApply_Errors(t *testing.T) {
	doc := document.New("_id", 1, "name", "A")

	err := Apply(&doc, document.New("$push", document.New("tags", "x")), false)
	assert.ErrorIs(t, err, storage.ErrUnsupportedOperator)

	err = Apply(&doc, document.New("$set", document.New("_id", 2)), false)
	assert.Error(t, err)

	err = Apply(&doc, document.New("$inc", document.New("name", 1)), false)
	assert.Error(t, err)

	err = Apply(&doc, document.New("$set", document.New("name.first", "x")), false)
	assert.Error(t, err)
}

func TestUpsertSeed(t *testing.T) {
	seed := UpsertSeed(document.New(
		"name", "A",
		"age", document.New("$gt", 3),
		"kind", document.New("$eq", "user"),
		"$or", bson.A{document.New("x", 1)},
	))
	assert.Equal(t, document.New("name", "A", "kind", "user"), seed)
}

func TestProject(t *testing.T) {
	doc := document.New("_id", 1, "a", 1, "b", 2, "c", 3)

	assert.Equal(t, document.New("_id", 1, "a", 1), Project(doc, document.New("a", 1)))
	assert.Equal(t, document.New("a", 1), Project(doc, document.New("a", 1, "_id", 0)))
	assert.Equal(t, document.New("_id", 1, "c", 3), Project(doc, document.New("a", 0, "b", 0)))
	assert.Equal(t, doc, Project(doc, nil))
}

func TestSort(t *testing.T) {
	docs := []document.Document{
		document.New("_id", 1, "v", int32(2), "n", "b"),
		document.New("_id", 2, "n", "a"),
		document.New("_id", 3, "v", int32(2), "n", "a"),
		document.New("_id", 4, "v", int32(5), "n", "c"),
	}

	Sort(docs, document.New("v", -1, "n", 1))

	var ids []any
	for _, d := range docs {
		ids = append(ids, d.Get("_id"))
	}
	assert.Equal(t, []any{4, 3, 1, 2}, ids)
}
