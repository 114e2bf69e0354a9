package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/storage/codec"
)

func historyRows() []document.Document {
	changed := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	return []document.Document{
		document.New(
			"_id", bson.NewObjectID(),
			"_docId", 1,
			"name", "A",
			"_version", int32(2),
			"_lastChange", changed,
		),
		document.New(
			"_id", bson.NewObjectID(),
			"_docId", 1,
			"name", "B, with comma",
			"tags", bson.A{"x", "y"},
			"_version", int32(3),
			"_lastChange", changed.Add(time.Minute),
		),
	}
}

func TestExportJSON(t *testing.T) {
	rows := historyRows()

	data, err := Export(rows, ExportFormatJSON)
	require.NoError(t, err)

	var parsed []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.Len(t, parsed, 2)

	first, err := codec.Unmarshal(parsed[0])
	require.NoError(t, err)
	assert.Equal(t, rows[0].Get("_id"), first.Get("_id"))
	assert.Equal(t, int32(2), first.Get("_version"))
	assert.Equal(t, "A", first.Get("name"))
}

func TestExportJSONEmpty(t *testing.T) {
	data, err := Export(nil, ExportFormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestExportNDJSON(t *testing.T) {
	rows := historyRows()

	data, err := Export(rows, ExportFormatNDJSON)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	for i, line := range lines {
		doc, err := codec.Unmarshal([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, rows[i].Get("name"), doc.Get("name"))
		assert.Equal(t, rows[i].Get("_lastChange"), doc.Get("_lastChange"))
	}
}

func TestExportCSV(t *testing.T) {
	rows := historyRows()

	data, err := Export(rows, ExportFormatCSV)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{"_id", "_docId", "_version", "_lastChange", "name", "tags"}, records[0])
	assert.Equal(t, rows[0].Get("_id").(bson.ObjectID).Hex(), records[1][0])
	assert.Equal(t, "1", records[1][1])
	assert.Equal(t, "2", records[1][2])
	assert.Equal(t, "2024-02-03T04:05:06Z", records[1][3])
	assert.Equal(t, "A", records[1][4])
	assert.Equal(t, "", records[1][5])
	assert.Equal(t, "B, with comma", records[2][4])
	assert.Equal(t, `["x","y"]`, records[2][5])
}

func TestExportUnsupportedFormat(t *testing.T) {
	_, err := Export(historyRows(), ExportFormat("xml"))
	assert.Error(t, err)
}

func TestParseExportFormat(t *testing.T) {
	f, err := ParseExportFormat("NDJSON")
	require.NoError(t, err)
	assert.Equal(t, ExportFormatNDJSON, f)
	assert.Equal(t, "application/x-ndjson", f.ContentType())
	assert.Equal(t, "text/csv", ExportFormatCSV.ContentType())
	assert.Equal(t, "application/json", ExportFormatJSON.ContentType())

	_, err = ParseExportFormat("yaml")
	assert.Error(t, err)
}
