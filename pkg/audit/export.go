package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/history"
	"github.com/platinummonkey/chronicle/pkg/storage/codec"
	"github.com/platinummonkey/chronicle/pkg/versioning"
)

// ExportFormat represents the format for exporting history rows
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// ParseExportFormat validates a format name.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(s)); f {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", s)
	}
}

// ContentType returns the MIME type of the format.
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// Export renders rows in the given format.
func Export(rows []document.Document, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON:
		return exportJSON(rows)
	case ExportFormatNDJSON:
		return exportNDJSON(rows)
	case ExportFormatCSV:
		return exportCSV(rows)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// exportJSON exports rows as an indented JSON array
func exportJSON(rows []document.Document) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		data, err := codec.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("failed to encode row: %w", err)
		}
		raw = append(raw, data)
	}
	return json.MarshalIndent(raw, "", "  ")
}

// exportNDJSON exports rows as newline-delimited JSON
func exportNDJSON(rows []document.Document) ([]byte, error) {
	var buf bytes.Buffer
	for _, row := range rows {
		data, err := codec.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("failed to encode row: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// exportCSV exports rows as CSV. The reserved fields lead, the remaining
// columns follow in first-seen order.
func exportCSV(rows []document.Document) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := csvColumns(rows)
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range rows {
		record := make([]string, len(header))
		for i, column := range header {
			value, err := formatValue(row.Get(column))
			if err != nil {
				return nil, fmt.Errorf("failed to format %s: %w", column, err)
			}
			record[i] = value
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

func csvColumns(rows []document.Document) []string {
	columns := []string{document.IDField, history.RefIDField, versioning.VersionField, versioning.LastChangeField}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		seen[c] = true
	}
	for _, row := range rows {
		for _, key := range row.Keys() {
			if !seen[key] {
				seen[key] = true
				columns = append(columns, key)
			}
		}
	}
	return columns
}

// formatValue renders a scalar as text and anything nested as relaxed
// Extended JSON.
func formatValue(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case bson.ObjectID:
		return t.Hex(), nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case bson.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano), nil
	default:
		data, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: v}}, false, false)
		if err != nil {
			return "", err
		}
		var wrapper struct {
			V json.RawMessage `json:"v"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return "", err
		}
		return string(wrapper.V), nil
	}
}
