package internal

import (
	"testing"

	"github.com/lychee-technology/strata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSegmentManifest(t *testing.T) {
	raw := []byte(`{
		"segmentId": "2024-01-01/0",
		"rowCount": 3,
		"columns": [
			{"name": "clicks", "type": "long", "blob": "clicks.bin", "nulls": [1]},
			{"name": "price", "type": "FLOAT", "query": "SELECT price FROM t"},
			{"name": "country", "type": "string", "blob": "country.json", "bitmaps": false},
			{"name": "payload", "type": "complex", "blob": "payload.json", "typeName": "event"}
		]
	}`)

	m, err := ParseSegmentManifest(raw)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01/0", m.SegmentID)
	assert.Equal(t, 3, m.RowCount)
	require.Len(t, m.Columns, 4)
	assert.Equal(t, []uint32{1}, m.Columns[0].Nulls)
	require.NotNil(t, m.Columns[2].Bitmaps)
	assert.False(t, *m.Columns[2].Bitmaps)
	assert.Equal(t, "event", m.Columns[3].TypeName)
}

func TestParseSegmentManifestRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{`},
		{name: "missing columns", raw: `{"segmentId": "s", "rowCount": 1}`},
		{name: "negative rows", raw: `{"segmentId": "s", "rowCount": -1, "columns": []}`},
		{name: "unknown type", raw: `{"segmentId": "s", "rowCount": 1, "columns": [{"name": "a", "type": "date", "blob": "a"}]}`},
		{name: "unknown field", raw: `{"segmentId": "s", "rowCount": 1, "columns": [{"name": "a", "type": "long", "blob": "a", "codec": "zstd"}]}`},
		{name: "no source", raw: `{"segmentId": "s", "rowCount": 1, "columns": [{"name": "a", "type": "long"}]}`},
		{name: "duplicate", raw: `{"segmentId": "s", "rowCount": 1, "columns": [{"name": "a", "type": "long", "blob": "a"}, {"name": "a", "type": "long", "blob": "b"}]}`},
		{name: "string query", raw: `{"segmentId": "s", "rowCount": 1, "columns": [{"name": "a", "type": "string", "query": "SELECT 1"}]}`},
		{name: "complex nulls", raw: `{"segmentId": "s", "rowCount": 1, "columns": [{"name": "a", "type": "complex", "blob": "a", "nulls": [0]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSegmentManifest([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, strata.IsValidationError(err), "got %v", err)
		})
	}
}
