package internal

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/lychee-technology/strata"
)

// SegmentManifest describes the columns of one segment and where their data lives.
type SegmentManifest struct {
	SegmentID string           `json:"segmentId"`
	RowCount  int              `json:"rowCount"`
	Columns   []ManifestColumn `json:"columns"`
}

// ManifestColumn is one column entry. Numeric columns read an encoded block
// from Blob or run Query against DuckDB; string and complex columns read a JSON blob.
type ManifestColumn struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Blob     string   `json:"blob,omitempty"`
	Query    string   `json:"query,omitempty"`
	TypeName string   `json:"typeName,omitempty"`
	Nulls    []uint32 `json:"nulls,omitempty"`
	Bitmaps  *bool    `json:"bitmaps,omitempty"`
}

// StringColumnBlob is the JSON body of a string column blob.
type StringColumnBlob struct {
	Dictionary []string `json:"dictionary"`
	Rows       []int32  `json:"rows"`
}

const segmentManifestSchema = `{
  "type": "object",
  "required": ["segmentId", "rowCount", "columns"],
  "properties": {
    "segmentId": {"type": "string", "minLength": 1},
    "rowCount": {"type": "integer", "minimum": 0},
    "columns": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "type"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "type": {"enum": ["long", "float", "string", "complex", "LONG", "FLOAT", "STRING", "COMPLEX"]},
          "blob": {"type": "string"},
          "query": {"type": "string"},
          "typeName": {"type": "string"},
          "nulls": {"type": "array", "items": {"type": "integer", "minimum": 0}},
          "bitmaps": {"type": "boolean"}
        },
        "additionalProperties": false
      }
    }
  }
}`

var (
	manifestSchemaOnce sync.Once
	manifestSchema     *jsonschema.Resolved
	manifestSchemaErr  error
)

func resolvedManifestSchema() (*jsonschema.Resolved, error) {
	manifestSchemaOnce.Do(func() {
		var schema jsonschema.Schema
		if err := json.Unmarshal([]byte(segmentManifestSchema), &schema); err != nil {
			manifestSchemaErr = fmt.Errorf("failed to unmarshal manifest schema: %w", err)
			return
		}
		manifestSchema, manifestSchemaErr = schema.Resolve(&jsonschema.ResolveOptions{})
	})
	return manifestSchema, manifestSchemaErr
}

// ParseSegmentManifest validates raw against the manifest schema and decodes it.
func ParseSegmentManifest(raw []byte) (*SegmentManifest, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, invalidManifest("manifest is not valid JSON", err)
	}
	resolved, err := resolvedManifestSchema()
	if err != nil {
		return nil, strata.NewInternalError("manifest schema unavailable", err)
	}
	if err := resolved.Validate(doc); err != nil {
		return nil, invalidManifest("manifest failed schema validation", err)
	}

	var m SegmentManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, invalidManifest("manifest decode failed", err)
	}

	seen := make(map[string]struct{}, len(m.Columns))
	for _, col := range m.Columns {
		if _, dup := seen[col.Name]; dup {
			return nil, invalidManifest(fmt.Sprintf("duplicate column %q", col.Name), nil)
		}
		seen[col.Name] = struct{}{}
		vt, err := strata.ParseValueType(col.Type)
		if err != nil {
			return nil, err
		}
		numeric := vt == strata.ValueTypeLong || vt == strata.ValueTypeFloat
		switch {
		case col.Blob == "" && col.Query == "":
			return nil, invalidManifest(fmt.Sprintf("column %q needs blob or query", col.Name), nil)
		case col.Query != "" && !numeric:
			return nil, invalidManifest(fmt.Sprintf("column %q: query is only supported for long and float", col.Name), nil)
		case len(col.Nulls) > 0 && !numeric:
			return nil, invalidManifest(fmt.Sprintf("column %q: nulls are only supported for long and float", col.Name), nil)
		}
	}
	return &m, nil
}

func invalidManifest(msg string, cause error) *strata.StrataError {
	e := strata.NewStrataError(strata.ErrorTypeValidation, strata.ErrCodeInvalidManifest, msg)
	if cause != nil {
		e.WithCause(cause)
	}
	return e
}
