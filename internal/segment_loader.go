package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"
	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

// SegmentLoader turns a manifest and its blobs into a resident Segment.
type SegmentLoader struct {
	store        BlobStore
	duck         *DuckDBClient
	manifestName string
	buildBitmaps bool
}

// NewSegmentLoader creates a loader. duck may be nil, in which case columns
// declared with a query fail to load.
func NewSegmentLoader(store BlobStore, duck *DuckDBClient, manifestName string, buildBitmaps bool) *SegmentLoader {
	if manifestName == "" {
		manifestName = "manifest.json"
	}
	return &SegmentLoader{
		store:        store,
		duck:         duck,
		manifestName: manifestName,
		buildBitmaps: buildBitmaps,
	}
}

// Load reads <dir>/<manifestName> and every blob it references.
func (l *SegmentLoader) Load(ctx context.Context, dir string) (*Segment, error) {
	raw, err := l.store.Get(ctx, path.Join(dir, l.manifestName))
	if err != nil {
		return nil, fmt.Errorf("read segment manifest: %w", err)
	}
	m, err := ParseSegmentManifest(raw)
	if err != nil {
		return nil, err
	}
	return l.Build(ctx, dir, m)
}

// Build constructs column handles for an already parsed manifest. On failure
// any column built so far is closed.
func (l *SegmentLoader) Build(ctx context.Context, dir string, m *SegmentManifest) (*Segment, error) {
	segmentID := m.SegmentID
	if segmentID == "" {
		segmentID = uuid.NewString()
	}

	columns := make(map[string]strata.Column, len(m.Columns))
	order := make([]string, 0, len(m.Columns))
	cleanup := func() {
		for _, c := range columns {
			_ = c.Close()
		}
	}

	for _, mc := range m.Columns {
		col, err := l.buildColumn(ctx, dir, mc, m.RowCount)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("column %s: %w", mc.Name, err)
		}
		columns[mc.Name] = col
		order = append(order, mc.Name)
	}

	zap.S().Infow("segment loaded", "segment_id", segmentID, "rows", m.RowCount, "columns", len(order))
	return NewSegment(segmentID, m.RowCount, order, columns), nil
}

// buildColumn checks every length it can see before any supplier runs: null
// rows and blob value counts must agree with rowCount. Query columns are
// only sized when their query executes.
func (l *SegmentLoader) buildColumn(ctx context.Context, dir string, mc ManifestColumn, rowCount int) (strata.Column, error) {
	vt, err := strata.ParseValueType(mc.Type)
	if err != nil {
		return nil, err
	}

	var nulls *roaring.Bitmap
	if len(mc.Nulls) > 0 {
		nulls = roaring.BitmapOf(mc.Nulls...)
		if int(nulls.Maximum()) >= rowCount {
			return nil, invalidManifest(fmt.Sprintf("null row %d outside %d rows", nulls.Maximum(), rowCount), nil)
		}
	}

	switch vt {
	case strata.ValueTypeLong:
		if mc.Query != "" {
			if l.duck == nil {
				return nil, strata.NewNotAvailableError("duckdb client")
			}
			col, err := NewLongColumn(l.duck.LongsQuery(mc.Query), nulls)
			if err != nil {
				return nil, err
			}
			// SQL NULLs only show up once the query runs.
			col.caps.HasNulls = true
			return col, nil
		}
		block, err := l.numericBlock(ctx, dir, mc, rowCount)
		if err != nil {
			return nil, err
		}
		return NewLongColumn(LZ4LongsSupplier(block), nulls)

	case strata.ValueTypeFloat:
		if mc.Query != "" {
			if l.duck == nil {
				return nil, strata.NewNotAvailableError("duckdb client")
			}
			col, err := NewFloatColumn(l.duck.FloatsQuery(mc.Query), nulls)
			if err != nil {
				return nil, err
			}
			col.caps.HasNulls = true
			return col, nil
		}
		block, err := l.numericBlock(ctx, dir, mc, rowCount)
		if err != nil {
			return nil, err
		}
		return NewFloatColumn(LZ4FloatsSupplier(block), nulls)

	case strata.ValueTypeString:
		raw, err := l.store.Get(ctx, path.Join(dir, mc.Blob))
		if err != nil {
			return nil, err
		}
		var body StringColumnBlob
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, invalidManifest("string column blob", err)
		}
		if len(body.Rows) != rowCount {
			return nil, rowCountMismatch(mc.Name, len(body.Rows), rowCount)
		}
		buildBitmaps := l.buildBitmaps
		if mc.Bitmaps != nil {
			buildBitmaps = *mc.Bitmaps
		}
		return NewStringColumn(body.Dictionary, body.Rows, buildBitmaps)

	case strata.ValueTypeComplex:
		raw, err := l.store.Get(ctx, path.Join(dir, mc.Blob))
		if err != nil {
			return nil, err
		}
		var values []any
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, invalidManifest("complex column blob", err)
		}
		if len(values) != rowCount {
			return nil, rowCountMismatch(mc.Name, len(values), rowCount)
		}
		typeName := mc.TypeName
		if typeName == "" {
			typeName = "json"
		}
		return NewComplexColumn(typeName, NewObjectArray(values))
	}
	return nil, errors.New("unreachable value type")
}

func (l *SegmentLoader) numericBlock(ctx context.Context, dir string, mc ManifestColumn, rowCount int) ([]byte, error) {
	block, err := l.store.Get(ctx, path.Join(dir, mc.Blob))
	if err != nil {
		return nil, err
	}
	count, err := BlockCount(block)
	if err != nil {
		return nil, err
	}
	if count != rowCount {
		return nil, rowCountMismatch(mc.Name, count, rowCount)
	}
	return block, nil
}

func rowCountMismatch(column string, got, want int) *strata.StrataError {
	return invalidManifest(fmt.Sprintf("column %s holds %d rows, manifest declares %d", column, got, want), nil)
}

// Write encodes columns and stores them with a manifest below dir, in the
// layout Load reads. Numeric values become encoded blocks, strings dictionary blobs.
func (l *SegmentLoader) Write(ctx context.Context, dir string, m *SegmentManifest, data map[string]any, compress bool) error {
	for _, mc := range m.Columns {
		if mc.Blob == "" {
			continue
		}
		var blob []byte
		var err error
		switch v := data[mc.Name].(type) {
		case []int64:
			blob, err = EncodeLongs(v, compress)
		case []float64:
			blob, err = EncodeFloats(v, compress)
		case []string:
			var col *StringColumn
			col, err = NewStringColumnFromValues(v, false)
			if err == nil {
				blob, err = json.Marshal(StringColumnBlob{Dictionary: col.dictionary, Rows: col.rows})
			}
		case []any:
			blob, err = json.Marshal(v)
		default:
			return fmt.Errorf("column %s: unsupported data %T", mc.Name, v)
		}
		if err != nil {
			return fmt.Errorf("column %s: %w", mc.Name, err)
		}
		if err := l.store.Put(ctx, path.Join(dir, mc.Blob), blob); err != nil {
			return err
		}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return l.store.Put(ctx, path.Join(dir, l.manifestName), raw)
}
