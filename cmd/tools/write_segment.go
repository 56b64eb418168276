package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal"
)

// segmentInput is the JSON document write-segment reads.
//
//	{
//	  "segmentId": "day-2024-01-01",
//	  "columns": [{"name": "clicks", "type": "long"}, {"name": "country", "type": "string"}],
//	  "rows": [{"clicks": 10, "country": "us"}, {"clicks": null, "country": "de"}]
//	}
type segmentInput struct {
	SegmentID string               `json:"segmentId"`
	Columns   []segmentInputColumn `json:"columns"`
	Rows      []map[string]any     `json:"rows"`
}

type segmentInputColumn struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	TypeName string `json:"typeName,omitempty"`
}

func runWriteSegment(args []string) error {
	flags := flag.NewFlagSet("write-segment", flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: strata-tools write-segment -input <rows.json> -dir <segment> [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}

	var source segmentSource
	source.register(flags)
	input := flags.String("input", "", "JSON rows file (required)")
	compress := flags.Bool("compress", true, "LZ4-compress numeric blocks")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if *input == "" {
		return fmt.Errorf("-input is required")
	}

	raw, err := os.ReadFile(*input)
	if err != nil {
		return fmt.Errorf("read input(%s): %w", *input, err)
	}
	manifest, data, err := buildSegment(raw)
	if err != nil {
		return err
	}

	ctx := context.Background()
	loader, _, closeFn, err := source.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := loader.Write(ctx, source.dir, manifest, data, *compress); err != nil {
		return err
	}
	fmt.Printf("Wrote segment %s: %d rows, %d columns to %s\n",
		manifest.SegmentID, manifest.RowCount, len(manifest.Columns), source.dir)
	return nil
}

// buildSegment converts a rows document into a validated manifest and the
// column data SegmentLoader.Write encodes. Missing or null numeric values
// become nulls.
func buildSegment(raw []byte) (*internal.SegmentManifest, map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var in segmentInput
	if err := dec.Decode(&in); err != nil {
		return nil, nil, fmt.Errorf("parse input: %w", err)
	}
	if len(in.Columns) == 0 {
		return nil, nil, fmt.Errorf("input declares no columns")
	}

	if in.SegmentID == "" {
		in.SegmentID = uuid.NewString()
	}
	m := &internal.SegmentManifest{SegmentID: in.SegmentID, RowCount: len(in.Rows)}
	data := make(map[string]any, len(in.Columns))

	for _, c := range in.Columns {
		vt, err := strata.ParseValueType(c.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		mc := internal.ManifestColumn{Name: c.Name, Type: strings.ToLower(vt.String())}

		switch vt {
		case strata.ValueTypeLong:
			values := make([]int64, len(in.Rows))
			for i, row := range in.Rows {
				n, ok := row[c.Name].(json.Number)
				if !ok {
					if row[c.Name] != nil {
						return nil, nil, fmt.Errorf("column %s row %d: expected number, got %T", c.Name, i, row[c.Name])
					}
					mc.Nulls = append(mc.Nulls, uint32(i))
					continue
				}
				v, err := n.Int64()
				if err != nil {
					return nil, nil, fmt.Errorf("column %s row %d: %w", c.Name, i, err)
				}
				values[i] = v
			}
			mc.Blob = c.Name + ".bin"
			data[c.Name] = values

		case strata.ValueTypeFloat:
			values := make([]float64, len(in.Rows))
			for i, row := range in.Rows {
				n, ok := row[c.Name].(json.Number)
				if !ok {
					if row[c.Name] != nil {
						return nil, nil, fmt.Errorf("column %s row %d: expected number, got %T", c.Name, i, row[c.Name])
					}
					mc.Nulls = append(mc.Nulls, uint32(i))
					continue
				}
				v, err := n.Float64()
				if err != nil {
					return nil, nil, fmt.Errorf("column %s row %d: %w", c.Name, i, err)
				}
				values[i] = v
			}
			mc.Blob = c.Name + ".bin"
			data[c.Name] = values

		case strata.ValueTypeString:
			values := make([]string, len(in.Rows))
			for i, row := range in.Rows {
				switch v := row[c.Name].(type) {
				case nil:
				case string:
					values[i] = v
				default:
					return nil, nil, fmt.Errorf("column %s row %d: expected string, got %T", c.Name, i, v)
				}
			}
			mc.Blob = c.Name + ".json"
			data[c.Name] = values

		case strata.ValueTypeComplex:
			values := make([]any, len(in.Rows))
			for i, row := range in.Rows {
				values[i] = row[c.Name]
			}
			mc.Blob = c.Name + ".json"
			mc.TypeName = c.TypeName
			data[c.Name] = values
		}
		m.Columns = append(m.Columns, mc)
	}

	encoded, err := json.Marshal(m)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if _, err := internal.ParseSegmentManifest(encoded); err != nil {
		return nil, nil, err
	}
	return m, data, nil
}
