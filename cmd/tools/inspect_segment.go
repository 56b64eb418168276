package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal"
)

func runInspectSegment(args []string, out io.Writer) error {
	flags := flag.NewFlagSet("inspect-segment", flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: strata-tools inspect-segment -dir <segment> [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}

	var source segmentSource
	source.register(flags)
	rows := flags.Int("rows", 0, "rows to preview per column (0 uses the configured default)")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx := context.Background()
	loader, config, closeFn, err := source.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	preview := *rows
	if preview <= 0 {
		preview = config.Column.PreviewRows
	}

	seg, err := loader.Load(ctx, source.dir)
	if err != nil {
		return err
	}
	defer func() { _ = seg.Evict(ctx) }()

	return inspectSegment(out, seg, preview)
}

func inspectSegment(out io.Writer, seg *internal.Segment, preview int) error {
	if err := seg.Acquire(); err != nil {
		return err
	}
	defer seg.Release()

	fmt.Fprintf(out, "segment %s: %d rows, %d columns\n\n", seg.ID(), seg.RowCount(), len(seg.ColumnNames()))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tTYPE\tDICTIONARY\tBITMAP\tSPATIAL\tNULLS\tPREVIEW")
	for _, name := range seg.ColumnNames() {
		col, err := seg.Column(name)
		if err != nil {
			return err
		}
		caps := col.Capabilities()
		values, err := previewColumn(col, min(preview, seg.RowCount()))
		if err != nil {
			return fmt.Errorf("column %s: %w", name, err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%t\t%t\t%s\n",
			name, caps.Type, caps.HasDictionary, caps.HasBitmapIndex, caps.HasSpatialIndex, caps.HasNulls,
			strings.Join(values, ", "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, name := range seg.ColumnNames() {
		col, err := seg.Column(name)
		if err != nil {
			return err
		}
		if !col.Capabilities().HasBitmapIndex {
			continue
		}
		index, err := col.AsBitmapIndex()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nbitmap index %s (%d values)\n", name, index.Cardinality())
		for i := 0; i < min(index.Cardinality(), preview); i++ {
			value, err := index.GetValue(i)
			if err != nil {
				return err
			}
			bm, err := index.GetBitmap(i)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  %q: %d rows %v\n", value, bm.GetCardinality(), bm.ToArray())
		}
	}
	return nil
}

// previewColumn renders the first n rows through the access path the
// column's capabilities advertise.
func previewColumn(col strata.Column, n int) ([]string, error) {
	caps := col.Capabilities()
	out := make([]string, 0, n)

	switch {
	case caps.HasDictionary:
		dict, err := col.AsDictionary()
		if err != nil {
			return nil, err
		}
		for row := 0; row < n; row++ {
			s, err := dict.GetString(row)
			if err != nil {
				return nil, err
			}
			out = append(out, fmt.Sprintf("%q", s))
		}

	case caps.Type == strata.ValueTypeLong || caps.Type == strata.ValueTypeFloat:
		gen, err := col.AsGeneric()
		if err != nil {
			return nil, err
		}
		defer gen.Close()
		for row := 0; row < n; row++ {
			isNull, err := gen.IsNull(row)
			if err != nil {
				return nil, err
			}
			if isNull {
				out = append(out, "null")
				continue
			}
			if caps.Type == strata.ValueTypeLong {
				v, err := gen.GetLong(row)
				if err != nil {
					return nil, err
				}
				out = append(out, fmt.Sprintf("%d", v))
			} else {
				v, err := gen.GetFloat(row)
				if err != nil {
					return nil, err
				}
				out = append(out, fmt.Sprintf("%g", v))
			}
		}

	case caps.Type == strata.ValueTypeComplex:
		cx, err := col.AsComplex()
		if err != nil {
			return nil, err
		}
		for row := 0; row < n; row++ {
			v, err := cx.Get(row)
			if err != nil {
				return nil, err
			}
			raw, err := json.Marshal(v)
			if err != nil {
				raw = []byte(fmt.Sprintf("%v", v))
			}
			out = append(out, string(raw))
		}

	default:
		return nil, fmt.Errorf("no readable view for %s column", caps.Type)
	}
	return out, nil
}
