package internal

import (
	"fmt"
	"slices"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/lychee-technology/strata"
)

// StringColumn is a dictionary-encoded STRING column. The dictionary is sorted
// and unique; each row stores the dictionary id of its value.
type StringColumn struct {
	columnBase
	dictionary []string
	rows       []int32
	bitmaps    []*roaring.Bitmap
	closed     bool
}

// NewStringColumn validates the encoding and optionally builds one bitmap per
// dictionary entry.
func NewStringColumn(dictionary []string, rows []int32, buildBitmaps bool) (*StringColumn, error) {
	for i := 1; i < len(dictionary); i++ {
		if dictionary[i-1] >= dictionary[i] {
			return nil, strata.NewValidationError("dictionary",
				fmt.Sprintf("dictionary not sorted and unique at %d", i))
		}
	}
	for row, id := range rows {
		if id < 0 || int(id) >= len(dictionary) {
			return nil, strata.NewIndexOutOfRangeError(int(id), len(dictionary)).WithDetail("row", row)
		}
	}

	c := &StringColumn{
		columnBase: columnBase{caps: strata.ColumnCapabilities{
			Type:          strata.ValueTypeString,
			HasDictionary: true,
		}},
		dictionary: dictionary,
		rows:       rows,
	}
	if buildBitmaps {
		c.bitmaps = make([]*roaring.Bitmap, len(dictionary))
		for i := range c.bitmaps {
			c.bitmaps[i] = roaring.New()
		}
		for row, id := range rows {
			c.bitmaps[id].Add(uint32(row))
		}
		for _, bm := range c.bitmaps {
			bm.RunOptimize()
		}
		c.caps.HasBitmapIndex = true
	}
	return c, nil
}

// NewStringColumnFromValues dictionary-encodes values.
func NewStringColumnFromValues(values []string, buildBitmaps bool) (*StringColumn, error) {
	dictionary := slices.Clone(values)
	slices.Sort(dictionary)
	dictionary = slices.Compact(dictionary)

	rows := make([]int32, len(values))
	for i, v := range values {
		id, _ := slices.BinarySearch(dictionary, v)
		rows[i] = int32(id)
	}
	return NewStringColumn(dictionary, rows, buildBitmaps)
}

func (c *StringColumn) AsDictionary() (strata.DictionaryColumn, error) {
	if c.closed {
		return nil, strata.NewNotAvailableError("closed string column")
	}
	return &dictionaryView{dictionary: c.dictionary, rows: c.rows}, nil
}

func (c *StringColumn) AsBitmapIndex() (strata.BitmapIndex, error) {
	if c.bitmaps == nil {
		return c.columnBase.AsBitmapIndex()
	}
	if c.closed {
		return nil, strata.NewNotAvailableError("closed string column")
	}
	return &bitmapView{dictionary: c.dictionary, bitmaps: c.bitmaps}, nil
}

// Close drops the column's references. It runs only during segment eviction,
// after every reader has released the segment.
func (c *StringColumn) Close() error {
	c.closed = true
	c.dictionary = nil
	c.rows = nil
	c.bitmaps = nil
	return nil
}

type dictionaryView struct {
	dictionary []string
	rows       []int32
}

func (v *dictionaryView) Length() int { return len(v.rows) }

func (v *dictionaryView) Cardinality() int { return len(v.dictionary) }

func (v *dictionaryView) GetID(row int) (int, error) {
	if err := checkRow(row, len(v.rows)); err != nil {
		return 0, err
	}
	return int(v.rows[row]), nil
}

func (v *dictionaryView) LookupName(id int) (string, error) {
	if id < 0 || id >= len(v.dictionary) {
		return "", strata.NewIndexOutOfRangeError(id, len(v.dictionary))
	}
	return v.dictionary[id], nil
}

func (v *dictionaryView) LookupID(value string) int {
	return indexOf(v.dictionary, value)
}

func (v *dictionaryView) GetString(row int) (string, error) {
	id, err := v.GetID(row)
	if err != nil {
		return "", err
	}
	return v.dictionary[id], nil
}

type bitmapView struct {
	dictionary []string
	bitmaps    []*roaring.Bitmap
}

func (v *bitmapView) Cardinality() int { return len(v.dictionary) }

func (v *bitmapView) GetValue(idx int) (string, error) {
	if idx < 0 || idx >= len(v.dictionary) {
		return "", strata.NewIndexOutOfRangeError(idx, len(v.dictionary))
	}
	return v.dictionary[idx], nil
}

func (v *bitmapView) IndexOf(value string) int {
	return indexOf(v.dictionary, value)
}

// GetBitmap returns a copy so callers may mutate it.
func (v *bitmapView) GetBitmap(idx int) (*roaring.Bitmap, error) {
	if idx < 0 || idx >= len(v.bitmaps) {
		return nil, strata.NewIndexOutOfRangeError(idx, len(v.bitmaps))
	}
	return v.bitmaps[idx].Clone(), nil
}

func (v *bitmapView) Matching(value string) *roaring.Bitmap {
	idx := v.IndexOf(value)
	if idx < 0 {
		return roaring.New()
	}
	return v.bitmaps[idx].Clone()
}

func indexOf(dictionary []string, value string) int {
	i := sort.SearchStrings(dictionary, value)
	if i < len(dictionary) && dictionary[i] == value {
		return i
	}
	return -1
}
