package strata

import (
	"github.com/RoaringBitmap/roaring"
)

// Column is the uniform handle query operators read a segment column through.
// Views a column does not expose come back as a nil view and ErrCapabilityMismatch.
type Column interface {
	Capabilities() ColumnCapabilities

	AsGeneric() (GenericColumn, error)
	AsDictionary() (DictionaryColumn, error)
	AsBitmapIndex() (BitmapIndex, error)
	AsComplex() (ComplexColumn, error)

	// Close releases the buffer the column owns. Views obtained earlier must not be used afterwards.
	Close() error
}

// GenericColumn gives primitive random access by row index.
type GenericColumn interface {
	Length() int
	GetLong(row int) (int64, error)
	GetFloat(row int) (float64, error)
	IsNull(row int) (bool, error)
	Close() error
}

// DictionaryColumn reads a string column through its sorted dictionary.
type DictionaryColumn interface {
	Length() int
	Cardinality() int
	GetID(row int) (int, error)
	LookupName(id int) (string, error)
	// LookupID returns -1 when value is not in the dictionary.
	LookupID(value string) int
	GetString(row int) (string, error)
}

// BitmapIndex maps each dictionary value to the set of rows holding it.
type BitmapIndex interface {
	Cardinality() int
	GetValue(idx int) (string, error)
	IndexOf(value string) int
	GetBitmap(idx int) (*roaring.Bitmap, error)
	// Matching returns an empty bitmap when value does not occur.
	Matching(value string) *roaring.Bitmap
}

// ComplexColumn retrieves opaque objects by row index.
type ComplexColumn interface {
	Length() int
	TypeName() string
	Get(row int) (any, error)
	Close() error
}

// IndexedLongs is an ordered sequence of int64 with O(1) positional access.
type IndexedLongs interface {
	Len() int
	Get(i int) int64
	Close() error
}

// IndexedFloats is an ordered sequence of float64 with O(1) positional access.
type IndexedFloats interface {
	Len() int
	Get(i int) float64
	Close() error
}

// Indexed is an ordered sequence of arbitrary values.
type Indexed[T any] interface {
	Len() int
	Get(i int) T
}

// LongsSupplier produces a fresh IndexedLongs per call. Implementations must be
// idempotent; deserialization happens here rather than at column construction.
type LongsSupplier func() (IndexedLongs, error)

// FloatsSupplier is the float counterpart of LongsSupplier.
type FloatsSupplier func() (IndexedFloats, error)
