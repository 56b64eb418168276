package internal

import (
	"github.com/lychee-technology/strata"
)

// View names used in capability mismatch errors.
const (
	viewGeneric    = "generic"
	viewDictionary = "dictionary"
	viewBitmap     = "bitmap index"
	viewComplex    = "complex"
)

// columnBase answers every view with a capability mismatch. Concrete columns
// embed it and override the views they support.
type columnBase struct {
	caps strata.ColumnCapabilities
}

func (b *columnBase) Capabilities() strata.ColumnCapabilities {
	return b.caps
}

func (b *columnBase) AsGeneric() (strata.GenericColumn, error) {
	return nil, strata.NewCapabilityMismatchError(b.caps, viewGeneric)
}

func (b *columnBase) AsDictionary() (strata.DictionaryColumn, error) {
	return nil, strata.NewCapabilityMismatchError(b.caps, viewDictionary)
}

func (b *columnBase) AsBitmapIndex() (strata.BitmapIndex, error) {
	return nil, strata.NewCapabilityMismatchError(b.caps, viewBitmap)
}

func (b *columnBase) AsComplex() (strata.ComplexColumn, error) {
	return nil, strata.NewCapabilityMismatchError(b.caps, viewComplex)
}

func checkRow(row, length int) error {
	if row < 0 || row >= length {
		return strata.NewOutOfRangeError(row, length)
	}
	return nil
}
