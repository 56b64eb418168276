package internal

import (
	"sync/atomic"

	"github.com/lychee-technology/strata"
)

// LongArray is a slice-backed strata.IndexedLongs.
type LongArray struct {
	values []int64
	closed atomic.Bool
}

func NewLongArray(values []int64) *LongArray {
	return &LongArray{values: values}
}

func (a *LongArray) Len() int {
	if a.closed.Load() {
		return 0
	}
	return len(a.values)
}

func (a *LongArray) Get(i int) int64 { return a.values[i] }

func (a *LongArray) Close() error {
	a.closed.Store(true)
	return nil
}

// FloatArray is a slice-backed strata.IndexedFloats.
type FloatArray struct {
	values []float64
	closed atomic.Bool
}

func NewFloatArray(values []float64) *FloatArray {
	return &FloatArray{values: values}
}

func (a *FloatArray) Len() int {
	if a.closed.Load() {
		return 0
	}
	return len(a.values)
}

func (a *FloatArray) Get(i int) float64 { return a.values[i] }

func (a *FloatArray) Close() error {
	a.closed.Store(true)
	return nil
}

// ObjectArray is a slice-backed strata.Indexed. Get returns the stored value as is.
type ObjectArray[T any] struct {
	values []T
}

func NewObjectArray[T any](values []T) *ObjectArray[T] {
	return &ObjectArray[T]{values: values}
}

func (a *ObjectArray[T]) Len() int { return len(a.values) }

func (a *ObjectArray[T]) Get(i int) T { return a.values[i] }

// StaticLongs returns a supplier handing out views over the same values.
func StaticLongs(values []int64) strata.LongsSupplier {
	return func() (strata.IndexedLongs, error) {
		return NewLongArray(values), nil
	}
}

// StaticFloats returns a supplier handing out views over the same values.
func StaticFloats(values []float64) strata.FloatsSupplier {
	return func() (strata.IndexedFloats, error) {
		return NewFloatArray(values), nil
	}
}
