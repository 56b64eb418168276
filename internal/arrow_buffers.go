package internal

import (
	"sync"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// nullableBuffer is implemented by buffers that carry their own validity map.
type nullableBuffer interface {
	IsNull(i int) bool
	NullN() int
}

// ArrowLongs exposes an Arrow int64 array as strata.IndexedLongs. Null slots read as 0.
type ArrowLongs struct {
	arr  *array.Int64
	once sync.Once
}

// NewArrowLongs takes ownership of arr; Close releases it.
func NewArrowLongs(arr *array.Int64) *ArrowLongs {
	return &ArrowLongs{arr: arr}
}

// BuildArrowLongs copies values into a fresh Arrow array. valid may be nil, meaning all valid.
func BuildArrowLongs(mem memory.Allocator, values []int64, valid []bool) *ArrowLongs {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	builder := array.NewInt64Builder(mem)
	defer builder.Release()
	builder.AppendValues(values, valid)
	return NewArrowLongs(builder.NewInt64Array())
}

func (a *ArrowLongs) Len() int { return a.arr.Len() }

func (a *ArrowLongs) Get(i int) int64 {
	if a.arr.IsNull(i) {
		return 0
	}
	return a.arr.Value(i)
}

func (a *ArrowLongs) IsNull(i int) bool { return a.arr.IsNull(i) }

func (a *ArrowLongs) NullN() int { return a.arr.NullN() }

func (a *ArrowLongs) Close() error {
	a.once.Do(a.arr.Release)
	return nil
}

// ArrowFloats exposes an Arrow float64 array as strata.IndexedFloats.
type ArrowFloats struct {
	arr  *array.Float64
	once sync.Once
}

func NewArrowFloats(arr *array.Float64) *ArrowFloats {
	return &ArrowFloats{arr: arr}
}

// BuildArrowFloats copies values into a fresh Arrow array. valid may be nil.
func BuildArrowFloats(mem memory.Allocator, values []float64, valid []bool) *ArrowFloats {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	builder := array.NewFloat64Builder(mem)
	defer builder.Release()
	builder.AppendValues(values, valid)
	return NewArrowFloats(builder.NewFloat64Array())
}

func (a *ArrowFloats) Len() int { return a.arr.Len() }

func (a *ArrowFloats) Get(i int) float64 {
	if a.arr.IsNull(i) {
		return 0
	}
	return a.arr.Value(i)
}

func (a *ArrowFloats) IsNull(i int) bool { return a.arr.IsNull(i) }

func (a *ArrowFloats) NullN() int { return a.arr.NullN() }

func (a *ArrowFloats) Close() error {
	a.once.Do(a.arr.Release)
	return nil
}
