package internal

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/lychee-technology/strata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLongColumnRejectsOtherViews(t *testing.T) {
	col, err := NewLongColumn(StaticLongs([]int64{1, 2, 3}), nil)
	require.NoError(t, err)

	dict, err := col.AsDictionary()
	assert.Nil(t, dict)
	assert.True(t, strata.IsCapabilityMismatch(err))
	assert.Equal(t, strata.ValueTypeLong, col.Capabilities().Type)

	bm, err := col.AsBitmapIndex()
	assert.Nil(t, bm)
	assert.ErrorIs(t, err, strata.ErrCapabilityMismatch)

	cx, err := col.AsComplex()
	assert.Nil(t, cx)
	assert.ErrorIs(t, err, strata.ErrCapabilityMismatch)

	caps := col.Capabilities()
	assert.False(t, caps.HasDictionary)
	assert.False(t, caps.HasBitmapIndex)
	assert.False(t, caps.HasNulls)
}

func TestLongColumnGenericView(t *testing.T) {
	col, err := NewLongColumn(StaticLongs([]int64{5, -3, 12}), nil)
	require.NoError(t, err)

	view, err := col.AsGeneric()
	require.NoError(t, err)
	assert.Equal(t, 3, view.Length())

	v, err := view.GetLong(1)
	require.NoError(t, err)
	assert.Equal(t, int64(-3), v)

	f, err := view.GetFloat(2)
	require.NoError(t, err)
	assert.InDelta(t, 12.0, f, 1e-9)

	null, err := view.IsNull(0)
	require.NoError(t, err)
	assert.False(t, null)
}

func TestLongColumnOutOfRange(t *testing.T) {
	col, err := NewLongColumn(StaticLongs([]int64{1, 2}), nil)
	require.NoError(t, err)
	view, err := col.AsGeneric()
	require.NoError(t, err)

	for _, row := range []int{-1, 2, 100} {
		_, err := view.GetLong(row)
		assert.True(t, strata.IsOutOfRange(err), "row %d", row)
		_, err = view.IsNull(row)
		assert.True(t, strata.IsOutOfRange(err), "row %d", row)
	}
}

func TestLongColumnNilSupplier(t *testing.T) {
	col, err := NewLongColumn(nil, nil)
	assert.Nil(t, col)
	assert.True(t, strata.IsNotAvailable(err))
}

func TestLongColumnInvokesSupplierPerView(t *testing.T) {
	var calls atomic.Int32
	supplier := func() (strata.IndexedLongs, error) {
		calls.Add(1)
		return NewLongArray([]int64{1}), nil
	}
	col, err := NewLongColumn(supplier, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(0), calls.Load())

	_, err = col.AsGeneric()
	require.NoError(t, err)
	_, err = col.AsGeneric()
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	_, err = col.AsDictionary()
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLongColumnSupplierFailure(t *testing.T) {
	boom := errors.New("boom")
	col, err := NewLongColumn(func() (strata.IndexedLongs, error) { return nil, boom }, nil)
	require.NoError(t, err)
	view, err := col.AsGeneric()
	assert.Nil(t, view)
	assert.ErrorIs(t, err, boom)
}

func TestLongColumnCloseReleasesBuffers(t *testing.T) {
	col, err := NewLongColumn(StaticLongs([]int64{1, 2}), nil)
	require.NoError(t, err)
	view, err := col.AsGeneric()
	require.NoError(t, err)

	require.NoError(t, col.Close())
	require.NoError(t, col.Close())
	assert.Equal(t, 0, view.Length())

	_, err = col.AsGeneric()
	assert.True(t, strata.IsNotAvailable(err))
}

func TestLongColumnNullBitmap(t *testing.T) {
	nulls := roaring.BitmapOf(1)
	col, err := NewLongColumn(StaticLongs([]int64{4, 0, 6}), nulls)
	require.NoError(t, err)
	assert.True(t, col.Capabilities().HasNulls)

	view, err := col.AsGeneric()
	require.NoError(t, err)
	null, err := view.IsNull(1)
	require.NoError(t, err)
	assert.True(t, null)
	null, err = view.IsNull(2)
	require.NoError(t, err)
	assert.False(t, null)
}

func TestLongColumnArrowValidity(t *testing.T) {
	supplier := func() (strata.IndexedLongs, error) {
		return BuildArrowLongs(nil, []int64{1, 0}, []bool{true, false}), nil
	}
	col, err := NewLongColumn(supplier, nil)
	require.NoError(t, err)
	view, err := col.AsGeneric()
	require.NoError(t, err)
	defer view.Close()

	null, err := view.IsNull(1)
	require.NoError(t, err)
	assert.True(t, null)
}

func TestFloatColumnGenericView(t *testing.T) {
	col, err := NewFloatColumn(StaticFloats([]float64{1.9, -2.7}), nil)
	require.NoError(t, err)
	assert.Equal(t, strata.ValueTypeFloat, col.Capabilities().Type)

	view, err := col.AsGeneric()
	require.NoError(t, err)

	f, err := view.GetFloat(0)
	require.NoError(t, err)
	assert.InDelta(t, 1.9, f, 1e-9)

	l, err := view.GetLong(1)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), l)

	_, err = view.GetFloat(2)
	assert.True(t, strata.IsOutOfRange(err))

	_, err = col.AsDictionary()
	assert.True(t, strata.IsCapabilityMismatch(err))
}

func TestFloatColumnNilSupplier(t *testing.T) {
	_, err := NewFloatColumn(nil, nil)
	assert.True(t, strata.IsNotAvailable(err))
}

func TestLongColumnClosedViewsAreNotRetained(t *testing.T) {
	block, err := EncodeLongs([]int64{1, 2, 3, 4}, true)
	require.NoError(t, err)
	col, err := NewLongColumn(LZ4LongsSupplier(block), nil)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		view, err := col.AsGeneric()
		require.NoError(t, err)
		require.NoError(t, view.Close())
	}
	assert.Equal(t, 0, col.buffers.openCount())

	open, err := col.AsGeneric()
	require.NoError(t, err)
	assert.Equal(t, 1, col.buffers.openCount())
	require.NoError(t, col.Close())
	assert.Equal(t, 0, open.Length())
	require.NoError(t, open.Close())
}

func TestFloatColumnClosedViewsAreNotRetained(t *testing.T) {
	col, err := NewFloatColumn(StaticFloats([]float64{1.5}), nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		view, err := col.AsGeneric()
		require.NoError(t, err)
		require.NoError(t, view.Close())
	}
	assert.Equal(t, 0, col.buffers.openCount())
}
