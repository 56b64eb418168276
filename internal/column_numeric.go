package internal

import (
	"errors"
	"io"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

// bufferTracker holds the buffers of views that are still open so Close can
// release them. A view's own Close drops it from the tracker.
type bufferTracker struct {
	mu     sync.Mutex
	closed bool
	next   uint64
	open   map[uint64]io.Closer
}

// track registers c and returns the function that releases it. ok is false
// once the tracker has been closed.
func (t *bufferTracker) track(c io.Closer) (release func() error, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, false
	}
	if t.open == nil {
		t.open = make(map[uint64]io.Closer)
	}
	id := t.next
	t.next++
	t.open[id] = c
	return func() error {
		t.mu.Lock()
		delete(t.open, id)
		t.mu.Unlock()
		return c.Close()
	}, true
}

func (t *bufferTracker) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *bufferTracker) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

func (t *bufferTracker) closeAll() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	open := t.open
	t.open = nil
	t.mu.Unlock()

	var errs []error
	for _, c := range open {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LongColumn is a LONG column over a lazily materialized buffer.
type LongColumn struct {
	columnBase
	supplier strata.LongsSupplier
	nulls    *roaring.Bitmap
	buffers  bufferTracker
}

// NewLongColumn wraps supplier without invoking it. nulls may be nil.
func NewLongColumn(supplier strata.LongsSupplier, nulls *roaring.Bitmap) (*LongColumn, error) {
	if supplier == nil {
		return nil, strata.NewNotAvailableError("long buffer supplier")
	}
	return &LongColumn{
		columnBase: columnBase{caps: strata.ColumnCapabilities{
			Type:     strata.ValueTypeLong,
			HasNulls: nulls != nil && !nulls.IsEmpty(),
		}},
		supplier: supplier,
		nulls:    nulls,
	}, nil
}

// AsGeneric invokes the supplier and returns a view over the fresh buffer.
func (c *LongColumn) AsGeneric() (strata.GenericColumn, error) {
	if c.buffers.isClosed() {
		return nil, strata.NewNotAvailableError("closed long column")
	}
	buf, err := c.supplier()
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, strata.NewNotAvailableError("long buffer")
	}
	release, ok := c.buffers.track(buf)
	if !ok {
		_ = buf.Close()
		return nil, strata.NewNotAvailableError("closed long column")
	}
	return &longGeneric{buf: buf, nulls: c.nulls, release: release}, nil
}

func (c *LongColumn) Close() error {
	return c.buffers.closeAll()
}

type longGeneric struct {
	buf     strata.IndexedLongs
	nulls   *roaring.Bitmap
	release func() error
}

func (g *longGeneric) Length() int { return g.buf.Len() }

func (g *longGeneric) GetLong(row int) (int64, error) {
	if err := checkRow(row, g.buf.Len()); err != nil {
		return 0, err
	}
	return g.buf.Get(row), nil
}

func (g *longGeneric) GetFloat(row int) (float64, error) {
	v, err := g.GetLong(row)
	return float64(v), err
}

func (g *longGeneric) IsNull(row int) (bool, error) {
	if err := checkRow(row, g.buf.Len()); err != nil {
		return false, err
	}
	return isNullAt(g.buf, g.nulls, row), nil
}

func (g *longGeneric) Close() error { return g.release() }

// FloatColumn is a FLOAT column over a lazily materialized buffer.
type FloatColumn struct {
	columnBase
	supplier strata.FloatsSupplier
	nulls    *roaring.Bitmap
	buffers  bufferTracker
}

// NewFloatColumn wraps supplier without invoking it. nulls may be nil.
func NewFloatColumn(supplier strata.FloatsSupplier, nulls *roaring.Bitmap) (*FloatColumn, error) {
	if supplier == nil {
		return nil, strata.NewNotAvailableError("float buffer supplier")
	}
	return &FloatColumn{
		columnBase: columnBase{caps: strata.ColumnCapabilities{
			Type:     strata.ValueTypeFloat,
			HasNulls: nulls != nil && !nulls.IsEmpty(),
		}},
		supplier: supplier,
		nulls:    nulls,
	}, nil
}

func (c *FloatColumn) AsGeneric() (strata.GenericColumn, error) {
	if c.buffers.isClosed() {
		return nil, strata.NewNotAvailableError("closed float column")
	}
	buf, err := c.supplier()
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, strata.NewNotAvailableError("float buffer")
	}
	release, ok := c.buffers.track(buf)
	if !ok {
		_ = buf.Close()
		return nil, strata.NewNotAvailableError("closed float column")
	}
	return &floatGeneric{buf: buf, nulls: c.nulls, release: release}, nil
}

func (c *FloatColumn) Close() error {
	return c.buffers.closeAll()
}

type floatGeneric struct {
	buf     strata.IndexedFloats
	nulls   *roaring.Bitmap
	release func() error
}

func (g *floatGeneric) Length() int { return g.buf.Len() }

// GetLong truncates toward zero.
func (g *floatGeneric) GetLong(row int) (int64, error) {
	v, err := g.GetFloat(row)
	return int64(v), err
}

func (g *floatGeneric) GetFloat(row int) (float64, error) {
	if err := checkRow(row, g.buf.Len()); err != nil {
		return 0, err
	}
	return g.buf.Get(row), nil
}

func (g *floatGeneric) IsNull(row int) (bool, error) {
	if err := checkRow(row, g.buf.Len()); err != nil {
		return false, err
	}
	return isNullAt(g.buf, g.nulls, row), nil
}

func (g *floatGeneric) Close() error { return g.release() }

func isNullAt(buf any, nulls *roaring.Bitmap, row int) bool {
	if nulls != nil && nulls.Contains(uint32(row)) {
		return true
	}
	if nb, ok := buf.(nullableBuffer); ok && nb.NullN() > 0 {
		return nb.IsNull(row)
	}
	return false
}

// logSupplierFailure is used by suppliers that fetch remotely.
func logSupplierFailure(source string, err error) {
	zap.S().Warnw("column buffer supplier failed", "source", source, "err", err)
}
