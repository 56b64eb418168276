package internal

import (
	"context"
	"errors"
	"sync"

	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

// Segment is a loaded, immutable set of columns over one row range. Readers
// bracket their work with Acquire/Release; Evict waits for them before
// releasing column buffers.
type Segment struct {
	id       string
	rowCount int
	order    []string
	columns  map[string]strata.Column

	mu       sync.Mutex
	readers  int
	evicting bool
	closed   bool
	drained  chan struct{}
	close    sync.Once
	closeErr error
}

// NewSegment takes ownership of columns. order fixes the column listing order.
func NewSegment(id string, rowCount int, order []string, columns map[string]strata.Column) *Segment {
	return &Segment{
		id:       id,
		rowCount: rowCount,
		order:    order,
		columns:  columns,
		drained:  make(chan struct{}),
	}
}

func (s *Segment) ID() string { return s.id }

func (s *Segment) RowCount() int { return s.rowCount }

// ColumnNames lists columns in manifest order.
func (s *Segment) ColumnNames() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Acquire registers a reader. It fails once eviction has started.
func (s *Segment) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicting {
		return strata.NewSegmentEvictedError(s.id)
	}
	s.readers++
	return nil
}

// Release ends a lease taken with Acquire.
func (s *Segment) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readers == 0 {
		zap.S().Warnw("segment released without matching acquire", "segment_id", s.id)
		return
	}
	s.readers--
	if s.evicting && s.readers == 0 {
		close(s.drained)
	}
}

// Readers returns the number of active leases.
func (s *Segment) Readers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readers
}

// Column returns the named column handle. Readers holding a lease keep access
// while an eviction waits for them; lookups fail once the columns are closed.
func (s *Segment) Column(name string) (strata.Column, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, strata.NewSegmentEvictedError(s.id)
	}
	col, ok := s.columns[name]
	if !ok {
		return nil, strata.NewColumnNotFoundError(s.id, name)
	}
	return col, nil
}

// Evict rejects new readers, waits for active ones, then closes every column.
// If ctx ends first the segment stays closed to new readers and Evict may be
// called again.
func (s *Segment) Evict(ctx context.Context) error {
	s.mu.Lock()
	if !s.evicting {
		s.evicting = true
		if s.readers == 0 {
			close(s.drained)
		}
	}
	drained := s.drained
	readers := s.readers
	s.mu.Unlock()

	if readers > 0 {
		zap.S().Debugw("segment eviction waiting for readers", "segment_id", s.id, "readers", readers)
	}

	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.close.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		var errs []error
		for _, name := range s.order {
			if err := s.columns[name].Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
		zap.S().Infow("segment evicted", "segment_id", s.id, "columns", len(s.order))
	})
	return s.closeErr
}
